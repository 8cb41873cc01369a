// Package reconciler merges pushed events and pulled snapshots into the
// single phase a client displays.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Phase string

const (
	Idle           Phase = "idle"
	AwaitingChoice Phase = "awaitingChoice"
	AwaitingResult Phase = "awaitingResult"
	ShowingResult  Phase = "showingResult"
)

const (
	DefaultGraceWindow    = 5 * time.Second
	DefaultFallbackWindow = 5 * time.Second
	DefaultDisplayWindow  = 15 * time.Second
)

// Puller is the snapshot side of the server.
type Puller interface {
	MySession(ctx context.Context) (types.MySession, error)
	LatestResult(ctx context.Context) (*types.GameResult, error)
	Status(ctx context.Context) (types.SessionStatus, error)
}

type Config struct {
	Grace    time.Duration
	Fallback time.Duration
	Display  time.Duration
	Clock    clockwork.Clock
	Puller   Puller
	Logger   *zap.Logger
}

// State is what the client renders.
type State struct {
	Phase         Phase
	SessionID     string
	Sequence      int64
	Version       int64
	Chosen        *int
	Status        types.SessionStatus
	Result        *types.GameResult
	Queued        bool
	QueuePosition int
	// GaveUp is set when both fallback pulls came back empty.
	GaveUp bool
}

type Reconciler struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	st       State
	zeroAt   time.Time
	pulledAt time.Time
	shownAt  time.Time
	consumed int64
}

func New(cfg Config) *Reconciler {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGraceWindow
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultFallbackWindow
	}
	if cfg.Display <= 0 {
		cfg.Display = DefaultDisplayWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reconciler{cfg: cfg, log: cfg.Logger.Named("reconciler"), st: State{Phase: Idle}}
}

func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

func (r *Reconciler) now() time.Time { return r.cfg.Clock.Now() }

// Joined records the answer to POST /game/join.
func (r *Reconciler) Joined(resp types.JoinResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.st.Queued = resp.Queued
	r.st.QueuePosition = resp.QueuePosition
	if resp.Queued || resp.SessionID == "" {
		return
	}
	if resp.SessionID == r.st.SessionID && r.st.Phase != Idle {
		return
	}
	r.enter(resp.SessionID, resp.SequenceNumber, 0, nil)
}

// Chose records an accepted choice.
func (r *Reconciler) Chose(sessionID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != r.st.SessionID || r.st.Phase != AwaitingChoice {
		return
	}
	r.st.Chosen = &n
	r.st.Phase = AwaitingResult
}

// enter starts tracking a round. The server's stamp for it wins over what
// was seen before, which may be higher if the server restarted.
func (r *Reconciler) enter(sessionID string, seq, version int64, chosen *int) {
	if seq != r.st.Sequence {
		r.st.Sequence, r.st.Version = seq, version
	} else {
		r.st.Version = max(r.st.Version, version)
	}
	r.st.SessionID = sessionID
	r.st.Chosen = chosen
	r.st.Result = nil
	r.st.GaveUp = false
	r.st.Queued = false
	r.st.QueuePosition = 0
	r.st.Phase = AwaitingChoice
	if chosen != nil {
		r.st.Phase = AwaitingResult
	}
	r.zeroAt, r.pulledAt = time.Time{}, time.Time{}
}

// ApplyStatus applies a status push and reports whether it was newer than
// anything already applied.
func (r *Reconciler) ApplyStatus(s types.SessionStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyStatus(s)
}

func (r *Reconciler) applyStatus(s types.SessionStatus) bool {
	if !types.After(s.SequenceNumber, s.Version, r.st.Sequence, r.st.Version) {
		return false
	}
	r.st.Sequence, r.st.Version = s.SequenceNumber, s.Version
	r.st.Status = s

	if r.st.Phase != AwaitingChoice && r.st.Phase != AwaitingResult {
		return true
	}
	running := s.SessionID == r.st.SessionID && s.HasActiveSession && s.Phase == "open" && s.TimeLeft > 0
	if !running {
		r.st.Phase = AwaitingResult
		if r.zeroAt.IsZero() {
			r.zeroAt = r.now()
		}
	}
	return true
}

// ApplyResult applies a terminal result and reports whether it is now on
// screen. A result for the joined session supersedes any status of the same
// round, whatever its version.
func (r *Reconciler) ApplyResult(res types.GameResult) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyResult(res)
}

func (r *Reconciler) applyResult(res types.GameResult) bool {
	if types.After(res.SequenceNumber, res.Version, r.st.Sequence, r.st.Version) {
		r.st.Sequence, r.st.Version = res.SequenceNumber, res.Version
	}
	if res.SessionID == "" || res.SessionID != r.st.SessionID || res.SequenceNumber == r.consumed {
		return false
	}
	if r.st.Phase != AwaitingChoice && r.st.Phase != AwaitingResult {
		return false
	}
	r.st.Result = &res
	r.st.Phase = ShowingResult
	r.st.GaveUp = false
	r.shownAt = r.now()
	return true
}

// Apply dispatches one /ws envelope.
func (r *Reconciler) Apply(msg types.ServerMessage) error {
	switch msg.Type {
	case types.EventSessionStatus:
		var s types.SessionStatus
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		r.ApplyStatus(s)
	case types.EventGameResult:
		var res types.GameResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		r.ApplyResult(res)
	case types.EventError:
		r.log.Warn("server error", zap.String("error", msg.Error))
	default:
		r.log.Debug("ignoring message", zap.String("type", msg.Type))
	}
	return nil
}

type step int

const (
	stepNone step = iota
	stepPullResult
	stepPullStatus
)

// CheckDeadlines runs the grace, fallback and display windows. It pulls
// from the server when a window lapses.
func (r *Reconciler) CheckDeadlines(ctx context.Context) error {
	r.mu.Lock()
	now := r.now()
	next := stepNone
	switch r.st.Phase {
	case ShowingResult:
		if now.Sub(r.shownAt) >= r.cfg.Display {
			r.consumed = r.st.Result.SequenceNumber
			r.reset()
		}
	case AwaitingResult:
		switch {
		case r.zeroAt.IsZero():
		case r.pulledAt.IsZero() && now.Sub(r.zeroAt) >= r.cfg.Grace:
			next = stepPullResult
		case !r.pulledAt.IsZero() && now.Sub(r.pulledAt) >= r.cfg.Fallback:
			next = stepPullStatus
		}
	}
	r.mu.Unlock()

	switch next {
	case stepPullResult:
		return r.pullResult(ctx)
	case stepPullStatus:
		return r.pullStatus(ctx)
	}
	return nil
}

func (r *Reconciler) reset() {
	r.st.Phase = Idle
	r.st.SessionID = ""
	r.st.Chosen = nil
	r.st.Result = nil
	r.zeroAt, r.pulledAt, r.shownAt = time.Time{}, time.Time{}, time.Time{}
}

func (r *Reconciler) pullResult(ctx context.Context) error {
	res, err := r.cfg.Puller.LatestResult(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulledAt = r.now()
	if err != nil {
		r.log.Warn("latest-result pull failed", zap.Error(err))
		return err
	}
	if res != nil && r.applyResult(*res) {
		return nil
	}
	r.log.Debug("no result after grace window", zap.String("session_id", r.st.SessionID))
	return nil
}

func (r *Reconciler) pullStatus(ctx context.Context) error {
	s, err := r.cfg.Puller.Status(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st.Phase != AwaitingResult {
		return nil
	}
	r.log.Info("result unrecoverable, giving up", zap.String("session_id", r.st.SessionID))
	r.reset()
	r.st.GaveUp = true
	if err != nil {
		return err
	}
	r.adoptStatus(s)
	return nil
}

// Restore pulls the caller's own session after a (re)connect.
func (r *Reconciler) Restore(ctx context.Context) error {
	ms, err := r.cfg.Puller.MySession(ctx)
	if err != nil {
		return fmt.Errorf("my-session: %w", err)
	}

	r.mu.Lock()
	switch {
	case ms.Status == types.MySessionActive && ms.Session != nil:
		r.restoreActive(ms)
		r.mu.Unlock()
		return nil
	case ms.Status == types.MySessionCompleted && ms.Result != nil && ms.Result.SequenceNumber != r.consumed:
		if r.st.Phase != ShowingResult || r.st.Result.SessionID != ms.Result.SessionID {
			r.st.SessionID = ms.Result.SessionID
			r.st.Phase = AwaitingResult
			r.applyResult(*ms.Result)
		}
		r.mu.Unlock()
		return nil
	}
	r.reset()
	r.st.Queued = ms.Queued
	r.st.QueuePosition = ms.QueuePosition
	r.mu.Unlock()

	s, err := r.cfg.Puller.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adoptStatus(s)
	return nil
}

// adoptStatus applies a pulled status. Pulls read the server's current head,
// so a lower sequence than already seen means the server restarted.
func (r *Reconciler) adoptStatus(s types.SessionStatus) {
	if s.SequenceNumber < r.st.Sequence {
		r.st.Sequence, r.st.Version = s.SequenceNumber, s.Version
	}
	r.applyStatus(s)
	r.st.Status = s
}

func (r *Reconciler) restoreActive(ms types.MySession) {
	snap := ms.Session
	var chosen *int
	if ms.Participant != nil && ms.Participant.ChosenNumber != nil {
		n := *ms.Participant.ChosenNumber
		chosen = &n
	}
	if snap.SessionID != r.st.SessionID || r.st.Phase == Idle {
		r.enter(snap.SessionID, snap.SequenceNumber, snap.Version, chosen)
	} else {
		if chosen != nil {
			r.st.Chosen = chosen
			r.st.Phase = AwaitingResult
		}
		if types.After(snap.SequenceNumber, snap.Version, r.st.Sequence, r.st.Version) {
			r.st.Sequence, r.st.Version = snap.SequenceNumber, snap.Version
		}
	}
	if snap.Phase != "open" || snap.TimeLeft == 0 {
		r.st.Phase = AwaitingResult
		if r.zeroAt.IsZero() {
			r.zeroAt = r.now()
		}
	}
}

// Run checks deadlines every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := r.cfg.Clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := r.CheckDeadlines(ctx); err != nil {
				r.log.Debug("deadline check", zap.Error(err))
			}
		}
	}
}
