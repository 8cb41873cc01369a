package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Msg interface{ isSessionMsg() }

type Admit struct {
	UserID   string
	Username string
	Reply    chan AdmitReply
}

func (Admit) isSessionMsg() {}

type AdmitReply struct {
	View          View
	AlreadyJoined bool
	Err           error
}

type Remove struct {
	UserID string
	Reply  chan RemoveReply
}

func (Remove) isSessionMsg() {}

type RemoveReply struct {
	Removed bool
	Err     error
}

type ChooseNumber struct {
	UserID string
	Number int
	Reply  chan ChooseReply
}

func (ChooseNumber) isSessionMsg() {}

type ChooseReply struct {
	Participant engine.Participant
	Err         error
}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type Publisher interface {
	Publish(ev broadcast.Event)
}

type Config struct {
	ID           string
	Sequence     int64
	Rules        engine.Rules
	TickInterval time.Duration
	Clock        clockwork.Clock
	Random       engine.RandomSource
	Publisher    Publisher
	// QueueLen is read on every status push; it must not block.
	QueueLen func() int
	// OnComplete runs on the actor goroutine once the round is Completed; it must not block.
	OnComplete func(View)
	Logger     *zap.Logger
}

// Session is the single writer of one round. Joins, leaves, choices and the
// close timer are all handled on its loop goroutine.
type Session struct {
	inbox   chan Msg
	state   engine.State
	version int64
	view    atomic.Pointer[View]

	clock      clockwork.Clock
	random     engine.RandomSource
	pub        Publisher
	queueLen   func() int
	onComplete func(View)
	log        *zap.Logger

	timer  clockwork.Timer
	ticker clockwork.Ticker
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

type nopPublisher struct{}

func (nopPublisher) Publish(broadcast.Event) {}

// New opens a session at the clock's current time and starts its loop.
func New(parent context.Context, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Random == nil {
		cfg.Random = engine.CryptoSource{}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.QueueLen == nil {
		cfg.QueueLen = func() int { return 0 }
	}
	if cfg.OnComplete == nil {
		cfg.OnComplete = func(View) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:      make(chan Msg, 64), // Small buffer
		state:      engine.NewState(cfg.ID, cfg.Sequence, cfg.Rules, cfg.Clock.Now()),
		clock:      cfg.Clock,
		random:     cfg.Random,
		pub:        cfg.Publisher,
		queueLen:   cfg.QueueLen,
		onComplete: cfg.OnComplete,
		log:        cfg.Logger.With(zap.String("session_id", cfg.ID), zap.Int64("seq", cfg.Sequence)),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	// Timers exist before New returns so a fake clock can be advanced right away.
	s.timer = s.clock.NewTimer(cfg.Rules.Duration)
	s.ticker = s.clock.NewTicker(cfg.TickInterval)
	s.publishStatus()

	go s.loop()
	return s
}

func (s *Session) loop() {
	timerC := s.timer.Chan()
	tickC := s.ticker.Chan()
	defer s.timer.Stop()
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-timerC:
			timerC = nil
			s.close()

		case <-tickC:
			if s.expired() {
				s.close()
			} else {
				s.publishStatus()
			}

		case m := <-s.inbox:
			if s.ctx.Err() != nil {
				return
			}
			// A request that arrives after the deadline sees the round closed,
			// even if the timer fire is still waiting in its channel.
			if s.expired() {
				s.close()
			}
			s.handle(m)
			if _, ok := m.(Shutdown); ok {
				return
			}
		}

		if s.state.Phase == engine.PhaseCompleted && tickC != nil {
			s.ticker.Stop()
			s.timer.Stop()
			tickC, timerC = nil, nil
		}
	}
}

func (s *Session) handle(m Msg) {
	now := s.clock.Now()

	switch msg := m.(type) {
	case Admit:
		events, next, err := engine.Apply(s.state, engine.Command{
			Type:     engine.CmdJoin,
			UserID:   msg.UserID,
			Username: msg.Username,
			At:       now,
		})
		if err != nil {
			msg.Reply <- AdmitReply{View: s.View(), Err: err}
			break
		}
		if len(events) == 0 {
			msg.Reply <- AdmitReply{View: s.View(), AlreadyJoined: true}
			break
		}
		v := s.commit(next)
		s.log.Debug("participant joined", zap.String("user_id", msg.UserID), zap.Int("participants", len(next.Participants)))
		msg.Reply <- AdmitReply{View: v}

	case Remove:
		events, next, err := engine.Apply(s.state, engine.Command{Type: engine.CmdLeave, UserID: msg.UserID, At: now})
		if err != nil {
			msg.Reply <- RemoveReply{Err: err}
			break
		}
		if len(events) > 0 {
			s.commit(next)
			s.log.Debug("participant left", zap.String("user_id", msg.UserID))
		}
		msg.Reply <- RemoveReply{Removed: len(events) > 0}

	case ChooseNumber:
		_, next, err := engine.Apply(s.state, engine.Command{
			Type:   engine.CmdChooseNumber,
			UserID: msg.UserID,
			Number: msg.Number,
			At:     now,
		})
		if err != nil {
			msg.Reply <- ChooseReply{Err: err}
			break
		}
		s.commit(next)
		p, _ := next.Participant(msg.UserID)
		msg.Reply <- ChooseReply{Participant: p}

	case GetState:
		msg.Reply <- s.View()

	case Shutdown:
		s.cancel()
	}
}

func (s *Session) expired() bool {
	return s.state.Phase == engine.PhaseOpen && s.state.Expired(s.clock.Now())
}

// close runs Open -> Closing -> Completed. The result becomes visible in one
// publication, together with the Completed phase.
func (s *Session) close() {
	now := s.clock.Now()

	_, closing, err := engine.Apply(s.state, engine.Command{Type: engine.CmdBeginClose, At: now})
	if err != nil {
		return
	}
	s.state = closing
	s.publishStatus()
	s.log.Info("session closing", zap.Int("participants", len(closing.Participants)))

	winning := engine.Draw(closing.Rules, s.random)
	_, completed, err := engine.Apply(closing, engine.Command{Type: engine.CmdResolve, Number: winning, At: now})
	if err != nil {
		s.log.Error("failed to resolve session", zap.Error(err))
		return
	}
	v := s.commit(completed)

	if res, ok := v.GameResult(); ok {
		s.pub.Publish(broadcast.ResultEvent(res))
		s.log.Info("session completed",
			zap.Int("winning_number", res.WinningNumber),
			zap.Int("total_players", res.TotalPlayers),
			zap.Int("total_winners", res.TotalWinners))
	}
	close(s.done)
	s.onComplete(v)
}

// commit installs next as the session state and publishes a new view.
func (s *Session) commit(next engine.State) View {
	s.state = next
	s.version++
	v := View{Version: s.version, State: next}
	s.view.Store(&v)
	return v
}

func (s *Session) publishStatus() {
	v := s.commit(s.state)
	s.pub.Publish(broadcast.StatusEvent(v.Status(s.clock.Now(), s.queueLen())))
}

// Expose the inbox so tests or the hub can send messages.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) ID() string      { return s.View().State.ID }
func (s *Session) Sequence() int64 { return s.View().State.Sequence }

// View returns the last published state without touching the actor.
func (s *Session) View() View { return *s.view.Load() }

// Done is closed once the round is Completed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Stop() { s.cancel() }

func (s *Session) Admit(ctx context.Context, userID, username string) (View, bool, error) {
	r, err := request(ctx, s, func(reply chan AdmitReply) Msg {
		return Admit{UserID: userID, Username: username, Reply: reply}
	})
	if err != nil {
		return View{}, false, err
	}
	return r.View, r.AlreadyJoined, r.Err
}

func (s *Session) Remove(ctx context.Context, userID string) (bool, error) {
	r, err := request(ctx, s, func(reply chan RemoveReply) Msg {
		return Remove{UserID: userID, Reply: reply}
	})
	if err != nil {
		return false, err
	}
	return r.Removed, r.Err
}

func (s *Session) ChooseNumber(ctx context.Context, userID string, number int) (engine.Participant, error) {
	r, err := request(ctx, s, func(reply chan ChooseReply) Msg {
		return ChooseNumber{UserID: userID, Number: number, Reply: reply}
	})
	if err != nil {
		return engine.Participant{}, err
	}
	return r.Participant, r.Err
}

// request sends a message built around a fresh reply channel and waits for
// the answer. A stopped session answers ErrSessionClosed.
func request[R any](ctx context.Context, s *Session, build func(chan R) Msg) (R, error) {
	var zero R
	if s.ctx.Err() != nil {
		return zero, engine.ErrSessionClosed
	}
	reply := make(chan R, 1)

	select {
	case s.inbox <- build(reply):
	case <-s.ctx.Done():
		return zero, engine.ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-s.ctx.Done():
		return zero, engine.ErrSessionClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
