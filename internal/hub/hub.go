package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/internal/session"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type Join struct {
	UserID   string
	Username string
	Reply    chan JoinReply
}

type JoinReply struct {
	View          session.View
	AlreadyJoined bool
	Queued        bool
	Position      int
	Err           error
}

type Leave struct {
	UserID string
	Reply  chan LeaveReply
}

type LeaveReply struct {
	Left      bool
	FromQueue bool
	Err       error
}

type sessionCompleted struct {
	View session.View
}

type ShutdownHub struct{}

func (Join) isHubMsg()             {}
func (Leave) isHubMsg()            {}
func (sessionCompleted) isHubMsg() {}
func (ShutdownHub) isHubMsg()      {}

// Archiver takes completed sessions. Archive must not block.
type Archiver interface {
	Archive(v session.View)
}

type nopArchiver struct{}

func (nopArchiver) Archive(session.View) {}

type Config struct {
	Rules        engine.Rules
	TickInterval time.Duration
	Clock        clockwork.Clock
	Random       engine.RandomSource
	Publisher    session.Publisher
	Archiver     Archiver
	// StartSequence is the last sequence number already used; the first session gets StartSequence+1.
	StartSequence int64
	Logger        *zap.Logger
}

// SeedSequence picks a StartSequence for a process whose archive does not
// survive restarts. Boot time in milliseconds is above anything an earlier
// process could have used, since every round lasts at least a millisecond.
func SeedSequence(last int64, boot time.Time) int64 {
	return max(last, boot.UnixMilli())
}

// Hub is the session registry: at most one current session plus the
// admission queue. Joins, leaves and rotation go through its loop.
type Hub struct {
	inbox   chan HubMsg
	cfg     Config
	current *session.Session
	queue   *AdmissionQueue
	nextSeq int64
	log     *zap.Logger

	// Published for readers that must not go through the loop.
	cur           atomic.Pointer[session.Session]
	lastCompleted atomic.Pointer[session.View]
	queued        atomic.Pointer[[]QueueEntry]
	queueLen      atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Archiver == nil {
		cfg.Archiver = nopArchiver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		cfg:     cfg,
		queue:   NewAdmissionQueue(),
		nextSeq: cfg.StartSequence,
		log:     cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	h.publishQueue()
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- h.join(msg)

			case Leave:
				msg.Reply <- h.leave(msg)

			case sessionCompleted:
				h.completed(msg.View)

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) join(msg Join) JoinReply {
	if pos := h.queue.Position(msg.UserID); pos > 0 {
		return JoinReply{Queued: true, Position: pos, Err: engine.ErrAlreadyQueued}
	}

	if h.current == nil {
		h.open()
	}

	v, already, err := h.current.Admit(h.ctx, msg.UserID, msg.Username)
	switch {
	case err == nil:
		if !already {
			h.log.Debug("user admitted", zap.String("user_id", msg.UserID), zap.String("session_id", v.State.ID))
		}
		return JoinReply{View: v, AlreadyJoined: already}

	case errors.Is(err, engine.ErrSessionFull), errors.Is(err, engine.ErrSessionClosed):
		pos, _ := h.queue.Push(QueueEntry{UserID: msg.UserID, Username: msg.Username, EnqueuedAt: h.cfg.Clock.Now()})
		h.publishQueue()
		h.log.Info("user queued", zap.String("user_id", msg.UserID), zap.Int("position", pos), zap.Error(err))
		return JoinReply{View: h.current.View(), Queued: true, Position: pos}

	default:
		return JoinReply{Err: err}
	}
}

func (h *Hub) leave(msg Leave) LeaveReply {
	if h.queue.Remove(msg.UserID) {
		h.publishQueue()
		return LeaveReply{Left: true, FromQueue: true}
	}
	if h.current == nil {
		return LeaveReply{}
	}

	removed, err := h.current.Remove(h.ctx, msg.UserID)
	if errors.Is(err, engine.ErrSessionClosed) {
		// Closing or completed rounds keep their roster.
		return LeaveReply{}
	}
	if removed && h.queue.Len() > 0 {
		// the freed slot belongs to the head of the queue, not the next caller
		h.drain(h.current)
	}
	return LeaveReply{Left: removed, Err: err}
}

// open starts the next session and drains the queue into it.
func (h *Hub) open() {
	h.nextSeq++
	s := session.New(h.ctx, session.Config{
		ID:           uuid.NewString(),
		Sequence:     h.nextSeq,
		Rules:        h.cfg.Rules,
		TickInterval: h.cfg.TickInterval,
		Clock:        h.cfg.Clock,
		Random:       h.cfg.Random,
		Publisher:    h.cfg.Publisher,
		QueueLen:     h.QueueLen,
		OnComplete:   h.notifyCompleted,
		Logger:       h.log,
	})
	h.current = s
	h.cur.Store(s)
	h.log.Info("session opened", zap.String("session_id", s.ID()), zap.Int64("seq", s.Sequence()))
	h.drain(s)
}

// drain admits queued users into s in arrival order until s stops admitting.
func (h *Hub) drain(s *session.Session) {
	drained := 0
	for {
		e, ok := h.queue.Peek()
		if !ok {
			break
		}
		_, _, err := s.Admit(h.ctx, e.UserID, e.Username)
		if errors.Is(err, engine.ErrSessionFull) || errors.Is(err, engine.ErrSessionClosed) {
			break
		}
		h.queue.Pop()
		if err != nil {
			h.log.Warn("dropping queued user", zap.String("user_id", e.UserID), zap.Error(err))
			continue
		}
		drained++
	}
	if drained > 0 {
		h.publishQueue()
		h.log.Info("queue drained", zap.Int("admitted", drained), zap.Int("remaining", h.queue.Len()))
	}
}

// notifyCompleted runs on the session goroutine, so it hands off instead of
// waiting for the hub loop.
func (h *Hub) notifyCompleted(v session.View) {
	go func() {
		select {
		case h.inbox <- sessionCompleted{View: v}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) completed(v session.View) {
	if h.current == nil || h.current.ID() != v.State.ID {
		return
	}
	h.lastCompleted.Store(&v)
	h.cfg.Archiver.Archive(v)

	h.current.Stop()
	h.current = nil
	h.cur.Store(nil)

	if h.queue.Len() > 0 {
		h.open()
		return
	}

	// Nothing to open: tell subscribers the round is over and no session is active.
	if h.cfg.Publisher != nil {
		st := v.Status(h.cfg.Clock.Now(), 0)
		st.Version++
		h.cfg.Publisher.Publish(broadcast.StatusEvent(st))
	}
}

func (h *Hub) shutdown() {
	if h.current != nil {
		h.current.Stop()
		h.current = nil
		h.cur.Store(nil)
	}
}

func (h *Hub) publishQueue() {
	entries := h.queue.Entries()
	h.queued.Store(&entries)
	h.queueLen.Store(int64(len(entries)))
}

// Current returns the open or closing session, or nil.
func (h *Hub) Current() *session.Session { return h.cur.Load() }

func (h *Hub) CurrentView() (session.View, bool) {
	s := h.cur.Load()
	if s == nil {
		return session.View{}, false
	}
	return s.View(), true
}

// LastCompleted returns the most recently completed session.
func (h *Hub) LastCompleted() (session.View, bool) {
	v := h.lastCompleted.Load()
	if v == nil {
		return session.View{}, false
	}
	return *v, true
}

func (h *Hub) QueueLen() int { return int(h.queueLen.Load()) }

func (h *Hub) Queue() []QueueEntry { return *h.queued.Load() }

// QueuePosition is 1-based; 0 means not queued.
func (h *Hub) QueuePosition(userID string) int {
	for i, e := range h.Queue() {
		if e.UserID == userID {
			return i + 1
		}
	}
	return 0
}

func (h *Hub) Rules() engine.Rules { return h.cfg.Rules }

func (h *Hub) Join(ctx context.Context, userID, username string) (JoinReply, error) {
	r, err := request(ctx, h, func(reply chan JoinReply) HubMsg {
		return Join{UserID: userID, Username: username, Reply: reply}
	})
	if err != nil {
		return JoinReply{}, err
	}
	return r, r.Err
}

func (h *Hub) Leave(ctx context.Context, userID string) (LeaveReply, error) {
	r, err := request(ctx, h, func(reply chan LeaveReply) HubMsg {
		return Leave{UserID: userID, Reply: reply}
	})
	if err != nil {
		return LeaveReply{}, err
	}
	return r, r.Err
}

// ChooseNumber goes straight to the current session; the hub loop is not involved.
func (h *Hub) ChooseNumber(ctx context.Context, userID string, number int) (engine.Participant, session.View, error) {
	if !h.cfg.Rules.InRange(number) {
		return engine.Participant{}, session.View{}, engine.ErrInvalidRange
	}
	s := h.Current()
	if s == nil {
		return engine.Participant{}, session.View{}, engine.ErrNoActiveSession
	}
	p, err := s.ChooseNumber(ctx, userID, number)
	return p, s.View(), err
}

func (h *Hub) Close() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func request[R any](ctx context.Context, h *Hub, build func(chan R) HubMsg) (R, error) {
	var zero R
	reply := make(chan R, 1)

	select {
	case h.inbox <- build(reply):
	case <-h.ctx.Done():
		return zero, h.ctx.Err()
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-h.ctx.Done():
		return zero, h.ctx.Err()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
