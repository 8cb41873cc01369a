package broadcast

import (
	"sync"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"go.uber.org/zap"
)

// Event is one push. Status and Result point at values nobody mutates after publishing.
type Event struct {
	Type   string
	Status *types.SessionStatus
	Result *types.GameResult
}

func StatusEvent(s types.SessionStatus) Event {
	return Event{Type: types.EventSessionStatus, Status: &s}
}

func ResultEvent(r types.GameResult) Event {
	return Event{Type: types.EventGameResult, Result: &r}
}

// Message converts the event into its wire envelope.
func (e Event) Message() (types.ServerMessage, error) {
	switch e.Type {
	case types.EventGameResult:
		return types.NewServerMessage(e.Type, e.Result)
	default:
		return types.NewServerMessage(e.Type, e.Status)
	}
}

// Broadcaster fans events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full is dropped and its channel closed.
type Broadcaster struct {
	mu         sync.Mutex
	subs       map[string]chan Event
	lastStatus *Event
	lastResult *Event
	closed     bool
	log        *zap.Logger
}

func New(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs: make(map[string]chan Event),
		log:  logger,
	}
}

// Subscribe registers id with a buffer of the given size. The current status
// head, if any, is delivered immediately.
func (b *Broadcaster) Subscribe(id string, buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	b.subs[id] = ch
	if b.lastStatus != nil {
		ch <- *b.lastStatus
	}
	return ch
}

func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	switch ev.Type {
	case types.EventGameResult:
		b.lastResult = &ev
	case types.EventSessionStatus:
		b.lastStatus = &ev
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
			//ok
		default:
			// Subscriber is slow/full - drop them.
			close(ch)
			delete(b.subs, id)
			b.log.Warn("dropped slow subscriber", zap.String("subscriber_id", id), zap.String("event", ev.Type))
		}
	}
}

// Head returns the most recent status and result events.
func (b *Broadcaster) Head() (*types.SessionStatus, *types.GameResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var status *types.SessionStatus
	var result *types.GameResult
	if b.lastStatus != nil {
		status = b.lastStatus.Status
	}
	if b.lastResult != nil {
		result = b.lastResult.Result
	}
	return status, result
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.closed = true
}
