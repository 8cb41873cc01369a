package leaderboard

import (
	"context"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/session"
	"go.uber.org/zap"
)

// Archiver hands completed sessions to the store off the hub goroutine.
type Archiver struct {
	store    Store
	in       chan session.View
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

func NewArchiver(store Store, buffer int, logger *zap.Logger) *Archiver {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:    store,
		in:       make(chan session.View, buffer),
		attempts: 3,
		backoff:  500 * time.Millisecond,
		timeout:  5 * time.Second,
		log:      logger,
	}
}

// Archive queues v without blocking. A full buffer drops the record.
func (a *Archiver) Archive(v session.View) {
	select {
	case a.in <- v:
	default:
		a.log.Error("archive buffer full, dropping session",
			zap.String("session_id", v.State.ID), zap.Int64("seq", v.State.Sequence))
	}
}

// Run saves queued sessions until ctx is done, then flushes what is left.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flush()
			return nil
		case v := <-a.in:
			a.save(ctx, v)
		}
	}
}

func (a *Archiver) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	for {
		select {
		case v := <-a.in:
			a.save(ctx, v)
		default:
			return
		}
	}
}

func (a *Archiver) save(ctx context.Context, v session.View) {
	rec, ok := RecordFromView(v)
	if !ok {
		a.log.Warn("skipping session that has not completed", zap.String("session_id", v.State.ID))
		return
	}
	log := a.log.With(zap.String("session_id", rec.ID), zap.Int64("seq", rec.SequenceNumber))

	var err error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		sctx, cancel := context.WithTimeout(ctx, a.timeout)
		err = a.store.Save(sctx, rec)
		cancel()
		if err == nil {
			log.Info("session archived", zap.Int("total_players", rec.TotalPlayers), zap.Int("total_winners", rec.TotalWinners))
			return
		}
		log.Warn("archive attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}
	log.Error("failed to archive session", zap.Error(err))
}
