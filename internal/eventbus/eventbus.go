package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "game.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

func Connect(cfg Config, log *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("pick-a-number"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

type Source interface {
	Subscribe(id string, buffer int) <-chan broadcast.Event
	Unsubscribe(id string)
}

// Mirror copies every pushed event onto <prefix>.<eventType>.
type Mirror struct {
	pub    Publisher
	prefix string
	buffer int
	log    *zap.Logger
}

const subscriberID = "nats-mirror"

func NewMirror(pub Publisher, prefix string, buffer int, log *zap.Logger) *Mirror {
	if buffer <= 0 {
		buffer = 64
	}
	return &Mirror{pub: pub, prefix: prefix, buffer: buffer, log: log}
}

func (m *Mirror) Run(ctx context.Context, src Source) error {
	defer src.Unsubscribe(subscriberID)

	for {
		events := src.Subscribe(subscriberID, m.buffer)
		if err := m.drain(ctx, events); err != nil {
			return nil
		}
		// Dropped as a slow subscriber; resubscribe after a short pause.
		m.log.Warn("event mirror fell behind, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// drain returns ctx.Err() when the context ends and nil when events closes.
func (m *Mirror) drain(ctx context.Context, events <-chan broadcast.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.Publish(ev); err != nil {
				m.log.Warn("failed to mirror event", zap.String("event", ev.Type), zap.Error(err))
			}
		}
	}
}

func (m *Mirror) Publish(ev broadcast.Event) error {
	msg, err := ev.Message()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	header := nats.Header{}
	header.Set("Event-Type", ev.Type)
	switch {
	case ev.Status != nil:
		header.Set("Session-ID", ev.Status.SessionID)
		header.Set("Sequence", strconv.FormatInt(ev.Status.SequenceNumber, 10))
	case ev.Result != nil:
		header.Set("Session-ID", ev.Result.SessionID)
		header.Set("Sequence", strconv.FormatInt(ev.Result.SequenceNumber, 10))
	}

	return m.pub.PublishMsg(&nats.Msg{
		Subject: m.prefix + "." + ev.Type,
		Data:    data,
		Header:  header,
	})
}
