package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/auth"
	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type StatusSource interface {
	Status() types.SessionStatus
}

type Options struct {
	Buffer         int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
	Logger         *zap.Logger
}

func (o *Options) defaults() {
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 3 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Handler upgrades to a websocket and streams session events. Each connection
// gets a fresh status right away and again on every requestSessionStatus.
func Handler(b *broadcast.Broadcaster, status StatusSource, opts Options) http.HandlerFunc {
	opts.defaults()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(4096)

		clientID := uuid.NewString()
		log := opts.Logger.With(zap.String("client_id", clientID))
		if id, ok := auth.FromContext(r.Context()); ok {
			log = log.With(zap.String("user_id", id.UserID))
		}

		events := b.Subscribe(clientID, opts.Buffer)
		defer b.Unsubscribe(clientID)
		log.Debug("client connected")

		direct := make(chan types.ServerMessage, 4)
		pushStatus := func() {
			msg, err := types.NewServerMessage(types.EventSessionStatus, status.Status())
			if err != nil {
				return
			}
			offer(direct, msg)
		}
		pushStatus()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine
		go func() {
			defer cancel()
			ping := time.NewTicker(opts.PingInterval)
			defer ping.Stop()

			for {
				select {
				case <-ctx.Done():
					return

				case ev, ok := <-events:
					if !ok {
						// Dropped by the broadcaster; the client re-syncs on reconnect.
						_ = conn.Close(websocket.StatusTryAgainLater, "too slow")
						return
					}
					msg, err := ev.Message()
					if err != nil {
						log.Error("failed to encode event", zap.Error(err))
						continue
					}
					if err := write(ctx, conn, msg, opts.WriteTimeout); err != nil {
						return
					}

				case msg := <-direct:
					if err := write(ctx, conn, msg, opts.WriteTimeout); err != nil {
						return
					}

				case <-ping.C:
					pctx, pcancel := context.WithTimeout(ctx, opts.WriteTimeout)
					err := conn.Ping(pctx)
					pcancel()
					if err != nil {
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client disconnected")
				default:
					log.Debug("client read failed", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				offer(direct, types.ServerMessage{Type: types.EventError, Error: "bad json"})
				continue
			}

			switch cm.Type {
			case types.RequestSessionStatus:
				pushStatus()
			default:
				offer(direct, types.ServerMessage{Type: types.EventError, Error: "unknown type"})
			}
		}
	}
}

// offer never blocks the reader; a client flooding requests loses replies.
func offer(ch chan types.ServerMessage, msg types.ServerMessage) {
	select {
	case ch <- msg:
	default:
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage, timeout time.Duration) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}
