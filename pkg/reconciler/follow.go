package reconciler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const reconnectDelay = 2 * time.Second

// Follow keeps a /ws subscription alive until ctx is done. Every
// (re)connect restores from the snapshot first, then subscribes and asks
// for a fresh status push.
func (r *Reconciler) Follow(ctx context.Context, wsURL string, header http.Header) error {
	for {
		err := r.followOnce(ctx, wsURL, header)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("push channel lost, reconnecting", zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.cfg.Clock.After(reconnectDelay):
		}
	}
}

func (r *Reconciler) followOnce(ctx context.Context, wsURL string, header http.Header) error {
	if err := r.Restore(ctx); err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, types.ClientMessage{Type: types.RequestSessionStatus}); err != nil {
		return err
	}

	for {
		var msg types.ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errors.New("server closed the connection")
			}
			return err
		}
		if err := r.Apply(msg); err != nil {
			r.log.Warn("bad push message", zap.Error(err))
		}
	}
}
