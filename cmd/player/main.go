// Command player joins one round as a given user, picks a number and follows
// the round until its result has been shown.
package main

import (
	"context"
	"errors"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/auth"
	"github.com/DoyleJ11/pick-a-number/internal/config"
	"github.com/DoyleJ11/pick-a-number/pkg/reconciler"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pollInterval = 250 * time.Millisecond

func main() {
	server := flag.String("server", "http://localhost:8080", "game server base URL")
	user := flag.String("user", "", "user id to play as")
	name := flag.String("name", "", "display name (defaults to the user id)")
	number := flag.Int("number", 0, "number to choose; 0 picks one at random")
	flag.Parse()

	if *user == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*server, *user, *name, *number); err != nil && !errors.Is(err, context.Canceled) {
		os.Stderr.WriteString("player: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(server, user, name string, number int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	if name == "" {
		name = user
	}
	if number == 0 {
		number = cfg.Rules.MinNumber + rand.IntN(cfg.Rules.MaxNumber-cfg.Rules.MinNumber+1)
	}

	token, err := auth.NewJWT(cfg.JWTSecret, time.Hour).Issue(auth.Identity{UserID: user, Username: name})
	if err != nil {
		return err
	}
	client := reconciler.NewClient(server, token)
	rec := reconciler.New(reconciler.Config{Puller: client, Logger: log})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jr, err := client.Join(ctx)
	if err != nil {
		return err
	}
	rec.Joined(jr)
	log.Info("joined", zap.String("session_id", jr.SessionID), zap.Bool("queued", jr.Queued),
		zap.Int("queue_position", jr.QueuePosition))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return rec.Follow(gctx, client.WebSocketURL(), client.Header()) })
	g.Go(func() error { return rec.Run(gctx, pollInterval) })
	g.Go(func() error {
		defer cancel()
		return play(gctx, log, client, rec, user, number)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// play submits the choice once admitted and returns after the result view ends.
func play(ctx context.Context, log *zap.Logger, client *reconciler.Client, rec *reconciler.Reconciler, user string, number int) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := reconciler.Phase("")
	shown := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st := rec.State()
		if st.Phase != last {
			log.Info("phase", zap.String("phase", string(st.Phase)), zap.String("session_id", st.SessionID))
			last = st.Phase
		}

		switch st.Phase {
		case reconciler.AwaitingChoice:
			if st.Chosen != nil {
				continue
			}
			resp, err := client.ChooseNumber(ctx, number)
			if err != nil {
				log.Warn("choose failed", zap.Error(err))
				continue
			}
			rec.Chose(resp.SessionID, resp.ChosenNumber)
			log.Info("chose", zap.Int("number", resp.ChosenNumber))
		case reconciler.ShowingResult:
			if !shown {
				shown = true
				res := st.Result
				won := slices.ContainsFunc(res.Winners, func(p types.Participant) bool { return p.UserID == user })
				log.Info("result",
					zap.Int("winning_number", res.WinningNumber),
					zap.Int("total_players", res.TotalPlayers),
					zap.Int("total_winners", res.TotalWinners),
					zap.Bool("won", won))
			}
		case reconciler.Idle:
			if shown || st.GaveUp {
				return nil
			}
			if !st.Queued {
				log.Info("not in any round", zap.Bool("session_open", st.Status.HasActiveSession))
				return nil
			}
			// admission happens server side when the next round opens
			if err := rec.Restore(ctx); err != nil {
				log.Warn("restore failed", zap.Error(err))
			}
		}
	}
}
