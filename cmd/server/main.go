package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/auth"
	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/DoyleJ11/pick-a-number/internal/config"
	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/internal/eventbus"
	"github.com/DoyleJ11/pick-a-number/internal/httpapi"
	"github.com/DoyleJ11/pick-a-number/internal/hub"
	"github.com/DoyleJ11/pick-a-number/internal/leaderboard"
	"github.com/DoyleJ11/pick-a-number/internal/snapshot"
	"github.com/DoyleJ11/pick-a-number/internal/ws"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	tokenTTL        = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		// the logger may not exist yet
		os.Stderr.WriteString("pick-a-number: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	if !cfg.EnvFileLoaded {
		log.Warn("no .env file found, using environment only")
	}
	if cfg.JWTSecret == config.DefaultJWTSecret {
		log.Warn("JWT_SECRET is the development default")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	lastSeq, err := store.LastSequence(ctx)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		// nothing archived survives a restart; never hand out a number twice
		lastSeq = hub.SeedSequence(lastSeq, clock.Now())
	}

	b := broadcast.New(log)
	archiver := leaderboard.NewArchiver(store, 64, log)

	h := hub.NewHub(ctx, hub.Config{
		Rules:         cfg.Rules,
		TickInterval:  cfg.TickInterval,
		Clock:         clock,
		Random:        engine.CryptoSource{},
		Publisher:     b,
		Archiver:      archiver,
		StartSequence: lastSeq,
		Logger:        log,
	})

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Game:        h,
		Snapshots:   snapshot.New(h, clock, cfg.ResultRetention),
		Leaderboard: store,
		Auth:        auth.NewJWT(cfg.JWTSecret, tokenTTL),
		Broadcaster: b,
		WS: ws.Options{
			Buffer:         cfg.SubscriberBuffer,
			OriginPatterns: cfg.CORSOrigins,
			Logger:         log,
		},
		CORSOrigins: cfg.CORSOrigins,
		Clock:       clock,
		Logger:      log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr),
			zap.Int("capacity", cfg.Rules.Capacity),
			zap.Duration("duration", cfg.Rules.Duration),
			zap.Int64("last_sequence", lastSeq))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return archiver.Run(gctx)
	})

	if cfg.NATSURL != "" {
		ncfg := eventbus.DefaultConfig()
		ncfg.URL = cfg.NATSURL
		ncfg.SubjectPrefix = cfg.NATSSubjectPrefix
		nc, err := eventbus.Connect(ncfg, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		mirror := eventbus.NewMirror(nc, ncfg.SubjectPrefix, cfg.SubscriberBuffer, log)
		g.Go(func() error {
			return mirror.Run(gctx, b)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Close()
		b.Close()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func openStore(cfg *config.Config, log *zap.Logger) (leaderboard.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, leaderboard is in memory only")
		return leaderboard.NewMemoryStore(), func() {}, nil
	}
	s, err := leaderboard.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			log.Error("close database", zap.Error(err))
		}
	}, nil
}
