package httpapi

import (
	"net/http"

	"github.com/DoyleJ11/pick-a-number/internal/auth"
	"github.com/DoyleJ11/pick-a-number/internal/broadcast"
	"github.com/DoyleJ11/pick-a-number/internal/leaderboard"
	"github.com/DoyleJ11/pick-a-number/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Game        Game
	Snapshots   Snapshots
	Leaderboard leaderboard.Store
	Auth        auth.Authenticator
	Broadcaster *broadcast.Broadcaster
	WS          ws.Options
	CORSOrigins []string
	Clock       clockwork.Clock
	Logger      *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	game := &gameHandlers{game: d.Game, snap: d.Snapshots, clock: d.Clock, log: d.Logger}
	board := &leaderboardHandlers{store: d.Leaderboard, clock: d.Clock, log: d.Logger}
	requireAuth := auth.Middleware(d.Auth)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/game/status", game.Status)
	r.Get("/game/latest-result", game.LatestResult)
	r.Route("/leaderboard", func(r chi.Router) {
		r.Get("/top-players", board.TopPlayers)
		r.Get("/sessions", board.Sessions)
		r.Get("/winners", board.Winners)
		r.With(requireAuth).Get("/user-stats", board.UserStats)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Post("/game/join", game.Join)
		r.Post("/game/choose-number", game.ChooseNumber)
		r.Delete("/game/leave", game.Leave)
		r.Get("/game/my-session", game.MySession)
		r.Get("/ws", ws.Handler(d.Broadcaster, d.Snapshots, d.WS))
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
