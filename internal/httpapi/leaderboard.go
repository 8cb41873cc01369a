package httpapi

import (
	"net/http"
	"strconv"

	"github.com/DoyleJ11/pick-a-number/internal/leaderboard"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const maxLimit = 100

type leaderboardHandlers struct {
	store leaderboard.Store
	clock clockwork.Clock
	log   *zap.Logger
}

func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

// GET /leaderboard/top-players
func (h *leaderboardHandlers) TopPlayers(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.TopPlayers(r.Context(), limitParam(r, 10))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /leaderboard/sessions
func (h *leaderboardHandlers) Sessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.RecentSessions(r.Context(), limitParam(r, 20))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /leaderboard/winners?period=day|week|month
func (h *leaderboardHandlers) Winners(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "day"
	}
	since, err := leaderboard.PeriodStart(period, h.clock.Now())
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	out, err := h.store.WinnersSince(r.Context(), since, limitParam(r, 10))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /leaderboard/user-stats
func (h *leaderboardHandlers) UserStats(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	out, err := h.store.UserStats(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
