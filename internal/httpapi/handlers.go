package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/DoyleJ11/pick-a-number/internal/auth"
	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/internal/hub"
	"github.com/DoyleJ11/pick-a-number/internal/session"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Game is the write side of the session registry.
type Game interface {
	Join(ctx context.Context, userID, username string) (hub.JoinReply, error)
	Leave(ctx context.Context, userID string) (hub.LeaveReply, error)
	ChooseNumber(ctx context.Context, userID string, number int) (engine.Participant, session.View, error)
}

// Snapshots is the read side.
type Snapshots interface {
	Status() types.SessionStatus
	MySession(userID string) types.MySession
	LatestResult() (types.GameResult, bool)
}

type gameHandlers struct {
	game  Game
	snap  Snapshots
	clock clockwork.Clock
	log   *zap.Logger
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "Unauthorized", Message: "missing identity"})
	}
	return id, ok
}

// POST /game/join
func (h *gameHandlers) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	reply, err := h.game.Join(r.Context(), id.UserID, id.Username)
	if errors.Is(err, engine.ErrAlreadyQueued) {
		writeJSON(w, http.StatusConflict, types.ErrorResponse{
			Error:         engine.ErrAlreadyQueued.Code,
			Kind:          string(engine.KindConflict),
			Message:       err.Error(),
			QueuePosition: reply.Position,
		})
		return
	}
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	v := reply.View
	resp := types.JoinResponse{
		SessionID:        v.State.ID,
		SequenceNumber:   v.State.Sequence,
		Phase:            string(v.State.Phase),
		TimeLeft:         v.State.TimeLeft(h.clock.Now()),
		ParticipantCount: len(v.State.Participants),
		AlreadyJoined:    reply.AlreadyJoined,
		Queued:           reply.Queued,
		QueuePosition:    reply.Position,
	}
	status := http.StatusOK
	if reply.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// POST /game/choose-number
func (h *gameHandlers) ChooseNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req types.ChooseNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json body")
		return
	}
	if req.Number == nil {
		writeError(w, r, h.log, fmt.Errorf("%w: number is required", engine.ErrInvalidRange))
		return
	}

	p, v, err := h.game.ChooseNumber(r.Context(), id.UserID, *req.Number)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ChooseNumberResponse{
		SessionID:    v.State.ID,
		ChosenNumber: *p.ChosenNumber,
	})
}

// DELETE /game/leave
func (h *gameHandlers) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	reply, err := h.game.Leave(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, types.LeaveResponse{Left: reply.Left, FromQueue: reply.FromQueue})
}

// GET /game/status
func (h *gameHandlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snap.Status())
}

// GET /game/my-session
func (h *gameHandlers) MySession(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.snap.MySession(id.UserID))
}

// GET /game/latest-result returns the result or null.
func (h *gameHandlers) LatestResult(w http.ResponseWriter, r *http.Request) {
	res, ok := h.snap.LatestResult()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
