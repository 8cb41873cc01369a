package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a game error to its HTTP status.
func statusFor(e *engine.Error) int {
	switch {
	case e == engine.ErrNoActiveSession:
		return http.StatusNotFound
	case e == engine.ErrNotParticipant:
		return http.StatusForbidden
	case e.Kind == engine.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	gameErr, ok := engine.AsError(err)
	if !ok {
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:   "Internal",
			Message: "internal server error",
		})
		return
	}
	writeJSON(w, statusFor(gameErr), types.ErrorResponse{
		Error:   gameErr.Code,
		Kind:    string(gameErr.Kind),
		Message: err.Error(),
	})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "BadRequest", Message: msg})
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
