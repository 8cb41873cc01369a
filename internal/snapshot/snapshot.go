package snapshot

import (
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/internal/session"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/jonboulle/clockwork"
)

// Source is the read side of the session registry. Every method reads
// already published state.
type Source interface {
	CurrentView() (session.View, bool)
	LastCompleted() (session.View, bool)
	QueueLen() int
	QueuePosition(userID string) int
}

// Service answers pull queries. It never goes through a session actor.
type Service struct {
	src       Source
	clock     clockwork.Clock
	retention time.Duration
}

func New(src Source, clock clockwork.Clock, retention time.Duration) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{src: src, clock: clock, retention: retention}
}

// Status is the general session status. With no session running it
// describes the last completed one as inactive.
func (s *Service) Status() types.SessionStatus {
	now := s.clock.Now()
	queued := s.src.QueueLen()

	if v, ok := s.src.CurrentView(); ok {
		return v.Status(now, queued)
	}
	if last, ok := s.src.LastCompleted(); ok {
		st := last.Status(now, queued)
		st.Version++ // matches the idle status pushed after completion
		return st
	}
	return types.SessionStatus{QueueCount: queued}
}

// MySession resolves the caller's own session:
//   - an open or closing session containing the caller
//   - the latest completed session containing the caller, within retention
//   - nothing, with queue information
func (s *Service) MySession(userID string) types.MySession {
	now := s.clock.Now()
	out := types.MySession{Status: types.MySessionNone}
	if pos := s.src.QueuePosition(userID); pos > 0 {
		out.Queued = true
		out.QueuePosition = pos
	}

	cur, hasCur := s.src.CurrentView()
	if hasCur {
		out.HasActiveSession = cur.State.IsActive()
		if p, ok := cur.State.Participant(userID); ok {
			if cur.State.IsActive() {
				return active(out, cur, p, now)
			}
			return completed(out, cur, p, now)
		}
		if !cur.State.IsActive() {
			// cur finished but is not rotated yet; anything older is superseded.
			return out
		}
	}

	last, ok := s.src.LastCompleted()
	if !ok || !now.Before(last.State.CompletedAt.Add(s.retention)) {
		return out
	}
	if p, ok := last.State.Participant(userID); ok {
		return completed(out, last, p, now)
	}
	return out
}

// LatestResult returns the most recently completed result. It is kept until
// the next session completes.
func (s *Service) LatestResult() (types.GameResult, bool) {
	if v, ok := s.src.CurrentView(); ok {
		if res, ok := v.GameResult(); ok {
			return res, true
		}
	}
	if last, ok := s.src.LastCompleted(); ok {
		return last.GameResult()
	}
	return types.GameResult{}, false
}

func active(out types.MySession, v session.View, p engine.Participant, now time.Time) types.MySession {
	snap := v.Snapshot(now)
	part := session.ToParticipant(p)
	out.Status = types.MySessionActive
	out.Session = &snap
	out.Participant = &part
	return out
}

func completed(out types.MySession, v session.View, p engine.Participant, now time.Time) types.MySession {
	out = active(out, v, p, now)
	out.Status = types.MySessionCompleted
	if res, ok := v.GameResult(); ok {
		out.Result = &res
	}
	return out
}
