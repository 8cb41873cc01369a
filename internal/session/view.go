package session

import (
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/engine"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
)

// View is the last published state of a session. Views are never mutated
// after publication, so readers don't go through the actor.
type View struct {
	Version int64
	State   engine.State
}

func (v View) Phase() engine.Phase { return v.State.Phase }

func (v View) Contains(userID string) bool { return v.State.IndexOf(userID) >= 0 }

func (v View) Result() (engine.Result, bool) { return engine.ResultOf(v.State) }

func (v View) Status(now time.Time, queueCount int) types.SessionStatus {
	return types.SessionStatus{
		HasActiveSession: v.State.IsActive(),
		Phase:            string(v.State.Phase),
		TimeLeft:         v.State.TimeLeft(now),
		ParticipantCount: len(v.State.Participants),
		QueueCount:       queueCount,
		SessionID:        v.State.ID,
		SequenceNumber:   v.State.Sequence,
		Version:          v.Version,
	}
}

func (v View) Snapshot(now time.Time) types.SessionSnapshot {
	return types.SessionSnapshot{
		SessionID:       v.State.ID,
		SequenceNumber:  v.State.Sequence,
		Version:         v.Version,
		Phase:           string(v.State.Phase),
		StartedAt:       v.State.StartedAt,
		DurationSeconds: int(v.State.Rules.Duration / time.Second),
		TimeLeft:        v.State.TimeLeft(now),
		Participants:    ToParticipants(v.State.Participants),
	}
}

// GameResult renders the result of a completed view.
func (v View) GameResult() (types.GameResult, bool) {
	res, ok := v.Result()
	if !ok {
		return types.GameResult{}, false
	}
	return types.GameResult{
		SessionID:      res.SessionID,
		SequenceNumber: res.Sequence,
		Version:        v.Version,
		WinningNumber:  res.WinningNumber,
		Participants:   ToParticipants(res.Participants),
		Winners:        ToParticipants(res.Winners),
		TotalPlayers:   res.TotalPlayers(),
		TotalWinners:   res.TotalWinners(),
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
	}, true
}

func ToParticipant(p engine.Participant) types.Participant {
	return types.Participant{
		UserID:       p.UserID,
		Username:     p.Username,
		ChosenNumber: p.ChosenNumber,
		JoinedAt:     p.JoinedAt,
		IsWinner:     p.IsWinner,
	}
}

func ToParticipants(ps []engine.Participant) []types.Participant {
	out := make([]types.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, ToParticipant(p))
	}
	return out
}
