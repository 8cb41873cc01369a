package leaderboard

import (
	"fmt"
	"math"
	"time"

	"github.com/DoyleJ11/pick-a-number/internal/session"
	"github.com/DoyleJ11/pick-a-number/pkg/types"
)

// SessionRecord is the archived form of a completed round.
type SessionRecord struct {
	ID             string              `gorm:"primaryKey;size:36"`
	SequenceNumber int64               `gorm:"not null;uniqueIndex"`
	StartedAt      time.Time           `gorm:"not null"`
	CompletedAt    time.Time           `gorm:"not null;index"`
	WinningNumber  int                 `gorm:"not null"`
	TotalPlayers   int                 `gorm:"not null;default:0"`
	TotalWinners   int                 `gorm:"not null;default:0"`
	Participants   []ParticipantRecord `gorm:"foreignKey:SessionID"`
}

type ParticipantRecord struct {
	ID           uint      `gorm:"primaryKey"`
	SessionID    string    `gorm:"size:36;not null;uniqueIndex:idx_participant_session_user"`
	UserID       string    `gorm:"size:100;not null;index;uniqueIndex:idx_participant_session_user"`
	Username     string    `gorm:"size:100;not null"`
	ChosenNumber *int
	IsWinner     bool      `gorm:"not null;default:false"`
	JoinedAt     time.Time `gorm:"not null"`
}

// RecordFromView converts a completed session. ok is false for anything
// that has not completed.
func RecordFromView(v session.View) (SessionRecord, bool) {
	res, ok := v.Result()
	if !ok {
		return SessionRecord{}, false
	}
	rec := SessionRecord{
		ID:             res.SessionID,
		SequenceNumber: res.Sequence,
		StartedAt:      res.StartedAt,
		CompletedAt:    res.CompletedAt,
		WinningNumber:  res.WinningNumber,
		TotalPlayers:   res.TotalPlayers(),
		TotalWinners:   res.TotalWinners(),
		Participants:   make([]ParticipantRecord, 0, len(res.Participants)),
	}
	for _, p := range res.Participants {
		rec.Participants = append(rec.Participants, ParticipantRecord{
			SessionID:    res.SessionID,
			UserID:       p.UserID,
			Username:     p.Username,
			ChosenNumber: p.ChosenNumber,
			IsWinner:     p.IsWinner,
			JoinedAt:     p.JoinedAt,
		})
	}
	return rec, true
}

func (r SessionRecord) Summary() types.SessionSummary {
	out := types.SessionSummary{
		ID:            r.ID,
		SessionNumber: r.SequenceNumber,
		StartedAt:     r.StartedAt,
		WinningNumber: r.WinningNumber,
		Participants:  make([]types.SessionParticipant, 0, len(r.Participants)),
	}
	for _, p := range r.Participants {
		out.Participants = append(out.Participants, types.SessionParticipant{
			User:         types.SessionUser{Username: p.Username},
			IsWinner:     p.IsWinner,
			ChosenNumber: p.ChosenNumber,
		})
	}
	return out
}

func NewUserStats(wins, games int) types.UserStats {
	rate := 0
	if games > 0 {
		rate = int(math.Round(float64(wins) * 100 / float64(games)))
	}
	return types.UserStats{
		TotalWins:   wins,
		TotalLosses: games - wins,
		TotalGames:  games,
		WinRate:     fmt.Sprintf("%d%%", rate),
	}
}

// PeriodStart maps day, week and month to the start of the window ending at now.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "day":
		return now.AddDate(0, 0, -1), nil
	case "week":
		return now.AddDate(0, 0, -7), nil
	case "month":
		return now.AddDate(0, -1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown period %q", period)
	}
}
