package types

import "time"

// SessionSnapshot is a point-in-time read of one round.
type SessionSnapshot struct {
	SessionID       string        `json:"sessionId"`
	SequenceNumber  int64         `json:"sequenceNumber"`
	Version         int64         `json:"version"`
	Phase           string        `json:"phase"`
	StartedAt       time.Time     `json:"startedAt"`
	DurationSeconds int           `json:"durationSeconds"`
	TimeLeft        int           `json:"timeLeft"`
	Participants    []Participant `json:"participants"`
}

// MySession outcomes.
const (
	MySessionActive    = "active"
	MySessionCompleted = "completed"
	MySessionNone      = "none"
)

// MySession is GET /game/my-session.
type MySession struct {
	Status           string           `json:"status"`
	Session          *SessionSnapshot `json:"session"`
	Participant      *Participant     `json:"participant"`
	Result           *GameResult      `json:"result"`
	Queued           bool             `json:"queued"`
	QueuePosition    int              `json:"queuePosition,omitempty"`
	HasActiveSession bool             `json:"hasActiveSession"`
}

type ChooseNumberRequest struct {
	Number *int `json:"number"`
}

type ChooseNumberResponse struct {
	SessionID    string `json:"sessionId"`
	ChosenNumber int    `json:"chosenNumber"`
}

type JoinResponse struct {
	SessionID        string `json:"sessionId,omitempty"`
	SequenceNumber   int64  `json:"sequenceNumber,omitempty"`
	Phase            string `json:"phase,omitempty"`
	TimeLeft         int    `json:"timeLeft"`
	ParticipantCount int    `json:"participantCount"`
	AlreadyJoined    bool   `json:"alreadyJoined"`
	Queued           bool   `json:"queued"`
	QueuePosition    int    `json:"queuePosition,omitempty"`
}

type LeaveResponse struct {
	Left      bool `json:"left"`
	FromQueue bool `json:"fromQueue"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
	Message       string `json:"message"`
	QueuePosition int    `json:"queuePosition,omitempty"`
}

// Leaderboard

type TopPlayer struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Wins       int    `json:"wins"`
	TotalGames int    `json:"totalGames"`
}

type SessionUser struct {
	Username string `json:"username"`
}

type SessionParticipant struct {
	User         SessionUser `json:"user"`
	IsWinner     bool        `json:"isWinner"`
	ChosenNumber *int        `json:"chosenNumber"`
}

type SessionSummary struct {
	ID            string               `json:"id"`
	SessionNumber int64                `json:"sessionNumber"`
	StartedAt     time.Time            `json:"startedAt"`
	WinningNumber int                  `json:"winningNumber"`
	Participants  []SessionParticipant `json:"participants"`
}

type PeriodWinner struct {
	Username string `json:"username"`
	Wins     int    `json:"wins"`
}

type UserStats struct {
	TotalWins   int    `json:"totalWins"`
	TotalLosses int    `json:"totalLosses"`
	TotalGames  int    `json:"totalGames"`
	WinRate     string `json:"winRate"`
}
