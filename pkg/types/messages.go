package types

import (
	"encoding/json"
	"time"
)

// Push event and client message types on /ws.
const (
	EventSessionStatus   = "sessionStatus"
	EventGameResult      = "gameResult"
	EventError           = "error"
	RequestSessionStatus = "requestSessionStatus"
)

// Client -> Server
type ClientMessage struct {
	Type string `json:"type"`
}

// Server -> Client
type ServerMessage struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

func NewServerMessage(typ string, data any) (ServerMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ServerMessage{}, err
	}
	return ServerMessage{Type: typ, Data: raw}, nil
}

// SessionStatus is pushed every tick while a round is Open or Closing and
// returned by GET /game/status.
type SessionStatus struct {
	HasActiveSession bool   `json:"hasActiveSession"`
	Phase            string `json:"phase,omitempty"`
	TimeLeft         int    `json:"timeLeft"`
	ParticipantCount int    `json:"participantCount"`
	QueueCount       int    `json:"queueCount"`
	SessionID        string `json:"sessionId,omitempty"`
	SequenceNumber   int64  `json:"sequenceNumber"`
	Version          int64  `json:"version"`
}

type Participant struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ChosenNumber *int      `json:"chosenNumber"`
	JoinedAt     time.Time `json:"joinedAt"`
	IsWinner     bool      `json:"isWinner"`
}

// GameResult is the terminal event of a round.
type GameResult struct {
	SessionID      string        `json:"sessionId"`
	SequenceNumber int64         `json:"sequenceNumber"`
	Version        int64         `json:"version"`
	WinningNumber  int           `json:"winningNumber"`
	Participants   []Participant `json:"participants"`
	Winners        []Participant `json:"winners"`
	TotalPlayers   int           `json:"totalPlayers"`
	TotalWinners   int           `json:"totalWinners"`
	StartedAt      time.Time     `json:"startedAt"`
	CompletedAt    time.Time     `json:"completedAt"`
}

// After reports whether a state stamped (seq, version) is newer than (otherSeq, otherVersion).
func After(seq, version, otherSeq, otherVersion int64) bool {
	if seq != otherSeq {
		return seq > otherSeq
	}
	return version > otherVersion
}
