package engine

import (
	"fmt"
	"slices"
	"time"
)

type Phase string

const (
	PhaseOpen      Phase = "open"
	PhaseClosing   Phase = "closing"
	PhaseCompleted Phase = "completed"
)

type Participant struct {
	UserID       string
	Username     string
	ChosenNumber *int
	JoinedAt     time.Time
	IsWinner     bool
}

// State is one round. Values are treated as immutable: Apply returns a copy.
type State struct {
	ID            string
	Sequence      int64
	Phase         Phase
	StartedAt     time.Time
	Rules         Rules
	Participants  []Participant // join order
	WinningNumber *int
	ClosedAt      time.Time
	CompletedAt   time.Time
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdChooseNumber CommandType = "ChooseNumber"
	CmdBeginClose   CommandType = "BeginClose"
	CmdResolve      CommandType = "Resolve"
)

/*
	CmdJoin         -> EvtParticipantJoined (nothing if already present)
	CmdLeave        -> EvtParticipantLeft (nothing if absent)
	CmdChooseNumber -> EvtNumberChosen
	CmdBeginClose   -> EvtSessionClosing
	CmdResolve      -> EvtSessionCompleted, Number carries the drawn winning number
*/

type Command struct {
	Type     CommandType
	UserID   string
	Username string
	Number   int
	At       time.Time
}

type EventType string

const (
	EvtParticipantJoined EventType = "ParticipantJoined"
	EvtParticipantLeft   EventType = "ParticipantLeft"
	EvtNumberChosen      EventType = "NumberChosen"
	EvtSessionClosing    EventType = "SessionClosing"
	EvtSessionCompleted  EventType = "SessionCompleted"
)

type Event struct {
	Type   EventType
	UserID string
	Number int
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdJoin:
		if !s.CanAdmit() {
			return nil, s, ErrSessionClosed
		}
		if s.IndexOf(cmd.UserID) >= 0 {
			return nil, s, nil
		}
		if s.Rules.Capacity > 0 && len(s.Participants) >= s.Rules.Capacity {
			return nil, s, ErrSessionFull
		}

		newState := s.clone()
		newState.Participants = append(newState.Participants, Participant{
			UserID:   cmd.UserID,
			Username: cmd.Username,
			JoinedAt: cmd.At,
		})
		return []Event{{Type: EvtParticipantJoined, UserID: cmd.UserID}}, newState, nil

	case CmdLeave:
		if !s.CanAdmit() {
			return nil, s, ErrSessionClosed
		}
		idx := s.IndexOf(cmd.UserID)
		if idx < 0 {
			return nil, s, nil
		}

		newState := s.clone()
		newState.Participants = slices.Delete(newState.Participants, idx, idx+1)
		return []Event{{Type: EvtParticipantLeft, UserID: cmd.UserID}}, newState, nil

	case CmdChooseNumber:
		// Validation and the write happen in the same call so a choice cannot
		// land after the phase has moved on.
		idx, err := ValidateChoice(s, cmd.UserID, cmd.Number)
		if err != nil {
			return nil, s, err
		}

		newState := s.clone()
		n := cmd.Number
		newState.Participants[idx].ChosenNumber = &n
		return []Event{{Type: EvtNumberChosen, UserID: cmd.UserID, Number: n}}, newState, nil

	case CmdBeginClose:
		if s.Phase != PhaseOpen {
			return nil, s, ErrSessionClosed
		}

		newState := s.clone()
		newState.Phase = PhaseClosing
		newState.ClosedAt = cmd.At
		return []Event{{Type: EvtSessionClosing}}, newState, nil

	case CmdResolve:
		// Only a Closing round can be resolved, so the winning number is assigned once.
		if s.Phase != PhaseClosing {
			return nil, s, ErrSessionClosed
		}
		if !s.Rules.InRange(cmd.Number) {
			return nil, s, fmt.Errorf("%w: drawn %d", ErrInvalidRange, cmd.Number)
		}

		newState := s.clone()
		winning := cmd.Number
		markWinners(newState.Participants, winning)
		newState.WinningNumber = &winning
		newState.Phase = PhaseCompleted
		newState.CompletedAt = cmd.At
		return []Event{{Type: EvtSessionCompleted, Number: winning}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// ValidateChoice reports whether userID may submit number in s and returns the
// participant's index when it may.
func ValidateChoice(s State, userID string, number int) (int, error) {
	if !s.Rules.InRange(number) {
		return -1, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidRange, number, s.Rules.MinNumber, s.Rules.MaxNumber)
	}
	if !s.CanChoose() {
		return -1, ErrSessionClosed
	}

	idx := s.IndexOf(userID)
	if idx < 0 {
		return -1, ErrNotParticipant
	}
	if s.Participants[idx].ChosenNumber != nil {
		return -1, ErrAlreadyChosen
	}
	return idx, nil
}

func (s State) clone() State {
	c := s
	c.Participants = slices.Clone(s.Participants)
	return c
}
