package engine

import (
	"math"
	"time"
)

func NewState(id string, seq int64, rules Rules, startedAt time.Time) State {
	return State{
		ID:           id,
		Sequence:     seq,
		Phase:        PhaseOpen,
		StartedAt:    startedAt,
		Rules:        rules,
		Participants: []Participant{},
	}
}

func (s State) Deadline() time.Time {
	return s.StartedAt.Add(s.Rules.Duration)
}

// TimeLeft is whole seconds until the deadline, rounded up and clamped at 0.
func (s State) TimeLeft(now time.Time) int {
	if s.Phase != PhaseOpen {
		return 0
	}
	remaining := s.Deadline().Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}

func (s State) Expired(now time.Time) bool {
	return !now.Before(s.Deadline())
}

func (s State) IndexOf(userID string) int {
	for i, p := range s.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (s State) Participant(userID string) (Participant, bool) {
	idx := s.IndexOf(userID)
	if idx < 0 {
		return Participant{}, false
	}
	return s.Participants[idx], true
}

func (s State) CanAdmit() bool  { return s.Phase == PhaseOpen }
func (s State) CanChoose() bool { return s.Phase == PhaseOpen }

func (s State) IsActive() bool {
	return s.Phase == PhaseOpen || s.Phase == PhaseClosing
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
