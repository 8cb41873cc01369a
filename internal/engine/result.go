package engine

import (
	crand "crypto/rand"
	"math/big"
	"time"
)

// RandomSource yields an int in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	IntN(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

func (CryptoSource) IntN(n int) int {
	v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand does not return read errors since Go 1.24.
		panic(err)
	}
	return int(v.Int64())
}

// FixedSource always draws the same offset.
type FixedSource int

func (f FixedSource) IntN(n int) int { return int(f) % n }

// FixedWinner returns a source that makes Draw return winning under r.
func FixedWinner(r Rules, winning int) FixedSource {
	return FixedSource(winning - r.MinNumber)
}

// Draw picks the winning number uniformly from the rules' closed interval.
func Draw(r Rules, src RandomSource) int {
	return r.MinNumber + src.IntN(r.MaxNumber-r.MinNumber+1)
}

type Result struct {
	SessionID     string
	Sequence      int64
	WinningNumber int
	Participants  []Participant
	Winners       []Participant
	StartedAt     time.Time
	CompletedAt   time.Time
}

func (r Result) TotalPlayers() int { return len(r.Participants) }
func (r Result) TotalWinners() int { return len(r.Winners) }

// ResultOf reports the result of a Completed round.
func ResultOf(s State) (Result, bool) {
	if s.Phase != PhaseCompleted || s.WinningNumber == nil {
		return Result{}, false
	}

	res := Result{
		SessionID:     s.ID,
		Sequence:      s.Sequence,
		WinningNumber: *s.WinningNumber,
		Participants:  s.Participants,
		Winners:       []Participant{},
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}
	for _, p := range s.Participants {
		if p.IsWinner {
			res.Winners = append(res.Winners, p)
		}
	}
	return res, true
}

func markWinners(participants []Participant, winning int) {
	for i := range participants {
		chosen := participants[i].ChosenNumber
		participants[i].IsWinner = chosen != nil && *chosen == winning
	}
}
