package engine

import (
	"errors"
	"time"
)

type Rules struct {
	MinNumber int
	MaxNumber int
	Capacity  int // 0 means unlimited
	Duration  time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MinNumber: 1,
		MaxNumber: 9,
		Capacity:  100,
		Duration:  30 * time.Second,
	}
}

// InRange checks the closed interval [MinNumber, MaxNumber].
func (r Rules) InRange(n int) bool {
	return n >= r.MinNumber && n <= r.MaxNumber
}

func (r Rules) Validate() error {
	if r.MinNumber > r.MaxNumber {
		return errors.New("min number is greater than max number")
	}
	if r.Capacity < 0 {
		return errors.New("capacity must not be negative")
	}
	if r.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}
