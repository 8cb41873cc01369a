package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newOpenState(users ...string) State {
	s := NewState("s1", 1, DefaultRules(), t0)
	for _, u := range users {
		_, next, err := Apply(s, Command{Type: CmdJoin, UserID: u, Username: u, At: t0})
		if err != nil {
			panic(err)
		}
		s = next
	}
	return s
}

func mustApply(t *testing.T, s State, cmd Command) State {
	t.Helper()
	_, next, err := Apply(s, cmd)
	require.NoError(t, err)
	return next
}

func closeAndResolve(t *testing.T, s State, winning int) State {
	t.Helper()
	s = mustApply(t, s, Command{Type: CmdBeginClose, At: t0.Add(s.Rules.Duration)})
	return mustApply(t, s, Command{Type: CmdResolve, Number: winning, At: t0.Add(s.Rules.Duration)})
}

func TestChooseNumberIsRejected(t *testing.T) {
	five := 5
	cases := []struct {
		name    string
		setup   State
		cmd     Command
		wantErr error
	}{
		{
			name:    "below lower bound",
			setup:   newOpenState("a"),
			cmd:     Command{Type: CmdChooseNumber, UserID: "a", Number: 0},
			wantErr: ErrInvalidRange,
		},
		{
			name:    "above upper bound",
			setup:   newOpenState("a"),
			cmd:     Command{Type: CmdChooseNumber, UserID: "a", Number: 10},
			wantErr: ErrInvalidRange,
		},
		{
			name:    "not a participant",
			setup:   newOpenState("a"),
			cmd:     Command{Type: CmdChooseNumber, UserID: "b", Number: 3},
			wantErr: ErrNotParticipant,
		},
		{
			name: "already chosen",
			setup: func() State {
				s := newOpenState("a")
				s.Participants[0].ChosenNumber = &five
				return s
			}(),
			cmd:     Command{Type: CmdChooseNumber, UserID: "a", Number: 5},
			wantErr: ErrAlreadyChosen,
		},
		{
			name: "session closing",
			setup: func() State {
				s := newOpenState("a")
				s.Phase = PhaseClosing
				return s
			}(),
			cmd:     Command{Type: CmdChooseNumber, UserID: "a", Number: 3},
			wantErr: ErrSessionClosed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.setup, tc.cmd)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, events)
			assert.Equal(t, tc.setup, next)
		})
	}
}

func TestChooseNumberBoundsAccepted(t *testing.T) {
	r := DefaultRules()
	for _, n := range []int{r.MinNumber, r.MaxNumber} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			s := newOpenState("a")
			events, next, err := Apply(s, Command{Type: CmdChooseNumber, UserID: "a", Number: n})
			require.NoError(t, err)
			require.True(t, ContainsEvent(events, EvtNumberChosen))
			require.NotNil(t, next.Participants[0].ChosenNumber)
			assert.Equal(t, n, *next.Participants[0].ChosenNumber)
		})
	}
}

func TestChooseNumberIsWriteOnce(t *testing.T) {
	s := mustApply(t, newOpenState("a"), Command{Type: CmdChooseNumber, UserID: "a", Number: 4})

	for n := 1; n <= 9; n++ {
		_, next, err := Apply(s, Command{Type: CmdChooseNumber, UserID: "a", Number: n})
		require.ErrorIs(t, err, ErrAlreadyChosen)
		assert.Equal(t, 4, *next.Participants[0].ChosenNumber)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := newOpenState("a", "b")
	_ = mustApply(t, s, Command{Type: CmdChooseNumber, UserID: "a", Number: 2})
	_ = mustApply(t, s, Command{Type: CmdLeave, UserID: "b"})

	assert.Nil(t, s.Participants[0].ChosenNumber)
	assert.Len(t, s.Participants, 2)
}

func TestJoin(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s := newOpenState("a")
		events, next, err := Apply(s, Command{Type: CmdJoin, UserID: "a", Username: "a"})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.Len(t, next.Participants, 1)
	})

	t.Run("preserves join order", func(t *testing.T) {
		s := newOpenState("c", "a", "b")
		got := []string{}
		for _, p := range s.Participants {
			got = append(got, p.UserID)
		}
		assert.Equal(t, []string{"c", "a", "b"}, got)
	})

	t.Run("full", func(t *testing.T) {
		s := newOpenState()
		s.Rules.Capacity = 1
		s = mustApply(t, s, Command{Type: CmdJoin, UserID: "a"})
		_, _, err := Apply(s, Command{Type: CmdJoin, UserID: "b"})
		require.ErrorIs(t, err, ErrSessionFull)
	})

	t.Run("closed", func(t *testing.T) {
		s := mustApply(t, newOpenState("a"), Command{Type: CmdBeginClose})
		_, _, err := Apply(s, Command{Type: CmdJoin, UserID: "b"})
		require.ErrorIs(t, err, ErrSessionClosed)
	})
}

func TestLeave(t *testing.T) {
	s := newOpenState("a", "b", "c")
	next := mustApply(t, s, Command{Type: CmdLeave, UserID: "b"})
	require.Len(t, next.Participants, 2)
	assert.Equal(t, "a", next.Participants[0].UserID)
	assert.Equal(t, "c", next.Participants[1].UserID)

	events, same, err := Apply(next, Command{Type: CmdLeave, UserID: "zzz"})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, next, same)
}

func TestResolve_ScenarioA(t *testing.T) {
	s := newOpenState("A", "B", "C")
	s = mustApply(t, s, Command{Type: CmdChooseNumber, UserID: "A", Number: 4})
	s = mustApply(t, s, Command{Type: CmdChooseNumber, UserID: "B", Number: 4})
	s = mustApply(t, s, Command{Type: CmdChooseNumber, UserID: "C", Number: 7})

	s = closeAndResolve(t, s, Draw(s.Rules, FixedWinner(s.Rules, 4)))

	res, ok := ResultOf(s)
	require.True(t, ok)
	assert.Equal(t, 4, res.WinningNumber)
	assert.Equal(t, 3, res.TotalPlayers())
	assert.Equal(t, 2, res.TotalWinners())
	assert.Equal(t, "A", res.Winners[0].UserID)
	assert.Equal(t, "B", res.Winners[1].UserID)
}

func TestResolve_ScenarioB_NoWinners(t *testing.T) {
	s := newOpenState("A", "B")
	s = mustApply(t, s, Command{Type: CmdChooseNumber, UserID: "A", Number: 1})

	s = closeAndResolve(t, s, 9)

	res, ok := ResultOf(s)
	require.True(t, ok)
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Empty(t, res.Winners)
	assert.NotNil(t, res.Winners)
	assert.Equal(t, 0, res.TotalWinners())
	assert.Equal(t, 2, res.TotalPlayers())
}

func TestResolve_EmptySessionStillCompletes(t *testing.T) {
	s := closeAndResolve(t, newOpenState(), 3)
	res, ok := ResultOf(s)
	require.True(t, ok)
	assert.Equal(t, 0, res.TotalPlayers())
}

func TestResolve_FiresOnce(t *testing.T) {
	s := closeAndResolve(t, newOpenState("a"), 3)

	_, next, err := Apply(s, Command{Type: CmdResolve, Number: 5})
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 3, *next.WinningNumber)

	_, _, err = Apply(newOpenState("a"), Command{Type: CmdResolve, Number: 5})
	require.ErrorIs(t, err, ErrSessionClosed, "resolve must follow BeginClose")
}

// The winning number is present exactly when the round is Completed, across
// arbitrary command sequences.
func TestWinningNumberIffCompleted(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	users := []string{"u1", "u2", "u3", "u4"}
	types := []CommandType{CmdJoin, CmdLeave, CmdChooseNumber, CmdBeginClose, CmdResolve}

	for run := 0; run < 200; run++ {
		s := newOpenState()
		assignments := 0
		for step := 0; step < 30; step++ {
			cmd := Command{
				Type:   types[rng.IntN(len(types))],
				UserID: users[rng.IntN(len(users))],
				Number: rng.IntN(12) - 1,
			}
			if cmd.Type == CmdResolve {
				cmd.Number = Draw(s.Rules, rng)
			}

			before := s.WinningNumber
			_, next, err := Apply(s, cmd)
			if err != nil {
				require.Equal(t, s, next)
				continue
			}
			if before == nil && next.WinningNumber != nil {
				assignments++
			}
			s = next

			require.Equal(t, s.Phase == PhaseCompleted, s.WinningNumber != nil, "run %d step %d", run, step)
		}
		require.LessOrEqual(t, assignments, 1)
	}
}

func TestDrawStaysInRange(t *testing.T) {
	r := Rules{MinNumber: 3, MaxNumber: 5, Duration: time.Second}
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[int]bool{}
	for i := 0; i < 500; i++ {
		n := Draw(r, rng)
		require.True(t, r.InRange(n), "drew %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, 3)

	for i := 0; i < 50; i++ {
		require.True(t, r.InRange(Draw(r, CryptoSource{})))
	}
}

func TestDrawIsDeterministicForSeed(t *testing.T) {
	r := DefaultRules()
	a := rand.New(rand.NewPCG(42, 42))
	b := rand.New(rand.NewPCG(42, 42))
	for i := 0; i < 20; i++ {
		require.Equal(t, Draw(r, a), Draw(r, b))
	}
}

func TestTimeLeft(t *testing.T) {
	s := newOpenState()
	s.Rules.Duration = 10 * time.Second

	assert.Equal(t, 10, s.TimeLeft(t0))
	assert.Equal(t, 1, s.TimeLeft(t0.Add(9500*time.Millisecond)))
	assert.Equal(t, 0, s.TimeLeft(t0.Add(10*time.Second)))
	assert.Equal(t, 0, s.TimeLeft(t0.Add(time.Minute)))
	assert.True(t, s.Expired(t0.Add(10*time.Second)))
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("choose: %w", ErrAlreadyChosen)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, KindValidation, KindOf(ErrInvalidRange))
	assert.Equal(t, KindState, KindOf(ErrNotParticipant))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}
