package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/pick-a-number/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type fakePuller struct {
	mu       sync.Mutex
	my       types.MySession
	result   *types.GameResult
	status   types.SessionStatus
	err      error
	results  int
	statuses int
}

func (f *fakePuller) MySession(context.Context) (types.MySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.my, f.err
}

func (f *fakePuller) LatestResult(context.Context) (*types.GameResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results++
	return f.result, f.err
}

func (f *fakePuller) Status(context.Context) (types.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return f.status, f.err
}

func newTest(t *testing.T) (*Reconciler, *clockwork.FakeClock, *fakePuller) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	p := &fakePuller{}
	return New(Config{Clock: clock, Puller: p}), clock, p
}

func openStatus(seq, version int64, left int) types.SessionStatus {
	return types.SessionStatus{
		HasActiveSession: true,
		Phase:            "open",
		TimeLeft:         left,
		ParticipantCount: 2,
		SessionID:        "s1",
		SequenceNumber:   seq,
		Version:          version,
	}
}

func result(seq, version int64) types.GameResult {
	return types.GameResult{
		SessionID:      "s1",
		SequenceNumber: seq,
		Version:        version,
		WinningNumber:  4,
		TotalPlayers:   2,
	}
}

func joined(r *Reconciler) {
	r.Joined(types.JoinResponse{SessionID: "s1", SequenceNumber: 7, Phase: "open", TimeLeft: 30})
}

func TestJoinAndChoose(t *testing.T) {
	r, _, _ := newTest(t)
	joined(r)
	assert.Equal(t, AwaitingChoice, r.State().Phase)

	r.Chose("other", 3)
	assert.Equal(t, AwaitingChoice, r.State().Phase)

	r.Chose("s1", 3)
	st := r.State()
	assert.Equal(t, AwaitingResult, st.Phase)
	require.NotNil(t, st.Chosen)
	assert.Equal(t, 3, *st.Chosen)
}

func TestQueuedJoinStaysIdle(t *testing.T) {
	r, _, _ := newTest(t)
	r.Joined(types.JoinResponse{Queued: true, QueuePosition: 2})
	st := r.State()
	assert.Equal(t, Idle, st.Phase)
	assert.True(t, st.Queued)
	assert.Equal(t, 2, st.QueuePosition)
}

func TestApplyStatus_DiscardsStale(t *testing.T) {
	r, _, _ := newTest(t)
	joined(r)

	assert.True(t, r.ApplyStatus(openStatus(7, 3, 27)))
	assert.False(t, r.ApplyStatus(openStatus(7, 2, 28)))
	assert.False(t, r.ApplyStatus(openStatus(7, 3, 27)))
	assert.False(t, r.ApplyStatus(openStatus(6, 9, 10)))
	assert.Equal(t, 27, r.State().Status.TimeLeft)
}

func TestResultSupersedesClosingTick(t *testing.T) {
	r, _, _ := newTest(t)
	joined(r)
	r.Chose("s1", 4)

	closing := openStatus(7, 31, 0)
	closing.Phase = "closing"
	require.True(t, r.ApplyStatus(closing))

	// the result carries an older version than a delayed tick already seen
	require.True(t, r.ApplyStatus(openStatus(7, 40, 0)))
	assert.True(t, r.ApplyResult(result(7, 33)))

	st := r.State()
	assert.Equal(t, ShowingResult, st.Phase)
	require.NotNil(t, st.Result)
	assert.Equal(t, 4, st.Result.WinningNumber)
}

func TestResultForOtherSessionIgnored(t *testing.T) {
	r, _, _ := newTest(t)
	joined(r)

	other := result(8, 2)
	other.SessionID = "s2"
	assert.False(t, r.ApplyResult(other))
	assert.Equal(t, AwaitingChoice, r.State().Phase)
}

func TestGraceWindowPullsLatestResult(t *testing.T) {
	r, clock, p := newTest(t)
	joined(r)
	r.Chose("s1", 4)
	r.ApplyStatus(openStatus(7, 30, 0))

	ctx := context.Background()
	clock.Advance(4 * time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, 0, p.results)

	res := result(7, 32)
	p.result = &res
	clock.Advance(time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, 1, p.results)
	assert.Equal(t, ShowingResult, r.State().Phase)
}

func TestFallbackGivesUpAfterStatusPull(t *testing.T) {
	r, clock, p := newTest(t)
	joined(r)
	r.ApplyStatus(openStatus(7, 30, 0))
	assert.Equal(t, AwaitingResult, r.State().Phase)

	p.status = types.SessionStatus{HasActiveSession: true, Phase: "open", TimeLeft: 25, SessionID: "s9", SequenceNumber: 9, Version: 1}

	ctx := context.Background()
	clock.Advance(5 * time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, 1, p.results)
	assert.Equal(t, AwaitingResult, r.State().Phase)

	clock.Advance(5 * time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, 1, p.statuses)

	st := r.State()
	assert.Equal(t, Idle, st.Phase)
	assert.True(t, st.GaveUp)
	assert.Equal(t, "s9", st.Status.SessionID)
	assert.Equal(t, int64(9), st.Sequence)
}

func TestPullErrorStillAdvancesFallback(t *testing.T) {
	r, clock, p := newTest(t)
	joined(r)
	r.ApplyStatus(openStatus(7, 30, 0))
	p.err = errors.New("offline")

	ctx := context.Background()
	clock.Advance(5 * time.Second)
	assert.Error(t, r.CheckDeadlines(ctx))
	clock.Advance(5 * time.Second)
	assert.Error(t, r.CheckDeadlines(ctx))
	assert.Equal(t, Idle, r.State().Phase)
}

func TestDisplayWindowEndsResult(t *testing.T) {
	r, clock, _ := newTest(t)
	joined(r)
	require.True(t, r.ApplyResult(result(7, 31)))

	ctx := context.Background()
	clock.Advance(14 * time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, ShowingResult, r.State().Phase)

	clock.Advance(time.Second)
	require.NoError(t, r.CheckDeadlines(ctx))
	assert.Equal(t, Idle, r.State().Phase)

	// a replayed result is not shown twice
	joined(r)
	assert.False(t, r.ApplyResult(result(7, 31)))
}

func TestRestore(t *testing.T) {
	four := 4

	t.Run("active session restores the choice", func(t *testing.T) {
		r, _, p := newTest(t)
		p.my = types.MySession{
			Status: types.MySessionActive,
			Session: &types.SessionSnapshot{
				SessionID: "s1", SequenceNumber: 7, Version: 12, Phase: "open", TimeLeft: 18,
			},
			Participant:      &types.Participant{UserID: "u1", ChosenNumber: &four},
			HasActiveSession: true,
		}
		require.NoError(t, r.Restore(context.Background()))

		st := r.State()
		assert.Equal(t, AwaitingResult, st.Phase)
		assert.Equal(t, "s1", st.SessionID)
		require.NotNil(t, st.Chosen)
		assert.Equal(t, 4, *st.Chosen)
		assert.Equal(t, int64(12), st.Version)
		assert.Equal(t, 0, p.statuses)
	})

	t.Run("closing session arms the grace window", func(t *testing.T) {
		r, clock, p := newTest(t)
		p.my = types.MySession{
			Status:  types.MySessionActive,
			Session: &types.SessionSnapshot{SessionID: "s1", SequenceNumber: 7, Version: 31, Phase: "closing"},
		}
		require.NoError(t, r.Restore(context.Background()))
		assert.Equal(t, AwaitingResult, r.State().Phase)

		clock.Advance(5 * time.Second)
		require.NoError(t, r.CheckDeadlines(context.Background()))
		assert.Equal(t, 1, p.results)
	})

	t.Run("unconsumed result is shown", func(t *testing.T) {
		r, _, p := newTest(t)
		res := result(7, 32)
		p.my = types.MySession{Status: types.MySessionCompleted, Result: &res}
		require.NoError(t, r.Restore(context.Background()))

		st := r.State()
		assert.Equal(t, ShowingResult, st.Phase)
		assert.Equal(t, 4, st.Result.WinningNumber)
	})

	t.Run("no session queries status", func(t *testing.T) {
		r, _, p := newTest(t)
		p.my = types.MySession{Status: types.MySessionNone, Queued: true, QueuePosition: 3}
		p.status = openStatus(8, 4, 20)
		require.NoError(t, r.Restore(context.Background()))

		st := r.State()
		assert.Equal(t, Idle, st.Phase)
		assert.Equal(t, 1, p.statuses)
		assert.True(t, st.Status.HasActiveSession)
		assert.True(t, st.Queued)
		assert.Equal(t, 3, st.QueuePosition)
	})
}

func TestServerRestartLowersSequence(t *testing.T) {
	t.Run("restored session adopts its own stamp", func(t *testing.T) {
		r, clock, p := newTest(t)
		joined(r)
		p.my = types.MySession{
			Status:  types.MySessionActive,
			Session: &types.SessionSnapshot{SessionID: "s2", SequenceNumber: 1, Version: 3, Phase: "open", TimeLeft: 20},
		}
		require.NoError(t, r.Restore(context.Background()))

		st := r.State()
		assert.Equal(t, "s2", st.SessionID)
		assert.Equal(t, int64(1), st.Sequence)
		assert.Equal(t, int64(3), st.Version)

		closing := types.SessionStatus{HasActiveSession: true, Phase: "closing", SessionID: "s2", SequenceNumber: 1, Version: 30}
		assert.True(t, r.ApplyStatus(closing))
		assert.Equal(t, AwaitingResult, r.State().Phase)

		clock.Advance(5 * time.Second)
		require.NoError(t, r.CheckDeadlines(context.Background()))
		assert.Equal(t, 1, p.results)
	})

	t.Run("join answer adopts its own stamp", func(t *testing.T) {
		r, _, _ := newTest(t)
		joined(r)
		r.ApplyStatus(openStatus(7, 9, 20))

		r.Joined(types.JoinResponse{SessionID: "s2", SequenceNumber: 1, Phase: "open", TimeLeft: 30})
		st := r.State()
		assert.Equal(t, int64(1), st.Sequence)
		assert.Equal(t, int64(0), st.Version)

		next := openStatus(1, 1, 29)
		next.SessionID = "s2"
		assert.True(t, r.ApplyStatus(next))
	})

	t.Run("pulled status below the last seen one is adopted", func(t *testing.T) {
		r, _, p := newTest(t)
		joined(r)
		r.ApplyStatus(openStatus(7, 9, 20))
		p.my = types.MySession{Status: types.MySessionNone}
		p.status = types.SessionStatus{SequenceNumber: 2, Version: 4}
		require.NoError(t, r.Restore(context.Background()))

		st := r.State()
		assert.Equal(t, Idle, st.Phase)
		assert.Equal(t, int64(2), st.Sequence)
		assert.Equal(t, int64(4), st.Version)
		assert.True(t, r.ApplyStatus(openStatus(3, 1, 30)))
	})
}

func TestApplyEnvelope(t *testing.T) {
	r, _, _ := newTest(t)
	joined(r)

	msg, err := types.NewServerMessage(types.EventGameResult, result(7, 31))
	require.NoError(t, err)
	require.NoError(t, r.Apply(msg))
	assert.Equal(t, ShowingResult, r.State().Phase)

	assert.Error(t, r.Apply(types.ServerMessage{Type: types.EventSessionStatus, Data: json.RawMessage(`{`)}))
	assert.NoError(t, r.Apply(types.ServerMessage{Type: "somethingElse"}))
}

func TestClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/game/latest-result":
			_, _ = w.Write([]byte("null\n"))
		case "/game/status":
			_ = json.NewEncoder(w).Encode(openStatus(3, 1, 12))
		case "/game/my-session":
			_ = json.NewEncoder(w).Encode(types.MySession{Status: types.MySessionNone})
		case "/game/join":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(types.JoinResponse{Queued: true, QueuePosition: 1})
		case "/game/choose-number":
			var req types.ChooseNumberRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Number == nil || *req.Number > 9 {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: "InvalidRange", Kind: "validation", Message: "out of range"})
				return
			}
			_ = json.NewEncoder(w).Encode(types.ChooseNumberResponse{SessionID: "s1", ChosenNumber: *req.Number})
		}
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	p := NewClient(srv.URL+"/", "tok")

	res, err := p.LatestResult(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)

	st, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, st.TimeLeft)

	ms, err := p.MySession(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.MySessionNone, ms.Status)

	jr, err := p.Join(ctx)
	require.NoError(t, err)
	assert.True(t, jr.Queued)

	cr, err := p.ChooseNumber(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, cr.ChosenNumber)

	_, err = p.ChooseNumber(ctx, 10)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "InvalidRange", apiErr.Body.Error)

	_, err = NewClient(srv.URL, "bad").Status(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	assert.Equal(t, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", p.WebSocketURL())
	assert.Equal(t, "Bearer tok", p.Header().Get("Authorization"))
}

func TestFollowAppliesPushedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		var hello types.ClientMessage
		if err := wsjson.Read(r.Context(), conn, &hello); err != nil || hello.Type != types.RequestSessionStatus {
			return
		}
		msg, _ := types.NewServerMessage(types.EventGameResult, result(7, 31))
		_ = wsjson.Write(r.Context(), conn, msg)
		_, _, _ = conn.Read(context.Background())
	}))
	t.Cleanup(srv.Close)

	r, _, p := newTest(t)
	p.my = types.MySession{
		Status:  types.MySessionActive,
		Session: &types.SessionSnapshot{SessionID: "s1", SequenceNumber: 7, Version: 20, Phase: "open", TimeLeft: 3},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Follow(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil) }()

	require.Eventually(t, func() bool {
		return r.State().Phase == ShowingResult
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
