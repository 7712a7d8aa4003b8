package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"zombidef.ai/internal/client"
	"zombidef.ai/internal/game/engine"
	"zombidef.ai/internal/game/model"
	"zombidef.ai/internal/persistence/state"
	"zombidef.ai/internal/protocol"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
	// cancel is called once len(sleeps) reaches stopAfter.
	stopAfter int
	cancel    context.CancelFunc
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	if c.cancel != nil && c.stopAfter > 0 && len(c.sleeps) >= c.stopAfter {
		c.cancel()
	}
	return ctx.Err()
}

type fakeAPI struct {
	rounds    protocol.RoundsResponse
	roundsErr error
	joinResp  protocol.JoinResponse
	joinErr   error
	units     []protocol.UnitsResponse
	unitsErr  error

	joins        []string
	terrainCalls int
	unitsCalls   int
}

func (f *fakeAPI) ListRounds(ctx context.Context) (protocol.RoundsResponse, error) {
	return f.rounds, f.roundsErr
}

func (f *fakeAPI) JoinRound(ctx context.Context, name string) (protocol.JoinResponse, error) {
	f.joins = append(f.joins, name)
	return f.joinResp, f.joinErr
}

func (f *fakeAPI) FetchTerrain(ctx context.Context) (protocol.WorldResponse, error) {
	f.terrainCalls++
	return protocol.WorldResponse{RealmName: "realm"}, nil
}

func (f *fakeAPI) FetchUnits(ctx context.Context) (protocol.UnitsResponse, error) {
	f.unitsCalls++
	if f.unitsErr != nil {
		return protocol.UnitsResponse{}, f.unitsErr
	}
	if len(f.units) == 0 {
		return protocol.UnitsResponse{}, nil
	}
	u := f.units[0]
	f.units = f.units[1:]
	return u, nil
}

type fakeState struct {
	cur    state.State
	writes int
}

func (s *fakeState) Get() state.State { return s.cur }

func (s *fakeState) SetCurrentRound(name string) error {
	if s.cur.CurrentRound == name {
		return nil
	}
	s.cur.CurrentRound = name
	s.writes++
	return nil
}

type fakePlayer struct{ turns []int }

func (p *fakePlayer) PlayTurn(ctx context.Context, s *model.Snapshot) (engine.Result, error) {
	p.turns = append(p.turns, s.Turn)
	return engine.Result{Decision: engine.Decision{Turn: s.Turn}}, nil
}

type memRecorder struct {
	joins []JoinRecord
	turns []TurnRecord
}

func (m *memRecorder) RecordJoin(r JoinRecord) { m.joins = append(m.joins, r) }
func (m *memRecorder) RecordTurn(r TurnRecord) { m.turns = append(m.turns, r) }

func activeRound(name string, startedAgo time.Duration) protocol.Round {
	start := t0.Add(-startedAgo)
	return protocol.Round{
		Name:     name,
		Status:   protocol.RoundActive,
		StartAt:  start.Format(time.RFC3339),
		EndAt:    start.Add(30 * time.Minute).Format(time.RFC3339),
		Duration: 1800,
	}
}

func unitsTurn(turn, structures int) protocol.UnitsResponse {
	u := protocol.UnitsResponse{Turn: turn, TurnEndsInMs: 1500, Player: protocol.Player{Gold: 2}}
	for i := 0; i < structures; i++ {
		u.Base = append(u.Base, protocol.BaseBlock{ID: "b", X: i, Y: 0, Health: 100, IsHead: i == 0, Range: 5, Attack: 10})
	}
	return u
}

func newTestScheduler(api *fakeAPI, st *fakeState, clk *fakeClock, rec Recorder) (*Scheduler, *fakePlayer) {
	p := &fakePlayer{}
	s := New(DefaultConfig(), api, p, st, log.New(io.Discard, "", 0),
		WithClock(clk.Now, clk.Sleep), WithRecorder(rec))
	return s, p
}

func TestJoin_IdempotentForPersistedRound(t *testing.T) {
	api := &fakeAPI{joinResp: protocol.JoinResponse{StartsInSec: 0}}
	st := &fakeState{}
	clk := &fakeClock{now: t0}
	rec := &memRecorder{}
	s, _ := newTestScheduler(api, st, clk, rec)

	ctx := context.Background()
	if err := s.join(ctx, "r1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.join(ctx, "r1"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if len(api.joins) != 1 {
		t.Fatalf("join calls=%v, want exactly one", api.joins)
	}
	if st.writes != 1 || st.cur.CurrentRound != "r1" {
		t.Fatalf("state writes=%d cur=%+v", st.writes, st.cur)
	}
	if len(rec.joins) != 1 || rec.joins[0].Round != "r1" {
		t.Fatalf("join records=%+v", rec.joins)
	}
}

func TestJoin_PersistsBeforeAwaitingStart(t *testing.T) {
	api := &fakeAPI{joinResp: protocol.JoinResponse{StartsInSec: 42}}
	st := &fakeState{}
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(api, st, clk, nil)

	var persistedAtSleep string
	s.sleep = func(ctx context.Context, d time.Duration) error {
		persistedAtSleep = st.cur.CurrentRound
		return clk.Sleep(ctx, d)
	}
	if err := s.join(context.Background(), "r9"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if persistedAtSleep != "r9" {
		t.Fatalf("round not persisted before sleeping, got %q", persistedAtSleep)
	}
	if len(clk.sleeps) != 1 || clk.sleeps[0] != 42*time.Second {
		t.Fatalf("sleeps=%v", clk.sleeps)
	}
	if got := s.Status().Phase; got != AwaitingStart.String() {
		t.Fatalf("phase=%s", got)
	}
}

func TestCycle_RoundMismatchResetsState(t *testing.T) {
	api := &fakeAPI{rounds: protocol.RoundsResponse{Rounds: []protocol.Round{activeRound("r2", 10*time.Minute)}}}
	st := &fakeState{cur: state.State{CurrentRound: "r1"}}
	clk := &fakeClock{now: t0}
	s, p := newTestScheduler(api, st, clk, nil)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if st.cur.CurrentRound != "" || st.writes != 1 {
		t.Fatalf("state=%+v writes=%d", st.cur, st.writes)
	}
	if len(api.joins) != 0 || len(p.turns) != 0 || api.unitsCalls != 0 {
		t.Fatalf("late round must not be joined or played: joins=%v turns=%v", api.joins, p.turns)
	}
	if len(clk.sleeps) != 1 || clk.sleeps[0] != DefaultConfig().IdleWait {
		t.Fatalf("sleeps=%v", clk.sleeps)
	}
}

func TestCycle_NoActiveRoundIdles(t *testing.T) {
	future := activeRound("later", -time.Hour)
	future.Status = "pending"
	api := &fakeAPI{rounds: protocol.RoundsResponse{Rounds: []protocol.Round{future}}}
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(api, &fakeState{}, clk, nil)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(api.joins) != 0 || api.unitsCalls != 0 {
		t.Fatalf("nothing should be joined or fetched")
	}
	if s.Status().Phase != Idle.String() {
		t.Fatalf("phase=%s", s.Status().Phase)
	}
}

func TestCycle_JoinPlayUntilNoStructures(t *testing.T) {
	api := &fakeAPI{
		rounds: protocol.RoundsResponse{Rounds: []protocol.Round{
			{Name: "old", Status: protocol.RoundEnded, StartAt: t0.Add(-2 * time.Hour).Format(time.RFC3339)},
			activeRound("r5", time.Minute),
		}},
		joinResp: protocol.JoinResponse{StartsInSec: 3},
		units:    []protocol.UnitsResponse{unitsTurn(1, 2), unitsTurn(2, 1), unitsTurn(3, 0)},
	}
	st := &fakeState{}
	clk := &fakeClock{now: t0}
	rec := &memRecorder{}
	s, p := newTestScheduler(api, st, clk, rec)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(api.joins) != 1 || api.joins[0] != "r5" || st.cur.CurrentRound != "r5" {
		t.Fatalf("joins=%v state=%+v", api.joins, st.cur)
	}
	if len(p.turns) != 2 || p.turns[0] != 1 || p.turns[1] != 2 {
		t.Fatalf("played turns=%v", p.turns)
	}
	if api.terrainCalls != 3 || api.unitsCalls != 3 {
		t.Fatalf("terrain=%d units=%d", api.terrainCalls, api.unitsCalls)
	}
	if len(rec.turns) != 2 || rec.turns[0].Round != "r5" || rec.turns[0].Structures != 2 || rec.turns[1].Gold != 2 {
		t.Fatalf("turn records=%+v", rec.turns)
	}

	turnWait := 1500*time.Millisecond + DefaultConfig().TurnSkew
	want := []time.Duration{3 * time.Second, turnWait, turnWait, DefaultConfig().IdleWait}
	if len(clk.sleeps) != len(want) {
		t.Fatalf("sleeps=%v want %v", clk.sleeps, want)
	}
	for i := range want {
		if clk.sleeps[i] != want[i] {
			t.Fatalf("sleep %d = %s, want %s", i, clk.sleeps[i], want[i])
		}
	}
	if got := s.Status(); got.TurnsPlayed != 2 || got.Joins != 1 || got.Turn != 2 {
		t.Fatalf("status=%+v", got)
	}
}

func TestCycle_ResumesPersistedRoundWithoutJoin(t *testing.T) {
	api := &fakeAPI{
		rounds: protocol.RoundsResponse{Rounds: []protocol.Round{activeRound("r5", 20*time.Minute)}},
		units:  []protocol.UnitsResponse{unitsTurn(40, 0)},
	}
	st := &fakeState{cur: state.State{CurrentRound: "r5"}}
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(api, st, clk, nil)

	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(api.joins) != 0 || api.unitsCalls != 1 || st.writes != 0 {
		t.Fatalf("joins=%v units=%d writes=%d", api.joins, api.unitsCalls, st.writes)
	}
}

func TestCallRetry_TimesOut(t *testing.T) {
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(&fakeAPI{}, &fakeState{}, clk, nil)

	calls := 0
	err := s.callRetry(context.Background(), "fetch units", func(context.Context) error {
		calls++
		return &client.TransportError{Op: "fetch units", Status: http.StatusBadGateway, Body: "bad gateway"}
	})
	if !errors.Is(err, ErrTimeoutExceeded) {
		t.Fatalf("expected ErrTimeoutExceeded, got %v", err)
	}
	for _, d := range clk.sleeps {
		if d != 1700*time.Millisecond {
			t.Fatalf("retry delay=%s", d)
		}
	}
	if elapsed := clk.now.Sub(t0); elapsed < 4*time.Minute || elapsed > 4*time.Minute+1700*time.Millisecond {
		t.Fatalf("gave up after %s", elapsed)
	}
	if calls != len(clk.sleeps)+1 {
		t.Fatalf("calls=%d sleeps=%d", calls, len(clk.sleeps))
	}
}

func TestCallRetry_NotParticipatingAborts(t *testing.T) {
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(&fakeAPI{}, &fakeState{}, clk, nil)

	err := s.callRetry(context.Background(), "fetch terrain", func(context.Context) error {
		return &client.TransportError{Op: "fetch terrain", Status: http.StatusBadRequest, Body: `{"error":"player is not participating in this round"}`}
	})
	if !errors.Is(err, client.ErrNotParticipating) {
		t.Fatalf("expected ErrNotParticipating, got %v", err)
	}
	if len(clk.sleeps) != 0 {
		t.Fatalf("expected no retries, sleeps=%v", clk.sleeps)
	}
}

func TestCallRetry_RecoversAfterTransientFailure(t *testing.T) {
	clk := &fakeClock{now: t0}
	s, _ := newTestScheduler(&fakeAPI{}, &fakeState{}, clk, nil)

	calls := 0
	err := s.callRetry(context.Background(), "fetch units", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil || calls != 3 || len(clk.sleeps) != 2 {
		t.Fatalf("err=%v calls=%d sleeps=%v", err, calls, clk.sleeps)
	}
	if s.Status().FetchErrors != 2 {
		t.Fatalf("fetch errors=%d", s.Status().FetchErrors)
	}
}

func TestRun_BacksOffAfterCycleErrorUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{roundsErr: errors.New("dial tcp: refused")}
	clk := &fakeClock{now: t0, stopAfter: 3, cancel: cancel}
	s, _ := newTestScheduler(api, &fakeState{}, clk, nil)

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if len(clk.sleeps) != 3 {
		t.Fatalf("sleeps=%v", clk.sleeps)
	}
	for _, d := range clk.sleeps {
		if d != time.Second {
			t.Fatalf("cycle backoff=%s", d)
		}
	}
	if got := s.Status().CycleErrors; got != 3 {
		t.Fatalf("cycle errors=%d", got)
	}
}

func TestRun_NotParticipatingReturnsToDiscovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{
		rounds:   protocol.RoundsResponse{Rounds: []protocol.Round{activeRound("r5", time.Minute)}},
		joinErr:  errors.New("already registered"),
		unitsErr: &client.TransportError{Op: "fetch units", Status: http.StatusBadRequest, Body: "not participating in this round"},
	}
	clk := &fakeClock{now: t0, stopAfter: 4, cancel: cancel}
	s, _ := newTestScheduler(api, &fakeState{}, clk, nil)

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	// join backoff, cycle backoff, join backoff, cycle backoff
	want := []time.Duration{time.Second, time.Second, time.Second, time.Second}
	if len(clk.sleeps) != len(want) {
		t.Fatalf("sleeps=%v", clk.sleeps)
	}
	if len(api.joins) != 2 || api.unitsCalls != 2 {
		t.Fatalf("joins=%d units=%d", len(api.joins), api.unitsCalls)
	}
}

func TestRun_CycleHookFiresOncePerCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{roundsErr: errors.New("dial tcp: refused")}
	clk := &fakeClock{now: t0, stopAfter: 3, cancel: cancel}
	ticks := 0
	s := New(DefaultConfig(), api, &fakePlayer{}, &fakeState{}, log.New(io.Discard, "", 0),
		WithClock(clk.Now, clk.Sleep), WithCycleHook(func() { ticks++ }))

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if ticks != 3 || s.Status().CycleErrors != 3 {
		t.Fatalf("ticks=%d cycles=%d", ticks, s.Status().CycleErrors)
	}
}
