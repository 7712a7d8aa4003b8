// Package scheduler drives the bot through rounds: discover, join, wait for the start and play
// turns until the colony is gone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"zombidef.ai/internal/game/engine"
	"zombidef.ai/internal/game/model"
	"zombidef.ai/internal/persistence/state"
	"zombidef.ai/internal/protocol"
	"zombidef.ai/internal/ratelimit"
)

var (
	// ErrTimeoutExceeded ends a round after fetches kept failing for the whole retry window.
	ErrTimeoutExceeded = errors.New("retry window exceeded")
	// ErrRoundMismatch means the persisted round is not the round the server is running.
	ErrRoundMismatch = errors.New("persisted round does not match active round")
)

type Phase int

const (
	Idle Phase = iota
	Discovering
	Joining
	AwaitingStart
	InRound
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Joining:
		return "joining"
	case AwaitingStart:
		return "awaiting_start"
	case InRound:
		return "in_round"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// GameAPI is the subset of the game client the scheduler drives.
type GameAPI interface {
	ListRounds(ctx context.Context) (protocol.RoundsResponse, error)
	JoinRound(ctx context.Context, name string) (protocol.JoinResponse, error)
	FetchTerrain(ctx context.Context) (protocol.WorldResponse, error)
	FetchUnits(ctx context.Context) (protocol.UnitsResponse, error)
}

// TurnPlayer decides and submits one turn.
type TurnPlayer interface {
	PlayTurn(ctx context.Context, s *model.Snapshot) (engine.Result, error)
}

type StateStore interface {
	Get() state.State
	SetCurrentRound(name string) error
}

var _ StateStore = (*state.Store)(nil)

type Config struct {
	JoinWindow       time.Duration
	JoinBackoff      time.Duration
	IdleWait         time.Duration
	FetchRetryDelay  time.Duration
	FetchRetryWindow time.Duration
	CycleBackoff     time.Duration
	TurnSkew         time.Duration
}

func DefaultConfig() Config {
	return Config{
		JoinWindow:       5 * time.Minute,
		JoinBackoff:      time.Second,
		IdleWait:         10 * time.Second,
		FetchRetryDelay:  1700 * time.Millisecond,
		FetchRetryWindow: 4 * time.Minute,
		CycleBackoff:     time.Second,
		TurnSkew:         2 * time.Millisecond,
	}
}

// Status is a point-in-time copy of the scheduler's progress.
type Status struct {
	Phase       string    `json:"phase"`
	Round       string    `json:"round,omitempty"`
	Turn        int       `json:"turn"`
	LastTurnAt  time.Time `json:"last_turn_at,omitempty"`
	Gold        int       `json:"gold"`
	Points      int       `json:"points"`
	Structures  int       `json:"structures"`
	Joins       uint64    `json:"joins"`
	TurnsPlayed uint64    `json:"turns_played"`
	FetchErrors uint64    `json:"fetch_errors"`
	CycleErrors uint64    `json:"cycle_errors"`
}

type Scheduler struct {
	cfg    Config
	api    GameAPI
	player TurnPlayer
	state  StateStore
	rec    Recorder
	log    *log.Logger
	onTick func()

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	status Status
}

type Option func(*Scheduler)

func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.rec = r } }

// WithCycleHook runs fn at the start of every round cycle, before discovery.
func WithCycleHook(fn func()) Option { return func(s *Scheduler) { s.onTick = fn } }

func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

func New(cfg Config, api GameAPI, player TurnPlayer, st StateStore, logger *log.Logger, opts ...Option) *Scheduler {
	d := DefaultConfig()
	if cfg.JoinWindow <= 0 {
		cfg.JoinWindow = d.JoinWindow
	}
	if cfg.JoinBackoff <= 0 {
		cfg.JoinBackoff = d.JoinBackoff
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = d.IdleWait
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = d.FetchRetryDelay
	}
	if cfg.FetchRetryWindow <= 0 {
		cfg.FetchRetryWindow = d.FetchRetryWindow
	}
	if cfg.CycleBackoff <= 0 {
		cfg.CycleBackoff = d.CycleBackoff
	}
	s := &Scheduler{
		cfg:    cfg,
		api:    api,
		player: player,
		state:  st,
		rec:    Recorders(nil),
		log:    logger,
		now:    time.Now,
		sleep:  ratelimit.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	if s.rec == nil {
		s.rec = Recorders(nil)
	}
	s.setPhase(Idle, s.state.Get().CurrentRound)
	return s
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setPhase(p Phase, round string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Phase = p.String()
	s.status.Round = round
}

func (s *Scheduler) bump(f func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.status)
}

// Run repeats the round cycle until ctx is cancelled. A failed cycle is logged and retried
// after the cycle backoff; Run never returns for any other reason.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.onTick != nil {
			s.onTick()
		}
		err := s.cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		s.bump(func(st *Status) { st.CycleErrors++ })
		s.log.Printf("cycle failed: %v; restarting in %s", err, s.cfg.CycleBackoff)
		s.setPhase(Idle, s.state.Get().CurrentRound)
		if err := s.sleep(ctx, s.cfg.CycleBackoff); err != nil {
			return err
		}
	}
}

type discovery struct {
	active   *protocol.Round
	joinable bool
	elapsed  time.Duration
	upcoming []protocol.Round
}

func (s *Scheduler) discover(ctx context.Context) (discovery, error) {
	s.setPhase(Discovering, s.state.Get().CurrentRound)
	resp, err := s.api.ListRounds(ctx)
	if err != nil {
		return discovery{}, fmt.Errorf("list rounds: %w", err)
	}
	rounds := append([]protocol.Round(nil), resp.Rounds...)
	sort.SliceStable(rounds, func(i, j int) bool { return rounds[i].Start().Before(rounds[j].Start()) })

	var d discovery
	for i := range rounds {
		r := rounds[i]
		if d.active == nil && r.Status == protocol.RoundActive {
			d.active = &r
		}
		if r.Status != protocol.RoundEnded && len(d.upcoming) < 5 {
			d.upcoming = append(d.upcoming, r)
		}
	}
	if d.active != nil {
		d.elapsed = s.now().Sub(d.active.Start())
		d.joinable = d.elapsed < s.cfg.JoinWindow
	}
	return d, nil
}

// cycle runs one Discovering→Joining→AwaitingStart→InRound pass. A failed join does not
// return to discovery: after the join backoff the round loop is entered anyway, and its first
// fetch ends the cycle with ErrNotParticipating if the player is not in the round.
func (s *Scheduler) cycle(ctx context.Context) error {
	d, err := s.discover(ctx)
	if err != nil {
		return err
	}
	persisted := s.state.Get().CurrentRound
	s.log.Printf("my round=%q active=%v next=%v", persisted, d.active, d.upcoming)

	if d.active == nil {
		s.setPhase(Idle, persisted)
		return s.sleep(ctx, s.cfg.IdleWait)
	}
	s.log.Printf("active round elapsed=%s joinable=%v", d.elapsed.Truncate(time.Second), d.joinable)

	switch {
	case d.active.Name == persisted:
		s.log.Printf("resuming round %s", persisted)
	case d.joinable:
		if err := s.join(ctx, d.active.Name); err != nil {
			// The round may already be joined by an earlier process; the round loop finds out.
			s.log.Printf("join %s failed, may be benign: %v", d.active.Name, err)
			if err := s.sleep(ctx, s.cfg.JoinBackoff); err != nil {
				return err
			}
		}
	default:
		if persisted != "" {
			s.log.Printf("%v: persisted=%q active=%s; resetting", ErrRoundMismatch, persisted, d.active.Name)
			if err := s.state.SetCurrentRound(""); err != nil {
				s.log.Printf("save state: %v", err)
			}
		}
		s.log.Printf("active round %s is past the join window, %s left", d.active.Name, d.active.End().Sub(s.now()).Truncate(time.Second))
		s.setPhase(Idle, "")
		return s.sleep(ctx, s.cfg.IdleWait)
	}

	if err := s.playRound(ctx, d.active.Name); err != nil {
		return err
	}
	s.setPhase(Idle, s.state.Get().CurrentRound)
	return s.sleep(ctx, s.cfg.IdleWait)
}

// join participates in name unless it is already the persisted round. The name is persisted
// before the wait for the round start.
func (s *Scheduler) join(ctx context.Context, name string) error {
	if s.state.Get().CurrentRound == name {
		return nil
	}
	s.setPhase(Joining, name)
	resp, err := s.api.JoinRound(ctx, name)
	if err != nil {
		return err
	}
	if err := s.state.SetCurrentRound(name); err != nil {
		return fmt.Errorf("persist joined round: %w", err)
	}
	s.bump(func(st *Status) { st.Joins++ })
	s.rec.RecordJoin(JoinRecord{Round: name, JoinedAt: s.now().UTC(), StartsIn: resp.StartsInSec})

	wait := time.Duration(resp.StartsInSec) * time.Second
	s.log.Printf("joined round %s, starts in %s", name, wait)
	s.setPhase(AwaitingStart, name)
	if wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) playRound(ctx context.Context, round string) error {
	s.setPhase(InRound, round)
	s.log.Printf("round %s: starting turn loop", round)
	for {
		snap, err := s.fetchSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("round %s: %w", round, err)
		}
		if len(snap.Structures) == 0 {
			s.log.Printf("round %s: no structures left at turn=%d points=%d", round, snap.Turn, snap.Player.Points)
			return nil
		}

		res, err := s.player.PlayTurn(ctx, snap)
		switch {
		case errors.Is(err, engine.ErrNoHeadStructure):
			s.log.Printf("turn=%d skipped: %v", snap.Turn, err)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Printf("turn=%d %v", snap.Turn, err)
		}
		rec := newTurnRecord(round, snap, res, err)
		s.bump(func(st *Status) {
			st.Turn = snap.Turn
			st.LastTurnAt = snap.FetchedAt
			st.Gold = snap.Player.Gold
			st.Points = snap.Player.Points
			st.Structures = len(snap.Structures)
			st.TurnsPlayed++
		})
		s.rec.RecordTurn(rec)

		wait := snap.Deadline().Add(s.cfg.TurnSkew).Sub(s.now())
		if wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) fetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	var world protocol.WorldResponse
	if err := s.callRetry(ctx, "fetch terrain", func(ctx context.Context) error {
		var err error
		world, err = s.api.FetchTerrain(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	var units protocol.UnitsResponse
	if err := s.callRetry(ctx, "fetch units", func(ctx context.Context) error {
		var err error
		units, err = s.api.FetchUnits(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return model.NewSnapshot(world, units, s.now()), nil
}
