package scheduler

import (
	"errors"
	"time"

	"zombidef.ai/internal/game/engine"
	"zombidef.ai/internal/game/model"
)

// JoinRecord is emitted once per successful join.
type JoinRecord struct {
	Round    string    `json:"round"`
	JoinedAt time.Time `json:"joined_at"`
	StartsIn int       `json:"starts_in_sec"`
}

// TurnRecord summarizes one played turn. It is what the turn log, the index and the live
// feed see; snapshots themselves never leave the scheduler.
type TurnRecord struct {
	Round     string    `json:"round"`
	Turn      int       `json:"turn"`
	FetchedAt time.Time `json:"fetched_at"`

	Gold       int `json:"gold"`
	Points     int `json:"points"`
	Structures int `json:"structures"`
	Zombies    int `json:"zombies"`
	Enemies    int `json:"enemies"`

	Candidates     int `json:"candidates"`
	PlannedBuild   int `json:"planned_build"`
	PlannedAttack  int `json:"planned_attack"`
	AcceptedBuild  int `json:"accepted_build"`
	AcceptedAttack int `json:"accepted_attack"`

	Skipped     bool     `json:"skipped,omitempty"`
	SubmitError string   `json:"submit_error,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

func (r TurnRecord) Rejected() int { return len(r.Errors) }

func newTurnRecord(round string, s *model.Snapshot, res engine.Result, err error) TurnRecord {
	rec := TurnRecord{
		Round:          round,
		Turn:           s.Turn,
		FetchedAt:      s.FetchedAt.UTC(),
		Gold:           s.Player.Gold,
		Points:         s.Player.Points,
		Structures:     len(s.Structures),
		Zombies:        len(s.Zombies),
		Enemies:        len(s.Enemies),
		Candidates:     len(res.Decision.Candidates),
		PlannedBuild:   len(res.Decision.Build),
		PlannedAttack:  len(res.Decision.Attack),
		AcceptedBuild:  len(res.Response.AcceptedCommands.Build),
		AcceptedAttack: len(res.Response.AcceptedCommands.Attack),
		Errors:         res.Response.Errors,
	}
	switch {
	case errors.Is(err, engine.ErrNoHeadStructure):
		rec.Skipped = true
	case err != nil:
		rec.SubmitError = err.Error()
	}
	return rec
}

// Recorder observes joins and turns. Implementations must not block the turn loop.
type Recorder interface {
	RecordJoin(JoinRecord)
	RecordTurn(TurnRecord)
}

// Recorders fans out to every element; nil entries are skipped.
type Recorders []Recorder

func (rs Recorders) RecordJoin(r JoinRecord) {
	for _, rec := range rs {
		if rec != nil {
			rec.RecordJoin(r)
		}
	}
}

func (rs Recorders) RecordTurn(r TurnRecord) {
	for _, rec := range rs {
		if rec != nil {
			rec.RecordTurn(r)
		}
	}
}
