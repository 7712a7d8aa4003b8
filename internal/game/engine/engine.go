// Package engine turns a snapshot into the command submitted for that turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"zombidef.ai/internal/game/model"
	"zombidef.ai/internal/game/placement"
	"zombidef.ai/internal/game/targeting"
	"zombidef.ai/internal/protocol"
)

// ErrNoHeadStructure means the colony has no head this turn. The turn is skipped.
var ErrNoHeadStructure = errors.New("no head structure")

// Decision is everything the engine chose for one turn.
type Decision struct {
	Turn       int
	Candidates []model.Coord
	Build      []model.Coord
	Attack     []targeting.Order
}

// Command converts the decision to its wire form. Slices are never nil so the body always
// carries both arrays.
func (d Decision) Command() protocol.Command {
	cmd := protocol.Command{
		Attack: make([]protocol.AttackOrder, 0, len(d.Attack)),
		Build:  make([]protocol.Point, 0, len(d.Build)),
	}
	for _, a := range d.Attack {
		cmd.Attack = append(cmd.Attack, protocol.AttackOrder{
			BlockID: a.StructureID,
			Target:  protocol.Point{X: a.Target.X, Y: a.Target.Y},
		})
	}
	for _, c := range d.Build {
		cmd.Build = append(cmd.Build, protocol.Point{X: c.X, Y: c.Y})
	}
	return cmd
}

// Decide plans builds and attacks. One block costs one gold, so the ranked candidates are
// truncated to the current gold balance.
func Decide(s *model.Snapshot) (Decision, error) {
	if _, ok := s.Head(); !ok {
		return Decision{Turn: s.Turn}, ErrNoHeadStructure
	}
	d := Decision{Turn: s.Turn}
	d.Candidates = placement.Plan(s)

	n := s.Player.Gold
	if n < 0 {
		n = 0
	}
	if n > len(d.Candidates) {
		n = len(d.Candidates)
	}
	d.Build = d.Candidates[:n:n]
	d.Attack = targeting.Select(s)
	return d, nil
}

type Submitter interface {
	SubmitCommand(ctx context.Context, cmd protocol.Command) (protocol.CommandResponse, error)
}

type Engine struct {
	api Submitter
	log *log.Logger
}

func New(api Submitter, logger *log.Logger) *Engine {
	return &Engine{api: api, log: logger}
}

// Result pairs the decision with the server's verdict.
type Result struct {
	Decision Decision
	Command  protocol.Command
	Response protocol.CommandResponse
}

func (r Result) Rejected() int { return len(r.Response.Errors) }

// PlayTurn decides and submits one command. Rejected orders are logged and left for the next
// snapshot to correct; nothing is resubmitted within the turn.
func (e *Engine) PlayTurn(ctx context.Context, s *model.Snapshot) (Result, error) {
	e.log.Printf("turn=%d gold=%d structures=%d zombies=%d enemies=%d terrain=%d",
		s.Turn, s.Player.Gold, len(s.Structures), len(s.Zombies), len(s.Enemies), len(s.Terrain))

	d, err := Decide(s)
	if err != nil {
		return Result{Decision: d}, err
	}
	res := Result{Decision: d, Command: d.Command()}
	resp, err := e.api.SubmitCommand(ctx, res.Command)
	if err != nil {
		return res, fmt.Errorf("submit command: %w", err)
	}
	res.Response = resp
	e.log.Printf("turn=%d command sent build=%d/%d attack=%d accepted build=%d attack=%d rejected=%d",
		s.Turn, len(d.Build), len(d.Candidates), len(d.Attack),
		len(resp.AcceptedCommands.Build), len(resp.AcceptedCommands.Attack), len(resp.Errors))
	for _, msg := range resp.Errors {
		e.log.Printf("turn=%d rejected: %s", s.Turn, msg)
	}
	return res, nil
}
