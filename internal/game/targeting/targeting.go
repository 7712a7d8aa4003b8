// Package targeting assigns attack targets to our structures.
package targeting

import (
	"zombidef.ai/internal/game/model"
	"zombidef.ai/internal/game/threat"
)

// Order tells one structure which cell to attack.
type Order struct {
	StructureID string
	Target      model.Coord
}

type targetKind uint8

const (
	targetZombie targetKind = iota + 1
	targetEnemy
)

// Select gives every living structure at most one target. For each structure the first
// non-empty tier wins: zombies heading into our blocks, enemy blocks, bombers, any zombie.
// Inside a tier the lowest-health target is chosen, first encountered on ties.
//
// Damage is applied to a private copy of target health as orders are issued, so later
// structures skip targets that are already predicted dead. The snapshot is not modified.
func Select(s *model.Snapshot) []Order {
	zhp := make([]int, len(s.Zombies))
	for i, z := range s.Zombies {
		zhp[i] = z.Health
	}
	ehp := make([]int, len(s.Enemies))
	for i, e := range s.Enemies {
		ehp[i] = e.Health
	}
	threats := threat.Threatening(s)

	var out []Order
	for _, st := range s.Structures {
		if !st.Alive() {
			continue
		}
		kind, idx := pick(s, st, zhp, ehp, threats)
		switch kind {
		case targetZombie:
			out = append(out, Order{StructureID: st.ID, Target: s.Zombies[idx].Pos})
			zhp[idx] -= st.Attack
		case targetEnemy:
			out = append(out, Order{StructureID: st.ID, Target: s.Enemies[idx].Pos})
			ehp[idx] -= st.Attack
		}
	}
	return out
}

func pick(s *model.Snapshot, st model.Structure, zhp, ehp []int, threats []bool) (targetKind, int) {
	inRange := func(c model.Coord) bool { return st.Pos.InRange(c, st.Range) }

	if i := weakestZombie(s, zhp, inRange, func(i int) bool { return threats[i] }); i >= 0 {
		return targetZombie, i
	}

	best := -1
	for i, e := range s.Enemies {
		if ehp[i] <= 0 || !inRange(e.Pos) {
			continue
		}
		if best < 0 || ehp[i] < ehp[best] {
			best = i
		}
	}
	if best >= 0 {
		return targetEnemy, best
	}

	if i := weakestZombie(s, zhp, inRange, func(i int) bool { return s.Zombies[i].IsBomber() }); i >= 0 {
		return targetZombie, i
	}
	if i := weakestZombie(s, zhp, inRange, func(int) bool { return true }); i >= 0 {
		return targetZombie, i
	}
	return 0, -1
}

func weakestZombie(s *model.Snapshot, zhp []int, inRange func(model.Coord) bool, match func(int) bool) int {
	best := -1
	for i, z := range s.Zombies {
		if zhp[i] <= 0 || !inRange(z.Pos) || !match(i) {
			continue
		}
		if best < 0 || zhp[i] < zhp[best] {
			best = i
		}
	}
	return best
}
