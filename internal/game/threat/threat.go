// Package threat projects zombie movement onto our structures.
package threat

import "zombidef.ai/internal/game/model"

// Horizon bounds how many steps ahead a zombie path is followed.
const Horizon = 30

// Threatens walks the zombie forward along its direction and reports whether it lands on a
// cell for which occupied returns true within Horizon steps. The starting cell is not checked,
// so a zombie without a direction never threatens anything.
func Threatens(z model.Zombie, occupied func(model.Coord) bool) bool {
	step := z.Direction.Step()
	if step == model.Zero {
		return false
	}
	pos := z.Pos
	for i := 0; i < Horizon; i++ {
		pos = pos.Add(step)
		if occupied(pos) {
			return true
		}
	}
	return false
}

// Threatening evaluates Threatens for every zombie in the snapshot against its structures.
func Threatening(s *model.Snapshot) []bool {
	out := make([]bool, len(s.Zombies))
	for i, z := range s.Zombies {
		out[i] = Threatens(z, s.HasStructure)
	}
	return out
}
