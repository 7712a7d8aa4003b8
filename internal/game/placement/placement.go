// Package placement picks the cells where new blocks can be built this turn.
package placement

import (
	"sort"

	"zombidef.ai/internal/game/model"
)

// Sparse-grid thresholds. Between sparseFromTurn and denseFromTurn a colony of at least
// sparseMinStructures blocks only grows onto even/even cells.
const (
	sparseFromTurn      = 15
	denseFromTurn       = 100
	sparseMinStructures = 10
)

// Plan returns every buildable cell for the turn, nearest to the head first. Cells with equal
// distance keep discovery order. The caller truncates the result to the available gold.
func Plan(s *model.Snapshot) []model.Coord {
	head, ok := s.Head()
	if !ok {
		return nil
	}
	all := append(Candidates(s, true), Candidates(s, false)...)
	out := dedupe(all)
	sort.SliceStable(out, func(i, j int) bool {
		return head.Pos.Dist2(out[i]) < head.Pos.Dist2(out[j])
	})
	return out
}

// Candidates runs one generation pass over the 4-neighbors of every structure. With sparse set,
// the density rule additionally filters cells. The result is de-duplicated and sorted by
// distance to the head.
func Candidates(s *model.Snapshot, sparse bool) []model.Coord {
	head, ok := s.Head()
	if !ok {
		return nil
	}
	var out []model.Coord
	for _, st := range s.Structures {
		for _, c := range st.Pos.Neighbors() {
			if !Eligible(s, c) {
				continue
			}
			if sparse && !inSparseGrid(s.Turn, len(s.Structures), c) {
				continue
			}
			out = append(out, c)
		}
	}
	out = dedupe(out)
	sort.SliceStable(out, func(i, j int) bool {
		return head.Pos.Dist2(out[i]) < head.Pos.Dist2(out[j])
	})
	return out
}

// Eligible applies the occupancy and adjacency rules to a single cell.
func Eligible(s *model.Snapshot, c model.Coord) bool {
	if !c.InBounds() {
		return false
	}
	if s.HasTerrain(c) || s.HasZombie(c) || s.HasStructure(c) {
		return false
	}
	for _, n := range c.Neighbors() {
		if s.HasEnemy(n) || s.HasTerrain(n) {
			return false
		}
	}
	for _, d := range c.Diagonals() {
		if s.HasEnemy(d) {
			return false
		}
	}
	return true
}

func inSparseGrid(turn, structures int, c model.Coord) bool {
	return turn >= denseFromTurn ||
		turn < sparseFromTurn ||
		structures < sparseMinStructures ||
		(turn < denseFromTurn && c.X%2 == 0 && c.Y%2 == 0)
}

func dedupe(in []model.Coord) []model.Coord {
	if len(in) == 0 {
		return in
	}
	seen := make(map[model.Coord]struct{}, len(in))
	out := in[:0:0]
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
