package placement

import (
	"reflect"
	"testing"

	"zombidef.ai/internal/game/model"
)

func head(x, y int) model.Structure {
	return model.Structure{ID: "head", Pos: model.Coord{X: x, Y: y}, Kind: model.KindHead, Health: 300, Range: 5}
}

func block(id string, x, y int) model.Structure {
	return model.Structure{ID: id, Pos: model.Coord{X: x, Y: y}, Health: 100, Range: 5}
}

func TestPlan_ExcludesOccupiedCells(t *testing.T) {
	s := model.Build(1, model.PlayerStats{Gold: 10},
		[]model.Structure{head(5, 5), block("b", 6, 5)},
		nil,
		[]model.Zombie{{ID: "z", Pos: model.Coord{X: 5, Y: 4}, Health: 5}},
		[]model.TerrainCell{{Pos: model.Coord{X: 5, Y: 6}, Type: "wall"}},
	)

	got := Plan(s)
	want := []model.Coord{{X: 4, Y: 5}, {X: 6, Y: 4}, {X: 7, Y: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan=%v want %v", got, want)
	}
}

func TestPlan_EnemyAdjacency(t *testing.T) {
	s := model.Build(1, model.PlayerStats{},
		[]model.Structure{head(5, 5)},
		[]model.EnemyStructure{
			{Pos: model.Coord{X: 5, Y: 3}, Health: 100},
			{Pos: model.Coord{X: 7, Y: 6}, Health: 100},
		},
		nil, nil,
	)

	got := Plan(s)
	want := []model.Coord{{X: 5, Y: 6}, {X: 4, Y: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan=%v want %v", got, want)
	}
	for _, c := range got {
		for _, e := range s.Enemies {
			if c.IsNeighbor(e.Pos) || c.IsDiagonal(e.Pos) {
				t.Fatalf("candidate %v touches enemy %v", c, e.Pos)
			}
		}
	}
}

func TestPlan_NegativeCellsExcluded(t *testing.T) {
	s := model.Build(1, model.PlayerStats{}, []model.Structure{head(0, 0)}, nil, nil, nil)
	got := Plan(s)
	want := []model.Coord{{X: 1, Y: 0}, {X: 0, Y: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("plan=%v want %v", got, want)
	}
}

func TestPlan_NoHead(t *testing.T) {
	s := model.Build(1, model.PlayerStats{}, []model.Structure{block("b", 3, 3)}, nil, nil, nil)
	if got := Plan(s); got != nil {
		t.Fatalf("expected nil plan without head, got %v", got)
	}
}

func rowColony(turn int) *model.Snapshot {
	structures := []model.Structure{head(0, 2)}
	for x := 1; x < 10; x++ {
		structures = append(structures, block("b", x, 2))
	}
	return model.Build(turn, model.PlayerStats{}, structures, nil, nil, nil)
}

func TestCandidates_SparseGridMidGame(t *testing.T) {
	s := rowColony(50)

	sparse := Candidates(s, true)
	if !reflect.DeepEqual(sparse, []model.Coord{{X: 10, Y: 2}}) {
		t.Fatalf("sparse=%v", sparse)
	}
	for _, c := range sparse {
		if c.X%2 != 0 || c.Y%2 != 0 {
			t.Fatalf("sparse candidate %v not on the even grid", c)
		}
	}

	plan := Plan(s)
	if len(plan) != 21 {
		t.Fatalf("plan len=%d want 21: %v", len(plan), plan)
	}
	assertSortedUnique(t, s, plan)
}

func TestCandidates_SparseGridInactive(t *testing.T) {
	for _, turn := range []int{5, 14, 100, 250} {
		s := rowColony(turn)
		if got := len(Candidates(s, true)); got != 21 {
			t.Fatalf("turn %d: sparse pass returned %d cells, want 21", turn, got)
		}
	}
	// Small colonies are never throttled.
	s := model.Build(50, model.PlayerStats{}, []model.Structure{head(1, 1)}, nil, nil, nil)
	if got := len(Candidates(s, true)); got != 4 {
		t.Fatalf("small colony sparse pass returned %d cells, want 4", got)
	}
}

func assertSortedUnique(t *testing.T, s *model.Snapshot, plan []model.Coord) {
	t.Helper()
	h, _ := s.Head()
	seen := map[model.Coord]bool{}
	prev := -1
	for _, c := range plan {
		if seen[c] {
			t.Fatalf("duplicate candidate %v", c)
		}
		seen[c] = true
		d := h.Pos.Dist2(c)
		if d < prev {
			t.Fatalf("plan not sorted by distance: %v", plan)
		}
		prev = d
	}
}
