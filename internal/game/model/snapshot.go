package model

import (
	"time"

	"zombidef.ai/internal/protocol"
)

// Snapshot is the read-only view of one turn: static terrain plus the units fetched for that
// turn. Lookups are computed once in NewSnapshot; nothing mutates a Snapshot afterwards.
type Snapshot struct {
	Realm      string
	Turn       int
	TurnEndsIn time.Duration
	FetchedAt  time.Time
	Player     PlayerStats

	Structures []Structure
	Enemies    []EnemyStructure
	Zombies    []Zombie
	Terrain    []TerrainCell

	head        int
	structureAt map[Coord]int
	terrainAt   map[Coord]string
	zombieAt    map[Coord]struct{}
	enemyAt     map[Coord]struct{}
}

// NewSnapshot converts wire payloads into a Snapshot. fetchedAt is the moment the units
// response arrived; the turn deadline is measured from it.
func NewSnapshot(world protocol.WorldResponse, units protocol.UnitsResponse, fetchedAt time.Time) *Snapshot {
	s := &Snapshot{
		Realm:      units.RealmName,
		Turn:       units.Turn,
		TurnEndsIn: time.Duration(units.TurnEndsInMs) * time.Millisecond,
		FetchedAt:  fetchedAt,
		Player: PlayerStats{
			Name:            units.Player.Name,
			Gold:            units.Player.Gold,
			Points:          units.Player.Points,
			ZombieKills:     units.Player.ZombieKills,
			EnemyBlockKills: units.Player.EnemyBlockKills,
		},
		Structures: make([]Structure, 0, len(units.Base)),
		Enemies:    make([]EnemyStructure, 0, len(units.EnemyBlocks)),
		Zombies:    make([]Zombie, 0, len(units.Zombies)),
		Terrain:    make([]TerrainCell, 0, len(world.Zpots)),
	}
	if units.Player.GameEndedAt != "" {
		if t, err := protocol.ParseTime(units.Player.GameEndedAt); err == nil {
			s.Player.GameEndedAt = t
		}
	}
	for _, b := range units.Base {
		st := Structure{
			ID:     b.ID,
			Pos:    Coord{X: b.X, Y: b.Y},
			Attack: b.Attack,
			Health: b.Health,
			Kind:   KindOf(b.IsHead),
			Range:  b.Range,
		}
		if b.LastAttack != nil {
			st.LastAttack = Coord{X: b.LastAttack.X, Y: b.LastAttack.Y}
		}
		s.Structures = append(s.Structures, st)
	}
	for _, e := range units.EnemyBlocks {
		s.Enemies = append(s.Enemies, EnemyStructure{
			Pos:    Coord{X: e.X, Y: e.Y},
			Attack: e.Attack,
			Health: e.Health,
			Kind:   KindOf(e.IsHead),
		})
	}
	for _, z := range units.Zombies {
		s.Zombies = append(s.Zombies, Zombie{
			ID:        z.ID,
			Pos:       Coord{X: z.X, Y: z.Y},
			Attack:    z.Attack,
			Speed:     z.Speed,
			Direction: ParseDirection(z.Direction),
			Type:      z.Type,
			Health:    z.Health,
			WaitTurns: z.WaitTurns,
		})
	}
	for _, p := range world.Zpots {
		s.Terrain = append(s.Terrain, TerrainCell{Pos: Coord{X: p.X, Y: p.Y}, Type: p.Type})
	}
	s.index()
	return s
}

// Build assembles a Snapshot from already-converted entities. Used by tests and replays.
func Build(turn int, player PlayerStats, structures []Structure, enemies []EnemyStructure, zombies []Zombie, terrain []TerrainCell) *Snapshot {
	s := &Snapshot{
		Turn:       turn,
		Player:     player,
		Structures: structures,
		Enemies:    enemies,
		Zombies:    zombies,
		Terrain:    terrain,
	}
	s.index()
	return s
}

func (s *Snapshot) index() {
	s.head = -1
	s.structureAt = make(map[Coord]int, len(s.Structures))
	for i, st := range s.Structures {
		s.structureAt[st.Pos] = i
		if st.IsHead() && s.head < 0 {
			s.head = i
		}
	}
	s.terrainAt = make(map[Coord]string, len(s.Terrain))
	for _, t := range s.Terrain {
		s.terrainAt[t.Pos] = t.Type
	}
	s.zombieAt = make(map[Coord]struct{}, len(s.Zombies))
	for _, z := range s.Zombies {
		s.zombieAt[z.Pos] = struct{}{}
	}
	s.enemyAt = make(map[Coord]struct{}, len(s.Enemies))
	for _, e := range s.Enemies {
		s.enemyAt[e.Pos] = struct{}{}
	}
}

// Head returns the colony root, if any.
func (s *Snapshot) Head() (Structure, bool) {
	if s.head < 0 {
		return Structure{}, false
	}
	return s.Structures[s.head], true
}

func (s *Snapshot) StructureAt(c Coord) (Structure, bool) {
	i, ok := s.structureAt[c]
	if !ok {
		return Structure{}, false
	}
	return s.Structures[i], true
}

func (s *Snapshot) HasStructure(c Coord) bool {
	_, ok := s.structureAt[c]
	return ok
}

func (s *Snapshot) HasTerrain(c Coord) bool {
	_, ok := s.terrainAt[c]
	return ok
}

func (s *Snapshot) TerrainType(c Coord) string { return s.terrainAt[c] }

func (s *Snapshot) HasZombie(c Coord) bool {
	_, ok := s.zombieAt[c]
	return ok
}

func (s *Snapshot) HasEnemy(c Coord) bool {
	_, ok := s.enemyAt[c]
	return ok
}

// Deadline is when the current turn closes, measured from the fetch time.
func (s *Snapshot) Deadline() time.Time { return s.FetchedAt.Add(s.TurnEndsIn) }
