package model

import "time"

// Kind distinguishes the colony root from ordinary blocks.
type Kind uint8

const (
	KindBlock Kind = iota
	KindHead
)

const (
	BlockMaxHealth = 100
	HeadMaxHealth  = 300
)

func KindOf(isHead bool) Kind {
	if isHead {
		return KindHead
	}
	return KindBlock
}

func (k Kind) MaxHealth() int {
	if k == KindHead {
		return HeadMaxHealth
	}
	return BlockMaxHealth
}

func (k Kind) String() string {
	if k == KindHead {
		return "head"
	}
	return "block"
}

// Structure is one of our own blocks.
type Structure struct {
	ID         string
	Pos        Coord
	Attack     int
	Health     int
	Kind       Kind
	Range      int
	LastAttack Coord
}

func (s Structure) IsHead() bool { return s.Kind == KindHead }
func (s Structure) Alive() bool  { return s.Health > 0 }

type EnemyStructure struct {
	Pos    Coord
	Attack int
	Health int
	Kind   Kind
}

func (e EnemyStructure) IsHead() bool { return e.Kind == KindHead }

type Direction uint8

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

func ParseDirection(s string) Direction {
	switch s {
	case "up":
		return DirUp
	case "down":
		return DirDown
	case "left":
		return DirLeft
	case "right":
		return DirRight
	default:
		return DirNone
	}
}

// Step is the unit movement vector. DirNone maps to the zero vector.
func (d Direction) Step() Coord {
	switch d {
	case DirUp:
		return Up
	case DirDown:
		return Down
	case DirLeft:
		return Left
	case DirRight:
		return Right
	default:
		return Zero
	}
}

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return "none"
	}
}

const ZombieTypeBomber = "bomber"

type Zombie struct {
	ID        string
	Pos       Coord
	Attack    int
	Speed     int
	Direction Direction
	Type      string
	Health    int
	WaitTurns int
}

func (z Zombie) IsBomber() bool { return z.Type == ZombieTypeBomber }

// TerrainCell is a zpot: a fixed map feature such as a wall.
type TerrainCell struct {
	Pos  Coord
	Type string
}

type PlayerStats struct {
	Name            string
	Gold            int
	Points          int
	ZombieKills     int
	EnemyBlockKills int
	GameEndedAt     time.Time
}
