package model

import "fmt"

// Coord is a cell on the game grid. Valid board cells have non-negative X and Y.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

var (
	Up    = Coord{X: 0, Y: -1}
	Right = Coord{X: 1, Y: 0}
	Down  = Coord{X: 0, Y: 1}
	Left  = Coord{X: -1, Y: 0}
	Zero  = Coord{}
)

func (c Coord) Add(o Coord) Coord { return Coord{X: c.X + o.X, Y: c.Y + o.Y} }

func (c Coord) InBounds() bool { return c.X >= 0 && c.Y >= 0 }

// Neighbors returns the 4-directional neighbors in up, right, down, left order.
func (c Coord) Neighbors() [4]Coord {
	return [4]Coord{c.Add(Up), c.Add(Right), c.Add(Down), c.Add(Left)}
}

func (c Coord) Diagonals() [4]Coord {
	return [4]Coord{
		{X: c.X - 1, Y: c.Y - 1},
		{X: c.X + 1, Y: c.Y - 1},
		{X: c.X + 1, Y: c.Y + 1},
		{X: c.X - 1, Y: c.Y + 1},
	}
}

// Dist2 is the squared Euclidean distance. Range checks compare it against range*range.
func (c Coord) Dist2(o Coord) int {
	dx := c.X - o.X
	dy := c.Y - o.Y
	return dx*dx + dy*dy
}

func (c Coord) IsNeighbor(o Coord) bool {
	dx := absInt(c.X - o.X)
	dy := absInt(c.Y - o.Y)
	return dx+dy == 1
}

func (c Coord) IsDiagonal(o Coord) bool {
	return absInt(c.X-o.X) == 1 && absInt(c.Y-o.Y) == 1
}

func (c Coord) InRange(o Coord, r int) bool { return c.Dist2(o) <= r*r }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
