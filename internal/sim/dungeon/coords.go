package dungeon

import (
	"math"
	"strings"
)

// Coord is an integer grid coordinate inside one instance. The instance
// origin is always (0,0).
type Coord struct {
	X int
	Y int
}

// Origin is the coordinate of every instance's depth-0 room.
var Origin = Coord{0, 0}

func (c Coord) Add(d Direction) Coord {
	dx, dy := d.Delta()
	return Coord{X: c.X + dx, Y: c.Y + dy}
}

// Depth is the radial distance from the origin, used as a difficulty proxy.
// It is derived from the coordinate and never stored independently.
func (c Coord) Depth() int {
	return int(math.Sqrt(float64(c.X*c.X + c.Y*c.Y)))
}

type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

// Directions lists the four cardinal directions in a fixed order.
var Directions = [4]Direction{North, East, South, West}

func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, 1
	case East:
		return 1, 0
	case South:
		return 0, -1
	default:
		return -1, 0
	}
}

func (d Direction) Reverse() Direction {
	return (d + 2) % 4
}

func (d Direction) String() string {
	switch d {
	case North:
		return "NORTH"
	case East:
		return "EAST"
	case South:
		return "SOUTH"
	default:
		return "WEST"
	}
}

func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NORTH", "N":
		return North, true
	case "EAST", "E":
		return East, true
	case "SOUTH", "S":
		return South, true
	case "WEST", "W":
		return West, true
	}
	return North, false
}
