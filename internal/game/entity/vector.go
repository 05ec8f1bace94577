// Package entity defines the value types carried by a player session:
// spatial vectors and the selectable character.
package entity

import (
	"fmt"
	"strconv"
)

// Vector3 is an immutable three-component value.
type Vector3 struct {
	X, Y, Z float32
}

// Position is a point in world space.
type Position Vector3

// Direction is a heading vector. It is not required to be normalized.
type Direction Vector3

// NewPosition returns the Position (x, y, z).
func NewPosition(x, y, z float32) Position { return Position{X: x, Y: y, Z: z} }

// NewDirection returns the Direction (x, y, z).
func NewDirection(x, y, z float32) Direction { return Direction{X: x, Y: y, Z: z} }

// String renders the vector as "(x, y, z)".
func (v Vector3) String() string {
	return fmt.Sprintf("(%s, %s, %s)", FormatFloat(v.X), FormatFloat(v.Y), FormatFloat(v.Z))
}

func (p Position) String() string  { return Vector3(p).String() }
func (d Direction) String() string { return Vector3(d).String() }

// FormatFloat returns the shortest plain decimal form of f that parses back to
// the same float32: 1 -> "1", 0.5 -> "0.5", 1e20 -> "100000000000000000000".
func FormatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}
