package protocol

import (
	"fmt"

	"github.com/cory-johannsen/islemulti/internal/game/entity"
)

// Pong is the reply to a ping.
var Pong = []byte("pong\n")

// Joined formats the event sent to peers when name joins.
func Joined(name string) []byte {
	return []byte(name + " joined the game\n")
}

// Moved formats the event sent to peers when name moves.
func Moved(name string, pos entity.Position, dir entity.Direction) []byte {
	return []byte(fmt.Sprintf("%s moved to %s, dir %s\n", name, pos, dir))
}
