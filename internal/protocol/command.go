// Package protocol implements the newline-delimited text protocol spoken by
// clients: parsing inbound lines into commands and formatting outbound events.
package protocol

import "github.com/cory-johannsen/islemulti/internal/game/entity"

// Command is one parsed inbound line. The set of implementations is closed.
type Command interface {
	command()
}

// Ping asks for a "pong" reply to the sender only.
type Ping struct{}

// Join registers the connection under Name.
type Join struct {
	// Name is every byte after "join:", possibly empty.
	Name string
}

// Move reports a new position and heading for the joined session.
type Move struct {
	Position  entity.Position
	Direction entity.Direction
}

// MoveArity is a move command without exactly six fields. It is fatal to the connection.
type MoveArity struct {
	Fields int
}

// MoveInvalid is a six-field move command with a field that is not a finite
// decimal number. It is ignored.
type MoveInvalid struct {
	Args string
}

// Unknown is any line with no recognised prefix, including the empty line.
type Unknown struct {
	Line string
}

func (Ping) command()        {}
func (Join) command()        {}
func (Move) command()        {}
func (MoveArity) command()   {}
func (MoveInvalid) command() {}
func (Unknown) command()     {}
