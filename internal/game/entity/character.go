package entity

import "fmt"

// Character is the avatar kind a session plays as.
type Character int

const (
	// CharacterPepperRoni is the only playable character and the default for new sessions.
	CharacterPepperRoni Character = iota
)

// DefaultCharacter is assigned to every session at join.
const DefaultCharacter = CharacterPepperRoni

var characterNames = map[Character]string{
	CharacterPepperRoni: "pepperoni",
}

func (c Character) String() string {
	if name, ok := characterNames[c]; ok {
		return name
	}
	return fmt.Sprintf("character(%d)", int(c))
}

// ParseCharacter returns the Character with the given name.
//
// Postcondition: Returns an error if name matches no known character.
func ParseCharacter(name string) (Character, error) {
	for c, n := range characterNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown character %q", name)
}
