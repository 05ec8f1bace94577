package protocol

import (
	"math"
	"strconv"
	"strings"

	"github.com/cory-johannsen/islemulti/internal/game/entity"
)

const (
	prefixPing = "ping"
	prefixJoin = "join:"
	prefixMove = "move:"

	// MoveFields is the number of comma-separated values a move carries.
	MoveFields = 6
)

// Decode converts raw line bytes to text, replacing invalid UTF-8 with
// U+FFFD, and trims surrounding whitespace.
func Decode(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}

// Parse classifies a decoded line. Prefixes are tested in the order
// ping, join:, move:; ping matches any line starting with "ping".
//
// Precondition: line should already be trimmed (see Decode).
// Postcondition: Returns exactly one Command variant; never nil.
func Parse(line string) Command {
	switch {
	case strings.HasPrefix(line, prefixPing):
		return Ping{}
	case strings.HasPrefix(line, prefixJoin):
		return Join{Name: line[len(prefixJoin):]}
	case strings.HasPrefix(line, prefixMove):
		return parseMove(line[len(prefixMove):])
	default:
		return Unknown{Line: line}
	}
}

func parseMove(args string) Command {
	fields := strings.Split(args, ",")
	if len(fields) != MoveFields {
		return MoveArity{Fields: len(fields)}
	}

	var v [MoveFields]float32
	for i, f := range fields {
		n, ok := parseDecimal(f)
		if !ok {
			return MoveInvalid{Args: args}
		}
		v[i] = n
	}
	return Move{
		Position:  entity.NewPosition(v[0], v[1], v[2]),
		Direction: entity.NewDirection(v[3], v[4], v[5]),
	}
}

// parseDecimal accepts an optionally signed decimal float with optional
// exponent. Whitespace, hex floats, digit separators and non-finite values
// are rejected.
func parseDecimal(s string) (float32, bool) {
	if s == "" || strings.ContainsAny(s, "xX_ \t") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return float32(f), true
}
