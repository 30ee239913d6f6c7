// Package rules wraps the chess rules engine. The session layer treats
// positions as opaque FEN strings and consults the engine only for legality
// and terminal outcomes.
package rules

import (
	"errors"

	"github.com/wortley/unichess/internal/game"
)

// ErrIllegalMove means the move is not legal in the given position.
var ErrIllegalMove = errors.New("illegal move")

// Outcome classifies a position.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCheckmate
	OutcomeStalemate
	OutcomeDraw
)

// ReasonCode maps an engine outcome to the wire reason code, or 0 for a
// non-terminal position.
func (o Outcome) ReasonCode() int {
	switch o {
	case OutcomeCheckmate:
		return game.ReasonCheckmate
	case OutcomeStalemate:
		return game.ReasonStalemate
	case OutcomeDraw:
		return game.ReasonDraw
	}
	return 0
}

// Engine is the rules-engine contract consumed by the session layer.
type Engine interface {
	// NewPosition returns the FEN of the initial position.
	NewPosition() string
	// ApplyMove applies a UCI move, returning the new FEN or ErrIllegalMove.
	ApplyMove(fen, uci string) (string, error)
	// Outcome classifies the position.
	Outcome(fen string) Outcome
	// SideToMove returns the colour whose turn it is.
	SideToMove(fen string) (game.Colour, error)
}
