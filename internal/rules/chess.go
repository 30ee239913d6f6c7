package rules

import (
	"fmt"

	"github.com/notnil/chess"

	"github.com/wortley/unichess/internal/game"
)

// ChessEngine implements Engine on notnil/chess.
type ChessEngine struct{}

func NewChessEngine() ChessEngine {
	return ChessEngine{}
}

func gameFromFEN(fen string) (*chess.Game, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid position %q: %w", fen, err)
	}
	return chess.NewGame(opt), nil
}

func (ChessEngine) NewPosition() string {
	return chess.NewGame().Position().String()
}

func (ChessEngine) ApplyMove(fen, uci string) (string, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	move, err := chess.UCINotation{}.Decode(g.Position(), uci)
	if err != nil {
		return "", ErrIllegalMove
	}
	if err := g.Move(move); err != nil {
		return "", ErrIllegalMove
	}
	return g.Position().String(), nil
}

func (ChessEngine) Outcome(fen string) Outcome {
	g, err := gameFromFEN(fen)
	if err != nil {
		return OutcomeNone
	}
	switch g.Method() {
	case chess.Checkmate:
		return OutcomeCheckmate
	case chess.Stalemate:
		return OutcomeStalemate
	}
	if g.Outcome() == chess.Draw {
		return OutcomeDraw
	}
	return OutcomeNone
}

func (ChessEngine) SideToMove(fen string) (game.Colour, error) {
	g, err := gameFromFEN(fen)
	if err != nil {
		return "", err
	}
	if g.Position().Turn() == chess.White {
		return game.White, nil
	}
	return game.Black, nil
}
