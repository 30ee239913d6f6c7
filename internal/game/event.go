package game

// Event is the unit of broker transport and of delivery to a connection.
// Data is either a scalar or a flat mapping of scalars.
type Event struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

// End-of-game reason codes, wire-compatible with the original client.
// Codes below 10 come from the rules engine; 11+ are session-level endings.
const (
	ReasonCheckmate = 1
	ReasonStalemate = 2
	ReasonDraw      = 3
	ReasonTimeout   = 11
	ReasonResign    = 12
	ReasonAgreement = 13
)

// StartData is the payload of the per-player "start" event. It differs per
// player, which is why "start" is always published with the player's own
// connection id as routing key, never broadcast.
type StartData struct {
	Colour        Colour `json:"colour"`
	TimeRemaining int64  `json:"timeRemaining"`
}

// MoveData is the payload of the broadcast "move" event.
type MoveData struct {
	UCI     string `json:"uci"`
	FEN     string `json:"fen"`
	Turn    Colour `json:"turn"`
	WhiteMs int64  `json:"whiteMs"`
	BlackMs int64  `json:"blackMs"`
}

// GameOverData is the payload of the broadcast "gameOver" event. Winner is
// empty for drawn outcomes.
type GameOverData struct {
	Reason int    `json:"reason"`
	Winner Colour `json:"winner,omitempty"`
}
