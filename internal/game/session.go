package game

// TurnNotStarted is the sentinel value of Session.TurnStartedAt before both
// players are present.
const TurnNotStarted int64 = -1

// MillisPerMinute converts a time control in minutes to a clock budget.
const MillisPerMinute int64 = 60_000

// BroadcastKey is the routing key meaning "deliver to every player in this
// session". It is shared by every worker process.
const BroadcastKey = "all"

// Colour identifies a chess side.
type Colour string

const (
	White Colour = "white"
	Black Colour = "black"
)

// Other returns the opposing colour.
func (c Colour) Other() Colour {
	if c == White {
		return Black
	}
	return White
}

// Session is the authoritative state of one game instance, serialized as JSON
// into the shared cache. Players[0] plays white, Players[1] plays black; the
// order is randomized once when the second player joins and must not be
// re-shuffled afterward.
type Session struct {
	ID            string   `json:"id"`
	Players       []string `json:"players"`
	FEN           string   `json:"fen"`
	WhiteMs       int64    `json:"white_ms"`
	BlackMs       int64    `json:"black_ms"`
	TurnStartedAt int64    `json:"turn_started_at"` // unix milliseconds, or TurnNotStarted
	TimeControl   int      `json:"time_control"`    // minutes per player, fixed for the session
}

// Full reports whether the session already holds two players.
func (s *Session) Full() bool {
	return len(s.Players) >= 2
}

// HasPlayer reports whether connID is one of the session's players.
func (s *Session) HasPlayer(connID string) bool {
	for _, p := range s.Players {
		if p == connID {
			return true
		}
	}
	return false
}

// Opponent returns the other player's connection id, or "" if the session
// does not hold two players.
func (s *Session) Opponent(connID string) string {
	for _, p := range s.Players {
		if p != connID {
			return p
		}
	}
	return ""
}

// ColourOf returns the colour assigned to connID. The second return value is
// false when connID is not a player or colours have not been assigned yet.
func (s *Session) ColourOf(connID string) (Colour, bool) {
	if !s.Full() {
		return "", false
	}
	switch connID {
	case s.Players[0]:
		return White, true
	case s.Players[1]:
		return Black, true
	}
	return "", false
}

// Clock returns the remaining time in milliseconds for the given colour.
func (s *Session) Clock(c Colour) int64 {
	if c == White {
		return s.WhiteMs
	}
	return s.BlackMs
}

// SetClock overwrites the remaining time for the given colour.
func (s *Session) SetClock(c Colour, ms int64) {
	if c == White {
		s.WhiteMs = ms
	} else {
		s.BlackMs = ms
	}
}
