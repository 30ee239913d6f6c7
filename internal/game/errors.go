package game

// ErrorKind classifies user-visible failures so transport code can pick a
// response without inspecting error causes.
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota
	KindCapacityExceeded
	KindSessionFull
	KindSessionNotFound
	KindStoreUnavailable
	KindIllegalMove
)

// Error is a user-visible failure. ConnID is the offending connection;
// Broadcast marks errors that affect the whole session, in which case GameID
// names the session so the caller can publish instead of emitting locally.
type Error struct {
	Kind      ErrorKind
	Message   string
	ConnID    string
	GameID    string
	Broadcast bool
}

func (e *Error) Error() string { return e.Message }

// NewError builds an initiator-scoped Error.
func NewError(kind ErrorKind, message, connID string) *Error {
	return &Error{Kind: kind, Message: message, ConnID: connID}
}

// NewBroadcastError builds a session-scoped Error.
func NewBroadcastError(kind ErrorKind, message, connID, gameID string) *Error {
	return &Error{Kind: kind, Message: message, ConnID: connID, GameID: gameID, Broadcast: true}
}
