package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wortley/unichess/internal/game"
)

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "game:abc", sessionKey("abc"))
}

func TestDecodeSession(t *testing.T) {
	data, err := json.Marshal(&game.Session{ID: "g1", Players: []string{"alice"}})
	require.NoError(t, err)

	sess, err := decodeSession("g1", data)
	require.NoError(t, err)
	assert.Equal(t, "g1", sess.ID)
	assert.Equal(t, []string{"alice"}, sess.Players)
}

// A corrupt cache payload is a store failure, not an uncategorized internal
// error: callers map it to the same user-visible kind as an unreachable
// cache.
func TestDecodeSessionCorruptPayload(t *testing.T) {
	_, err := decodeSession("g1", []byte("{not json"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
