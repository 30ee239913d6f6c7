package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wortley/unichess/internal/game"
)

func TestEmitUnknownConnection(t *testing.T) {
	cm := NewConnectionManager()

	err := cm.Emit("ghost", game.Event{Name: "start"})
	assert.Error(t, err, "delivery to a connection this worker does not own must fail")
}

func TestEmitWritesEnvelope(t *testing.T) {
	cm := NewConnectionManager()
	registered := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		cm.Add("c1", conn)
		close(registered)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("connection was never registered")
	}

	require.NoError(t, cm.Emit("c1", game.Event{Name: "gameId", Data: "g1"}))

	var env envelope
	client.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, "gameId", env.Event)
	assert.Equal(t, "g1", env.Data)

	cm.Remove("c1")
	assert.Error(t, cm.Emit("c1", game.Event{Name: "gameId"}))
}
