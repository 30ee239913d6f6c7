package ws

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wortley/unichess/internal/game"
)

// envelope is the wire frame for events in both directions.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// conn wraps a websocket connection with a write lock; gorilla/websocket
// permits only one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// ConnectionManager stores this worker's live websocket connections and
// implements session.Emitter for them.
type ConnectionManager struct {
	connections sync.Map // map[connID]*conn
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

func (cm *ConnectionManager) Add(connID string, ws *websocket.Conn) {
	cm.connections.Store(connID, &conn{ws: ws})
}

func (cm *ConnectionManager) Remove(connID string) {
	cm.connections.Delete(connID)
}

// Emit writes the event to the connection. Failing when the connection is
// unknown lets the delivery path's retry loop catch a connection that is
// still being registered.
func (cm *ConnectionManager) Emit(connID string, ev game.Event) error {
	v, ok := cm.connections.Load(connID)
	if !ok {
		return fmt.Errorf("no connection %s on this worker", connID)
	}
	return v.(*conn).writeJSON(envelope{Event: ev.Name, Data: ev.Data})
}
