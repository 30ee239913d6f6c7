// Package registry is the per-worker bookkeeping of which session each live
// connection belongs to and which broker consumers this worker owns. It is
// never persisted: after a worker restart the surviving connections rebuild
// their entries through fresh join actions.
package registry

import "sync"

// Registry maps connection ids to session ids and session ids to the broker
// consumer tags this worker holds for them. Construct one per worker and
// inject it; it is deliberately not a package-level singleton so independent
// instances can coexist in tests.
type Registry struct {
	mu        sync.RWMutex
	games     map[string]string
	consumers map[string][]string
}

func New() *Registry {
	return &Registry{
		games:     make(map[string]string),
		consumers: make(map[string][]string),
	}
}

// SetGame records that connID belongs to gameID, overwriting any prior
// mapping for connID.
func (r *Registry) SetGame(connID, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[connID] = gameID
}

// Game returns the session recorded for connID. Absence is a valid state.
func (r *Registry) Game(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gameID, ok := r.games[connID]
	return gameID, ok
}

// RemoveGame forgets the mapping for connID.
func (r *Registry) RemoveGame(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.games, connID)
}

// AddConsumer records that this worker owns consumer tag for gameID.
func (r *Registry) AddConsumer(gameID, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[gameID] = append(r.consumers[gameID], tag)
}

// Consumers returns a copy of the consumer tags recorded for gameID.
func (r *Registry) Consumers(gameID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := r.consumers[gameID]
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

// RemoveConsumers forgets every consumer tag recorded for gameID.
func (r *Registry) RemoveConsumers(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, gameID)
}

// Clear drops all bookkeeping. Used at worker shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games = make(map[string]string)
	r.consumers = make(map[string][]string)
}
