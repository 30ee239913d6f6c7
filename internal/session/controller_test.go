package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wortley/unichess/internal/game"
	"github.com/wortley/unichess/internal/registry"
	"github.com/wortley/unichess/internal/rules"
	"github.com/wortley/unichess/internal/store"
)

// fakeStore mimics the cache's serialization boundary: Get and Save copy the
// session so shared pointers cannot mask missing persistence.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*game.Session
	saves    int
	deletes  int
	gets     int
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*game.Session)}
}

func copySession(s *game.Session) *game.Session {
	c := *s
	c.Players = append([]string(nil), s.Players...)
	return &c
}

func (f *fakeStore) Get(_ context.Context, id string) (*game.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	sess, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (f *fakeStore) Save(_ context.Context, sess *game.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.sessions[sess.ID] = copySession(sess)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) CountActive(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions), nil
}

func (f *fakeStore) stored(id string) *game.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

type publication struct {
	gameID     string
	event      game.Event
	routingKey string
}

// fakeGateway records topology and publish calls.
type fakeGateway struct {
	mu        sync.Mutex
	exchanges map[string]bool
	queues    map[string]bool
	published []publication
	cancelled []string
	unbound   []string
	closed    []string
	consumers map[string]chan game.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		exchanges: make(map[string]bool),
		queues:    make(map[string]bool),
		consumers: make(map[string]chan game.Event),
	}
}

func (f *fakeGateway) OpenSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[id] = true
	return nil
}

func (f *fakeGateway) OpenPlayerChannel(id, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[id+"/"+connID] = true
	return nil
}

func (f *fakeGateway) Publish(_ context.Context, id string, ev game.Event, routingKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publication{gameID: id, event: ev, routingKey: routingKey})
	return nil
}

func (f *fakeGateway) Consume(id, connID string) (<-chan game.Event, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := id + "." + connID
	ch := make(chan game.Event)
	f.consumers[tag] = ch
	return ch, tag, nil
}

func (f *fakeGateway) Cancel(tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, tag)
	if ch, ok := f.consumers[tag]; ok {
		close(ch)
		delete(f.consumers, tag)
	}
	return nil
}

func (f *fakeGateway) Unbind(id, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unbound = append(f.unbound, id+"/"+connID)
	return nil
}

func (f *fakeGateway) CloseSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) starts() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publication
	for _, p := range f.published {
		if p.event.Name == "start" {
			out = append(out, p)
		}
	}
	return out
}

// fakeEmitter records direct emits per connection.
type fakeEmitter struct {
	mu     sync.Mutex
	events map[string][]game.Event
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{events: make(map[string][]game.Event)}
}

func (f *fakeEmitter) Emit(connID string, ev game.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connID] = append(f.events[connID], ev)
	return nil
}

func (f *fakeEmitter) eventsFor(connID string) []game.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]game.Event(nil), f.events[connID]...)
}

type fixture struct {
	store    *fakeStore
	gateway  *fakeGateway
	registry *registry.Registry
	emitter  *fakeEmitter
	ctrl     *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		gateway:  newFakeGateway(),
		registry: registry.New(),
		emitter:  newFakeEmitter(),
	}
	f.ctrl = NewController(f.store, f.gateway, f.registry, f.emitter, rules.NewChessEngine(), Config{
		MaxConcurrentSessions: 10,
	})
	return f
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess := f.store.stored(id)
	require.NotNil(t, sess)
	assert.Equal(t, []string{"alice"}, sess.Players)
	assert.Equal(t, int64(300000), sess.WhiteMs)
	assert.Equal(t, int64(300000), sess.BlackMs)
	assert.Equal(t, game.TurnNotStarted, sess.TurnStartedAt)
	assert.Equal(t, 5, sess.TimeControl)

	// The id is emitted directly to the creator, never broadcast.
	events := f.emitter.eventsFor("alice")
	require.Len(t, events, 1)
	assert.Equal(t, "gameId", events[0].Name)
	assert.Equal(t, id, events[0].Data)
	assert.Empty(t, f.gateway.published)

	assert.True(t, f.gateway.exchanges[id])
	assert.True(t, f.gateway.queues[id+"/alice"])
	assert.Len(t, f.registry.Consumers(id), 1)

	gameID, ok := f.registry.Game("alice")
	require.True(t, ok)
	assert.Equal(t, id, gameID)
}

func TestCreateCapacityExceeded(t *testing.T) {
	f := newFixture(t)
	f.ctrl.config.MaxConcurrentSessions = 1
	require.NoError(t, f.store.Save(context.Background(), &game.Session{ID: "existing-1"}))
	require.NoError(t, f.store.Save(context.Background(), &game.Session{ID: "existing-2"}))

	_, err := f.ctrl.Create(context.Background(), "alice", 5)

	var gerr *game.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, game.KindCapacityExceeded, gerr.Kind)
	assert.Equal(t, "alice", gerr.ConnID)
	assert.False(t, gerr.Broadcast)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	before := time.Now().UnixMilli()
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))

	sess := f.store.stored(id)
	require.Len(t, sess.Players, 2)
	assert.ElementsMatch(t, []string{"alice", "bob"}, sess.Players)
	assert.GreaterOrEqual(t, sess.TurnStartedAt, before)

	starts := f.gateway.starts()
	require.Len(t, starts, 2, "exactly one start event per player")

	colours := map[game.Colour]string{}
	for i, p := range starts {
		data, ok := p.event.Data.(game.StartData)
		require.True(t, ok)
		assert.Equal(t, sess.Players[i], p.routingKey, "start events are addressed per player")
		assert.Equal(t, sess.Clock(data.Colour), data.TimeRemaining)
		colours[data.Colour] = p.routingKey
	}
	assert.Len(t, colours, 2, "colours must be complementary")
	assert.NotEqual(t, colours[game.White], colours[game.Black])
}

func TestJoinFullSession(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))

	savesBefore := f.store.saves
	playersBefore := append([]string(nil), f.store.stored(id).Players...)

	err = f.ctrl.Join(context.Background(), "carol", id)

	var gerr *game.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, game.KindSessionFull, gerr.Kind)
	assert.Equal(t, "carol", gerr.ConnID)
	assert.Equal(t, savesBefore, f.store.saves, "a rejected join must not mutate stored state")
	assert.Equal(t, playersBefore, f.store.stored(id).Players)
}

func TestJoinUnknownSession(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.Join(context.Background(), "bob", "no-such-game")

	var gerr *game.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, game.KindSessionNotFound, gerr.Kind)
}

// TestJoinColourAssignmentIsFair runs many independent joins and requires
// both orderings to occur; arrival order must not determine colour.
func TestJoinColourAssignmentIsFair(t *testing.T) {
	creatorWhite := 0
	const runs = 100
	for i := 0; i < runs; i++ {
		f := newFixture(t)
		id, err := f.ctrl.Create(context.Background(), "alice", 1)
		require.NoError(t, err)
		require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))
		if f.store.stored(id).Players[0] == "alice" {
			creatorWhite++
		}
	}
	assert.Greater(t, creatorWhite, 0, "creator should sometimes get white")
	assert.Less(t, creatorWhite, runs, "creator should sometimes get black")
}

func TestAcceptRematch(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 3)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))

	sess := f.store.stored(id)
	sess.WhiteMs = 1000
	sess.BlackMs = 2000
	require.NoError(t, f.store.Save(context.Background(), sess))
	playersBefore := append([]string(nil), sess.Players...)

	require.NoError(t, f.ctrl.AcceptRematch(context.Background(), "alice"))

	after := f.store.stored(id)
	assert.Equal(t, int64(180000), after.WhiteMs)
	assert.Equal(t, int64(180000), after.BlackMs)
	assert.Equal(t, []string{playersBefore[1], playersBefore[0]}, after.Players, "colours swap on rematch")
	assert.NotEqual(t, game.TurnNotStarted, after.TurnStartedAt)
}

func TestAcceptRematchBeforeOpponentJoins(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.Create(context.Background(), "alice", 3)
	require.NoError(t, err)
	savesBefore := f.store.saves

	err = f.ctrl.AcceptRematch(context.Background(), "alice")

	var gerr *game.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, game.KindBadRequest, gerr.Kind)
	assert.Equal(t, "alice", gerr.ConnID)
	assert.Equal(t, savesBefore, f.store.saves, "a rejected rematch must not mutate stored state")
}

func TestJoinSaveFailureLeavesNoRegistration(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)

	f.store.saveErr = store.ErrStoreUnavailable
	err = f.ctrl.Join(context.Background(), "bob", id)

	var gerr *game.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, game.KindStoreUnavailable, gerr.Kind)

	// Without a registry mapping, the joiner's Leave stays a no-op instead
	// of tearing down a game it never entered.
	_, ok := f.registry.Game("bob")
	assert.False(t, ok)
	f.store.saveErr = nil
	deletesBefore := f.store.deletes
	require.NoError(t, f.ctrl.Leave(context.Background(), "bob"))
	assert.Equal(t, deletesBefore, f.store.deletes)
}

func TestOfferRematchGoesToOpponentOnly(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 3)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))

	require.NoError(t, f.ctrl.OfferRematch(context.Background(), "alice"))

	last := f.gateway.published[len(f.gateway.published)-1]
	assert.Equal(t, "rematchOffer", last.event.Name)
	assert.Equal(t, "bob", last.routingKey)
}

func TestLeaveUnknownConnectionIsNoOp(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Leave(context.Background(), "ghost"))

	assert.Zero(t, f.store.gets)
	assert.Zero(t, f.store.deletes)
	assert.Empty(t, f.gateway.unbound)
	assert.Empty(t, f.gateway.cancelled)
}

func TestLeaveWithOpponentRemaining(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))

	require.NoError(t, f.ctrl.Leave(context.Background(), "alice"))

	sess := f.store.stored(id)
	require.NotNil(t, sess, "session survives while a player remains")
	assert.Equal(t, []string{"bob"}, sess.Players)
	assert.Contains(t, f.gateway.unbound, id+"/alice")
	assert.Empty(t, f.gateway.closed)

	_, ok := f.registry.Game("alice")
	assert.False(t, ok)
}

func TestLeaveLastPlayerTearsDown(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Join(context.Background(), "bob", id))
	require.NoError(t, f.ctrl.Leave(context.Background(), "alice"))

	require.NoError(t, f.ctrl.Leave(context.Background(), "bob"))

	_, err = f.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	assert.ElementsMatch(t, []string{id + ".alice", id + ".bob"}, f.gateway.cancelled,
		"every registered consumer for the session is cancelled")
	assert.Contains(t, f.gateway.closed, id)
	assert.Empty(t, f.registry.Consumers(id))

	// Duplicate teardown (exit followed by disconnect) stays a no-op.
	require.NoError(t, f.ctrl.Leave(context.Background(), "bob"))
}

func TestLeaveAfterRemoteTeardown(t *testing.T) {
	f := newFixture(t)
	id, err := f.ctrl.Create(context.Background(), "alice", 5)
	require.NoError(t, err)

	// Another worker already deleted the session from the store.
	require.NoError(t, f.store.Delete(context.Background(), id))

	require.NoError(t, f.ctrl.Leave(context.Background(), "alice"))
	_, ok := f.registry.Game("alice")
	assert.False(t, ok)
}
