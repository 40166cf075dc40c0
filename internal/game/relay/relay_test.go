package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/quizrelay/internal/game/protocol"
	"github.com/cory-johannsen/quizrelay/internal/game/session"
)

// fakeConn is an in-memory relay.Conn that records everything sent to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []protocol.Message
	fail   bool
	panics bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("send exploded")
	}
	if f.fail {
		return errors.New("send failed")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

// received returns all recorded messages of the given type.
func (f *fakeConn) received(eventType string) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.msgs {
		if m.Type == eventType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = m.Type
	}
	return out
}

func (f *fakeConn) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = nil
}

func newTestRelay(t *testing.T) (*Relay, *session.Store) {
	t.Helper()
	st := session.NewStore()
	return New(st, zaptest.NewLogger(t)), st
}

func event(t *testing.T, eventType string, payload any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(eventType, payload)
	require.NoError(t, err)
	return msg
}

func createGame(t *testing.T, r *Relay, id, code string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	r.HandleConnect(c)
	r.HandleMessage(c, event(t, protocol.EventCreateGame, protocol.CreateGamePayload{GameCode: code}))
	require.NotEmpty(t, c.received(protocol.EventGameCreated), "createGame should succeed")
	return c
}

func joinGame(t *testing.T, r *Relay, id, code, name string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	r.HandleConnect(c)
	r.HandleMessage(c, event(t, protocol.EventJoinGame, protocol.JoinGamePayload{GameCode: code, PlayerName: name}))
	require.NotEmpty(t, c.received(protocol.EventGameJoined), "joinGame should succeed")
	return c
}

func TestCreateGame(t *testing.T) {
	r, st := newTestRelay(t)
	host := &fakeConn{id: "h1"}

	r.HandleMessage(host, event(t, protocol.EventCreateGame, protocol.CreateGamePayload{GameCode: "ABCD"}))

	replies := host.received(protocol.EventGameCreated)
	require.Len(t, replies, 1)
	var payload protocol.GameCreatedPayload
	require.NoError(t, json.Unmarshal(replies[0].Payload, &payload))
	assert.Equal(t, "ABCD", payload.GameCode)
	assert.Equal(t, RoleHost, payload.Role)

	s, ok := st.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, "h1", s.HostID())
	assert.Equal(t, 0, s.PlayerCount())
}

func TestCreateGameDuplicateCode(t *testing.T) {
	r, st := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")

	second := &fakeConn{id: "h2"}
	r.HandleMessage(second, event(t, protocol.EventCreateGame, protocol.CreateGamePayload{GameCode: "ABCD"}))

	assert.Len(t, second.received(protocol.EventGameCodeExists), 1)
	assert.Empty(t, second.received(protocol.EventGameCreated))

	s, ok := st.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, "h1", s.HostID(), "the first creator keeps the session")
	assert.Equal(t, 1, st.Count())
}

func TestCreateGameFromBoundConnectionDropped(t *testing.T) {
	r, st := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	host.clear()

	r.HandleMessage(host, event(t, protocol.EventCreateGame, protocol.CreateGamePayload{GameCode: "WXYZ"}))

	assert.Empty(t, host.types(), "a bound connection gets no reply")
	_, ok := st.Get("WXYZ")
	assert.False(t, ok)
}

func TestJoinGameNotFound(t *testing.T) {
	r, _ := newTestRelay(t)
	c := &fakeConn{id: "p1"}

	r.HandleMessage(c, event(t, protocol.EventJoinGame, protocol.JoinGamePayload{GameCode: "NOPE", PlayerName: "Alice"}))

	assert.Len(t, c.received(protocol.EventGameNotFound), 1)
	assert.Empty(t, c.received(protocol.EventGameJoined))
}

func TestJoinAssignsSequentialNumbersAndRoles(t *testing.T) {
	r, _ := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")

	names := []string{"A", "B", "C"}
	for i, name := range names {
		c := joinGame(t, r, "p"+name, "ABCD", name)

		var joined protocol.GameJoinedPayload
		require.NoError(t, json.Unmarshal(c.received(protocol.EventGameJoined)[0].Payload, &joined))
		assert.Equal(t, i+1, joined.PlayerNumber)
		assert.Equal(t, name, joined.PlayerName)

		// The players list arrives in join order with display role labels.
		updates := c.received(protocol.EventPlayersUpdated)
		require.Len(t, updates, 1)
		var list protocol.PlayersUpdatedPayload
		require.NoError(t, json.Unmarshal(updates[0].Payload, &list))
		require.Len(t, list.Players, i+1)
		for j, p := range list.Players {
			assert.Equal(t, j+1, p.Number)
			assert.Equal(t, names[j], p.Name)
		}
		assert.Equal(t, "Player 1", list.Players[0].Role)
	}
}

func TestJoinReplyAndCatchUpOrder(t *testing.T) {
	r, _ := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")
	c := joinGame(t, r, "p1", "ABCD", "Alice")

	assert.Equal(t, []string{
		protocol.EventGameJoined,
		protocol.EventPlayersUpdated,
		protocol.EventSyncGameState,
	}, c.types())
}

func TestJoinerReceivesCurrentSnapshot(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")

	// Host advances the state before anyone joins.
	state := json.RawMessage(`{"score":5,"view":"wall"}`)
	r.HandleMessage(host, protocol.RawMessage(protocol.EventSyncState, state))

	c := joinGame(t, r, "p1", "ABCD", "Alice")
	catchUps := c.received(protocol.EventSyncGameState)
	require.Len(t, catchUps, 1)
	assert.JSONEq(t, string(state), string(catchUps[0].Payload))
}

func TestSyncStateFromHost(t *testing.T) {
	r, st := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	host.clear()
	alice.clear()
	bob.clear()

	state := json.RawMessage(`{"score":5,"nested":{"wallTiles":["a","b"],"lives":2}}`)
	r.HandleMessage(host, protocol.RawMessage(protocol.EventSyncState, state))

	s, ok := st.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, string(state), string(s.State()))

	// Round-trip identity for every other connection; the sender does not
	// receive its own update back.
	for _, p := range []*fakeConn{alice, bob} {
		got := p.received(protocol.EventSyncGameState)
		require.Len(t, got, 1)
		assert.Equal(t, string(state), string(got[0].Payload))
	}
	assert.Empty(t, host.received(protocol.EventSyncGameState))
}

func TestSyncStateFromPlayerIgnored(t *testing.T) {
	r, st := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")

	s, ok := st.Get("ABCD")
	require.True(t, ok)
	before := string(s.State())
	host.clear()
	alice.clear()
	bob.clear()

	r.HandleMessage(alice, protocol.RawMessage(protocol.EventSyncState, json.RawMessage(`{"score":999}`)))

	assert.Equal(t, before, string(s.State()), "a non-host snapshot never changes stored state")
	assert.Empty(t, host.received(protocol.EventSyncGameState))
	assert.Empty(t, bob.received(protocol.EventSyncGameState))
	assert.Empty(t, alice.types(), "no error reply either")
}

func TestSyncStateFromUnboundIgnored(t *testing.T) {
	r, st := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")

	stranger := &fakeConn{id: "x1"}
	r.HandleMessage(stranger, protocol.RawMessage(protocol.EventSyncState, json.RawMessage(`{"score":1}`)))

	s, _ := st.Get("ABCD")
	assert.NotContains(t, string(s.State()), `"score":1`)
	assert.Empty(t, stranger.types())
}

func TestBuzzInFromPlayer(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	host.clear()
	alice.clear()
	bob.clear()

	r.HandleMessage(alice, protocol.Message{Type: protocol.EventBuzzIn})

	// Everyone in the session hears the buzz, the host and the buzzer included.
	for _, c := range []*fakeConn{host, alice, bob} {
		buzzes := c.received(protocol.EventPlayerBuzzed)
		require.Len(t, buzzes, 1, "conn %s", c.id)
		var payload protocol.PlayerBuzzedPayload
		require.NoError(t, json.Unmarshal(buzzes[0].Payload, &payload))
		assert.Equal(t, "Alice", payload.PlayerName)
		assert.Equal(t, "p1", payload.PlayerID)
	}
}

func TestBuzzInFromHostIgnored(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	host.clear()
	alice.clear()

	r.HandleMessage(host, protocol.Message{Type: protocol.EventBuzzIn})

	assert.Empty(t, host.received(protocol.EventPlayerBuzzed))
	assert.Empty(t, alice.received(protocol.EventPlayerBuzzed))
}

func TestBuzzInFromUnboundIgnored(t *testing.T) {
	r, _ := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")
	stranger := &fakeConn{id: "x1"}

	r.HandleMessage(stranger, protocol.Message{Type: protocol.EventBuzzIn})
	assert.Empty(t, stranger.types())
}

func TestHostActionBroadcastIncludesSender(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	host.clear()
	alice.clear()

	action := json.RawMessage(`{"type":"revealAnswer","question":3}`)
	r.HandleMessage(host, protocol.RawMessage(protocol.EventHostAction, action))

	for _, c := range []*fakeConn{host, alice} {
		got := c.received(protocol.EventGameAction)
		require.Len(t, got, 1, "conn %s", c.id)
		assert.Equal(t, string(action), string(got[0].Payload))
	}
}

func TestHostActionFromPlayerIgnored(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	host.clear()
	alice.clear()

	r.HandleMessage(alice, protocol.RawMessage(protocol.EventHostAction, json.RawMessage(`{"cheat":true}`)))

	assert.Empty(t, host.received(protocol.EventGameAction))
	assert.Empty(t, alice.received(protocol.EventGameAction))
}

func TestPlayerWallActionTagsSender(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	host.clear()
	alice.clear()
	bob.clear()

	action := json.RawMessage(`{"type":"selectTile","tile":7}`)
	r.HandleMessage(alice, protocol.RawMessage(protocol.EventPlayerWallAction, action))

	for _, c := range []*fakeConn{host, alice, bob} {
		got := c.received(protocol.EventWallAction)
		require.Len(t, got, 1, "conn %s", c.id)
		var payload protocol.WallActionPayload
		require.NoError(t, json.Unmarshal(got[0].Payload, &payload))
		assert.Equal(t, "p1", payload.PlayerID)
		assert.Equal(t, "Alice", payload.PlayerName)
		assert.JSONEq(t, string(action), string(payload.Action))
	}
}

func TestPlayerWallActionFromHostIgnored(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	host.clear()
	alice.clear()

	r.HandleMessage(host, protocol.RawMessage(protocol.EventPlayerWallAction, json.RawMessage(`{}`)))

	assert.Empty(t, host.received(protocol.EventWallAction))
	assert.Empty(t, alice.received(protocol.EventWallAction))
}

func TestHostDisconnectEndsSession(t *testing.T) {
	r, st := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	alice.clear()
	bob.clear()

	r.HandleDisconnect(host)

	for _, c := range []*fakeConn{alice, bob} {
		assert.Len(t, c.received(protocol.EventHostDisconnected), 1, "conn %s", c.id)
	}
	_, ok := st.Get("ABCD")
	assert.False(t, ok)

	// The code is free again for a later join attempt to fail cleanly.
	late := &fakeConn{id: "p3"}
	r.HandleMessage(late, event(t, protocol.EventJoinGame, protocol.JoinGamePayload{GameCode: "ABCD", PlayerName: "Carol"}))
	assert.Len(t, late.received(protocol.EventGameNotFound), 1)

	// Events from the orphaned players are silently dropped.
	alice.clear()
	bob.clear()
	r.HandleMessage(alice, protocol.Message{Type: protocol.EventBuzzIn})
	assert.Empty(t, alice.types())
	assert.Empty(t, bob.types())
}

func TestPlayerDisconnectUpdatesList(t *testing.T) {
	r, st := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	carol := joinGame(t, r, "p3", "ABCD", "Carol")
	host.clear()
	alice.clear()
	carol.clear()

	r.HandleDisconnect(bob)

	for _, c := range []*fakeConn{host, alice, carol} {
		updates := c.received(protocol.EventPlayersUpdated)
		require.Len(t, updates, 1, "conn %s", c.id)
		var list protocol.PlayersUpdatedPayload
		require.NoError(t, json.Unmarshal(updates[0].Payload, &list))
		require.Len(t, list.Players, 2)
		assert.Equal(t, "Alice", list.Players[0].Name)
		assert.Equal(t, 1, list.Players[0].Number)
		assert.Equal(t, "Carol", list.Players[1].Name)
		assert.Equal(t, 3, list.Players[1].Number, "no renumbering on departure")
	}

	s, ok := st.Get("ABCD")
	require.True(t, ok)
	assert.Equal(t, 2, s.PlayerCount())
}

func TestUnboundDisconnectNoOp(t *testing.T) {
	r, st := newTestRelay(t)
	createGame(t, r, "h1", "ABCD")

	r.HandleDisconnect(&fakeConn{id: "x1"})

	assert.Equal(t, 1, st.Count())
}

func TestMalformedPayloadsDropped(t *testing.T) {
	r, st := newTestRelay(t)

	c := &fakeConn{id: "c1"}
	r.HandleMessage(c, protocol.Message{Type: protocol.EventCreateGame, Payload: json.RawMessage(`"not an object"`)})
	r.HandleMessage(c, protocol.Message{Type: protocol.EventCreateGame, Payload: json.RawMessage(`{"gameCode":""}`)})
	r.HandleMessage(c, protocol.Message{Type: protocol.EventJoinGame, Payload: json.RawMessage(`{{`)})
	r.HandleMessage(c, protocol.Message{Type: "teleport"})

	assert.Empty(t, c.types())
	assert.Equal(t, 0, st.Count())
}

func TestSendFailureDoesNotAffectOthers(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	host.clear()
	bob.clear()
	alice.mu.Lock()
	alice.fail = true
	alice.mu.Unlock()

	state := json.RawMessage(`{"score":5}`)
	r.HandleMessage(host, protocol.RawMessage(protocol.EventSyncState, state))

	got := bob.received(protocol.EventSyncGameState)
	require.Len(t, got, 1)
	assert.Equal(t, string(state), string(got[0].Payload))
}

func TestPanicInOneSessionContained(t *testing.T) {
	r, st := newTestRelay(t)
	hostA := createGame(t, r, "h1", "AAAA")
	badPlayer := joinGame(t, r, "p1", "AAAA", "Alice")
	badPlayer.mu.Lock()
	badPlayer.panics = true
	badPlayer.mu.Unlock()

	// The broadcast to the poisoned connection panics; the relay contains it.
	r.HandleMessage(hostA, protocol.RawMessage(protocol.EventSyncState, json.RawMessage(`{"score":1}`)))

	// Other sessions are unaffected.
	hostB := createGame(t, r, "h2", "BBBB")
	carol := joinGame(t, r, "p2", "BBBB", "Carol")
	carol.clear()
	r.HandleMessage(hostB, protocol.RawMessage(protocol.EventSyncState, json.RawMessage(`{"score":2}`)))
	assert.Len(t, carol.received(protocol.EventSyncGameState), 1)
	assert.Equal(t, 2, st.Count())
}

// The end-to-end flow of a game night: create, two joins, a state sync,
// and a departure.
func TestScenarioCreateJoinSyncDisconnect(t *testing.T) {
	r, _ := newTestRelay(t)
	host := createGame(t, r, "h1", "ABCD")
	alice := joinGame(t, r, "p1", "ABCD", "Alice")
	bob := joinGame(t, r, "p2", "ABCD", "Bob")
	host.clear()
	alice.clear()
	bob.clear()

	state := json.RawMessage(`{"score":5}`)
	r.HandleMessage(host, protocol.RawMessage(protocol.EventSyncState, state))

	for _, c := range []*fakeConn{alice, bob} {
		got := c.received(protocol.EventSyncGameState)
		require.Len(t, got, 1, "conn %s", c.id)
		assert.Equal(t, string(state), string(got[0].Payload))
	}

	host.clear()
	alice.clear()
	r.HandleDisconnect(bob)

	for _, c := range []*fakeConn{host, alice} {
		updates := c.received(protocol.EventPlayersUpdated)
		require.Len(t, updates, 1, "conn %s", c.id)
		var list protocol.PlayersUpdatedPayload
		require.NoError(t, json.Unmarshal(updates[0].Payload, &list))
		require.Len(t, list.Players, 1)
		assert.Equal(t, "Alice", list.Players[0].Name)
	}
}
