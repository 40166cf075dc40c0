// Package relay implements the session coordination protocol: game creation
// and joining, role-gated forwarding of the authoritative game-state snapshot
// from host to players, the side-channel buzz and wall-action events, and
// session teardown on disconnect.
//
// The relay never inspects snapshot or action contents. Its single piece of
// business logic is role enforcement: only the recorded host connection may
// write the authoritative state, and role-restricted events from the wrong
// role are dropped without a reply (fail closed, fail quiet).
package relay

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/quizrelay/internal/game/protocol"
	"github.com/cory-johannsen/quizrelay/internal/game/session"
)

// RoleHost is the role tag assigned to the creating connection of a session.
const RoleHost = "host"

// Conn is the relay's view of one connected client: a stable identifier and a
// fire-and-forget send. Send errors are logged and never retried; a dropped
// message is not resent.
type Conn interface {
	ID() string
	Send(msg protocol.Message) error
}

// Handler receives connection events from the transport layer. The transport
// must deliver events for a single connection in order and one at a time.
type Handler interface {
	HandleConnect(c Conn)
	HandleMessage(c Conn, msg protocol.Message)
	HandleDisconnect(c Conn)
}

// binding records which session a connection belongs to and in what capacity.
// Bindings live in a side table owned by the relay; the transport's connection
// objects carry no protocol state.
type binding struct {
	code         string
	host         bool
	playerName   string
	playerNumber int
}

// Relay coordinates sessions over a set of connections. It implements Handler.
type Relay struct {
	store  *session.Store
	logger *zap.Logger

	mu       sync.RWMutex
	bindings map[string]binding         // conn id → binding
	rooms    map[string]map[string]Conn // game code → conn id → conn
}

// New creates a Relay backed by the given session store.
//
// Precondition: store and logger must be non-nil.
func New(store *session.Store, logger *zap.Logger) *Relay {
	return &Relay{
		store:    store,
		logger:   logger,
		bindings: make(map[string]binding),
		rooms:    make(map[string]map[string]Conn),
	}
}

// HandleConnect records nothing; a connection is unbound until it creates or
// joins a game.
func (r *Relay) HandleConnect(c Conn) {
	r.logger.Debug("client connected", zap.String("conn_id", c.ID()))
}

// HandleMessage dispatches one client event. Unknown event types are dropped.
// A panic while handling one session's event is contained here so that it
// never affects other sessions or the process.
func (r *Relay) HandleMessage(c Conn, msg protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic handling event",
				zap.String("event", msg.Type),
				zap.String("conn_id", c.ID()),
				zap.Any("panic", rec),
			)
		}
	}()

	switch msg.Type {
	case protocol.EventCreateGame:
		r.createGame(c, msg.Payload)
	case protocol.EventJoinGame:
		r.joinGame(c, msg.Payload)
	case protocol.EventBuzzIn:
		r.buzzIn(c)
	case protocol.EventHostAction:
		r.hostAction(c, msg.Payload)
	case protocol.EventSyncState:
		r.syncState(c, msg.Payload)
	case protocol.EventPlayerWallAction:
		r.playerWallAction(c, msg.Payload)
	default:
		r.logger.Debug("dropping unknown event",
			zap.String("event", msg.Type),
			zap.String("conn_id", c.ID()),
		)
	}
}

// HandleDisconnect tears down whatever the departed connection was bound to:
// the whole session if it hosted one, just its player record otherwise.
// Disconnect of an unbound connection is a no-op.
func (r *Relay) HandleDisconnect(c Conn) {
	r.mu.Lock()
	b, bound := r.bindings[c.ID()]
	if !bound {
		r.mu.Unlock()
		r.logger.Debug("unbound client disconnected", zap.String("conn_id", c.ID()))
		return
	}
	delete(r.bindings, c.ID())
	r.leaveRoomLocked(b.code, c.ID())
	r.mu.Unlock()

	if b.host {
		r.hostDisconnected(c, b.code)
		return
	}
	r.playerDisconnected(c, b)
}

func (r *Relay) createGame(c Conn, payload json.RawMessage) {
	var req protocol.CreateGamePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.GameCode == "" {
		r.logger.Debug("dropping malformed createGame", zap.String("conn_id", c.ID()))
		return
	}
	if r.isBound(c.ID()) {
		r.logger.Debug("dropping createGame from bound connection",
			zap.String("conn_id", c.ID()),
		)
		return
	}

	_, err := r.store.Create(req.GameCode, c.ID())
	if errors.Is(err, session.ErrCodeExists) {
		r.send(c, protocol.EventGameCodeExists, nil)
		return
	}
	if err != nil {
		r.logger.Error("creating session",
			zap.String("code", req.GameCode),
			zap.Error(err),
		)
		return
	}

	r.mu.Lock()
	r.bindings[c.ID()] = binding{code: req.GameCode, host: true}
	r.joinRoomLocked(req.GameCode, c)
	r.mu.Unlock()

	r.send(c, protocol.EventGameCreated, protocol.GameCreatedPayload{
		GameCode: req.GameCode,
		Role:     RoleHost,
	})
	r.logger.Info("game created",
		zap.String("code", req.GameCode),
		zap.String("host_id", c.ID()),
	)
}

func (r *Relay) joinGame(c Conn, payload json.RawMessage) {
	var req protocol.JoinGamePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.GameCode == "" {
		r.logger.Debug("dropping malformed joinGame", zap.String("conn_id", c.ID()))
		return
	}
	if r.isBound(c.ID()) {
		r.logger.Debug("dropping joinGame from bound connection",
			zap.String("conn_id", c.ID()),
		)
		return
	}

	s, ok := r.store.Get(req.GameCode)
	if !ok {
		r.send(c, protocol.EventGameNotFound, nil)
		return
	}

	p := s.AddPlayer(c.ID(), req.PlayerName)

	r.mu.Lock()
	r.bindings[c.ID()] = binding{
		code:         req.GameCode,
		playerName:   p.Name,
		playerNumber: p.Number,
	}
	r.joinRoomLocked(req.GameCode, c)
	r.mu.Unlock()

	r.send(c, protocol.EventGameJoined, protocol.GameJoinedPayload{
		GameCode:     req.GameCode,
		Role:         playerRoleTag(p.Number),
		PlayerNumber: p.Number,
		PlayerName:   p.Name,
	})
	r.broadcastPlayers(s)

	// One-time catch-up push of the current snapshot to the joiner. This is
	// a read of the stored state, not an update to it.
	if err := c.Send(protocol.RawMessage(protocol.EventSyncGameState, s.State())); err != nil {
		r.logger.Debug("dropping state catch-up", zap.String("conn_id", c.ID()), zap.Error(err))
	}

	r.logger.Info("player joined",
		zap.String("code", req.GameCode),
		zap.String("conn_id", c.ID()),
		zap.String("player", p.Name),
		zap.Int("number", p.Number),
	)
}

func (r *Relay) buzzIn(c Conn) {
	b, ok := r.playerBinding(c.ID())
	if !ok {
		return
	}
	if _, live := r.store.Get(b.code); !live {
		return
	}

	msg, err := protocol.NewMessage(protocol.EventPlayerBuzzed, protocol.PlayerBuzzedPayload{
		PlayerName: b.playerName,
		PlayerID:   c.ID(),
	})
	if err != nil {
		r.logger.Error("encoding playerBuzzed", zap.Error(err))
		return
	}
	r.broadcast(b.code, msg, "")
}

func (r *Relay) hostAction(c Conn, payload json.RawMessage) {
	b, ok := r.hostBinding(c.ID())
	if !ok {
		return
	}
	if _, live := r.store.Get(b.code); !live {
		return
	}
	// Forwarded verbatim to the whole session, sender included.
	r.broadcast(b.code, protocol.RawMessage(protocol.EventGameAction, payload), "")
}

func (r *Relay) syncState(c Conn, payload json.RawMessage) {
	b, ok := r.hostBinding(c.ID())
	if !ok {
		return
	}
	s, live := r.store.Get(b.code)
	if !live {
		return
	}

	s.SetState(payload)
	r.broadcast(b.code, protocol.RawMessage(protocol.EventSyncGameState, payload), c.ID())
}

func (r *Relay) playerWallAction(c Conn, payload json.RawMessage) {
	b, ok := r.playerBinding(c.ID())
	if !ok {
		return
	}
	if _, live := r.store.Get(b.code); !live {
		return
	}

	msg, err := protocol.NewMessage(protocol.EventWallAction, protocol.WallActionPayload{
		PlayerID:   c.ID(),
		PlayerName: b.playerName,
		Action:     payload,
	})
	if err != nil {
		r.logger.Error("encoding wallAction", zap.Error(err))
		return
	}
	r.broadcast(b.code, msg, "")
}

func (r *Relay) hostDisconnected(c Conn, code string) {
	msg, err := protocol.NewMessage(protocol.EventHostDisconnected, nil)
	if err == nil {
		r.broadcast(code, msg, "")
	}
	r.store.Delete(code)

	// Remaining members stay bound to the dead code; a connection binds at
	// most once for its lifetime. Their later events fail the session lookup
	// and are dropped. The room itself is released.
	r.mu.Lock()
	delete(r.rooms, code)
	r.mu.Unlock()

	r.logger.Info("game ended, host disconnected",
		zap.String("code", code),
		zap.String("host_id", c.ID()),
	)
}

func (r *Relay) playerDisconnected(c Conn, b binding) {
	s, ok := r.store.Get(b.code)
	if !ok {
		return
	}
	if !s.RemovePlayer(c.ID()) {
		return
	}
	r.broadcastPlayers(s)
	r.logger.Info("player left",
		zap.String("code", b.code),
		zap.String("conn_id", c.ID()),
		zap.String("player", b.playerName),
	)
}

// broadcastPlayers sends the current join-ordered player list to everyone in
// the session, host included.
func (r *Relay) broadcastPlayers(s *session.Session) {
	players := s.Players()
	infos := make([]protocol.PlayerInfo, len(players))
	for i, p := range players {
		infos[i] = protocol.PlayerInfo{
			ID:     p.ConnID,
			Name:   p.Name,
			Number: p.Number,
			Role:   p.Role,
		}
	}

	msg, err := protocol.NewMessage(protocol.EventPlayersUpdated, protocol.PlayersUpdatedPayload{
		Players: infos,
	})
	if err != nil {
		r.logger.Error("encoding playersUpdated", zap.Error(err))
		return
	}
	r.broadcast(s.Code(), msg, "")
}

// broadcast sends msg to every member of the session's room except excludeID.
// Sends are fire-and-forget; failures are logged and not retried.
func (r *Relay) broadcast(code string, msg protocol.Message, excludeID string) {
	r.mu.RLock()
	room := r.rooms[code]
	conns := make([]Conn, 0, len(room))
	for id, c := range room {
		if id != excludeID {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			r.logger.Debug("dropping broadcast",
				zap.String("event", msg.Type),
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
		}
	}
}

// send replies to a single connection.
func (r *Relay) send(c Conn, eventType string, payload any) {
	msg, err := protocol.NewMessage(eventType, payload)
	if err != nil {
		r.logger.Error("encoding reply", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := c.Send(msg); err != nil {
		r.logger.Debug("dropping reply",
			zap.String("event", eventType),
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
	}
}

func (r *Relay) isBound(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[connID]
	return ok
}

// playerBinding returns the binding for connID if it is bound as a player.
func (r *Relay) playerBinding(connID string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	if !ok || b.host {
		return binding{}, false
	}
	return b, true
}

// hostBinding returns the binding for connID if it is bound as a host.
func (r *Relay) hostBinding(connID string) (binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	if !ok || !b.host {
		return binding{}, false
	}
	return b, true
}

// joinRoomLocked adds c to the room for code. Caller holds r.mu.
func (r *Relay) joinRoomLocked(code string, c Conn) {
	room, ok := r.rooms[code]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[code] = room
	}
	room[c.ID()] = c
}

// leaveRoomLocked removes connID from the room for code. Caller holds r.mu.
func (r *Relay) leaveRoomLocked(code, connID string) {
	if room, ok := r.rooms[code]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, code)
		}
	}
}

// playerRoleTag is the compact role string used in the gameJoined reply.
func playerRoleTag(number int) string {
	return "player" + strconv.Itoa(number)
}
