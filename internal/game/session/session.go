// Package session owns the records for active quiz sessions: which connection
// hosts each game, which players have joined and in what order, and the latest
// authoritative game-state snapshot.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Player is one joined (non-host) participant in a session.
type Player struct {
	// ConnID is the connection identifier of the player's client.
	ConnID string
	// Name is the display name supplied at join time. Names are not
	// required to be unique within a session.
	Name string
	// Number is the 1-based player number assigned at join time. Numbers
	// are strictly increasing per session and never reused, even after a
	// player departs.
	Number int
	// Role is the display label derived from Number, e.g. "Player 2".
	Role string
}

// Session is a single game instance: one fixed host connection, an ordered
// list of players, and the current game-state snapshot.
// All methods are safe for concurrent use; operations on distinct sessions
// never contend.
type Session struct {
	code   string
	hostID string

	mu         sync.Mutex
	players    []Player
	nextNumber int
	state      json.RawMessage
}

// newSession builds a session bound to the given host connection with an
// empty player list and the provided initial snapshot.
func newSession(code, hostID string, initial json.RawMessage) *Session {
	return &Session{
		code:       code,
		hostID:     hostID,
		nextNumber: 1,
		state:      initial,
	}
}

// Code returns the session's game code.
func (s *Session) Code() string { return s.code }

// HostID returns the connection identifier of the session's host. The host is
// fixed at creation and never reassigned.
func (s *Session) HostID() string { return s.hostID }

// AddPlayer assigns the next player number to the given connection, appends
// the player to the join-ordered list, and returns the new record.
//
// Precondition: connID must not already be a player in this session; the
// caller enforces this via its one-binding-per-connection rule.
// Postcondition: The returned Player's Number is unique within the session
// and greater than every previously assigned number.
func (s *Session) AddPlayer(connID, name string) Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Player{
		ConnID: connID,
		Name:   name,
		Number: s.nextNumber,
		Role:   fmt.Sprintf("Player %d", s.nextNumber),
	}
	s.nextNumber++
	s.players = append(s.players, p)
	return p
}

// RemovePlayer removes the player with the given connection identifier,
// preserving the relative order and numbers of the remaining players.
//
// Postcondition: Returns true if a player was removed, false if connID was
// not a player in this session.
func (s *Session) RemovePlayer(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.players {
		if p.ConnID == connID {
			s.players = append(s.players[:i], s.players[i+1:]...)
			return true
		}
	}
	return false
}

// Players returns a copy of the player list in join order.
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Player, len(s.players))
	copy(out, s.players)
	return out
}

// PlayerCount returns the number of joined players.
func (s *Session) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// SetState replaces the stored snapshot wholesale. The snapshot is opaque to
// the session; readers never observe a partially applied update.
func (s *Session) SetState(raw json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = raw
}

// State returns the most recently stored snapshot.
func (s *Session) State() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
