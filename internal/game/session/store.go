package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/quizrelay/internal/game/protocol"
)

// ErrCodeExists is returned by Create when the game code is already in use.
var ErrCodeExists = errors.New("game code already in use")

// Store is the in-memory registry of active sessions, keyed by game code.
// It is the sole owner of session lifecycle. All methods are safe for
// concurrent use; the map lock is held only for map access, so activity on
// one session never serializes against another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session Store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create inserts a new session for the given code, bound to hostID as its
// host and seeded with the default game-state document.
//
// Precondition: code and hostID must be non-empty.
// Postcondition: Returns the new session, or ErrCodeExists if the code is
// already taken (the existing session is untouched).
func (st *Store) Create(code, hostID string) (*Session, error) {
	initial, err := json.Marshal(protocol.DefaultGameState())
	if err != nil {
		return nil, fmt.Errorf("encoding initial game state: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[code]; exists {
		return nil, ErrCodeExists
	}
	s := newSession(code, hostID, initial)
	st.sessions[code] = s
	return s, nil
}

// Get returns the session for the given code.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (st *Store) Get(code string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[code]
	return s, ok
}

// Delete removes the session for the given code. Deleting an absent code is
// a no-op.
func (st *Store) Delete(code string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, code)
}

// Count returns the number of active sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
