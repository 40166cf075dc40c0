// Package protocol defines the wire protocol between quiz clients and the
// relay: the JSON message envelope, the event names, and the payload types for
// events the relay itself constructs. Game-state snapshots and host/player
// action payloads are opaque to the relay and are carried as raw JSON.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every frame in both directions. Type selects the
// event; Payload carries the event-specific body and may be empty for events
// that have none (buzzIn, hostDisconnected, the negative replies).
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client-to-server event names.
const (
	EventCreateGame       = "createGame"
	EventJoinGame         = "joinGame"
	EventBuzzIn           = "buzzIn"
	EventHostAction       = "hostAction"
	EventSyncState        = "syncState"
	EventPlayerWallAction = "playerWallAction"
)

// Server-to-client event names.
const (
	EventGameCreated      = "gameCreated"
	EventGameCodeExists   = "gameCodeExists"
	EventGameJoined       = "gameJoined"
	EventGameNotFound     = "gameNotFound"
	EventPlayersUpdated   = "playersUpdated"
	EventSyncGameState    = "syncGameState"
	EventPlayerBuzzed     = "playerBuzzed"
	EventGameAction       = "gameAction"
	EventWallAction       = "wallAction"
	EventHostDisconnected = "hostDisconnected"
)

// CreateGamePayload is the body of a createGame request.
type CreateGamePayload struct {
	GameCode string `json:"gameCode"`
}

// JoinGamePayload is the body of a joinGame request.
type JoinGamePayload struct {
	GameCode   string `json:"gameCode"`
	PlayerName string `json:"playerName"`
}

// GameCreatedPayload is the positive reply to createGame.
type GameCreatedPayload struct {
	GameCode string `json:"gameCode"`
	Role     string `json:"role"`
}

// GameJoinedPayload is the positive reply to joinGame. Role is the compact
// role tag ("player3"), distinct from the display label carried in the
// players list ("Player 3").
type GameJoinedPayload struct {
	GameCode     string `json:"gameCode"`
	Role         string `json:"role"`
	PlayerNumber int    `json:"playerNumber"`
	PlayerName   string `json:"playerName"`
}

// PlayerInfo is one entry in a playersUpdated broadcast, in join order.
type PlayerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number int    `json:"number"`
	Role   string `json:"role"`
}

// PlayersUpdatedPayload is broadcast to a session whenever its player list
// changes (join or departure).
type PlayersUpdatedPayload struct {
	Players []PlayerInfo `json:"players"`
}

// PlayerBuzzedPayload is broadcast to a session when a player buzzes in.
type PlayerBuzzedPayload struct {
	PlayerName string `json:"playerName"`
	PlayerID   string `json:"playerId"`
}

// WallActionPayload wraps a player's wall-round action with the sender's
// identity before it is broadcast. Action is forwarded verbatim.
type WallActionPayload struct {
	PlayerID   string          `json:"playerId"`
	PlayerName string          `json:"playerName"`
	Action     json.RawMessage `json:"action"`
}

// NewMessage builds a Message of the given type. A nil payload produces an
// envelope with no body.
//
// Postcondition: Returns a Message whose Payload is valid JSON, or an error
// if payload cannot be marshalled.
func NewMessage(eventType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: eventType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	return Message{Type: eventType, Payload: raw}, nil
}

// RawMessage builds a Message that forwards an already-encoded payload
// without inspecting it.
func RawMessage(eventType string, payload json.RawMessage) Message {
	return Message{Type: eventType, Payload: payload}
}
