// Package protocol defines the JSON frames exchanged with browser clients.
// Every frame is an envelope {"type": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"errors"
)

// Inbound frame types.
const (
	TypePlayerUpdate     = "playerUpdate"
	TypeGatherResource   = "gatherResource"
	TypeChatMessage      = "chatMessage"
	TypeChangeName       = "changeName"
	TypeRequestGameState = "requestGameState"
	TypePing             = "ping"
)

// Outbound frame types. TypeChatMessage is shared by both directions.
const (
	TypeGameState       = "gameState"
	TypePlayerJoined    = "playerJoined"
	TypePlayerMoved     = "playerMoved"
	TypePlayerUpdated   = "playerUpdated"
	TypePlayerLeft      = "playerLeft"
	TypeResourceUpdated = "resourceUpdated"
	TypeResourceSpawned = "resourceSpawned"
	TypeAuthSuccess     = "authSuccess"
	TypeAuthError       = "authError"
	TypePong            = "pong"
)

// ErrValidation wraps every inbound frame that is malformed or fails schema validation.
var ErrValidation = errors.New("invalid frame")

// Envelope is the wire form of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound message before encoding.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode marshals an outbound frame.
func Encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Frame{Type: typ, Data: data})
}

// MustEncode is Encode for payloads that are known to marshal.
func MustEncode(typ string, data any) []byte {
	b, err := Encode(typ, data)
	if err != nil {
		panic("protocol: encoding " + typ + ": " + err.Error())
	}
	return b
}
