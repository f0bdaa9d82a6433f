package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is one fan-out unit. Exactly one of Room, UserID or Broadcast
// addresses it.
type Envelope struct {
	Type       string          `json:"type"`
	Room       string          `json:"room,omitempty"`
	UserID     string          `json:"userId,omitempty"`
	Broadcast  bool            `json:"broadcast,omitempty"`
	ExceptUser string          `json:"exceptUser,omitempty"`
	Advisory   bool            `json:"advisory,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func newEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, OccurredAt: time.Now().UTC(), Payload: raw}, nil
}

// ToRoom addresses every connection joined to a chat room.
func ToRoom(chatID, eventType string, payload any) (Envelope, error) {
	env, err := newEnvelope(eventType, payload)
	env.Room = chatID
	return env, err
}

// ToUser addresses every connection of one user.
func ToUser(userID, eventType string, payload any) (Envelope, error) {
	env, err := newEnvelope(eventType, payload)
	env.UserID = userID
	return env, err
}

// ToAll addresses every connection on every node.
func ToAll(eventType string, payload any) (Envelope, error) {
	env, err := newEnvelope(eventType, payload)
	env.Broadcast = true
	return env, err
}

// Frame is what a client receives on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e Envelope) Frame() ([]byte, error) {
	return json.Marshal(Frame{Event: e.Type, Data: e.Payload})
}
