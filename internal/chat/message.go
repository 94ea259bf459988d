// Package chat implements a room chat on top of a persistent endpoint:
// plain messages fan out to every client or to one room, and join/leave
// requests move clients between room groups.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadMessage reports an inbound payload that is not a valid chat message.
var ErrBadMessage = errors.New("bad chat message")

// Actions clients may request.
const (
	ActionSay   = "say"
	ActionJoin  = "join"
	ActionLeave = "leave"
)

// Event kinds the room broadcasts.
const (
	EventMessage  = "message"
	EventJoined   = "joined"
	EventLeft     = "left"
	EventPresence = "presence"
)

// Message is the payload clients send upstream. Say carries Text and an
// optional Room; Join and Leave require a Room, and Join may carry the
// display name the client wants to go by.
type Message struct {
	Action string `json:"Action"`
	Room   string `json:"Room,omitempty"`
	Name   string `json:"Name,omitempty"`
	Text   string `json:"Text,omitempty"`
}

// Event is the payload the room broadcasts downstream.
type Event struct {
	Kind   string `json:"Kind"`
	Room   string `json:"Room,omitempty"`
	Sender string `json:"Sender,omitempty"`
	Text   string `json:"Text,omitempty"`
	Count  int    `json:"Count,omitempty"`
}

// ParseMessage decodes and validates an inbound payload.
func ParseMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	switch msg.Action {
	case ActionSay:
		if msg.Text == "" {
			return Message{}, fmt.Errorf("%w: say needs text", ErrBadMessage)
		}
	case ActionJoin, ActionLeave:
		if msg.Room == "" {
			return Message{}, fmt.Errorf("%w: %s needs a room", ErrBadMessage, msg.Action)
		}
	case "":
		return Message{}, fmt.Errorf("%w: missing action", ErrBadMessage)
	default:
		return Message{}, fmt.Errorf("%w: unknown action %q", ErrBadMessage, msg.Action)
	}
	return msg, nil
}
