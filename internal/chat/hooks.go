package chat

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/endpoint"
)

// Hooks wires the room chat onto a persistent endpoint. It broadcasts
// through the server's own connection handle, so everything it sends travels
// the same delivery path as client traffic.
type Hooks struct {
	conn   *connection.Connection
	roster *Roster
	log    *zap.Logger
}

var _ endpoint.Hooks = (*Hooks)(nil)

// NewHooks builds the chat hooks around the server's connection handle.
func NewHooks(conn *connection.Connection, log *zap.Logger) *Hooks {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hooks{
		conn:   conn,
		roster: NewRoster(),
		log:    log,
	}
}

// Roster returns the shared roster, mainly for inspection.
func (h *Hooks) Roster() *Roster {
	return h.roster
}

// Connected adds the client to the roster and announces the new presence
// count to every client.
func (h *Hooks) Connected(ctx context.Context, _ *http.Request, clientID string) error {
	h.roster.Add(clientID)
	h.log.Info("client connected", zap.String("clientId", clientID))
	return h.conn.Send(ctx, Event{Kind: EventPresence, Count: h.roster.Count()})
}

// Received dispatches one inbound chat message.
func (h *Hooks) Received(ctx context.Context, clientID string, payload []byte) error {
	msg, err := ParseMessage(payload)
	if err != nil {
		return err
	}

	switch msg.Action {
	case ActionSay:
		ev := Event{
			Kind:   EventMessage,
			Room:   msg.Room,
			Sender: h.roster.Name(clientID),
			Text:   msg.Text,
		}
		if msg.Room == "" {
			return h.conn.Send(ctx, ev)
		}
		return h.conn.SendToGroup(ctx, msg.Room, ev)

	case ActionJoin:
		if msg.Name != "" {
			h.roster.SetName(clientID, msg.Name)
		}
		if err := h.conn.AddToGroup(ctx, clientID, msg.Room); err != nil {
			return err
		}
		h.log.Info("client joined room",
			zap.String("clientId", clientID),
			zap.String("room", msg.Room))
		return h.conn.SendToGroup(ctx, msg.Room, Event{
			Kind:   EventJoined,
			Room:   msg.Room,
			Sender: h.roster.Name(clientID),
		})

	case ActionLeave:
		if err := h.conn.RemoveFromGroup(ctx, clientID, msg.Room); err != nil {
			return err
		}
		h.log.Info("client left room",
			zap.String("clientId", clientID),
			zap.String("room", msg.Room))
		return h.conn.SendToGroup(ctx, msg.Room, Event{
			Kind:   EventLeft,
			Room:   msg.Room,
			Sender: h.roster.Name(clientID),
		})
	}
	return nil
}

// Errored logs the session failure.
func (h *Hooks) Errored(_ context.Context, err error) {
	h.log.Warn("session failed", zap.Error(err))
}

// Disconnected removes the client and announces the new presence count.
func (h *Hooks) Disconnected(ctx context.Context, clientID string) {
	h.roster.Remove(clientID)
	h.log.Info("client disconnected", zap.String("clientId", clientID))
	if err := h.conn.Send(ctx, Event{Kind: EventPresence, Count: h.roster.Count()}); err != nil {
		h.log.Warn("failed to announce departure", zap.Error(err))
	}
}
