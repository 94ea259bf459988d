// Package connection provides the per-client handle through which both the
// endpoint and application code publish messages. A Connection binds a
// client identity to its endpoint's signal space; it holds no transport
// state and is safe to use from any goroutine.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
)

// ErrMissingClientID reports an operation that requires a client identity.
var ErrMissingClientID = errors.New("missing client id")

// ErrMissingDefaultSignal reports construction without a default signal.
var ErrMissingDefaultSignal = errors.New("missing default signal")

// Broadcaster is the delivery capability a connection writes through.
type Broadcaster interface {
	Broadcast(ctx context.Context, signal string, data []byte) error
}

// Connection is an immutable handle binding a client identity to an
// endpoint's signal space.
type Connection struct {
	bus           Broadcaster
	defaultSignal string
	clientID      string
	signals       []string
	groups        []string
}

// New assembles a connection handle. It fails fast on a missing client
// identity or default signal; it performs no I/O.
func New(bus Broadcaster, defaultSignal, clientID string, sigs, groups []string) (*Connection, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	if defaultSignal == "" {
		return nil, ErrMissingDefaultSignal
	}
	if bus == nil {
		return nil, errors.New("nil broadcaster")
	}
	return &Connection{
		bus:           bus,
		defaultSignal: defaultSignal,
		clientID:      clientID,
		signals:       append([]string(nil), sigs...),
		groups:        append([]string(nil), groups...),
	}, nil
}

// ClientID returns the client identity the handle was created for.
func (c *Connection) ClientID() string {
	return c.clientID
}

// DefaultSignal returns the endpoint's default signal.
func (c *Connection) DefaultSignal() string {
	return c.defaultSignal
}

// ControlSignal returns the signal on which this client receives group
// commands.
func (c *Connection) ControlSignal() string {
	return signals.Control(c.clientID)
}

// Signals returns a copy of the ordered signal set computed at creation.
func (c *Connection) Signals() []string {
	return append([]string(nil), c.signals...)
}

// Groups returns a copy of the group names requested at creation.
func (c *Connection) Groups() []string {
	return append([]string(nil), c.groups...)
}

// Broadcast sends value on an arbitrary signal. Values are JSON-marshaled;
// use json.RawMessage to pass a pre-encoded payload through verbatim.
func (c *Connection) Broadcast(ctx context.Context, signal string, value any) error {
	if signal == "" {
		return errors.New("empty signal")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := c.bus.Broadcast(ctx, signal, data); err != nil {
		return fmt.Errorf("failed to broadcast on %q: %w", signal, err)
	}
	return nil
}

// Send broadcasts value on the connection's default signal, reaching every
// client of the endpoint.
func (c *Connection) Send(ctx context.Context, value any) error {
	return c.Broadcast(ctx, c.defaultSignal, value)
}

// SendToGroup broadcasts value on the qualified signal of group.
func (c *Connection) SendToGroup(ctx context.Context, group string, value any) error {
	if group == "" {
		return errors.New("empty group")
	}
	return c.Broadcast(ctx, signals.Qualify(c.defaultSignal, group), value)
}

// AddToGroup asks the delivery layer to add clientID to group. The command
// is fire and forget: success means it was handed to the delivery layer;
// membership takes effect when the client's subscription consumes it.
func (c *Connection) AddToGroup(ctx context.Context, clientID, group string) error {
	return c.sendCommand(ctx, protocol.CommandAddToGroup, clientID, group)
}

// RemoveFromGroup asks the delivery layer to remove clientID from group,
// with the same fire and forget semantics as AddToGroup.
func (c *Connection) RemoveFromGroup(ctx context.Context, clientID, group string) error {
	return c.sendCommand(ctx, protocol.CommandRemoveFromGroup, clientID, group)
}

func (c *Connection) sendCommand(ctx context.Context, kind protocol.CommandKind, clientID, group string) error {
	if clientID == "" {
		return ErrMissingClientID
	}
	if group == "" {
		return errors.New("empty group")
	}
	cmd := protocol.Command{
		Kind:   kind,
		Target: signals.Qualify(c.defaultSignal, group),
	}
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	if err := c.bus.Broadcast(ctx, signals.Control(clientID), data); err != nil {
		return fmt.Errorf("failed to send %s command: %w", kind, err)
	}
	return nil
}
