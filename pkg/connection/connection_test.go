package connection_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
)

type broadcastCall struct {
	signal string
	data   []byte
}

// fakeBus records broadcasts for assertions.
type fakeBus struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

var _ connection.Broadcaster = (*fakeBus)(nil)

func (f *fakeBus) Broadcast(_ context.Context, signal string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{signal: signal, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeBus) last(t *testing.T) broadcastCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no broadcast recorded")
	}
	return f.calls[len(f.calls)-1]
}

func newTestConnection(t *testing.T, bus *fakeBus) *connection.Connection {
	t.Helper()
	sigs := signals.Compute("MyApp.Chat", "abc-123", []string{"room1"})
	conn, err := connection.New(bus, "MyApp.Chat", "abc-123", sigs, []string{"room1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return conn
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		defaultSignal string
		clientID      string
		wantErr       error
	}{
		{"valid", "MyApp.Chat", "abc-123", nil},
		{"missing client id", "MyApp.Chat", "", connection.ErrMissingClientID},
		{"missing default signal", "", "abc-123", connection.ErrMissingDefaultSignal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := connection.New(&fakeBus{}, tt.defaultSignal, tt.clientID, nil, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
				return
			}
			if tt.wantErr == nil && conn.ClientID() != tt.clientID {
				t.Errorf("ClientID() = %v, want %v", conn.ClientID(), tt.clientID)
			}
		})
	}
}

func TestConnection_Accessors(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if got := conn.DefaultSignal(); got != "MyApp.Chat" {
		t.Errorf("DefaultSignal() = %v, want MyApp.Chat", got)
	}
	if got := conn.ControlSignal(); got != "abc-123.__SIGNALRCOMMAND__" {
		t.Errorf("ControlSignal() = %v, want abc-123.__SIGNALRCOMMAND__", got)
	}
	wantSigs := []string{"MyApp.Chat", "abc-123", "abc-123.__SIGNALRCOMMAND__", "MyApp.Chat.room1"}
	gotSigs := conn.Signals()
	if len(gotSigs) != len(wantSigs) {
		t.Fatalf("Signals() = %v, want %v", gotSigs, wantSigs)
	}
	for i := range wantSigs {
		if gotSigs[i] != wantSigs[i] {
			t.Errorf("Signals()[%d] = %v, want %v", i, gotSigs[i], wantSigs[i])
		}
	}
}

func TestConnection_Broadcast(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if err := conn.Broadcast(context.Background(), "other-client", map[string]string{"Text": "hi"}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	call := bus.last(t)
	if call.signal != "other-client" {
		t.Errorf("signal = %v, want other-client", call.signal)
	}
	if string(call.data) != `{"Text":"hi"}` {
		t.Errorf("data = %s, want {\"Text\":\"hi\"}", call.data)
	}
}

func TestConnection_BroadcastRawPayload(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	raw := json.RawMessage(`{"already":"encoded"}`)
	if err := conn.Broadcast(context.Background(), "abc-123", raw); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if got := string(bus.last(t).data); got != `{"already":"encoded"}` {
		t.Errorf("data = %s, want raw payload unchanged", got)
	}
}

func TestConnection_BroadcastEmptySignal(t *testing.T) {
	conn := newTestConnection(t, &fakeBus{})
	if err := conn.Broadcast(context.Background(), "", "x"); err == nil {
		t.Error("Broadcast() with empty signal should fail")
	}
}

func TestConnection_Send(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if err := conn.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := bus.last(t).signal; got != "MyApp.Chat" {
		t.Errorf("signal = %v, want MyApp.Chat", got)
	}
}

func TestConnection_SendToGroup(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if err := conn.SendToGroup(context.Background(), "room1", "hello"); err != nil {
		t.Fatalf("SendToGroup() error = %v", err)
	}
	if got := bus.last(t).signal; got != "MyApp.Chat.room1" {
		t.Errorf("signal = %v, want MyApp.Chat.room1", got)
	}
}

func TestConnection_AddToGroup(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if err := conn.AddToGroup(context.Background(), "other-client", "room2"); err != nil {
		t.Fatalf("AddToGroup() error = %v", err)
	}

	call := bus.last(t)
	if want := signals.Control("other-client"); call.signal != want {
		t.Errorf("signal = %v, want %v", call.signal, want)
	}
	cmd, err := protocol.DecodeCommand(call.data)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	want := protocol.Command{Kind: protocol.CommandAddToGroup, Target: "MyApp.Chat.room2"}
	if cmd != want {
		t.Errorf("command = %v, want %v", cmd, want)
	}
}

func TestConnection_RemoveFromGroup(t *testing.T) {
	bus := &fakeBus{}
	conn := newTestConnection(t, bus)

	if err := conn.RemoveFromGroup(context.Background(), "other-client", "room2"); err != nil {
		t.Fatalf("RemoveFromGroup() error = %v", err)
	}

	cmd, err := protocol.DecodeCommand(bus.last(t).data)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	want := protocol.Command{Kind: protocol.CommandRemoveFromGroup, Target: "MyApp.Chat.room2"}
	if cmd != want {
		t.Errorf("command = %v, want %v", cmd, want)
	}
}

func TestConnection_CommandValidation(t *testing.T) {
	conn := newTestConnection(t, &fakeBus{})
	ctx := context.Background()

	if err := conn.AddToGroup(ctx, "", "room1"); !errors.Is(err, connection.ErrMissingClientID) {
		t.Errorf("AddToGroup() error = %v, want ErrMissingClientID", err)
	}
	if err := conn.AddToGroup(ctx, "other", ""); err == nil {
		t.Error("AddToGroup() with empty group should fail")
	}
}

func TestConnection_DeliveryFailure(t *testing.T) {
	cause := errors.New("store unavailable")
	bus := &fakeBus{err: cause}
	conn := newTestConnection(t, bus)

	err := conn.Send(context.Background(), "hello")
	if !errors.Is(err, cause) {
		t.Errorf("Send() error = %v, want wrapped %v", err, cause)
	}
}
