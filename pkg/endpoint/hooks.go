package endpoint

import (
	"context"
	"net/http"

	"github.com/TotallyBullshit/SignalR/pkg/transport"
)

// Hooks is the application surface of an endpoint. One value serves every
// session, so implementations must be safe for concurrent use; the session's
// client identity is passed into each call rather than held on the hook.
type Hooks interface {
	// Connected is called once when a client establishes its session.
	// Returning an error rejects the session.
	Connected(ctx context.Context, r *http.Request, clientID string) error

	// Received is called once per inbound application message. It may
	// block; the transport waits for it before completing the request.
	Received(ctx context.Context, clientID string, payload []byte) error

	// Errored is called when a session fails. No further calls follow for
	// that session.
	Errored(ctx context.Context, err error)

	// Disconnected is called when a session ends cleanly.
	Disconnected(ctx context.Context, clientID string)
}

// BaseHooks is a no-op Hooks. Embed it and override the calls that matter.
type BaseHooks struct{}

var _ Hooks = BaseHooks{}

func (BaseHooks) Connected(context.Context, *http.Request, string) error { return nil }

func (BaseHooks) Received(context.Context, string, []byte) error { return nil }

func (BaseHooks) Errored(context.Context, error) {}

func (BaseHooks) Disconnected(context.Context, string) {}

// hookEvents binds one session's lifecycle slots to the endpoint hooks,
// carrying the client identity and originating request explicitly.
type hookEvents struct {
	hooks    Hooks
	req      *http.Request
	clientID string
}

var _ transport.Events = (*hookEvents)(nil)

func (h *hookEvents) Connected(ctx context.Context) error {
	return h.hooks.Connected(ctx, h.req, h.clientID)
}

func (h *hookEvents) Received(ctx context.Context, payload []byte) error {
	return h.hooks.Received(ctx, h.clientID, payload)
}

func (h *hookEvents) Errored(ctx context.Context, err error) {
	h.hooks.Errored(ctx, err)
}

func (h *hookEvents) Disconnected(ctx context.Context) {
	h.hooks.Disconnected(ctx, h.clientID)
}
