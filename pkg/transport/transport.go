// Package transport defines the contract between the persistent endpoint
// and its concrete transports: the blocking request-processing interface,
// the per-session event lifecycle, and the resolver that picks a transport
// for a request.
package transport

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/signaler"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
)

// Transport serves physical sessions bound to HTTP requests.
type Transport interface {
	// Name returns the identifier clients use to select the transport.
	Name() string

	// ProcessRequest serves the session bound to one HTTP request and
	// blocks on the request goroutine until its work is complete. For
	// streaming transports that is the whole session; for long polling it
	// is one poll or send cycle. Cancellation arrives through ctx when the
	// client goes away.
	ProcessRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, session *Session) error
}

// Session carries everything a transport needs to serve one request.
type Session struct {
	Connection *connection.Connection
	Events     *Lifecycle
	Bus        *signaler.Bus
	Log        *zap.Logger
}

// Subscribe opens a bus subscription for the session's signal set starting
// after cursor. The client's identity and command signals are protected
// from removal for the life of the subscription.
func (s *Session) Subscribe(cursor uint64) (*signaler.Subscription, error) {
	return s.Bus.Subscribe(signaler.SubscribeConfig{
		Signals:   s.Connection.Signals(),
		Since:     cursor,
		Protected: []string{s.Connection.ClientID(), s.Connection.ControlSignal()},
	})
}

// Groups maps the subscription's current group signals back to the group
// names a client re-presents when it reconnects.
func (s *Session) Groups(sub *signaler.Subscription) []string {
	var groups []string
	for _, sig := range sub.Signals() {
		if name, ok := signals.GroupName(s.Connection.DefaultSignal(), sig); ok {
			groups = append(groups, name)
		}
	}
	return groups
}

// Resolver selects the transport for a request from its transport
// parameter.
type Resolver struct {
	mu       sync.RWMutex
	byName   map[string]Transport
	fallback Transport
}

// NewResolver creates a resolver that falls back to the given transport
// when a request names no registered transport.
func NewResolver(fallback Transport) *Resolver {
	r := &Resolver{byName: make(map[string]Transport), fallback: fallback}
	if fallback != nil {
		r.byName[fallback.Name()] = fallback
	}
	return r
}

// Register makes a transport selectable by its name.
func (r *Resolver) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name()] = t
}

// Resolve returns the transport named by the request's transport parameter,
// or the fallback when the parameter is absent or unknown.
func (r *Resolver) Resolve(req *http.Request) Transport {
	name := req.URL.Query().Get("transport")
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byName[name]; ok {
		return t
	}
	return r.fallback
}
