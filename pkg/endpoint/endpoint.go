// Package endpoint implements the persistent connection endpoint: the
// negotiation handshake that issues client identities, and the HTTP entry
// point that binds each subsequent request to a transport session over the
// client's signal set.
package endpoint

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signaler"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
	"github.com/TotallyBullshit/SignalR/pkg/transport"
	"github.com/TotallyBullshit/SignalR/pkg/transport/longpolling"
)

// negotiateSuffix ends the path of a negotiation request, matched case
// insensitively.
const negotiateSuffix = "/negotiate"

// Config assembles an endpoint.
type Config struct {
	// Name is the endpoint's default signal and the namespace prefix of
	// its group signals. It is declared explicitly so signal names stay
	// stable across refactors.
	Name string

	// Bus delivers every message the endpoint's sessions produce and
	// consume.
	Bus *signaler.Bus

	// Resolver selects the transport serving a connect request. Nil means
	// a resolver carrying only the long polling fallback.
	Resolver *transport.Resolver

	// Hooks receives session lifecycle events. Nil means BaseHooks.
	Hooks Hooks

	Log *zap.Logger
}

// Endpoint serves one persistent connection namespace over HTTP. Requests
// whose path ends in /negotiate receive a fresh client identity; every other
// request is handed to a transport as one physical session for the identity
// it presents.
type Endpoint struct {
	name     string
	bus      *signaler.Bus
	resolver *transport.Resolver
	hooks    Hooks
	log      *zap.Logger
}

var _ http.Handler = (*Endpoint)(nil)

// New builds an endpoint. It fails fast on a missing name or bus.
func New(cfg Config) (*Endpoint, error) {
	if cfg.Name == "" {
		return nil, connection.ErrMissingDefaultSignal
	}
	if cfg.Bus == nil {
		return nil, errors.New("nil bus")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = transport.NewResolver(longpolling.New(longpolling.Config{Log: cfg.Log}))
	}
	if cfg.Hooks == nil {
		cfg.Hooks = BaseHooks{}
	}
	return &Endpoint{
		name:     cfg.Name,
		bus:      cfg.Bus,
		resolver: cfg.Resolver,
		hooks:    cfg.Hooks,
		log:      cfg.Log,
	}, nil
}

// Name returns the endpoint's default signal.
func (e *Endpoint) Name() string {
	return e.name
}

// Connection builds a handle that broadcasts into the endpoint's signal
// space on behalf of the given identity. Application code uses it to reach
// clients outside any session, with the server's own identity.
func (e *Endpoint) Connection(clientID string) (*connection.Connection, error) {
	return connection.New(e.bus, e.name, clientID, signals.Compute(e.name, clientID, nil), nil)
}

// ServeHTTP routes negotiation requests to the handshake and every other
// request to a transport session.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(strings.ToLower(r.URL.Path), negotiateSuffix) {
		e.negotiate(w, r)
		return
	}
	e.connect(w, r)
}

// negotiate issues a fresh client identity together with the URL the client
// connects back to: the request path with the negotiation suffix stripped.
func (e *Endpoint) negotiate(w http.ResponseWriter, r *http.Request) {
	resp := protocol.NegotiateResponse{
		URL:      r.URL.Path[:len(r.URL.Path)-len(negotiateSuffix)],
		ClientID: uuid.NewString(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		e.log.Warn("failed to write negotiate response", zap.Error(err))
		return
	}
	e.log.Debug("client negotiated",
		zap.String("clientId", resp.ClientID),
		zap.String("url", resp.URL))
}

// connect builds the session for one physical request and hands it to the
// resolved transport. The call returns when the transport's work for this
// request is done.
func (e *Endpoint) connect(w http.ResponseWriter, r *http.Request) {
	clientID := r.FormValue("clientId")
	if clientID == "" {
		http.Error(w, "missing clientId", http.StatusBadRequest)
		return
	}
	groups := signals.ParseGroups(r.FormValue("groups"))

	conn, err := connection.New(e.bus, e.name, clientID, signals.Compute(e.name, clientID, groups), groups)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tr := e.resolver.Resolve(r)
	if tr == nil {
		http.Error(w, "unknown transport", http.StatusBadRequest)
		return
	}
	sess := &transport.Session{
		Connection: conn,
		Events:     transport.NewLifecycle(&hookEvents{hooks: e.hooks, req: r, clientID: clientID}),
		Bus:        e.bus,
		Log:        e.log,
	}
	if err := tr.ProcessRequest(r.Context(), w, r, sess); err != nil {
		e.log.Warn("transport request failed",
			zap.String("transport", tr.Name()),
			zap.String("clientId", clientID),
			zap.Error(err))
	}
}
