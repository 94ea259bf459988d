// Package client implements clients for persistent endpoints. A client
// negotiates an identity, connects through one of the supported transports,
// and exposes the downstream frame stream alongside a Send path.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
)

// Transport names understood by New.
const (
	TransportWebSockets  = "webSockets"
	TransportLongPolling = "longPolling"
)

// Client is the transport-independent client surface.
type Client interface {
	// Start negotiates an identity and opens the transport session.
	Start(ctx context.Context) error

	// Send delivers one application payload to the endpoint. The payload
	// is JSON-marshaled; json.RawMessage passes through verbatim.
	Send(ctx context.Context, payload any) error

	// Frames streams downstream frames. The channel closes when the
	// session ends.
	Frames() <-chan protocol.Frame

	// ClientID returns the negotiated identity, empty before Start.
	ClientID() string

	// Close ends the session and releases the transport.
	Close() error
}

// Config assembles a client.
type Config struct {
	// URL is the endpoint base, e.g. "http://localhost:8080/chat".
	URL string

	// Groups to present at connect time.
	Groups []string

	// HTTPClient serves negotiation and polling requests.
	// http.DefaultClient when nil.
	HTTPClient *http.Client

	Log *zap.Logger
}

// New creates a client speaking the named transport.
func New(transport string, cfg Config) (Client, error) {
	switch transport {
	case TransportWebSockets:
		return NewWebSocket(cfg), nil
	case TransportLongPolling:
		return NewLongPolling(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}
}

// Negotiate performs the handshake that issues a client identity.
func Negotiate(ctx context.Context, httpClient *http.Client, baseURL string) (protocol.NegotiateResponse, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	target := strings.TrimSuffix(baseURL, "/") + "/negotiate"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return protocol.NegotiateResponse{}, fmt.Errorf("failed to build negotiate request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return protocol.NegotiateResponse{}, fmt.Errorf("failed to negotiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return protocol.NegotiateResponse{}, fmt.Errorf("negotiate failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var neg protocol.NegotiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&neg); err != nil {
		return protocol.NegotiateResponse{}, fmt.Errorf("failed to decode negotiate response: %w", err)
	}
	if neg.ClientID == "" {
		return protocol.NegotiateResponse{}, fmt.Errorf("negotiate response carries no client id")
	}
	return neg, nil
}

// connectValues builds the query parameters every connect request presents.
func connectValues(transport, clientID string, groups []string) url.Values {
	q := url.Values{}
	q.Set("transport", transport)
	q.Set("clientId", clientID)
	if len(groups) > 0 {
		q.Set("groups", strings.Join(groups, ","))
	}
	return q
}

func encodePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}
