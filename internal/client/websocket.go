package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
)

// WebSocketClient is the webSockets transport client. The whole session is
// one socket: frames stream in over text messages and Send writes one text
// message per payload.
type WebSocketClient struct {
	cfg    Config
	log    *zap.Logger
	frames chan protocol.Frame

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	conn     *websocket.Conn
	clientID string
}

var _ Client = (*WebSocketClient)(nil)

// NewWebSocket creates a webSockets client.
func NewWebSocket(cfg Config) *WebSocketClient {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &WebSocketClient{
		cfg:    cfg,
		log:    cfg.Log,
		frames: make(chan protocol.Frame, 16),
		done:   make(chan struct{}),
	}
}

// Start negotiates an identity and dials the socket.
func (c *WebSocketClient) Start(ctx context.Context) error {
	neg, err := Negotiate(ctx, c.cfg.HTTPClient, c.cfg.URL)
	if err != nil {
		return err
	}

	target, err := c.dialURL(neg.ClientID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.clientID = neg.ClientID
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop(conn)
	return nil
}

// Send writes one payload as a text message.
func (c *WebSocketClient) Send(_ context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Frames streams the downstream frames.
func (c *WebSocketClient) Frames() <-chan protocol.Frame {
	return c.frames
}

// ClientID returns the negotiated identity.
func (c *WebSocketClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Close ends the session and waits for the reader to drain.
func (c *WebSocketClient) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

func (c *WebSocketClient) dialURL(clientID string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint url %q: %w", c.cfg.URL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint url scheme %q", u.Scheme)
	}
	u.RawQuery = connectValues(TransportWebSockets, clientID, c.cfg.Groups).Encode()
	return u.String(), nil
}

// readLoop decodes inbound text messages into frames until the socket ends.
func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("websocket read failed", zap.Error(err))
				}
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}
