package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
)

// retryDelay spaces out polls after a failed request.
const retryDelay = 500 * time.Millisecond

// LongPollingClient is the longPolling transport client. Start issues the
// connect request, then a background loop re-polls with the last cursor;
// Send posts payloads as separate requests.
type LongPollingClient struct {
	cfg        Config
	log        *zap.Logger
	httpClient *http.Client
	frames     chan protocol.Frame

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	cancel   context.CancelFunc
	clientID string
	groups   []string
}

var _ Client = (*LongPollingClient)(nil)

// NewLongPolling creates a longPolling client.
func NewLongPolling(cfg Config) *LongPollingClient {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LongPollingClient{
		cfg:        cfg,
		log:        cfg.Log,
		httpClient: httpClient,
		frames:     make(chan protocol.Frame, 16),
		done:       make(chan struct{}),
		groups:     cfg.Groups,
	}
}

// Start negotiates an identity, issues the connect request, and begins
// polling from the cursor it returns.
func (c *LongPollingClient) Start(ctx context.Context) error {
	neg, err := Negotiate(ctx, c.httpClient, c.cfg.URL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.clientID = neg.ClientID
	c.mu.Unlock()

	frame, err := c.poll(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.setGroups(frame.Groups)

	// The poll loop outlives the Start context; Close ends it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pollLoop(loopCtx, frame.MessageID)
	return nil
}

// Send posts one payload to the endpoint.
func (c *LongPollingClient) Send(ctx context.Context, payload any) error {
	clientID := c.ClientID()
	if clientID == "" {
		return fmt.Errorf("not connected")
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("data", string(data))
	target := c.requestURL(clientID, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Frames streams the downstream frames.
func (c *LongPollingClient) Frames() <-chan protocol.Frame {
	return c.frames
}

// ClientID returns the negotiated identity.
func (c *LongPollingClient) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Close stops the poll loop.
func (c *LongPollingClient) Close() error {
	c.doneOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
	return nil
}

// pollLoop re-polls from the latest cursor, emitting frames that carry
// messages. Failed polls are retried after a short delay.
func (c *LongPollingClient) pollLoop(ctx context.Context, cursor uint64) {
	defer c.wg.Done()
	defer close(c.frames)

	for {
		select {
		case <-c.done:
			return
		default:
		}

		frame, err := c.poll(ctx, cursor, true)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("poll failed", zap.Error(err))
			select {
			case <-time.After(retryDelay):
				continue
			case <-c.done:
				return
			}
		}
		cursor = frame.MessageID
		c.setGroups(frame.Groups)

		if len(frame.Messages) == 0 {
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

// poll issues one connect or poll request and decodes the frame it answers
// with.
func (c *LongPollingClient) poll(ctx context.Context, cursor uint64, withCursor bool) (protocol.Frame, error) {
	extra := url.Values{}
	if withCursor {
		extra.Set("messageId", strconv.FormatUint(cursor, 10))
	}
	target := c.requestURL(c.ClientID(), extra)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to build poll request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return protocol.Frame{}, fmt.Errorf("poll failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var frame protocol.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to decode frame: %w", err)
	}
	return frame, nil
}

// setGroups adopts the membership a poll response reports. Polls present the
// current groups back to the endpoint: each poll is its own session, so
// membership gained through group commands would otherwise end with the poll
// that consumed them.
func (c *LongPollingClient) setGroups(groups []string) {
	c.mu.Lock()
	c.groups = groups
	c.mu.Unlock()
}

// Groups returns the membership reported by the latest poll.
func (c *LongPollingClient) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.groups...)
}

func (c *LongPollingClient) requestURL(clientID string, extra url.Values) string {
	q := connectValues(TransportLongPolling, clientID, c.Groups())
	for key, vals := range extra {
		for _, v := range vals {
			q.Set(key, v)
		}
	}
	return strings.TrimSuffix(c.cfg.URL, "/") + "?" + q.Encode()
}
