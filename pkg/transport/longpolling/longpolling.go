// Package longpolling implements the default fallback transport. Every HTTP
// request is one short session: a connect returns the current cursor, a poll
// blocks until messages pass the cursor or the wait expires, and a POST
// carries one inbound message.
package longpolling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/transport"
)

// DefaultPollWait bounds how long a poll blocks before answering empty.
const DefaultPollWait = 30 * time.Second

// Config tunes the transport.
type Config struct {
	// PollWait bounds how long a poll blocks. DefaultPollWait when zero.
	PollWait time.Duration
	Log      *zap.Logger
}

// Transport is the long polling transport.
type Transport struct {
	wait time.Duration
	log  *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a long polling transport.
func New(cfg Config) *Transport {
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Transport{wait: cfg.PollWait, log: cfg.Log}
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return "longPolling"
}

// ProcessRequest serves one polling cycle: send, connect, or poll.
func (t *Transport) ProcessRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
	if r.Method == http.MethodPost {
		return t.processSend(ctx, w, r, sess)
	}

	rawCursor := r.FormValue("messageId")
	if rawCursor == "" {
		return t.processConnect(ctx, w, sess)
	}

	cursor, err := strconv.ParseUint(rawCursor, 10, 64)
	if err != nil {
		http.Error(w, "invalid messageId", http.StatusBadRequest)
		return fmt.Errorf("invalid messageId %q: %w", rawCursor, err)
	}
	return t.processPoll(ctx, w, sess, cursor)
}

// processSend hands one inbound message to the session without establishing
// a session of its own.
func (t *Transport) processSend(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
	payload := r.PostFormValue("data")
	if err := sess.Events.Received(ctx, []byte(payload)); err != nil {
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return fmt.Errorf("failed to process inbound message: %w", err)
	}
	return writeFrame(w, protocol.NewFrame(0, nil, nil))
}

// processConnect establishes the session and answers immediately with the
// cursor the client polls from.
func (t *Transport) processConnect(ctx context.Context, w http.ResponseWriter, sess *transport.Session) error {
	if err := sess.Events.Connected(ctx); err != nil {
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to connect", http.StatusInternalServerError)
		return fmt.Errorf("failed to connect session: %w", err)
	}
	latest, err := sess.Bus.Latest(ctx)
	if err != nil {
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to connect", http.StatusInternalServerError)
		return fmt.Errorf("failed to read latest cursor: %w", err)
	}

	t.log.Debug("polling client connected",
		zap.String("clientId", sess.Connection.ClientID()),
		zap.Uint64("cursor", latest))
	return writeFrame(w, protocol.NewFrame(latest, nil, sess.Connection.Groups()))
}

// processPoll blocks until messages pass the cursor or the wait expires.
func (t *Transport) processPoll(ctx context.Context, w http.ResponseWriter, sess *transport.Session, cursor uint64) error {
	sub, err := sess.Subscribe(cursor)
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	wctx, cancel := context.WithTimeout(ctx, t.wait)
	defer cancel()

	msgs, err := sub.Next(wctx)
	switch {
	case err == nil:
		payloads := make([][]byte, 0, len(msgs))
		for _, m := range msgs {
			payloads = append(payloads, m.Data)
		}
		return writeFrame(w, protocol.NewFrame(sub.Cursor(), payloads, sess.Groups(sub)))
	case ctx.Err() != nil:
		// The client went away; the logical connection may resume with a
		// later poll, so this is not a terminal event.
		t.log.Debug("poll aborted by client",
			zap.String("clientId", sess.Connection.ClientID()))
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return writeFrame(w, protocol.NewFrame(sub.Cursor(), nil, sess.Groups(sub)))
	default:
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to poll", http.StatusInternalServerError)
		return fmt.Errorf("failed to poll: %w", err)
	}
}

func writeFrame(w http.ResponseWriter, frame protocol.Frame) error {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}
