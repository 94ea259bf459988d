// Package sse implements the server-sent events transport. The downstream
// session is one GET request streaming frames as SSE data events; inbound
// messages arrive as separate POST requests.
package sse

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

// DefaultKeepAlive is the interval between comment keepalives on an idle
// stream.
const DefaultKeepAlive = 15 * time.Second

// Config tunes the transport.
type Config struct {
	// KeepAlive is the idle interval between comment keepalives.
	// DefaultKeepAlive when zero.
	KeepAlive time.Duration
	Log       *zap.Logger
}

// Transport is the server-sent events transport.
type Transport struct {
	keepAlive time.Duration
	log       *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a server-sent events transport.
func New(cfg Config) *Transport {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Transport{keepAlive: cfg.KeepAlive, log: cfg.Log}
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return "serverSentEvents"
}

// ProcessRequest streams frames for GET requests and accepts one inbound
// message for POST requests.
func (t *Transport) ProcessRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
	if r.Method == http.MethodPost {
		return t.processSend(ctx, w, r, sess)
	}
	return t.processStream(ctx, w, r, sess)
}

func (t *Transport) processSend(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
	payload := r.PostFormValue("data")
	if err := sess.Events.Received(ctx, []byte(payload)); err != nil {
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return fmt.Errorf("failed to process inbound message: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "{}")
	return nil
}

func (t *Transport) processStream(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return errors.New("response writer does not support flushing")
	}

	var cursor uint64
	if raw := r.URL.Query().Get("messageId"); raw != "" {
		var err error
		cursor, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid messageId", http.StatusBadRequest)
			return fmt.Errorf("invalid messageId %q: %w", raw, err)
		}
	} else {
		var err error
		cursor, err = sess.Bus.Latest(ctx)
		if err != nil {
			sess.Events.Errored(ctx, err)
			http.Error(w, "failed to connect", http.StatusInternalServerError)
			return fmt.Errorf("failed to read latest cursor: %w", err)
		}
	}

	if err := sess.Events.Connected(ctx); err != nil {
		sess.Events.Errored(ctx, err)
		http.Error(w, "failed to connect", http.StatusInternalServerError)
		return fmt.Errorf("failed to connect session: %w", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, "data: initialized\n\n")
	flusher.Flush()

	sub, err := sess.Subscribe(cursor)
	if err != nil {
		sess.Events.Errored(ctx, err)
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	t.log.Debug("event stream opened",
		zap.String("clientId", sess.Connection.ClientID()),
		zap.Uint64("cursor", cursor))

	for {
		wctx, cancel := context.WithTimeout(ctx, t.keepAlive)
		msgs, err := sub.Next(wctx)
		cancel()

		switch {
		case err == nil:
			payloads := make([][]byte, 0, len(msgs))
			for _, m := range msgs {
				payloads = append(payloads, m.Data)
			}
			frame := protocol.NewFrame(sub.Cursor(), payloads, sess.Groups(sub))
			data, err := json.Marshal(frame)
			if err != nil {
				sess.Events.Errored(ctx, err)
				return fmt.Errorf("failed to encode frame: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				sess.Events.Disconnected(context.WithoutCancel(ctx))
				return nil
			}
			flusher.Flush()
		case ctx.Err() != nil:
			sess.Events.Disconnected(context.WithoutCancel(ctx))
			return nil
		case errors.Is(err, context.DeadlineExceeded):
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				sess.Events.Disconnected(context.WithoutCancel(ctx))
				return nil
			}
			flusher.Flush()
		default:
			sess.Events.Errored(ctx, err)
			return fmt.Errorf("failed to read messages: %w", err)
		}
	}
}
