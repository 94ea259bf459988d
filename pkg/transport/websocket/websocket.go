// Package websocket implements the WebSocket transport. One upgraded
// connection is the whole session: a writer goroutine streams frames from
// the client's subscription while the request goroutine reads inbound
// messages.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signaler"
	"github.com/TotallyBullshit/SignalR/pkg/transport"
)

// Config tunes the transport.
type Config struct {
	Log *zap.Logger
}

// Transport is the WebSocket transport.
type Transport struct {
	log *zap.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New creates a WebSocket transport.
func New(cfg Config) *Transport {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &Transport{log: cfg.Log}
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return "webSockets"
}

// ProcessRequest upgrades the request and serves the session until either
// side closes the socket.
func (t *Transport) ProcessRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *transport.Session) error {
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
			http.Error(w, "failed to connect", http.StatusInternalServerError)
			return fmt.Errorf("failed to read latest cursor: %w", err)
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}
	defer conn.Close()

	if err := sess.Events.Connected(ctx); err != nil {
		sess.Events.Errored(ctx, err)
		return fmt.Errorf("failed to connect session: %w", err)
	}

	sub, err := sess.Subscribe(cursor)
	if err != nil {
		sess.Events.Errored(ctx, err)
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	t.log.Debug("websocket session opened",
		zap.String("clientId", sess.Connection.ClientID()),
		zap.String("remoteAddr", conn.RemoteAddr().String()),
		zap.Uint64("cursor", cursor))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			wsutil.WriteServerMessage(conn, ws.OpClose, nil)
			conn.Close()
		})
	}
	go func() {
		<-sctx.Done()
		closeConn()
	}()

	var writeErr error
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		writeErr = t.writeLoop(sctx, conn, sub, sess)
	}()

	readErr := t.readLoop(ctx, conn, sess)
	cancel()
	<-writerDone

	end := context.WithoutCancel(ctx)
	switch {
	case ctx.Err() != nil:
		sess.Events.Disconnected(end)
	case writeErr != nil:
		sess.Events.Errored(end, writeErr)
	case isCleanClose(readErr):
		sess.Events.Disconnected(end)
	default:
		sess.Events.Errored(end, readErr)
	}

	t.log.Debug("websocket session closed",
		zap.String("clientId", sess.Connection.ClientID()))
	return nil
}

// readLoop delivers inbound data messages until the socket fails or closes.
func (t *Transport) readLoop(ctx context.Context, conn net.Conn, sess *transport.Session) error {
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return err
		}
		if err := sess.Events.Received(ctx, data); err != nil {
			return fmt.Errorf("failed to process inbound message: %w", err)
		}
	}
}

// writeLoop streams subscription batches as text frames. It returns nil on
// session shutdown and the cause for genuine failures.
func (t *Transport) writeLoop(ctx context.Context, conn net.Conn, sub *signaler.Subscription, sess *transport.Session) error {
	for {
		msgs, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, signaler.ErrSubscriptionClosed) {
				return nil
			}
			return fmt.Errorf("failed to read messages: %w", err)
		}

		payloads := make([][]byte, 0, len(msgs))
		for _, m := range msgs {
			payloads = append(payloads, m.Data)
		}
		frame := protocol.NewFrame(sub.Cursor(), payloads, sess.Groups(sub))
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		if err := wsutil.WriteServerText(conn, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to write frame: %w", err)
		}
	}
}

func isCleanClose(err error) bool {
	if err == nil {
		return true
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
