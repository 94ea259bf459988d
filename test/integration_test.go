// Package test drives the full stack over real HTTP listeners: negotiation,
// transport sessions, room membership, and cross-transport delivery.
package test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/TotallyBullshit/SignalR/internal/chat"
	"github.com/TotallyBullshit/SignalR/internal/client"
	"github.com/TotallyBullshit/SignalR/internal/server"
	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/endpoint"
	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signaler"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
	"github.com/TotallyBullshit/SignalR/pkg/transport"
	"github.com/TotallyBullshit/SignalR/pkg/transport/longpolling"
	"github.com/TotallyBullshit/SignalR/pkg/transport/sse"
	"github.com/TotallyBullshit/SignalR/pkg/transport/websocket"
)

const endpointName = "SignalR.Chat"

type stack struct {
	addr    string
	baseURL string
	conn    *connection.Connection
}

// startStack assembles the production wiring on an ephemeral port: memory
// store, bus, chat hooks, all three transports, HTTP host.
func startStack(t *testing.T) *stack {
	t.Helper()
	log := zaptest.NewLogger(t)

	bus := signaler.NewBus(signaler.NewMemoryStore(0), log)
	serverConn, err := connection.New(bus, endpointName, "server-1",
		signals.Compute(endpointName, "server-1", nil), nil)
	require.NoError(t, err)

	resolver := transport.NewResolver(longpolling.New(longpolling.Config{
		PollWait: 300 * time.Millisecond,
		Log:      log,
	}))
	resolver.Register(sse.New(sse.Config{
		KeepAlive: 200 * time.Millisecond,
		Log:       log,
	}))
	resolver.Register(websocket.New(websocket.Config{Log: log}))

	ep, err := endpoint.New(endpoint.Config{
		Name:     endpointName,
		Bus:      bus,
		Resolver: resolver,
		Hooks:    chat.NewHooks(serverConn, log),
		Log:      log,
	})
	require.NoError(t, err)

	srv := server.New(server.Config{
		Address:  "127.0.0.1:0",
		BasePath: "/chat",
		Handler:  ep,
		Log:      log,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, srv.Stop(ctx))
		require.NoError(t, <-errc)
	})

	return &stack{
		addr:    srv.Addr(),
		baseURL: "http://" + srv.Addr() + "/chat",
		conn:    serverConn,
	}
}

func startChatClient(t *testing.T, cli client.Client) {
	t.Helper()
	require.NoError(t, cli.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, cli.Close())
	})
}

// waitEvent scans the client's frames until an event matches.
func waitEvent(t *testing.T, cli client.Client, what string, match func(chat.Event) bool) chat.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-cli.Frames():
			require.True(t, ok, "frame stream ended waiting for %s", what)
			for _, raw := range frame.Messages {
				var ev chat.Event
				if err := json.Unmarshal(raw, &ev); err != nil {
					continue
				}
				if match(ev) {
					return ev
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

// assertNoEvent fails if a matching event arrives within the window.
func assertNoEvent(t *testing.T, cli client.Client, within time.Duration, match func(chat.Event) bool) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case frame, ok := <-cli.Frames():
			if !ok {
				return
			}
			for _, raw := range frame.Messages {
				var ev chat.Event
				if err := json.Unmarshal(raw, &ev); err != nil {
					continue
				}
				if match(ev) {
					t.Fatalf("unexpected event: %+v", ev)
				}
			}
		case <-deadline:
			return
		}
	}
}

func TestIntegration_Negotiate(t *testing.T) {
	st := startStack(t)

	resp, err := http.Get(st.baseURL + "/negotiate")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var neg protocol.NegotiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&neg))
	require.Equal(t, "/chat", neg.URL)
	require.NotEmpty(t, neg.ClientID)
}

func TestIntegration_Healthz(t *testing.T) {
	st := startStack(t)

	resp, err := http.Get("http://" + st.addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestIntegration_ChatAcrossTransports(t *testing.T) {
	st := startStack(t)
	ctx := context.Background()

	wsCli := client.NewWebSocket(client.Config{
		URL:    st.baseURL,
		Groups: []string{"room1"},
		Log:    zaptest.NewLogger(t),
	})
	startChatClient(t, wsCli)

	lpCli := client.NewLongPolling(client.Config{
		URL: st.baseURL,
		Log: zaptest.NewLogger(t),
	})
	startChatClient(t, lpCli)

	// The WebSocket client announces itself; it was a room member from
	// connect time, so it sees its own join.
	require.NoError(t, wsCli.Send(ctx, chat.Message{
		Action: chat.ActionJoin, Room: "room1", Name: "ada",
	}))
	waitEvent(t, wsCli, "ada's join", func(ev chat.Event) bool {
		return ev.Kind == chat.EventJoined && ev.Sender == "ada" && ev.Room == "room1"
	})

	// The polling client joins; membership lands with its next poll.
	require.NoError(t, lpCli.Send(ctx, chat.Message{
		Action: chat.ActionJoin, Room: "room1", Name: "lin",
	}))
	require.Eventually(t, func() bool {
		return lo.Contains(lpCli.Groups(), "room1")
	}, 5*time.Second, 20*time.Millisecond, "membership never reached the polling client")
	waitEvent(t, wsCli, "lin's join", func(ev chat.Event) bool {
		return ev.Kind == chat.EventJoined && ev.Sender == "lin"
	})

	// Room traffic crosses transports in both directions.
	require.NoError(t, wsCli.Send(ctx, chat.Message{
		Action: chat.ActionSay, Room: "room1", Text: "hello from ws",
	}))
	got := waitEvent(t, lpCli, "the websocket client's message", func(ev chat.Event) bool {
		return ev.Kind == chat.EventMessage && ev.Text == "hello from ws"
	})
	require.Equal(t, "ada", got.Sender)
	require.Equal(t, "room1", got.Room)

	require.NoError(t, lpCli.Send(ctx, chat.Message{
		Action: chat.ActionSay, Room: "room1", Text: "hello from lp",
	}))
	got = waitEvent(t, wsCli, "the polling client's message", func(ev chat.Event) bool {
		return ev.Kind == chat.EventMessage && ev.Text == "hello from lp"
	})
	require.Equal(t, "lin", got.Sender)

	// Leaving stops room delivery for the polling client.
	require.NoError(t, lpCli.Send(ctx, chat.Message{
		Action: chat.ActionLeave, Room: "room1",
	}))
	require.Eventually(t, func() bool {
		return !lo.Contains(lpCli.Groups(), "room1")
	}, 5*time.Second, 20*time.Millisecond, "membership never left the polling client")
	waitEvent(t, wsCli, "lin's departure", func(ev chat.Event) bool {
		return ev.Kind == chat.EventLeft && ev.Sender == "lin"
	})

	require.NoError(t, wsCli.Send(ctx, chat.Message{
		Action: chat.ActionSay, Room: "room1", Text: "after the leave",
	}))
	waitEvent(t, wsCli, "the post-leave message", func(ev chat.Event) bool {
		return ev.Kind == chat.EventMessage && ev.Text == "after the leave"
	})
	assertNoEvent(t, lpCli, 600*time.Millisecond, func(ev chat.Event) bool {
		return ev.Kind == chat.EventMessage && ev.Text == "after the leave"
	})
}

func TestIntegration_BroadcastReachesEveryClient(t *testing.T) {
	st := startStack(t)
	ctx := context.Background()

	clients := make([]client.Client, 4)
	for i := range clients {
		cli, err := client.New(client.TransportLongPolling, client.Config{
			URL: st.baseURL,
			Log: zaptest.NewLogger(t),
		})
		require.NoError(t, err)
		startChatClient(t, cli)
		clients[i] = cli
	}

	require.NoError(t, clients[0].Send(ctx, chat.Message{
		Action: chat.ActionSay, Text: "hello everyone",
	}))

	for i, cli := range clients {
		got := waitEvent(t, cli, fmt.Sprintf("client %d's copy", i), func(ev chat.Event) bool {
			return ev.Kind == chat.EventMessage && ev.Text == "hello everyone"
		})
		require.Empty(t, got.Room)
	}
}

func TestIntegration_ServerSentEventsStream(t *testing.T) {
	st := startStack(t)

	neg, err := client.Negotiate(context.Background(), nil, st.baseURL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		st.baseURL+"?transport=serverSentEvents&clientId="+neg.ClientID, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan(), "stream ended before initialization")
	require.Equal(t, "data: initialized", scanner.Text())

	require.NoError(t, st.conn.Broadcast(context.Background(), neg.ClientID,
		map[string]string{"Text": "over the stream"}))

	var frame protocol.Frame
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame))
		if len(frame.Messages) > 0 {
			break
		}
	}
	require.NoError(t, scanner.Err())
	require.Len(t, frame.Messages, 1)
	require.JSONEq(t, `{"Text":"over the stream"}`, string(frame.Messages[0]))
}
