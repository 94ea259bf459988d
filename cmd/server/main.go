package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/internal/chat"
	"github.com/TotallyBullshit/SignalR/internal/server"
	"github.com/TotallyBullshit/SignalR/pkg/connection"
	"github.com/TotallyBullshit/SignalR/pkg/endpoint"
	"github.com/TotallyBullshit/SignalR/pkg/observability"
	"github.com/TotallyBullshit/SignalR/pkg/signaler"
	"github.com/TotallyBullshit/SignalR/pkg/signaler/badgerstore"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
	"github.com/TotallyBullshit/SignalR/pkg/transport"
	"github.com/TotallyBullshit/SignalR/pkg/transport/longpolling"
	"github.com/TotallyBullshit/SignalR/pkg/transport/sse"
	"github.com/TotallyBullshit/SignalR/pkg/transport/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := observability.Setup(observability.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Outputs: cfg.Outputs(),
		Rotation: observability.Rotation{
			Enabled:    true,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := signaler.NewBus(store, log.Named("bus"))

	// The chat hooks speak with the server's own identity.
	serverID := uuid.NewString()
	serverConn, err := connection.New(bus, cfg.EndpointName, serverID,
		signals.Compute(cfg.EndpointName, serverID, nil), nil)
	if err != nil {
		return fmt.Errorf("failed to build server connection: %w", err)
	}

	resolver := transport.NewResolver(longpolling.New(longpolling.Config{
		PollWait: cfg.PollWait,
		Log:      log.Named("longpolling"),
	}))
	resolver.Register(sse.New(sse.Config{
		KeepAlive: cfg.KeepAlive,
		Log:       log.Named("sse"),
	}))
	resolver.Register(websocket.New(websocket.Config{
		Log: log.Named("websocket"),
	}))

	ep, err := endpoint.New(endpoint.Config{
		Name:     cfg.EndpointName,
		Bus:      bus,
		Resolver: resolver,
		Hooks:    chat.NewHooks(serverConn, log.Named("chat")),
		Log:      log.Named("endpoint"),
	})
	if err != nil {
		return fmt.Errorf("failed to build endpoint: %w", err)
	}

	srv := server.New(server.Config{
		Address:  cfg.Address,
		BasePath: cfg.BasePath,
		Handler:  ep,
		Log:      log.Named("http"),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("address", cfg.Address),
			zap.String("endpoint", cfg.EndpointName),
			zap.String("base_path", cfg.BasePath),
			zap.String("store", cfg.Store))
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-sigChan:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}

	log.Info("server stopped")
	return nil
}

// openStore builds the configured message store. The returned func releases
// everything the store owns, including the Badger database when selected.
func openStore(cfg Config, log *zap.Logger) (signaler.Store, func(), error) {
	switch cfg.Store {
	case "badger":
		opts := badger.DefaultOptions(cfg.BadgerPath).
			WithLoggingLevel(badger.WARNING)
		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger at %s: %w", cfg.BadgerPath, err)
		}
		store, err := badgerstore.New(db, badgerstore.Config{Retention: cfg.Retention})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("using badger store",
			zap.String("path", cfg.BadgerPath),
			zap.Duration("retention", cfg.Retention))
		return store, func() {
			_ = store.Close()
			_ = db.Close()
		}, nil
	default:
		store := signaler.NewMemoryStore(cfg.MessageLimit)
		return store, func() { _ = store.Close() }, nil
	}
}
