package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the server configuration, read from the environment. A .env
// file in the working directory is loaded first when present.
type Config struct {
	// Address to listen on.
	Address string `env:"ADDRESS,default=:8080"`

	// EndpointName is the endpoint's default signal, e.g. "SignalR.Chat".
	EndpointName string `env:"ENDPOINT_NAME,default=SignalR.Chat" validate:"required"`

	// BasePath is where the endpoint is mounted.
	BasePath string `env:"BASE_PATH,default=/chat" validate:"startswith=/"`

	// Store selects the message store backend.
	Store string `env:"STORE,default=memory" validate:"oneof=memory badger"`

	// BadgerPath is the Badger database directory, used when Store is
	// "badger".
	BadgerPath string `env:"BADGER_PATH,default=data/messages" validate:"required_if=Store badger"`

	// Retention expires stored messages after this duration. Zero keeps
	// them until the per-signal limit evicts them.
	Retention time.Duration `env:"RETENTION,default=24h" validate:"min=0"`

	// MessageLimit bounds per-signal retention in the memory store.
	MessageLimit int `env:"MESSAGE_LIMIT,default=1000" validate:"gt=0"`

	// PollWait bounds how long a long poll blocks before answering empty.
	PollWait time.Duration `env:"POLL_WAIT,default=30s" validate:"gt=0"`

	// KeepAlive is the idle interval between SSE comment keepalives.
	KeepAlive time.Duration `env:"KEEP_ALIVE,default=15s" validate:"gt=0"`

	LogLevel   string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat  string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
	LogOutputs string `env:"LOG_OUTPUTS,default=stdout"`
}

// Validate checks the configuration against its constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Outputs splits the comma-separated log output list.
func (c Config) Outputs() []string {
	var outs []string
	for _, out := range strings.Split(c.LogOutputs, ",") {
		if out = strings.TrimSpace(out); out != "" {
			outs = append(outs, out)
		}
	}
	return outs
}
