package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedCommand reports a group command that does not follow the wire
// contract. Delivery layers log such commands and drop them rather than
// surfacing them to application code.
var ErrMalformedCommand = errors.New("malformed group command")

// CommandKind identifies the group membership operation a command requests.
type CommandKind int

const (
	CommandAddToGroup CommandKind = iota
	CommandRemoveFromGroup
)

// String returns the wire name of the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandAddToGroup:
		return "AddToGroup"
	case CommandRemoveFromGroup:
		return "RemoveFromGroup"
	default:
		return "UNKNOWN"
	}
}

// Command is a group membership instruction delivered over a client's
// command signal. Target is the fully qualified group signal to add or
// remove.
type Command struct {
	Kind   CommandKind
	Target string
}

type commandEnvelope struct {
	Type   string `json:"Type"`
	Target string `json:"Target"`
}

// Encode encodes the command into its JSON wire form.
func (c Command) Encode() ([]byte, error) {
	switch c.Kind {
	case CommandAddToGroup, CommandRemoveFromGroup:
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformedCommand, int(c.Kind))
	}
	if c.Target == "" {
		return nil, fmt.Errorf("%w: missing target", ErrMalformedCommand)
	}
	data, err := json.Marshal(commandEnvelope{Type: c.Kind.String(), Target: c.Target})
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return data, nil
}

// DecodeCommand decodes the JSON wire form of a group command. It fails with
// ErrMalformedCommand when the kind is missing or unknown or the target is
// empty.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	var kind CommandKind
	switch env.Type {
	case "AddToGroup":
		kind = CommandAddToGroup
	case "RemoveFromGroup":
		kind = CommandRemoveFromGroup
	case "":
		return Command{}, fmt.Errorf("%w: missing kind", ErrMalformedCommand)
	default:
		return Command{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedCommand, env.Type)
	}
	if env.Target == "" {
		return Command{}, fmt.Errorf("%w: missing target", ErrMalformedCommand)
	}
	return Command{Kind: kind, Target: env.Target}, nil
}
