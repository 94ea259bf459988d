// Package signaler implements the delivery layer of the messaging core: a
// message store with globally ordered cursors and a bus that fans stored
// messages out to per-client subscriptions. Group membership commands travel
// through the same store as ordinary messages and are consumed by the
// subscription they address, never surfaced to application code.
package signaler

import (
	"context"
	"errors"
	"time"
)

// ErrEmptySignal reports an attempt to broadcast on the empty signal.
var ErrEmptySignal = errors.New("empty signal")

// ErrSubscriptionClosed reports use of a subscription after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Message is one stored payload addressed to a single signal. IDs are
// globally monotonic across all signals and form the cursor space clients
// use to resume delivery.
type Message struct {
	ID        uint64
	Signal    string
	Data      []byte
	CreatedAt time.Time
}

// Store persists messages and serves cursor reads. Implementations must
// assign strictly increasing IDs across all signals and serve Since from a
// consistent snapshot.
type Store interface {
	// Save stores data on the given signal and returns the stored message
	// with its assigned ID.
	Save(ctx context.Context, signal string, data []byte) (Message, error)

	// Since returns all retained messages on any of the given signals with
	// ID greater than since, in ascending ID order, together with the
	// latest ID assigned across the whole store at the time of the read.
	Since(ctx context.Context, sigs []string, since uint64) ([]Message, uint64, error)

	// Latest returns the latest assigned ID, or zero for an empty store.
	Latest(ctx context.Context) (uint64, error)

	Close() error
}
