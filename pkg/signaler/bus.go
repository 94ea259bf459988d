package signaler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Bus fans stored messages out to subscriptions. Broadcast and Subscribe are
// safe for concurrent use; per-signal delivery order follows store order.
type Bus struct {
	store Store
	log   *zap.Logger

	mu      sync.RWMutex
	waiters map[string]map[*Subscription]struct{}
}

// NewBus creates a bus over the given store. A nil logger disables logging.
func NewBus(store Store, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		store:   store,
		log:     log,
		waiters: make(map[string]map[*Subscription]struct{}),
	}
}

// Broadcast stores data on the given signal and wakes its subscribers.
// Success means the message was handed to the store; delivery to any
// particular subscriber is not acknowledged.
func (b *Bus) Broadcast(ctx context.Context, signal string, data []byte) error {
	if signal == "" {
		return ErrEmptySignal
	}
	msg, err := b.store.Save(ctx, signal, data)
	if err != nil {
		return fmt.Errorf("failed to save message on %q: %w", signal, err)
	}

	b.mu.RLock()
	for sub := range b.waiters[signal] {
		sub.wake()
	}
	b.mu.RUnlock()

	b.log.Debug("message broadcast",
		zap.String("signal", signal),
		zap.Uint64("id", msg.ID))
	return nil
}

// Latest returns the store's latest assigned ID, the cursor a fresh
// subscriber starts from.
func (b *Bus) Latest(ctx context.Context) (uint64, error) {
	return b.store.Latest(ctx)
}

// SubscribeConfig configures a subscription. Protected lists signals that
// group commands may never remove, typically the client's identity and
// command signals.
type SubscribeConfig struct {
	Signals   []string
	Since     uint64
	Protected []string
}

// Subscribe registers a subscription for the configured signals starting
// after the given cursor.
func (b *Bus) Subscribe(cfg SubscribeConfig) (*Subscription, error) {
	sub := &Subscription{
		bus:       b,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		members:   make(map[string]struct{}, len(cfg.Signals)),
		protected: make(map[string]struct{}, len(cfg.Protected)),
		cursor:    cfg.Since,
	}
	for _, sig := range cfg.Protected {
		sub.protected[sig] = struct{}{}
	}
	for _, sig := range cfg.Signals {
		if sig == "" {
			continue
		}
		if _, ok := sub.members[sig]; ok {
			continue
		}
		sub.members[sig] = struct{}{}
		sub.signals = append(sub.signals, sig)
		b.register(sub, sig)
	}
	if len(sub.signals) == 0 {
		return nil, errors.New("subscription needs at least one signal")
	}
	return sub, nil
}

// SubscriberCount returns the number of live subscriptions on a signal.
func (b *Bus) SubscriberCount(signal string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.waiters[signal])
}

func (b *Bus) register(sub *Subscription, signal string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.waiters[signal]
	if set == nil {
		set = make(map[*Subscription]struct{})
		b.waiters[signal] = set
	}
	set[sub] = struct{}{}
}

func (b *Bus) unregister(sub *Subscription, signal string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.waiters[signal]
	delete(set, sub)
	if len(set) == 0 {
		delete(b.waiters, signal)
	}
}
