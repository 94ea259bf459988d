package signaler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/TotallyBullshit/SignalR/pkg/protocol"
	"github.com/TotallyBullshit/SignalR/pkg/signals"
)

// Subscription is one client's live view of the bus: an ordered signal set
// and a cursor. Group commands arriving on a subscribed command signal
// mutate the signal set here with set semantics and are never returned from
// Next.
type Subscription struct {
	bus       *Bus
	notify    chan struct{}
	done      chan struct{}
	protected map[string]struct{}

	mu      sync.Mutex
	signals []string
	members map[string]struct{}
	cursor  uint64
	closed  bool
}

// Next blocks until at least one application message past the cursor is
// available and returns the batch in ascending ID order. It returns the
// context error on cancellation and ErrSubscriptionClosed after Close.
func (s *Subscription) Next(ctx context.Context) ([]Message, error) {
	for {
		select {
		case <-s.done:
			return nil, ErrSubscriptionClosed
		default:
		}

		msgs, latest, err := s.bus.store.Since(ctx, s.Signals(), s.Cursor())
		if err != nil {
			return nil, fmt.Errorf("failed to read messages: %w", err)
		}
		if app := s.consume(msgs, latest); len(app) > 0 {
			return app, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrSubscriptionClosed
		case <-s.notify:
		}
	}
}

// Cursor returns the ID of the last message the subscription has consumed.
func (s *Subscription) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Signals returns a copy of the current signal set in subscription order.
func (s *Subscription) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// Close releases the subscription. Blocked Next calls return
// ErrSubscriptionClosed.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sigs := append([]string(nil), s.signals...)
	close(s.done)
	s.mu.Unlock()

	for _, sig := range sigs {
		s.bus.unregister(s, sig)
	}
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// consume advances the cursor over a fetched batch, applying group commands
// and filtering them out. Removal takes effect within the batch; messages on
// a group added mid-batch start delivering from the next cursor.
func (s *Subscription) consume(msgs []Message, latest uint64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var app []Message
	for _, m := range msgs {
		if _, ok := s.members[m.Signal]; !ok {
			continue
		}
		if !signals.IsControl(m.Signal) {
			app = append(app, m)
			continue
		}
		cmd, err := protocol.DecodeCommand(m.Data)
		if err != nil {
			s.bus.log.Warn("dropping malformed group command",
				zap.String("signal", m.Signal),
				zap.Uint64("id", m.ID),
				zap.Error(err))
			continue
		}
		s.applyLocked(cmd)
	}
	if latest > s.cursor {
		s.cursor = latest
	}
	return app
}

func (s *Subscription) applyLocked(cmd protocol.Command) {
	switch cmd.Kind {
	case protocol.CommandAddToGroup:
		if _, ok := s.members[cmd.Target]; ok {
			return
		}
		s.members[cmd.Target] = struct{}{}
		s.signals = append(s.signals, cmd.Target)
		s.bus.register(s, cmd.Target)
	case protocol.CommandRemoveFromGroup:
		if _, ok := s.protected[cmd.Target]; ok {
			return
		}
		if _, ok := s.members[cmd.Target]; !ok {
			return
		}
		delete(s.members, cmd.Target)
		for i, sig := range s.signals {
			if sig == cmd.Target {
				s.signals = append(s.signals[:i], s.signals[i+1:]...)
				break
			}
		}
		s.bus.unregister(s, cmd.Target)
	}
}
