package signaler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMessageLimit bounds how many messages the in-memory store retains
// per signal before dropping the oldest.
const DefaultMessageLimit = 1000

// MemoryStore is an in-process Store. It retains up to limit messages per
// signal; clients polling from a cursor older than the retained window
// simply resume from the oldest retained message.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      uint64
	bySignal map[string][]Message
	limit    int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store retaining up to limit messages
// per signal. A non-positive limit selects DefaultMessageLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return &MemoryStore{
		bySignal: make(map[string][]Message),
		limit:    limit,
	}
}

// Save stores data on the given signal.
func (s *MemoryStore) Save(_ context.Context, signal string, data []byte) (Message, error) {
	if signal == "" {
		return Message{}, ErrEmptySignal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := Message{
		ID:        s.seq,
		Signal:    signal,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now(),
	}

	list := s.bySignal[signal]
	if len(list) >= s.limit {
		copy(list, list[1:])
		list = list[:len(list)-1]
	}
	s.bySignal[signal] = append(list, msg)
	return msg, nil
}

// Since returns retained messages past the cursor on any of the signals.
func (s *MemoryStore) Since(_ context.Context, sigs []string, since uint64) ([]Message, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, sig := range sigs {
		list := s.bySignal[sig]
		idx := sort.Search(len(list), func(i int) bool { return list[i].ID > since })
		out = append(out, list[idx:]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, s.seq, nil
}

// Latest returns the latest assigned ID.
func (s *MemoryStore) Latest(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
