// Package badgerstore provides a durable signaler.Store backed by BadgerDB.
// Messages are stored under globally ordered keys so cursor reads are a
// single key seek, and survive process restarts.
package badgerstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/TotallyBullshit/SignalR/pkg/signaler"
)

const (
	keyPrefix    = "msg:"
	seqBandwidth = 128
)

var seqKey = []byte("seq:message-id")

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeUnixMicro
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("badgerstore: invalid cbor options: %v", err))
	}
}

type record struct {
	ID        uint64    `cbor:"1,keyasint"`
	Signal    string    `cbor:"2,keyasint"`
	Data      []byte    `cbor:"3,keyasint"`
	CreatedAt time.Time `cbor:"4,keyasint"`
}

// Config tunes the store. Retention, when positive, expires messages after
// the given duration via Badger's native TTL.
type Config struct {
	Retention time.Duration
}

// Store is a durable signaler.Store. The caller owns the Badger database;
// Close releases only the ID sequence.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	ttl time.Duration

	mu     sync.RWMutex
	latest uint64
}

var _ signaler.Store = (*Store)(nil)

// New creates a store over an open Badger database and recovers the latest
// assigned message ID from it.
func New(db *badger.DB, cfg Config) (*Store, error) {
	seq, err := db.GetSequence(seqKey, seqBandwidth)
	if err != nil {
		return nil, fmt.Errorf("failed to open message id sequence: %w", err)
	}
	s := &Store{db: db, seq: seq, ttl: cfg.Retention}
	if err := s.recoverLatest(); err != nil {
		seq.Release()
		return nil, err
	}
	return s, nil
}

// Save stores data on the given signal under the next message ID.
func (s *Store) Save(_ context.Context, signal string, data []byte) (signaler.Message, error) {
	if signal == "" {
		return signaler.Message{}, signaler.ErrEmptySignal
	}

	// Serialized so that every ID at or below latest is committed before
	// any reader observes latest.
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.seq.Next()
	if err != nil {
		return signaler.Message{}, fmt.Errorf("failed to assign message id: %w", err)
	}
	msg := signaler.Message{
		ID:        n + 1,
		Signal:    signal,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}

	val, err := encMode.Marshal(record(msg))
	if err != nil {
		return signaler.Message{}, fmt.Errorf("failed to encode message: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(msg.ID), val)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return signaler.Message{}, fmt.Errorf("failed to store message: %w", err)
	}

	s.latest = msg.ID
	return msg, nil
}

// Since scans messages past the cursor on any of the signals.
func (s *Store) Since(_ context.Context, sigs []string, since uint64) ([]signaler.Message, uint64, error) {
	latest := s.latestID()
	if latest <= since {
		return nil, latest, nil
	}

	want := make(map[string]struct{}, len(sigs))
	for _, sig := range sigs {
		want[sig] = struct{}{}
	}

	var out []signaler.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(key(since + 1)); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			item := it.Item()
			id, err := parseKey(item.Key())
			if err != nil {
				return err
			}
			if id > latest {
				break
			}
			err = item.Value(func(val []byte) error {
				var rec record
				if err := cbor.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode message %d: %w", id, err)
				}
				if _, ok := want[rec.Signal]; ok {
					out = append(out, signaler.Message(rec))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan messages: %w", err)
	}
	return out, latest, nil
}

// Latest returns the latest assigned message ID.
func (s *Store) Latest(_ context.Context) (uint64, error) {
	return s.latestID(), nil
}

// Close releases the ID sequence. The underlying database stays open.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("failed to release message id sequence: %w", err)
	}
	return nil
}

func (s *Store) latestID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// recoverLatest finds the highest committed message ID, which may trail the
// sequence lease after an unclean shutdown.
func (s *Store) recoverLatest() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte(keyPrefix + "\xff"))
		if !it.ValidForPrefix([]byte(keyPrefix)) {
			return nil
		}
		id, err := parseKey(it.Item().Key())
		if err != nil {
			return err
		}
		s.latest = id
		return nil
	})
}

func key(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, id))
}

func parseKey(k []byte) (uint64, error) {
	id, err := strconv.ParseUint(string(k[len(keyPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed message key %q: %w", k, err)
	}
	return id, nil
}
