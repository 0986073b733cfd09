// Copyright 2025 Tributary Protocol
//
// KV Adapter for CometBFT Database Integration
// Wraps CometBFT's dbm.DB interface behind the transactional contract the
// ledger requires: every handler invocation runs inside one atomic Txn.

package kvdb

import (
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
)

// DB wraps a CometBFT dbm.DB and exposes atomic transactions.
type DB struct {
	db dbm.DB
}

// New creates a DB for the given underlying store.
func New(db dbm.DB) *DB {
	return &DB{db: db}
}

// NewMem creates a DB backed by an in-memory store. Used by tests and by
// tooling which doesn't need durability.
func NewMem() *DB {
	return New(dbm.NewMemDB())
}

// Get reads a key directly, outside any transaction. A missing key returns
// nil, nil.
func (d *DB) Get(key []byte) ([]byte, error) {
	return d.db.Get(key)
}

// Set writes a key directly with durable semantics.
func (d *DB) Set(key, value []byte) error {
	return d.db.SetSync(key, value)
}

// Delete removes a key directly.
func (d *DB) Delete(key []byte) error {
	return d.db.DeleteSync(key)
}

// IteratePrefix iterates all keys under the prefix.
func (d *DB) IteratePrefix(prefix []byte) (dbm.Iterator, error) {
	return dbm.IteratePrefix(d.db, prefix)
}

// Txn is an atomic transaction. Writes buffer in memory and become visible
// to Get calls on the same Txn immediately; nothing reaches the underlying
// store until Commit.
type Txn struct {
	mu      sync.Mutex
	db      *DB
	pending map[string][]byte
	order   []string
	done    bool
}

// Txn opens a new transaction.
func (d *DB) Txn() *Txn {
	return &Txn{db: d, pending: make(map[string][]byte)}
}

// Get reads through the transaction overlay, then the underlying store.
func (t *Txn) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxnFinished
	}
	if v, ok := t.pending[string(key)]; ok {
		// Copy so callers can't mutate the pending write. A present empty
		// value stays non-nil: nil means absent.
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return t.db.Get(key)
}

// Put buffers a write.
func (t *Txn) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnFinished
	}
	k := string(key)
	if _, ok := t.pending[k]; !ok {
		t.order = append(t.order, k)
	}
	t.pending[k] = append([]byte(nil), value...)
	return nil
}

// Commit flushes every buffered write atomically via a dbm write batch.
// The transaction is unusable afterwards.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return ErrTxnFinished
	}
	t.done = true

	batch := t.db.db.NewBatch()
	defer batch.Close()
	for _, k := range t.order {
		if err := batch.Set([]byte(k), t.pending[k]); err != nil {
			return fmt.Errorf("failed to stage txn write: %w", err)
		}
	}
	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("failed to commit txn: %w", err)
	}
	return nil
}

// Discard drops the transaction without writing.
func (t *Txn) Discard() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.pending = nil
	t.order = nil
}
