// Copyright 2025 Tributary Protocol
//
// KV adapter transaction tests

package kvdb

import (
	"bytes"
	"testing"
)

func TestTxn_ReadYourWrites(t *testing.T) {
	db := NewMem()
	txn := db.Txn()

	if err := txn.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := txn.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("1")) {
		t.Errorf("read-your-writes: got %q, want %q", got, "1")
	}

	// Not visible outside the txn before commit
	outside, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("outside get failed: %v", err)
	}
	if outside != nil {
		t.Errorf("uncommitted write visible outside txn: %q", outside)
	}
}

func TestTxn_CommitFlushesAll(t *testing.T) {
	db := NewMem()
	txn := db.Txn()

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"a", "3"}} {
		if err := txn.Put([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	a, _ := db.Get([]byte("a"))
	if !bytes.Equal(a, []byte("3")) {
		t.Errorf("last write should win: got %q", a)
	}
	b, _ := db.Get([]byte("b"))
	if !bytes.Equal(b, []byte("2")) {
		t.Errorf("got %q, want %q", b, "2")
	}
}

func TestTxn_UnusableAfterCommit(t *testing.T) {
	db := NewMem()
	txn := db.Txn()
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	if err := txn.Put([]byte("a"), []byte("1")); err != ErrTxnFinished {
		t.Errorf("expected ErrTxnFinished, got %v", err)
	}
	if _, err := txn.Get([]byte("a")); err != ErrTxnFinished {
		t.Errorf("expected ErrTxnFinished, got %v", err)
	}
	if err := txn.Commit(); err != ErrTxnFinished {
		t.Errorf("expected ErrTxnFinished, got %v", err)
	}
}

func TestTxn_DiscardDropsWrites(t *testing.T) {
	db := NewMem()
	txn := db.Txn()
	if err := txn.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	txn.Discard()

	got, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != nil {
		t.Errorf("discarded write reached the store: %q", got)
	}
}
