// Copyright 2025 Tributary Protocol
//
// kvdb package errors

package kvdb

import "errors"

var (
	// ErrTxnFinished is returned when a committed or discarded transaction
	// is used again.
	ErrTxnFinished = errors.New("transaction already committed or discarded")
)
