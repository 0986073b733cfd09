// Copyright 2025 Tributary Protocol
//
// Ledger package errors

package ledger

import "errors"

// Sentinel errors for ledger operations
var (
	// ErrAttemptRegression is returned when a caller tries to lower a
	// topic's attempt number. Attempts are monotone by invariant.
	ErrAttemptRegression = errors.New("attempt number may not decrease")

	// ErrDataExists is returned when a second write lands on the same
	// (data specification, signer) slot. The stored bytes are never
	// overwritten; the caller slashes the signer.
	ErrDataExists = errors.New("data already recorded for this signer")

	// ErrCorruptEntry is returned when a stored value fails to decode.
	// The store only holds values it encoded itself, so this indicates
	// storage corruption rather than adversarial input.
	ErrCorruptEntry = errors.New("corrupt ledger entry")
)
