// Copyright 2025 Tributary Protocol
//
// Mempool package errors
//
// These are transient rejections surfaced to the submitter. They never
// affect ledger state.

package mempool

import "errors"

var (
	// ErrInvalidNonce rejects an application transaction whose nonce isn't
	// the signer's next expected nonce.
	ErrInvalidNonce = errors.New("transaction nonce is not the signer's next nonce")

	// ErrTooManyInMempool rejects an admission past the per-account cap.
	ErrTooManyInMempool = errors.New("too many transactions from this signer in the mempool")

	// ErrInvalidSignature rejects a transaction whose signature doesn't
	// verify.
	ErrInvalidSignature = errors.New("invalid transaction signature")

	// ErrInvalidSigner rejects a transaction from a key outside the
	// validator set.
	ErrInvalidSigner = errors.New("signer is not a validator")

	// ErrInvalidEvidence rejects malformed or unverifiable consensus
	// evidence.
	ErrInvalidEvidence = errors.New("invalid consensus evidence")
)
