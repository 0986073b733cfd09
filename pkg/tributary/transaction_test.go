// Copyright 2025 Tributary Protocol

package tributary

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
)

func TestTransaction_DkgSharesRoundTrip(t *testing.T) {
	tx := &DkgShares{
		Attempt: 2,
		Shares:  [][]byte{[]byte("share for 2"), []byte("share for 3")},
		Signed:  Signed{Nonce: 1},
	}
	copy(tx.ConfirmationNonces[:], bytes.Repeat([]byte{0xab}, 64))
	copy(tx.Signed.Signer[:], bytes.Repeat([]byte{0x01}, 32))

	decoded, err := Decode(Encode(tx))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	got, ok := decoded.(*DkgShares)
	if !ok {
		t.Fatalf("decoded to %T", decoded)
	}
	if got.Attempt != 2 || len(got.Shares) != 2 ||
		!bytes.Equal(got.Shares[1], []byte("share for 3")) ||
		got.ConfirmationNonces != tx.ConfirmationNonces ||
		got.Signed != tx.Signed {
		t.Error("round-trip changed the transaction")
	}
	if Hash(got) != Hash(tx) {
		t.Error("round-trip changed the hash")
	}
}

func TestTransaction_ProvidedRoundTrip(t *testing.T) {
	batch := &Batch{}
	copy(batch.Block[:], bytes.Repeat([]byte{0x11}, 32))
	copy(batch.ID[:], bytes.Repeat([]byte{0x22}, 32))

	decoded, err := Decode(Encode(batch))
	if err != nil {
		t.Fatalf("failed to decode batch: %v", err)
	}
	if got := decoded.(*Batch); *got != *batch {
		t.Error("batch round-trip mismatch")
	}

	block := &SubstrateBlock{Block: 90211}
	decoded, err = Decode(Encode(block))
	if err != nil {
		t.Fatalf("failed to decode substrate block: %v", err)
	}
	if got := decoded.(*SubstrateBlock); got.Block != 90211 {
		t.Errorf("block=%d, want 90211", got.Block)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Error("expected error for unknown kind")
	}

	// Trailing garbage after a valid transaction
	encoded := Encode(&SubstrateBlock{Block: 1})
	if _, err := Decode(append(encoded, 0x00)); err == nil {
		t.Error("expected error for trailing bytes")
	}

	// Declared length past the end of the buffer
	tx := &DkgCommitments{Attempt: 0, Commitments: []byte("data")}
	encoded = Encode(tx)
	encoded[5] = 0xff // corrupt the commitments length prefix
	if _, err := Decode(encoded); err == nil {
		t.Error("expected error for oversized length prefix")
	}
}

func TestTransaction_SignVerify(t *testing.T) {
	key, err := rcrypto.GeneratePrivateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	genesis := testGenesis()

	tx := &DkgCommitments{Attempt: 0, Commitments: []byte("commitments"), Signed: Signed{Nonce: 0}}
	if err := Sign(rand.Reader, key, genesis, tx); err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if tx.Signed.Signer != key.Public() {
		t.Error("signer not set to the signing key")
	}
	if !VerifySignature(genesis, tx) {
		t.Fatal("valid signature rejected")
	}

	// The signature binds the genesis
	var otherGenesis [32]byte
	copy(otherGenesis[:], "another genesis.................")
	if VerifySignature(otherGenesis, tx) {
		t.Error("signature verified under a different genesis")
	}

	// And the body
	tx.Attempt = 1
	if VerifySignature(genesis, tx) {
		t.Error("signature verified after body mutation")
	}
	tx.Attempt = 0

	// And the nonce
	tx.Signed.Nonce = 5
	if VerifySignature(genesis, tx) {
		t.Error("signature verified after nonce mutation")
	}
}
