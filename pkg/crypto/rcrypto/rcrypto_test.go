// Copyright 2025 Tributary Protocol
//
// Ristretto Schnorr suite tests

package rcrypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	encoded := key.Bytes()
	decoded, err := PrivateKeyFromBytes(encoded[:])
	if err != nil {
		t.Fatalf("failed to decode key: %v", err)
	}

	if decoded.Public() != key.Public() {
		t.Error("decoded key yields a different public key")
	}
}

func TestPrivateKeyFromBytes_Invalid(t *testing.T) {
	if _, err := PrivateKeyFromBytes(make([]byte, 16)); err == nil {
		t.Error("expected error for short encoding")
	}

	// A canonical scalar encoding must have its high bits clear; all-0xff
	// exceeds the group order.
	bad := bytes.Repeat([]byte{0xff}, 32)
	if _, err := PrivateKeyFromBytes(bad); err == nil {
		t.Error("expected error for non-canonical scalar")
	}
}

func TestSignVerify(t *testing.T) {
	key, err := GeneratePrivateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	ctx := []byte("substrate")
	msg := []byte("attested key pair")

	sig, err := Sign(rand.Reader, key, ctx, msg)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if !Verify(key.Public(), ctx, msg, sig) {
		t.Fatal("valid signature rejected")
	}

	// Wrong message
	if Verify(key.Public(), ctx, []byte("other message"), sig) {
		t.Error("signature verified for wrong message")
	}

	// Wrong context
	if Verify(key.Public(), []byte("other-context"), msg, sig) {
		t.Error("signature verified under wrong context")
	}

	// Wrong key
	other, _ := GeneratePrivateKey(rand.Reader)
	if Verify(other.Public(), ctx, msg, sig) {
		t.Error("signature verified under wrong key")
	}

	// Tampered signature
	tampered := sig
	tampered[40] ^= 0x01
	if Verify(key.Public(), ctx, msg, tampered) {
		t.Error("tampered signature verified")
	}
}

func TestMusigAggregation(t *testing.T) {
	keys := make([]*PrivateKey, 3)
	pubs := make([][PublicKeySize]byte, 3)
	for i := range keys {
		key, err := GeneratePrivateKey(rand.Reader)
		if err != nil {
			t.Fatalf("failed to generate key %d: %v", i, err)
		}
		keys[i] = key
		pubs[i] = key.Public()
	}

	context := []byte("musig test context")

	// Every participant derives the same group key and their own index
	var groupKey [PublicKeySize]byte
	for i, key := range keys {
		agg, err := Musig(context, key, pubs)
		if err != nil {
			t.Fatalf("participant %d failed to aggregate: %v", i, err)
		}
		if agg.I() != Participant(i+1) {
			t.Errorf("participant %d got index %d", i, agg.I())
		}
		if agg.N() != 3 {
			t.Errorf("participant %d got n=%d", i, agg.N())
		}
		if i == 0 {
			groupKey = agg.GroupKey()
		} else if agg.GroupKey() != groupKey {
			t.Errorf("participant %d derived a different group key", i)
		}
	}

	// A different context yields a different group key
	agg, err := Musig([]byte("another context"), keys[0], pubs)
	if err != nil {
		t.Fatalf("failed to aggregate under second context: %v", err)
	}
	if agg.GroupKey() == groupKey {
		t.Error("group key did not bind the context")
	}
}

func TestMusig_NotAParticipant(t *testing.T) {
	inSet, _ := GeneratePrivateKey(rand.Reader)
	outsider, _ := GeneratePrivateKey(rand.Reader)

	_, err := Musig([]byte("ctx"), outsider, [][PublicKeySize]byte{inSet.Public()})
	if err != ErrNotAParticipant {
		t.Errorf("expected ErrNotAParticipant, got %v", err)
	}
}

func TestMusig_DuplicatedKey(t *testing.T) {
	key, _ := GeneratePrivateKey(rand.Reader)
	pub := key.Public()

	_, err := Musig([]byte("ctx"), key, [][PublicKeySize]byte{pub, pub})
	if err != ErrDuplicatedKey {
		t.Errorf("expected ErrDuplicatedKey, got %v", err)
	}
}

func TestChaChaRNG_Deterministic(t *testing.T) {
	var seed [32]byte
	copy(seed[:], []byte("deterministic seed for testing!!"))

	a := make([]byte, 128)
	b := make([]byte, 128)
	if _, err := NewChaChaRNG(seed).Read(a); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if _, err := NewChaChaRNG(seed).Read(b); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same seed produced different streams")
	}

	seed[0] ^= 0x01
	c := make([]byte, 128)
	if _, err := NewChaChaRNG(seed).Read(c); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Error("different seeds produced the same stream")
	}
}
