// Copyright 2025 Tributary Protocol
//
// Schnorr Signatures over Ristretto (Pure Go)
// Signature suite for the Tributary coordination core
//
// This package provides:
// - Key generation (private/public key pairs)
// - Schnorrkel-style signing and verification over merlin transcripts
// - MuSig public-key aggregation (multiple keys -> single group key)
// - The threshold signing machine chain consumed by the DKG confirmer
//
// The suite must agree with the settlement chain's verifier: signatures are
// (R, s) pairs over ristretto255 with challenges drawn from a merlin
// transcript bound to a context string.

package rcrypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gtank/merlin"
	"github.com/gtank/ristretto255"
)

// Size constants
const (
	PrivateKeySize = 32 // ristretto255 scalar, canonical encoding
	PublicKeySize  = 32 // ristretto255 element, canonical encoding
	SignatureSize  = 64 // R (32 bytes) || s (32 bytes)
	PreprocessSize = 64 // D (32 bytes) || E (32 bytes)
	ShareSize      = 32 // signature share scalar
)

// Participant is a 1-indexed position within an ordered signing set.
type Participant uint16

func (p Participant) String() string {
	return fmt.Sprintf("participant %d", uint16(p))
}

// ParticipantError attributes a protocol failure to a specific participant.
// The coordinator treats these as Byzantine faults and slashes the offender.
type ParticipantError struct {
	Participant Participant
	Err         error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("%s: %v", e.Participant, e.Err)
}

func (e *ParticipantError) Unwrap() error {
	return e.Err
}

// Common errors
var (
	ErrInvalidPrivateKey = errors.New("invalid private key encoding")
	ErrInvalidPublicKey  = errors.New("invalid public key encoding")
	ErrInvalidSignature  = errors.New("invalid signature encoding")
	ErrNotAParticipant   = errors.New("signing key is not in the participant set")
	ErrDuplicatedKey     = errors.New("participant set contains a duplicated key")
	ErrMachineConsumed   = errors.New("signing machine already consumed")
)

// PrivateKey is a ristretto255 scalar.
type PrivateKey struct {
	scalar *ristretto255.Scalar
}

// GeneratePrivateKey generates a private key from the given entropy source.
func GeneratePrivateKey(rng io.Reader) (*PrivateKey, error) {
	if rng == nil {
		rng = rand.Reader
	}
	scalar, err := randomScalar(rng)
	if err != nil {
		return nil, fmt.Errorf("generate private scalar: %w", err)
	}
	return &PrivateKey{scalar: scalar}, nil
}

// PrivateKeyFromBytes decodes a canonical 32-byte scalar.
func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	scalar := ristretto255.NewScalar()
	if err := scalar.Decode(data); err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return &PrivateKey{scalar: scalar}, nil
}

// Bytes returns the canonical scalar encoding.
func (k *PrivateKey) Bytes() [PrivateKeySize]byte {
	var out [PrivateKeySize]byte
	copy(out[:], k.scalar.Encode(nil))
	return out
}

// Public returns the canonical encoding of the corresponding public key.
func (k *PrivateKey) Public() [PublicKeySize]byte {
	var out [PublicKeySize]byte
	pub := ristretto255.NewElement().ScalarBaseMult(k.scalar)
	copy(out[:], pub.Encode(nil))
	return out
}

// signingTranscript builds the Schnorrkel-style transcript for a message
// under a context string.
func signingTranscript(ctx, msg []byte) *merlin.Transcript {
	t := merlin.NewTranscript("SigningContext")
	t.AppendMessage([]byte(""), ctx)
	t.AppendMessage([]byte("sign-bytes"), msg)
	return t
}

// challenge derives the Schnorr challenge scalar from a signing transcript,
// the nonce commitment, and the public key the signature verifies under.
func challenge(t *merlin.Transcript, r []byte, pub []byte) *ristretto255.Scalar {
	t.AppendMessage([]byte("proto-name"), []byte("Schnorr-sig"))
	t.AppendMessage([]byte("sign:pk"), pub)
	t.AppendMessage([]byte("sign:R"), r)
	return scalarFromWide(t.ExtractBytes([]byte("sign:c"), 64))
}

// Sign produces a Schnorr signature over msg under the given context.
func Sign(rng io.Reader, key *PrivateKey, ctx, msg []byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte
	if rng == nil {
		rng = rand.Reader
	}

	nonce, err := randomScalar(rng)
	if err != nil {
		return sig, fmt.Errorf("generate signing nonce: %w", err)
	}
	bigR := ristretto255.NewElement().ScalarBaseMult(nonce)
	rBytes := bigR.Encode(nil)

	pub := key.Public()
	k := challenge(signingTranscript(ctx, msg), rBytes, pub[:])

	// s = k*x + r
	s := ristretto255.NewScalar().Multiply(k, key.scalar)
	s = s.Add(s, nonce)

	copy(sig[:32], rBytes)
	copy(sig[32:], s.Encode(nil))
	return sig, nil
}

// Verify checks a Schnorr signature over msg under the given context.
func Verify(pub [PublicKeySize]byte, ctx, msg []byte, sig [SignatureSize]byte) bool {
	pubPoint := ristretto255.NewElement()
	if err := pubPoint.Decode(pub[:]); err != nil {
		return false
	}
	bigR := ristretto255.NewElement()
	if err := bigR.Decode(sig[:32]); err != nil {
		return false
	}
	s := ristretto255.NewScalar()
	if err := s.Decode(sig[32:]); err != nil {
		return false
	}

	k := challenge(signingTranscript(ctx, msg), sig[:32], pub[:])

	// g*s == R + A*k
	lhs := ristretto255.NewElement().ScalarBaseMult(s)
	rhs := ristretto255.NewElement().ScalarMult(k, pubPoint)
	rhs = rhs.Add(rhs, bigR)
	return lhs.Equal(rhs) == 1
}

// randomScalar draws a uniform scalar from rng via wide reduction.
func randomScalar(rng io.Reader) (*ristretto255.Scalar, error) {
	var wide [64]byte
	if _, err := io.ReadFull(rng, wide[:]); err != nil {
		return nil, err
	}
	return ristretto255.NewScalar().FromUniformBytes(wide[:]), nil
}

// scalarFromWide reduces 64 uniform bytes to a scalar.
func scalarFromWide(wide []byte) *ristretto255.Scalar {
	if len(wide) != 64 {
		panic("scalarFromWide requires 64 bytes")
	}
	return ristretto255.NewScalar().FromUniformBytes(wide)
}

// participantBytes is the canonical transcript encoding of an index.
func participantBytes(p Participant) []byte {
	var out [2]byte
	binary.LittleEndian.PutUint16(out[:], uint16(p))
	return out[:]
}
