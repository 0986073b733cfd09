// Copyright 2025 Tributary Protocol
//
// Tributary Specification - Immutable description of one validator set
//
// A Spec fixes the genesis identifier, the validator set key on the
// settlement chain, and the ordered participant list with per-validator key
// share weights. Its canonical serialization feeds transcripts (the DKG
// confirmer derives entropy from it), so the encoding is bit-exact and
// round-trips losslessly.

package tributary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
)

// Validator is one participant: their Ristretto public key and their key
// share weight.
type Validator struct {
	Key    [32]byte
	Weight uint16
}

// Spec describes one Tributary. Immutable once constructed.
type Spec struct {
	genesis    [32]byte
	set        mainchain.ValidatorSet
	validators []Validator
	n          uint16
}

// Construction errors
var (
	ErrNoValidators      = errors.New("spec requires at least one validator")
	ErrDuplicateKey      = errors.New("spec contains a duplicated validator key")
	ErrZeroWeight        = errors.New("validator weight must be non-zero")
	ErrTooManyShares     = errors.New("total weight exceeds MaxKeySharesPerSet")
	ErrNotInValidatorSet = errors.New("key is not a validator in this spec")
)

// NewSpec validates and constructs a Spec. Participant indices are assigned
// by position: the first validator is participant 1, and weights count
// toward the total share count n.
func NewSpec(genesis [32]byte, set mainchain.ValidatorSet, validators []Validator) (*Spec, error) {
	if len(validators) == 0 {
		return nil, ErrNoValidators
	}

	var n uint32
	seen := make(map[[32]byte]struct{}, len(validators))
	for _, v := range validators {
		if _, ok := seen[v.Key]; ok {
			return nil, ErrDuplicateKey
		}
		seen[v.Key] = struct{}{}
		if v.Weight == 0 {
			return nil, ErrZeroWeight
		}
		n += uint32(v.Weight)
	}
	if n > mainchain.MaxKeySharesPerSet {
		return nil, ErrTooManyShares
	}

	return &Spec{
		genesis:    genesis,
		set:        set,
		validators: append([]Validator(nil), validators...),
		n:          uint16(n),
	}, nil
}

// Genesis returns the 32-byte genesis identifier.
func (s *Spec) Genesis() [32]byte {
	return s.genesis
}

// Set returns the validator set key on the settlement chain.
func (s *Spec) Set() mainchain.ValidatorSet {
	return s.set
}

// Validators returns the ordered participant list.
func (s *Spec) Validators() []Validator {
	return append([]Validator(nil), s.validators...)
}

// Keys returns the ordered validator keys, as consumed by MuSig
// aggregation.
func (s *Spec) Keys() [][32]byte {
	keys := make([][32]byte, len(s.validators))
	for i, v := range s.validators {
		keys[i] = v.Key
	}
	return keys
}

// N returns the total key share count.
func (s *Spec) N() uint16 {
	return s.n
}

// T returns the BFT threshold: floor(2n/3) + 1.
func (s *Spec) T() uint16 {
	return ((2 * s.n) / 3) + 1
}

// I returns the 1-indexed participant index for a validator key.
func (s *Spec) I(key [32]byte) (rcrypto.Participant, error) {
	for i, v := range s.validators {
		if v.Key == key {
			return rcrypto.Participant(i + 1), nil
		}
	}
	return 0, ErrNotInValidatorSet
}

// Weight returns the key share weight of a participant.
func (s *Spec) Weight(p rcrypto.Participant) (uint16, error) {
	if (p == 0) || (int(p) > len(s.validators)) {
		return 0, fmt.Errorf("participant %d out of range [1, %d]", p, len(s.validators))
	}
	return s.validators[int(p)-1].Weight, nil
}

// Serialize returns the canonical encoding: genesis, network, session,
// validator count, then each (key, weight) pair in declaration order.
func (s *Spec) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(s.genesis[:])
	buf.WriteByte(byte(s.set.Network))

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], s.set.Session)
	buf.Write(u32[:])

	binary.LittleEndian.PutUint32(u32[:], uint32(len(s.validators)))
	buf.Write(u32[:])

	var u16 [2]byte
	for _, v := range s.validators {
		buf.Write(v.Key[:])
		binary.LittleEndian.PutUint16(u16[:], v.Weight)
		buf.Write(u16[:])
	}
	return buf.Bytes()
}

// ParseSpec decodes a canonical Spec serialization.
func ParseSpec(data []byte) (*Spec, error) {
	const header = 32 + 1 + 4 + 4
	if len(data) < header {
		return nil, fmt.Errorf("spec encoding too short: %d bytes", len(data))
	}

	var genesis [32]byte
	copy(genesis[:], data[:32])
	set := mainchain.ValidatorSet{
		Network: mainchain.NetworkID(data[32]),
		Session: binary.LittleEndian.Uint32(data[33:37]),
	}
	if !set.Network.Valid() {
		return nil, fmt.Errorf("spec names undefined network %d", data[32])
	}

	count := binary.LittleEndian.Uint32(data[37:41])
	const entry = 32 + 2
	if uint32(len(data)-header) != count*entry {
		return nil, fmt.Errorf("spec validator section length mismatch")
	}

	validators := make([]Validator, count)
	off := header
	for i := range validators {
		copy(validators[i].Key[:], data[off:off+32])
		validators[i].Weight = binary.LittleEndian.Uint16(data[off+32 : off+34])
		off += entry
	}

	return NewSpec(genesis, set, validators)
}

// Equal reports whether two specs are identical.
func (s *Spec) Equal(other *Spec) bool {
	return bytes.Equal(s.Serialize(), other.Serialize())
}
