// Copyright 2025 Tributary Protocol
//
// Validator-set primitives shared with the main settlement chain.
//
// MusigContext and SetKeysMessage are consensus constants. The on-chain
// verifier recomputes both when checking a published set_keys transaction,
// so every byte emitted here must match the runtime's encoding exactly.

package mainchain

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ValidatorSet identifies one validator set: the network it secures and the
// session (epoch) it was selected for.
type ValidatorSet struct {
	Network NetworkID
	Session uint32
}

// Encode returns the canonical encoding of the set key.
func (s ValidatorSet) Encode() []byte {
	out := make([]byte, 5)
	out[0] = byte(s.Network)
	binary.LittleEndian.PutUint32(out[1:], s.Session)
	return out
}

func (s ValidatorSet) String() string {
	return fmt.Sprintf("%s/%d", s.Network, s.Session)
}

// KeyPair is a generated key pair attested by a validator set: the
// Ristretto public key used on the settlement chain and the external
// network's public key.
type KeyPair struct {
	Substrate [32]byte
	External  []byte
}

// Encode returns the canonical encoding: the 32-byte substrate key followed
// by the length-prefixed external key.
func (k KeyPair) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(k.Substrate[:])
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(k.External)))
	buf.Write(length[:])
	buf.Write(k.External)
	return buf.Bytes()
}

// DecodeKeyPair parses an encoded KeyPair.
func DecodeKeyPair(data []byte) (KeyPair, error) {
	var k KeyPair
	if len(data) < 36 {
		return k, fmt.Errorf("key pair encoding too short: %d bytes", len(data))
	}
	copy(k.Substrate[:], data[:32])
	length := binary.BigEndian.Uint32(data[32:36])
	if uint32(len(data)-36) != length {
		return k, fmt.Errorf("key pair external key length mismatch: header %d, actual %d", length, len(data)-36)
	}
	k.External = append([]byte(nil), data[36:]...)
	return k, nil
}

// Signature is a 64-byte Schnorr signature as verified on-chain.
type Signature [64]byte

// MusigContext returns the domain-separation context binding a MuSig key
// aggregation to one validator set.
func MusigContext(set ValidatorSet) []byte {
	return append([]byte("ValidatorSets-musig_key"), set.Encode()...)
}

// SetKeysMessage returns the canonical message signed to attest a generated
// key pair for a validator set.
func SetKeysMessage(set ValidatorSet, keyPair KeyPair) []byte {
	var buf bytes.Buffer
	buf.WriteString("ValidatorSets-set_keys")
	buf.Write(set.Encode())
	buf.Write(keyPair.Encode())
	return buf.Bytes()
}

// SetKeys encodes the set_keys call published to the settlement chain. The
// chain is responsible for deduplicating repeated publications.
func SetKeys(network NetworkID, keyPair KeyPair, sig Signature) []byte {
	var buf bytes.Buffer
	buf.WriteString("ValidatorSets-call-set_keys")
	buf.WriteByte(byte(network))
	buf.Write(keyPair.Encode())
	buf.Write(sig[:])
	return buf.Bytes()
}
