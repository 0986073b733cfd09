// Copyright 2025 Tributary Protocol
//
// Tributary Topic Ledger
//
// The Store maps one Tributary's coordination state into the KV store. All
// writes flow through the caller's transaction: the handler opens one Txn
// per finalized transaction, and either every effect (data, slash flags,
// persisted nonces) commits or none do.
//
// CONCURRENCY: Store assumes single-writer access and is designed to be
// called from the Tributary's handler task only. Tributaries share no
// state; each genesis owns a disjoint key space.

package ledger

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
)

// Store provides access to one Tributary's ledger state.
type Store struct {
	genesis [32]byte
}

// NewStore creates a Store bound to a genesis.
func NewStore(genesis [32]byte) *Store {
	return &Store{genesis: genesis}
}

// Genesis returns the bound genesis identifier.
func (s *Store) Genesis() [32]byte {
	return s.genesis
}

// ====== KV Key Layout ======

var (
	keyAttemptPrefix          = []byte("tributary:attempt:")             // + genesis + topic -> u32
	keyDataPrefix             = []byte("tributary:data:")                // + genesis + data spec + signer -> bytes
	keyReceivedPrefix         = []byte("tributary:data_received:")       // + genesis + data spec -> u16 accumulated weight
	keyFatallySlashedPrefix   = []byte("tributary:fatally_slashed:")     // + genesis + account -> 0x01
	keyRecognizedTopicPrefix  = []byte("tributary:recognized_topic:")    // + genesis + topic -> 0x01
	keyConfirmationNoncesPref = []byte("tributary:confirmation_nonces:") // + genesis + u32 attempt -> nonce map
	keyCompletingKeyPairPref  = []byte("tributary:completing_key_pair:") // + genesis -> KeyPair
	keyKeyPairPrefix          = []byte("tributary:key_pair:")            // + validator set -> KeyPair
	keyPlanIDsPrefix          = []byte("tributary:plan_ids:")            // + genesis + u64 block -> plan id list
	keySessionNonceKey        = []byte("tributary:session_nonce:")       // + genesis -> u32 next signing nonce
)

func (s *Store) key(prefix []byte, parts ...[]byte) []byte {
	out := append(append([]byte(nil), prefix...), s.genesis[:]...)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func u32Bytes(v uint32) []byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return out[:]
}

func u64Bytes(v uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], v)
	return out[:]
}

// ====== Attempts & Topic Recognition ======

// RecognizeTopic marks a topic as authorized, opening its attempt counter
// at zero. Recognizing an already-recognized topic is a no-op.
func (s *Store) RecognizeTopic(txn *kvdb.Txn, topic tributary.Topic) error {
	recognized, err := s.TopicRecognized(txn, topic)
	if err != nil {
		return err
	}
	if recognized {
		return nil
	}
	if err := txn.Put(s.key(keyRecognizedTopicPrefix, topic.Encode()), []byte{1}); err != nil {
		return err
	}
	return txn.Put(s.key(keyAttemptPrefix, topic.Encode()), u32Bytes(0))
}

// TopicRecognized reports whether a topic has been recognized.
func (s *Store) TopicRecognized(txn *kvdb.Txn, topic tributary.Topic) (bool, error) {
	v, err := txn.Get(s.key(keyRecognizedTopicPrefix, topic.Encode()))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// Attempt returns the current attempt for a topic. ok is false when the
// topic has no attempt, which happens exactly when it was never recognized.
func (s *Store) Attempt(txn *kvdb.Txn, topic tributary.Topic) (attempt uint32, ok bool, err error) {
	v, err := txn.Get(s.key(keyAttemptPrefix, topic.Encode()))
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	if len(v) != 4 {
		return 0, false, ErrCorruptEntry
	}
	return binary.BigEndian.Uint32(v), true, nil
}

// SetAttempt advances a topic's attempt. Attempts are monotone; a
// regression is rejected.
func (s *Store) SetAttempt(txn *kvdb.Txn, topic tributary.Topic, attempt uint32) error {
	current, ok, err := s.Attempt(txn, topic)
	if err != nil {
		return err
	}
	if ok && (attempt < current) {
		return ErrAttemptRegression
	}
	return txn.Put(s.key(keyAttemptPrefix, topic.Encode()), u32Bytes(attempt))
}

// ====== Per-signer Data ======

// Data returns the bytes a signer recorded for a data specification. ok
// distinguishes an empty contribution (the local node's own share slot is
// a zero-length placeholder) from no contribution at all.
func (s *Store) Data(
	txn *kvdb.Txn, dataSpec tributary.DataSpecification, signer [32]byte,
) (data []byte, ok bool, err error) {
	v, err := txn.Get(s.key(keyDataPrefix, dataSpec.Encode(), signer[:]))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	if len(v) < 1 {
		return nil, false, ErrCorruptEntry
	}
	return v[1:], true, nil
}

// putData stores a contribution behind a presence byte, so zero-length
// contributions round-trip as present.
func (s *Store) putData(txn *kvdb.Txn, dataSpec tributary.DataSpecification, signer [32]byte, data []byte) error {
	return txn.Put(s.key(keyDataPrefix, dataSpec.Encode(), signer[:]), append([]byte{1}, data...))
}

// received returns the accumulated weight for a data specification.
func (s *Store) received(txn *kvdb.Txn, dataSpec tributary.DataSpecification) (uint16, error) {
	v, err := txn.Get(s.key(keyReceivedPrefix, dataSpec.Encode()))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	if len(v) != 2 {
		return 0, ErrCorruptEntry
	}
	return binary.BigEndian.Uint16(v), nil
}

// ====== Fatal Slashing ======

// SetFatallySlashed permanently marks an account as having committed an
// unambiguous protocol violation. One-way.
func (s *Store) SetFatallySlashed(txn *kvdb.Txn, account [32]byte) error {
	return txn.Put(s.key(keyFatallySlashedPrefix, account[:]), []byte{1})
}

// FatallySlashed reports whether an account has been fatally slashed.
func (s *Store) FatallySlashed(txn *kvdb.Txn, account [32]byte) (bool, error) {
	v, err := txn.Get(s.key(keyFatallySlashedPrefix, account[:]))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// ====== DKG Confirmation Nonces ======

// SaveConfirmationNonces persists the confirmation nonce bundle accumulated
// for an attempt. The DkgConfirmed handler reloads it when completing.
func (s *Store) SaveConfirmationNonces(
	txn *kvdb.Txn, attempt uint32, nonces map[rcrypto.Participant][]byte,
) error {
	participants := make([]rcrypto.Participant, 0, len(nonces))
	for p := range nonces {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })

	out := make([]byte, 0, 2+(len(nonces)*(2+4+64)))
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(participants)))
	out = append(out, u16[:]...)
	for _, p := range participants {
		binary.BigEndian.PutUint16(u16[:], uint16(p))
		out = append(out, u16[:]...)
		out = append(out, u32Bytes(uint32(len(nonces[p])))...)
		out = append(out, nonces[p]...)
	}
	return txn.Put(s.key(keyConfirmationNoncesPref, u32Bytes(attempt)), out)
}

// ConfirmationNonces loads the persisted nonce bundle for an attempt, or
// nil if none was saved.
func (s *Store) ConfirmationNonces(txn *kvdb.Txn, attempt uint32) (map[rcrypto.Participant][]byte, error) {
	v, err := txn.Get(s.key(keyConfirmationNoncesPref, u32Bytes(attempt)))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	if len(v) < 2 {
		return nil, ErrCorruptEntry
	}
	count := binary.BigEndian.Uint16(v)
	v = v[2:]
	nonces := make(map[rcrypto.Participant][]byte, count)
	for i := uint16(0); i < count; i++ {
		if len(v) < 6 {
			return nil, ErrCorruptEntry
		}
		p := rcrypto.Participant(binary.BigEndian.Uint16(v))
		length := binary.BigEndian.Uint32(v[2:6])
		v = v[6:]
		if uint32(len(v)) < length {
			return nil, ErrCorruptEntry
		}
		nonces[p] = append([]byte(nil), v[:length]...)
		v = v[length:]
	}
	if len(v) != 0 {
		return nil, ErrCorruptEntry
	}
	return nonces, nil
}

// ====== Key Pairs ======

// SaveCurrentlyCompletingKeyPair persists the key pair whose confirmation
// is in flight for this Tributary.
func (s *Store) SaveCurrentlyCompletingKeyPair(txn *kvdb.Txn, keyPair mainchain.KeyPair) error {
	return txn.Put(s.key(keyCompletingKeyPairPref), keyPair.Encode())
}

// CurrentlyCompletingKeyPair loads the in-flight key pair. ok is false
// when no confirmation is in flight.
func (s *Store) CurrentlyCompletingKeyPair(txn *kvdb.Txn) (mainchain.KeyPair, bool, error) {
	v, err := txn.Get(s.key(keyCompletingKeyPairPref))
	if err != nil {
		return mainchain.KeyPair{}, false, err
	}
	if v == nil {
		return mainchain.KeyPair{}, false, nil
	}
	keyPair, err := mainchain.DecodeKeyPair(v)
	if err != nil {
		return mainchain.KeyPair{}, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return keyPair, true, nil
}

// SaveKeyPair persists a confirmed key pair for a validator set.
func (s *Store) SaveKeyPair(txn *kvdb.Txn, set mainchain.ValidatorSet, keyPair mainchain.KeyPair) error {
	return txn.Put(append(append([]byte(nil), keyKeyPairPrefix...), set.Encode()...), keyPair.Encode())
}

// KeyPair loads the confirmed key pair for a validator set.
func (s *Store) KeyPair(txn *kvdb.Txn, set mainchain.ValidatorSet) (mainchain.KeyPair, bool, error) {
	v, err := txn.Get(append(append([]byte(nil), keyKeyPairPrefix...), set.Encode()...))
	if err != nil {
		return mainchain.KeyPair{}, false, err
	}
	if v == nil {
		return mainchain.KeyPair{}, false, nil
	}
	keyPair, err := mainchain.DecodeKeyPair(v)
	if err != nil {
		return mainchain.KeyPair{}, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	return keyPair, true, nil
}

// ====== Plan IDs ======

// SavePlanIDs records the signing plans a settlement-chain block emitted.
// Written when the SubstrateBlock transaction is provided.
func (s *Store) SavePlanIDs(txn *kvdb.Txn, block uint64, plans [][32]byte) error {
	out := make([]byte, 0, 4+(len(plans)*32))
	out = append(out, u32Bytes(uint32(len(plans)))...)
	for _, plan := range plans {
		out = append(out, plan[:]...)
	}
	return txn.Put(s.key(keyPlanIDsPrefix, u64Bytes(block)), out)
}

// PlanIDs loads the ordered plan list for a settlement-chain block. ok is
// false when the block was never provided for.
func (s *Store) PlanIDs(txn *kvdb.Txn, block uint64) ([][32]byte, bool, error) {
	v, err := txn.Get(s.key(keyPlanIDsPrefix, u64Bytes(block)))
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	if len(v) < 4 {
		return nil, false, ErrCorruptEntry
	}
	count := binary.BigEndian.Uint32(v)
	if uint32(len(v)-4) != count*32 {
		return nil, false, ErrCorruptEntry
	}
	plans := make([][32]byte, count)
	for i := range plans {
		copy(plans[i][:], v[4+(i*32):])
	}
	return plans, true, nil
}

// ====== Session Nonce Counter ======

// NextSessionNonces reserves count sequential signing-session nonces and
// returns the first. The counter starts past the nonces the DKG itself
// consumes.
func (s *Store) NextSessionNonces(txn *kvdb.Txn, count uint32) (uint32, error) {
	key := s.key(keySessionNonceKey)
	v, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	// Nonces 0-2 belong to the DKG: commitments, shares, confirmation.
	next := uint32(3)
	if v != nil {
		if len(v) != 4 {
			return 0, ErrCorruptEntry
		}
		next = binary.BigEndian.Uint32(v)
	}
	if err := txn.Put(key, u32Bytes(next+count)); err != nil {
		return 0, err
	}
	return next, nil
}
