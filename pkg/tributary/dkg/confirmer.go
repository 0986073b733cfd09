// Copyright 2025 Tributary Protocol
//
// DKG Confirmer
//
// The confirmer attests the results of the DKG performed by the processors
// onto the settlement chain. This is done by a signature over the generated
// key pair by the validators' MuSig-aggregated public key. The aggregation
// achieves on-chain efficiency and prevents on-chain censorship of
// individual validators' DKG results by the set.
//
// Since the validators' own keys are the root of trust, the coordinator
// performs this signing itself. This is distinct from all other
// group-signing operations, which are generally done by the processor.
//
// Instead of maintaining state, the confirmer rebuilds the full machine on
// every call. This is acceptable re: performance as:
//
//  1. The DKG confirmation is only done upon the start of the Tributary.
//  2. This is an O(n) algorithm.
//  3. The size of the validator set is bounded by MaxKeySharesPerSet.
//
// As for safety: it is explicitly unsafe to reuse nonces across signing
// sessions, which is in tension with rebuilding from deterministic nonces.
// Safety is derived from the deterministic nonces being context-bound under
// a BFT protocol. The flow is:
//
//  1. Derive a deterministic nonce by hashing the private key, the
//     Tributary parameters, and the attempt.
//  2. Publish the nonce commitments, receiving everyone else's *and the DKG
//     shares determining the message to be signed*.
//  3. Sign and publish the signature share.
//
// For nonce reuse to occur, the received nonce commitments, or the received
// DKG shares, would have to be distinct and Share would have to be called
// again. Before any received message is acted on, it is ordered and
// finalized by the BFT algorithm, and reorganizations are not supported.
// The only way to operate on distinct received messages would be:
//
//  1. A logical flaw letting new messages overwrite prior messages.
//  2. Rebuilding the local process after a Byzantine fault produced
//     multiple blockchains, this time following the other chain.
//
// We assume the former doesn't exist. The latter is deemed acceptable but
// sub-optimal: the benefit is that a validator whose infrastructure
// collapses can successfully rebuild on a new system.
//
// TODO: Replace the derived seed with persisted random entropy, and confirm
// the on-chain preprocess matches the local preprocess before publishing
// shares. A validator whose infrastructure fails at this exact moment
// should just be kicked out and accept the loss.

package dkg

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gtank/merlin"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
)

// signingContext is the Schnorrkel context the settlement chain verifies
// set_keys signatures under.
var signingContext = []byte("substrate")

// entropy derives the deterministic nonce seed for (spec, key, attempt).
func entropy(spec *tributary.Spec, key *rcrypto.PrivateKey, attempt uint32) [32]byte {
	t := merlin.NewTranscript("DkgConfirmer Entropy")
	t.AppendMessage([]byte("spec"), spec.Serialize())
	keyBytes := key.Bytes()
	t.AppendMessage([]byte("key"), keyBytes[:])
	var attemptBytes [4]byte
	binary.LittleEndian.PutUint32(attemptBytes[:], attempt)
	t.AppendMessage([]byte("attempt"), attemptBytes[:])

	var seed [32]byte
	copy(seed[:], t.ExtractBytes([]byte("preprocess"), 32))
	return seed
}

// preprocessInternal rebuilds the signing machine and its deterministic
// preprocess. The same (spec, key, attempt) triple always yields the same
// bytes.
func preprocessInternal(
	spec *tributary.Spec, key *rcrypto.PrivateKey, attempt uint32,
) (*rcrypto.AlgorithmSignMachine, [64]byte) {
	keys, err := rcrypto.Musig(mainchain.MusigContext(spec.Set()), key, spec.Keys())
	if err != nil {
		panic(fmt.Sprintf(
			"confirming the DKG for a set we aren't in / validator present multiple times: %v", err))
	}

	seed := entropy(spec, key, attempt)
	machine, preprocess, err := rcrypto.NewAlgorithmMachine(keys, signingContext).
		Preprocess(rcrypto.NewChaChaRNG(seed))
	if err != nil {
		panic(fmt.Sprintf("fresh machine failed to preprocess: %v", err))
	}
	return machine, preprocess
}

// Preprocess returns the deterministic preprocess for this confirmation.
func Preprocess(spec *tributary.Spec, key *rcrypto.PrivateKey, attempt uint32) [64]byte {
	_, preprocess := preprocessInternal(spec, key, attempt)
	return preprocess
}

// shareInternal rebuilds through the share round. A malformed or invalid
// preprocess attributes blame via *rcrypto.ParticipantError.
func shareInternal(
	spec *tributary.Spec,
	key *rcrypto.PrivateKey,
	attempt uint32,
	preprocesses map[rcrypto.Participant][]byte,
	keyPair mainchain.KeyPair,
) (*rcrypto.AlgorithmSignatureMachine, [32]byte, error) {
	machine, _ := preprocessInternal(spec, key, attempt)

	sigMachine, share, err := machine.Sign(preprocesses, mainchain.SetKeysMessage(spec.Set(), keyPair))
	if err != nil {
		var pErr *rcrypto.ParticipantError
		if errors.As(err, &pErr) {
			return nil, [32]byte{}, pErr
		}
		// Quantity/missing-participant failures are impossible given the
		// accumulator promotes only complete datasets.
		panic(fmt.Sprintf("DKG confirmation sign round: %v", err))
	}
	return sigMachine, share, nil
}

// Share returns our signature share over the key pair, if the preprocesses
// are valid. A returned error is always a *rcrypto.ParticipantError naming
// the blameworthy participant.
func Share(
	spec *tributary.Spec,
	key *rcrypto.PrivateKey,
	attempt uint32,
	preprocesses map[rcrypto.Participant][]byte,
	keyPair mainchain.KeyPair,
) ([32]byte, error) {
	_, share, err := shareInternal(spec, key, attempt, preprocesses, keyPair)
	return share, err
}

// Complete aggregates the final signature over the key pair. A returned
// error is always a *rcrypto.ParticipantError naming the blameworthy
// participant.
func Complete(
	spec *tributary.Spec,
	key *rcrypto.PrivateKey,
	attempt uint32,
	preprocesses map[rcrypto.Participant][]byte,
	keyPair mainchain.KeyPair,
	shares map[rcrypto.Participant][]byte,
) (mainchain.Signature, error) {
	machine, _, err := shareInternal(spec, key, attempt, preprocesses, keyPair)
	if err != nil {
		panic(fmt.Sprintf("trying to complete a machine which failed to share: %v", err))
	}

	sig, err := machine.Complete(shares)
	if err != nil {
		var pErr *rcrypto.ParticipantError
		if errors.As(err, &pErr) {
			return mainchain.Signature{}, pErr
		}
		panic(fmt.Sprintf("DKG confirmation completion: %v", err))
	}
	return mainchain.Signature(sig), nil
}
