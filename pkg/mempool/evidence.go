// Copyright 2025 Tributary Protocol
//
// Consensus Evidence - double-vote slashing evidence against a validator
//
// Evidence transactions are unsigned at the mempool layer: the proof is the
// pair of conflicting vote signatures itself.

package mempool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
)

// voteContext domain-separates BFT vote signatures.
var voteContext = []byte("tributary-vote")

// VoteSignature is one signed vote: the consensus coordinates, the voted
// block, and the validator's signature over them.
type VoteSignature struct {
	Height    uint64
	Round     uint32
	BlockHash [32]byte
	Signature [64]byte
}

// voteMessage is the message a vote signature covers.
func voteMessage(genesis [32]byte, v *VoteSignature) []byte {
	var buf bytes.Buffer
	buf.Write(genesis[:])
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], v.Height)
	buf.Write(height[:])
	var round [4]byte
	binary.BigEndian.PutUint32(round[:], v.Round)
	buf.Write(round[:])
	buf.Write(v.BlockHash[:])
	return buf.Bytes()
}

// Evidence proves a validator signed two conflicting votes for the same
// height and round.
type Evidence struct {
	Signer [32]byte
	VoteA  VoteSignature
	VoteB  VoteSignature
}

// Verify checks the evidence: the accused must be a validator, the votes
// must conflict, both signatures must verify, and the height must be one
// the local node holds a commit for.
func (e *Evidence) Verify(
	genesis [32]byte,
	validators map[[32]byte]struct{},
	commitFn func(height uint64) bool,
) error {
	if _, ok := validators[e.Signer]; !ok {
		return ErrInvalidSigner
	}
	if (e.VoteA.Height != e.VoteB.Height) || (e.VoteA.Round != e.VoteB.Round) {
		return fmt.Errorf("%w: votes are for different rounds", ErrInvalidEvidence)
	}
	if e.VoteA.BlockHash == e.VoteB.BlockHash {
		return fmt.Errorf("%w: votes do not conflict", ErrInvalidEvidence)
	}
	if !rcrypto.Verify(e.Signer, voteContext, voteMessage(genesis, &e.VoteA), e.VoteA.Signature) {
		return fmt.Errorf("%w: first vote signature", ErrInvalidEvidence)
	}
	if !rcrypto.Verify(e.Signer, voteContext, voteMessage(genesis, &e.VoteB), e.VoteB.Signature) {
		return fmt.Errorf("%w: second vote signature", ErrInvalidEvidence)
	}
	if !commitFn(e.VoteA.Height) {
		return fmt.Errorf("%w: no commit for height %d", ErrInvalidEvidence, e.VoteA.Height)
	}
	return nil
}

func (v *VoteSignature) encode(buf *bytes.Buffer) {
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], v.Height)
	buf.Write(height[:])
	var round [4]byte
	binary.BigEndian.PutUint32(round[:], v.Round)
	buf.Write(round[:])
	buf.Write(v.BlockHash[:])
	buf.Write(v.Signature[:])
}

func decodeVoteSignature(r *bytes.Reader) (VoteSignature, error) {
	var v VoteSignature
	var height [8]byte
	if _, err := io.ReadFull(r, height[:]); err != nil {
		return v, err
	}
	v.Height = binary.BigEndian.Uint64(height[:])
	var round [4]byte
	if _, err := io.ReadFull(r, round[:]); err != nil {
		return v, err
	}
	v.Round = binary.BigEndian.Uint32(round[:])
	if _, err := io.ReadFull(r, v.BlockHash[:]); err != nil {
		return v, err
	}
	_, err := io.ReadFull(r, v.Signature[:])
	return v, err
}

func (e *Evidence) encode(buf *bytes.Buffer) {
	buf.Write(e.Signer[:])
	e.VoteA.encode(buf)
	e.VoteB.encode(buf)
}

func decodeEvidence(r *bytes.Reader) (*Evidence, error) {
	e := &Evidence{}
	if _, err := io.ReadFull(r, e.Signer[:]); err != nil {
		return nil, err
	}
	var err error
	if e.VoteA, err = decodeVoteSignature(r); err != nil {
		return nil, err
	}
	if e.VoteB, err = decodeVoteSignature(r); err != nil {
		return nil, err
	}
	return e, nil
}

// SignVote produces a vote signature for evidence construction. Exposed for
// the consensus layer and tests.
func SignVote(
	rng io.Reader,
	key *rcrypto.PrivateKey,
	genesis [32]byte,
	height uint64,
	round uint32,
	blockHash [32]byte,
) (VoteSignature, error) {
	v := VoteSignature{Height: height, Round: round, BlockHash: blockHash}
	sig, err := rcrypto.Sign(rng, key, voteContext, voteMessage(genesis, &v))
	if err != nil {
		return v, fmt.Errorf("sign vote: %w", err)
	}
	v.Signature = sig
	return v, nil
}
