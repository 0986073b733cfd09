// Copyright 2025 Tributary Protocol
//
// Mempool tests: admission round-trip, nonce-floor pruning, and the
// per-account limit.

package mempool

import (
	"crypto/rand"
	"testing"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
)

func testGenesis() [32]byte {
	var genesis [32]byte
	copy(genesis[:], "mempool test genesis............")
	return genesis
}

// signedTx builds a signed application transaction with the given nonce.
func signedTx(t *testing.T, genesis [32]byte, key *rcrypto.PrivateKey, nonce uint32) *Tx {
	t.Helper()
	commitments := make([]byte, 16)
	if _, err := rand.Read(commitments); err != nil {
		t.Fatalf("failed to read entropy: %v", err)
	}
	inner := &tributary.DkgCommitments{
		Attempt:     0,
		Commitments: commitments,
		Signed:      tributary.Signed{Nonce: nonce},
	}
	if err := tributary.Sign(rand.Reader, key, genesis, inner); err != nil {
		t.Fatalf("failed to sign tx: %v", err)
	}
	return &Tx{App: inner}
}

// evidenceTx builds valid double-vote evidence for the given key.
func evidenceTx(t *testing.T, genesis [32]byte, key *rcrypto.PrivateKey) *Tx {
	t.Helper()
	var hashA, hashB [32]byte
	hashA[0], hashB[0] = 0x01, 0x02

	voteA, err := SignVote(rand.Reader, key, genesis, 5, 0, hashA)
	if err != nil {
		t.Fatalf("failed to sign vote: %v", err)
	}
	voteB, err := SignVote(rand.Reader, key, genesis, 5, 0, hashB)
	if err != nil {
		t.Fatalf("failed to sign vote: %v", err)
	}
	return &Tx{Evidence: &Evidence{Signer: key.Public(), VoteA: voteA, VoteB: voteB}}
}

func noUnsigned([32]byte) bool { return false }
func commitExists(uint64) bool { return true }

func TestMempool_Addition(t *testing.T) {
	genesis := testGenesis()
	db := kvdb.NewMem()
	pool, err := New(db, genesis)
	if err != nil {
		t.Fatalf("failed to create mempool: %v", err)
	}

	key, err := rcrypto.GeneratePrivateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer := key.Public()
	validators := map[[32]byte]struct{}{signer: {}}

	if _, ok := pool.NextNonce(signer); ok {
		t.Error("fresh mempool should have no nonce for the signer")
	}

	// Add TX 0
	firstTx := signedTx(t, genesis, key, 0)
	blockchainNextNonces := map[[32]byte]uint32{signer: 0}
	added, err := pool.Add(blockchainNextNonces, true, firstTx, validators, noUnsigned, commitExists)
	if err != nil || !added {
		t.Fatalf("first add: added=%v err=%v", added, err)
	}
	if nonce, ok := pool.NextNonce(signer); !ok || nonce != 1 {
		t.Errorf("next nonce after add: %d, %v", nonce, ok)
	}

	// Add evidence
	evidence := evidenceTx(t, genesis, key)
	added, err = pool.Add(blockchainNextNonces, true, evidence, validators, noUnsigned, commitExists)
	if err != nil || !added {
		t.Fatalf("evidence add: added=%v err=%v", added, err)
	}

	// Reloading from the same storage reproduces identical state
	reloaded, err := New(db, genesis)
	if err != nil {
		t.Fatalf("failed to reload mempool: %v", err)
	}
	if !pool.Equal(reloaded) {
		t.Fatal("reloaded mempool differs")
	}

	// Re-adding fails for the application TX, tolerates the evidence
	if _, err := pool.Add(blockchainNextNonces, true, firstTx, validators, noUnsigned, commitExists); err != ErrInvalidNonce {
		t.Errorf("app re-add: got %v, want ErrInvalidNonce", err)
	}
	added, err = pool.Add(blockchainNextNonces, true, evidence, validators, noUnsigned, commitExists)
	if err != nil || added {
		t.Errorf("evidence re-add: added=%v err=%v, want false, nil", added, err)
	}

	// Same flow for the next nonce
	secondTx := signedTx(t, genesis, key, 1)
	added, err = pool.Add(blockchainNextNonces, true, secondTx, validators, noUnsigned, commitExists)
	if err != nil || !added {
		t.Fatalf("second add: added=%v err=%v", added, err)
	}
	if nonce, _ := pool.NextNonce(signer); nonce != 2 {
		t.Errorf("next nonce: %d, want 2", nonce)
	}
	if _, err := pool.Add(blockchainNextNonces, true, secondTx, validators, noUnsigned, commitExists); err != ErrInvalidNonce {
		t.Errorf("second re-add: got %v, want ErrInvalidNonce", err)
	}

	// An account unknown to the mempool falls back to the blockchain's nonce
	secondKey, _ := rcrypto.GeneratePrivateKey(rand.Reader)
	secondSigner := secondKey.Public()
	tx := signedTx(t, genesis, secondKey, 2)
	blockchainNextNonces[secondSigner] = 2
	added, err = pool.Add(blockchainNextNonces, true, tx, validators, noUnsigned, commitExists)
	if err != nil || !added {
		t.Fatalf("second signer add: added=%v err=%v", added, err)
	}
	if nonce, _ := pool.NextNonce(secondSigner); nonce != 3 {
		t.Errorf("second signer next nonce: %d, want 3", nonce)
	}

	// Getting a block returns everything
	if block := pool.Block(blockchainNextNonces, noUnsigned); len(block) != 4 {
		t.Fatalf("block has %d txs, want 4", len(block))
	}

	// A blockchain nonce update prunes the consumed TX
	blockchainNextNonces[signer] = 1
	block := pool.Block(blockchainNextNonces, noUnsigned)
	if len(block) != 3 {
		t.Fatalf("block has %d txs after prune, want 3", len(block))
	}
	firstHash := firstTx.Hash()
	remaining := pool.Txs()
	if _, ok := remaining[firstHash]; ok {
		t.Error("pruned tx still present")
	}
	if len(remaining) != len(block) {
		t.Errorf("txs()=%d, block=%d", len(remaining), len(block))
	}

	// Removal prunes unconditionally
	pool.Remove(tx.Hash())
	remaining = pool.Txs()
	if len(remaining) != 2 {
		t.Fatalf("after remove: %d txs, want 2", len(remaining))
	}
	if _, ok := remaining[secondTx.Hash()]; !ok {
		t.Error("second tx missing after unrelated remove")
	}
	if _, ok := remaining[evidence.Hash()]; !ok {
		t.Error("evidence missing after unrelated remove")
	}
}

func TestMempool_TooMany(t *testing.T) {
	genesis := testGenesis()
	pool, err := New(kvdb.NewMem(), genesis)
	if err != nil {
		t.Fatalf("failed to create mempool: %v", err)
	}

	key, _ := rcrypto.GeneratePrivateKey(rand.Reader)
	signer := key.Public()
	validators := map[[32]byte]struct{}{}
	blockchainNextNonces := map[[32]byte]uint32{signer: 0}

	// Admission works up to the limit
	for i := uint32(0); i < AccountMempoolLimit; i++ {
		added, err := pool.Add(blockchainNextNonces, false,
			signedTx(t, genesis, key, i), validators, noUnsigned, commitExists)
		if err != nil || !added {
			t.Fatalf("add %d: added=%v err=%v", i, added, err)
		}
	}

	// One more fails without side effects
	_, err = pool.Add(blockchainNextNonces, false,
		signedTx(t, genesis, key, AccountMempoolLimit), validators, noUnsigned, commitExists)
	if err != ErrTooManyInMempool {
		t.Fatalf("over-limit add: got %v, want ErrTooManyInMempool", err)
	}
	if len(pool.Txs()) != AccountMempoolLimit {
		t.Errorf("rejected add mutated the pool: %d txs", len(pool.Txs()))
	}
	if nonce, _ := pool.NextNonce(signer); nonce != AccountMempoolLimit {
		t.Errorf("rejected add advanced the nonce to %d", nonce)
	}
}

func TestMempool_RejectsBadSignature(t *testing.T) {
	genesis := testGenesis()
	pool, err := New(kvdb.NewMem(), genesis)
	if err != nil {
		t.Fatalf("failed to create mempool: %v", err)
	}

	key, _ := rcrypto.GeneratePrivateKey(rand.Reader)
	signer := key.Public()
	tx := signedTx(t, genesis, key, 0)
	tx.App.SignedRef().Signature[0] ^= 0x01

	_, err = pool.Add(map[[32]byte]uint32{signer: 0}, false, tx,
		map[[32]byte]struct{}{}, noUnsigned, commitExists)
	if err != ErrInvalidSignature {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestMempool_RejectsUnknownAccount(t *testing.T) {
	genesis := testGenesis()
	pool, err := New(kvdb.NewMem(), genesis)
	if err != nil {
		t.Fatalf("failed to create mempool: %v", err)
	}

	key, _ := rcrypto.GeneratePrivateKey(rand.Reader)
	_, err = pool.Add(map[[32]byte]uint32{}, true, signedTx(t, genesis, key, 0),
		map[[32]byte]struct{}{}, noUnsigned, commitExists)
	if err != ErrInvalidNonce {
		t.Errorf("got %v, want ErrInvalidNonce", err)
	}
}

func TestEvidence_Verify(t *testing.T) {
	genesis := testGenesis()
	key, _ := rcrypto.GeneratePrivateKey(rand.Reader)
	validators := map[[32]byte]struct{}{key.Public(): {}}

	valid := evidenceTx(t, genesis, key).Evidence
	if err := valid.Verify(genesis, validators, commitExists); err != nil {
		t.Fatalf("valid evidence rejected: %v", err)
	}

	// Accused isn't a validator
	if err := valid.Verify(genesis, map[[32]byte]struct{}{}, commitExists); err != ErrInvalidSigner {
		t.Errorf("non-validator: got %v", err)
	}

	// Votes don't conflict
	same := &Evidence{Signer: key.Public(), VoteA: valid.VoteA, VoteB: valid.VoteA}
	if err := same.Verify(genesis, validators, commitExists); err == nil {
		t.Error("non-conflicting votes accepted")
	}

	// Tampered signature
	tampered := &Evidence{Signer: key.Public(), VoteA: valid.VoteA, VoteB: valid.VoteB}
	tampered.VoteB.Signature[0] ^= 0x01
	if err := tampered.Verify(genesis, validators, commitExists); err == nil {
		t.Error("tampered vote signature accepted")
	}

	// No commit for the height
	if err := valid.Verify(genesis, validators, func(uint64) bool { return false }); err == nil {
		t.Error("evidence for uncommitted height accepted")
	}
}
