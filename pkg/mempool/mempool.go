// Copyright 2025 Tributary Protocol
//
// Mempool - per-account nonce-ordered admission buffer feeding the BFT
// engine
//
// The mempool:
// - Admits application transactions in strict per-signer nonce order
// - Admits consensus evidence after verifying it against the validator set
// - Mirrors itself to persistent storage so a restart reloads identical
//   state
// - Prunes against the blockchain's nonces when asked for block contents

package mempool

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/metrics"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
)

// AccountMempoolLimit caps how many transactions one signer may have queued.
const AccountMempoolLimit = 50

// TxType tags the two mempool transaction classes.
type TxType uint8

const (
	// TxTypeApplication is a signed tributary transaction.
	TxTypeApplication TxType = iota
	// TxTypeEvidence is consensus double-vote evidence.
	TxTypeEvidence
)

// Tx is a mempool transaction: exactly one of App or Evidence is set.
type Tx struct {
	App      tributary.SignedTransaction
	Evidence *Evidence
}

// Type returns the transaction class.
func (t *Tx) Type() TxType {
	if t.App != nil {
		return TxTypeApplication
	}
	return TxTypeEvidence
}

// Encode returns the persistence encoding: class tag then body.
func (t *Tx) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(t.Type()))
	if t.App != nil {
		buf.Write(tributary.Encode(t.App))
	} else {
		t.Evidence.encode(&buf)
	}
	return buf.Bytes()
}

// DecodeTx parses a persistence encoding.
func DecodeTx(data []byte) (*Tx, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty mempool transaction")
	}
	switch TxType(data[0]) {
	case TxTypeApplication:
		inner, err := tributary.Decode(data[1:])
		if err != nil {
			return nil, err
		}
		signed, ok := inner.(tributary.SignedTransaction)
		if !ok {
			return nil, fmt.Errorf("mempool holds unsigned transaction kind %d", inner.TxKind())
		}
		return &Tx{App: signed}, nil
	case TxTypeEvidence:
		r := bytes.NewReader(data[1:])
		evidence, err := decodeEvidence(r)
		if err != nil {
			return nil, err
		}
		if r.Len() != 0 {
			return nil, fmt.Errorf("evidence has %d trailing bytes", r.Len())
		}
		return &Tx{Evidence: evidence}, nil
	default:
		return nil, fmt.Errorf("unknown mempool transaction type %d", data[0])
	}
}

// Hash returns the transaction identity.
func (t *Tx) Hash() [32]byte {
	if t.App != nil {
		return tributary.Hash(t.App)
	}
	var buf bytes.Buffer
	t.Evidence.encode(&buf)
	return blake2b.Sum256(buf.Bytes())
}

// Mempool buffers transactions awaiting inclusion.
//
// The mempool is owned by the admission front-end; the handler never touches
// it. The mutex exists for the gossip and RPC paths which share that
// front-end.
type Mempool struct {
	mu sync.Mutex

	db      *kvdb.DB
	genesis [32]byte
	logger  *log.Logger

	txs        map[[32]byte]*Tx
	nextNonce  map[[32]byte]uint32
	perAccount map[[32]byte]uint32
}

func (m *Mempool) storageKey(hash [32]byte) []byte {
	key := append([]byte("mempool:"), m.genesis[:]...)
	return append(key, hash[:]...)
}

// New creates a mempool, reloading any persisted contents for this genesis.
// Reloading reproduces byte-identical state.
func New(db *kvdb.DB, genesis [32]byte) (*Mempool, error) {
	m := &Mempool{
		db:         db,
		genesis:    genesis,
		logger:     log.New(log.Writer(), "[Mempool] ", log.LstdFlags),
		txs:        make(map[[32]byte]*Tx),
		nextNonce:  make(map[[32]byte]uint32),
		perAccount: make(map[[32]byte]uint32),
	}

	prefix := append([]byte("mempool:"), genesis[:]...)
	iter, err := db.IteratePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate mempool storage: %w", err)
	}
	defer iter.Close()
	for ; iter.Valid(); iter.Next() {
		tx, err := DecodeTx(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode persisted mempool tx: %w", err)
		}
		m.insert(tx)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("mempool storage iteration: %w", err)
	}

	metrics.MempoolSize.Set(float64(len(m.txs)))
	return m, nil
}

// insert registers a transaction in memory only.
func (m *Mempool) insert(tx *Tx) {
	m.txs[tx.Hash()] = tx
	if tx.App != nil {
		signed := tx.App.SignedRef()
		if next, ok := m.nextNonce[signed.Signer]; !ok || (signed.Nonce >= next) {
			m.nextNonce[signed.Signer] = signed.Nonce + 1
		}
		m.perAccount[signed.Signer]++
	}
}

// drop unregisters a transaction from memory and storage.
func (m *Mempool) drop(hash [32]byte) {
	tx, ok := m.txs[hash]
	if !ok {
		return
	}
	delete(m.txs, hash)
	if tx.App != nil {
		signer := tx.App.SignedRef().Signer
		if m.perAccount[signer] <= 1 {
			delete(m.perAccount, signer)
		} else {
			m.perAccount[signer]--
		}
	}
	if err := m.db.Delete(m.storageKey(hash)); err != nil {
		// Storage divergence only costs a redundant re-add after restart
		m.logger.Printf("Warning: failed to delete mempool tx from storage: %v", err)
	}
}

// Add admits a transaction. internal marks locally-produced transactions,
// which skip signature verification (we signed them ourselves).
//
// The bool result reports whether the transaction is new: re-adding known
// evidence returns (false, nil), while re-adding a known application
// transaction fails with ErrInvalidNonce since its nonce is already
// consumed.
func (m *Mempool) Add(
	blockchainNextNonces map[[32]byte]uint32,
	internal bool,
	tx *Tx,
	validators map[[32]byte]struct{},
	unsignedInChain func(hash [32]byte) bool,
	commitFn func(height uint64) bool,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer metrics.MempoolSize.Set(float64(len(m.txs)))

	hash := tx.Hash()

	switch tx.Type() {
	case TxTypeEvidence:
		if unsignedInChain(hash) {
			return false, nil
		}
		if _, ok := m.txs[hash]; ok {
			return false, nil
		}
		if err := tx.Evidence.Verify(m.genesis, validators, commitFn); err != nil {
			return false, err
		}

	case TxTypeApplication:
		signed := tx.App.SignedRef()

		expected, ok := m.nextNonce[signed.Signer]
		if !ok {
			if expected, ok = blockchainNextNonces[signed.Signer]; !ok {
				// An account the blockchain doesn't know has no nonce to
				// order against
				return false, ErrInvalidNonce
			}
		}
		if signed.Nonce != expected {
			return false, ErrInvalidNonce
		}

		if m.perAccount[signed.Signer] >= AccountMempoolLimit {
			return false, ErrTooManyInMempool
		}

		if !internal && !tributary.VerifySignature(m.genesis, tx.App) {
			return false, ErrInvalidSignature
		}
	}

	if err := m.db.Set(m.storageKey(hash), tx.Encode()); err != nil {
		return false, fmt.Errorf("failed to persist mempool tx: %w", err)
	}
	m.insert(tx)
	return true, nil
}

// NextNonce returns the next nonce the mempool expects from a signer. ok is
// false when the mempool holds nothing from them.
func (m *Mempool) NextNonce(signer [32]byte) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nonce, ok := m.nextNonce[signer]
	return nonce, ok
}

// Block prunes against the blockchain's nonces and returns the remaining
// transactions in deterministic (hash) order, as proposal contents.
//
// Any application transaction whose nonce is below the blockchain's next
// nonce for its signer was included in a block already; it is dropped, as
// is evidence now present in the chain.
func (m *Mempool) Block(
	blockchainNextNonces map[[32]byte]uint32,
	unsignedInChain func(hash [32]byte) bool,
) []*Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer metrics.MempoolSize.Set(float64(len(m.txs)))

	var stale [][32]byte
	for hash, tx := range m.txs {
		switch tx.Type() {
		case TxTypeApplication:
			signed := tx.App.SignedRef()
			if floor, ok := blockchainNextNonces[signed.Signer]; ok && (signed.Nonce < floor) {
				stale = append(stale, hash)
			}
		case TxTypeEvidence:
			if unsignedInChain(hash) {
				stale = append(stale, hash)
			}
		}
	}
	for _, hash := range stale {
		m.drop(hash)
	}

	hashes := make([][32]byte, 0, len(m.txs))
	for hash := range m.txs {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})

	block := make([]*Tx, len(hashes))
	for i, hash := range hashes {
		block[i] = m.txs[hash]
	}
	return block
}

// Remove drops a transaction unconditionally. Called once a transaction is
// included on-chain.
func (m *Mempool) Remove(hash [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drop(hash)
	metrics.MempoolSize.Set(float64(len(m.txs)))
}

// Txs returns the current transaction set keyed by hash.
func (m *Mempool) Txs() map[[32]byte]*Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[[32]byte]*Tx, len(m.txs))
	for hash, tx := range m.txs {
		out[hash] = tx
	}
	return out
}

// Equal reports whether two mempools hold identical state. Used to check
// that reloading from storage is lossless.
func (m *Mempool) Equal(other *Mempool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if (len(m.txs) != len(other.txs)) ||
		(len(m.nextNonce) != len(other.nextNonce)) ||
		(len(m.perAccount) != len(other.perAccount)) {
		return false
	}
	for hash, tx := range m.txs {
		otherTx, ok := other.txs[hash]
		if !ok || !bytes.Equal(tx.Encode(), otherTx.Encode()) {
			return false
		}
	}
	for signer, nonce := range m.nextNonce {
		if other.nextNonce[signer] != nonce {
			return false
		}
	}
	for signer, count := range m.perAccount {
		if other.perAccount[signer] != count {
			return false
		}
	}
	return true
}
