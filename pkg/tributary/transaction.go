// Copyright 2025 Tributary Protocol
//
// Tributary Transactions
//
// Transactions are either provided (Batch, SubstrateBlock - injected by the
// coordinator itself once external synchrony is achieved) or signed
// (everything else - published by individual validators under a per-account
// nonce). The canonical encoding feeds both the gossip layer and the
// mempool's persistence mirror, and Hash() is the identity used everywhere.

package tributary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
)

// TxKind tags the transaction variants.
type TxKind uint8

const (
	TxKindDkgCommitments TxKind = iota
	TxKindDkgShares
	TxKindDkgConfirmed
	TxKindBatch
	TxKindSubstrateBlock
	TxKindBatchPreprocess
	TxKindBatchShare
	TxKindSignPreprocess
	TxKindSignShare
	TxKindSignCompleted
)

func (k TxKind) String() string {
	switch k {
	case TxKindDkgCommitments:
		return "DkgCommitments"
	case TxKindDkgShares:
		return "DkgShares"
	case TxKindDkgConfirmed:
		return "DkgConfirmed"
	case TxKindBatch:
		return "Batch"
	case TxKindSubstrateBlock:
		return "SubstrateBlock"
	case TxKindBatchPreprocess:
		return "BatchPreprocess"
	case TxKindBatchShare:
		return "BatchShare"
	case TxKindSignPreprocess:
		return "SignPreprocess"
	case TxKindSignShare:
		return "SignShare"
	case TxKindSignCompleted:
		return "SignCompleted"
	default:
		return fmt.Sprintf("TxKind(%d)", uint8(k))
	}
}

// signingContext domain-separates tributary transaction signatures from
// every other use of the key.
var signingContext = []byte("tributary")

// Signed carries a transaction's authentication: the signer, their account
// nonce, and a Schnorr signature.
type Signed struct {
	Signer    [32]byte
	Nonce     uint32
	Signature [64]byte
}

func (s *Signed) encode(buf *bytes.Buffer) {
	buf.Write(s.Signer[:])
	var nonce [4]byte
	binary.BigEndian.PutUint32(nonce[:], s.Nonce)
	buf.Write(nonce[:])
	buf.Write(s.Signature[:])
}

func decodeSigned(r *bytes.Reader) (Signed, error) {
	var s Signed
	if _, err := io.ReadFull(r, s.Signer[:]); err != nil {
		return s, fmt.Errorf("read signer: %w", err)
	}
	var nonce [4]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return s, fmt.Errorf("read nonce: %w", err)
	}
	s.Nonce = binary.BigEndian.Uint32(nonce[:])
	if _, err := io.ReadFull(r, s.Signature[:]); err != nil {
		return s, fmt.Errorf("read signature: %w", err)
	}
	return s, nil
}

// Transaction is the closed union of tributary transaction variants.
type Transaction interface {
	TxKind() TxKind
	// encodeBody writes the canonical body (everything after the kind tag).
	encodeBody(buf *bytes.Buffer)
}

// SignedTransaction is implemented by the variants carrying a Signed.
type SignedTransaction interface {
	Transaction
	SignedRef() *Signed
}

// DkgCommitments publishes a validator's DKG commitments for an attempt.
type DkgCommitments struct {
	Attempt     uint32
	Commitments []byte
	Signed      Signed
}

func (tx *DkgCommitments) TxKind() TxKind     { return TxKindDkgCommitments }
func (tx *DkgCommitments) SignedRef() *Signed { return &tx.Signed }

func (tx *DkgCommitments) encodeBody(buf *bytes.Buffer) {
	writeU32(buf, tx.Attempt)
	writeBytes(buf, tx.Commitments)
	tx.Signed.encode(buf)
}

// DkgShares publishes a validator's encrypted DKG shares, one per other
// participant, along with their confirmation nonces for the eventual
// key-pair attestation.
type DkgShares struct {
	Attempt            uint32
	Shares             [][]byte
	ConfirmationNonces [64]byte
	Signed             Signed
}

func (tx *DkgShares) TxKind() TxKind     { return TxKindDkgShares }
func (tx *DkgShares) SignedRef() *Signed { return &tx.Signed }

func (tx *DkgShares) encodeBody(buf *bytes.Buffer) {
	writeU32(buf, tx.Attempt)
	writeU16(buf, uint16(len(tx.Shares)))
	for _, share := range tx.Shares {
		writeBytes(buf, share)
	}
	buf.Write(tx.ConfirmationNonces[:])
	tx.Signed.encode(buf)
}

// DkgConfirmed publishes a validator's share of the MuSig signature
// attesting the generated key pair.
type DkgConfirmed struct {
	Attempt uint32
	Share   [32]byte
	Signed  Signed
}

func (tx *DkgConfirmed) TxKind() TxKind     { return TxKindDkgConfirmed }
func (tx *DkgConfirmed) SignedRef() *Signed { return &tx.Signed }

func (tx *DkgConfirmed) encodeBody(buf *bytes.Buffer) {
	writeU32(buf, tx.Attempt)
	buf.Write(tx.Share[:])
	tx.Signed.encode(buf)
}

// Batch is a provided transaction recognizing an attested batch.
type Batch struct {
	Block [32]byte
	ID    [32]byte
}

func (tx *Batch) TxKind() TxKind { return TxKindBatch }

func (tx *Batch) encodeBody(buf *bytes.Buffer) {
	buf.Write(tx.Block[:])
	buf.Write(tx.ID[:])
}

// SubstrateBlock is a provided transaction finalizing a settlement-chain
// block, unlocking the signing plans it emitted.
type SubstrateBlock struct {
	Block uint64
}

func (tx *SubstrateBlock) TxKind() TxKind { return TxKindSubstrateBlock }

func (tx *SubstrateBlock) encodeBody(buf *bytes.Buffer) {
	var block [8]byte
	binary.BigEndian.PutUint64(block[:], tx.Block)
	buf.Write(block[:])
}

// SignData is the shared shape of the per-round signing publications.
type SignData struct {
	Plan    [32]byte
	Attempt uint32
	Data    []byte
	Signed  Signed
}

func (d *SignData) SignedRef() *Signed { return &d.Signed }

func (d *SignData) encodeBody(buf *bytes.Buffer) {
	buf.Write(d.Plan[:])
	writeU32(buf, d.Attempt)
	writeBytes(buf, d.Data)
	d.Signed.encode(buf)
}

// BatchPreprocess publishes a batch-signing preprocess.
type BatchPreprocess struct{ SignData }

func (tx *BatchPreprocess) TxKind() TxKind { return TxKindBatchPreprocess }

// BatchShare publishes a batch-signing share.
type BatchShare struct{ SignData }

func (tx *BatchShare) TxKind() TxKind { return TxKindBatchShare }

// SignPreprocess publishes a plan-signing preprocess.
type SignPreprocess struct{ SignData }

func (tx *SignPreprocess) TxKind() TxKind { return TxKindSignPreprocess }

// SignShare publishes a plan-signing share.
type SignShare struct{ SignData }

func (tx *SignShare) TxKind() TxKind { return TxKindSignShare }

// SignCompleted claims an external transaction completed a signing plan.
type SignCompleted struct {
	Plan   [32]byte
	TxHash []byte
	Signed Signed
}

func (tx *SignCompleted) TxKind() TxKind     { return TxKindSignCompleted }
func (tx *SignCompleted) SignedRef() *Signed { return &tx.Signed }

func (tx *SignCompleted) encodeBody(buf *bytes.Buffer) {
	buf.Write(tx.Plan[:])
	writeBytes(buf, tx.TxHash)
	tx.Signed.encode(buf)
}

// ====== Encoding / decoding ======

// Encode returns the canonical transaction encoding: kind tag then body.
func Encode(tx Transaction) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.TxKind()))
	tx.encodeBody(&buf)
	return buf.Bytes()
}

// Decode parses a canonical transaction encoding. Trailing bytes are an
// error.
func Decode(data []byte) (Transaction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty transaction")
	}
	r := bytes.NewReader(data[1:])

	var tx Transaction
	var err error
	switch TxKind(data[0]) {
	case TxKindDkgCommitments:
		out := &DkgCommitments{}
		if out.Attempt, err = readU32(r); err == nil {
			if out.Commitments, err = readBytes(r); err == nil {
				out.Signed, err = decodeSigned(r)
			}
		}
		tx = out
	case TxKindDkgShares:
		out := &DkgShares{}
		if out.Attempt, err = readU32(r); err == nil {
			var count uint16
			if count, err = readU16(r); err == nil {
				out.Shares = make([][]byte, count)
				for i := range out.Shares {
					if out.Shares[i], err = readBytes(r); err != nil {
						break
					}
				}
				if err == nil {
					if _, err = io.ReadFull(r, out.ConfirmationNonces[:]); err == nil {
						out.Signed, err = decodeSigned(r)
					}
				}
			}
		}
		tx = out
	case TxKindDkgConfirmed:
		out := &DkgConfirmed{}
		if out.Attempt, err = readU32(r); err == nil {
			if _, err = io.ReadFull(r, out.Share[:]); err == nil {
				out.Signed, err = decodeSigned(r)
			}
		}
		tx = out
	case TxKindBatch:
		out := &Batch{}
		if _, err = io.ReadFull(r, out.Block[:]); err == nil {
			_, err = io.ReadFull(r, out.ID[:])
		}
		tx = out
	case TxKindSubstrateBlock:
		out := &SubstrateBlock{}
		var block [8]byte
		if _, err = io.ReadFull(r, block[:]); err == nil {
			out.Block = binary.BigEndian.Uint64(block[:])
		}
		tx = out
	case TxKindBatchPreprocess:
		out := &BatchPreprocess{}
		err = decodeSignData(r, &out.SignData)
		tx = out
	case TxKindBatchShare:
		out := &BatchShare{}
		err = decodeSignData(r, &out.SignData)
		tx = out
	case TxKindSignPreprocess:
		out := &SignPreprocess{}
		err = decodeSignData(r, &out.SignData)
		tx = out
	case TxKindSignShare:
		out := &SignShare{}
		err = decodeSignData(r, &out.SignData)
		tx = out
	case TxKindSignCompleted:
		out := &SignCompleted{}
		if _, err = io.ReadFull(r, out.Plan[:]); err == nil {
			if out.TxHash, err = readBytes(r); err == nil {
				out.Signed, err = decodeSigned(r)
			}
		}
		tx = out
	default:
		return nil, fmt.Errorf("unknown transaction kind %d", data[0])
	}

	if err != nil {
		return nil, fmt.Errorf("decode %d transaction: %w", data[0], err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("transaction has %d trailing bytes", r.Len())
	}
	return tx, nil
}

func decodeSignData(r *bytes.Reader, d *SignData) error {
	if _, err := io.ReadFull(r, d.Plan[:]); err != nil {
		return err
	}
	var err error
	if d.Attempt, err = readU32(r); err != nil {
		return err
	}
	if d.Data, err = readBytes(r); err != nil {
		return err
	}
	d.Signed, err = decodeSigned(r)
	return err
}

// Hash returns the transaction identity: blake2b-256 over the canonical
// encoding.
func Hash(tx Transaction) [32]byte {
	return blake2b.Sum256(Encode(tx))
}

// ====== Signing ======

// SigHash returns the message a signed transaction's signature covers: the
// genesis and the encoding with the signature bytes zeroed, so the
// signature never covers itself.
func SigHash(genesis [32]byte, tx SignedTransaction) [32]byte {
	signed := tx.SignedRef()
	saved := signed.Signature
	signed.Signature = [64]byte{}
	encoded := Encode(tx)
	signed.Signature = saved

	var buf bytes.Buffer
	buf.Write(genesis[:])
	buf.Write(encoded)
	return blake2b.Sum256(buf.Bytes())
}

// Sign fills the transaction's Signed with the key's identity and a
// signature over SigHash. The nonce must already be set.
func Sign(rng io.Reader, key *rcrypto.PrivateKey, genesis [32]byte, tx SignedTransaction) error {
	signed := tx.SignedRef()
	signed.Signer = key.Public()
	sigHash := SigHash(genesis, tx)
	sig, err := rcrypto.Sign(rng, key, signingContext, sigHash[:])
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	signed.Signature = sig
	return nil
}

// VerifySignature checks a signed transaction's signature.
func VerifySignature(genesis [32]byte, tx SignedTransaction) bool {
	signed := tx.SignedRef()
	sigHash := SigHash(genesis, tx)
	return rcrypto.Verify(signed.Signer, signingContext, sigHash[:], signed.Signature)
}

// ====== Primitive helpers ======

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	length, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if int(length) > r.Len() {
		return nil, fmt.Errorf("declared length %d exceeds remaining %d", length, r.Len())
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
