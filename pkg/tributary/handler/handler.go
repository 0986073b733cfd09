// Copyright 2025 Tributary Protocol
//
// Transaction Handler - applies the BFT-finalized transaction stream
//
// The handler consumes one finalized transaction at a time inside a single
// storage transaction: either every effect (accumulated data, slash flags,
// persisted nonces) commits or none do. It owns the Tributary's single
// writer; suspension points are limited to processor sends, the main-chain
// publish, and recognizer notifications.

package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/ledger"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
	"github.com/tributary-protocol/coordinator/pkg/metrics"
	"github.com/tributary-protocol/coordinator/pkg/processor"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
	"github.com/tributary-protocol/coordinator/pkg/tributary/dkg"
)

// RecognizedIDType tags recognizer notifications.
type RecognizedIDType uint8

const (
	// RecognizedBatch reports a newly recognized batch.
	RecognizedBatch RecognizedIDType = iota
	// RecognizedPlan reports a newly recognized signing plan.
	RecognizedPlan
)

// PublishMainChainTx publishes an encoded transaction to the settlement
// chain. Fire-and-forget; the chain deduplicates repeated publications.
type PublishMainChainTx func(ctx context.Context, set mainchain.ValidatorSet, tx []byte) error

// RecognizedIDFunc notifies the downstream recognizer of a newly authorized
// batch or plan, along with the first tributary nonce its signing session
// will consume.
type RecognizedIDFunc func(
	ctx context.Context,
	set mainchain.ValidatorSet,
	genesis [32]byte,
	kind RecognizedIDType,
	id [32]byte,
	nonce uint32,
) error

// Handler applies finalized transactions to one Tributary's ledger.
type Handler struct {
	spec   *tributary.Spec
	key    *rcrypto.PrivateKey
	ourPub [32]byte

	store      *ledger.Store
	processors processor.Processors
	publish    PublishMainChainTx
	recognized RecognizedIDFunc

	logger *log.Logger
}

// New creates a Handler for one Tributary.
func New(
	spec *tributary.Spec,
	key *rcrypto.PrivateKey,
	store *ledger.Store,
	processors processor.Processors,
	publish PublishMainChainTx,
	recognized RecognizedIDFunc,
) *Handler {
	return &Handler{
		spec:       spec,
		key:        key,
		ourPub:     key.Public(),
		store:      store,
		processors: processors,
		publish:    publish,
		recognized: recognized,
		logger:     log.New(log.Writer(), "[Handler] ", log.LstdFlags),
	}
}

// fatalSlash permanently excludes an account for an unambiguous protocol
// violation. Their prior contributions remain in effect: invalidating them
// would let a Byzantine node deny service to its own earlier valid data.
func (h *Handler) fatalSlash(txn *kvdb.Txn, account [32]byte, reason string) {
	h.logger.Printf("fatally slashing %s. reason: %s", hex.EncodeToString(account[:]), reason)
	if err := h.store.SetFatallySlashed(txn, account); err != nil {
		panic(fmt.Sprintf("failed to record fatal slash: %v", err))
	}
	metrics.FatalSlashes.Inc()
	// TODO: disconnect the node from the network / ban from further
	// participation in all Tributaries
}

// handleData runs the admission policy for one data publication, then
// accumulates it.
func (h *Handler) handleData(
	txn *kvdb.Txn,
	dataSpec tributary.DataSpecification,
	data []byte,
	signed *tributary.Signed,
) ledger.Accumulation {
	currAttempt, ok, err := h.store.Attempt(txn, dataSpec.Topic)
	if err != nil {
		panic(fmt.Sprintf("failed to read attempt: %v", err))
	}
	if !ok {
		// Premature publication of a valid ID / publication of an invalid ID
		h.fatalSlash(txn, signed.Signer, "published data for ID without an attempt")
		return ledger.NotReady
	}

	// If they've already published data for this attempt, slash
	if _, exists, err := h.store.Data(txn, dataSpec, signed.Signer); err != nil {
		panic(fmt.Sprintf("failed to read data: %v", err))
	} else if exists {
		h.fatalSlash(txn, signed.Signer, "published data multiple times")
		return ledger.NotReady
	}

	// If the attempt is lesser than the blockchain's, reject
	if dataSpec.Attempt < currAttempt {
		// TODO: Slash for being late
		return ledger.NotReady
	}
	// If the attempt is greater, this is a premature publication, full slash
	if dataSpec.Attempt > currAttempt {
		h.fatalSlash(txn, signed.Signer, "published data with an attempt which hasn't started")
		return ledger.NotReady
	}

	// TODO: We can also full slash if shares are published before all
	// commitments, or a share before the necessary preprocesses

	acc, err := h.store.Accumulate(txn, h.ourPub, h.spec, dataSpec, signed.Signer, data)
	if err != nil {
		// Write-once was checked above and the blockchain only includes
		// participants' transactions
		panic(fmt.Sprintf("failed to accumulate: %v", err))
	}
	if acc.Ready {
		metrics.ReadyDatasets.WithLabelValues(dataSpec.Label).Inc()
	}
	return acc
}

// HandleTransaction applies one finalized transaction. The caller owns txn
// and commits it afterwards.
func (h *Handler) HandleTransaction(ctx context.Context, txn *kvdb.Txn, tx tributary.Transaction) error {
	genesis := h.spec.Genesis()
	metrics.HandledTransactions.WithLabelValues(tx.TxKind().String()).Inc()

	switch tx := tx.(type) {
	case *tributary.DkgCommitments:
		acc := h.handleData(txn, tributary.DataSpecification{
			Topic: tributary.TopicDkg(), Label: tributary.LabelDkgCommitments, Attempt: tx.Attempt,
		}, tx.Commitments, &tx.Signed)
		if !acc.Ready {
			return nil
		}
		if !acc.Participating {
			panic("wasn't a participant in DKG commitments")
		}
		h.logger.Printf("got all DkgCommitments for %s", hex.EncodeToString(genesis[:]))
		return h.processors.Send(ctx, h.spec.Set().Network, processor.KeyGenCommitments{
			ID:          processor.KeyGenID{Set: h.spec.Set(), Attempt: tx.Attempt},
			Commitments: acc.Dataset,
		})

	case *tributary.DkgShares:
		return h.handleDkgShares(ctx, txn, tx)

	case *tributary.DkgConfirmed:
		return h.handleDkgConfirmed(ctx, txn, tx)

	case *tributary.Batch:
		// This Batch achieved synchrony, so its ID is authorized
		if err := h.store.RecognizeTopic(txn, tributary.TopicBatch(tx.ID)); err != nil {
			return fmt.Errorf("failed to recognize batch: %w", err)
		}
		// Preprocess and share each consume one tributary nonce
		nonce, err := h.store.NextSessionNonces(txn, 2)
		if err != nil {
			return fmt.Errorf("failed to reserve batch nonces: %w", err)
		}
		return h.recognized(ctx, h.spec.Set(), genesis, RecognizedBatch, tx.ID, nonce)

	case *tributary.SubstrateBlock:
		plans, ok, err := h.store.PlanIDs(txn, tx.Block)
		if err != nil {
			return fmt.Errorf("failed to load plan IDs: %w", err)
		}
		if !ok {
			panic("synced a tributary block finalizing a substrate block in a provided " +
				"transaction despite us not providing that transaction")
		}
		for _, plan := range plans {
			if err := h.store.RecognizeTopic(txn, tributary.TopicSign(plan)); err != nil {
				return fmt.Errorf("failed to recognize plan: %w", err)
			}
			nonce, err := h.store.NextSessionNonces(txn, 2)
			if err != nil {
				return fmt.Errorf("failed to reserve plan nonces: %w", err)
			}
			if err := h.recognized(ctx, h.spec.Set(), genesis, RecognizedPlan, plan, nonce); err != nil {
				return err
			}
		}
		return nil

	case *tributary.BatchPreprocess:
		acc := h.handleData(txn, tributary.DataSpecification{
			Topic: tributary.TopicBatch(tx.Plan), Label: tributary.LabelBatchPreprocess, Attempt: tx.Attempt,
		}, tx.Data, &tx.Signed)
		if !acc.Ready || !acc.Participating {
			return nil
		}
		return h.processors.Send(ctx, h.spec.Set().Network, processor.BatchPreprocesses{
			ID:           h.batchSignID(txn, tx.Plan, tx.Attempt),
			Preprocesses: acc.Dataset,
		})

	case *tributary.BatchShare:
		acc := h.handleData(txn, tributary.DataSpecification{
			Topic: tributary.TopicBatch(tx.Plan), Label: tributary.LabelBatchShare, Attempt: tx.Attempt,
		}, tx.Data, &tx.Signed)
		if !acc.Ready || !acc.Participating {
			return nil
		}
		return h.processors.Send(ctx, h.spec.Set().Network, processor.BatchShares{
			ID:     h.batchSignID(txn, tx.Plan, tx.Attempt),
			Shares: acc.Dataset,
		})

	case *tributary.SignPreprocess:
		acc := h.handleData(txn, tributary.DataSpecification{
			Topic: tributary.TopicSign(tx.Plan), Label: tributary.LabelSignPreprocess, Attempt: tx.Attempt,
		}, tx.Data, &tx.Signed)
		if !acc.Ready || !acc.Participating {
			return nil
		}
		return h.processors.Send(ctx, h.spec.Set().Network, processor.SignPreprocesses{
			ID:           h.planSignID(txn, tx.Plan, tx.Attempt, "completed SignPreprocess despite not setting the key pair"),
			Preprocesses: acc.Dataset,
		})

	case *tributary.SignShare:
		acc := h.handleData(txn, tributary.DataSpecification{
			Topic: tributary.TopicSign(tx.Plan), Label: tributary.LabelSignShare, Attempt: tx.Attempt,
		}, tx.Data, &tx.Signed)
		if !acc.Ready || !acc.Participating {
			return nil
		}
		return h.processors.Send(ctx, h.spec.Set().Network, processor.SignShares{
			ID:     h.planSignID(txn, tx.Plan, tx.Attempt, "completed SignShares despite not setting the key pair"),
			Shares: acc.Dataset,
		})

	case *tributary.SignCompleted:
		h.logger.Printf("on-chain SignCompleted claims %s completes %s",
			hex.EncodeToString(tx.TxHash), hex.EncodeToString(tx.Plan[:]))
		// TODO: Confirm this is a valid plan ID
		// TODO: Confirm this signer hasn't prior published a completion
		keyPair, ok, err := h.store.KeyPair(txn, h.spec.Set())
		if err != nil {
			return fmt.Errorf("failed to load key pair: %w", err)
		}
		if !ok {
			panic("SignCompleted for a set with no confirmed key pair")
		}
		return h.processors.Send(ctx, h.spec.Set().Network, processor.SignCompleted{
			Key: keyPair.External, ID: tx.Plan, TxHash: tx.TxHash,
		})

	default:
		panic(fmt.Sprintf("handler given unknown transaction kind %d", tx.TxKind()))
	}
}

// handleDkgShares validates the share bundle, selects our entry, and
// accumulates both the shares and the confirmation nonces from one message
// atomically.
func (h *Handler) handleDkgShares(ctx context.Context, txn *kvdb.Txn, tx *tributary.DkgShares) error {
	genesis := h.spec.Genesis()

	if len(tx.Shares) != int(h.spec.N())-1 {
		h.fatalSlash(txn, tx.Signed.Signer, "invalid amount of DKG shares")
		return nil
	}

	senderI, err := h.spec.I(tx.Signed.Signer)
	if err != nil {
		panic("transaction added to tributary by signer who isn't a participant")
	}
	ourI, err := h.spec.I(h.ourPub)
	if err != nil {
		panic("in a tributary we're not a validator for")
	}

	// Only save the share addressed to us. Our own slot is a zero-length
	// placeholder.
	var ourShare []byte
	if senderI != ourI {
		// 1-indexed to 0-indexed, handling the omission of the sender's own
		// entry
		relativeI := int(ourI) - 1
		if ourI > senderI {
			relativeI--
		}
		// Safe since we length-checked shares
		ourShare = tx.Shares[relativeI]
	}

	// Both accumulations come from the same message: when shares promote,
	// confirmation nonces must promote with them.
	nonceAcc := h.handleData(txn, tributary.DataSpecification{
		Topic: tributary.TopicDkg(), Label: tributary.LabelDkgConfirmationNonces, Attempt: tx.Attempt,
	}, tx.ConfirmationNonces[:], &tx.Signed)
	shareAcc := h.handleData(txn, tributary.DataSpecification{
		Topic: tributary.TopicDkg(), Label: tributary.LabelDkgShares, Attempt: tx.Attempt,
	}, ourShare, &tx.Signed)

	if !shareAcc.Ready {
		if nonceAcc.Ready {
			panic("DKG shares aren't ready yet confirmation nonces are")
		}
		return nil
	}
	if !shareAcc.Participating {
		panic("wasn't a participant in DKG shares")
	}
	h.logger.Printf("got all DkgShares for %s", hex.EncodeToString(genesis[:]))

	if !nonceAcc.Ready || !nonceAcc.Participating {
		panic("got all DKG shares yet confirmation nonces aren't ready")
	}
	if err := h.store.SaveConfirmationNonces(txn, tx.Attempt, nonceAcc.Dataset); err != nil {
		return fmt.Errorf("failed to persist confirmation nonces: %w", err)
	}

	return h.processors.Send(ctx, h.spec.Set().Network, processor.KeyGenShares{
		ID:     processor.KeyGenID{Set: h.spec.Set(), Attempt: tx.Attempt},
		Shares: shareAcc.Dataset,
	})
}

// handleDkgConfirmed accumulates confirmation shares and, once complete,
// aggregates the set_keys signature and publishes it.
func (h *Handler) handleDkgConfirmed(ctx context.Context, txn *kvdb.Txn, tx *tributary.DkgConfirmed) error {
	genesis := h.spec.Genesis()

	acc := h.handleData(txn, tributary.DataSpecification{
		Topic: tributary.TopicDkg(), Label: tributary.LabelDkgConfirmationShares, Attempt: tx.Attempt,
	}, tx.Share[:], &tx.Signed)
	if !acc.Ready {
		return nil
	}
	if !acc.Participating {
		panic("wasn't a participant in DKG confirmation shares")
	}
	h.logger.Printf("got all DkgConfirmed for %s", hex.EncodeToString(genesis[:]))

	preprocesses, err := h.store.ConfirmationNonces(txn, tx.Attempt)
	if err != nil {
		return fmt.Errorf("failed to load confirmation nonces: %w", err)
	}
	if preprocesses == nil {
		panic("DkgConfirmed before DkgShares accumulated confirmation nonces")
	}

	// The key pair was persisted by GeneratedKeyPair, in the same storage
	// transaction as our own DkgConfirmed was produced. Handler calls are
	// strictly serialized per Tributary, so it's committed before any
	// DkgConfirmed is finalized.
	keyPair, ok, err := h.store.CurrentlyCompletingKeyPair(txn)
	if err != nil {
		return fmt.Errorf("failed to load completing key pair: %w", err)
	}
	if !ok {
		panic("in DkgConfirmed handling, which happens after everyone (including us) " +
			"fires DkgConfirmed, yet no confirming key pair")
	}

	sig, err := dkg.Complete(h.spec, h.key, tx.Attempt, preprocesses, keyPair, acc.Dataset)
	if err != nil {
		// An invalid confirmation share is an attributable fault: slash the
		// offender and let the re-attempt protocol drive a fresh round
		var pErr *rcrypto.ParticipantError
		if !errors.As(err, &pErr) {
			panic(fmt.Sprintf("DKG confirmation completion: %v", err))
		}
		offender := h.spec.Validators()[int(pErr.Participant)-1].Key
		h.fatalSlash(txn, offender, "invalid DKG confirmation share")
		return nil
	}

	if err := h.store.SaveKeyPair(txn, h.spec.Set(), keyPair); err != nil {
		return fmt.Errorf("failed to save key pair: %w", err)
	}

	return h.publish(ctx, h.spec.Set(),
		mainchain.SetKeys(h.spec.Set().Network, keyPair, sig))
}

// GeneratedKeyPair is called when the processor reports DKG success. It
// persists the key pair being confirmed and produces this node's
// confirmation share over the accumulated nonces.
func (h *Handler) GeneratedKeyPair(
	txn *kvdb.Txn, keyPair mainchain.KeyPair, attempt uint32,
) ([32]byte, error) {
	if err := h.store.SaveCurrentlyCompletingKeyPair(txn, keyPair); err != nil {
		return [32]byte{}, fmt.Errorf("failed to persist completing key pair: %w", err)
	}
	preprocesses, err := h.store.ConfirmationNonces(txn, attempt)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to load confirmation nonces: %w", err)
	}
	if preprocesses == nil {
		panic("generated key pair despite no accumulated confirmation nonces")
	}
	return dkg.Share(h.spec, h.key, attempt, preprocesses, keyPair)
}

// batchSignID builds the SignID for a batch round, keyed by the confirmed
// substrate key.
func (h *Handler) batchSignID(txn *kvdb.Txn, plan [32]byte, attempt uint32) processor.SignID {
	keyPair, ok, err := h.store.KeyPair(txn, h.spec.Set())
	if err != nil {
		panic(fmt.Sprintf("failed to load key pair: %v", err))
	}
	if !ok {
		panic("batch signing round despite not setting the key pair")
	}
	return processor.SignID{Key: keyPair.Substrate[:], ID: plan, Attempt: attempt}
}

// planSignID builds the SignID for a plan round, keyed by the confirmed
// external key.
func (h *Handler) planSignID(txn *kvdb.Txn, plan [32]byte, attempt uint32, missing string) processor.SignID {
	keyPair, ok, err := h.store.KeyPair(txn, h.spec.Set())
	if err != nil {
		panic(fmt.Sprintf("failed to load key pair: %v", err))
	}
	if !ok {
		panic(missing)
	}
	return processor.SignID{Key: keyPair.External, ID: plan, Attempt: attempt}
}
