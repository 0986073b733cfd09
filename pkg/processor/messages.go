// Copyright 2025 Tributary Protocol
//
// Coordinator -> Processor Messages
//
// The handler emits these over a send-only channel once a dataset promotes
// to Ready. Each message carries an ID envelope identifying its round.

package processor

import (
	"context"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
)

// KeyGenID identifies one DKG round.
type KeyGenID struct {
	Set     mainchain.ValidatorSet
	Attempt uint32
}

// SignID identifies one signing round under a confirmed key.
type SignID struct {
	Key     []byte
	ID      [32]byte
	Attempt uint32
}

// Message is the closed union of coordinator-to-processor messages.
type Message interface {
	isCoordinatorMessage()
}

// KeyGenCommitments delivers every participant's DKG commitments.
type KeyGenCommitments struct {
	ID          KeyGenID
	Commitments map[rcrypto.Participant][]byte
}

// KeyGenShares delivers the DKG shares addressed to this node.
type KeyGenShares struct {
	ID     KeyGenID
	Shares map[rcrypto.Participant][]byte
}

// BatchPreprocesses delivers a batch-signing preprocess set.
type BatchPreprocesses struct {
	ID           SignID
	Preprocesses map[rcrypto.Participant][]byte
}

// BatchShares delivers a batch-signing share set.
type BatchShares struct {
	ID     SignID
	Shares map[rcrypto.Participant][]byte
}

// SignPreprocesses delivers a plan-signing preprocess set.
type SignPreprocesses struct {
	ID           SignID
	Preprocesses map[rcrypto.Participant][]byte
}

// SignShares delivers a plan-signing share set.
type SignShares struct {
	ID     SignID
	Shares map[rcrypto.Participant][]byte
}

// SignCompleted reports an on-tributary claim that an external transaction
// completed a signing plan.
type SignCompleted struct {
	Key    []byte
	ID     [32]byte
	TxHash []byte
}

func (KeyGenCommitments) isCoordinatorMessage() {}
func (KeyGenShares) isCoordinatorMessage()      {}
func (BatchPreprocesses) isCoordinatorMessage() {}
func (BatchShares) isCoordinatorMessage()       {}
func (SignPreprocesses) isCoordinatorMessage()  {}
func (SignShares) isCoordinatorMessage()        {}
func (SignCompleted) isCoordinatorMessage()     {}

// Processors is the outbound channel to the processor pool. Send may await
// queue capacity; it is one of the handler's few suspension points.
type Processors interface {
	Send(ctx context.Context, network mainchain.NetworkID, msg Message) error
}

// ChanProcessors is a bounded in-memory Processors, used by tests and by
// single-process deployments.
type ChanProcessors struct {
	ch chan Message
}

// NewChanProcessors creates a ChanProcessors with the given queue depth.
func NewChanProcessors(depth int) *ChanProcessors {
	return &ChanProcessors{ch: make(chan Message, depth)}
}

// Send enqueues a message, awaiting capacity.
func (p *ChanProcessors) Send(ctx context.Context, _ mainchain.NetworkID, msg Message) error {
	select {
	case p.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages exposes the queue for consumers.
func (p *ChanProcessors) Messages() <-chan Message {
	return p.ch
}
