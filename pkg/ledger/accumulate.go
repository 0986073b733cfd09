// Copyright 2025 Tributary Protocol
//
// Accumulation - collecting one contribution per participant under a data
// specification until every key share is represented.

package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
)

// Accumulation is the outcome of recording one contribution.
type Accumulation struct {
	// Ready is set once every participant's data has been accumulated.
	Ready bool
	// Participating is meaningful only when Ready: it reports whether the
	// local node was itself a required contributor.
	Participating bool
	// Dataset is the materialized map from participant index to bytes.
	// Set only when Ready and Participating.
	Dataset map[rcrypto.Participant][]byte
}

// NotReady is the zero Accumulation.
var NotReady = Accumulation{}

// Accumulate records a signer's bytes for a data specification and reports
// whether the dataset is now complete. Writes are write-once per
// (data specification, signer): a second write returns ErrDataExists
// without touching the stored bytes, and the caller fatally slashes.
//
// The dataset promotes exactly when the accumulated key share weight
// reaches spec.N(), i.e. when the final required signer's data commits.
// Promotion materializes the dataset in participant order, making downstream
// iteration deterministic.
func (s *Store) Accumulate(
	txn *kvdb.Txn,
	ourKey [32]byte,
	spec *tributary.Spec,
	dataSpec tributary.DataSpecification,
	signer [32]byte,
	data []byte,
) (Accumulation, error) {
	_, exists, err := s.Data(txn, dataSpec, signer)
	if err != nil {
		return NotReady, err
	}
	if exists {
		return NotReady, ErrDataExists
	}

	signerIndex, err := spec.I(signer)
	if err != nil {
		return NotReady, fmt.Errorf("accumulate from non-participant: %w", err)
	}
	weight, err := spec.Weight(signerIndex)
	if err != nil {
		return NotReady, err
	}

	if err := s.putData(txn, dataSpec, signer, data); err != nil {
		return NotReady, err
	}

	received, err := s.received(txn, dataSpec)
	if err != nil {
		return NotReady, err
	}
	received += weight
	var encoded [2]byte
	binary.BigEndian.PutUint16(encoded[:], received)
	if err := txn.Put(s.key(keyReceivedPrefix, dataSpec.Encode()), encoded[:]); err != nil {
		return NotReady, err
	}

	if received < spec.N() {
		return NotReady, nil
	}
	if received > spec.N() {
		// Weights are validated at spec construction and writes are
		// write-once, so overshoot is impossible.
		panic(fmt.Sprintf("accumulated weight %d exceeds n %d for %s", received, spec.N(), dataSpec.Topic))
	}

	if _, err := spec.I(ourKey); err != nil {
		return Accumulation{Ready: true, Participating: false}, nil
	}

	// Materialize in participant order
	dataset := make(map[rcrypto.Participant][]byte, len(spec.Validators()))
	for i, validator := range spec.Validators() {
		contribution, ok, err := s.Data(txn, dataSpec, validator.Key)
		if err != nil {
			return NotReady, err
		}
		if !ok {
			panic(fmt.Sprintf("dataset %s ready yet participant %d has no data", dataSpec.Topic, i+1))
		}
		dataset[rcrypto.Participant(i+1)] = contribution
	}

	return Accumulation{Ready: true, Participating: true, Dataset: dataset}, nil
}
