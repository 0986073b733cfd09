// Copyright 2025 Tributary Protocol
//
// MuSig key aggregation over ristretto255.
//
// Aggregation is deterministic in (context, ordered key list): every party
// derives the same per-key coefficients from a merlin transcript, so the
// group key can be recomputed on-chain without interaction.

package rcrypto

import (
	"bytes"

	"github.com/gtank/merlin"
	"github.com/gtank/ristretto255"
)

// MusigKeys binds a private key to its position within a MuSig aggregation.
type MusigKeys struct {
	context      []byte
	keys         []*ristretto255.Element
	coefficients []*ristretto255.Scalar
	group        *ristretto255.Element

	i      Participant
	secret *ristretto255.Scalar
}

// Musig aggregates the ordered key list under the given context, binding the
// provided private key to its position. The key must appear in the list
// exactly once.
func Musig(context []byte, key *PrivateKey, keys [][PublicKeySize]byte) (*MusigKeys, error) {
	ourPub := key.Public()

	points := make([]*ristretto255.Element, len(keys))
	var ourIndex Participant
	for idx, enc := range keys {
		point := ristretto255.NewElement()
		if err := point.Decode(enc[:]); err != nil {
			return nil, ErrInvalidPublicKey
		}
		points[idx] = point
		for prior := 0; prior < idx; prior++ {
			if bytes.Equal(keys[prior][:], enc[:]) {
				return nil, ErrDuplicatedKey
			}
		}
		if bytes.Equal(enc[:], ourPub[:]) {
			ourIndex = Participant(idx + 1)
		}
	}
	if ourIndex == 0 {
		return nil, ErrNotAParticipant
	}

	t := merlin.NewTranscript("MuSig-aggregation")
	t.AppendMessage([]byte("context"), context)
	for _, enc := range keys {
		t.AppendMessage([]byte("key"), enc[:])
	}

	coefficients := make([]*ristretto255.Scalar, len(keys))
	group := ristretto255.NewElement()
	first := true
	for idx := range keys {
		t.AppendMessage([]byte("participant"), participantBytes(Participant(idx+1)))
		coefficients[idx] = scalarFromWide(t.ExtractBytes([]byte("aggregation-coefficient"), 64))

		weighted := ristretto255.NewElement().ScalarMult(coefficients[idx], points[idx])
		if first {
			group = weighted
			first = false
		} else {
			group = group.Add(group, weighted)
		}
	}

	return &MusigKeys{
		context:      context,
		keys:         points,
		coefficients: coefficients,
		group:        group,
		i:            ourIndex,
		secret:       ristretto255.NewScalar().Add(ristretto255.NewScalar(), key.scalar),
	}, nil
}

// I returns our 1-indexed position within the aggregation.
func (m *MusigKeys) I() Participant {
	return m.i
}

// N returns the participant count.
func (m *MusigKeys) N() uint16 {
	return uint16(len(m.keys))
}

// GroupKey returns the canonical encoding of the aggregated public key.
func (m *MusigKeys) GroupKey() [PublicKeySize]byte {
	var out [PublicKeySize]byte
	copy(out[:], m.group.Encode(nil))
	return out
}

// verificationShare returns the effective public key of one participant:
// their key scaled by their aggregation coefficient.
func (m *MusigKeys) verificationShare(p Participant) *ristretto255.Element {
	idx := int(p) - 1
	return ristretto255.NewElement().ScalarMult(m.coefficients[idx], m.keys[idx])
}

// effectiveSecret returns our private scalar scaled by our coefficient.
func (m *MusigKeys) effectiveSecret() *ristretto255.Scalar {
	return ristretto255.NewScalar().Multiply(m.coefficients[int(m.i)-1], m.secret)
}
