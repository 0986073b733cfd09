// Copyright 2025 Tributary Protocol
//
// Threshold signing machine chain: AlgorithmMachine -> SignMachine ->
// SignatureMachine. Each transition consumes the prior machine; a consumed
// machine refuses further use so a nonce can never sign two messages.

package rcrypto

import (
	"errors"
	"fmt"
	"io"

	"github.com/gtank/merlin"
	"github.com/gtank/ristretto255"
)

// nonceCommitment is one participant's decoded preprocess.
type nonceCommitment struct {
	d *ristretto255.Element
	e *ristretto255.Element
}

// AlgorithmMachine is a signing machine awaiting its preprocess round.
type AlgorithmMachine struct {
	keys     *MusigKeys
	ctx      []byte
	consumed bool
}

// NewAlgorithmMachine builds a machine for the given aggregation and
// Schnorrkel signing context.
func NewAlgorithmMachine(keys *MusigKeys, ctx []byte) *AlgorithmMachine {
	return &AlgorithmMachine{keys: keys, ctx: ctx}
}

// Preprocess draws the two signing nonces from rng and commits to them.
// The machine is consumed; the returned SignMachine holds the nonces.
func (m *AlgorithmMachine) Preprocess(rng io.Reader) (*AlgorithmSignMachine, [PreprocessSize]byte, error) {
	var preprocess [PreprocessSize]byte
	if m.consumed {
		return nil, preprocess, ErrMachineConsumed
	}
	m.consumed = true

	d, err := randomScalar(rng)
	if err != nil {
		return nil, preprocess, fmt.Errorf("draw nonce d: %w", err)
	}
	e, err := randomScalar(rng)
	if err != nil {
		return nil, preprocess, fmt.Errorf("draw nonce e: %w", err)
	}

	bigD := ristretto255.NewElement().ScalarBaseMult(d)
	bigE := ristretto255.NewElement().ScalarBaseMult(e)
	copy(preprocess[:32], bigD.Encode(nil))
	copy(preprocess[32:], bigE.Encode(nil))

	return &AlgorithmSignMachine{keys: m.keys, ctx: m.ctx, d: d, e: e}, preprocess, nil
}

// AlgorithmSignMachine holds the signing nonces and awaits the full
// preprocess set plus the message.
type AlgorithmSignMachine struct {
	keys     *MusigKeys
	ctx      []byte
	d, e     *ristretto255.Scalar
	consumed bool
}

// Sign decodes the full preprocess set, derives the binding factors and the
// group challenge, and produces our signature share. A preprocess which
// fails to decode returns a *ParticipantError naming its sender; a missing
// or surplus participant is a caller bug and returns a plain error.
func (m *AlgorithmSignMachine) Sign(
	preprocesses map[Participant][]byte,
	msg []byte,
) (*AlgorithmSignatureMachine, [ShareSize]byte, error) {
	var share [ShareSize]byte
	if m.consumed {
		return nil, share, ErrMachineConsumed
	}
	m.consumed = true

	n := m.keys.N()
	if len(preprocesses) != int(n) {
		return nil, share, fmt.Errorf("invalid participant quantity: have %d, want %d", len(preprocesses), n)
	}

	commitments := make(map[Participant]*nonceCommitment, n)
	for p := Participant(1); p <= Participant(n); p++ {
		raw, ok := preprocesses[p]
		if !ok {
			return nil, share, fmt.Errorf("missing participant %d", p)
		}
		if len(raw) != PreprocessSize {
			return nil, share, &ParticipantError{p, errors.New("malformed preprocess length")}
		}
		d := ristretto255.NewElement()
		if err := d.Decode(raw[:32]); err != nil {
			return nil, share, &ParticipantError{p, errors.New("malformed preprocess commitment D")}
		}
		e := ristretto255.NewElement()
		if err := e.Decode(raw[32:]); err != nil {
			return nil, share, &ParticipantError{p, errors.New("malformed preprocess commitment E")}
		}
		commitments[p] = &nonceCommitment{d: d, e: e}
	}

	// Binding factors tie every nonce to the message and the full
	// commitment set, so no subset of signers can bias the group nonce.
	t := merlin.NewTranscript("FROST-binding")
	t.AppendMessage([]byte("message"), msg)
	for p := Participant(1); p <= Participant(n); p++ {
		t.AppendMessage([]byte("participant"), participantBytes(p))
		t.AppendMessage([]byte("commitment-D"), commitments[p].d.Encode(nil))
		t.AppendMessage([]byte("commitment-E"), commitments[p].e.Encode(nil))
	}
	bindings := make(map[Participant]*ristretto255.Scalar, n)
	for p := Participant(1); p <= Participant(n); p++ {
		t.AppendMessage([]byte("binding-participant"), participantBytes(p))
		bindings[p] = scalarFromWide(t.ExtractBytes([]byte("binding-factor"), 64))
	}

	// R = sum(D_p + rho_p * E_p)
	groupNonce := ristretto255.NewElement()
	first := true
	for p := Participant(1); p <= Participant(n); p++ {
		bound := ristretto255.NewElement().ScalarMult(bindings[p], commitments[p].e)
		bound = bound.Add(bound, commitments[p].d)
		if first {
			groupNonce = bound
			first = false
		} else {
			groupNonce = groupNonce.Add(groupNonce, bound)
		}
	}
	rBytes := groupNonce.Encode(nil)

	groupKey := m.keys.GroupKey()
	k := challenge(signingTranscript(m.ctx, msg), rBytes, groupKey[:])

	// s_i = d_i + rho_i*e_i + k * a_i*x_i
	s := ristretto255.NewScalar().Multiply(bindings[m.keys.i], m.e)
	s = s.Add(s, m.d)
	s = s.Add(s, ristretto255.NewScalar().Multiply(k, m.keys.effectiveSecret()))
	copy(share[:], s.Encode(nil))

	return &AlgorithmSignatureMachine{
		keys:        m.keys,
		commitments: commitments,
		bindings:    bindings,
		groupNonce:  groupNonce,
		challenge:   k,
	}, share, nil
}

// AlgorithmSignatureMachine holds the group state and awaits every
// participant's signature share.
type AlgorithmSignatureMachine struct {
	keys        *MusigKeys
	commitments map[Participant]*nonceCommitment
	bindings    map[Participant]*ristretto255.Scalar
	groupNonce  *ristretto255.Element
	challenge   *ristretto255.Scalar
	consumed    bool
}

// Complete decodes and verifies every share, then aggregates the final
// signature. A share which fails to decode or verify returns a
// *ParticipantError naming its sender.
func (m *AlgorithmSignatureMachine) Complete(shares map[Participant][]byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte
	if m.consumed {
		return sig, ErrMachineConsumed
	}
	m.consumed = true

	n := m.keys.N()
	if len(shares) != int(n) {
		return sig, fmt.Errorf("invalid participant quantity: have %d, want %d", len(shares), n)
	}

	sum := ristretto255.NewScalar()
	for p := Participant(1); p <= Participant(n); p++ {
		raw, ok := shares[p]
		if !ok {
			return sig, fmt.Errorf("missing participant %d", p)
		}
		if len(raw) != ShareSize {
			return sig, &ParticipantError{p, errors.New("malformed share length")}
		}
		s := ristretto255.NewScalar()
		if err := s.Decode(raw); err != nil {
			return sig, &ParticipantError{p, errors.New("malformed share scalar")}
		}

		// g*s_p == D_p + rho_p*E_p + k*(a_p*A_p)
		lhs := ristretto255.NewElement().ScalarBaseMult(s)
		rhs := ristretto255.NewElement().ScalarMult(m.bindings[p], m.commitments[p].e)
		rhs = rhs.Add(rhs, m.commitments[p].d)
		rhs = rhs.Add(rhs, ristretto255.NewElement().ScalarMult(m.challenge, m.keys.verificationShare(p)))
		if lhs.Equal(rhs) != 1 {
			return sig, &ParticipantError{p, errors.New("invalid signature share")}
		}

		sum = sum.Add(sum, s)
	}

	copy(sig[:32], m.groupNonce.Encode(nil))
	copy(sig[32:], sum.Encode(nil))
	return sig, nil
}
