// Copyright 2025 Tributary Protocol

package tributary

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// TopicKind tags the coordination domains within a Tributary.
type TopicKind uint8

const (
	// TopicKindDkg is the single DKG of the Tributary's lifetime.
	TopicKindDkg TopicKind = iota
	// TopicKindBatch is one attested batch.
	TopicKindBatch
	// TopicKindSign is one signing plan.
	TopicKindSign
)

// Topic is a coordination domain: the DKG, a batch, or a signing plan.
type Topic struct {
	Kind TopicKind
	// ID identifies the batch or plan. Zero for the DKG.
	ID [32]byte
}

// TopicDkg returns the DKG topic.
func TopicDkg() Topic {
	return Topic{Kind: TopicKindDkg}
}

// TopicBatch returns the topic for a batch.
func TopicBatch(id [32]byte) Topic {
	return Topic{Kind: TopicKindBatch, ID: id}
}

// TopicSign returns the topic for a signing plan.
func TopicSign(id [32]byte) Topic {
	return Topic{Kind: TopicKindSign, ID: id}
}

// Encode returns the canonical topic encoding used in storage keys.
func (t Topic) Encode() []byte {
	if t.Kind == TopicKindDkg {
		return []byte{byte(TopicKindDkg)}
	}
	out := make([]byte, 33)
	out[0] = byte(t.Kind)
	copy(out[1:], t.ID[:])
	return out
}

func (t Topic) String() string {
	switch t.Kind {
	case TopicKindDkg:
		return "Dkg"
	case TopicKindBatch:
		return fmt.Sprintf("Batch(%x)", t.ID[:8])
	case TopicKindSign:
		return fmt.Sprintf("Sign(%x)", t.ID[:8])
	default:
		return fmt.Sprintf("Topic(%d)", t.Kind)
	}
}

// Data labels. Labels within a topic are domain-separated by construction;
// the b_/s_ prefixes between Batch and Sign are redundant with the topic
// separation yet kept for defense in depth of the key space.
const (
	LabelDkgCommitments        = "commitments"
	LabelDkgShares             = "shares"
	LabelDkgConfirmationNonces = "confirmation_nonces"
	LabelDkgConfirmationShares = "confirmation_shares"

	LabelBatchPreprocess = "b_preprocess"
	LabelBatchShare      = "b_share"

	LabelSignPreprocess = "s_preprocess"
	LabelSignShare      = "s_share"
)

// DataSpecification addresses one accumulation: a topic, a label within it,
// and the attempt number of the round.
type DataSpecification struct {
	Topic   Topic
	Label   string
	Attempt uint32
}

// Encode returns the canonical encoding used in storage keys.
func (d DataSpecification) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(d.Topic.Encode())
	buf.WriteByte(byte(len(d.Label)))
	buf.WriteString(d.Label)
	var attempt [4]byte
	binary.BigEndian.PutUint32(attempt[:], d.Attempt)
	buf.Write(attempt[:])
	return buf.Bytes()
}
