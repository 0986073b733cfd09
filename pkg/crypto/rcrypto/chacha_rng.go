// Copyright 2025 Tributary Protocol

package rcrypto

import (
	"golang.org/x/crypto/chacha20"
)

// ChaChaRNG is a deterministic randomness stream keyed by a 32-byte seed.
// The same seed always yields the same stream, which the DKG confirmer
// relies on to rebuild identical signing nonces across calls.
type ChaChaRNG struct {
	cipher *chacha20.Cipher
}

// NewChaChaRNG creates a stream keyed by seed with a zero nonce.
func NewChaChaRNG(seed [32]byte) *ChaChaRNG {
	cipher, err := chacha20.NewUnauthenticatedCipher(seed[:], make([]byte, chacha20.NonceSize))
	if err != nil {
		// Key and nonce sizes are fixed above; failure is unreachable.
		panic("chacha20 cipher construction: " + err.Error())
	}
	return &ChaChaRNG{cipher: cipher}
}

// Read fills p with keystream bytes. It never fails.
func (r *ChaChaRNG) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	r.cipher.XORKeyStream(p, p)
	return len(p), nil
}
