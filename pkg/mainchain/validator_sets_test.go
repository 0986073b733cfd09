// Copyright 2025 Tributary Protocol

package mainchain

import (
	"bytes"
	"testing"
)

func TestKeyPairRoundTrip(t *testing.T) {
	keyPair := KeyPair{External: []byte("external network public key")}
	copy(keyPair.Substrate[:], bytes.Repeat([]byte{0x3f}, 32))

	decoded, err := DecodeKeyPair(keyPair.Encode())
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if decoded.Substrate != keyPair.Substrate || !bytes.Equal(decoded.External, keyPair.External) {
		t.Error("round-trip changed the key pair")
	}

	// Zero-length external keys are legal
	empty := KeyPair{}
	decoded, err = DecodeKeyPair(empty.Encode())
	if err != nil {
		t.Fatalf("failed to decode empty external: %v", err)
	}
	if len(decoded.External) != 0 {
		t.Error("empty external key round-trip mismatch")
	}

	// Truncation is rejected
	encoded := keyPair.Encode()
	if _, err := DecodeKeyPair(encoded[:len(encoded)-1]); err == nil {
		t.Error("expected error for truncated encoding")
	}
}

func TestCanonicalEncodingsBindTheirInputs(t *testing.T) {
	setA := ValidatorSet{Network: NetworkBitcoin, Session: 0}
	setB := ValidatorSet{Network: NetworkBitcoin, Session: 1}
	setC := ValidatorSet{Network: NetworkMonero, Session: 0}

	if bytes.Equal(MusigContext(setA), MusigContext(setB)) {
		t.Error("musig context does not bind the session")
	}
	if bytes.Equal(MusigContext(setA), MusigContext(setC)) {
		t.Error("musig context does not bind the network")
	}

	keyPair := KeyPair{External: []byte("key")}
	other := KeyPair{External: []byte("other")}
	if bytes.Equal(SetKeysMessage(setA, keyPair), SetKeysMessage(setA, other)) {
		t.Error("set_keys message does not bind the key pair")
	}
	if bytes.Equal(SetKeysMessage(setA, keyPair), SetKeysMessage(setB, keyPair)) {
		t.Error("set_keys message does not bind the set")
	}
}

func TestCoinTables(t *testing.T) {
	for _, coin := range Coins {
		if !coin.Network().Valid() {
			t.Errorf("%s maps to invalid network", coin.Name())
		}
	}
	if CoinDai.Network() != NetworkEthereum {
		t.Error("Dai settles on Ethereum")
	}
	if CoinMonero.Decimals() != 12 {
		t.Errorf("Monero decimals: %d", CoinMonero.Decimals())
	}
	if CoinEther.Decimals() != 8 {
		t.Errorf("tracked Ether decimals: %d", CoinEther.Decimals())
	}
}
