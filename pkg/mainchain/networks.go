// Copyright 2025 Tributary Protocol
//
// Network and coin definitions shared with the main settlement chain.
// These tables are part of the cross-chain consensus surface: the on-chain
// runtime carries the same definitions, and any divergence breaks
// verification of published transactions.

package mainchain

import "fmt"

// NetworkID identifies a connected network.
type NetworkID uint8

const (
	NetworkSerai NetworkID = iota
	NetworkBitcoin
	NetworkEthereum
	NetworkMonero
)

// Networks lists every defined network.
var Networks = [4]NetworkID{NetworkSerai, NetworkBitcoin, NetworkEthereum, NetworkMonero}

func (n NetworkID) String() string {
	switch n {
	case NetworkSerai:
		return "Serai"
	case NetworkBitcoin:
		return "Bitcoin"
	case NetworkEthereum:
		return "Ethereum"
	case NetworkMonero:
		return "Monero"
	default:
		return fmt.Sprintf("NetworkID(%d)", uint8(n))
	}
}

// Valid reports whether this is a defined network.
func (n NetworkID) Valid() bool {
	return n <= NetworkMonero
}

// Coin identifies a coin tracked by the settlement chain.
type Coin uint8

const (
	CoinSerai Coin = iota
	CoinBitcoin
	CoinEther
	CoinDai
	CoinMonero
)

// Coins lists every defined coin.
var Coins = [5]Coin{CoinSerai, CoinBitcoin, CoinEther, CoinDai, CoinMonero}

// Network returns the network a coin settles on.
func (c Coin) Network() NetworkID {
	switch c {
	case CoinSerai:
		return NetworkSerai
	case CoinBitcoin:
		return NetworkBitcoin
	case CoinEther, CoinDai:
		return NetworkEthereum
	case CoinMonero:
		return NetworkMonero
	default:
		panic(fmt.Sprintf("network for undefined coin %d", uint8(c)))
	}
}

func (c Coin) Name() string {
	switch c {
	case CoinSerai:
		return "Serai"
	case CoinBitcoin:
		return "Bitcoin"
	case CoinEther:
		return "Ether"
	case CoinDai:
		return "Dai Stablecoin"
	case CoinMonero:
		return "Monero"
	default:
		return fmt.Sprintf("Coin(%d)", uint8(c))
	}
}

func (c Coin) Symbol() string {
	switch c {
	case CoinSerai:
		return "SRI"
	case CoinBitcoin:
		return "BTC"
	case CoinEther:
		return "ETH"
	case CoinDai:
		return "DAI"
	case CoinMonero:
		return "XMR"
	default:
		return "???"
	}
}

// Decimals returns the tracked decimal precision. Ether and Dai natively use
// 18 decimals, yet only 8 are tracked so amounts fit within a uint64.
func (c Coin) Decimals() uint32 {
	switch c {
	case CoinMonero:
		return 12
	default:
		return 8
	}
}

const (
	// MaxCoinsPerNetwork bounds the coins a single network may define.
	MaxCoinsPerNetwork = 8

	// MaxKeySharesPerSet bounds the total key shares within one validator
	// set, and with it the participant count of every accumulation.
	MaxKeySharesPerSet = 600
)
