// Copyright 2025 Tributary Protocol
//
// Tributary Coordinator - service entry point
//
// Wires the coordination core together: persistent storage, the validator
// key, the Tributary ledger and handler, the mempool, the main-chain
// publisher, and the metrics server. The BFT engine attaches to the
// Coordinator it builds; the engine itself is an external collaborator.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"

	"github.com/tributary-protocol/coordinator/pkg/config"
	"github.com/tributary-protocol/coordinator/pkg/crypto/rcrypto"
	"github.com/tributary-protocol/coordinator/pkg/kvdb"
	"github.com/tributary-protocol/coordinator/pkg/ledger"
	"github.com/tributary-protocol/coordinator/pkg/mainchain"
	"github.com/tributary-protocol/coordinator/pkg/mempool"
	"github.com/tributary-protocol/coordinator/pkg/metrics"
	"github.com/tributary-protocol/coordinator/pkg/processor"
	"github.com/tributary-protocol/coordinator/pkg/tributary"
	"github.com/tributary-protocol/coordinator/pkg/tributary/handler"
)

// Coordinator owns one Tributary's core: the BFT engine bridge calls
// HandleFinalized for each finalized transaction, in order.
type Coordinator struct {
	db      *kvdb.DB
	store   *ledger.Store
	handler *handler.Handler
	mempool *mempool.Mempool
	logger  *log.Logger
}

// HandleFinalized applies one finalized transaction inside its own storage
// transaction. Commit failures are fatal to the Tributary task.
func (c *Coordinator) HandleFinalized(ctx context.Context, tx tributary.Transaction) error {
	txn := c.db.Txn()
	if err := c.handler.HandleTransaction(ctx, txn, tx); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit handler transaction: %w", err)
	}
	return nil
}

// loadOrGenerateKey reads the validator's Ristretto key, generating and
// persisting one on first start.
func loadOrGenerateKey(path string, logger *log.Logger) (*rcrypto.PrivateKey, error) {
	if data, err := os.ReadFile(path); err == nil {
		decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("validator key file is not hex: %w", err)
		}
		return rcrypto.PrivateKeyFromBytes(decoded)
	}

	key, err := rcrypto.GeneratePrivateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate validator key: %w", err)
	}
	encoded := key.Bytes()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(encoded[:])), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist validator key: %w", err)
	}
	pub := key.Public()
	logger.Printf("generated new validator key %s at %s", hex.EncodeToString(pub[:]), path)
	return key, nil
}

// networkFromName maps a config network name to its ID.
func networkFromName(name string) (mainchain.NetworkID, error) {
	for _, network := range mainchain.Networks {
		if strings.EqualFold(network.String(), name) {
			return network, nil
		}
	}
	return 0, fmt.Errorf("unknown network %q", name)
}

// buildSpec constructs the Tributary spec from its definition file.
func buildSpec(cfg *config.TributaryConfig) (*tributary.Spec, error) {
	genesis, err := cfg.GenesisBytes()
	if err != nil {
		return nil, err
	}
	network, err := networkFromName(cfg.Network)
	if err != nil {
		return nil, err
	}

	validators := make([]tributary.Validator, len(cfg.Validators))
	for i, v := range cfg.Validators {
		key, err := v.KeyBytes()
		if err != nil {
			return nil, err
		}
		validators[i] = tributary.Validator{Key: key, Weight: v.Weight}
	}

	return tributary.NewSpec(genesis,
		mainchain.ValidatorSet{Network: network, Session: cfg.Session}, validators)
}

func run() error {
	logger := log.New(log.Writer(), "[Coordinator] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	tributaryCfg, err := config.LoadTributaryConfig(cfg.TributaryConfigPath)
	if err != nil {
		return err
	}
	spec, err := buildSpec(tributaryCfg)
	if err != nil {
		return err
	}
	genesis := spec.Genesis()
	logger.Printf("tributary %s for set %s with %d validators (n=%d, t=%d)",
		hex.EncodeToString(genesis[:8]), spec.Set(), len(spec.Validators()), spec.N(), spec.T())

	keyPath := cfg.ValidatorKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "validator_key")
	}
	key, err := loadOrGenerateKey(keyPath, logger)
	if err != nil {
		return err
	}
	if _, err := spec.I(key.Public()); err != nil {
		return fmt.Errorf("our key is not in the configured validator set: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	backing, err := dbm.NewGoLevelDB("coordinator", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db := kvdb.New(backing)

	store := ledger.NewStore(genesis)
	// The DKG is authorized from the Tributary's first block
	txn := db.Txn()
	if err := store.RecognizeTopic(txn, tributary.TopicDkg()); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis state: %w", err)
	}

	pool, err := mempool.New(db, genesis)
	if err != nil {
		return fmt.Errorf("failed to load mempool: %w", err)
	}

	mainChain, err := rpchttp.New(cfg.MainChainRPC, "/websocket")
	if err != nil {
		return fmt.Errorf("failed to connect to main chain: %w", err)
	}
	publish := func(ctx context.Context, set mainchain.ValidatorSet, tx []byte) error {
		// Fire-and-forget; the chain deduplicates repeated publications
		if _, err := mainChain.BroadcastTxAsync(ctx, tx); err != nil {
			return fmt.Errorf("failed to publish for %s: %w", set, err)
		}
		return nil
	}

	processors := processor.NewChanProcessors(cfg.ProcessorQueueDepth)
	// The processor bridge attaches here; until one does, surface the
	// traffic in the logs.
	go func() {
		for msg := range processors.Messages() {
			logger.Printf("processor message: %T", msg)
		}
	}()

	recognized := func(
		_ context.Context, set mainchain.ValidatorSet, _ [32]byte,
		kind handler.RecognizedIDType, id [32]byte, nonce uint32,
	) error {
		logger.Printf("recognized id %s kind %d for %s (first nonce %d)",
			hex.EncodeToString(id[:8]), kind, set, nonce)
		return nil
	}

	coordinator := &Coordinator{
		db:      db,
		store:   store,
		handler: handler.New(spec, key, store, processors, publish, recognized),
		mempool: pool,
		logger:  logger,
	}
	_ = coordinator // consumed by the BFT engine bridge

	go func() {
		logger.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Printf("shutting down")
	return backing.Close()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("coordinator: %v", err)
	}
}
