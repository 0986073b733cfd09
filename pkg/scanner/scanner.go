// Copyright 2025 Tributary Protocol
//
// Chain Scanner - verifies transaction reserialization across a block range
//
// The scanner is an embarrassingly parallel producer: a fixed-size worker
// pool drains block heights from a monotone counter, round-robin across
// independent RPC clients. Every transaction in every block must decode and
// re-encode to identical bytes; a divergence means the canonical encoding
// drifted from what the chain carries. The scanner shares no state with
// the coordination core.

package scanner

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync/atomic"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tributary-protocol/coordinator/pkg/mempool"
	"github.com/tributary-protocol/coordinator/pkg/metrics"
)

// Config holds scanner configuration.
type Config struct {
	// Nodes are the RPC endpoints to spread load across.
	Nodes []string
	// Parallelism is the worker count; workers take clients round-robin.
	Parallelism int
	// StartBlock is the first height to check.
	StartBlock int64
}

// Scanner drives the reserialization check.
type Scanner struct {
	clients []*rpchttp.HTTP
	start   int64
	logger  *log.Logger
}

// New builds a Scanner, connecting one client per worker round-robin over
// the configured nodes.
func New(cfg Config) (*Scanner, error) {
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("scanner requires at least one RPC node")
	}
	if cfg.Parallelism < 1 {
		return nil, fmt.Errorf("scanner parallelism must be at least 1")
	}

	clients := make([]*rpchttp.HTTP, cfg.Parallelism)
	for i := range clients {
		node := cfg.Nodes[i%len(cfg.Nodes)]
		client, err := rpchttp.New(node, "/websocket")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", node, err)
		}
		clients[i] = client
	}

	return &Scanner{
		clients: clients,
		start:   cfg.StartBlock,
		logger:  log.New(log.Writer(), "[Scanner] ", log.LstdFlags),
	}, nil
}

// checkBlock fetches one block and verifies every transaction round-trips.
func (s *Scanner) checkBlock(ctx context.Context, client *rpchttp.HTTP, height int64) error {
	result, err := client.Block(ctx, &height)
	if err != nil {
		return fmt.Errorf("failed to fetch block %d: %w", height, err)
	}

	for i, raw := range result.Block.Txs {
		tx, err := mempool.DecodeTx(raw)
		if err != nil {
			return fmt.Errorf("block %d tx %d does not decode: %w", height, i, err)
		}
		if !bytes.Equal(tx.Encode(), raw) {
			return fmt.Errorf("block %d tx %d reserializes differently", height, i)
		}
	}

	metrics.ScannedBlocks.Inc()
	s.logger.Printf("checked block %d with %d TXs", height, len(result.Block.Txs))
	return nil
}

// Run checks every block from StartBlock through the chain tip. It stops at
// the first divergence or fetch failure.
func (s *Scanner) Run(ctx context.Context) error {
	runID := uuid.New()

	status, err := s.clients[0].Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain status: %w", err)
	}
	tip := status.SyncInfo.LatestBlockHeight
	s.logger.Printf("run %s: checking blocks %d..%d across %d workers",
		runID, s.start, tip, len(s.clients))

	next := atomic.Int64{}
	next.Store(s.start)

	group, ctx := errgroup.WithContext(ctx)
	for _, client := range s.clients {
		client := client
		group.Go(func() error {
			for {
				height := next.Add(1) - 1
				if height > tip {
					return nil
				}
				if err := s.checkBlock(ctx, client, height); err != nil {
					return err
				}
			}
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	s.logger.Printf("run %s: all blocks check out", runID)
	return nil
}
