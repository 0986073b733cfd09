// Copyright 2025 Tributary Protocol
//
// scan - reserialization check over a block range
//
// Usage: scan <start-block> [parallelism] [rpc-url...]

package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/tributary-protocol/coordinator/pkg/scanner"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: scan <start-block> [parallelism] [rpc-url...]")
	}

	start, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil {
		log.Fatalf("invalid start block: %v", err)
	}

	parallelism := 8
	if len(os.Args) > 2 {
		if parallelism, err = strconv.Atoi(os.Args[2]); err != nil {
			log.Fatalf("invalid parallelism: %v", err)
		}
	}

	nodes := os.Args[3:]
	if len(nodes) == 0 {
		nodes = []string{"http://127.0.0.1:26657"}
	}

	s, err := scanner.New(scanner.Config{
		Nodes:       nodes,
		Parallelism: parallelism,
		StartBlock:  start,
	})
	if err != nil {
		log.Fatalf("failed to build scanner: %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		log.Fatalf("scan failed: %v", err)
	}
}
