// Copyright 2025 Tributary Protocol
//
// Prometheus metrics for the coordinator

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MempoolSize tracks the transactions currently buffered for proposal.
	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tributary_mempool_size",
		Help: "Transactions currently in the mempool",
	})

	// HandledTransactions counts finalized transactions applied to the
	// ledger, by kind.
	HandledTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tributary_handled_transactions_total",
		Help: "Finalized transactions applied, by kind",
	}, []string{"kind"})

	// ReadyDatasets counts accumulations which promoted to Ready.
	ReadyDatasets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tributary_ready_datasets_total",
		Help: "Datasets which accumulated every participant's data, by label",
	}, []string{"label"})

	// FatalSlashes counts fatal slashes recorded.
	FatalSlashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tributary_fatal_slashes_total",
		Help: "Validators fatally slashed for protocol violations",
	})

	// ScannedBlocks counts blocks checked by the chain scanner.
	ScannedBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tributary_scanned_blocks_total",
		Help: "Blocks fetched and reserialization-checked by the scanner",
	})
)

// Serve exposes /metrics on addr. Blocks until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
