// Package metrics defines the node's prometheus instrumentation. The
// metric names are carried over unchanged from the original daemon's
// metrics module so existing dashboards and alerts keep working
// against a Volt node regardless of which implementation serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionCounter counts every transaction applied to the tree,
	// regardless of kind.
	TransactionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transactions_total",
		Help: "Total number of transactions processed",
	})

	// UpdateCounter counts every state-update message received over
	// gossip, including ones later rejected.
	UpdateCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updates_total",
		Help: "Total number of updates received",
	})

	// PeerCount tracks the current size of the peer set.
	PeerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "peers",
		Help: "Number of connected peers",
	})

	// TransactionProcessingTime records wall-clock time to apply a
	// single transaction to the tree.
	TransactionProcessingTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transaction_processing_time_seconds",
		Help:    "Time to process a transaction",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
	})

	// ProofVerificationTime records wall-clock time to verify one
	// inclusion or absence proof.
	ProofVerificationTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proof_verification_time_seconds",
		Help:    "Time to verify a proof",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})
)
