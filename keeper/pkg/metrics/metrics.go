package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sett_keeper_build_info",
			Help: "Build information of the sett keeper",
		},
		[]string{"version", "commit", "date"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sett_keeper_transfers_total",
			Help: "Total number of want transfers from the rewards manager to strategies",
		},
		[]string{"key", "status"},
	)

	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sett_keeper_transfer_duration_seconds",
			Help:    "Duration from transfer submission to receipt",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~512s
		},
		[]string{"key"},
	)

	LastTransferAmount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sett_keeper_last_transfer_amount",
			Help: "Amount of want, in token units, moved by the last successful transfer",
		},
		[]string{"key"},
	)

	BalanceDeltaMismatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sett_keeper_balance_delta_mismatch_total",
			Help: "Transfers whose observed balance deltas differ from the requested amount",
		},
		[]string{"key"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sett_keeper_cycles_total",
			Help: "Total number of distribution cycles",
		},
		[]string{"status"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sett_keeper_cycle_duration_seconds",
			Help:    "Duration of distribution cycles",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10), // 5s to ~43 minutes
		},
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sett_keeper_rpc_requests_total",
			Help: "Total number of JSON-RPC calls made by the ledger",
		},
		[]string{"method", "status"},
	)
)
