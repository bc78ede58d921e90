package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksScanned tracks blocks covered by completed chunks per chain
	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_blocks_scanned_total",
			Help: "Total number of blocks scanned",
		},
		[]string{"chain"},
	)

	// EventsEmitted tracks canonical events accepted by the sink
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_events_emitted_total",
			Help: "Total number of canonical events sinked",
		},
		[]string{"chain"},
	)

	// DuplicatesSkipped tracks raw matches dropped by the deduplicator
	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_duplicates_skipped_total",
			Help: "Total number of already-seen events skipped",
		},
		[]string{"chain"},
	)

	// RPCCallsTotal tracks RPC calls per chain and provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "provider", "method"},
	)

	// ProviderFailoversTotal tracks failovers to a lower-priority provider
	ProviderFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_provider_failovers_total",
			Help: "Total number of provider failovers",
		},
		[]string{"chain"},
	)

	// ReorgsTotal tracks detected reorganizations per chain
	ReorgsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_reorgs_total",
			Help: "Total number of chain reorganizations handled",
		},
		[]string{"chain"},
	)

	// ChunksSubdivided tracks QueryTooLarge-driven chunk splits
	ChunksSubdivided = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affiliate_indexer_chunks_subdivided_total",
			Help: "Total number of chunks subdivided after provider rejection",
		},
		[]string{"chain"},
	)

	// CheckpointBlock tracks the last safely-processed block per chain
	CheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "affiliate_indexer_checkpoint_block",
			Help: "Last safe block recorded in the checkpoint",
		},
		[]string{"chain"},
	)

	// ChainHeadBlock tracks the provider-reported head per chain
	ChainHeadBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "affiliate_indexer_chain_head_block",
			Help: "Latest block height reported by the provider",
		},
		[]string{"chain"},
	)
)
