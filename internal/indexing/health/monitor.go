// Package health aggregates per-chain status and serves it over HTTP
// alongside Prometheus metrics.
package health

import (
	"sync"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/orchestrator"
	"github.com/vietddude/affiliate-indexer/internal/infra/rpc"
)

// ChainHealth is the reported condition of one chain.
type ChainHealth struct {
	ChainID       domain.ChainID       `json:"chain_id"`
	State         orchestrator.State   `json:"state"`
	LastSafeBlock uint64               `json:"last_safe_block"`
	LastError     string               `json:"last_error,omitempty"`
	Providers     []rpc.ProviderHealth `json:"providers"`
}

// Snapshot is the whole process view.
type Snapshot struct {
	Healthy bool          `json:"healthy"`
	Chains  []ChainHealth `json:"chains"`
}

// Monitor collects status from the registered orchestrators and
// connection managers.
type Monitor struct {
	mu       sync.Mutex
	chains   []domain.ChainID
	orch     map[domain.ChainID]*orchestrator.Orchestrator
	managers map[domain.ChainID]*rpc.Manager
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		orch:     make(map[domain.ChainID]*orchestrator.Orchestrator),
		managers: make(map[domain.ChainID]*rpc.Manager),
	}
}

// Register adds a chain's orchestrator and connection manager.
func (m *Monitor) Register(chainID domain.ChainID, o *orchestrator.Orchestrator, mgr *rpc.Manager) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, chainID)
	m.orch[chainID] = o
	m.managers[chainID] = mgr
}

// Snapshot reports every chain in registration order. The process is
// healthy while no chain has halted.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Healthy: true}
	for _, id := range m.chains {
		st := m.orch[id].Status()
		ch := ChainHealth{
			ChainID:       id,
			State:         st.State,
			LastSafeBlock: st.LastSafeBlock,
			LastError:     st.LastError,
		}
		if mgr := m.managers[id]; mgr != nil {
			ch.Providers = mgr.Health()
		}
		if st.State == orchestrator.StateHalted {
			snap.Healthy = false
		}
		snap.Chains = append(snap.Chains, ch)
	}
	return snap
}
