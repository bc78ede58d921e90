package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/indexing/metrics"
)

// HealthState is the health of one provider as seen by the manager.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnreachable HealthState = "unreachable"
)

// ManagerConfig tunes failover behavior.
type ManagerConfig struct {
	CallTimeout time.Duration

	// DegradedThreshold / UnreachableThreshold are consecutive-failure
	// counts that demote a provider.
	DegradedThreshold    int
	UnreachableThreshold int

	// Backoff between failover attempts within one call.
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64

	// Cooldown before an unreachable provider is probed again.
	UnreachableCooldown time.Duration
}

// DefaultManagerConfig provides sensible defaults.
var DefaultManagerConfig = ManagerConfig{
	CallTimeout:          10 * time.Second,
	DegradedThreshold:    1,
	UnreachableThreshold: 3,
	BackoffBase:          500 * time.Millisecond,
	BackoffMax:           30 * time.Second,
	BackoffMultiplier:    2.0,
	UnreachableCooldown:  time.Minute,
}

type endpoint struct {
	provider Provider
	rank     int

	state               HealthState
	consecutiveFailures int
	retryAt             time.Time
}

// ProviderHealth is a snapshot of one provider's state.
type ProviderHealth struct {
	Name                string
	Rank                int
	State               HealthState
	ConsecutiveFailures int
}

// Manager owns the ordered provider list for one chain and issues
// calls through the highest-priority usable provider, demoting on
// failure and promoting back on success. Health state is scoped to the
// chain: one Manager per ChainTarget.
type Manager struct {
	chainID domain.ChainID
	cfg     ManagerConfig
	limiter *RateLimiter
	log     *slog.Logger

	mu        sync.Mutex
	endpoints []*endpoint
}

// NewManager creates a connection manager for one chain. Providers are
// ranked by the order they are added.
func NewManager(chainID domain.ChainID, limiter *RateLimiter, cfg ManagerConfig) *Manager {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultManagerConfig.CallTimeout
	}
	if cfg.DegradedThreshold == 0 {
		cfg.DegradedThreshold = DefaultManagerConfig.DegradedThreshold
	}
	if cfg.UnreachableThreshold == 0 {
		cfg.UnreachableThreshold = DefaultManagerConfig.UnreachableThreshold
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultManagerConfig.BackoffBase
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = DefaultManagerConfig.BackoffMax
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = DefaultManagerConfig.BackoffMultiplier
	}
	if cfg.UnreachableCooldown == 0 {
		cfg.UnreachableCooldown = DefaultManagerConfig.UnreachableCooldown
	}

	return &Manager{
		chainID: chainID,
		cfg:     cfg,
		limiter: limiter,
		log:     slog.With("chain", chainID),
	}
}

// AddProvider appends a provider at the next priority rank.
func (m *Manager) AddProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, &endpoint{
		provider: p,
		rank:     len(m.endpoints),
		state:    StateHealthy,
	})
}

// Call issues the request through the best available provider, failing
// over down the priority list on transient errors. Query-shape and
// fatal errors propagate immediately without failover. Returns
// ErrProviderExhausted when no provider can serve the call; the
// exhaustion is always surfaced, never reported as an empty result.
func (m *Manager) Call(ctx context.Context, method string, params []any) (any, error) {
	usable := m.usableEndpoints()
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: chain %s has no reachable provider", ErrProviderExhausted, m.chainID)
	}

	var lastErr error
	for i, ep := range usable {
		if err := m.limiter.Acquire(ctx, ep.provider.Name()); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		result, err := ep.provider.Call(callCtx, method, params)
		cancel()

		metrics.RPCCallsTotal.WithLabelValues(string(m.chainID), ep.provider.Name(), method).Inc()

		if err == nil {
			m.recordSuccess(ep)
			return result, nil
		}
		lastErr = err
		metrics.RPCErrorsTotal.WithLabelValues(string(m.chainID), ep.provider.Name(), method).Inc()

		switch ClassifyError(err) {
		case ActionQueryShape:
			// The range is the problem, not the provider.
			return nil, fmt.Errorf("%w: %s", ErrQueryTooLarge, err)
		case ActionFatal:
			return nil, err
		}

		m.recordFailure(ep, err)

		if i < len(usable)-1 {
			metrics.ProviderFailoversTotal.WithLabelValues(string(m.chainID)).Inc()
			if err := m.failoverDelay(ctx, ep.consecutiveFailures); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrProviderExhausted, lastErr)
}

// Health returns a snapshot of provider states in priority order.
func (m *Manager) Health() []ProviderHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProviderHealth, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, ProviderHealth{
			Name:                ep.provider.Name(),
			Rank:                ep.rank,
			State:               ep.state,
			ConsecutiveFailures: ep.consecutiveFailures,
		})
	}
	return out
}

// Close closes all providers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, ep := range m.endpoints {
		if err := ep.provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// usableEndpoints returns endpoints in rank order, skipping unreachable
// ones still in cooldown. An unreachable provider past its cooldown is
// probed again.
func (m *Manager) usableEndpoints() []*endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]*endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		if ep.state == StateUnreachable && now.Before(ep.retryAt) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func (m *Manager) recordSuccess(ep *endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep.state != StateHealthy {
		m.log.Info("provider recovered", "provider", ep.provider.Name())
	}
	ep.consecutiveFailures = 0
	ep.state = StateHealthy
	ep.retryAt = time.Time{}
}

func (m *Manager) recordFailure(ep *endpoint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep.consecutiveFailures++

	switch {
	case ep.consecutiveFailures >= m.cfg.UnreachableThreshold:
		if ep.state != StateUnreachable {
			m.log.Warn("provider unreachable",
				"provider", ep.provider.Name(),
				"consecutive_failures", ep.consecutiveFailures,
				"error", err)
		}
		ep.state = StateUnreachable
		ep.retryAt = time.Now().Add(m.cfg.UnreachableCooldown)
	case ep.consecutiveFailures >= m.cfg.DegradedThreshold:
		ep.state = StateDegraded
	}
}

// failoverDelay sleeps for an exponential, capped, jittered delay
// before the next provider is tried.
func (m *Manager) failoverDelay(ctx context.Context, failures int) error {
	exp := float64(m.cfg.BackoffBase) * math.Pow(m.cfg.BackoffMultiplier, float64(failures-1))
	if exp > float64(m.cfg.BackoffMax) {
		exp = float64(m.cfg.BackoffMax)
	}
	// jitter in [0.75, 1.25)
	delay := time.Duration(exp * (0.75 + rand.Float64()*0.5))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
