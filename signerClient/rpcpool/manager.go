package rpcpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoHealthyEndpoints is returned when every endpoint is excluded.
var ErrNoHealthyEndpoints = errors.New("no healthy endpoints available")

// Manager manages a pool of RPC endpoints with load balancing and health tracking
type Manager struct {
	name      string
	config    Config
	selector  *EndpointSelector
	logger    zerolog.Logger
	monitor   *HealthMonitor
	endpoints []*Endpoint
	mu        sync.RWMutex
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewManager creates an empty pool; add endpoints with Add before Start.
func NewManager(name string, cfg Config, logger zerolog.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		name:     name,
		config:   cfg,
		selector: NewEndpointSelector(cfg.Strategy),
		logger:   logger.With().Str("component", "rpc_pool").Str("pool", name).Logger(),
	}
}

// Add puts a connected endpoint into rotation.
func (m *Manager) Add(url string, client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, NewEndpoint(url, client))
}

// Len returns the number of endpoints, healthy or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.endpoints)
}

// Start begins active health checks when checker is set and the config has an interval.
func (m *Manager) Start(ctx context.Context, checker HealthChecker) error {
	if m.Len() == 0 {
		return ErrNoHealthyEndpoints
	}
	m.logger.Info().
		Int("endpoint_count", m.Len()).
		Str("strategy", string(m.selector.Strategy())).
		Msg("starting RPC pool manager")

	if checker == nil || m.config.HealthCheckInterval <= 0 {
		return nil
	}
	m.monitor = NewHealthMonitor(m, checker, m.logger)
	m.wg.Add(1)
	go m.monitor.Start(ctx, &m.wg)
	return nil
}

// Stop stops health monitoring and closes every connection.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.monitor != nil {
			m.monitor.Stop()
		}
		m.wg.Wait()
		for _, ep := range m.Endpoints() {
			if c := ep.Client(); c != nil {
				c.Close()
			}
		}
		m.logger.Info().Msg("RPC pool manager stopped")
	})
}

// SelectEndpoint picks an endpoint for the next call. Excluded endpoints whose
// recovery interval has passed are readmitted first.
func (m *Manager) SelectEndpoint() (*Endpoint, error) {
	healthy := make([]*Endpoint, 0, m.Len())
	for _, ep := range m.Endpoints() {
		if ep.recoveryDue(m.config.RecoveryInterval) {
			ep.readmit()
			m.logger.Info().Str("url", ep.URL).Msg("endpoint readmitted after exclusion")
		}
		if ep.IsHealthy() {
			healthy = append(healthy, ep)
		}
	}

	selected := m.selector.SelectEndpoint(healthy)
	if selected == nil {
		return nil, ErrNoHealthyEndpoints
	}
	selected.touch()
	return selected, nil
}

// UpdateEndpointMetrics records a call outcome and moves the endpoint between states.
func (m *Manager) UpdateEndpointMetrics(ep *Endpoint, success bool, latency time.Duration, err error) {
	metrics := ep.Metrics()
	if success {
		metrics.recordSuccess(latency)
		if ep.State() == StateDegraded && metrics.SuccessRate() > 0.8 {
			ep.setState(StateHealthy)
			m.logger.Info().
				Str("url", ep.URL).
				Float64("success_rate", metrics.SuccessRate()).
				Msg("endpoint promoted to healthy")
		}
		return
	}

	metrics.recordFailure(err, latency)
	failures := metrics.ConsecutiveFailures()
	switch {
	case failures >= m.config.UnhealthyThreshold && ep.State() != StateExcluded:
		ep.setState(StateExcluded)
		m.logger.Warn().
			Str("url", ep.URL).
			Int("consecutive_failures", failures).
			Err(err).
			Msg("endpoint excluded due to consecutive failures")
	case metrics.SuccessRate() < 0.5 && ep.State() == StateHealthy:
		ep.setState(StateDegraded)
		m.logger.Warn().
			Str("url", ep.URL).
			Float64("success_rate", metrics.SuccessRate()).
			Msg("endpoint downgraded to degraded")
	}
}

// Endpoints returns a copy of the endpoint list.
func (m *Manager) Endpoints() []*Endpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

// Stats returns a snapshot of every endpoint.
func (m *Manager) Stats() []EndpointInfo {
	endpoints := m.Endpoints()
	out := make([]EndpointInfo, len(endpoints))
	for i, ep := range endpoints {
		out[i] = ep.info()
	}
	return out
}
