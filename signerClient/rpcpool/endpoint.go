package rpcpool

import (
	"sync"
	"time"
)

// EndpointState represents the current state of an endpoint
type EndpointState int

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateExcluded
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// EndpointMetrics tracks call outcomes for an endpoint.
type EndpointMetrics struct {
	mu                  sync.RWMutex
	totalRequests       uint64
	successfulRequests  uint64
	failedRequests      uint64
	averageLatency      time.Duration
	consecutiveFailures int
	lastError           error
	healthScore         float64 // 0-100
}

func newMetrics(score float64) *EndpointMetrics {
	return &EndpointMetrics{healthScore: score}
}

func (m *EndpointMetrics) recordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.consecutiveFailures = 0
	m.observeLatency(latency)
	m.calculateHealthScore()
}

func (m *EndpointMetrics) recordFailure(err error, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failedRequests++
	m.consecutiveFailures++
	m.lastError = err
	if m.averageLatency > 0 {
		m.observeLatency(latency)
	}
	m.calculateHealthScore()
}

// observeLatency keeps an exponential moving average with alpha 0.1.
func (m *EndpointMetrics) observeLatency(latency time.Duration) {
	if m.averageLatency == 0 {
		m.averageLatency = latency
		return
	}
	m.averageLatency = time.Duration(float64(m.averageLatency)*0.9 + float64(latency)*0.1)
}

// calculateHealthScore starts from the success rate and subtracts up to 20
// points for latency above one second and up to 50 for consecutive failures.
func (m *EndpointMetrics) calculateHealthScore() {
	if m.totalRequests == 0 {
		m.healthScore = 100
		return
	}

	score := float64(m.successfulRequests) / float64(m.totalRequests) * 100
	if m.averageLatency > time.Second {
		score -= min((m.averageLatency.Seconds()-1)*5, 20)
	}
	score -= min(float64(m.consecutiveFailures)*10, 50)
	m.healthScore = max(score, 0)
}

func (m *EndpointMetrics) HealthScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthScore
}

func (m *EndpointMetrics) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.totalRequests == 0 {
		return 1
	}
	return float64(m.successfulRequests) / float64(m.totalRequests)
}

func (m *EndpointMetrics) ConsecutiveFailures() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveFailures
}

// Endpoint is a single RPC endpoint with its connection and metrics.
type Endpoint struct {
	URL string

	mu         sync.RWMutex
	client     Client
	state      EndpointState
	metrics    *EndpointMetrics
	lastUsed   time.Time
	excludedAt time.Time
}

// NewEndpoint creates a healthy endpoint around client.
func NewEndpoint(url string, client Client) *Endpoint {
	return &Endpoint{
		URL:     url,
		client:  client,
		state:   StateHealthy,
		metrics: newMetrics(100),
	}
}

func (e *Endpoint) Client() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

func (e *Endpoint) Metrics() *EndpointMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.metrics
}

func (e *Endpoint) State() EndpointState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Endpoint) setState(state EndpointState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == StateExcluded && e.state != StateExcluded {
		e.excludedAt = time.Now()
	}
	e.state = state
}

// IsHealthy reports whether the endpoint takes calls.
func (e *Endpoint) IsHealthy() bool {
	return e.State() != StateExcluded
}

// readmit moves an excluded endpoint back into rotation as degraded with a
// moderate score, so it is watched closely.
func (e *Endpoint) readmit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = newMetrics(70)
	e.state = StateDegraded
}

// recoveryDue reports whether an excluded endpoint has sat out long enough.
func (e *Endpoint) recoveryDue(interval time.Duration) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateExcluded && time.Since(e.excludedAt) >= interval
}

func (e *Endpoint) touch() {
	e.mu.Lock()
	e.lastUsed = time.Now()
	e.mu.Unlock()
}

func (e *Endpoint) info() EndpointInfo {
	m := e.Metrics()
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := EndpointInfo{
		URL:          e.URL,
		State:        e.State().String(),
		HealthScore:  m.healthScore,
		RequestCount: m.totalRequests,
		FailureCount: m.failedRequests,
		LatencyMs:    m.averageLatency.Milliseconds(),
	}
	if m.lastError != nil {
		info.LastError = m.lastError.Error()
	}
	return info
}
