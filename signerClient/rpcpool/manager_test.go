package rpcpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	closed atomic.Bool
}

func (c *mockClient) Close() { c.closed.Store(true) }

type mockChecker struct {
	mu  sync.Mutex
	err error
}

func (c *mockChecker) set(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *mockChecker) CheckHealth(ctx context.Context, client Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

var errDown = errors.New("connection refused")

func newPool(t *testing.T, cfg Config, urls ...string) (*Manager, []*mockClient) {
	t.Helper()
	m := NewManager("ledger", cfg, zerolog.Nop())
	clients := make([]*mockClient, len(urls))
	for i, u := range urls {
		clients[i] = &mockClient{}
		m.Add(u, clients[i])
	}
	return m, clients
}

func TestManagerStartRequiresEndpoints(t *testing.T) {
	m := NewManager("ledger", Config{}, zerolog.Nop())
	assert.ErrorIs(t, m.Start(context.Background(), nil), ErrNoHealthyEndpoints)
	_, err := m.SelectEndpoint()
	assert.ErrorIs(t, err, ErrNoHealthyEndpoints)
}

func TestManagerExcludesFailingEndpoint(t *testing.T) {
	m, _ := newPool(t, Config{UnhealthyThreshold: 2, RecoveryInterval: time.Hour}, "http://a", "http://b")
	require.NoError(t, m.Start(context.Background(), nil))

	a := m.Endpoints()[0]
	m.UpdateEndpointMetrics(a, false, time.Millisecond, errDown)
	assert.Equal(t, StateDegraded, a.State())
	m.UpdateEndpointMetrics(a, false, time.Millisecond, errDown)
	assert.Equal(t, StateExcluded, a.State())

	for range 4 {
		ep, err := m.SelectEndpoint()
		require.NoError(t, err)
		assert.Equal(t, "http://b", ep.URL)
	}

	stats := m.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "excluded", stats[0].State)
	assert.Equal(t, uint64(2), stats[0].FailureCount)
	assert.Equal(t, errDown.Error(), stats[0].LastError)
	assert.Equal(t, "healthy", stats[1].State)
}

func TestManagerReadmitsAfterRecoveryInterval(t *testing.T) {
	m, _ := newPool(t, Config{UnhealthyThreshold: 1, RecoveryInterval: 20 * time.Millisecond}, "http://a")
	ep := m.Endpoints()[0]

	m.UpdateEndpointMetrics(ep, false, 0, errDown)
	_, err := m.SelectEndpoint()
	assert.ErrorIs(t, err, ErrNoHealthyEndpoints)

	time.Sleep(30 * time.Millisecond)
	got, err := m.SelectEndpoint()
	require.NoError(t, err)
	assert.Same(t, ep, got)
	assert.Equal(t, StateDegraded, ep.State())
	assert.Equal(t, 70.0, ep.Metrics().HealthScore())

	m.UpdateEndpointMetrics(ep, true, time.Millisecond, nil)
	assert.Equal(t, StateHealthy, ep.State())
}

func TestHealthScore(t *testing.T) {
	m := newMetrics(100)
	m.recordSuccess(3 * time.Second)
	assert.InDelta(t, 90.0, m.HealthScore(), 0.001, "two seconds over baseline cost ten points")

	m.recordFailure(errDown, 3*time.Second)
	assert.InDelta(t, 30.0, m.HealthScore(), 0.001)
	assert.Equal(t, 0.5, m.SuccessRate())
	assert.Equal(t, 1, m.ConsecutiveFailures())
}

func TestHealthMonitorRecoversExcludedEndpoint(t *testing.T) {
	checker := &mockChecker{}
	checker.set(errDown)
	m, _ := newPool(t, Config{UnhealthyThreshold: 2, RecoveryInterval: time.Hour, HealthCheckInterval: 5 * time.Millisecond}, "http://a")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, checker))
	defer m.Stop()

	ep := m.Endpoints()[0]
	require.Eventually(t, func() bool { return ep.State() == StateExcluded }, time.Second, time.Millisecond)

	checker.set(nil)
	require.Eventually(t, func() bool { return ep.IsHealthy() }, time.Second, time.Millisecond)
}

func TestManagerStopClosesClients(t *testing.T) {
	m, clients := newPool(t, Config{HealthCheckInterval: time.Hour}, "http://a", "http://b")
	require.NoError(t, m.Start(context.Background(), &mockChecker{}))
	m.Stop()
	m.Stop()
	for _, c := range clients {
		assert.True(t, c.closed.Load())
	}
}
