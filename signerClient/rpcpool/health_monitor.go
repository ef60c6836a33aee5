package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthMonitor probes every endpoint on an interval so excluded endpoints
// can recover without live traffic.
type HealthMonitor struct {
	manager *Manager
	checker HealthChecker
	logger  zerolog.Logger
	stopCh  chan struct{}
}

func NewHealthMonitor(manager *Manager, checker HealthChecker, logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		manager: manager,
		checker: checker,
		logger:  logger.With().Str("component", "health_monitor").Logger(),
		stopCh:  make(chan struct{}),
	}
}

// Start runs until ctx is done or Stop is called.
func (h *HealthMonitor) Start(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := h.manager.config.HealthCheckInterval
	h.logger.Info().Dur("interval", interval).Msg("starting health monitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.performHealthChecks(ctx)
		}
	}
}

func (h *HealthMonitor) Stop() {
	close(h.stopCh)
}

func (h *HealthMonitor) performHealthChecks(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ep := range h.manager.Endpoints() {
		wg.Add(1)
		go func(ep *Endpoint) {
			defer wg.Done()
			h.checkEndpointHealth(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (h *HealthMonitor) checkEndpointHealth(ctx context.Context, ep *Endpoint) {
	client := ep.Client()
	if client == nil {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.manager.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := h.checker.CheckHealth(checkCtx, client)
	latency := time.Since(start)

	if ep.State() == StateExcluded {
		if err != nil {
			return
		}
		ep.readmit()
		h.logger.Info().
			Str("url", ep.URL).
			Dur("latency", latency).
			Msg("endpoint recovered, promoted to degraded state")
		return
	}

	h.manager.UpdateEndpointMetrics(ep, err == nil, latency, err)
	if err != nil {
		h.logger.Warn().
			Str("url", ep.URL).
			Err(err).
			Int("consecutive_failures", ep.Metrics().ConsecutiveFailures()).
			Msg("endpoint health check failed")
	}
}
