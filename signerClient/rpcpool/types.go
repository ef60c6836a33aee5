// Package rpcpool spreads calls over a set of RPC endpoints, scores each
// endpoint from call outcomes and takes failing endpoints out of rotation
// until they recover.
package rpcpool

import (
	"context"
	"time"
)

// Client is one endpoint's connection. *rpc.Client from go-ethereum satisfies it.
type Client interface {
	Close()
}

// HealthChecker probes an endpoint outside regular traffic.
type HealthChecker interface {
	CheckHealth(ctx context.Context, client Client) error
}

// Config tunes a Manager. Zero values take the defaults below.
type Config struct {
	Strategy LoadBalancingStrategy

	// UnhealthyThreshold consecutive failures exclude an endpoint.
	UnhealthyThreshold int

	// RecoveryInterval is how long an excluded endpoint sits out before it is tried again.
	RecoveryInterval time.Duration

	// HealthCheckInterval between active probes. Zero disables the monitor.
	HealthCheckInterval time.Duration

	// RequestTimeout bounds a single probe.
	RequestTimeout time.Duration
}

const (
	DefaultUnhealthyThreshold = 3
	DefaultRecoveryInterval   = 30 * time.Second
	DefaultRequestTimeout     = 5 * time.Second
)

func (c *Config) setDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyRoundRobin
	}
	if c.UnhealthyThreshold <= 0 {
		c.UnhealthyThreshold = DefaultUnhealthyThreshold
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = DefaultRecoveryInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// EndpointInfo is a snapshot of one endpoint.
type EndpointInfo struct {
	URL          string  `json:"url"`
	State        string  `json:"state"`
	HealthScore  float64 `json:"health_score"`
	RequestCount uint64  `json:"request_count"`
	FailureCount uint64  `json:"failure_count"`
	LatencyMs    int64   `json:"average_latency_ms"`
	LastError    string  `json:"last_error,omitempty"`
}
