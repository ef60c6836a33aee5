package rpcpool

import (
	"math/rand"
	"sync/atomic"
)

// LoadBalancingStrategy defines how calls are distributed across endpoints
type LoadBalancingStrategy string

const (
	StrategyRoundRobin LoadBalancingStrategy = "round-robin"
	StrategyWeighted   LoadBalancingStrategy = "weighted"
)

// EndpointSelector picks an endpoint per call.
type EndpointSelector struct {
	strategy     LoadBalancingStrategy
	currentIndex atomic.Uint32
}

// NewEndpointSelector falls back to round-robin for unknown strategies.
func NewEndpointSelector(strategy LoadBalancingStrategy) *EndpointSelector {
	if strategy != StrategyRoundRobin && strategy != StrategyWeighted {
		strategy = StrategyRoundRobin
	}
	return &EndpointSelector{strategy: strategy}
}

// SelectEndpoint returns nil when endpoints is empty.
func (s *EndpointSelector) SelectEndpoint(endpoints []*Endpoint) *Endpoint {
	switch {
	case len(endpoints) == 0:
		return nil
	case len(endpoints) == 1:
		return endpoints[0]
	case s.strategy == StrategyWeighted:
		return s.selectWeighted(endpoints)
	default:
		return s.selectRoundRobin(endpoints)
	}
}

func (s *EndpointSelector) selectRoundRobin(endpoints []*Endpoint) *Endpoint {
	index := (s.currentIndex.Add(1) - 1) % uint32(len(endpoints))
	return endpoints[index]
}

// selectWeighted draws an endpoint with probability proportional to its health score.
func (s *EndpointSelector) selectWeighted(endpoints []*Endpoint) *Endpoint {
	total := 0.0
	for _, ep := range endpoints {
		total += ep.Metrics().HealthScore()
	}
	if total == 0 {
		return s.selectRoundRobin(endpoints)
	}

	target := rand.Float64() * total
	acc := 0.0
	for _, ep := range endpoints {
		acc += ep.Metrics().HealthScore()
		if acc >= target {
			return ep
		}
	}
	return endpoints[len(endpoints)-1]
}

func (s *EndpointSelector) Strategy() LoadBalancingStrategy {
	return s.strategy
}
