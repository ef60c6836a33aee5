package rpcpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewEndpointSelector(t *testing.T) {
	tests := []struct {
		name     string
		strategy LoadBalancingStrategy
		expected LoadBalancingStrategy
	}{
		{name: "round robin strategy", strategy: StrategyRoundRobin, expected: StrategyRoundRobin},
		{name: "weighted strategy", strategy: StrategyWeighted, expected: StrategyWeighted},
		{name: "invalid strategy defaults to round robin", strategy: "invalid", expected: StrategyRoundRobin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewEndpointSelector(tt.strategy).Strategy())
		})
	}
}

func TestEndpointSelector_Empty(t *testing.T) {
	assert.Nil(t, NewEndpointSelector(StrategyRoundRobin).SelectEndpoint(nil))
}

func TestEndpointSelector_RoundRobin(t *testing.T) {
	selector := NewEndpointSelector(StrategyRoundRobin)
	a := NewEndpoint("http://a", &mockClient{})
	b := NewEndpoint("http://b", &mockClient{})
	c := NewEndpoint("http://c", &mockClient{})
	endpoints := []*Endpoint{a, b, c}

	var got []*Endpoint
	for range 6 {
		got = append(got, selector.SelectEndpoint(endpoints))
	}
	assert.Equal(t, []*Endpoint{a, b, c, a, b, c}, got)
}

func TestEndpointSelector_Weighted(t *testing.T) {
	selector := NewEndpointSelector(StrategyWeighted)
	good := NewEndpoint("http://good", &mockClient{})
	dead := NewEndpoint("http://dead", &mockClient{})
	dead.metrics = newMetrics(0)

	for range 50 {
		assert.Same(t, good, selector.SelectEndpoint([]*Endpoint{good, dead}))
	}

	good.metrics = newMetrics(0)
	assert.NotNil(t, selector.SelectEndpoint([]*Endpoint{good, dead}), "all-zero scores fall back to round robin")
}
