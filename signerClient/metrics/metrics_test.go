package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.PassCompleted()
	c.PassCompleted()
	c.MessageDropped("invalid_signature")
	c.MessageDropped("unknown_signer")
	c.MessageDropped("invalid_signature")
	c.RoundStarted("dkg")
	c.RoundCompleted("dkg", false)
	c.RoundCompleted("sign", true)
	c.VoteCast(true)
	c.PendingCommands(4)
	c.State(2)
	c.Stuck(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.passes))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.messagesDropped.WithLabelValues("invalid_signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.messagesDropped.WithLabelValues("unknown_signer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roundsStarted.WithLabelValues("dkg")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roundsCompleted.WithLabelValues("sign", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.voteCasts.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.pending))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.state))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stuck))

	c.Stuck(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stuck))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollectorRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
