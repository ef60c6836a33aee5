// Package metrics exposes the signer node's prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "psigner"

// Recorder is what the run loop reports to.
type Recorder interface {
	PassCompleted()
	MessageDropped(reason string)
	MessageSent()
	SendFailed()
	RoundStarted(kind string)
	RoundCompleted(kind string, failed bool)
	StartFailed()
	VoteCast(ok bool)
	PendingCommands(n int)
	State(state int)
	Stuck(stuck bool)
}

// Collector implements Recorder with prometheus metrics.
type Collector struct {
	passes          prometheus.Counter
	messagesDropped *prometheus.CounterVec
	messagesSent    prometheus.Counter
	sendFailures    prometheus.Counter
	roundsStarted   *prometheus.CounterVec
	roundsCompleted *prometheus.CounterVec
	startFailures   prometheus.Counter
	voteCasts       *prometheus.CounterVec
	pending         prometheus.Gauge
	state           prometheus.Gauge
	stuck           prometheus.Gauge
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "run loop passes executed",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "inbound messages dropped before reaching an engine",
		}, []string{"reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "outbound messages written to the board",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "outbound messages the board did not accept",
		}),
		roundsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_started_total",
			Help:      "rounds started by this node",
		}, []string{"kind"}),
		roundsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "operation results produced by this node",
		}, []string{"kind", "status"}),
		startFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "start_failures_total",
			Help:      "failed round start attempts",
		}),
		voteCasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_casts_total",
			Help:      "aggregate key vote checks by outcome",
		}, []string{"status"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_commands",
			Help:      "commands waiting in the queue",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "round state: 0 idle, 1 dkg, 2 sign",
		}),
		stuck: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stuck_commands",
			Help:      "1 while the front command keeps failing to start",
		}),
	}
	reg.MustRegister(
		c.passes, c.messagesDropped, c.messagesSent, c.sendFailures,
		c.roundsStarted, c.roundsCompleted, c.startFailures, c.voteCasts,
		c.pending, c.state, c.stuck,
	)
	return c
}

func (c *Collector) PassCompleted()               { c.passes.Inc() }
func (c *Collector) MessageDropped(reason string) { c.messagesDropped.WithLabelValues(reason).Inc() }
func (c *Collector) MessageSent()                 { c.messagesSent.Inc() }
func (c *Collector) SendFailed()                  { c.sendFailures.Inc() }
func (c *Collector) RoundStarted(kind string)     { c.roundsStarted.WithLabelValues(kind).Inc() }
func (c *Collector) StartFailed()                 { c.startFailures.Inc() }
func (c *Collector) PendingCommands(n int)        { c.pending.Set(float64(n)) }
func (c *Collector) State(state int)              { c.state.Set(float64(state)) }

func (c *Collector) RoundCompleted(kind string, failed bool) {
	c.roundsCompleted.WithLabelValues(kind, status(!failed)).Inc()
}

func (c *Collector) VoteCast(ok bool) {
	c.voteCasts.WithLabelValues(status(ok)).Inc()
}

func (c *Collector) Stuck(stuck bool) {
	if stuck {
		c.stuck.Set(1)
		return
	}
	c.stuck.Set(0)
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// Noop discards everything.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) PassCompleted()              {}
func (Noop) MessageDropped(string)       {}
func (Noop) MessageSent()                {}
func (Noop) SendFailed()                 {}
func (Noop) RoundStarted(string)         {}
func (Noop) RoundCompleted(string, bool) {}
func (Noop) StartFailed()                {}
func (Noop) VoteCast(bool)               {}
func (Noop) PendingCommands(int)         {}
func (Noop) State(int)                   {}
func (Noop) Stuck(bool)                  {}
