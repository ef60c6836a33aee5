package node

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss/board"
	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
	"github.com/pushchain/push-signer-node/signerClient/tss/runloop"
)

var (
	ErrQueueFull     = errors.New("command queue is full")
	ErrRunnerStopped = errors.New("runner is stopped")
)

// Loop is the part of the run loop the runner drives.
type Loop interface {
	EventTimeout() time.Duration
	RunOnePass(ctx context.Context, event *board.Event, cmd runloop.Command, results chan<- []engine.OperationResult)
}

// EventSource yields board events.
type EventSource interface {
	NextEvent(ctx context.Context, timeout time.Duration) (*board.Event, error)
}

// Runner polls the board and hands each event, together with at most one
// operator command, to the run loop.
type Runner struct {
	loop     Loop
	events   EventSource
	sink     *ResultSink
	commands chan runloop.Command
	stopped  chan struct{}
	logger   zerolog.Logger
}

// NewRunner creates a runner. buffer bounds commands waiting for a pass.
func NewRunner(loop Loop, events EventSource, sink *ResultSink, buffer int, logger zerolog.Logger) *Runner {
	if buffer <= 0 {
		buffer = DefaultCommandBuffer
	}
	return &Runner{
		loop:     loop,
		events:   events,
		sink:     sink,
		commands: make(chan runloop.Command, buffer),
		stopped:  make(chan struct{}),
		logger:   logger.With().Str("component", "runner").Logger(),
	}
}

// Submit queues cmd without blocking.
func (r *Runner) Submit(cmd runloop.Command) error {
	if cmd == nil {
		return errors.New("command is nil")
	}
	select {
	case <-r.stopped:
		return ErrRunnerStopped
	default:
	}
	select {
	case r.commands <- cmd:
		r.logger.Debug().Str("kind", string(cmd.Kind())).Msg("command submitted")
		return nil
	default:
		return ErrQueueFull
	}
}

// Run polls until ctx is done. It returns nil on cancellation and an error
// only when the board is closed underneath it.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.stopped)

	results := make(chan []engine.OperationResult, DefaultResultBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for batch := range results {
			if r.sink != nil {
				r.sink.Publish(batch)
			}
		}
	}()
	defer func() {
		close(results)
		<-forwarded
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		event, err := r.events.NextEvent(ctx, r.loop.EventTimeout())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, board.ErrClosed) {
				return err
			}
			r.logger.Warn().Err(err).Msg("failed to read board event")
			event = nil
		}

		var cmd runloop.Command
		select {
		case cmd = <-r.commands:
		default:
		}

		r.loop.RunOnePass(ctx, event, cmd, results)
	}
}
