package node

import (
	"encoding/hex"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pushchain/push-signer-node/signerClient/tss/engine"
)

// ResultSink logs finished rounds and fans them out to subscribers.
// A subscriber that is not keeping up misses batches; the sink never blocks.
type ResultSink struct {
	mu     sync.Mutex
	subs   map[int]chan []engine.OperationResult
	nextID int
	logger zerolog.Logger
}

// NewResultSink creates an empty sink.
func NewResultSink(logger zerolog.Logger) *ResultSink {
	return &ResultSink{
		subs:   make(map[int]chan []engine.OperationResult),
		logger: logger.With().Str("component", "result_sink").Logger(),
	}
}

// Subscribe registers a subscriber. Calling cancel closes the channel.
func (s *ResultSink) Subscribe(buffer int) (<-chan []engine.OperationResult, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []engine.OperationResult, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Publish logs results and delivers them to every subscriber.
func (s *ResultSink) Publish(results []engine.OperationResult) {
	for _, res := range results {
		ev := s.logger.Info()
		if res.Failed() {
			ev = s.logger.Warn().Str("error", res.Err)
		}
		ev = ev.Str("kind", string(res.Kind)).Uint64("dkg_id", res.DkgID)
		if res.SignID != 0 {
			ev = ev.Uint64("sign_id", res.SignID)
		}
		if len(res.GroupKey) > 0 {
			ev = ev.Str("group_key", hex.EncodeToString(res.GroupKey))
		}
		if res.Signature != nil {
			ev = ev.Str("sig_r", hex.EncodeToString(res.Signature.R)).Str("sig_z", hex.EncodeToString(res.Signature.Z))
		}
		ev.Msg("round result")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- results:
		default:
			s.logger.Warn().Int("subscriber", id).Msg("subscriber is not keeping up; dropping results")
		}
	}
}
