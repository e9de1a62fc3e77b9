// Package statslog implements the Stats & Logger collaborator of spec §6:
// fire-and-forget counters and structured events that the core must
// function identically without (a no-op Sink is always a valid choice).
package statslog

import (
	"sync"

	"go.uber.org/zap"
)

// Sink is the collaborator interface the core calls into. Implementations
// must not block or error back to the caller.
type Sink interface {
	IncrCounter(name string, delta int64)
	Event(msg string, fields ...zap.Field)
}

// Noop satisfies Sink by discarding everything.
type Noop struct{}

func (Noop) IncrCounter(string, int64)  {}
func (Noop) Event(string, ...zap.Field) {}

// ZapSink is the default non-trivial Sink, backed by go.uber.org/zap
// (grounded on protomaps-go-pmtiles' use of zap for structured logging).
// Counters are kept in-process for stats introspection (e.g. by the CLI
// or tests); production deployments would instead export them to a
// metrics backend, which is out of the core's scope.
type ZapSink struct {
	logger   *zap.Logger
	mu       sync.Mutex
	counters map[string]int64
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger, counters: map[string]int64{}}
}

func (s *ZapSink) IncrCounter(name string, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

func (s *ZapSink) Event(msg string, fields ...zap.Field) {
	s.logger.Info(msg, fields...)
}

// Counters returns a snapshot of accumulated counters.
func (s *ZapSink) Counters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}
