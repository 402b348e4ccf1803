package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/platform/telemetry"
)

// AsyncSink decouples publishers from the underlying sink. Publish only
// enqueues; a single worker delivers in order. When the buffer is full the
// event is dropped.
type AsyncSink struct {
	next    Sink
	queue   chan Event
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsyncSink(next Sink, buffer int, logger zerolog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		next:    next,
		queue:   make(chan Event, buffer),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "events").Logger(),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish never blocks and never returns a delivery error.
func (s *AsyncSink) Publish(_ context.Context, e Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(e, "sink closed")
		return nil
	}
	select {
	case s.queue <- e:
	default:
		s.drop(e, "buffer full")
	}
	return nil
}

func (s *AsyncSink) drop(e Event, why string) {
	telemetry.IncEventPublished("dropped")
	s.logger.Warn().Str("event_id", e.ID.String()).Str("type", string(e.Type)).Msgf("event dropped: %s", why)
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.next.Publish(ctx, e)
		cancel()
		if err != nil {
			telemetry.IncEventPublished("failed")
			s.logger.Warn().Err(err).Str("event_id", e.ID.String()).Str("type", string(e.Type)).Msg("event delivery failed")
			continue
		}
		telemetry.IncEventPublished("sent")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// expire.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
