package scheduling

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCompletionInterval is how often elapsed appointments are completed.
const DefaultCompletionInterval = 5 * time.Minute

// Completer is the part of Service the sweeper drives.
type Completer interface {
	CompleteElapsed(ctx context.Context) (int, error)
}

// Sweeper periodically moves elapsed appointments to COMPLETED. It is the
// only source of that transition.
type Sweeper struct {
	completer Completer
	interval  time.Duration
	logger    zerolog.Logger
}

func NewSweeper(c Completer, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCompletionInterval
	}
	return &Sweeper{
		completer: c,
		interval:  interval,
		logger:    logger.With().Str("component", "completion_sweeper").Logger(),
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("completion sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("completion sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.completer.CompleteElapsed(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Int("completed", n).Msg("completion sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Info().Int("completed", n).Msg("appointments completed")
	}
}
