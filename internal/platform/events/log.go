package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes events to the log. It is the sink when no Redis is
// configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

func (s *LogSink) Publish(_ context.Context, e Event) error {
	ev := s.logger.Info().
		Str("event_id", e.ID.String()).
		Str("type", string(e.Type)).
		Str("user_id", e.UserID.String())
	if e.AvailabilityID != nil {
		ev = ev.Str("availability_id", e.AvailabilityID.String())
	}
	if e.AppointmentID != nil {
		ev = ev.Str("appointment_id", e.AppointmentID.String())
	}
	ev.Msg(e.Message)
	return nil
}
