// Package events carries domain events out of the scheduler. Delivery is
// best-effort: a failed or dropped event never fails the operation that
// produced it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	AvailabilityCreated     Type = "AVAILABILITY_CREATED"
	AvailabilitiesGenerated Type = "AVAILABILITIES_GENERATED"
	AvailabilityUpdated     Type = "AVAILABILITY_UPDATED"
	AvailabilityDeleted     Type = "AVAILABILITY_DELETED"
	AppointmentBooked       Type = "APPOINTMENT_BOOKED"
	AppointmentCancelled    Type = "APPOINTMENT_CANCELLED"
)

type Event struct {
	ID             uuid.UUID  `json:"id"`
	Type           Type       `json:"type"`
	AvailabilityID *uuid.UUID `json:"availability_id,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	UserID         uuid.UUID  `json:"user_id"`
	Message        string     `json:"message"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, userID uuid.UUID, message string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		UserID:     userID,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) ForAvailability(id uuid.UUID) Event {
	e.AvailabilityID = &id
	return e
}

func (e Event) ForAppointment(id uuid.UUID) Event {
	e.AppointmentID = &id
	return e
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}
