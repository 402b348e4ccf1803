package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/platform/directory"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

// BookingRequest is what a caller supplies to reserve a slot.
type BookingRequest struct {
	SlotID     uuid.UUID       `json:"slot_id"`
	ProviderID uuid.UUID       `json:"provider_id"`
	SubjectID  uuid.UUID       `json:"subject_id"`
	Reason     *string         `json:"reason,omitempty"`
	Type       AppointmentType `json:"type"`
}

func (r BookingRequest) validate() error {
	v := &ValidationError{}
	if r.SlotID == uuid.Nil {
		v.add("slot_id", "slot_id is required")
	}
	if r.ProviderID == uuid.Nil {
		v.add("provider_id", "provider_id is required")
	}
	if r.SubjectID == uuid.Nil {
		v.add("subject_id", "subject_id is required")
	}
	if !r.Type.Valid() {
		v.add("type", fmt.Sprintf("type must be %s or %s", TypeInPerson, TypeVideoCall))
	}
	return v.err()
}

// Coordinator owns the only path that marks a slot booked and the path that
// releases it again.
type Coordinator struct {
	store   Store
	parties directory.Directory
	now     func() time.Time
	logger  zerolog.Logger
}

func NewCoordinator(store Store, parties directory.Directory, now func() time.Time, logger zerolog.Logger) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: store, parties: parties, now: now, logger: logger}
}

// BookSlot reserves a slot for a provider and subject. Checks run in a fixed
// order and fail fast: slot exists, slot is active and free, slot has not
// started, provider has no overlapping appointment. The claim is a
// conditional update, so of several concurrent callers exactly one wins and
// the rest get ErrSlotUnavailable. Claim and appointment insert commit
// together or not at all.
func (c *Coordinator) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := c.resolve(ctx, directory.KindProvider, req.ProviderID, ErrProviderNotFound); err != nil {
		return nil, err
	}
	if err := c.resolve(ctx, directory.KindSubject, req.SubjectID, ErrSubjectNotFound); err != nil {
		return nil, err
	}

	var appt *Appointment
	err := c.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		slot, err := c.store.Slots.GetByID(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if !slot.IsActive || slot.IsBooked {
			return ErrSlotUnavailable
		}
		if !slot.StartTime.After(c.now()) {
			return ErrPastSlot
		}
		if err := c.store.Appointments.LockProvider(ctx, req.ProviderID); err != nil {
			return fmt.Errorf("lock provider: %w", err)
		}
		overlap, err := c.store.Appointments.HasOverlap(ctx, req.ProviderID, slot.StartTime, slot.EndTime)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap {
			return ErrOverlappingAppointment
		}

		claimed, err := c.store.Slots.Claim(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("claim slot: %w", err)
		}
		if !claimed {
			c.logger.Debug().Str("slot_id", slot.ID.String()).Msg("lost booking race")
			return ErrSlotUnavailable
		}

		appt = &Appointment{
			ProviderID: req.ProviderID,
			SubjectID:  req.SubjectID,
			SlotID:     slot.ID,
			Reason:     req.Reason,
			Type:       req.Type,
			Status:     StatusScheduled,
		}
		return c.store.Appointments.Create(ctx, appt)
	})
	telemetry.ObserveBooking(bookingOutcome(err))
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// ReleaseSlot cancels a scheduled appointment and frees its slot in one
// transaction. Appointments that may not be cancelled are left untouched.
func (c *Coordinator) ReleaseSlot(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := c.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		appt, err = c.store.Appointments.GetByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := checkTransition(appt.Status, StatusCancelled); err != nil {
			return err
		}
		moved, err := c.store.Appointments.TransitionStatus(ctx, appt.ID, appt.Status, StatusCancelled)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if !moved {
			return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		released, err := c.store.Slots.Release(ctx, appt.SlotID)
		if err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		if !released {
			return fmt.Errorf("release slot %s: slot was not booked", appt.SlotID)
		}
		appt.Status = StatusCancelled
		appt.UpdatedAt = c.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (c *Coordinator) resolve(ctx context.Context, kind directory.Kind, id uuid.UUID, notFound error) error {
	if _, err := c.parties.Resolve(ctx, kind, id); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return notFound
		}
		return fmt.Errorf("resolve %s: %w", kind, err)
	}
	return nil
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotNotFound):
		return "not_found"
	case errors.Is(err, ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrPastSlot):
		return "past"
	case errors.Is(err, ErrOverlappingAppointment):
		return "overlap"
	default:
		return "error"
	}
}
