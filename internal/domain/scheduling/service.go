package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/platform/directory"
	"github.com/ehr/scheduler/internal/platform/events"
	"github.com/ehr/scheduler/internal/platform/telemetry"
)

// completionBatch caps how many appointments one sweep pass completes.
const completionBatch = 200

type Options struct {
	// Location is the zone weekday windows are interpreted in.
	Location           *time.Location
	MaxRecurrenceWeeks int
	Now                func() time.Time
	Logger             zerolog.Logger
}

type Service struct {
	store    Store
	parties  directory.Directory
	events   events.Sink
	booking  *Coordinator
	expander *Expander
	loc      *time.Location
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(store Store, parties directory.Directory, sink events.Sink, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:    store,
		parties:  parties,
		events:   sink,
		booking:  NewCoordinator(store, parties, opts.Now, opts.Logger),
		expander: NewExpander(store.Availabilities, opts.MaxRecurrenceWeeks, opts.Location, opts.Now),
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

func (s *Service) today() time.Time { return dateOf(s.now(), s.loc) }

// publish hands e to the sink after the owning transaction committed.
// Failures are logged only.
func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("publish event")
	}
}

// -- Availability --

// InstanceSummary describes one stored availability instance.
type InstanceSummary struct {
	ID               uuid.UUID `json:"id"`
	AvailabilityDate string    `json:"availability_date"`
	Generated        bool      `json:"generated"`
	SlotCount        int       `json:"slot_count"`
}

// CreateResult is the outcome of CreateAvailability: the requested instance
// plus a summary of every instance stored, generated ones included.
type CreateResult struct {
	Availability *Availability     `json:"availability"`
	Instances    []InstanceSummary `json:"instances"`
	SlotCount    int               `json:"slot_count"`
}

func (s *Service) validateAvailability(a *Availability, earliest time.Time) error {
	v := &ValidationError{}
	if a.OwnerID == uuid.Nil {
		v.add("owner_id", "owner_id is required")
	}
	if a.SlotDurationMinutes < MinSlotDurationMinutes {
		v.add("slot_duration_minutes",
			fmt.Sprintf("slot duration must be at least %d minutes", MinSlotDurationMinutes))
	}
	if a.AvailabilityDate.Before(earliest) {
		v.add("availability_date", "availability_date cannot be in the past")
	}
	var pv *ValidationError
	if err := ValidatePatterns(a.WeekdayPatterns); errors.As(err, &pv) {
		v.Fields = append(v.Fields, pv.Fields...)
	}
	return v.err()
}

// CreateAvailability stores a as the owner's availability for its week and,
// when it repeats, one generated copy per following week. Every instance,
// its patterns and its slots are written in one transaction.
func (s *Service) CreateAvailability(ctx context.Context, a *Availability) (*CreateResult, error) {
	today := s.today()
	a.applyDefaults()
	a.Generated = false
	if a.AvailabilityDate.IsZero() {
		a.AvailabilityDate = today
	}
	a.AvailabilityDate = dateOf(a.AvailabilityDate, time.UTC)
	if a.RepeatUntil != nil {
		until := dateOf(*a.RepeatUntil, time.UTC)
		a.RepeatUntil = &until
	}
	if err := s.validateAvailability(a, today); err != nil {
		return nil, err
	}
	if _, err := s.parties.Resolve(ctx, directory.KindOwner, a.OwnerID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrOwnerNotFound
		}
		return nil, fmt.Errorf("resolve owner: %w", err)
	}

	result := &CreateResult{Availability: a}
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkRunning(ctx, a.OwnerID, today); err != nil {
			return err
		}
		instances, err := s.expander.Expand(ctx, a)
		if err != nil {
			return err
		}
		result.Instances = result.Instances[:0]
		result.SlotCount = 0
		for _, inst := range instances {
			if err := s.store.Availabilities.Create(ctx, inst); err != nil {
				return fmt.Errorf("create availability for %s: %w", inst.AvailabilityDate.Format(time.DateOnly), err)
			}
			slots := MaterializeSlots(inst, s.loc)
			if err := s.store.Slots.CreateBatch(ctx, slots); err != nil {
				return fmt.Errorf("materialize slots for %s: %w", inst.AvailabilityDate.Format(time.DateOnly), err)
			}
			result.Instances = append(result.Instances, InstanceSummary{
				ID:               inst.ID,
				AvailabilityDate: inst.AvailabilityDate.Format(time.DateOnly),
				Generated:        inst.Generated,
				SlotCount:        len(slots),
			})
			result.SlotCount += len(slots)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	generated := len(result.Instances) - 1
	telemetry.AddAvailabilityInstances("requested", 1)
	telemetry.AddAvailabilityInstances("generated", generated)
	telemetry.AddSlotsMaterialized(result.SlotCount)
	s.logger.Info().
		Str("availability_id", a.ID.String()).
		Str("owner_id", a.OwnerID.String()).
		Int("generated", generated).
		Int("slots", result.SlotCount).
		Msg("availability created")

	s.publish(ctx, events.New(events.AvailabilityCreated, a.OwnerID, "availability created").ForAvailability(a.ID))
	if generated > 0 {
		s.publish(ctx, events.New(events.AvailabilitiesGenerated, a.OwnerID,
			fmt.Sprintf("%d weekly availabilities generated until %s", generated, a.RepeatUntil.Format(time.DateOnly))).
			ForAvailability(a.ID))
	}
	return result, nil
}

// checkRunning rejects a new availability while the owner's latest repeating
// one still has more than a week to run.
func (s *Service) checkRunning(ctx context.Context, ownerID uuid.UUID, today time.Time) error {
	latest, err := s.store.Availabilities.LatestByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load latest availability: %w", err)
	}
	if latest == nil || latest.RepeatUntil == nil {
		return nil
	}
	openFrom := latest.RepeatUntil.AddDate(0, 0, -7)
	if !openFrom.Before(today) {
		return fmt.Errorf("%w until %s; edit the current one or wait until %s",
			ErrRunningAvailability, latest.RepeatUntil.Format(time.DateOnly), openFrom.AddDate(0, 0, 1).Format(time.DateOnly))
	}
	return nil
}

func (s *Service) GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return s.store.Availabilities.GetByID(ctx, id)
}

func (s *Service) ListAvailabilityByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Availability, int, error) {
	return s.store.Availabilities.ListByOwner(ctx, ownerID, limit, offset)
}

// UpdateAvailability replaces the schedule of one instance and regenerates
// its slots. Instances whose slots carry any appointment are left alone.
// Generated siblings are not touched.
func (s *Service) UpdateAvailability(ctx context.Context, id uuid.UUID, patch *Availability) (*Availability, error) {
	today := s.today()
	var out *Availability
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.Availabilities.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReplaceable(ctx, id); err != nil {
			return err
		}

		cur.SlotDurationMinutes = patch.SlotDurationMinutes
		cur.IsRepeating = patch.IsRepeating
		cur.RepeatUntil = nil
		if patch.RepeatUntil != nil {
			until := dateOf(*patch.RepeatUntil, time.UTC)
			cur.RepeatUntil = &until
		}
		// a running week may be edited in place; only a moved date must
		// not lie in the past
		var earliest time.Time
		if !patch.AvailabilityDate.IsZero() {
			cur.AvailabilityDate = dateOf(patch.AvailabilityDate, time.UTC)
			earliest = today
		}
		cur.WeekdayPatterns = patch.WeekdayPatterns
		cur.applyDefaults()
		if err := s.validateAvailability(cur, earliest); err != nil {
			return err
		}
		if cur.IsRepeating && cur.RepeatUntil != nil && !cur.RepeatUntil.After(today) {
			return fmt.Errorf("%w: repeat_until must be after today", ErrInvalidRecurrenceRange)
		}

		if err := s.store.Availabilities.Update(ctx, cur); err != nil {
			return err
		}
		slots := MaterializeSlots(cur, s.loc)
		if err := s.store.Slots.CreateBatch(ctx, slots); err != nil {
			return fmt.Errorf("materialize slots: %w", err)
		}
		telemetry.AddSlotsMaterialized(len(slots))
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.AvailabilityUpdated, out.OwnerID, "availability updated").ForAvailability(out.ID))
	return out, nil
}

// checkReplaceable refuses to drop the slots of an availability while any
// appointment, cancelled ones included, still points at them.
func (s *Service) checkReplaceable(ctx context.Context, id uuid.UUID) error {
	booked, err := s.store.Slots.CountBooked(ctx, id)
	if err != nil {
		return fmt.Errorf("count booked slots: %w", err)
	}
	if booked > 0 {
		return ErrAvailabilityBooked
	}
	n, err := s.store.Appointments.CountByAvailability(ctx, id)
	if err != nil {
		return fmt.Errorf("count appointments: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d appointment(s) reference its slots", ErrAvailabilityHistory, n)
	}
	return nil
}

// DeleteAvailability removes an instance with its patterns and slots unless
// an appointment references one of the slots.
func (s *Service) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	var owner uuid.UUID
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.Availabilities.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReplaceable(ctx, id); err != nil {
			return err
		}
		owner = cur.OwnerID
		return s.store.Availabilities.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.New(events.AvailabilityDeleted, owner, "availability deleted").ForAvailability(id))
	return nil
}

// -- Slot --

func (s *Service) ListSlots(ctx context.Context, availabilityID uuid.UUID, limit, offset int) ([]*ScheduleSlot, int, error) {
	if _, err := s.store.Availabilities.GetByID(ctx, availabilityID); err != nil {
		return nil, 0, err
	}
	return s.store.Slots.ListByAvailability(ctx, availabilityID, limit, offset)
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	return s.store.Slots.GetByID(ctx, id)
}

// SetSlotActive opens or closes a slot for booking. Booked slots keep their
// state; only cancelling the appointment frees them.
func (s *Service) SetSlotActive(ctx context.Context, id uuid.UUID, active bool) (*ScheduleSlot, error) {
	changed, err := s.store.Slots.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	slot, err := s.store.Slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrSlotBooked
	}
	return slot, nil
}

// DeactivateSlot is the logical delete of a slot.
func (s *Service) DeactivateSlot(ctx context.Context, id uuid.UUID) error {
	_, err := s.SetSlotActive(ctx, id, false)
	return err
}

// -- Appointment --

func (s *Service) BookSlot(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.booking.BookSlot(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Str("provider_id", appt.ProviderID.String()).
		Msg("appointment booked")
	s.publish(ctx, events.New(events.AppointmentBooked, appt.SubjectID, "appointment booked").ForAppointment(appt.ID))
	return appt, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.store.Appointments.GetByID(ctx, id)
}

func (s *Service) SearchAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, invalid("type", fmt.Sprintf("unknown type %q", f.Type))
	}
	return s.store.Appointments.Search(ctx, f, limit, offset)
}

// UpdateAppointment edits the reason and type of an open appointment.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, reason *string, typ AppointmentType) (*Appointment, error) {
	if typ != "" && !typ.Valid() {
		return nil, invalid("type", fmt.Sprintf("type must be %s or %s", TypeInPerson, TypeVideoCall))
	}
	var out *Appointment
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.store.Appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("%w: status is %s", ErrAppointmentClosed, appt.Status)
		}
		appt.Reason = reason
		if typ != "" {
			appt.Type = typ
		}
		if err := s.store.Appointments.Update(ctx, appt); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAppointmentStatus applies a caller-requested status change.
// Cancelling also frees the slot.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	if !to.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", to))
	}
	if to == StatusCancelled {
		appt, err := s.booking.ReleaseSlot(ctx, id)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Str("appointment_id", appt.ID.String()).Msg("appointment cancelled")
		s.publish(ctx, events.New(events.AppointmentCancelled, appt.SubjectID, "appointment cancelled").ForAppointment(appt.ID))
		return appt, nil
	}

	var out *Appointment
	err := s.store.Tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err := s.store.Appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(appt.Status, to); err != nil {
			return err
		}
		moved, err := s.store.Appointments.TransitionStatus(ctx, id, appt.Status, to)
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
		}
		appt.Status = to
		out = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteElapsed marks scheduled appointments whose slot has ended as
// completed. The slot stays booked. It returns how many were moved.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	due, err := s.store.Appointments.ListElapsed(ctx, s.now(), completionBatch)
	if err != nil {
		return 0, fmt.Errorf("list elapsed appointments: %w", err)
	}
	n := 0
	for _, a := range due {
		moved, err := s.store.Appointments.TransitionStatus(ctx, a.ID, StatusScheduled, StatusCompleted)
		if err != nil {
			telemetry.AddAppointmentsCompleted(n)
			return n, fmt.Errorf("complete appointment %s: %w", a.ID, err)
		}
		if moved {
			n++
		}
	}
	telemetry.AddAppointmentsCompleted(n)
	return n, nil
}
