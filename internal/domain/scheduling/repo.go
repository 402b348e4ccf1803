package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TxRunner runs fn inside one storage transaction. Repositories called with
// the ctx handed to fn take part in that transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AvailabilityRepository interface {
	OccupancyChecker
	// Create inserts the availability and its patterns, assigning ids.
	// A second availability for the same owner and date fails with
	// ErrAvailabilityExists.
	Create(ctx context.Context, a *Availability) error
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	// Update rewrites the row and replaces its patterns, which removes the
	// slots generated from the old ones.
	Update(ctx context.Context, a *Availability) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*Availability, int, error)
	// LatestByOwner returns the owner's availability with the greatest date,
	// or nil when there is none.
	LatestByOwner(ctx context.Context, ownerID uuid.UUID) (*Availability, error)
}

type SlotRepository interface {
	CreateBatch(ctx context.Context, slots []*ScheduleSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error)
	ListByAvailability(ctx context.Context, availabilityID uuid.UUID, limit, offset int) ([]*ScheduleSlot, int, error)
	CountBooked(ctx context.Context, availabilityID uuid.UUID) (int, error)
	// Claim flips is_booked to true only if the slot is active and free.
	// It reports whether this call won the slot.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// Release flips is_booked back to false; false means it was not booked.
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	// SetActive changes is_active on an unbooked slot; false means the slot
	// is missing or booked.
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// TransitionStatus moves the appointment to `to` only if it is still in
	// `from`, reporting whether it did.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error)
	// LockProvider serialises bookings of one provider until the enclosing
	// transaction ends.
	LockProvider(ctx context.Context, providerID uuid.UUID) error
	// HasOverlap reports whether the provider holds a non-cancelled
	// appointment whose slot intersects [start, end).
	HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error)
	Search(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// CountByAvailability counts appointments in any status on the slots of
	// one availability.
	CountByAvailability(ctx context.Context, availabilityID uuid.UUID) (int, error)
	// ListElapsed returns scheduled appointments whose slot ended at or before t.
	ListElapsed(ctx context.Context, t time.Time, limit int) ([]*Appointment, error)
}

// Store bundles the repositories of one storage backend.
type Store struct {
	Tx             TxRunner
	Availabilities AvailabilityRepository
	Slots          SlotRepository
	Appointments   AppointmentRepository
}
