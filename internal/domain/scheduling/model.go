package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday names a day of the week the way it travels on the wire.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

var weekdayIndex = map[Weekday]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// ParseWeekday accepts any casing of the full English day name.
func ParseWeekday(s string) (Weekday, bool) {
	w := Weekday(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := weekdayIndex[w]
	return w, ok
}

func (w Weekday) Valid() bool {
	_, ok := weekdayIndex[w]
	return ok
}

func (w Weekday) TimeWeekday() time.Weekday { return weekdayIndex[w] }

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeInPerson  AppointmentType = "IN_PERSON"
	TypeVideoCall AppointmentType = "VIDEO_CALL"
)

func (t AppointmentType) Valid() bool {
	return t == TypeInPerson || t == TypeVideoCall
}

// WeekdayPattern maps to the weekday_pattern table: one weekly time window
// of an availability, sliced into slots of SlotDurationMinutes.
type WeekdayPattern struct {
	ID                  uuid.UUID `db:"id" json:"id"`
	AvailabilityID      uuid.UUID `db:"availability_id" json:"availability_id"`
	Weekday             Weekday   `db:"weekday" json:"weekday"`
	StartTime           ClockTime `db:"start_minute" json:"start_time"`
	EndTime             ClockTime `db:"end_minute" json:"end_time"`
	SlotDurationMinutes int       `db:"slot_duration_minutes" json:"slot_duration_minutes"`
}

// Availability maps to the availability table. An instance covers the seven
// days starting at AvailabilityDate; dates are calendar days stored as UTC
// midnight.
type Availability struct {
	ID                  uuid.UUID        `db:"id" json:"id"`
	OwnerID             uuid.UUID        `db:"owner_id" json:"owner_id"`
	SlotDurationMinutes int              `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	IsRepeating         bool             `db:"is_repeating" json:"is_repeating"`
	RepeatUntil         *time.Time       `db:"repeat_until" json:"repeat_until,omitempty"`
	AvailabilityDate    time.Time        `db:"availability_date" json:"availability_date"`
	WeekdayPatterns     []WeekdayPattern `json:"weekday_patterns"`
	Generated           bool             `db:"generated" json:"generated"`
	VersionID           int              `db:"version_id" json:"version_id"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// DefaultSlotDurationMinutes applies when neither the availability nor a
// pattern names a duration.
const DefaultSlotDurationMinutes = 30

// applyDefaults fills the availability duration and lets patterns without
// their own duration inherit it.
func (a *Availability) applyDefaults() {
	if a.SlotDurationMinutes == 0 {
		a.SlotDurationMinutes = DefaultSlotDurationMinutes
	}
	for i := range a.WeekdayPatterns {
		if a.WeekdayPatterns[i].SlotDurationMinutes == 0 {
			a.WeekdayPatterns[i].SlotDurationMinutes = a.SlotDurationMinutes
		}
	}
}

// cloneFor returns a generated sibling on date, carrying the same owner,
// repeat settings and weekday windows. Pattern ids are reassigned on insert.
func (a *Availability) cloneFor(date time.Time) *Availability {
	next := &Availability{
		OwnerID:             a.OwnerID,
		SlotDurationMinutes: a.SlotDurationMinutes,
		IsRepeating:         a.IsRepeating,
		AvailabilityDate:    date,
		Generated:           true,
	}
	if a.RepeatUntil != nil {
		until := *a.RepeatUntil
		next.RepeatUntil = &until
	}
	next.WeekdayPatterns = make([]WeekdayPattern, len(a.WeekdayPatterns))
	for i, p := range a.WeekdayPatterns {
		p.ID = uuid.Nil
		p.AvailabilityID = uuid.Nil
		next.WeekdayPatterns[i] = p
	}
	return next
}

// ScheduleSlot maps to the schedule_slot table. StartTime and EndTime are
// absolute instants in UTC.
type ScheduleSlot struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AvailabilityID   uuid.UUID `db:"availability_id" json:"availability_id"`
	WeekdayPatternID uuid.UUID `db:"weekday_pattern_id" json:"weekday_pattern_id"`
	StartTime        time.Time `db:"start_time" json:"start_time"`
	EndTime          time.Time `db:"end_time" json:"end_time"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	IsBooked         bool      `db:"is_booked" json:"is_booked"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	ProviderID uuid.UUID         `db:"provider_id" json:"provider_id"`
	SubjectID  uuid.UUID         `db:"subject_id" json:"subject_id"`
	SlotID     uuid.UUID         `db:"slot_id" json:"slot_id"`
	Reason     *string           `db:"reason" json:"reason,omitempty"`
	Type       AppointmentType   `db:"type" json:"type"`
	Status     AppointmentStatus `db:"status" json:"status"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

// AppointmentFilter narrows appointment searches; zero fields are ignored.
type AppointmentFilter struct {
	ProviderID *uuid.UUID
	SubjectID  *uuid.UUID
	Status     AppointmentStatus
	Type       AppointmentType
}

// dateOf truncates t to its calendar day in loc and returns that day as UTC
// midnight, which is how dates are compared and stored.
func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
