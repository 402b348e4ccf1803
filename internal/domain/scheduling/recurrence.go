package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxRecurrenceWeeks bounds how far a single request may expand.
const DefaultMaxRecurrenceWeeks = 52

// OccupancyChecker reports whether an owner already has an availability on
// a given date.
type OccupancyChecker interface {
	ExistsForOwnerOnDate(ctx context.Context, ownerID uuid.UUID, date time.Time) (bool, error)
}

// Expander turns a repeating availability into its weekly instances.
type Expander struct {
	lookup   OccupancyChecker
	maxWeeks int
	loc      *time.Location
	now      func() time.Time
}

func NewExpander(lookup OccupancyChecker, maxWeeks int, loc *time.Location, now func() time.Time) *Expander {
	if maxWeeks <= 0 {
		maxWeeks = DefaultMaxRecurrenceWeeks
	}
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Expander{lookup: lookup, maxWeeks: maxWeeks, loc: loc, now: now}
}

// Expand returns initial followed by one generated instance per week up to
// and including RepeatUntil, in increasing date order. Weeks the owner
// already has an availability for are skipped without emitting anything;
// the cursor still advances past them. Non-repeating availabilities, and
// repeating ones without an end date, come back as a single element.
// The bound is inclusive so that an end date three weeks out yields three
// weekly copies after the first week.
func (e *Expander) Expand(ctx context.Context, initial *Availability) ([]*Availability, error) {
	if !initial.IsRepeating || initial.RepeatUntil == nil {
		return []*Availability{initial}, nil
	}

	today := dateOf(e.now(), e.loc)
	until := dateOf(*initial.RepeatUntil, time.UTC)
	if !until.After(today) {
		return nil, fmt.Errorf("%w: repeat_until %s must be after %s",
			ErrInvalidRecurrenceRange, until.Format(time.DateOnly), today.Format(time.DateOnly))
	}
	if initial.AvailabilityDate.IsZero() {
		initial.AvailabilityDate = today
	}
	if until.Before(initial.AvailabilityDate) {
		return nil, fmt.Errorf("%w: repeat_until %s is before availability_date %s",
			ErrInvalidRecurrenceRange, until.Format(time.DateOnly), initial.AvailabilityDate.Format(time.DateOnly))
	}
	if limit := initial.AvailabilityDate.AddDate(0, 0, 7*e.maxWeeks); until.After(limit) {
		return nil, fmt.Errorf("%w: repeat_until may be at most %d weeks after availability_date",
			ErrInvalidRecurrenceRange, e.maxWeeks)
	}

	out := []*Availability{initial}
	current := initial
	cursor := initial.AvailabilityDate
	for i := 0; i < e.maxWeeks; i++ {
		next := cursor.AddDate(0, 0, 7)
		if next.After(until) {
			break
		}
		exists, err := e.lookup.ExistsForOwnerOnDate(ctx, initial.OwnerID, next)
		if err != nil {
			return nil, fmt.Errorf("check availability on %s: %w", next.Format(time.DateOnly), err)
		}
		if !exists {
			current = current.cloneFor(next)
			out = append(out, current)
		}
		cursor = next
	}
	return out, nil
}
