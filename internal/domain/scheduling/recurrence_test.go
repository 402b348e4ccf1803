package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOccupancy struct {
	taken map[time.Time]bool
	calls []time.Time
	err   error
}

func (f *fakeOccupancy) ExistsForOwnerOnDate(_ context.Context, _ uuid.UUID, date time.Time) (bool, error) {
	f.calls = append(f.calls, date)
	if f.err != nil {
		return false, f.err
	}
	return f.taken[date], nil
}

func newTestExpander(lookup OccupancyChecker, maxWeeks int) *Expander {
	return NewExpander(lookup, maxWeeks, time.UTC, func() time.Time { return testNow })
}

func dates(instances []*Availability) []string {
	out := make([]string, 0, len(instances))
	for _, a := range instances {
		out = append(out, a.AvailabilityDate.Format(time.DateOnly))
	}
	return out
}

func TestExpand_WeeklyUpToAndIncludingUntil(t *testing.T) {
	a := repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(21))
	a.SlotDurationMinutes = 30

	out, err := newTestExpander(&fakeOccupancy{}, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-07", "2030-01-14", "2030-01-21", "2030-01-28"}, dates(out))

	assert.Same(t, a, out[0])
	assert.False(t, out[0].Generated)
	for _, inst := range out[1:] {
		assert.True(t, inst.Generated)
		assert.Equal(t, a.OwnerID, inst.OwnerID)
		assert.True(t, inst.IsRepeating)
		assert.Equal(t, *a.RepeatUntil, *inst.RepeatUntil)
		require.Len(t, inst.WeekdayPatterns, 1)
		assert.Equal(t, Monday, inst.WeekdayPatterns[0].Weekday)
		assert.Equal(t, uuid.Nil, inst.WeekdayPatterns[0].ID)
	}
}

func TestExpand_UntilMidWeekStopsAtLastWholeStep(t *testing.T) {
	a := repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(20))

	out, err := newTestExpander(&fakeOccupancy{}, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-07", "2030-01-14", "2030-01-21"}, dates(out))

	a = repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(13))
	out, err = newTestExpander(&fakeOccupancy{}, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-07", "2030-01-14"}, dates(out))
}

func TestExpand_SkipsOccupiedWeeks(t *testing.T) {
	occ := &fakeOccupancy{taken: map[time.Time]bool{days(21): true}}
	a := repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(28))

	out, err := newTestExpander(occ, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"2030-01-07", "2030-01-14", "2030-01-21", "2030-02-04"}, dates(out))
	assert.Equal(t, []time.Time{days(7), days(14), days(21), days(28)}, occ.calls)
}

func TestExpand_NotRepeating(t *testing.T) {
	a := weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30))
	occ := &fakeOccupancy{}

	out, err := newTestExpander(occ, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Empty(t, occ.calls)

	// repeating without an end date behaves the same
	a.IsRepeating = true
	out, err = newTestExpander(occ, 0).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestExpand_InvalidRanges(t *testing.T) {
	tests := []struct {
		name  string
		date  time.Time
		until time.Time
	}{
		{"until today", testToday, testToday},
		{"until in the past", testToday, days(-7)},
		{"until before date", days(14), days(10)},
		{"beyond cap", testToday, days(7*4 + 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := repeating(weekOf(uuid.New(), tt.date, pattern(Monday, "08:00", "10:00", 30)), tt.until)
			_, err := newTestExpander(&fakeOccupancy{}, 4).Expand(context.Background(), a)
			assert.ErrorIs(t, err, ErrInvalidRecurrenceRange)
		})
	}
}

func TestExpand_CapIsInclusive(t *testing.T) {
	a := repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(7*4))
	out, err := newTestExpander(&fakeOccupancy{}, 4).Expand(context.Background(), a)
	require.NoError(t, err)
	assert.Len(t, out, 5)
}

func TestExpand_LookupError(t *testing.T) {
	boom := errors.New("db down")
	a := repeating(weekOf(uuid.New(), testToday, pattern(Monday, "08:00", "10:00", 30)), days(14))
	_, err := newTestExpander(&fakeOccupancy{err: boom}, 0).Expand(context.Background(), a)
	assert.ErrorIs(t, err, boom)
}

func TestExpand_AgainstStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	owner := uuid.New()

	a := repeating(weekOf(owner, testToday, pattern(Monday, "08:00", "10:00", 30)), days(21))
	a.SlotDurationMinutes = 30
	exp := newTestExpander(store.Availabilities, 0)

	out, err := exp.Expand(ctx, a)
	require.NoError(t, err)
	require.Len(t, out, 4)
	for _, inst := range out {
		require.NoError(t, store.Availabilities.Create(ctx, inst))
	}

	again := repeating(weekOf(owner, testToday, pattern(Monday, "08:00", "10:00", 30)), days(21))
	out, err = exp.Expand(ctx, again)
	require.NoError(t, err)
	assert.Len(t, out, 1, "only the requested instance remains once every week exists")
}
