package scheduling

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ehr/scheduler/internal/platform/db"
	"github.com/ehr/scheduler/internal/platform/directory"
	"github.com/ehr/scheduler/internal/platform/events"
)

// testNow is Monday 2030-01-07 08:00 UTC.
var testNow = time.Date(2030, 1, 7, 8, 0, 0, 0, time.UTC)

var testToday = time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, MigrateSQLite(ctx, conn))
	return NewSQLiteStore(conn)
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *captureSink) Publish(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) Resolve(_ context.Context, kind directory.Kind, id uuid.UUID) (*directory.Party, error) {
	args := m.Called(kind, id)
	p, _ := args.Get(0).(*directory.Party)
	return p, args.Error(1)
}

type testEnv struct {
	svc   *Service
	store Store
	sink  *captureSink
	clock *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, newTestStore(t), directory.Static{})
}

func newTestEnvWith(t *testing.T, store Store, parties directory.Directory) *testEnv {
	t.Helper()
	clock := &testClock{now: testNow}
	sink := &captureSink{}
	svc := NewService(store, parties, sink, Options{
		Location: time.UTC,
		Now:      clock.Now,
		Logger:   zerolog.Nop(),
	})
	return &testEnv{svc: svc, store: store, sink: sink, clock: clock}
}

func pattern(day Weekday, start, end string, dur int) WeekdayPattern {
	return WeekdayPattern{
		Weekday:             day,
		StartTime:           MustClockTime(start),
		EndTime:             MustClockTime(end),
		SlotDurationMinutes: dur,
	}
}

// weekOf returns a one-week availability starting on date.
func weekOf(owner uuid.UUID, date time.Time, patterns ...WeekdayPattern) *Availability {
	return &Availability{
		OwnerID:          owner,
		AvailabilityDate: date,
		WeekdayPatterns:  patterns,
	}
}

func repeating(a *Availability, until time.Time) *Availability {
	a.IsRepeating = true
	a.RepeatUntil = &until
	return a
}

func days(n int) time.Time { return testToday.AddDate(0, 0, n) }

// createWeek stores a Tuesday 09:00-11:00 availability with 30 minute slots
// in the current week and returns its slots in order.
func createWeek(t *testing.T, env *testEnv, owner uuid.UUID) []*ScheduleSlot {
	t.Helper()
	ctx := context.Background()
	res, err := env.svc.CreateAvailability(ctx, weekOf(owner, testToday, pattern(Tuesday, "09:00", "11:00", 30)))
	require.NoError(t, err)
	slots, total, err := env.svc.ListSlots(ctx, res.Availability.ID, 100, 0)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	return slots
}

func bookReq(slot *ScheduleSlot, provider, subject uuid.UUID) BookingRequest {
	return BookingRequest{SlotID: slot.ID, ProviderID: provider, SubjectID: subject, Type: TypeInPerson}
}
