package scheduling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// SeedFile is the root of a seed document.
type SeedFile struct {
	Availabilities []SeedAvailability `yaml:"availabilities"`
}

// SeedAvailability is one owner's starting schedule. Dates are optional:
// without availability_date the week starts today, and repeat_weeks is an
// alternative to a fixed repeat_until.
type SeedAvailability struct {
	OwnerID             string        `yaml:"owner_id"`
	AvailabilityDate    string        `yaml:"availability_date,omitempty"` // "2026-01-05"
	SlotDurationMinutes int           `yaml:"slot_duration_minutes"`
	RepeatUntil         string        `yaml:"repeat_until,omitempty"`
	RepeatWeeks         int           `yaml:"repeat_weeks,omitempty"`
	WeekdayPatterns     []SeedPattern `yaml:"weekday_patterns"`
}

type SeedPattern struct {
	Weekday             string `yaml:"weekday"`
	StartTime           string `yaml:"start_time"` // "08:00"
	EndTime             string `yaml:"end_time"`   // "12:00"
	SlotDurationMinutes int    `yaml:"slot_duration_minutes,omitempty"`
}

// SeedReport counts what a seeding run did.
type SeedReport struct {
	Created   int
	Skipped   int
	Instances int
}

// Seed creates the availabilities listed in r. Owners that already have the
// seeded week, or a running repeating availability, are skipped, so running
// it again changes nothing.
func Seed(ctx context.Context, svc *Service, r io.Reader) (*SeedReport, error) {
	var doc SeedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	report := &SeedReport{}
	today := svc.today()
	for i, entry := range doc.Availabilities {
		a, err := entry.toModel(today)
		if err != nil {
			return report, fmt.Errorf("seed entry %d: %w", i, err)
		}
		result, err := svc.CreateAvailability(ctx, a)
		switch {
		case errors.Is(err, ErrAvailabilityExists), errors.Is(err, ErrRunningAvailability):
			report.Skipped++
			svc.logger.Debug().Str("owner_id", entry.OwnerID).Msg("seed entry already present")
		case err != nil:
			return report, fmt.Errorf("seed entry %d (owner %s): %w", i, entry.OwnerID, err)
		default:
			report.Created++
			report.Instances += len(result.Instances)
		}
	}
	svc.logger.Info().
		Int("created", report.Created).
		Int("skipped", report.Skipped).
		Int("instances", report.Instances).
		Msg("seeding finished")
	return report, nil
}

func (e SeedAvailability) toModel(today time.Time) (*Availability, error) {
	owner, err := uuid.Parse(e.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("owner_id: %w", err)
	}
	a := &Availability{
		OwnerID:             owner,
		SlotDurationMinutes: e.SlotDurationMinutes,
		AvailabilityDate:    today,
	}
	if e.AvailabilityDate != "" {
		if a.AvailabilityDate, err = time.Parse(time.DateOnly, e.AvailabilityDate); err != nil {
			return nil, fmt.Errorf("availability_date: %w", err)
		}
	}
	switch {
	case e.RepeatUntil != "":
		until, err := time.Parse(time.DateOnly, e.RepeatUntil)
		if err != nil {
			return nil, fmt.Errorf("repeat_until: %w", err)
		}
		a.IsRepeating, a.RepeatUntil = true, &until
	case e.RepeatWeeks > 0:
		until := a.AvailabilityDate.AddDate(0, 0, 7*e.RepeatWeeks)
		a.IsRepeating, a.RepeatUntil = true, &until
	}
	for _, p := range e.WeekdayPatterns {
		wd, ok := ParseWeekday(p.Weekday)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", p.Weekday)
		}
		start, err := ParseClockTime(p.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := ParseClockTime(p.EndTime)
		if err != nil {
			return nil, err
		}
		a.WeekdayPatterns = append(a.WeekdayPatterns, WeekdayPattern{
			Weekday:             wd,
			StartTime:           start,
			EndTime:             end,
			SlotDurationMinutes: p.SlotDurationMinutes,
		})
	}
	return a, nil
}
