package scheduling

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinSlotDurationMinutes is the smallest bookable slot.
const MinSlotDurationMinutes = 10

// ClockTime is a wall-clock time of day in minutes after midnight. 24:00 is
// accepted as the end of the day.
type ClockTime int

const endOfDay ClockTime = 24 * 60

// ParseClockTime reads "HH:MM" or "HH:MM:SS"; seconds must be zero.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q: bad minute", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec != 0 {
			return 0, fmt.Errorf("time %q: seconds are not supported", s)
		}
	}
	c := ClockTime(h*60 + m)
	if h < 0 || c > endOfDay {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return c, nil
}

// MustClockTime is ParseClockTime for literals.
func MustClockTime(s string) ClockTime {
	c, err := ParseClockTime(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On returns the instant at which this clock time occurs on day's calendar
// date in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ValidatePatterns checks a weekday pattern set. It needs at least one
// window and one window per weekday. Each window must start strictly before
// it ends and hold at least one slot of at least MinSlotDurationMinutes.
// All problems are reported together.
func ValidatePatterns(patterns []WeekdayPattern) error {
	v := &ValidationError{}
	if len(patterns) == 0 {
		v.add("weekday_patterns", "at least one weekday must be provided")
		return v
	}
	seen := make(map[Weekday]bool, len(patterns))
	for i, p := range patterns {
		field := fmt.Sprintf("weekday_patterns[%d]", i)
		if !p.Weekday.Valid() {
			v.add(field+".weekday", fmt.Sprintf("unknown weekday %q", p.Weekday))
		} else if seen[p.Weekday] {
			v.add(field+".weekday", fmt.Sprintf("%s is listed more than once", p.Weekday))
		}
		seen[p.Weekday] = true

		if p.StartTime < 0 || p.StartTime >= endOfDay {
			v.add(field+".start_time", "start time out of range")
		}
		if p.EndTime == p.StartTime {
			v.add(field+".end_time", "start time and end time cannot be the same")
		} else if p.EndTime < p.StartTime {
			v.add(field+".end_time", "start time must be before end time")
		}
		if p.SlotDurationMinutes < MinSlotDurationMinutes {
			v.add(field+".slot_duration_minutes",
				fmt.Sprintf("slot duration must be at least %d minutes", MinSlotDurationMinutes))
		} else if p.EndTime > p.StartTime && int(p.EndTime-p.StartTime) < p.SlotDurationMinutes {
			v.add(field+".slot_duration_minutes", "window is shorter than one slot")
		}
	}
	return v.err()
}
