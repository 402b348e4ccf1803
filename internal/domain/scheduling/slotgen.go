package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// GenerateSlots slices one weekday window on day into consecutive slots of
// the pattern's duration. A trailing interval shorter than the duration is
// dropped. Slot ids are derived from the availability, the pattern and the
// start instant, so the same input always yields the same slots.
func GenerateSlots(p WeekdayPattern, day time.Time, availabilityID uuid.UUID) []*ScheduleSlot {
	if p.SlotDurationMinutes <= 0 || p.EndTime <= p.StartTime {
		return nil
	}
	loc := day.Location()
	dur := time.Duration(p.SlotDurationMinutes) * time.Minute
	start := p.StartTime.On(day, loc)
	end := p.EndTime.On(day, loc)

	slots := make([]*ScheduleSlot, 0, int(end.Sub(start)/dur))
	for cursor := start; !cursor.Add(dur).After(end); cursor = cursor.Add(dur) {
		slots = append(slots, &ScheduleSlot{
			ID:               slotID(availabilityID, p.ID, cursor),
			AvailabilityID:   availabilityID,
			WeekdayPatternID: p.ID,
			StartTime:        cursor.UTC(),
			EndTime:          cursor.Add(dur).UTC(),
			IsActive:         true,
			IsBooked:         false,
		})
	}
	return slots
}

// MaterializeSlots produces the slots of every pattern across the seven days
// the availability covers, in chronological order.
func MaterializeSlots(a *Availability, loc *time.Location) []*ScheduleSlot {
	byDay := make(map[time.Weekday]WeekdayPattern, len(a.WeekdayPatterns))
	for _, p := range a.WeekdayPatterns {
		byDay[p.Weekday.TimeWeekday()] = p
	}
	y, m, d := a.AvailabilityDate.Date()

	var slots []*ScheduleSlot
	for i := 0; i < 7; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		p, ok := byDay[day.Weekday()]
		if !ok {
			continue
		}
		slots = append(slots, GenerateSlots(p, day, a.ID)...)
	}
	return slots
}

func slotID(availabilityID, patternID uuid.UUID, start time.Time) uuid.UUID {
	return uuid.NewSHA1(availabilityID, []byte(patternID.String()+"@"+start.UTC().Format(time.RFC3339)))
}
