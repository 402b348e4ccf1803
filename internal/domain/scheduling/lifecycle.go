package scheduling

import "fmt"

// transitions lists the status changes a caller may request. Completion is
// not among them: the completion sweep marks appointments COMPLETED once
// their slot has elapsed.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether a caller may move an appointment from one
// status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no caller transition leaves s.
func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

func checkTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}
