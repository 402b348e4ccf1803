package scheduling

import (
	"errors"
	"strings"
)

var (
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrAvailabilityExists   = errors.New("availability already exists for owner on this date")
	ErrRunningAvailability  = errors.New("owner already has a running availability")
	ErrAvailabilityBooked   = errors.New("availability has booked slots")
	ErrAvailabilityHistory  = errors.New("availability has appointment history")
	ErrOwnerNotFound        = errors.New("owner not found")

	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrSlotBooked      = errors.New("slot is booked")
	ErrPastSlot        = errors.New("slot is in the past")

	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrOverlappingAppointment  = errors.New("provider already has an overlapping appointment")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrAppointmentClosed       = errors.New("appointment is closed")
	ErrProviderNotFound        = errors.New("provider not found")
	ErrSubjectNotFound         = errors.New("subject not found")

	ErrInvalidRecurrenceRange = errors.New("invalid recurrence range")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field problem found in a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// err returns nil when nothing was collected, so callers can write
// `return v.err()` unconditionally.
func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}
