package scheduling

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/scheduler/internal/platform/auth"
	"github.com/ehr/scheduler/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – doctors and patients
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	readGroup.GET("/availability", h.ListAvailability)
	readGroup.GET("/availability/:id", h.GetAvailability)
	readGroup.GET("/slots", h.ListSlots)
	readGroup.GET("/slots/:id", h.GetSlot)
	readGroup.GET("/appointments", h.SearchAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	// Schedule management – doctors
	scheduleGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	scheduleGroup.POST("/availability", h.CreateAvailability)
	scheduleGroup.PUT("/availability/:id", h.UpdateAvailability)
	scheduleGroup.DELETE("/availability/:id", h.DeleteAvailability)
	scheduleGroup.PATCH("/slots/:id", h.SetSlotActive)
	scheduleGroup.DELETE("/slots/:id", h.DeactivateSlot)

	// Booking – doctors and patients
	bookingGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	bookingGroup.POST("/appointments", h.BookSlot)
	bookingGroup.PUT("/appointments/:id", h.UpdateAppointment)
	bookingGroup.PATCH("/appointments/:id/status", h.UpdateAppointmentStatus)
}

// errorBody is the JSON body of a rejected request. Fields is set only for
// validation failures.
type errorBody struct {
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// httpError maps domain errors onto HTTP statuses. Anything unrecognised is
// logged and reported as a bare 500.
func (h *Handler) httpError(c echo.Context, err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Message: "validation failed", Fields: verr.Fields})
	}
	switch {
	case errors.Is(err, ErrAvailabilityNotFound),
		errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrOwnerNotFound),
		errors.Is(err, ErrProviderNotFound),
		errors.Is(err, ErrSubjectNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotBooked),
		errors.Is(err, ErrAvailabilityExists),
		errors.Is(err, ErrRunningAvailability),
		errors.Is(err, ErrAvailabilityBooked),
		errors.Is(err, ErrAvailabilityHistory):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPastSlot),
		errors.Is(err, ErrOverlappingAppointment),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrInvalidRecurrenceRange),
		errors.Is(err, ErrAppointmentClosed):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	h.logger.Error().Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// queryUUID reads the first non-empty of the given query parameters. ok is
// false when none was supplied.
func queryUUID(c echo.Context, names ...string) (id uuid.UUID, ok bool, err error) {
	for _, n := range names {
		raw := c.QueryParam(n)
		if raw == "" {
			continue
		}
		id, err = uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, false, echo.NewHTTPError(http.StatusBadRequest, "invalid "+n)
		}
		return id, true, nil
	}
	return uuid.Nil, false, nil
}

// -- Availability Handlers --

type patternRequest struct {
	Weekday             string    `json:"weekday"`
	StartTime           ClockTime `json:"start_time"`
	EndTime             ClockTime `json:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
}

type availabilityRequest struct {
	OwnerID             uuid.UUID        `json:"owner_id"`
	SlotDurationMinutes int              `json:"slot_duration_minutes"`
	IsRepeating         bool             `json:"is_repeating"`
	RepeatUntil         string           `json:"repeat_until"`
	AvailabilityDate    string           `json:"availability_date"`
	WeekdayPatterns     []patternRequest `json:"weekday_patterns"`
}

func (r availabilityRequest) toModel() (*Availability, error) {
	v := &ValidationError{}
	a := &Availability{
		OwnerID:             r.OwnerID,
		SlotDurationMinutes: r.SlotDurationMinutes,
		IsRepeating:         r.IsRepeating,
	}
	if r.AvailabilityDate != "" {
		d, err := time.Parse(time.DateOnly, r.AvailabilityDate)
		if err != nil {
			v.add("availability_date", "availability_date must be YYYY-MM-DD")
		}
		a.AvailabilityDate = d
	}
	if r.RepeatUntil != "" {
		d, err := time.Parse(time.DateOnly, r.RepeatUntil)
		if err != nil {
			v.add("repeat_until", "repeat_until must be YYYY-MM-DD")
		} else {
			a.RepeatUntil = &d
		}
	}
	for _, p := range r.WeekdayPatterns {
		wd, ok := ParseWeekday(p.Weekday)
		if !ok {
			wd = Weekday(p.Weekday)
		}
		a.WeekdayPatterns = append(a.WeekdayPatterns, WeekdayPattern{
			Weekday:             wd,
			StartTime:           p.StartTime,
			EndTime:             p.EndTime,
			SlotDurationMinutes: p.SlotDurationMinutes,
		})
	}
	return a, v.err()
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// doctors publish their own availability unless an owner is named
	if req.OwnerID == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			req.OwnerID = uid
		}
	}
	a, err := req.toModel()
	if err != nil {
		return h.httpError(c, err)
	}
	result, err := h.svc.CreateAvailability(c.Request().Context(), a)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAvailability(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAvailability(c echo.Context) error {
	owner, ok, err := queryUUID(c, "owner", "owner_id")
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "owner is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAvailabilityByOwner(c.Request().Context(), owner, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	patch, err := req.toModel()
	if err != nil {
		return h.httpError(c, err)
	}
	a, err := h.svc.UpdateAvailability(c.Request().Context(), id, patch)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slot Handlers --

func (h *Handler) ListSlots(c echo.Context) error {
	availabilityID, ok, err := queryUUID(c, "availabilityId", "availability_id")
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "availabilityId is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSlots(c.Request().Context(), availabilityID, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSlot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	slot, err := h.svc.GetSlot(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, slot)
}

type slotPatch struct {
	IsActive *bool `json:"is_active"`
}

func (h *Handler) SetSlotActive(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req slotPatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.IsActive == nil {
		return h.httpError(c, invalid("is_active", "is_active is required"))
	}
	slot, err := h.svc.SetSlotActive(c.Request().Context(), id, *req.IsActive)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeactivateSlot(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeactivateSlot(c.Request().Context(), id); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointment Handlers --

func (h *Handler) BookSlot(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	appt, err := h.svc.BookSlot(c.Request().Context(), req)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) SearchAppointments(c echo.Context) error {
	var f AppointmentFilter
	if id, ok, err := queryUUID(c, "provider_id"); err != nil {
		return err
	} else if ok {
		f.ProviderID = &id
	}
	if id, ok, err := queryUUID(c, "subject_id"); err != nil {
		return err
	} else if ok {
		f.SubjectID = &id
	}
	f.Status = AppointmentStatus(c.QueryParam("status"))
	f.Type = AppointmentType(c.QueryParam("type"))

	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type appointmentPatch struct {
	Reason *string         `json:"reason"`
	Type   AppointmentType `json:"type"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req appointmentPatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	appt, err := h.svc.UpdateAppointment(c.Request().Context(), id, req.Reason, req.Type)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

type statusPatch struct {
	Status AppointmentStatus `json:"status"`
}

func (h *Handler) UpdateAppointmentStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusPatch
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Status == "" {
		return h.httpError(c, invalid("status", "status is required"))
	}
	appt, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}
