// Package telemetry holds the service's Prometheus collectors and the HTTP
// instrumentation middleware.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scheduler"

var (
	once sync.Once

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_attempts_total",
			Help:      "Slot booking attempts by result.",
		},
		[]string{"result"},
	)

	slotsMaterialized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_materialized_total",
			Help:      "Schedule slots written from weekday patterns.",
		},
	)

	availabilityInstances = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_instances_total",
			Help:      "Availability instances stored, split into requested and generated.",
		},
		[]string{"origin"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the sink by result.",
		},
		[]string{"result"},
	)

	appointmentsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_completed_total",
			Help:      "Appointments moved to COMPLETED by the completion sweep.",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)
)

// Register adds every collector to the default registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingAttempts,
			slotsMaterialized,
			availabilityInstances,
			eventsPublished,
			appointmentsCompleted,
			requestDuration,
		)
	})
}

func ObserveBooking(result string) {
	bookingAttempts.WithLabelValues(result).Inc()
}

func AddSlotsMaterialized(n int) {
	slotsMaterialized.Add(float64(n))
}

// AddAvailabilityInstances counts stored instances; origin is "requested"
// or "generated".
func AddAvailabilityInstances(origin string, n int) {
	availabilityInstances.WithLabelValues(origin).Add(float64(n))
}

// IncEventPublished counts a sink outcome: "sent", "failed" or "dropped".
func IncEventPublished(result string) {
	eventsPublished.WithLabelValues(result).Inc()
}

func AddAppointmentsCompleted(n int) {
	appointmentsCompleted.Add(float64(n))
}

// Middleware records request latency keyed by the route pattern, so
// /slots/:id stays one series regardless of the id.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			requestDuration.WithLabelValues(c.Request().Method, route, status).
				Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
