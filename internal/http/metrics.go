package http

import (
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/fyrsmithlabs/conductor/internal/http"

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// requestMetrics holds the status surface's request instruments. Any
// instrument that failed to register stays nil and is skipped.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter) (*requestMetrics, error) {
	var m requestMetrics
	var errs []error

	c, err := meter.Int64Counter("conductor.http.requests_total",
		metric.WithDescription("Status surface requests by method, route and status"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	if err == nil {
		m.requests = c
	}

	h, err := meter.Float64Histogram("conductor.http.request_duration_seconds",
		metric.WithDescription("Status surface request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	errs = append(errs, err)
	if err == nil {
		m.duration = h
	}

	g, err := meter.Int64UpDownCounter("conductor.http.active_requests",
		metric.WithDescription("In-flight status surface requests"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)
	if err == nil {
		m.inFlight = g
	}

	if err := errors.Join(errs...); err != nil {
		return &m, fmt.Errorf("registering http instruments: %w", err)
	}
	return &m, nil
}

// metricsMiddleware records one request sample per call. Handler errors are
// rendered before recording so the status attribute is final.
func metricsMiddleware(meter metric.Meter, logger *zap.Logger) echo.MiddlewareFunc {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m, err := newRequestMetrics(meter)
	if err != nil {
		logger.Warn("http metrics partially disabled", zap.Error(err))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", routeLabel(c.Path())),
				attribute.Int("status", status),
				attribute.String("status_class", fmt.Sprintf("%dxx", status/100)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

// routeLabel keeps the route label bounded: c.Path() is the registered
// template, empty for unmatched requests.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
