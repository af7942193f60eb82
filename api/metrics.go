package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName   = "taskboard/api"
	requestEventName      = "taskboard.api.request"
	requestEventDomain    = "taskboard.api"
	observabilityEventKey = "observability.event"
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	method        string
	route         string
	start         time.Time
	storeDuration time.Duration
	taskID        string
	tasksReturned int
	errorStage    string
	err           error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(instrumentationName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		method: method,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetTaskID(id string) {
	m.taskID = id
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

// Fail records the stage and cause of a request failure.
func (m *requestMetrics) Fail(stage string, err error) {
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.err = err
	}
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}

	severityText, severityNumber := severityForStatus(status, err)
	total := durationToMillis(time.Since(m.start))
	attrs := map[string]any{
		"http.method":                m.method,
		"http.route":                 m.route,
		"http.status_code":           status,
		"taskboard.request.total_ms": total,
		"taskboard.tasks.returned":   m.tasksReturned,
	}
	spanAttrs := []attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.Float64("taskboard.request.total_ms", total),
	}
	if m.storeDuration > 0 {
		ms := durationToMillis(m.storeDuration)
		attrs["taskboard.request.store_ms"] = ms
		spanAttrs = append(spanAttrs, attribute.Float64("taskboard.request.store_ms", ms))
	}
	if m.taskID != "" {
		attrs["taskboard.task.id"] = m.taskID
		spanAttrs = append(spanAttrs, attribute.String("taskboard.task.id", m.taskID))
	}
	if m.errorStage != "" {
		attrs["taskboard.request.error_stage"] = m.errorStage
		spanAttrs = append(spanAttrs, attribute.String("taskboard.request.error_stage", m.errorStage))
	}
	if err != nil {
		attrs["error.message"] = err.Error()
		spanAttrs = append(spanAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attribute.Int("http.status_code", status))
		m.span.AddEvent(observabilityEventKey, trace.WithAttributes(spanAttrs...))
		if severityNumber >= severityError {
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      requestEventName,
		"event.domain":    requestEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityError:
		entry.Error(observabilityEventKey)
	case severityWarn:
		entry.Warn(observabilityEventKey)
	default:
		entry.Info(observabilityEventKey)
	}
}

const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	case err != nil:
		return "ERROR", severityError
	default:
		return "INFO", severityInfo
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
