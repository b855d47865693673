package planner

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"firetrack/domain"
	"firetrack/internal/consts"
)

const (
	mutationEventName   = "task.mutation"
	mutationEventDomain = "firetrack.planner"
	spanPrefix          = "firetrack.planner."
)

// mutationMetrics records one task mutation as a span and a structured log
// event.
type mutationMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	operation  string
	projectID  string
	taskID     string
	patch      string
	mode       string
	checked    bool
	errorStage string
}

func startMutation(ctx context.Context, logger *log.Logger, operation, projectID string) (*mutationMetrics, context.Context) {
	ctx, span := otel.Tracer(consts.TracerName).Start(ctx, spanPrefix+operation,
		trace.WithAttributes(
			attribute.String("firetrack.operation", operation),
			attribute.String("firetrack.project_id", projectID),
		))
	return &mutationMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		operation: operation,
		projectID: projectID,
	}, ctx
}

func (m *mutationMetrics) SetTask(id string) { m.taskID = id }

func (m *mutationMetrics) SetPatch(p Patch) {
	m.patch = p.Kind.String()
	m.checked = p.IfVersion != 0
}

func (m *mutationMetrics) SetRemovalMode(mode RemovalMode) { m.mode = mode.String() }

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// End closes the span and logs the observability event.
func (m *mutationMetrics) End(err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityFor(err)
	attrs := []attribute.KeyValue{
		attribute.String("firetrack.operation", m.operation),
		attribute.String("firetrack.project_id", m.projectID),
		attribute.Float64("firetrack.mutation.total_ms", durationToMillis(time.Since(m.start))),
		attribute.String("severity_text", severityText),
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String("firetrack.task_id", m.taskID))
	}
	if m.patch != "" {
		attrs = append(attrs, attribute.String("firetrack.mutation.patch", m.patch))
	}
	if m.mode != "" {
		attrs = append(attrs, attribute.String("firetrack.mutation.mode", m.mode))
	}
	if m.checked {
		attrs = append(attrs, attribute.Bool("firetrack.mutation.version_checked", true))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("firetrack.mutation.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	m.span.SetAttributes(attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
	if err != nil {
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger != nil {
		fields := log.Fields{
			"event.name":      mutationEventName,
			"event.domain":    mutationEventDomain,
			"severity_text":   severityText,
			"severity_number": severityNumber,
			"attributes":      attributesToFields(attrs),
		}
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		entry := m.logger.WithFields(fields)
		switch severityNumber {
		case 17:
			entry.Error("observability.event")
		case 13:
			entry.Warn("observability.event")
		default:
			entry.Info("observability.event")
		}
	}
	m.span.End()
}

// severityFor maps the outcome to OpenTelemetry log severities. Validation
// failures and conflicts are warnings; everything else that failed is an error.
func severityFor(err error) (string, int) {
	switch {
	case err == nil:
		return "INFO", 9
	case errors.Is(err, domain.ErrEmptyTaskText),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrConcurrencyConflict):
		return "WARN", 13
	default:
		return "ERROR", 17
	}
}

func attributesToFields(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
