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

	"board-sync/internal/consts"
)

const (
	publishSpanName   = "relay.publish"
	publishEventName  = "relay.publish.request"
	eventDomain       = "board-sync"
	observabilityName = "observability.event"
	tracerName        = "board-sync/api"
)

type publishMetrics struct {
	logger       *log.Logger
	span         trace.Span
	start        time.Time
	ownerPresent bool
	eventType    string
	duplicate    bool
	errorStage   string
}

// newPublishMetrics starts the publish span. The returned context carries
// the span and is nil when no span could be started.
func newPublishMetrics(ctx context.Context, logger *log.Logger) (*publishMetrics, context.Context) {
	m := &publishMetrics{logger: logger, start: time.Now()}
	if ctx == nil {
		return m, nil
	}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, publishSpanName, trace.WithSpanKind(trace.SpanKindServer))
	m.span = span
	return m, spanCtx
}

func (m *publishMetrics) SetOwnerPresent(present bool) { m.ownerPresent = present }

func (m *publishMetrics) SetEventType(t string) { m.eventType = t }

func (m *publishMetrics) SetDuplicate(dup bool) { m.duplicate = dup }

func (m *publishMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *publishMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", consts.EventsRoute),
		attribute.String("http.method", http.MethodPost),
		attribute.Int("http.status_code", status),
		attribute.Bool("relay.publish.owner_present", m.ownerPresent),
		attribute.Bool("relay.publish.duplicate", m.duplicate),
		attribute.Float64("relay.publish.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.eventType != "" {
		attrs = append(attrs, attribute.String("relay.publish.event_type", m.eventType))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("relay.publish.error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the span and emits one structured log entry for the request.
func (m *publishMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	severityText, severityNumber := severityForStatus(status, err)

	fields := log.Fields{
		"event.name":      publishEventName,
		"event.domain":    eventDomain,
		"attributes":      attributesToFields(attrs),
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		if sc.HasSpanID() {
			fields["span_id"] = sc.SpanID().String()
		}
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", publishEventName),
			attribute.String("event.domain", eventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(observabilityName, trace.WithAttributes(eventAttrs...))
		if status >= http.StatusInternalServerError || err != nil {
			msg := m.errorStage
			if err != nil {
				msg = err.Error()
			}
			m.span.SetStatus(codes.Error, msg)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityName)
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
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
