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

	"github.com/jeajq/jobtracker/board"
)

const (
	tracerName           = "github.com/jeajq/jobtracker/api"
	observabilityEvent   = "observability.event"
	boardEventName       = "board.move.request"
	boardEventDomain     = "jobtracker.board"
	boardSpanName        = "board.move"
	boardAttributePrefix = "jobtracker.board."
	severityInfoNumber   = 9
	severityWarnNumber   = 13
	severityErrorNumber  = 17
)

// boardRequestMetrics traces one move or drop request and logs it as an
// observability event when the request completes.
type boardRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	applyDuration time.Duration
	outcome       board.Outcome
	replayed      bool
	errorStage    string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, boardSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, ctx
}

func (m *boardRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *boardRequestMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *boardRequestMetrics) SetOutcome(o board.Outcome) { m.outcome = o }

func (m *boardRequestMetrics) SetReplayed(replayed bool) { m.replayed = replayed }

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(boardAttributePrefix+"total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool(boardAttributePrefix+"replayed", m.replayed),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64(boardAttributePrefix+"auth_ms", durationToMillis(m.authDuration)))
	}
	if m.applyDuration > 0 {
		attrs = append(attrs, attribute.Float64(boardAttributePrefix+"apply_ms", durationToMillis(m.applyDuration)))
	}
	if m.outcome != "" {
		attrs = append(attrs, attribute.String(boardAttributePrefix+"outcome", string(m.outcome)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(boardAttributePrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	m.span.SetAttributes(attrs...)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", boardEventName),
		attribute.String("event.domain", boardEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))

	if severityNumber >= severityErrorNumber {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		if desc == "" {
			desc = "request failed"
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"attributes":      attrMap,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if sc := m.span.SpanContext(); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	entry := m.logger.WithFields(fields)
	switch severityNumber {
	case severityErrorNumber:
		entry.Error(observabilityEvent)
	case severityWarnNumber:
		entry.Warn(observabilityEvent)
	default:
		entry.Info(observabilityEvent)
	}
}

// severityForStatus maps a response to OpenTelemetry severity text and number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", severityErrorNumber
	case status >= http.StatusBadRequest:
		return "WARN", severityWarnNumber
	default:
		return "INFO", severityInfoNumber
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
