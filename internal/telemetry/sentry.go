// Package telemetry wraps Sentry tracing for request handling and the summary job.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/kbbot/internal/logger"
)

const (
	serviceName = "kbbot"

	// OpJob marks transactions started by background jobs rather than requests
	OpJob = "job"

	flushTimeout = 5 * time.Second
)

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client. With no DSN it does nothing and
// every helper below degrades to a no-op. The returned func flushes pending events.
func Init(cfg Config, log *logger.Logger) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		log.Warn("sentry init failed, continuing without tracing", "error", err)
		return func() {}, nil
	}

	log.Info("sentry tracing initialized", "environment", cfg.Environment, "sample_rate", cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health checks, always keeps the daily job and follows the parent for child spans
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		span := ctx.Span
		if span.Name == "GET /health" {
			return 0
		}
		if span.Op == OpJob {
			return 1
		}
		var noParent sentry.SpanID
		if span.ParentSpanID != noParent {
			if span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes tags a span with the ids a support engineer would search by.
type SpanAttributes struct {
	ConversationID string
	SummaryID      string
	DocumentID     string
	Operation      string
}

func (a SpanAttributes) apply(span *sentry.Span) {
	if a.ConversationID != "" {
		span.SetTag("conversation_id", a.ConversationID)
	}
	if a.SummaryID != "" {
		span.SetTag("summary_id", a.SummaryID)
	}
	if a.DocumentID != "" {
		span.SetTag("document_id", a.DocumentID)
	}
	if a.Operation != "" {
		span.SetData("operation", a.Operation)
	}
}

// Span is a nil-safe handle on a Sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s != nil && s.inner != nil {
		s.inner.Finish()
	}
}

// SetData attaches a value such as a confidence score to the span.
func (s *Span) SetData(key string, value interface{}) {
	if s != nil && s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// SetError marks the span failed and reports err on the span's hub.
func (s *Span) SetError(err error) {
	if s == nil || s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

// StartSpan opens a child of the span in ctx, or a new transaction when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	attrs.apply(span)
	return span.Context(), &Span{inner: span}
}

// StartJob opens a root transaction on its own hub so job events do not leak
// into whatever scope the caller had, such as an HTTP request that forced the run.
func StartJob(ctx context.Context, name string) (context.Context, *Span) {
	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTag("job", name)
	ctx = sentry.SetHubOnContext(ctx, hub)

	span := sentry.StartTransaction(ctx, name,
		sentry.WithOpName(OpJob),
		sentry.WithTransactionSource(sentry.SourceTask),
	)
	return span.Context(), &Span{inner: span}
}

// CaptureError reports err on the hub in ctx, falling back to the global hub.
func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// AddBreadcrumb records a step so a later captured error shows how the request got there.
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	crumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(crumb, nil)
		return
	}
	sentry.AddBreadcrumb(crumb)
}
