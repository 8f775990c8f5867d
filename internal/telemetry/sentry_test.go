package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbbot/internal/logger"
)

func TestInit_NoDSNIsNoop(t *testing.T) {
	shutdown, err := Init(Config{}, logger.NewNop())
	require.NoError(t, err)
	assert.NotPanics(t, shutdown)
}

func TestSampler(t *testing.T) {
	sample := sampler(0.25)

	tests := []struct {
		name string
		span *sentry.Span
		want float64
	}{
		{"health", &sentry.Span{Name: "GET /health"}, 0},
		{"job", &sentry.Span{Name: "summary.run", Op: OpJob}, 1},
		{"root request", &sentry.Span{Name: "POST /ask", Op: "http.server"}, 0.25},
		{"sampled child", &sentry.Span{ParentSpanID: sentry.SpanID{1}, Sampled: sentry.SampledTrue}, 1},
		{"dropped child", &sentry.Span{ParentSpanID: sentry.SpanID{1}, Sampled: sentry.SampledFalse}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sample(sentry.SamplingContext{Span: tt.span}))
		})
	}
}

func TestSpanHelpersAreNilSafe(t *testing.T) {
	var s *Span
	assert.NotPanics(t, func() {
		s.SetData("confidence", 0.9)
		s.SetError(errors.New("boom"))
		s.End()
	})
}

func TestStartSpanAndJobWithoutClient(t *testing.T) {
	ctx, job := StartJob(context.Background(), "summary.run")
	require.NotNil(t, job)
	assert.Equal(t, "summary.run", sentry.SpanFromContext(ctx).Name)

	childCtx, child := StartSpan(ctx, "SummaryService.Create", SpanAttributes{SummaryID: "sum-1"})
	assert.NotPanics(t, func() {
		child.SetError(errors.New("db down"))
		child.End()
		job.End()
		AddBreadcrumb(childCtx, "gate", "low_confidence", map[string]interface{}{"confidence": 0.4})
	})
	assert.Equal(t, "sum-1", sentry.SpanFromContext(childCtx).Tags["summary_id"])
}
