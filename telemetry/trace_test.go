package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// All helpers must be safe without a configured provider or span.

func TestHelpersSafeWithoutProvider(t *testing.T) {
	ctx := context.Background()

	AddSpanEvent(ctx, "stage_start", attribute.String("stage", "INTAKE"))
	RecordSpanError(ctx, errors.New("boom"))
	SetSpanAttributes(ctx, attribute.Bool("posted", true))
	Counter("test.counter", "label", "value")
	Histogram("test.histogram", 1.5)
	Duration("test.duration_ms", time.Now())
}

func TestHelpersSafeWithNilContext(t *testing.T) {
	AddSpanEvent(nil, "event")       //nolint:staticcheck
	RecordSpanError(nil, errors.New("boom")) //nolint:staticcheck
	SetSpanAttributes(nil)           //nolint:staticcheck
}

func TestGetTraceContextEmpty(t *testing.T) {
	tc := GetTraceContext(context.Background())
	if tc.TraceID != "" || tc.SpanID != "" || tc.Sampled {
		t.Fatalf("expected empty trace context, got %+v", tc)
	}
}

func TestRecordSpanErrorNilError(t *testing.T) {
	RecordSpanError(context.Background(), nil)
}
