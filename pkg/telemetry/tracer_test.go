package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordingTracer() (*Tracer, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return &Tracer{provider: provider, tracer: provider.Tracer("test")}, sr
}

func spanAttribute(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.AsString()
		}
	}
	return ""
}

func TestNegotiationSpanRecordsError(t *testing.T) {
	tr, sr := recordingTracer()

	_, span := tr.StartNegotiationSpan(context.Background(), "demand-1", "proposal-1")
	RecordError(span, errors.New("counter rejected"))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "market.negotiate" {
		t.Fatalf("span name = %s", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Fatalf("status = %v, want error", got.Status())
	}
	if spanAttribute(got, "demand.id") != "demand-1" || spanAttribute(got, "proposal.id") != "proposal-1" {
		t.Fatalf("attributes = %v", got.Attributes())
	}
}

func TestBatchSpanRecordsSuccess(t *testing.T) {
	tr, sr := recordingTracer()

	_, span := tr.StartBatchSpan(context.Background(), "activity-1", 7)
	RecordSuccess(span)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "activity.execute" {
		t.Fatalf("span name = %s", got.Name())
	}
	if got.Status().Code != codes.Ok {
		t.Fatalf("status = %v, want ok", got.Status())
	}
	if spanAttribute(got, "activity.id") != "activity-1" {
		t.Fatalf("attributes = %v", got.Attributes())
	}
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	tr, sr := recordingTracer()

	_, span := tr.Start(context.Background(), "noop")
	RecordError(span, nil)
	span.End()

	if got := sr.Ended()[0]; got.Status().Code != codes.Unset {
		t.Fatalf("status = %v, want unset", got.Status())
	}
}

func TestDisabledTracerProducesNoopSpans(t *testing.T) {
	tr, err := NewTracer(TracingConfig{}, "test", "test", "test")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	defer tr.Shutdown(context.Background())

	_, span := tr.StartNegotiationSpan(context.Background(), "demand-1", "proposal-1")
	if span.SpanContext().IsSampled() {
		t.Fatal("disabled tracer must not sample")
	}
	span.End()
}
