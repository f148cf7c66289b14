package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(provider)

	return spanRecorder
}

func TestStartEmailSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []EmailSpanOption
		expectedName  string
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "send without options",
			operation:    SpanOperationSend,
			opts:         nil,
			expectedName: "EMAIL email.send",
			expectedAttrs: map[string]interface{}{
				"email.operation": "email.send",
			},
		},
		{
			name:      "send with endpoint and payload attributes",
			operation: SpanOperationSend,
			opts: []EmailSpanOption{
				WithEndpointHost("contoso.communication.azure.com"),
				WithRecipientCount(3),
				WithAttachmentCount(1),
				WithPayloadSize(2048),
			},
			expectedName: "EMAIL email.send contoso.communication.azure.com",
			expectedAttrs: map[string]interface{}{
				"email.operation":          "email.send",
				"email.endpoint":           "contoso.communication.azure.com",
				"email.recipient_count":    int64(3),
				"email.attachment_count":   int64(1),
				"email.payload_size_bytes": int64(2048),
			},
		},
		{
			name:      "poll with operation id and attempt",
			operation: SpanOperationPoll,
			opts: []EmailSpanOption{
				WithOperationID("op-123"),
				WithPollAttempt(4),
			},
			expectedName: "EMAIL email.poll",
			expectedAttrs: map[string]interface{}{
				"email.operation":    "email.poll",
				"email.operation_id": "op-123",
				"email.poll_attempt": int64(4),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder = setupTestTracer(t)

			_, span := StartEmailSpan(ctx, tt.operation, tt.opts...)
			if span == nil {
				t.Fatal("expected span to be non-nil")
			}
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}

			recordedSpan := spans[0]
			if recordedSpan.Name() != tt.expectedName {
				t.Errorf("expected span name %q, got %q", tt.expectedName, recordedSpan.Name())
			}

			attrs := recordedSpan.Attributes()
			for key, expectedValue := range tt.expectedAttrs {
				found := false
				for _, attr := range attrs {
					if string(attr.Key) == key {
						found = true
						if attr.Value.AsInterface() != expectedValue {
							t.Errorf("expected attribute %s=%v, got %v", key, expectedValue, attr.Value.AsInterface())
						}
						break
					}
				}
				if !found {
					t.Errorf("expected attribute %s not found", key)
				}
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartEmailSpan(context.Background(), SpanOperationPoll)
	RecordError(span, errors.New("poll failed"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected error event to be recorded")
	}
}

func TestRecordError_NilIsIgnored(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartEmailSpan(context.Background(), SpanOperationSend)
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("nil error must not mark the span failed")
	}
}

func TestRecordSuccess(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := StartEmailSpan(context.Background(), SpanOperationSend)
	RecordSuccess(span)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected ok status, got %v", spans[0].Status().Code)
	}
}
