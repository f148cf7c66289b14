package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation names a traced client operation.
type SpanOperation string

const (
	// SpanOperationSend covers one email send submission.
	SpanOperationSend SpanOperation = "email.send"
	// SpanOperationPoll covers one send status poll attempt.
	SpanOperationPoll SpanOperation = "email.poll"
)

// StartEmailSpan creates a span for an email client operation. All spans
// are client-kind; the endpoint host, when provided, becomes part of the
// span name.
func StartEmailSpan(ctx context.Context, operation SpanOperation, opts ...EmailSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("email")

	spanOpts := &emailSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("email.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("EMAIL %s", operation)
	if spanOpts.endpoint != "" {
		spanName = fmt.Sprintf("EMAIL %s %s", operation, spanOpts.endpoint)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// EmailSpanOption configures an email client span.
type EmailSpanOption func(*emailSpanOptions)

type emailSpanOptions struct {
	endpoint   string
	attributes []attribute.KeyValue
}

// WithEndpointHost sets the service host the request targets.
func WithEndpointHost(host string) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.endpoint = host
		opts.attributes = append(opts.attributes, attribute.String("email.endpoint", host))
	}
}

// WithOperationID sets the long-running operation identifier.
func WithOperationID(operationID string) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("email.operation_id", operationID))
	}
}

// WithPollAttempt sets the 1-based poll attempt number.
func WithPollAttempt(attempt int) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("email.poll_attempt", attempt))
	}
}

// WithRecipientCount sets the total recipient count of the message.
func WithRecipientCount(count int) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("email.recipient_count", count))
	}
}

// WithAttachmentCount sets the attachment count of the message.
func WithAttachmentCount(count int) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("email.attachment_count", count))
	}
}

// WithPayloadSize sets the serialized request payload size in bytes.
func WithPayloadSize(size int) EmailSpanOption {
	return func(opts *emailSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("email.payload_size_bytes", size))
	}
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
