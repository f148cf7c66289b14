// Package client implements the Communication Services email client:
// exactly-once submission of signed send requests and tracking of the
// long-running operations they start.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nimburion/acsmail/pkg/auth"
	"github.com/nimburion/acsmail/pkg/email"
	"github.com/nimburion/acsmail/pkg/observability/logger"
	"github.com/nimburion/acsmail/pkg/observability/tracing"
	"github.com/nimburion/acsmail/pkg/resilience"
	"github.com/nimburion/acsmail/pkg/version"
)

const (
	// DefaultAPIVersion is the service API version requested when the
	// configuration does not pin one.
	DefaultAPIVersion = "2023-03-31"
	// DefaultOperationTimeout bounds a single HTTP attempt, submit or poll.
	DefaultOperationTimeout = 30 * time.Second

	DefaultPollInitialInterval = 2 * time.Second
	DefaultPollMaxInterval     = 30 * time.Second
	// DefaultPollTimeout bounds the whole tracking lifetime of one
	// operation. A tracker never outlives it.
	DefaultPollTimeout = 5 * time.Minute

	serviceName = "acsmail"

	sendPath            = "/emails:send"
	operationPathPrefix = "/emails/operations/"

	headerRequestID         = "x-ms-client-request-id"
	headerOperationLocation = "Operation-Location"
	headerRetryAfter        = "Retry-After"
)

// PollConfig controls the status poll loop of tracked operations. Poll
// intervals start at InitialInterval and double up to MaxInterval; a
// Retry-After response header overrides the local schedule.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout bounds the tracking lifetime. When it elapses before the
	// operation reaches a terminal status, the result resolves with a
	// PollTimeoutError.
	Timeout time.Duration
}

func (c *PollConfig) normalize() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultPollInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultPollMaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
}

// Config configures the email client.
type Config struct {
	// Endpoint is the communication resource endpoint, e.g.
	// "https://contoso.communication.azure.com".
	Endpoint string
	// Credential selects the authentication scheme: shared key or service
	// principal.
	Credential auth.Credential
	// APIVersion overrides the service API version.
	APIVersion string
	// OperationTimeout bounds a single HTTP attempt.
	OperationTimeout time.Duration
	HTTPClient       *http.Client

	// RequestsPerSecond enables an optional client-side submission rate
	// limit. Zero disables limiting; status polls are never limited.
	RequestsPerSecond float64
	// RequestBurst is the burst size of the submission limiter.
	RequestBurst int

	Poll PollConfig
}

// Client submits email send requests and tracks the operations they start.
// A Client is safe for concurrent use.
type Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	signer     auth.Signer
	limiter    *rate.Limiter
	userAgent  string
	log        logger.Logger
}

// New creates an email client.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Credential == nil {
		return nil, fmt.Errorf("credential is required")
	}
	endpoint, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme must be http or https")
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint host is required")
	}
	cfg.Endpoint = endpoint.String()
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	cfg.Poll.normalize()
	if log == nil {
		log = logger.NewNoop()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: defaultHTTPClient(cfg.HTTPClient, cfg.OperationTimeout),
		signer:     cfg.Credential.Signer(),
		limiter:    limiter,
		userAgent:  version.Current(serviceName).UserAgent(),
		log:        log,
	}, nil
}

// NewFromConnectionString creates a client with default settings from an
// "endpoint=<url>;accesskey=<base64>" connection string.
func NewFromConnectionString(connectionString string, log logger.Logger) (*Client, error) {
	endpoint, credential, err := auth.ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	return New(Config{Endpoint: endpoint, Credential: credential}, log)
}

// StatusObserver receives every status report observed while tracking a
// send operation: one per poll, ending with the terminal status or, when a
// poll fails, a single Unknown report carrying the failure's detail.
// Callbacks run serially on the tracker goroutine; a slow observer delays
// the next poll, it never causes reordering.
type StatusObserver func(report *email.SendResponse)

// SendOption customizes a single submission.
type SendOption func(*sendOptions)

type sendOptions struct {
	observer StatusObserver
}

// WithStatusObserver registers a callback invoked after each successful
// status poll of the tracked operation.
func WithStatusObserver(observer StatusObserver) SendOption {
	return func(opts *sendOptions) {
		opts.observer = observer
	}
}

// Send validates and submits a message, then starts tracking the resulting
// operation in the background. The submission happens exactly once: the
// client never retries it, and a transport failure after the request left
// the process surfaces as a *TransportError even though the service may
// have accepted the message.
//
// The returned SendResult resolves when the operation reaches a terminal
// status, a status poll fails, tracking times out, or Cancel is called.
func (c *Client) Send(ctx context.Context, msg *email.Message, opts ...SendOption) (*SendResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is required")
	}
	options := &sendOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}

	requestID := uuid.NewString()
	ctx = logger.ContextWithRequestID(ctx, requestID)
	log := c.log.WithContext(ctx)

	recipients := len(msg.Recipients.To) + len(msg.Recipients.Cc) + len(msg.Recipients.Bcc)
	sctx, span := tracing.StartEmailSpan(ctx, tracing.SpanOperationSend,
		tracing.WithEndpointHost(c.endpoint.Host),
		tracing.WithRecipientCount(recipients),
		tracing.WithAttachmentCount(len(msg.Attachments)),
		tracing.WithPayloadSize(len(body)),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.Wait(sctx); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}

	start := time.Now()
	ack, pollURL, err := c.submit(sctx, body, requestID)
	elapsed := time.Since(start)
	if err != nil {
		tracing.RecordError(span, err)
		recordSendRequest(sendOutcome(err), elapsed)
		log.Error("email send failed", "error", err)
		return nil, err
	}
	recordSendRequest("accepted", elapsed)
	tracing.RecordSuccess(span)
	log.Info("email send accepted",
		"operation_id", ack.ID,
		"status", ack.Status.String(),
		"recipients", recipients,
		"attachments", len(msg.Attachments),
	)

	return c.track(ack, pollURL, requestID, options.observer), nil
}

func (c *Client) submit(ctx context.Context, body []byte, requestID string) (*email.SendResponse, string, error) {
	sendURL := c.cfg.Endpoint + sendPath + "?api-version=" + url.QueryEscape(c.cfg.APIVersion)

	var ack email.SendResponse
	var pollURL string
	err := resilience.WithTimeout(ctx, c.cfg.OperationTimeout, func(rctx context.Context) error {
		req, err := http.NewRequestWithContext(rctx, http.MethodPost, sendURL, bytes.NewReader(body))
		if err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerRequestID, requestID)
		req.Header.Set("User-Agent", c.userAgent)
		if err := c.signer.Sign(req, body); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Op: "send", Err: err}
		}
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return remoteError(resp.StatusCode, payload)
		}
		if err := json.Unmarshal(payload, &ack); err != nil {
			return &TransportError{Op: "send", Err: fmt.Errorf("decode send response: %w", err)}
		}
		if strings.TrimSpace(ack.ID) == "" {
			return &TransportError{Op: "send", Err: errors.New("send response is missing the operation id")}
		}
		pollURL = c.resolvePollURL(resp.Header.Get(headerOperationLocation), ack.ID)
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			err = &TransportError{Op: "send", Err: err}
		}
		return nil, "", err
	}
	return &ack, pollURL, nil
}

// GetSendStatus fetches the current status of a send operation directly,
// outside any tracker. It is the escape hatch for operations whose tracking
// timed out or whose id was persisted across restarts.
func (c *Client) GetSendStatus(ctx context.Context, operationID string) (*email.SendResponse, error) {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	report, _, err := c.pollStatus(ctx, c.statusURL(operationID), operationID, 0)
	return report, err
}

func (c *Client) pollStatus(ctx context.Context, pollURL, operationID string, attempt int) (*email.SendResponse, time.Duration, error) {
	spanOpts := []tracing.EmailSpanOption{
		tracing.WithEndpointHost(c.endpoint.Host),
		tracing.WithOperationID(operationID),
	}
	if attempt > 0 {
		spanOpts = append(spanOpts, tracing.WithPollAttempt(attempt))
	}
	pctx, span := tracing.StartEmailSpan(ctx, tracing.SpanOperationPoll, spanOpts...)
	defer span.End()

	var report email.SendResponse
	var retryAfter time.Duration
	err := resilience.WithTimeout(pctx, c.cfg.OperationTimeout, func(rctx context.Context) error {
		req, err := http.NewRequestWithContext(rctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return &TransportError{Op: "poll", Err: err}
		}
		req.Header.Set(headerRequestID, uuid.NewString())
		req.Header.Set("User-Agent", c.userAgent)
		if err := c.signer.Sign(req, nil); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &TransportError{Op: "poll", Err: err}
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransportError{Op: "poll", Err: err}
		}
		retryAfter = parseRetryAfter(resp.Header.Get(headerRetryAfter))
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return remoteError(resp.StatusCode, payload)
		}
		if err := json.Unmarshal(payload, &report); err != nil {
			return &TransportError{Op: "poll", Err: fmt.Errorf("decode status response: %w", err)}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			err = &TransportError{Op: "poll", Err: err}
		}
		tracing.RecordError(span, err)
		return nil, retryAfter, err
	}
	tracing.RecordSuccess(span)
	return &report, retryAfter, nil
}

func (c *Client) resolvePollURL(operationLocation, operationID string) string {
	location := strings.TrimSpace(operationLocation)
	if location != "" {
		if parsed, err := url.Parse(location); err == nil && parsed.IsAbs() {
			return parsed.String()
		}
	}
	return c.statusURL(operationID)
}

func (c *Client) statusURL(operationID string) string {
	return c.cfg.Endpoint + operationPathPrefix + url.PathEscape(operationID) + "?api-version=" + url.QueryEscape(c.cfg.APIVersion)
}

func remoteError(statusCode int, payload []byte) *RemoteError {
	var parsed email.ErrorResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Error != nil {
		return &RemoteError{StatusCode: statusCode, Detail: parsed.Error}
	}
	return &RemoteError{StatusCode: statusCode, Body: string(payload)}
}

func sendOutcome(err error) string {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return "rejected"
	}
	var tokenErr *auth.TokenError
	var signingErr *auth.SigningError
	if errors.As(err, &tokenErr) || errors.As(err, &signingErr) {
		return "auth_error"
	}
	return "transport_error"
}

// parseRetryAfter reads a Retry-After value in either delta-seconds or
// HTTP-date form. Zero means absent or unusable.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}

func defaultHTTPClient(base *http.Client, timeout time.Duration) *http.Client {
	if base != nil {
		return base
	}
	return &http.Client{Timeout: timeout}
}
