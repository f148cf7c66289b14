package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/acsmail/pkg/email"
)

// TransportError reports a request that never produced a usable response:
// connection failures, timeouts, unreadable bodies, or a success status
// whose payload could not be decoded.
type TransportError struct {
	// Op is the client operation that failed, "send" or "poll".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email %s request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError reports a response the service produced deliberately: a
// non-success status code, with the structured error detail when the body
// carried one.
type RemoteError struct {
	StatusCode int
	// Detail is the parsed error body, nil when the response carried none.
	Detail *email.ErrorDetail
	// Body preserves the raw response when no structured detail was parsed.
	Body string
}

func (e *RemoteError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("service returned %d: %s", e.StatusCode, e.Detail)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("service returned %d: %s", e.StatusCode, body)
	}
	return fmt.Sprintf("service returned %d", e.StatusCode)
}

// PollTimeoutError reports a tracked operation that did not reach a terminal
// status within the tracker's bounded lifetime. The operation may still
// complete on the service side; GetSendStatus can observe it later.
type PollTimeoutError struct {
	OperationID string
	Timeout     time.Duration
	LastStatus  email.SendStatus
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("tracking send operation %q timed out after %s (last status %s)", e.OperationID, e.Timeout, e.LastStatus)
}

// OperationFailedError reports a send operation that reached a terminal
// failure status on the service side.
type OperationFailedError struct {
	OperationID string
	Status      email.SendStatus
	// Detail is the service-reported failure cause, when present.
	Detail *email.ErrorDetail
}

func (e *OperationFailedError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("send operation %q ended %s: %s", e.OperationID, e.Status, e.Detail)
	}
	return fmt.Sprintf("send operation %q ended %s", e.OperationID, e.Status)
}
