package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/acsmail/pkg/email"
	"github.com/nimburion/acsmail/pkg/observability/logger"
)

// SendResult is the handle for one accepted submission. It reports the most
// recently observed status while tracking runs, and resolves exactly once
// with the operation's outcome: terminal status, poll failure, tracking
// timeout, or cancellation.
type SendResult struct {
	operationID string
	requestID   string
	cancel      context.CancelFunc

	mu         sync.RWMutex
	lastStatus email.SendStatus

	once  sync.Once
	done  chan struct{}
	final *email.SendResponse
	err   error
}

// OperationID returns the service-assigned operation identifier.
func (r *SendResult) OperationID() string {
	return r.operationID
}

// RequestID returns the client request id sent with the submission.
func (r *SendResult) RequestID() string {
	return r.requestID
}

// Status returns the most recently observed operation status.
func (r *SendResult) Status() email.SendStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStatus
}

// Done returns a channel that is closed once the outcome is resolved.
func (r *SendResult) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the outcome resolves or ctx is done. On resolution it
// returns the final status report; a terminal failure carries the report
// alongside an *OperationFailedError.
func (r *SendResult) Wait(ctx context.Context) (*email.SendResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.final, r.err
	}
}

// Cancel stops tracking the operation. The outcome resolves with an error
// wrapping context.Canceled unless a terminal resolution already happened.
// Canceling does not affect the operation on the service side.
func (r *SendResult) Cancel() {
	r.cancel()
}

func (r *SendResult) setStatus(status email.SendStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStatus = status
}

func (r *SendResult) resolve(final *email.SendResponse, err error) {
	r.once.Do(func() {
		r.final = final
		r.err = err
		close(r.done)
	})
}

type tracker struct {
	client      *Client
	cfg         PollConfig
	operationID string
	pollURL     string
	initial     *email.SendResponse
	observer    StatusObserver
	log         logger.Logger
	result      *SendResult
}

// track starts the background poll loop for an accepted submission. The
// loop runs on its own context so that the caller's request context, which
// commonly carries a deadline scoped to the dispatch, does not truncate
// tracking; PollConfig.Timeout bounds the loop instead.
func (c *Client) track(ack *email.SendResponse, pollURL, requestID string, observer StatusObserver) *SendResult {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Poll.Timeout)
	result := &SendResult{
		operationID: ack.ID,
		requestID:   requestID,
		cancel:      cancel,
		lastStatus:  ack.Status,
		done:        make(chan struct{}),
	}
	t := &tracker{
		client:      c,
		cfg:         c.cfg.Poll,
		operationID: ack.ID,
		pollURL:     pollURL,
		initial:     ack,
		observer:    observer,
		log:         c.log.With("operation_id", ack.ID, "request_id", requestID),
		result:      result,
	}
	incrementOperationsTracked()
	go t.run(ctx)
	return result
}

func (t *tracker) run(ctx context.Context) {
	defer decrementOperationsTracked()
	defer t.result.cancel()

	// A submission ack can already be terminal; no polling then.
	if t.initial.Status.Terminal() {
		t.notify(t.initial)
		t.resolveTerminal(t.initial)
		return
	}

	attempt := 0
	for {
		report, retryAfter, err := t.client.pollStatus(ctx, t.pollURL, t.operationID, attempt+1)
		attempt++
		if err != nil {
			if ctx.Err() != nil {
				t.resolveFromContext(ctx)
				return
			}
			// A failed poll is an unrecoverable tracking error: the
			// observer hears Unknown once and the outcome resolves with
			// the failure itself.
			recordPollAttempt("error")
			t.resolveFailure(attempt, err)
			return
		}

		recordPollAttempt(strings.ToLower(report.Status.String()))
		t.result.setStatus(report.Status)
		t.notify(report)
		if report.Status.Terminal() {
			t.resolveTerminal(report)
			return
		}
		t.log.Debug("send status polled", "attempt", attempt, "status", report.Status.String())

		delay := exponentialBackoff(attempt, t.cfg.InitialInterval, t.cfg.MaxInterval)
		if retryAfter > 0 {
			// Service backpressure wins over the local schedule.
			delay = retryAfter
			if delay > t.cfg.MaxInterval {
				delay = t.cfg.MaxInterval
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.resolveFromContext(ctx)
			return
		case <-timer.C:
		}
	}
}

func (t *tracker) notify(report *email.SendResponse) {
	if t.observer == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error("status observer panicked", "panic", fmt.Sprintf("%v", rec))
		}
	}()
	t.observer(report)
}

func (t *tracker) resolveTerminal(report *email.SendResponse) {
	t.result.setStatus(report.Status)
	switch report.Status {
	case email.StatusSucceeded:
		recordOperationCompleted("succeeded")
		t.log.Info("send operation succeeded")
		t.result.resolve(report, nil)
	default:
		recordOperationCompleted(strings.ToLower(report.Status.String()))
		t.log.Warn("send operation did not succeed", "status", report.Status.String(), "error", report.Error)
		t.result.resolve(report, &OperationFailedError{
			OperationID: t.operationID,
			Status:      report.Status,
			Detail:      report.Error,
		})
	}
}

// resolveFailure folds a failed poll into the final outcome: one observer
// callback with status Unknown carrying whatever provider detail the
// failure had, then resolution with the error.
func (t *tracker) resolveFailure(attempt int, err error) {
	report := &email.SendResponse{
		ID:     t.operationID,
		Status: email.StatusUnknown,
		Error:  detailFromError(err),
	}
	t.result.setStatus(email.StatusUnknown)
	t.notify(report)
	recordOperationCompleted("error")
	t.log.Warn("send status poll failed", "attempt", attempt, "error", err)
	t.result.resolve(report, err)
}

// detailFromError surfaces the provider detail of a rejected poll response.
func detailFromError(err error) *email.ErrorDetail {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Detail
	}
	return nil
}

func (t *tracker) resolveFromContext(ctx context.Context) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		recordOperationCompleted("timeout")
		t.log.Warn("send status tracking timed out", "last_status", t.result.Status().String())
		t.result.resolve(nil, &PollTimeoutError{
			OperationID: t.operationID,
			Timeout:     t.cfg.Timeout,
			LastStatus:  t.result.Status(),
		})
		return
	}
	recordOperationCompleted("stopped")
	t.log.Info("send status tracking stopped")
	t.result.resolve(nil, fmt.Errorf("send status tracking stopped: %w", context.Canceled))
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = DefaultPollInitialInterval
	}
	if max <= 0 {
		max = DefaultPollMaxInterval
	}
	if attempt <= 0 {
		return initial
	}

	backoff := initial
	for idx := 1; idx < attempt; idx++ {
		if backoff >= max/2 {
			return max
		}
		backoff *= 2
	}
	if backoff > max {
		return max
	}
	return backoff
}
