package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ValidateWithRetries runs the bounded retry loop in the caller goroutine.
// The external id only participates in attempt 0.
func (o *ValidationOrchestrator) ValidateWithRetries(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	retry := o.config.Retry
	if !retry.Enabled {
		return o.singleAttempt(ctx, req)
	}
	if retry.MaxAttempts <= 0 {
		return ValidationResult{}, NewNoAttemptRecordedError(nil)
	}

	var (
		last    ValidationResult
		lastErr error
	)
	for attempt := 0; attempt < retry.MaxAttempts; attempt++ {
		attemptReq := req
		attemptReq.Attempt = attempt
		if attempt > 0 {
			attemptReq.ExternalID = ""
		}
		result, err := o.ValidateAndLog(ctx, attemptReq)
		result.Attempts = attempt + 1
		if err == nil {
			return result, nil
		}
		if !IsLoggedFailure(err) {
			if attempt == 0 && IsConfigurationError(err) {
				return result, NewNoAttemptRecordedError(err)
			}
			return result, err
		}
		last, lastErr = result, err
		if attempt+1 >= retry.MaxAttempts {
			break
		}
		if err := o.sleep(ctx, retry.Delay(attempt)); err != nil {
			return last, err
		}
	}
	if last.ExternalID == "" {
		last.ExternalID = strings.TrimSpace(req.ExternalID)
	}
	o.emitExhausted(ctx, req, retry.MaxAttempts, lastErr)
	return last, &RetriesExhaustedError{Attempts: retry.MaxAttempts, Last: lastErr}
}

// ScheduleWithRetries runs attempt 0 inline and hands the remaining attempts
// to the Scheduler one at a time. The boolean reports whether a follow-up
// attempt was scheduled. Without a scheduler it falls back to the
// synchronous loop.
func (o *ValidationOrchestrator) ScheduleWithRetries(ctx context.Context, req ValidationRequest) (ValidationResult, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	retry := o.config.Retry
	if !retry.Enabled {
		result, err := o.singleAttempt(ctx, req)
		return result, false, err
	}
	if retry.MaxAttempts <= 0 {
		return ValidationResult{}, false, NewNoAttemptRecordedError(nil)
	}
	if o.scheduler == nil {
		o.instr.logWarn(ctx, "retry scheduler not configured, retrying synchronously", map[string]any{
			"provider": normalizeProvider(req.Provider),
		})
		result, err := o.ValidateWithRetries(ctx, req)
		return result, false, err
	}

	first := req
	first.Attempt = 0
	result, err := o.ValidateAndLog(ctx, first)
	result.Attempts = 1
	if err == nil {
		return result, false, nil
	}
	if !IsLoggedFailure(err) {
		if IsConfigurationError(err) {
			return result, false, NewNoAttemptRecordedError(err)
		}
		return result, false, err
	}
	if retry.MaxAttempts == 1 {
		o.emitExhausted(ctx, req, 1, err)
		return result, false, &RetriesExhaustedError{Attempts: 1, Last: err}
	}

	task := RetryTask{
		ChainID:     uuid.NewString(),
		Provider:    normalizeProvider(req.Provider),
		Payload:     append([]byte(nil), req.Payload...),
		ContentType: req.ContentType,
		Signature:   req.Signature,
		Event:       eventOrUnknown(req.Event),
		Attempt:     1,
		Metadata:    cloneAnyMap(req.Metadata),
	}
	if scheduleErr := o.scheduleNext(ctx, task, retry.Delay(0)); scheduleErr != nil {
		return result, false, scheduleErr
	}
	return result, true, err
}

// RunScheduledAttempt executes one deferred attempt and schedules the next
// one while attempts remain. Returns RetriesExhaustedError after the final
// attempt fails. Running the same task twice records one entry and schedules
// one follow-up.
func (o *ValidationOrchestrator) RunScheduledAttempt(ctx context.Context, task RetryTask) (ValidationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	retry := o.config.Retry
	if task.Attempt <= 0 || task.Attempt >= retry.MaxAttempts {
		return ValidationResult{}, goerrors.New(
			fmt.Sprintf("retry attempt %d outside configured range", task.Attempt),
			goerrors.CategoryBadInput,
		).WithCode(http.StatusBadRequest).WithTextCode(WebhookErrorBadInput)
	}

	req := task.Request()
	req.ExternalID = ""
	result, err := o.ValidateAndLog(ctx, req)
	result.Attempts = task.Attempt + 1
	if err == nil || !IsLoggedFailure(err) {
		// A redelivered task finds its attempt key taken and stops here,
		// so the chain is never forked.
		return result, err
	}

	if task.Attempt+1 < retry.MaxAttempts {
		next := task
		next.Attempt = task.Attempt + 1
		next.Metadata = cloneAnyMap(task.Metadata)
		if scheduleErr := o.scheduleNext(ctx, next, retry.Delay(task.Attempt)); scheduleErr != nil {
			return result, scheduleErr
		}
		return result, err
	}
	o.emitExhausted(ctx, req, retry.MaxAttempts, err)
	return result, &RetriesExhaustedError{Attempts: retry.MaxAttempts, Last: err}
}

func (o *ValidationOrchestrator) singleAttempt(ctx context.Context, req ValidationRequest) (ValidationResult, error) {
	req.Attempt = 0
	result, err := o.ValidateAndLog(ctx, req)
	result.Attempts = 1
	if err != nil && IsConfigurationError(err) {
		return result, NewNoAttemptRecordedError(err)
	}
	return result, err
}

func (o *ValidationOrchestrator) scheduleNext(ctx context.Context, task RetryTask, delay time.Duration) error {
	task.RunAt = o.now().UTC().Add(delay)
	if err := o.scheduler.Schedule(ctx, delay, task); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to schedule webhook retry").
			WithCode(http.StatusInternalServerError).
			WithTextCode(WebhookErrorInternal)
	}
	o.emit(ctx, Event{
		Name:     EventRetryScheduled,
		Provider: task.Provider,
		Event:    task.Event,
		Attempt:  task.Attempt,
		Metadata: map[string]any{
			"chain_id": task.ChainID,
			"run_at":   task.RunAt,
			"delay_ms": delay.Milliseconds(),
		},
	})
	return nil
}

func (o *ValidationOrchestrator) emitExhausted(ctx context.Context, req ValidationRequest, attempts int, last error) {
	o.emit(ctx, Event{
		Name:     EventRetriesExhausted,
		Provider: normalizeProvider(req.Provider),
		Event:    eventOrUnknown(req.Event),
		Attempt:  attempts - 1,
		Error:    ErrorMessage(last),
		Metadata: map[string]any{"attempts": attempts},
	})
}

func eventOrUnknown(event string) string {
	if event = strings.TrimSpace(event); event == "" {
		return unknownEvent
	}
	return event
}
