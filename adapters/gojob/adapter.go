package gojob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhook-guard/core"
)

const (
	JobIDRetryAttempt      = "webhooks.retry.attempt"
	ScriptPathRetryAttempt = "webhooks.retry.attempt"
	DedupPolicyDrop        = "drop"
)

const (
	paramChainID     = "chain_id"
	paramProvider    = "provider"
	paramPayload     = "payload_b64"
	paramContentType = "content_type"
	paramSignature   = "signature"
	paramEvent       = "event"
	paramAttempt     = "attempt"
	paramMetadata    = "metadata"
	paramRunAt       = "run_at"
)

// RetryPolicy bounds how often a delivery is requeued when the attempt
// could not run at all (storage down, runner misconfigured). Verification
// failures are never requeued here; the retry chain schedules its own next
// attempt.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	BaseDelay       time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// TaskToMessage encodes a retry task as a go-job execution message. The raw
// payload travels base64 encoded so signatures still verify after a JSON
// round trip through the queue backend.
func TaskToMessage(task core.RetryTask) *job.ExecutionMessage {
	params := map[string]any{
		paramChainID:     strings.TrimSpace(task.ChainID),
		paramProvider:    core.NormalizeProvider(task.Provider),
		paramPayload:     base64.StdEncoding.EncodeToString(task.Payload),
		paramContentType: task.ContentType,
		paramSignature:   task.Signature,
		paramEvent:       task.Event,
		paramAttempt:     task.Attempt,
		paramMetadata:    copyAnyMap(task.Metadata),
	}
	if !task.RunAt.IsZero() {
		params[paramRunAt] = task.RunAt.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDRetryAttempt,
		ScriptPath:     ScriptPathRetryAttempt,
		Parameters:     params,
		IdempotencyKey: IdempotencyKey(task),
		DedupPolicy:    job.DeduplicationPolicy(DedupPolicyDrop),
	}
}

// MessageToTask decodes a message produced by TaskToMessage.
func MessageToTask(msg *job.ExecutionMessage) (core.RetryTask, error) {
	if msg == nil {
		return core.RetryTask{}, fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRetryAttempt {
		return core.RetryTask{}, fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	params := msg.Parameters
	payload, err := base64.StdEncoding.DecodeString(stringParam(params, paramPayload))
	if err != nil {
		return core.RetryTask{}, fmt.Errorf("gojob: decode payload: %w", err)
	}
	attempt, err := intParam(params, paramAttempt)
	if err != nil {
		return core.RetryTask{}, err
	}
	task := core.RetryTask{
		ChainID:     stringParam(params, paramChainID),
		Provider:    stringParam(params, paramProvider),
		Payload:     payload,
		ContentType: stringParam(params, paramContentType),
		Signature:   stringParam(params, paramSignature),
		Event:       stringParam(params, paramEvent),
		Attempt:     attempt,
	}
	if metadata, ok := params[paramMetadata].(map[string]any); ok {
		task.Metadata = copyAnyMap(metadata)
	}
	if raw := stringParam(params, paramRunAt); raw != "" {
		runAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return core.RetryTask{}, fmt.Errorf("gojob: decode run_at: %w", err)
		}
		task.RunAt = runAt.UTC()
	}
	if task.ChainID == "" || task.Provider == "" {
		return core.RetryTask{}, fmt.Errorf("gojob: chain id and provider are required")
	}
	return task, nil
}

func IdempotencyKey(task core.RetryTask) string {
	return fmt.Sprintf("%s:%s:%d", JobIDRetryAttempt, strings.TrimSpace(task.ChainID), task.Attempt)
}

// Scheduler implements core.Scheduler on top of a go-job queue. The run
// time is carried in the message; RetryWorker defers early deliveries.
type Scheduler struct {
	enqueuer queue.Enqueuer
	now      func() time.Time
}

func NewScheduler(enqueuer queue.Enqueuer) *Scheduler {
	return &Scheduler{enqueuer: enqueuer, now: time.Now}
}

func (s *Scheduler) Schedule(ctx context.Context, delay time.Duration, task core.RetryTask) error {
	if s == nil || s.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if delay < 0 {
		delay = 0
	}
	if task.RunAt.IsZero() {
		task.RunAt = s.now().UTC().Add(delay)
	}
	return s.enqueuer.Enqueue(ctx, TaskToMessage(task))
}

// RetryWorker drains retry deliveries and hands them to a core.RetryRunner.
type RetryWorker struct {
	dequeuer queue.Dequeuer
	runner   core.RetryRunner
	policy   RetryPolicy
	hook     worker.Hook
	logger   core.Logger
	now      func() time.Time
	idle     time.Duration

	mu       sync.Mutex
	failures map[string]int
}

type WorkerOption func(*RetryWorker)

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *RetryWorker) {
		w.hook = hook
	}
}

func WithLogger(logger core.Logger) WorkerOption {
	return func(w *RetryWorker) {
		w.logger = glog.Ensure(logger)
	}
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *RetryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithIdleWait sets how long Run waits after an empty dequeue.
func WithIdleWait(idle time.Duration) WorkerOption {
	return func(w *RetryWorker) {
		if idle > 0 {
			w.idle = idle
		}
	}
}

func NewRetryWorker(dequeuer queue.Dequeuer, runner core.RetryRunner, policy RetryPolicy, opts ...WorkerOption) (*RetryWorker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("gojob: retry runner is required")
	}
	w := &RetryWorker{
		dequeuer: dequeuer,
		runner:   runner,
		policy:   policy,
		logger:   glog.Nop(),
		now:      time.Now,
		idle:     500 * time.Millisecond,
		failures: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// ProcessNext handles at most one delivery. It reports false when the queue
// had nothing to hand out.
func (w *RetryWorker) ProcessNext(ctx context.Context) (bool, error) {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	task, err := MessageToTask(msg)
	if err != nil {
		return true, delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	now := w.now().UTC()
	if !task.RunAt.IsZero() && task.RunAt.After(now) {
		return true, delivery.Nack(ctx, queue.NackOptions{
			Delay:   task.RunAt.Sub(now),
			Requeue: true,
			Reason:  "not due",
		})
	}

	event := worker.Event{
		Message:   msg,
		Delivery:  delivery,
		Attempt:   task.Attempt,
		StartedAt: now,
	}
	w.onStart(ctx, event)

	_, runErr := w.runner.RunScheduledAttempt(ctx, task)
	event.Duration = w.now().UTC().Sub(now)
	event.Err = runErr

	if runErr == nil || settled(runErr) {
		w.forget(msg.IdempotencyKey)
		if runErr == nil {
			w.onSuccess(ctx, event)
		} else {
			w.onFailure(ctx, event)
		}
		return true, delivery.Ack(ctx)
	}

	failures := w.recordFailure(msg.IdempotencyKey)
	opts := w.policy.NormalizeAttempt(queue.NackOptions{
		Delay:   w.policy.backoff(failures),
		Requeue: true,
		Reason:  core.ErrorMessage(runErr),
	}, failures)
	event.Delay = opts.Delay
	if opts.Requeue {
		w.onRetry(ctx, event)
	} else {
		w.forget(msg.IdempotencyKey)
		w.onFailure(ctx, event)
	}
	return true, delivery.Nack(ctx, opts)
}

// Run processes deliveries until ctx is cancelled.
func (w *RetryWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		handled, err := w.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			w.logger.Error("webhook retry worker dequeue failed", "error", err.Error())
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.idle):
		}
	}
}

// settled reports attempt outcomes the retry chain already owns: recorded
// verification failures, exhausted chains and bad input.
func settled(err error) bool {
	var exhausted *core.RetriesExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}
	if core.IsLoggedFailure(err) || core.IsConfigurationError(err) {
		return true
	}
	return core.IsKind(err, core.WebhookErrorBadInput)
}

func (w *RetryWorker) recordFailure(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures[key]++
	return w.failures[key]
}

func (w *RetryWorker) forget(key string) {
	w.mu.Lock()
	delete(w.failures, key)
	w.mu.Unlock()
}

func (w *RetryWorker) onStart(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *RetryWorker) onSuccess(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *RetryWorker) onFailure(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *RetryWorker) onRetry(ctx context.Context, event worker.Event) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}

// ObservabilityHook logs worker lifecycle events and records
// webhooks.retry_worker.* metrics.
type ObservabilityHook struct {
	logger  core.Logger
	metrics core.MetricsRecorder
}

func NewObservabilityHook(logger core.Logger, metrics core.MetricsRecorder) *ObservabilityHook {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &ObservabilityHook{logger: glog.Ensure(logger), metrics: metrics}
}

func (h *ObservabilityHook) OnStart(ctx context.Context, event worker.Event) {
	h.metrics.IncCounter(ctx, "webhooks.retry_worker.started", 1, eventTags(event))
}

func (h *ObservabilityHook) OnSuccess(ctx context.Context, event worker.Event) {
	tags := eventTags(event)
	h.metrics.IncCounter(ctx, "webhooks.retry_worker.succeeded", 1, tags)
	h.metrics.ObserveHistogram(ctx, "webhooks.retry_worker.duration_ms", float64(event.Duration.Milliseconds()), tags)
	h.logger.Info("webhook retry attempt succeeded", eventFields(event)...)
}

func (h *ObservabilityHook) OnFailure(ctx context.Context, event worker.Event) {
	tags := eventTags(event)
	h.metrics.IncCounter(ctx, "webhooks.retry_worker.failed", 1, tags)
	h.metrics.ObserveHistogram(ctx, "webhooks.retry_worker.duration_ms", float64(event.Duration.Milliseconds()), tags)
	h.logger.Warn("webhook retry attempt failed", eventFields(event)...)
}

func (h *ObservabilityHook) OnRetry(ctx context.Context, event worker.Event) {
	h.metrics.IncCounter(ctx, "webhooks.retry_worker.requeued", 1, eventTags(event))
	h.logger.Warn("webhook retry attempt requeued", eventFields(event)...)
}

func eventMessage(event worker.Event) *job.ExecutionMessage {
	if event.Message != nil {
		return event.Message
	}
	if event.Delivery != nil {
		return event.Delivery.Message()
	}
	return nil
}

func eventTags(event worker.Event) map[string]string {
	tags := map[string]string{"attempt": strconv.Itoa(event.Attempt)}
	if msg := eventMessage(event); msg != nil {
		tags["provider"] = stringParam(msg.Parameters, paramProvider)
	}
	return tags
}

func eventFields(event worker.Event) []any {
	fields := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	if msg := eventMessage(event); msg != nil {
		fields = append(fields,
			"chain_id", stringParam(msg.Parameters, paramChainID),
			"provider", stringParam(msg.Parameters, paramProvider),
			"idempotency_key", msg.IdempotencyKey,
		)
	}
	if event.Delay > 0 {
		fields = append(fields, "delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		fields = append(fields, "error", event.Err.Error())
	}
	return fields
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(params map[string]any, key string) (int, error) {
	switch value := params[key].(type) {
	case int:
		return value, nil
	case int64:
		return int(value), nil
	case float64:
		return int(value), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("gojob: invalid %s: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("gojob: %s is required", key)
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.Scheduler = (*Scheduler)(nil)
	_ worker.Hook    = (*ObservabilityHook)(nil)
)
