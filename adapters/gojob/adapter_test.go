package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-webhook-guard/core"
)

func sampleTask() core.RetryTask {
	return core.RetryTask{
		ChainID:     "chain-1",
		Provider:    "GitHub",
		Payload:     []byte("{\"zen\":\"keep it logically awesome\"}\n"),
		ContentType: "application/json",
		Signature:   "sha256=abc",
		Event:       "ping",
		Attempt:     1,
		Metadata:    map[string]any{"delivery_id": "d-1"},
	}
}

func TestTaskMessageRoundTrip(t *testing.T) {
	task := sampleTask()
	task.RunAt = time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

	msg := TaskToMessage(task)
	if msg.JobID != JobIDRetryAttempt || msg.ScriptPath != ScriptPathRetryAttempt {
		t.Fatalf("unexpected job identity: %q %q", msg.JobID, msg.ScriptPath)
	}
	if msg.IdempotencyKey != "webhooks.retry.attempt:chain-1:1" {
		t.Fatalf("unexpected idempotency key %q", msg.IdempotencyKey)
	}
	if string(msg.DedupPolicy) != DedupPolicyDrop {
		t.Fatalf("expected drop dedup policy, got %q", msg.DedupPolicy)
	}

	decoded, err := MessageToTask(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded.Payload) != string(task.Payload) {
		t.Fatalf("expected raw payload bytes to survive, got %q", decoded.Payload)
	}
	if decoded.Provider != "github" || decoded.Signature != task.Signature || decoded.Attempt != 1 {
		t.Fatalf("unexpected decoded task: %#v", decoded)
	}
	if !decoded.RunAt.Equal(task.RunAt) {
		t.Fatalf("expected run_at %s, got %s", task.RunAt, decoded.RunAt)
	}
	if decoded.Metadata["delivery_id"] != "d-1" {
		t.Fatalf("expected metadata mapping, got %#v", decoded.Metadata)
	}
}

func TestMessageToTask_AcceptsJSONNumbers(t *testing.T) {
	msg := TaskToMessage(sampleTask())
	msg.Parameters[paramAttempt] = float64(2)
	decoded, err := MessageToTask(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", decoded.Attempt)
	}

	if _, err := MessageToTask(&job.ExecutionMessage{JobID: "other.job"}); err == nil {
		t.Fatalf("expected foreign job id to be rejected")
	}
	delete(msg.Parameters, paramAttempt)
	if _, err := MessageToTask(msg); err == nil {
		t.Fatalf("expected missing attempt to be rejected")
	}
}

func TestScheduler_EnqueuesWithRunAt(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	scheduler := NewScheduler(enqueuer)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scheduler.now = func() time.Time { return now }

	if err := scheduler.Schedule(context.Background(), 5*time.Second, sampleTask()); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(enqueuer.messages) != 1 {
		t.Fatalf("expected one enqueued message")
	}
	task, err := MessageToTask(enqueuer.messages[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !task.RunAt.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("expected run_at now+5s, got %s", task.RunAt)
	}

	if err := (&Scheduler{}).Schedule(context.Background(), 0, sampleTask()); err == nil {
		t.Fatalf("expected unconfigured scheduler to fail")
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	opts := policy.NormalizeAttempt(queue.NackOptions{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if opts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", opts.Delay)
	}
	if !opts.Requeue || opts.Reason != "transient" {
		t.Fatalf("expected requeue before max attempts, got %#v", opts)
	}

	opts = policy.NormalizeAttempt(queue.NackOptions{Delay: time.Second, Requeue: true}, 3)
	if opts.Requeue || !opts.DeadLetter {
		t.Fatalf("expected dead letter at max attempts, got %#v", opts)
	}

	if got := policy.backoff(3); got != 4*time.Second {
		t.Fatalf("expected exponential backoff of 4s, got %s", got)
	}
	if got := policy.backoff(10); got != 10*time.Second {
		t.Fatalf("expected backoff capped at max delay, got %s", got)
	}
}

func TestRetryWorker_RunsDueTaskAndAcks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := sampleTask()
	task.RunAt = now.Add(-time.Second)
	delivery := &stubQueueDelivery{msg: TaskToMessage(task)}
	runner := &stubRunner{}
	hook := &capturingHook{}

	w := newTestWorker(t, delivery, runner, hook, now)
	handled, err := w.ProcessNext(context.Background())
	if err != nil || !handled {
		t.Fatalf("process: handled=%v err=%v", handled, err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack after successful attempt")
	}
	if len(runner.tasks) != 1 || runner.tasks[0].ChainID != "chain-1" {
		t.Fatalf("expected runner invocation, got %#v", runner.tasks)
	}
	if hook.count("start") != 1 || hook.count("success") != 1 {
		t.Fatalf("expected start and success hooks, got %#v", hook.calls)
	}
}

func TestRetryWorker_DefersEarlyDelivery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := sampleTask()
	task.RunAt = now.Add(3 * time.Second)
	delivery := &stubQueueDelivery{msg: TaskToMessage(task)}
	runner := &stubRunner{}

	w := newTestWorker(t, delivery, runner, nil, now)
	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(runner.tasks) != 0 {
		t.Fatalf("expected no attempt before run_at")
	}
	if !delivery.nacked || !delivery.nackOpts.Requeue || delivery.nackOpts.Delay != 3*time.Second {
		t.Fatalf("expected requeue for the remaining delay, got %#v", delivery.nackOpts)
	}
}

func TestRetryWorker_VerificationFailureIsAcked(t *testing.T) {
	delivery := &stubQueueDelivery{msg: TaskToMessage(sampleTask())}
	runner := &stubRunner{err: core.NewSignatureMismatchError("Invalid signature")}
	hook := &capturingHook{}

	w := newTestWorker(t, delivery, runner, hook, time.Now())
	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected recorded failure to be acked, not requeued")
	}
	if hook.count("failure") != 1 {
		t.Fatalf("expected failure hook")
	}
}

func TestRetryWorker_InfrastructureFailureRequeuesUntilBound(t *testing.T) {
	delivery := &stubQueueDelivery{msg: TaskToMessage(sampleTask())}
	runner := &stubRunner{err: core.NewNoAttemptRecordedError(errors.New("db down"))}
	hook := &capturingHook{}

	w := newTestWorker(t, delivery, runner, hook, time.Now())
	w.policy = RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, DeadLetterOnMax: true}
	ctx := context.Background()

	if _, err := w.ProcessNext(ctx); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.nackOpts.Requeue || delivery.nackOpts.Delay != time.Second {
		t.Fatalf("expected first infrastructure failure to requeue, got %#v", delivery.nackOpts)
	}
	if hook.count("retry") != 1 {
		t.Fatalf("expected retry hook")
	}

	if _, err := w.ProcessNext(ctx); err != nil {
		t.Fatalf("process again: %v", err)
	}
	if delivery.nackOpts.Requeue || !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter once the bound is reached, got %#v", delivery.nackOpts)
	}
}

func TestRetryWorker_UndecodableMessageIsDeadLettered(t *testing.T) {
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDRetryAttempt}}
	w := newTestWorker(t, delivery, &stubRunner{}, nil, time.Now())
	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter for undecodable message")
	}
}

func TestObservabilityHook_RecordsMetrics(t *testing.T) {
	metrics := core.NewMemoryMetricsRecorder()
	hook := NewObservabilityHook(nil, metrics)
	event := worker.Event{
		Message:  TaskToMessage(sampleTask()),
		Attempt:  1,
		Duration: 25 * time.Millisecond,
		Err:      errors.New("boom"),
	}
	ctx := context.Background()
	hook.OnStart(ctx, event)
	hook.OnFailure(ctx, event)
	hook.OnRetry(ctx, event)
	hook.OnSuccess(ctx, worker.Event{Delivery: &stubQueueDelivery{msg: event.Message}, Attempt: 2})

	if metrics.Counter("webhooks.retry_worker.started") != 1 ||
		metrics.Counter("webhooks.retry_worker.failed") != 1 ||
		metrics.Counter("webhooks.retry_worker.requeued") != 1 ||
		metrics.Counter("webhooks.retry_worker.succeeded") != 1 {
		t.Fatalf("unexpected counters")
	}
	if metrics.Observations("webhooks.retry_worker.duration_ms") != 2 {
		t.Fatalf("expected duration observations for terminal events")
	}
	if tags := eventTags(worker.Event{Delivery: &stubQueueDelivery{msg: event.Message}}); tags["provider"] != "github" {
		t.Fatalf("expected provider tag from delivery message, got %#v", tags)
	}
}

func newTestWorker(t *testing.T, delivery *stubQueueDelivery, runner *stubRunner, hook worker.Hook, now time.Time) *RetryWorker {
	t.Helper()
	opts := []WorkerOption{WithClock(func() time.Time { return now })}
	if hook != nil {
		opts = append(opts, WithHook(hook))
	}
	w, err := NewRetryWorker(&stubQueueDequeuer{delivery: delivery}, runner, RetryPolicy{}, opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

type stubQueueEnqueuer struct {
	messages []*job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	s.messages = append(s.messages, msg)
	return nil
}

type stubQueueDequeuer struct {
	delivery queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	return s.delivery, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}

type stubRunner struct {
	err   error
	tasks []core.RetryTask
}

func (r *stubRunner) RunScheduledAttempt(_ context.Context, task core.RetryTask) (core.ValidationResult, error) {
	r.tasks = append(r.tasks, task)
	if r.err != nil {
		return core.ValidationResult{}, r.err
	}
	return core.ValidationResult{Status: core.ValidationStatusValid, Attempts: task.Attempt + 1}, nil
}

type capturingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *capturingHook) record(name string) {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
}

func (h *capturingHook) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, call := range h.calls {
		if call == name {
			total++
		}
	}
	return total
}

func (h *capturingHook) OnStart(context.Context, worker.Event)   { h.record("start") }
func (h *capturingHook) OnSuccess(context.Context, worker.Event) { h.record("success") }
func (h *capturingHook) OnFailure(context.Context, worker.Event) { h.record("failure") }
func (h *capturingHook) OnRetry(context.Context, worker.Event)   { h.record("retry") }
