package webhooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhook-guard/core"
)

type recordingRunner struct {
	mu    sync.Mutex
	tasks []core.RetryTask
	done  chan struct{}
}

func (r *recordingRunner) RunScheduledAttempt(_ context.Context, task core.RetryTask) (core.ValidationResult, error) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return core.ValidationResult{}, errors.New("still failing")
}

func TestTimerScheduler_RunsBoundRunner(t *testing.T) {
	scheduler := NewTimerScheduler(glog.Nop())
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	scheduler.BindRunner(runner)

	task := core.RetryTask{ChainID: "chain-1", Provider: "stripe", Attempt: 1}
	if err := scheduler.Schedule(context.Background(), time.Millisecond, task); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for scheduled attempt")
	}
	scheduler.Stop()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.tasks) != 1 || runner.tasks[0].ChainID != "chain-1" {
		t.Fatalf("unexpected tasks: %#v", runner.tasks)
	}
}

func TestTimerScheduler_StopCancelsPending(t *testing.T) {
	scheduler := NewTimerScheduler(nil)
	runner := &recordingRunner{}
	scheduler.BindRunner(runner)

	if err := scheduler.Schedule(context.Background(), time.Hour, core.RetryTask{Attempt: 1}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if scheduler.Pending() != 1 {
		t.Fatalf("expected one pending timer")
	}
	scheduler.Stop()
	if scheduler.Pending() != 0 {
		t.Fatalf("expected stop to clear timers")
	}
	if err := scheduler.Schedule(context.Background(), 0, core.RetryTask{Attempt: 1}); err == nil {
		t.Fatalf("expected schedule after stop to fail")
	}
}

func TestTimerScheduler_RequiresRunner(t *testing.T) {
	if err := NewTimerScheduler(nil).Schedule(context.Background(), 0, core.RetryTask{}); err == nil {
		t.Fatalf("expected error without bound runner")
	}
}
