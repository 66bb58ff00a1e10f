package webhooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhook-guard/core"
)

// TimerScheduler runs retry attempts in process with time.AfterFunc. Tasks
// do not survive a restart; use the go-job adapter when they must.
type TimerScheduler struct {
	Logger  core.Logger
	Timeout time.Duration

	mu      sync.Mutex
	runner  core.RetryRunner
	pending map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler(logger core.Logger) *TimerScheduler {
	return &TimerScheduler{
		Logger:  glog.Ensure(logger),
		Timeout: 30 * time.Second,
		pending: map[*time.Timer]struct{}{},
	}
}

func (s *TimerScheduler) BindRunner(runner core.RetryRunner) {
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
}

func (s *TimerScheduler) Schedule(_ context.Context, delay time.Duration, task core.RetryTask) error {
	if s == nil {
		return fmt.Errorf("webhooks: scheduler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("webhooks: scheduler stopped")
	}
	if s.runner == nil {
		return fmt.Errorf("webhooks: scheduler has no retry runner bound")
	}
	if s.pending == nil {
		s.pending = map[*time.Timer]struct{}{}
	}
	if delay < 0 {
		delay = 0
	}
	runner := s.runner
	s.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.pending, timer)
		s.mu.Unlock()
		s.run(runner, task)
	})
	s.pending[timer] = struct{}{}
	return nil
}

func (s *TimerScheduler) run(runner core.RetryRunner, task core.RetryTask) {
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	if _, err := runner.RunScheduledAttempt(ctx, task); err != nil {
		glog.Ensure(s.Logger).Warn("scheduled webhook attempt failed",
			"chain_id", task.ChainID,
			"provider", task.Provider,
			"attempt", task.Attempt,
			"error", err.Error(),
		)
	}
}

// Pending reports timers that have not fired yet.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels pending timers and waits for attempts already running.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for timer := range s.pending {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, timer)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
