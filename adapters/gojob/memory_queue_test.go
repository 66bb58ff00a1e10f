package gojob

import (
	"context"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestMemoryQueue_FIFOAndAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	_ = q.Enqueue(ctx, &job.ExecutionMessage{JobID: "a"})
	_ = q.Enqueue(ctx, &job.ExecutionMessage{JobID: "b"})

	first, err := q.Dequeue(ctx)
	if err != nil || first == nil {
		t.Fatalf("dequeue first: %v", err)
	}
	if first.Message().JobID != "a" {
		t.Fatalf("expected FIFO order, got %s", first.Message().JobID)
	}
	if err := first.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if q.Acked() != 1 || q.Len() != 1 {
		t.Fatalf("unexpected queue state acked=%d len=%d", q.Acked(), q.Len())
	}
}

func TestMemoryQueue_DelayedRequeueAndDeadLetter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	q := NewMemoryQueue().WithQueueClock(func() time.Time { return now })
	_ = q.Enqueue(ctx, &job.ExecutionMessage{JobID: "a"})

	delivery, _ := q.Dequeue(ctx)
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true, Delay: time.Minute}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if next, _ := q.Dequeue(ctx); next != nil {
		t.Fatalf("expected delayed message to stay hidden")
	}

	now = now.Add(2 * time.Minute)
	delivery, _ = q.Dequeue(ctx)
	if delivery == nil {
		t.Fatalf("expected delayed message to become visible")
	}
	if err := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "bad"}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if q.Len() != 0 || len(q.DeadLetters()) != 1 {
		t.Fatalf("expected message in dead letter list, len=%d dead=%d", q.Len(), len(q.DeadLetters()))
	}
}

func TestMemoryQueue_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryQueue().Dequeue(ctx); err == nil {
		t.Fatalf("expected canceled context error")
	}
}
