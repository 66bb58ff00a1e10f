package gojob

import (
	"context"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is an in-process go-job queue for single node deployments.
// Nacked messages with Requeue become visible again after their delay;
// dead-lettered messages are kept for inspection.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    []queuedMessage
	deadLetter []*job.ExecutionMessage
	acked      int
	now        func() time.Time
}

type queuedMessage struct {
	msg       *job.ExecutionMessage
	visibleAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now}
}

// WithQueueClock swaps the clock used for delayed visibility.
func (q *MemoryQueue) WithQueueClock(now func() time.Time) *MemoryQueue {
	if q != nil && now != nil {
		q.now = now
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	return q.enqueueAt(ctx, msg, time.Time{})
}

func (q *MemoryQueue) enqueueAt(_ context.Context, msg *job.ExecutionMessage, visibleAt time.Time) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, queuedMessage{msg: msg, visibleAt: visibleAt})
	return nil
}

// Dequeue returns the oldest visible message, or nil when none is due.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for i, item := range q.pending {
		if !item.visibleAt.IsZero() && item.visibleAt.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		return &memoryDelivery{queue: q, msg: item.msg}, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Acked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acked
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetter...)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.queue.mu.Lock()
	d.queue.acked++
	d.queue.mu.Unlock()
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Requeue {
		var visibleAt time.Time
		if opts.Delay > 0 {
			visibleAt = d.queue.now().Add(opts.Delay)
		}
		return d.queue.enqueueAt(ctx, d.msg, visibleAt)
	}
	if opts.DeadLetter {
		d.queue.mu.Lock()
		d.queue.deadLetter = append(d.queue.deadLetter, d.msg)
		d.queue.mu.Unlock()
	}
	return nil
}
