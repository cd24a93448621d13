package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process queue used for local runs and tests. Retries
// are re-enqueued with time.AfterFunc; nothing survives a restart.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []Envelope
	dead        []Envelope
	timers      map[string]*time.Timer // by message ID, removed once fired
	maxAttempts int
	notify      chan struct{}
}

func NewMemoryQueue(maxAttempts int) *MemoryQueue {
	return &MemoryQueue{
		maxAttempts: maxAttempts,
		timers:      make(map[string]*time.Timer),
		notify:      make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) SendBatch(_ context.Context, bodies [][]byte) error {
	q.mu.Lock()
	for _, body := range bodies {
		q.pending = append(q.pending, Envelope{ID: uuid.NewString(), Value: body})
	}
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) pop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Envelope{}, false
	}
	env := q.pending[0]
	q.pending = q.pending[1:]
	return env, true
}

// Drain handles every message currently pending. Retries scheduled for
// later are not waited for. It returns the number of messages handled.
func (q *MemoryQueue) Drain(ctx context.Context, handler Handler) int {
	handled := 0
	for ctx.Err() == nil {
		env, ok := q.pop()
		if !ok {
			return handled
		}
		q.deliver(ctx, handler, env)
		handled++
	}
	return handled
}

// Run handles messages as they arrive until ctx is cancelled.
func (q *MemoryQueue) Run(ctx context.Context, handler Handler) error {
	defer q.stopTimers()
	for {
		q.Drain(ctx, handler)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, handler Handler, env Envelope) {
	msg := Message{ID: env.ID, Body: env.Value, Attempts: env.Attempts + 1, Timestamp: time.Now()}
	disp := handler.Handle(ctx, msg)

	env.Attempts = msg.Attempts
	switch disp.Action {
	case ActionRetry:
		if exhausted(q.maxAttempts, msg.Attempts) {
			q.deadLetter(env)
			return
		}
		q.schedule(env, disp.Delay)
	case ActionDeadLetter:
		q.deadLetter(env)
	}
}

func (q *MemoryQueue) schedule(env Envelope, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delay <= 0 {
		q.pending = append(q.pending, env)
		return
	}
	q.timers[env.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, env.ID)
		q.pending = append(q.pending, env)
		q.mu.Unlock()
		q.wake()
	})
}

func (q *MemoryQueue) deadLetter(env Envelope) {
	q.mu.Lock()
	q.dead = append(q.dead, env)
	q.mu.Unlock()
}

func (q *MemoryQueue) stopTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}

// Pending returns the number of messages waiting for delivery.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Scheduled returns the number of retries waiting on a timer.
func (q *MemoryQueue) Scheduled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// DeadLetters returns a copy of the dead-lettered envelopes.
func (q *MemoryQueue) DeadLetters() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Envelope(nil), q.dead...)
}
