package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueAcksAndDeadLetters(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()
	require.NoError(t, q.SendBatch(ctx, [][]byte{[]byte("ok"), []byte("bad")}))

	handled := q.Drain(ctx, HandlerFunc(func(_ context.Context, msg Message) Disposition {
		if string(msg.Body) == "bad" {
			return DeadLetter(errors.New("malformed"))
		}
		return Ack()
	}))

	require.Equal(t, 2, handled)
	require.Equal(t, 0, q.Pending())
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, []byte("bad"), dead[0].Value)
	require.Equal(t, 1, dead[0].Attempts)
}

func TestMemoryQueueRetryIncrementsAttempts(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()
	require.NoError(t, q.SendBatch(ctx, [][]byte{[]byte("x")}))

	var attempts []int
	handler := HandlerFunc(func(_ context.Context, msg Message) Disposition {
		attempts = append(attempts, msg.Attempts)
		if msg.Attempts < 3 {
			return Retry(0, errors.New("try again"))
		}
		return Ack()
	})

	q.Drain(ctx, handler)
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestMemoryQueueMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	require.NoError(t, q.SendBatch(ctx, [][]byte{[]byte("x")}))

	q.Drain(ctx, HandlerFunc(func(context.Context, Message) Disposition {
		return Retry(0, errors.New("nope"))
	}))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	require.Equal(t, 2, dead[0].Attempts)
}

func TestMemoryQueueRunRedeliversDelayedRetry(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.SendBatch(ctx, [][]byte{[]byte("x")}))

	done := make(chan int, 1)
	go func() {
		_ = q.Run(ctx, HandlerFunc(func(_ context.Context, msg Message) Disposition {
			if msg.Attempts == 1 {
				return Retry(10*time.Millisecond, errors.New("later"))
			}
			done <- msg.Attempts
			return Ack()
		}))
	}()

	select {
	case n := <-done:
		require.Equal(t, 2, n)
	case <-ctx.Done():
		t.Fatal("delayed retry was never redelivered")
	}
}

func TestMemoryQueueForgetsFiredRetryTimers(t *testing.T) {
	q := NewMemoryQueue(0)
	ctx := context.Background()
	require.NoError(t, q.SendBatch(ctx, [][]byte{[]byte("a"), []byte("b")}))

	first := HandlerFunc(func(context.Context, Message) Disposition {
		return Retry(5*time.Millisecond, errors.New("later"))
	})
	require.Equal(t, 2, q.Drain(ctx, first))
	require.Equal(t, 2, q.Scheduled())

	require.Eventually(t, func() bool { return q.Pending() == 2 }, time.Second, time.Millisecond)
	require.Zero(t, q.Scheduled())

	require.Equal(t, 2, q.Drain(ctx, HandlerFunc(func(context.Context, Message) Disposition { return Ack() })))
	require.Zero(t, q.Scheduled())
}
