package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type replayClient struct {
	fakeClient
	batches   [][]*kgo.Record
	committed []*kgo.Record
}

func (c *replayClient) PollFetches(context.Context) kgo.Fetches {
	if len(c.batches) == 0 {
		return nil
	}
	batch := c.batches[0]
	c.batches = c.batches[1:]
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "tasks.dlq",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: batch}},
	}}}}
}

func (c *replayClient) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	c.committed = append(c.committed, rs...)
	return nil
}

type fakeRepublisher struct {
	envs []Envelope
	err  error
}

func (f *fakeRepublisher) Republish(_ context.Context, env Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.envs = append(f.envs, env)
	return nil
}

func deadLetter(id string, offset int64) *kgo.Record {
	src := &kgo.Record{
		Topic:   "tasks",
		Offset:  offset,
		Key:     []byte(id),
		Value:   []byte(`{"type":"like"}`),
		Headers: []kgo.RecordHeader{{Key: headerID, Value: []byte(id)}, {Key: headerAttempts, Value: []byte("7")}},
	}
	rec := NewDeadLetterRecord(src, "tasks.dlq", errors.New("gone"), "radar", time.Unix(1700000000, 0))
	rec.Offset = offset
	return rec
}

func newTestReplayer(client *replayClient, pub Republisher) *Replayer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Replayer{client: client, republisher: pub, logger: logger, idle: 10 * time.Millisecond}
}

func TestReplayRepublishesWithFreshBudget(t *testing.T) {
	client := &replayClient{batches: [][]*kgo.Record{
		{deadLetter("a", 0), {Offset: 1, Value: []byte("stray")}},
		{deadLetter("b", 2)},
	}}
	pub := &fakeRepublisher{}

	n, err := newTestReplayer(client, pub).Replay(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, pub.envs, 2)
	require.Equal(t, Envelope{ID: "a", Key: []byte("a"), Value: []byte(`{"type":"like"}`)}, pub.envs[0])
	require.Len(t, client.committed, 3)
}

func TestReplayHonoursLimit(t *testing.T) {
	client := &replayClient{batches: [][]*kgo.Record{{deadLetter("a", 0), deadLetter("b", 1), deadLetter("c", 2)}}}
	pub := &fakeRepublisher{}

	n, err := newTestReplayer(client, pub).Replay(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, client.committed, 2)
}

func TestReplayLeavesFailedRepublishUncommitted(t *testing.T) {
	client := &replayClient{batches: [][]*kgo.Record{{deadLetter("a", 0)}}}

	n, err := newTestReplayer(client, &fakeRepublisher{err: errors.New("broker down")}).Replay(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, client.committed)
}
