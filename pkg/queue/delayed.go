package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Envelope is a message parked between deliveries. Attempts counts the
// deliveries already made.
type Envelope struct {
	ID       string `json:"id"`
	Key      []byte `json:"key,omitempty"`
	Value    []byte `json:"value"`
	Attempts int    `json:"attempts"`
}

// DelayedSet parks envelopes in a Redis sorted set scored by due time.
type DelayedSet struct {
	client goredis.UniversalClient
	key    string
}

func NewDelayedSet(client goredis.UniversalClient, key string) *DelayedSet {
	return &DelayedSet{client: client, key: key}
}

func (d *DelayedSet) Park(ctx context.Context, env Envelope, due time.Time) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := d.client.ZAdd(ctx, d.key, goredis.Z{Score: float64(due.Unix()), Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", d.key, err)
	}
	return nil
}

// Drain publishes up to limit envelopes due at or before now. Each member is
// claimed with ZREM first so concurrent drainers never publish it twice; a
// failed publish puts the member back and stops the drain.
func (d *DelayedSet) Drain(ctx context.Context, now time.Time, limit int64, publish func(context.Context, Envelope) error) (int, error) {
	members, err := d.client.ZRangeByScore(ctx, d.key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore %s: %w", d.key, err)
	}

	published := 0
	for _, member := range members {
		removed, err := d.client.ZRem(ctx, d.key, member).Result()
		if err != nil {
			return published, fmt.Errorf("zrem %s: %w", d.key, err)
		}
		if removed == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(member), &env); err != nil {
			// Undecodable members can never be delivered; drop them.
			continue
		}

		if err := publish(ctx, env); err != nil {
			_ = d.client.ZAdd(ctx, d.key, goredis.Z{Score: float64(now.Unix()), Member: member}).Err()
			return published, err
		}
		published++
	}
	return published, nil
}

// Len returns the number of parked envelopes.
func (d *DelayedSet) Len(ctx context.Context) (int64, error) {
	return d.client.ZCard(ctx, d.key).Result()
}
