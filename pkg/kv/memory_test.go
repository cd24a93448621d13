package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStorePutGetExpire(t *testing.T) {
	m := NewMemoryStore(0)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Put(ctx, "alpha", []byte(`[1,2]`), time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	val, ok, err := m.Get(ctx, "alpha")
	if err != nil || !ok || string(val) != `[1,2]` {
		t.Fatalf("expected stored value, got %q ok=%v err=%v", val, ok, err)
	}

	now = now.Add(time.Hour)
	if _, ok, _ := m.Get(ctx, "alpha"); ok {
		t.Fatalf("expected key to expire at its TTL")
	}
	if m.Len() != 0 {
		t.Fatalf("expected expired key to be dropped on read")
	}
}

func TestMemoryStoreZeroTTLNeverExpires(t *testing.T) {
	m := NewMemoryStore(0)
	now := time.Unix(1700000000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_ = m.Put(ctx, "subscribers", []byte(`[3]`), 0)
	now = now.Add(365 * 24 * time.Hour)
	if _, ok, _ := m.Get(ctx, "subscribers"); !ok {
		t.Fatalf("expected key without TTL to persist")
	}
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	m := NewMemoryStore(2)
	ctx := context.Background()
	_ = m.Put(ctx, "a", []byte("1"), 0)
	_ = m.Put(ctx, "b", []byte("2"), 0)
	_ = m.Put(ctx, "c", []byte("3"), 0)

	if _, ok, _ := m.Get(ctx, "a"); ok {
		t.Fatalf("expected oldest key to be evicted")
	}
	if _, ok, _ := m.Get(ctx, "c"); !ok {
		t.Fatalf("expected newest key to remain")
	}
}

func TestJSONHelpers(t *testing.T) {
	m := NewMemoryStore(0)
	ctx := context.Background()
	if err := PutJSON(ctx, m, "fids", []int64{5, 7}, time.Minute); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	var fids []int64
	ok, err := GetJSON(ctx, m, "fids", &fids)
	if err != nil || !ok {
		t.Fatalf("GetJSON: ok=%v err=%v", ok, err)
	}
	if len(fids) != 2 || fids[0] != 5 || fids[1] != 7 {
		t.Fatalf("unexpected fids %v", fids)
	}

	_ = m.Put(ctx, "broken", []byte("{"), 0)
	if _, err := GetJSON(ctx, m, "broken", &fids); err == nil {
		t.Fatalf("expected decode error")
	}
}
