package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestDistributedLimiter_AllowsUpToLimit(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDistributedLimiter(rdb, 2, time.Minute, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		r, err := l.CheckAndRecord(ctx, "key1")
		if err != nil {
			t.Fatalf("CheckAndRecord returned error: %v", err)
		}
		if !r.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	r, err := l.CheckAndRecord(ctx, "key1")
	if err != nil {
		t.Fatalf("CheckAndRecord returned error: %v", err)
	}
	if r.Allowed {
		t.Fatal("3rd request should be denied")
	}
	if r.RetryAfter <= 0 {
		t.Error("RetryAfter should be positive when denied")
	}
}

func TestDistributedLimiter_CheckDoesNotRecord(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDistributedLimiter(rdb, 1, time.Minute, "")
	ctx := context.Background()

	r, err := l.Check(ctx, "key1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !r.Allowed {
		t.Fatal("Check should report allowed")
	}
	r, err = l.Check(ctx, "key1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !r.Allowed {
		t.Fatal("repeated Check should not consume budget")
	}
}

func TestDistributedLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewDistributedLimiter(rdb, 1, time.Minute, "")
	ctx := context.Background()

	r1, _ := l.CheckAndRecord(ctx, "a")
	r2, _ := l.CheckAndRecord(ctx, "b")
	if !r1.Allowed || !r2.Allowed {
		t.Fatal("independent keys should each get their own budget")
	}
}
