package ratelimit

import (
	"testing"
	"time"
)

func TestSlidingWindow_AllowsUpToLimit(t *testing.T) {
	l := NewLimiter(StrategySlidingWindow, 3, time.Minute)
	for i := 0; i < 3; i++ {
		r := l.CheckAndRecord("key1")
		if !r.Allowed {
			t.Fatalf("request %d should be allowed, got denied", i)
		}
	}
	r := l.CheckAndRecord("key1")
	if r.Allowed {
		t.Fatal("4th request should be denied")
	}
	if r.RetryAfter <= 0 {
		t.Error("RetryAfter should be positive when denied")
	}
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(StrategySlidingWindow, 1, time.Minute)
	if !l.CheckAndRecord("a").Allowed {
		t.Fatal("first request for key a should be allowed")
	}
	if !l.CheckAndRecord("b").Allowed {
		t.Fatal("first request for key b should be allowed (separate budget)")
	}
	if l.CheckAndRecord("a").Allowed {
		t.Fatal("second request for key a should be denied")
	}
}

func TestSlidingWindow_CheckDoesNotRecord(t *testing.T) {
	l := NewLimiter(StrategySlidingWindow, 1, time.Minute)
	if !l.Check("key1").Allowed {
		t.Fatal("Check should report allowed")
	}
	if !l.Check("key1").Allowed {
		t.Fatal("repeated Check calls should not consume budget")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	l := NewLimiter(StrategyTokenBucket, 60, time.Minute) // 1 token/sec
	for i := 0; i < 60; i++ {
		if !l.CheckAndRecord("key1").Allowed {
			t.Fatalf("request %d should be allowed (full bucket)", i)
		}
	}
	if l.CheckAndRecord("key1").Allowed {
		t.Fatal("bucket should be empty now")
	}

	// Simulate refill by rewinding lastRefill instead of sleeping in a test.
	l.mu.Lock()
	l.entries["key1"].lastRefill = time.Now().Add(-2 * time.Second)
	l.mu.Unlock()

	r := l.CheckAndRecord("key1")
	if !r.Allowed {
		t.Fatal("bucket should have refilled ~2 tokens after 2 simulated seconds")
	}
}

func TestFixedWindow_ResetsAfterWindowElapses(t *testing.T) {
	l := NewLimiter(StrategyFixedWindow, 1, 50*time.Millisecond)
	if !l.CheckAndRecord("key1").Allowed {
		t.Fatal("first request should be allowed")
	}
	if l.CheckAndRecord("key1").Allowed {
		t.Fatal("second request within window should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.CheckAndRecord("key1").Allowed {
		t.Fatal("request after window elapsed should be allowed again")
	}
}

func TestCleanup_RemovesIdleEntries(t *testing.T) {
	l := NewLimiter(StrategySlidingWindow, 5, time.Minute)
	l.CheckAndRecord("stale")
	l.mu.Lock()
	l.entries["stale"].timestamps[0] = time.Now().Add(-time.Hour)
	l.entries["stale"].lastRefill = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.Cleanup(time.Minute)

	l.mu.Lock()
	_, exists := l.entries["stale"]
	l.mu.Unlock()
	if exists {
		t.Error("stale entry should have been cleaned up")
	}
}
