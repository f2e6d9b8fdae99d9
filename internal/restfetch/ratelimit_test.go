package restfetch

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	ctx := context.Background()
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("unexpected wait error on burst token %d: %v", i, err)
		}
	}
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	ctx := context.Background()
	tb := NewTokenBucket(1, 10) // 1 capacity, refills 10/sec -> ~100ms per token
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected the second token to require a refill wait, took %v", elapsed)
	}
}

func TestTokenBucketRespectsContextCancellation(t *testing.T) {
	tb := NewTokenBucket(1, 0.01) // effectively never refills within test timeout
	tb.Wait(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(ctx); err == nil {
		t.Fatalf("expected context deadline to abort Wait")
	}
}
