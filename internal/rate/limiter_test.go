package rate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenBucketBurstThenWait(t *testing.T) {
	tb := NewTokenBucket(50, 3)
	defer tb.Stop()

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("burst wait %d: %v", i, err)
		}
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Fatalf("burst tokens should be immediate")
	}
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("refill wait: %v", err)
	}
}

func TestTokenBucketCanceled(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	defer tb.Stop()
	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestTokenBucketStopTwice(t *testing.T) {
	tb := NewTokenBucket(10, 0)
	tb.Stop()
	tb.Stop()
}
