// Package rate keeps outbound Gmail calls under the per-user quota.
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Limiter gates one outbound API call.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks. It stands in when no rate is configured.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// TokenBucket refills at rps tokens per second and holds at most burst tokens.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
	stopOnce sync.Once
}

// NewTokenBucket returns a full bucket; burst <= 0 means burst == rps.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = rps
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, burst),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	for range burst {
		tb.tokens <- struct{}{}
	}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or ctx is done.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop halts the refill goroutine. It is safe to call more than once.
func (t *TokenBucket) Stop() {
	t.stopOnce.Do(func() {
		t.ticker.Stop()
		close(t.stop)
	})
	<-t.stopDone
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
