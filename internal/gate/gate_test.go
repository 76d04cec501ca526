package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGateBoundsConcurrency(t *testing.T) {
	const limit = 2
	g := New(limit)

	var (
		inFlight int32
		peak     int32
		wg       sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected gate error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > limit {
		t.Fatalf("observed %d concurrent holders, limit is %d", got, limit)
	}
}

func TestGateCancelWhileWaiting(t *testing.T) {
	g := New(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		g.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := g.Acquire(ctx); err == nil {
		g.Release()
		t.Fatalf("expected acquire to fail while the slot is held")
	}
	close(release)
}

func TestGateDefaultsMax(t *testing.T) {
	if got := New(0).Max(); got != 2 {
		t.Fatalf("expected default limit 2, got %d", got)
	}
	if got := New(-5).Max(); got != 2 {
		t.Fatalf("expected default limit 2 for negative input, got %d", got)
	}
	if got := New(7).Max(); got != 7 {
		t.Fatalf("expected limit 7, got %d", got)
	}
}
