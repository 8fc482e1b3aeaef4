package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPermitPool_BoundsConcurrency(t *testing.T) {
	pool := NewPermitPool(3)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Run(context.Background(), func() error {
				running := atomic.AddInt64(&current, 1)
				for {
					observed := atomic.LoadInt64(&peak)
					if running <= observed || atomic.CompareAndSwapInt64(&peak, observed, running) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			if err != nil {
				t.Errorf("expected nil error, got %v", err)
			}
		}()
	}
	wg.Wait()

	if observed := atomic.LoadInt64(&peak); observed > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, observed %d", observed)
	}
}

func TestPermitPool_CancelledContextSkipsTask(t *testing.T) {
	pool := NewPermitPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Run(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := pool.Run(ctx, func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("expected a context error while the pool is saturated")
	}
	if ran {
		t.Fatal("did not expect the task to run after cancellation")
	}
	close(release)
}

func TestPermitPool_MinimumSizeIsOne(t *testing.T) {
	pool := NewPermitPool(0)
	if pool.Size() != 1 {
		t.Fatalf("expected pool size 1, got %d", pool.Size())
	}
}
