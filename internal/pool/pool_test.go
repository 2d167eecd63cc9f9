package pool

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestPostComputeRoundTrip(t *testing.T) {
	p := New(Config{Name: "test-compute", Kind: KindCompute, Size: 2})
	defer p.Shutdown()

	c := p.Post(ComputeFunc(func(ctx context.Context) int { return 42 }), 0)
	if got := c.Wait(); got != 42 {
		t.Fatalf("Wait() = %d, want 42", got)
	}
}

func TestPostRequestRoundTrip(t *testing.T) {
	var sawClient int32
	p := New(Config{
		Name: "test-request", Kind: KindRequest, Size: 2,
		ClientFactory: func() *Client { return NewClient(nil, 5*time.Second) },
	})
	defer p.Shutdown()

	fn := func(ctx context.Context, client *Client) int {
		if client != nil {
			atomic.AddInt32(&sawClient, 1)
		}
		return 0
	}

	var completions []*Completion
	for i := 0; i < 5; i++ {
		completions = append(completions, p.Post(fn, 0))
	}
	for _, c := range completions {
		if got := c.Wait(); got != 0 {
			t.Fatalf("Wait() = %d, want 0", got)
		}
	}
	if atomic.LoadInt32(&sawClient) != 5 {
		t.Fatalf("saw client in %d of 5 calls", sawClient)
	}
}

func TestCallbackCompletion(t *testing.T) {
	p := New(Config{Name: "test-callback", Kind: KindCompute, Size: 1})
	defer p.Shutdown()

	done := make(chan int, 1)
	c := NewCallbackCompletion(func(code int) { done <- code })
	p.PostWithCompletion(ComputeFunc(func(ctx context.Context) int { return 7 }), 0, c)

	select {
	case got := <-done:
		if got != 7 {
			t.Fatalf("callback code = %d, want 7", got)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestPanicRecoveredAsCanceled(t *testing.T) {
	p := New(Config{Name: "test-panic", Kind: KindCompute, Size: 1})
	defer p.Shutdown()

	c := p.Post(ComputeFunc(func(ctx context.Context) int {
		panic("boom")
	}), 0)

	want := -int(syscall.ECANCELED)
	if got := c.Wait(); got != want {
		t.Fatalf("Wait() = %d, want %d (ECANCELED)", got, want)
	}

	// Pool must still be usable after a panic.
	c2 := p.Post(ComputeFunc(func(ctx context.Context) int { return 1 }), 0)
	if got := c2.Wait(); got != 1 {
		t.Fatalf("post-panic Wait() = %d, want 1", got)
	}
}

// TestWatchdogRetryAndRespawn exercises the scenario of a worker
// hanging past the configured timeout: the item should be retried once
// (per the retry budget) and time out for good on the second attempt,
// and the pool should have respawned a replacement worker twice.
func TestWatchdogRetryAndRespawn(t *testing.T) {
	p := New(Config{
		Name:           "test-watchdog",
		Kind:           KindCompute,
		Size:           1,
		Timeout:        50 * time.Millisecond,
		WatchdogPeriod: 10 * time.Millisecond,
	})
	defer p.Shutdown()

	var calls int32
	hang := ComputeFunc(func(ctx context.Context) int {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return 0
	})

	c := p.Post(hang, 1)

	want := -int(syscall.ETIMEDOUT)
	select {
	case got := <-c.done:
		if got != want {
			t.Fatalf("Wait() = %d, want %d (ETIMEDOUT)", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("item never completed")
	}

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("hung function called %d times, want 2 (original + 1 retry)", n)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&p.stats.Respawned) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadInt64(&p.stats.Respawned); n < 2 {
		t.Fatalf("Respawned = %d, want >= 2", n)
	}
}

func TestShutdownUnblocksWorkers(t *testing.T) {
	p := New(Config{Name: "test-shutdown", Kind: KindCompute, Size: 3})
	p.Shutdown()

	// A second Shutdown must be a no-op, not a panic or deadlock.
	p.Shutdown()
}
