package queue

import (
	"sync"
	"testing"
	"time"
)

func TestPostNextOrder(t *testing.T) {
	q := New[int]()
	q.Post(1)
	q.Post(2)
	q.Post(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Next()
		if !ok || got != want {
			t.Fatalf("got %d,%v want %d,true", got, ok, want)
		}
	}
}

func TestNextBlocksUntilPost(t *testing.T) {
	q := New[string]()
	done := make(chan string, 1)

	go func() {
		v, ok := q.Next()
		if !ok {
			done <- "ABORTED"
			return
		}
		done <- v
	}()

	time.Sleep(20 * time.Millisecond)
	q.Post("hello")

	select {
	case got := <-done:
		if got != "hello" {
			t.Fatalf("got %q want hello", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Next never returned")
	}
}

func TestAbortWakesWaitersAndStaysDry(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Next()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Abort()
	wg.Wait()
	close(results)

	for ok := range results {
		if ok {
			t.Fatal("expected every waiter to observe abort (ok=false)")
		}
	}

	// Post after abort must never surface through Next.
	q.Post(99)
	if _, ok := q.Next(); ok {
		t.Fatal("Next produced an item after Abort")
	}
}

func TestAbortDrainsEmptyQueueImmediately(t *testing.T) {
	q := New[int]()
	q.Abort()
	if _, ok := q.Next(); ok {
		t.Fatal("expected Next on an aborted empty queue to return immediately with ok=false")
	}
}
