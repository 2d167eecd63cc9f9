package metacache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/objectfs/objectfs/internal/object"
)

type countingFetcher struct {
	calls int32
	obj   func(path string) *object.Object
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, path string, hint Hint) (*object.Object, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.obj(path), nil
}

func newTestObject(p string) *object.Object {
	ctx := &object.DecodeContext{Headers: http.Header{}, ContentType: "application/octet-stream", ETag: `"e"`, Size: 1}
	obj, _ := object.Create(p, ctx, nil, "https://bucket.example.com", object.Defaults{})
	return obj
}

func TestGetCachesAfterFirstFetch(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return newTestObject(p) }}
	c := New(Config{MaxEntries: 10, Fetcher: f})

	for i := 0; i < 5; i++ {
		obj, err := c.Get(context.Background(), "a/b", HintNone)
		if err != nil || obj == nil {
			t.Fatalf("Get() = %v, %v", obj, err)
		}
	}

	if f.calls != 1 {
		t.Fatalf("fetcher called %d times, want 1", f.calls)
	}
	st := c.Stats()
	if st.Hits != 4 || st.Misses != 1 {
		t.Fatalf("stats = %+v, want Hits=4 Misses=1", st)
	}
}

func TestGetSingleFetcherUnderConcurrency(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return newTestObject(p) }, delay: 20 * time.Millisecond}
	c := New(Config{MaxEntries: 10, Fetcher: f})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "cold/path", HintNone); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.calls != 1 {
		t.Fatalf("fetcher called %d times, want exactly 1 (single-fetcher guarantee)", f.calls)
	}
}

func TestGetReturnsNilOnNotFound(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return nil }}
	c := New(Config{MaxEntries: 10, Fetcher: f})

	obj, err := c.Get(context.Background(), "missing", HintNone)
	if err != nil {
		t.Fatalf("Get() error = %v, want nil", err)
	}
	if obj != nil {
		t.Fatalf("Get() = %v, want nil object", obj)
	}
	if c.Stats().GetFailures != 1 {
		t.Fatalf("GetFailures = %d, want 1", c.Stats().GetFailures)
	}
}

func TestInvalidateWithParent(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return newTestObject(p) }}
	c := New(Config{MaxEntries: 10, Fetcher: f})

	if _, err := c.Get(context.Background(), "dir/file.txt", HintFile); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(context.Background(), "dir", HintDirectory); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", c.Size())
	}

	c.InvalidateWithParent("dir/file.txt")

	if c.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after invalidating entry + parent", c.Size())
	}
}

func TestParentPath(t *testing.T) {
	cases := map[string]string{
		"a/b/c": "a/b",
		"a":     "",
		"":      "",
	}
	for in, want := range cases {
		if got := ParentPath(in); got != want {
			t.Fatalf("ParentPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLockObjectSerializesCallback(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return newTestObject(p) }}
	c := New(Config{MaxEntries: 10, Fetcher: f})

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.LockObject(context.Background(), "shared", HintFile, func(obj *object.Object) error {
				counter++ // unsynchronized except for LockObject's own lock
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("counter = %d, want 50 (no lost updates)", counter)
	}
}

func TestRefCountBlocksEviction(t *testing.T) {
	f := &countingFetcher{obj: func(p string) *object.Object { return newTestObject(p) }}
	c := New(Config{MaxEntries: 1, Fetcher: f})

	if _, err := c.Get(context.Background(), "busy", HintFile); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.IncRef("busy")

	if _, err := c.Get(context.Background(), "other", HintFile); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if _, ok := c.entries.Find("busy"); !ok {
		t.Fatal("entry with outstanding refs was evicted")
	}
}
