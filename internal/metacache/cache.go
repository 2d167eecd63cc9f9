package metacache

import (
	"context"
	"log/slog"
	"path"
	"sync/atomic"

	"github.com/objectfs/objectfs/internal/lru"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/pkg/errors"
)

// Hint guides which URL form Get tries first when fetching a cold
// path, per §4.5 step 5.
type Hint int

const (
	HintNone Hint = iota
	HintDirectory
	HintFile
)

// Fetcher issues the remote HEAD this cache needs on a miss. It
// returns (nil, nil) for a non-200 response — a negative result is not
// an error, per §4.5 step 6 — and a non-nil error only for a fetch
// that could not complete at all (e.g. a transport failure exhausting
// retries). A service adapter over internal/storage/s3 and
// internal/pool implements this.
type Fetcher interface {
	Fetch(ctx context.Context, path string, hint Hint) (*object.Object, error)
}

// entry wraps a cached object with the open-handle refcount that
// decides its removability: an object with open handles outstanding
// must never be evicted out from under them.
type entry struct {
	obj  *object.Object
	refs int32
}

func (e *entry) removable() bool {
	return atomic.LoadInt32(&e.refs) == 0
}

// Stats holds the cache's atomic counters, reported via the configured
// statistics writer (§4.5's "Statistics").
type Stats struct {
	Hits        int64
	Misses      int64
	Expiries    int64
	GetFailures int64
}

// Config controls cache sizing, the Fetcher consulted on a miss, and
// logging.
type Config struct {
	MaxEntries int
	Fetcher    Fetcher
	Logger     *slog.Logger
}

// Cache is the process-wide path→object map described in §4.5.
type Cache struct {
	cfg     Config
	logger  *slog.Logger
	entries *lru.Cache[string, *entry]
	paths   *keyedMutex
	fetcher Fetcher

	hits, misses, expiries, getFailures int64
}

// New creates a metadata cache bounded at cfg.MaxEntries entries.
func New(cfg Config) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Cache{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "metacache"),
		paths:   newKeyedMutex(),
		fetcher: cfg.Fetcher,
	}
	c.entries = lru.New[string, *entry](cfg.MaxEntries, func(e *entry) bool { return e.removable() })
	return c
}

// Get resolves path to its cached object, fetching it remotely via the
// configured Fetcher on a cold or expired entry. It returns (nil, nil)
// when the remote reports the path doesn't exist, matching §4.5 step 6.
func (c *Cache) Get(ctx context.Context, p string, hint Hint) (*object.Object, error) {
	if e, ok := c.entries.Find(p); ok && !e.obj.IsExpired() {
		atomic.AddInt64(&c.hits, 1)
		c.entries.Put(p, e) // bump recency
		return e.obj, nil
	} else if ok {
		atomic.AddInt64(&c.expiries, 1)
	} else {
		atomic.AddInt64(&c.misses, 1)
	}

	release := c.paths.Lock(p)
	defer release()

	// Re-check: another fetcher may have finished while we waited for
	// the per-path lock (§4.5 step 4).
	if e, ok := c.entries.Find(p); ok && !e.obj.IsExpired() {
		return e.obj, nil
	}

	obj, err := c.fetcher.Fetch(ctx, p, hint)
	if err != nil {
		atomic.AddInt64(&c.getFailures, 1)
		return nil, err
	}
	if obj == nil {
		atomic.AddInt64(&c.getFailures, 1)
		return nil, nil
	}

	c.entries.Put(p, &entry{obj: obj})
	return obj, nil
}

// LockObject fetches-if-missing and invokes fn with path's per-path
// lock held, serializing read-modify-write sequences (e.g. "bump
// mtime, set size, commit") against a single object. fn receives nil
// if the path does not exist remotely.
func (c *Cache) LockObject(ctx context.Context, p string, hint Hint, fn func(obj *object.Object) error) error {
	release := c.paths.Lock(p)
	defer release()

	var obj *object.Object
	if e, ok := c.entries.Find(p); ok && !e.obj.IsExpired() {
		obj = e.obj
	} else {
		fetched, err := c.fetcher.Fetch(ctx, p, hint)
		if err != nil {
			atomic.AddInt64(&c.getFailures, 1)
			return err
		}
		if fetched == nil {
			atomic.AddInt64(&c.getFailures, 1)
		} else {
			c.entries.Put(p, &entry{obj: fetched})
			obj = fetched
		}
	}

	return fn(obj)
}

// Put inserts or replaces the cached object at path directly, used
// when the core creates a new object locally (mkdir, create, mknod)
// rather than discovering one remotely.
func (c *Cache) Put(p string, obj *object.Object) {
	c.entries.Put(p, &entry{obj: obj})
}

// IncRef and DecRef track open handles against a cached object so the
// LRU eviction predicate never removes an entry with handles
// outstanding. DecRef is a no-op if path is no longer cached.
func (c *Cache) IncRef(p string) {
	if e, ok := c.entries.Find(p); ok {
		atomic.AddInt32(&e.refs, 1)
	}
}

func (c *Cache) DecRef(p string) {
	if e, ok := c.entries.Find(p); ok {
		atomic.AddInt32(&e.refs, -1)
	}
}

// Remove evicts path unconditionally.
func (c *Cache) Remove(p string) {
	c.entries.Erase(p)
}

// Expire marks path's cached entry expired in place, without evicting
// it — used after Flush(close=true) succeeds (§4.6) so the object
// stays reachable for any racing reader but is re-fetched on next use.
func (c *Cache) Expire(p string) {
	if e, ok := c.entries.Find(p); ok {
		e.obj.Expire()
	}
}

// InvalidateWithParent evicts path and its parent directory, the
// pattern required after rename/unlink (§4.5 "Invalidation") so the
// next readdir on the parent re-fetches its listing.
func (c *Cache) InvalidateWithParent(p string) {
	c.Remove(p)
	c.Remove(ParentPath(p))
}

// ParentPath returns the parent directory of p, using "" to denote the
// bucket root (matching internal/object.BuildURL's empty-path root
// convention).
func ParentPath(p string) string {
	dir := path.Dir("/" + p)
	if dir == "/" || dir == "." {
		return ""
	}
	return dir[1:]
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        atomic.LoadInt64(&c.hits),
		Misses:      atomic.LoadInt64(&c.misses),
		Expiries:    atomic.LoadInt64(&c.expiries),
		GetFailures: atomic.LoadInt64(&c.getFailures),
	}
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	return c.entries.Size()
}

// errNotFound is returned by callers that need a Go error instead of a
// nil object for a missing path (e.g. LockObject callers that require
// the object to exist).
var errNotFound = errors.NewError(errors.ErrCodeObjectNotFound, "path not found")

// ErrNotFound reports the path-not-found condition as an error, for
// callers that can't act on a nil *object.Object directly.
func ErrNotFound() error { return errNotFound }
