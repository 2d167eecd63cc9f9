package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/objectfs/objectfs/internal/circuit"
	"github.com/objectfs/objectfs/internal/queue"
	"github.com/objectfs/objectfs/pkg/errors"
)

const timedOutErrno = syscall.ETIMEDOUT

// Identifier names one of the three pool identities exposed by the
// core (§4.3).
type Identifier string

const (
	// Primary is the foreground pool used for direct filesystem
	// operations.
	Primary Identifier = "primary"
	// Secondary is the background pool used for multipart upload
	// parts, so they cannot deadlock waiting on themselves via the
	// foreground pool.
	Secondary Identifier = "secondary"
	// Compute runs non-HTTP work.
	Compute Identifier = "compute"
)

// Kind distinguishes compute workers (no HTTP client) from request
// workers (own a long-lived *Client).
type Kind int

const (
	KindCompute Kind = iota
	KindRequest
)

// RequestFunc is a unit of work submitted to a request-worker pool. It
// receives the worker's long-lived client.
type RequestFunc func(ctx context.Context, client *Client) int

// Completion is the handle returned by Post: either a waitable result
// or, when constructed with a callback, an asynchronous notification.
type Completion struct {
	done     chan int
	callback func(int)
}

func newWaitCompletion() *Completion {
	return &Completion{done: make(chan int, 1)}
}

// NewCallbackCompletion builds a Completion that invokes cb instead of
// blocking a waiter.
func NewCallbackCompletion(cb func(int)) *Completion {
	return &Completion{callback: cb}
}

// Wait blocks for and returns the work item's integer result. It must
// not be called on a callback-style Completion.
func (c *Completion) Wait() int {
	return <-c.done
}

func (c *Completion) signal(code int) {
	if c.callback != nil {
		c.callback(code)
		return
	}
	c.done <- code
}

type workItem struct {
	fn              RequestFunc
	completion      *Completion
	retriesLeft     int
	originalRetries int
}

type workerState struct {
	id        int
	mu        sync.Mutex
	current   *workItem
	startedAt time.Time
	cancel    context.CancelFunc
	abandoned bool
}

func (w *workerState) beginItem(item *workItem, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = item
	w.startedAt = time.Now()
	w.cancel = cancel
}

func (w *workerState) endItem() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = nil
	w.cancel = nil
}

func (w *workerState) elapsed() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return 0, false
	}
	return time.Since(w.startedAt), true
}

// Config controls pool sizing, timeouts and retry behavior.
type Config struct {
	Name           string
	Kind           Kind
	Size           int
	Timeout        time.Duration // per-item timeout enforced by the watchdog
	WatchdogPeriod time.Duration // default 1s, per §4.3
	ClientFactory  func() *Client
	Logger         *slog.Logger

	// Breaker, when set, wraps every item's RequestFunc: a request is
	// refused with -EIO without touching the client once the backend's
	// failure rate trips the breaker open, per §5's "remote failure"
	// handling.
	Breaker *circuit.CircuitBreaker
}

// Stats tracks pool-wide counters surfaced via internal/metrics.
type Stats struct {
	Posted    int64
	Completed int64
	Retried   int64
	TimedOut  int64
	Respawned int64
}

// Pool is a named, fixed-size worker pool draining a shared work-item
// queue (§4.3).
type Pool struct {
	cfg    Config
	logger *slog.Logger

	queue *queue.Queue[*workItem]

	mu        sync.Mutex
	workers   map[int]*workerState
	nextID    int
	closed    bool
	watchdogStop chan struct{}
	watchdogDone chan struct{}

	stats Stats
}

// New creates and starts a pool: cfg.Size workers plus one watchdog
// goroutine.
func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 8
	}
	if cfg.WatchdogPeriod <= 0 {
		cfg.WatchdogPeriod = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		cfg:          cfg,
		logger:       cfg.Logger.With("pool", cfg.Name),
		queue:        queue.New[*workItem](),
		workers:      make(map[int]*workerState),
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		p.spawnWorker()
	}
	go p.watchdog()

	return p
}

// Post submits fn to the pool with the given retry budget and returns
// a waitable Completion.
func (p *Pool) Post(fn RequestFunc, retries int) *Completion {
	c := newWaitCompletion()
	p.PostWithCompletion(fn, retries, c)
	return c
}

// PostWithCompletion submits fn using a caller-supplied Completion
// (e.g. a callback-style one for fire-and-forget background work such
// as multipart parts).
func (p *Pool) PostWithCompletion(fn RequestFunc, retries int, c *Completion) {
	atomic.AddInt64(&p.stats.Posted, 1)
	p.queue.Post(&workItem{fn: fn, completion: c, retriesLeft: retries, originalRetries: retries})
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Posted:    atomic.LoadInt64(&p.stats.Posted),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Retried:   atomic.LoadInt64(&p.stats.Retried),
		TimedOut:  atomic.LoadInt64(&p.stats.TimedOut),
		Respawned: atomic.LoadInt64(&p.stats.Respawned),
	}
}

// Size returns the number of active (non-abandoned) workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		w.mu.Lock()
		if !w.abandoned {
			n++
		}
		w.mu.Unlock()
	}
	return n
}

// Shutdown aborts the queue (unblocking any worker waiting in Next)
// and stops the watchdog. Workers mid-flight on a request finish that
// request before exiting.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.watchdogStop)
	<-p.watchdogDone
	p.queue.Abort()
}

func (p *Pool) spawnWorker() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	w := &workerState{id: id}
	p.workers[id] = w
	p.mu.Unlock()

	var client *Client
	if p.cfg.Kind == KindRequest && p.cfg.ClientFactory != nil {
		client = p.cfg.ClientFactory()
	}

	go p.runWorker(w, client)
}

func (p *Pool) runWorker(w *workerState, client *Client) {
	for {
		item, ok := p.queue.Next()
		if !ok {
			return
		}

		w.mu.Lock()
		if w.abandoned {
			w.mu.Unlock()
			// This worker was replaced by the watchdog; drop the item
			// back so a healthy worker can pick it up, then exit.
			p.queue.Post(item)
			return
		}
		w.mu.Unlock()

		ctx, cancel := context.WithCancel(context.Background())
		w.beginItem(item, cancel)

		code := p.runItem(ctx, item, client)

		w.endItem()
		cancel()

		w.mu.Lock()
		abandoned := w.abandoned
		w.mu.Unlock()
		if abandoned {
			return
		}

		atomic.AddInt64(&p.stats.Completed, 1)
		item.completion.signal(code)
	}
}

func (p *Pool) runItem(ctx context.Context, item *workItem, client *Client) (code int) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker function panicked", "panic", r)
			code = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("panic: %v", r)).Errno()
		}
	}()

	if p.cfg.Breaker == nil {
		return item.fn(ctx, client)
	}

	err := p.cfg.Breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		code = item.fn(ctx, client)
		if code < 0 {
			return errors.NewError(errors.ErrCodeStorageRead, fmt.Sprintf("request failed with errno %d", -code))
		}
		return nil
	})
	if err != nil && code == 0 {
		// Breaker refused the call outright (open/too-many-requests);
		// fn never ran, so code is still its zero value.
		code = errors.NewError(errors.ErrCodeConnectionFailed, err.Error()).Errno()
	}
	return code
}

func (p *Pool) watchdog() {
	defer close(p.watchdogDone)

	ticker := time.NewTicker(p.cfg.WatchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.watchdogStop:
			return
		case <-ticker.C:
			p.checkTimeouts()
		}
	}
}

func (p *Pool) checkTimeouts() {
	if p.cfg.Timeout <= 0 {
		return
	}

	p.mu.Lock()
	workers := make([]*workerState, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.mu.Unlock()

	for _, w := range workers {
		elapsed, running := w.elapsed()
		if !running || elapsed <= p.cfg.Timeout {
			continue
		}

		w.mu.Lock()
		if w.abandoned {
			w.mu.Unlock()
			continue
		}
		item := w.current
		cancel := w.cancel
		w.abandoned = true
		w.mu.Unlock()

		atomic.AddInt64(&p.stats.TimedOut, 1)
		p.logger.Warn("worker timed out, abandoning", "worker", w.id, "elapsed", elapsed)

		if cancel != nil {
			cancel()
		}

		if item != nil {
			if item.retriesLeft > 0 {
				atomic.AddInt64(&p.stats.Retried, 1)
				p.queue.Post(&workItem{
					fn:              item.fn,
					completion:      item.completion,
					retriesLeft:     item.retriesLeft - 1,
					originalRetries: item.originalRetries,
				})
			} else {
				item.completion.signal(-int(timedOutErrno))
			}
		}

		p.mu.Lock()
		delete(p.workers, w.id)
		p.mu.Unlock()

		p.spawnWorker()
		atomic.AddInt64(&p.stats.Respawned, 1)
	}
}
