// Package batch coalesces concurrent metadata lookups into bounded
// fan-out, used to warm the metadata cache for a directory's children
// right after a readdir rather than paying one cold HEAD per entry on
// the Lookup calls that follow it.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
)

// Fetcher is the subset of internal/metacache.Cache the prefetcher
// warms entries through; it shares the metadata cache's own dedup (two
// prefetches racing a live Lookup collapse onto the same Fetcher call
// via the cache's per-path lock), so Prefetch never issues a duplicate
// HEAD for a path already in flight.
type Fetcher interface {
	Get(ctx context.Context, path string, hint metacache.Hint) (*object.Object, error)
}

// ProcessorConfig controls prefetch batching: how many children queue
// up before a batch fires early, how long a partial batch waits before
// firing anyway, and how many HEADs run concurrently within a batch.
type ProcessorConfig struct {
	MaxBatchSize   int           `yaml:"max_batch_size"`
	MaxWaitTime    time.Duration `yaml:"max_wait_time"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// ProcessorStats tracks prefetch counters, surfaced the same way the
// metadata cache's own Stats are.
type ProcessorStats struct {
	Submitted  int64
	Fetched    int64
	Errors     int64
	BatchCount int64
}

// Processor batches Submit calls into bounded-concurrency fan-out
// against a Fetcher, flushing when a batch fills or MaxWaitTime elapses
// since the first still-pending entry, whichever comes first.
type Processor struct {
	cache          Fetcher
	maxBatchSize   int
	maxWaitTime    time.Duration
	maxConcurrency int

	mu      sync.Mutex
	pending []pendingEntry
	timer   *time.Timer
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	stats ProcessorStats
}

type pendingEntry struct {
	path string
	hint metacache.Hint
}

// NewProcessor creates a prefetch processor warming cache via fetcher.
func NewProcessor(cache Fetcher, config *ProcessorConfig) *Processor {
	if config == nil {
		config = &ProcessorConfig{}
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 64
	}
	if config.MaxWaitTime <= 0 {
		config.MaxWaitTime = 20 * time.Millisecond
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}

	return &Processor{
		cache:          cache,
		maxBatchSize:   config.MaxBatchSize,
		maxWaitTime:    config.MaxWaitTime,
		maxConcurrency: config.MaxConcurrency,
		stopCh:         make(chan struct{}),
	}
}

// Start marks the processor ready to accept Submit calls.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

// Stop flushes any pending batch and stops accepting new entries.
func (p *Processor) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	pending := p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	if len(pending) > 0 {
		p.runBatch(pending)
	}
	p.wg.Wait()
	return nil
}

// Submit queues path for a background metadata warm-up with hint
// guiding which URL form the eventual Fetch tries first. It never
// blocks the caller on the network; readdir calls this and returns
// immediately.
func (p *Processor) Submit(path string, hint metacache.Hint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.pending = append(p.pending, pendingEntry{path: path, hint: hint})
	p.stats.Submitted++

	if len(p.pending) >= p.maxBatchSize {
		batch := p.pending
		p.pending = nil
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runBatch(batch)
		}()
		return
	}

	if p.timer == nil {
		p.timer = time.AfterFunc(p.maxWaitTime, p.flushDue)
	}
}

func (p *Processor) flushDue() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.timer = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runBatch(batch)
	}()
}

// runBatch fans entries out across maxConcurrency goroutines. A
// prefetch failure just leaves the cache cold for that path; the
// caller's eventual Lookup will retry the HEAD itself, so errors here
// are counted, not propagated.
func (p *Processor) runBatch(entries []pendingEntry) {
	p.mu.Lock()
	p.stats.BatchCount++
	p.mu.Unlock()

	sem := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := p.cache.Get(ctx, e.path, e.hint)

			p.mu.Lock()
			if err != nil {
				p.stats.Errors++
			} else {
				p.stats.Fetched++
			}
			p.mu.Unlock()
		}()
	}
	wg.Wait()
}

// GetStats returns a snapshot of prefetch counters.
func (p *Processor) GetStats() ProcessorStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
