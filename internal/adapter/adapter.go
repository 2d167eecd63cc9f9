package adapter

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/objectfs/objectfs/internal/circuit"
	"github.com/objectfs/objectfs/internal/config"
	"github.com/objectfs/objectfs/internal/fuse"
	"github.com/objectfs/objectfs/internal/health"
	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/metrics"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
	reqpool "github.com/objectfs/objectfs/internal/pool"
	"github.com/objectfs/objectfs/internal/storage/s3"
	pkghealth "github.com/objectfs/objectfs/pkg/health"
	"github.com/objectfs/objectfs/pkg/status"
)

// Adapter wires the core — metadata cache, open-file engine, secondary
// transfer pool and the S3 service adapter — into a mounted filesystem,
// per the Init/Terminate ordering: backend, pools, metadata cache,
// mount.
type Adapter struct {
	storageURI string
	mountPoint string
	config     *config.Configuration

	backend    *s3.Backend
	svcAdapter *s3.Adapter
	secondary  *reqpool.Pool
	cache      *metacache.Cache
	engine     *openfile.Engine
	mountMgr   fuse.PlatformFileSystem
	stats      *metrics.Collector
	statsStop  context.CancelFunc
	statsDone  chan struct{}
	checker    *health.Checker
	tracker    *pkghealth.Tracker
	progress   *status.Tracker

	started    bool
	bucketName string
}

// New creates a new ObjectFS adapter instance
func New(ctx context.Context, storageURI, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	if err := validateStorageURI(storageURI); err != nil {
		return nil, fmt.Errorf("invalid storage URI: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	parsed, err := url.Parse(storageURI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse storage URI: %w", err)
	}

	bucketName := strings.TrimPrefix(parsed.Host, "")
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	return &Adapter{
		storageURI: storageURI,
		mountPoint: mountPoint,
		config:     cfg,
		bucketName: bucketName,
	}, nil
}

// Start initializes and starts the adapter, following the Init
// ordering: backend, request-worker pool, metadata cache, open-file
// engine, mount.
func (a *Adapter) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("Starting ObjectFS adapter...")
	log.Printf("Storage URI: %s", a.storageURI)
	log.Printf("Mount Point: %s", a.mountPoint)
	log.Printf("Max Concurrency: %d", a.config.Performance.MaxConcurrency)

	var err error

	// 1. Initialize the S3 backend connection pool.
	backendConfig := &s3.BackendConfig{
		MaxRetries:     3,
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PoolSize:       a.config.Performance.ConnectionPoolSize,
	}
	a.backend, err = s3.NewBackend(ctx, a.bucketName, backendConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}

	bucketURL := fmt.Sprintf("https://%s.s3.amazonaws.com", a.bucketName)
	defaults := object.Defaults{
		Mode: 0o644,
		UID:  object.UseProcessOwner,
		GID:  object.UseProcessOwner,
	}
	a.svcAdapter = s3.NewAdapter(a.backend, bucketURL, defaults, object.DefaultTypeCheckers())

	// 2. Initialize the secondary request-worker pool fanning out
	// multipart transfer work, per §4.3.
	secondarySize := a.config.Performance.MaxConcurrency
	if secondarySize <= 0 {
		secondarySize = 8
	}
	var breaker *circuit.CircuitBreaker
	if a.config.Network.CircuitBreaker.Enabled {
		threshold := uint32(a.config.Network.CircuitBreaker.FailureThreshold)
		breaker = circuit.NewCircuitBreaker(string(reqpool.Secondary), circuit.Config{
			Timeout: a.config.Network.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.Requests >= threshold && counts.TotalFailures >= threshold
			},
		})
	}

	a.secondary = reqpool.New(reqpool.Config{
		Name:    string(reqpool.Secondary),
		Kind:    reqpool.KindRequest,
		Size:    secondarySize,
		Breaker: breaker,
		ClientFactory: func() *reqpool.Client {
			return reqpool.NewClient(nil, a.config.Network.Timeouts.Read)
		},
	})

	// pkg/health.Tracker tracks a coarser-grained, self-recovering
	// read/write availability state per component than the liveness
	// Checker registered in step 7 below; sampleStats feeds it errors
	// and successes off the same filesystem-stats deltas it samples for
	// the statistics writer.
	a.tracker = pkghealth.NewTracker(pkghealth.DefaultConfig())
	a.tracker.RegisterComponent("backend")
	a.tracker.RegisterComponent("metadata-cache")
	a.progress = status.NewTracker(status.TrackerConfig{HealthTracker: a.tracker})

	// 3. Initialize the metadata cache (§4.5), backed by the S3
	// adapter as Fetcher.
	a.cache = metacache.New(metacache.Config{
		MaxEntries: a.config.Cache.MaxEntries,
		Fetcher:    a.svcAdapter,
		Logger:     slog.Default(),
	})

	// 4. Initialize the open-file engine (§4.6).
	a.engine = openfile.New(openfile.Config{
		StagingDir:        a.config.Cache.PersistentCache.Directory,
		DownloadChunkSize: 8 << 20,
		UploadChunkSize:   8 << 20,
		MaxConcurrency:    secondarySize,
		Logger:            slog.Default(),
		Progress:          a.progress,
	}, a.cache, a.svcAdapter, a.secondary)

	// 5. Initialize the platform-specific FUSE filesystem and mount it.
	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			FSName:   "objectfs",
			Subtype:  "s3",
			MaxRead:  128 * 1024,
			MaxWrite: 128 * 1024,
			Debug:    false,
		},
	}

	a.mountMgr = fuse.CreatePlatformMountManager(a.cache, a.engine, a.svcAdapter, a.svcAdapter, bucketURL, defaults, mountConfig)

	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	// 6. Initialize the statistics writer, per §9's Init ordering — it
	// samples the mounted filesystem, so it comes up after the mount.
	metricsCfg := &metrics.Config{
		Enabled:        a.config.Monitoring.Metrics.Enabled,
		Port:           a.config.Global.MetricsPort,
		Path:           "/metrics",
		Namespace:      "objectfs",
		Labels:         a.config.Monitoring.Metrics.CustomLabels,
		UpdateInterval: 10 * time.Second,
	}
	a.stats, err = metrics.NewCollector(metricsCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize statistics writer: %w", err)
	}
	if err := a.stats.Start(ctx); err != nil {
		return fmt.Errorf("failed to start statistics writer: %w", err)
	}

	statsCtx, cancel := context.WithCancel(ctx)
	a.statsStop = cancel
	a.statsDone = make(chan struct{})
	go a.sampleStats(statsCtx, metricsCfg.UpdateInterval)

	// 7. Bring up the health checker last, watching the service adapter
	// and metadata cache the rest of Start just constructed.
	a.checker, err = health.NewChecker(&health.Config{
		Enabled:        true,
		CheckInterval:  a.config.Monitoring.HealthChecks.Interval,
		Timeout:        a.config.Monitoring.HealthChecks.Timeout,
		MaxFailures:    3,
		HTTPEnabled:    false,
		MetricsEnabled: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize health checker: %w", err)
	}
	_ = a.checker.RegisterCheck("backend", "S3 service adapter reachability",
		health.CategoryStorage, health.PriorityCritical,
		health.StorageCheck(func(ctx context.Context) error {
			_, err := a.svcAdapter.Fetch(ctx, "", metacache.HintDirectory)
			return err
		}))
	_ = a.checker.RegisterCheck("metadata-cache", "metadata cache liveness",
		health.CategoryCache, health.PriorityHigh,
		health.CacheCheck(func(ctx context.Context) error {
			if a.cache.Size() < 0 {
				return fmt.Errorf("metadata cache reports a negative size")
			}
			return nil
		}))
	if err := a.checker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}

	a.started = true
	log.Printf("ObjectFS adapter started successfully")
	return nil
}

// sampleStats periodically folds the mounted filesystem's cumulative
// FilesystemStats counters into the statistics writer as deltas, since
// the collector's RecordOperation/RecordCacheHit/RecordCacheMiss/
// RecordError all expect per-event calls rather than a running total.
func (a *Adapter) sampleStats(ctx context.Context, interval time.Duration) {
	defer close(a.statsDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev fuse.FilesystemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := a.mountMgr.GetStats()
			if snap == nil {
				continue
			}

			if d := snap.Reads - prev.Reads; d > 0 {
				a.stats.RecordOperation("read", 0, snap.BytesRead-prev.BytesRead, true)
			}
			if d := snap.Writes - prev.Writes; d > 0 {
				a.stats.RecordOperation("write", 0, snap.BytesWritten-prev.BytesWritten, true)
			}
			if d := snap.CacheHits - prev.CacheHits; d > 0 {
				a.stats.RecordCacheHit("metadata", d)
			}
			if d := snap.CacheMisses - prev.CacheMisses; d > 0 {
				a.stats.RecordCacheMiss("metadata", d)
			}
			if d := snap.Errors - prev.Errors; d > 0 {
				a.stats.RecordError("fuse", fmt.Errorf("%d filesystem error(s) recorded", d))
				a.tracker.RecordError("backend", fmt.Errorf("%d filesystem error(s) recorded", d))
			} else {
				a.tracker.RecordSuccess("backend")
			}
			if d := snap.CacheMisses - prev.CacheMisses; d > 0 && snap.CacheHits == prev.CacheHits {
				a.tracker.RecordError("metadata-cache", fmt.Errorf("%d consecutive cache misses with no hits", d))
			} else {
				a.tracker.RecordSuccess("metadata-cache")
			}
			a.stats.UpdateActiveConnections(int(snap.Opens))

			prev = *snap
		}
	}
}

// Stop gracefully stops the adapter in reverse Init order: unmount,
// then close the backend.
func (a *Adapter) Stop(ctx context.Context) error {
	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("Stopping ObjectFS adapter...")

	var lastErr error

	if a.checker != nil {
		if err := a.checker.Stop(); err != nil {
			log.Printf("Error stopping health checker: %v", err)
			lastErr = err
		}
	}

	if a.statsStop != nil {
		a.statsStop()
		<-a.statsDone
	}
	if a.stats != nil {
		if err := a.stats.Stop(ctx); err != nil {
			log.Printf("Error stopping statistics writer: %v", err)
			lastErr = err
		}
	}

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("Error unmounting filesystem: %v", err)
			lastErr = err
		}
	}

	if a.secondary != nil {
		a.secondary.Shutdown()
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Printf("Error closing backend: %v", err)
			lastErr = err
		}
	}

	a.started = false
	log.Printf("ObjectFS adapter stopped successfully")
	return lastErr
}

// validateStorageURI validates the storage URI format
func validateStorageURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return fmt.Errorf("S3 URI must include bucket name")
		}
	default:
		return fmt.Errorf("unsupported storage scheme: %s (only s3:// supported)", parsed.Scheme)
	}

	return nil
}
