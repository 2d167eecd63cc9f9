package pool

import (
	"log/slog"
	"time"
)

// Manager owns the three named pools exposed by the core: Primary
// (foreground filesystem operations), Secondary (background multipart
// parts), and Compute (non-HTTP work, currently used rarely — see
// §4.3). It is one of the process-wide singletons in §9's Init/
// Terminate ordering: created after the service adapter, before the
// metadata cache.
type Manager struct {
	primary   *Pool
	secondary *Pool
	compute   *Pool
}

// ManagerConfig configures the three pools a Manager owns.
type ManagerConfig struct {
	WorkerCount    int // default 8, per §5
	RequestTimeout time.Duration
	ClientFactory  func() *Client
	ComputeWorkers int // default 2; compute pool is small since it is rarely used
	Logger         *slog.Logger
}

// NewManager starts the primary, secondary and compute pools.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	if cfg.ComputeWorkers <= 0 {
		cfg.ComputeWorkers = 2
	}

	return &Manager{
		primary: New(Config{
			Name:          string(Primary),
			Kind:          KindRequest,
			Size:          cfg.WorkerCount,
			Timeout:       cfg.RequestTimeout,
			ClientFactory: cfg.ClientFactory,
			Logger:        cfg.Logger,
		}),
		secondary: New(Config{
			Name:          string(Secondary),
			Kind:          KindRequest,
			Size:          cfg.WorkerCount,
			Timeout:       cfg.RequestTimeout,
			ClientFactory: cfg.ClientFactory,
			Logger:        cfg.Logger,
		}),
		compute: New(Config{
			Name:    string(Compute),
			Kind:    KindCompute,
			Size:    cfg.ComputeWorkers,
			Timeout: cfg.RequestTimeout,
			Logger:  cfg.Logger,
		}),
	}
}

// Pool returns the named pool.
func (m *Manager) Pool(id Identifier) *Pool {
	switch id {
	case Primary:
		return m.primary
	case Secondary:
		return m.secondary
	case Compute:
		return m.compute
	default:
		return nil
	}
}

// Shutdown stops all three pools.
func (m *Manager) Shutdown() {
	m.primary.Shutdown()
	m.secondary.Shutdown()
	m.compute.Shutdown()
}
