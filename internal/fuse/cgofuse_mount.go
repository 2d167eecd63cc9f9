//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
)

// CgoFuseMountManager manages cgofuse-based mounts.
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
	config     *MountConfig
}

// NewCgoFuseMountManager creates a new cgofuse mount manager wired to
// the same core collaborators the primary go-fuse path uses.
func NewCgoFuseMountManager(cache *metacache.Cache, engine *openfile.Engine, lister Lister, remover Remover,
	bucketURL string, defaults object.Defaults, config *MountConfig) *CgoFuseMountManager {

	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    false,
		DefaultUID:  defaults.UID,
		DefaultGID:  defaults.GID,
		DefaultMode: defaults.Mode,
		CacheTTL:    60 * time.Second,
	}

	filesystem := NewCgoFuseFS(cache, engine, lister, remover, bucketURL, defaults, fuseConfig)

	return &CgoFuseMountManager{
		filesystem: filesystem,
		config:     config,
	}
}

// Mount mounts the filesystem
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// GetStats returns filesystem statistics
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return m.filesystem.GetStats()
}
