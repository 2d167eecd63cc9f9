//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"time"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
)

// PlatformFileSystem is the platform-independent surface a mount
// manager exposes, satisfied by both the primary go-fuse-backed
// MountManager and the cgofuse-backed fallback.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	GetStats() *FilesystemStats
}

// CreatePlatformMountManager wires the core (metadata cache, open-file
// engine, and the service adapter's listing/deletion surface) into the
// go-fuse-backed filesystem and returns its mount manager.
func CreatePlatformMountManager(cache *metacache.Cache, engine *openfile.Engine, lister Lister, remover Remover,
	bucketURL string, defaults object.Defaults, config *MountConfig) PlatformFileSystem {
	fuseConfig := &Config{
		MountPoint:  config.MountPoint,
		ReadOnly:    false,
		DefaultUID:  defaults.UID,
		DefaultGID:  defaults.GID,
		DefaultMode: defaults.Mode,
		CacheTTL:    60 * time.Second,
	}

	filesystem := NewFileSystem(cache, engine, lister, remover, bucketURL, defaults, fuseConfig)
	return NewMountManager(filesystem, config)
}
