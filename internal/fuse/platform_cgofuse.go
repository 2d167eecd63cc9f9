//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

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

// CreatePlatformMountManager creates the cgofuse mount manager, wiring
// the same core the go-fuse-backed build uses.
func CreatePlatformMountManager(cache *metacache.Cache, engine *openfile.Engine, lister Lister, remover Remover,
	bucketURL string, defaults object.Defaults, config *MountConfig) PlatformFileSystem {

	return NewCgoFuseMountManager(cache, engine, lister, remover, bucketURL, defaults, config)
}
