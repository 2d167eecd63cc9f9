//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/objectfs/objectfs/internal/batch"
	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
)

// CgoFuseFS implements ObjectFS over winfsp/cgofuse — the secondary,
// cross-platform (in particular Windows) mount path — against the
// same core the primary go-fuse filesystem.go uses: a metadata cache,
// an open-file engine, and a Lister/Remover pair. Unlike go-fuse's
// node-tree model, cgofuse's FileSystemBase is path-string based, so
// this type has no Node/FileHandle split; every call resolves its
// path directly against the core.
type CgoFuseFS struct {
	fuse.FileSystemBase

	cache   *metacache.Cache
	engine  *openfile.Engine
	lister  Lister
	remover Remover

	bucketURL string
	defaults  object.Defaults

	config *Config
	logger *slog.Logger

	mu      sync.RWMutex
	handles map[uint64]string
	stats   *Stats

	host    *fuse.FileSystemHost
	mounted bool

	prefetch *batch.Processor
}

// NewCgoFuseFS creates a new cgofuse-based filesystem over the core.
func NewCgoFuseFS(cache *metacache.Cache, engine *openfile.Engine, lister Lister, remover Remover,
	bucketURL string, defaults object.Defaults, config *Config) *CgoFuseFS {
	prefetch := batch.NewProcessor(cache, &batch.ProcessorConfig{
		MaxBatchSize:   64,
		MaxWaitTime:    20 * time.Millisecond,
		MaxConcurrency: config.Concurrency,
	})
	_ = prefetch.Start()

	return &CgoFuseFS{
		cache:     cache,
		engine:    engine,
		lister:    lister,
		remover:   remover,
		bucketURL: bucketURL,
		defaults:  defaults,
		config:    config,
		logger:    slog.Default().With("component", "cgofuse"),
		handles:   make(map[uint64]string),
		stats:     &Stats{},
		prefetch:  prefetch,
	}
}

func (cf *CgoFuseFS) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

// validatePath enforces the same NAME_MAX and trailing-slash invariants
// filesystem.go's node-tree dispatch gets for free from go-fuse: cgofuse
// hands every call a raw path string, so this bridge has to check the
// final component itself.
func validatePath(path string) int {
	if path != "/" && strings.HasSuffix(path, "/") {
		return -int(fuse.EINVAL)
	}
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	if len(base) > nameMax {
		return -int(fuse.ENAMETOOLONG)
	}
	return 0
}

// Mount mounts the filesystem.
func (cf *CgoFuseFS) Mount(ctx context.Context) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if cf.mounted {
		return fmt.Errorf("filesystem already mounted")
	}

	cf.host = fuse.NewFileSystemHost(cf)

	options := []string{
		"-o", "fsname=objectfs",
		"-o", "subtype=s3",
		"-o", "allow_other",
	}
	switch {
	case strings.Contains(os.Getenv("GOOS"), "darwin"):
		options = append(options, "-o", "volname=ObjectFS")
	case strings.Contains(os.Getenv("GOOS"), "windows"):
		options = append(options, "-o", "FileSystemName=ObjectFS")
	}

	go func() {
		ret := cf.host.Mount(cf.config.MountPoint, options)
		if ret != 0 {
			log.Printf("Mount failed with code: %d", ret)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	cf.mounted = true
	log.Printf("ObjectFS mounted at: %s", cf.config.MountPoint)
	return nil
}

// Unmount unmounts the filesystem.
func (cf *CgoFuseFS) Unmount() error {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	if !cf.mounted {
		return fmt.Errorf("filesystem not mounted")
	}
	if cf.host != nil {
		if ret := cf.host.Unmount(); ret != 0 {
			return fmt.Errorf("unmount failed with code: %d", ret)
		}
	}
	cf.mounted = false
	_ = cf.prefetch.Stop()
	log.Printf("ObjectFS unmounted from: %s", cf.config.MountPoint)
	return nil
}

// IsMounted returns whether the filesystem is mounted.
func (cf *CgoFuseFS) IsMounted() bool {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	return cf.mounted
}

func (cf *CgoFuseFS) fillStat(stat *fuse.Stat_t, obj *object.Object) {
	st := obj.Stat()
	stat.Mode = st.Mode
	stat.Size = st.Size
	stat.Nlink = 1
	if st.Nlink > 0 {
		stat.Nlink = st.Nlink
	}
	stat.Mtim.Sec = st.Mtime.Unix()
	stat.Mtim.Nsec = int64(st.Mtime.Nanosecond())
	stat.Ctim.Sec = st.Ctime.Unix()
	stat.Ctim.Nsec = int64(st.Ctime.Nanosecond())
	stat.Uid = st.UID
	if stat.Uid == object.UseProcessOwner {
		stat.Uid = cf.defaults.UID
	}
	stat.Gid = st.GID
	if stat.Gid == object.UseProcessOwner {
		stat.Gid = cf.defaults.GID
	}
}

func (cf *CgoFuseFS) recordError() {
	cf.stats.mu.Lock()
	cf.stats.Errors++
	cf.stats.mu.Unlock()
}

// Getattr gets file attributes.
func (cf *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	ctx := context.Background()
	key := cf.key(path)
	if key == "" {
		stat.Mode = fuse.S_IFDIR | 0755
		stat.Nlink = 2
		return 0
	}

	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	cf.fillStat(stat, obj)
	return 0
}

// Open opens an existing file.
func (cf *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	key := cf.key(path)
	handle, err := cf.engine.Open(context.Background(), key, openfile.OpenOptions{})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), 0
	}

	cf.mu.Lock()
	cf.handles[handle] = key
	cf.mu.Unlock()

	cf.stats.mu.Lock()
	cf.stats.Opens++
	cf.stats.mu.Unlock()
	return 0, handle
}

// Create creates and opens a new file.
func (cf *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	if errno := validatePath(path); errno != 0 {
		return errno, 0
	}
	key := cf.key(path)
	defaults := cf.defaults
	defaults.Mode = mode
	obj := object.New(key, object.KindFile, cf.bucketURL, defaults)
	cf.cache.Put(key, obj)

	handle, err := cf.engine.Open(context.Background(), key, openfile.OpenOptions{Truncate: true})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), 0
	}

	cf.mu.Lock()
	cf.handles[handle] = key
	cf.mu.Unlock()

	cf.stats.mu.Lock()
	cf.stats.Creates++
	cf.stats.Opens++
	cf.stats.mu.Unlock()
	return 0, handle
}

// Read reads from an open file's staging file.
func (cf *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := cf.engine.Read(fh, buff, ofst)
	if err != nil && n == 0 {
		cf.recordError()
		return -int(errnoFrom(err))
	}

	cf.stats.mu.Lock()
	cf.stats.Reads++
	cf.stats.BytesRead += int64(n)
	cf.stats.mu.Unlock()
	return n
}

// Write writes to an open file's staging file.
func (cf *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := cf.engine.Write(fh, buff, ofst)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}

	cf.stats.mu.Lock()
	cf.stats.Writes++
	cf.stats.BytesWritten += int64(n)
	cf.stats.mu.Unlock()
	return n
}

// Flush uploads a dirty staging file without releasing the handle.
func (cf *CgoFuseFS) Flush(path string, fh uint64) int {
	cf.mu.RLock()
	key := cf.handles[fh]
	cf.mu.RUnlock()

	if err := cf.engine.Flush(context.Background(), fh, key, false); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Release closes a file, flushing any dirty content.
func (cf *CgoFuseFS) Release(path string, fh uint64) int {
	cf.mu.Lock()
	key := cf.handles[fh]
	delete(cf.handles, fh)
	cf.mu.Unlock()

	if err := cf.engine.Flush(context.Background(), fh, key, true); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Mkdir creates a directory marker object.
func (cf *CgoFuseFS) Mkdir(path string, mode uint32) int {
	if errno := validatePath(path); errno != 0 {
		return errno
	}
	key := cf.key(path)
	defaults := cf.defaults
	defaults.Mode = mode
	obj := object.New(key, object.KindDirectory, cf.bucketURL, defaults)
	cf.cache.Put(key, obj)

	ctx := context.Background()
	handle, err := cf.engine.Open(ctx, key, openfile.OpenOptions{Truncate: true})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if err := cf.engine.Flush(ctx, handle, key, true); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Rmdir removes an empty directory.
func (cf *CgoFuseFS) Rmdir(path string) int {
	if errno := validatePath(path); errno != 0 {
		return errno
	}
	key := cf.key(path)
	ctx := context.Background()

	files, dirs, err := cf.lister.ListChildren(ctx, key)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if len(files) > 0 || len(dirs) > 0 {
		return -int(fuse.ENOTEMPTY)
	}
	if err := cf.remover.Delete(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	cf.cache.InvalidateWithParent(key)
	return 0
}

// Unlink removes a file.
func (cf *CgoFuseFS) Unlink(path string) int {
	if errno := validatePath(path); errno != 0 {
		return errno
	}
	key := cf.key(path)
	if err := cf.remover.Delete(context.Background(), key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	cf.cache.InvalidateWithParent(key)
	return 0
}

// Readdir lists a directory's children via the Lister.
func (cf *CgoFuseFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	files, dirs, err := cf.lister.ListChildren(context.Background(), cf.key(path))
	if err != nil {
		cf.recordError()
		return -int(fuse.EIO)
	}

	key := cf.key(path)
	for _, name := range dirs {
		stat := &fuse.Stat_t{Mode: fuse.S_IFDIR | 0755, Nlink: 2}
		cf.prefetch.Submit(joinPath(key, name), metacache.HintDirectory)
		if !fill(name, stat, 0) {
			return 0
		}
	}
	for _, name := range files {
		stat := &fuse.Stat_t{Mode: fuse.S_IFREG | 0644, Nlink: 1}
		cf.prefetch.Submit(joinPath(key, name), metacache.HintFile)
		if !fill(name, stat, 0) {
			return 0
		}
	}
	return 0
}

// Truncate changes a file's size.
func (cf *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	if err := cf.engine.Truncate(context.Background(), cf.key(path), size); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Chmod changes a file's permission bits, persisted via a metadata-only
// re-upload.
func (cf *CgoFuseFS) Chmod(path string, mode uint32) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	obj.SetMode(mode)
	if err := cf.engine.Touch(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Chown changes a file's owner/group, persisted via a metadata-only
// re-upload. Either uid or gid may be object.UseProcessOwner's sentinel
// meaning "leave unchanged", per cgofuse's own Chown contract.
func (cf *CgoFuseFS) Chown(path string, uid uint32, gid uint32) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	st := obj.Stat()
	if uid == object.UseProcessOwner {
		uid = st.UID
	}
	if gid == object.UseProcessOwner {
		gid = st.GID
	}
	obj.SetOwner(uid, gid)
	if err := cf.engine.Touch(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Utimens sets a file's access/modification times. Only the
// modification time (tmsp[1]) is tracked, per object.Stat's single
// Mtime field.
func (cf *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	if len(tmsp) >= 2 {
		obj.SetMtime(time.Unix(tmsp[1].Sec, tmsp[1].Nsec))
	}
	if err := cf.engine.Touch(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Symlink creates a symlink object whose body carries symlinkPrefix
// followed by target, matching filesystem.go's wire format.
func (cf *CgoFuseFS) Symlink(target string, newpath string) int {
	if errno := validatePath(newpath); errno != 0 {
		return errno
	}
	ctx := context.Background()
	key := cf.key(newpath)
	obj := object.New(key, object.KindSymlink, cf.bucketURL, cf.defaults)
	cf.cache.Put(key, obj)

	body := symlinkPrefix + target
	handle, err := cf.engine.Open(ctx, key, openfile.OpenOptions{Truncate: true})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if _, err := cf.engine.Write(handle, []byte(body), 0); err != nil {
		cf.engine.Release(handle, key)
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if err := cf.engine.Flush(ctx, handle, key, true); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	obj.SetSymlinkTarget(target)
	return 0
}

// Readlink returns a symlink's target, stripping and validating
// symlinkPrefix the way filesystem.go's Readlink does.
func (cf *CgoFuseFS) Readlink(path string) (int, string) {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintFile)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), ""
	}
	if obj == nil {
		return -int(fuse.ENOENT), ""
	}
	if target := obj.SymlinkTarget(); target != "" {
		return 0, target
	}

	handle, err := cf.engine.Open(ctx, key, openfile.OpenOptions{})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), ""
	}
	defer cf.engine.Release(handle, key)

	buf := make([]byte, obj.Stat().Size)
	nread, err := cf.engine.Read(handle, buf, 0)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), ""
	}

	body := buf[:nread]
	if !strings.HasPrefix(string(body), symlinkPrefix) {
		cf.recordError()
		return -int(fuse.EINVAL), ""
	}
	target := string(body[len(symlinkPrefix):])
	if target == "" {
		cf.recordError()
		return -int(fuse.EINVAL), ""
	}
	obj.SetSymlinkTarget(target)
	return 0, target
}

// Rename moves an object by copying its content to the new path and
// deleting the old one, mirroring filesystem.go's Rename — the object
// store has no atomic rename primitive.
func (cf *CgoFuseFS) Rename(oldpath string, newpath string) int {
	if errno := validatePath(oldpath); errno != 0 {
		return errno
	}
	if errno := validatePath(newpath); errno != 0 {
		return errno
	}
	ctx := context.Background()
	oldKey := cf.key(oldpath)
	newKey := cf.key(newpath)

	obj, err := cf.cache.Get(ctx, oldKey, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}

	if obj.Kind() == object.KindDirectory {
		files, dirs, err := cf.lister.ListChildren(ctx, oldKey)
		if err != nil {
			cf.recordError()
			return -int(errnoFrom(err))
		}
		if len(files) > 0 || len(dirs) > 0 {
			return -int(fuse.ENOTEMPTY)
		}
	}

	size := obj.Stat().Size
	srcHandle, err := cf.engine.Open(ctx, oldKey, openfile.OpenOptions{})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	defer cf.engine.Release(srcHandle, oldKey)

	newObj := object.New(newKey, obj.Kind(), cf.bucketURL, cf.defaults)
	newObj.SetMode(obj.Stat().Mode)
	cf.cache.Put(newKey, newObj)

	dstHandle, err := cf.engine.Open(ctx, newKey, openfile.OpenOptions{Truncate: true})
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}

	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for off := int64(0); off < size; off += chunk {
		nread, err := cf.engine.Read(srcHandle, buf, off)
		if err != nil && nread == 0 {
			cf.engine.Release(dstHandle, newKey)
			cf.recordError()
			return -int(errnoFrom(err))
		}
		if _, err := cf.engine.Write(dstHandle, buf[:nread], off); err != nil {
			cf.engine.Release(dstHandle, newKey)
			cf.recordError()
			return -int(errnoFrom(err))
		}
	}

	if err := cf.engine.Flush(ctx, dstHandle, newKey, true); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}

	if err := cf.remover.Delete(ctx, oldKey); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	cf.cache.InvalidateWithParent(oldKey)
	return 0
}

// Getxattr reads a user extended attribute.
func (cf *CgoFuseFS) Getxattr(path string, name string) (int, []byte) {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err)), nil
	}
	if obj == nil {
		return -int(fuse.ENOENT), nil
	}
	val, err := obj.Xattr(xattrKey(name))
	if err != nil {
		return -int(errnoFrom(err)), nil
	}
	return 0, val
}

// Setxattr writes a user extended attribute and persists it via a
// metadata-only re-upload.
func (cf *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}

	const (
		xattrCreate  = 1
		xattrReplace = 2
	)
	if err := obj.SetXattr(xattrKey(name), value, flags&xattrCreate != 0, flags&xattrReplace != 0); err != nil {
		return -int(errnoFrom(err))
	}
	if err := cf.engine.Touch(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Listxattr lists every user extended attribute key via fill.
func (cf *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	for _, name := range obj.XattrKeys() {
		if !fill(name) {
			break
		}
	}
	return 0
}

// Removexattr deletes a user extended attribute and persists the
// change via a metadata-only re-upload.
func (cf *CgoFuseFS) Removexattr(path string, name string) int {
	ctx := context.Background()
	key := cf.key(path)
	obj, err := cf.cache.Get(ctx, key, metacache.HintNone)
	if err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	if obj == nil {
		return -int(fuse.ENOENT)
	}
	if err := obj.RemoveXattr(xattrKey(name)); err != nil {
		return -int(errnoFrom(err))
	}
	if err := cf.engine.Touch(ctx, key); err != nil {
		cf.recordError()
		return -int(errnoFrom(err))
	}
	return 0
}

// Statfs reports synthetic filesystem-wide statistics, matching
// filesystem.go's Statfs: object storage has no meaningful block/inode
// quota to query.
func (cf *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	const blockSize = 4096
	stat.Bsize = blockSize
	stat.Frsize = blockSize
	stat.Blocks = 1 << 30
	stat.Bfree = 1 << 30
	stat.Bavail = 1 << 30
	stat.Files = 1 << 20
	stat.Ffree = 1 << 20
	stat.Namemax = nameMax
	return 0
}

// GetStats returns filesystem statistics.
func (cf *CgoFuseFS) GetStats() *FilesystemStats {
	cf.stats.mu.RLock()
	defer cf.stats.mu.RUnlock()
	return &FilesystemStats{
		Lookups:      cf.stats.Lookups,
		Opens:        cf.stats.Opens,
		Reads:        cf.stats.Reads,
		Writes:       cf.stats.Writes,
		BytesRead:    cf.stats.BytesRead,
		BytesWritten: cf.stats.BytesWritten,
		CacheHits:    cf.stats.CacheHits,
		CacheMisses:  cf.stats.CacheMisses,
		Errors:       cf.stats.Errors,
	}
}
