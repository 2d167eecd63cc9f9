package fuse

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/objectfs/internal/batch"
	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
	"github.com/objectfs/objectfs/pkg/utils"
)

// nameMax is the POSIX NAME_MAX the kernel bridge enforces on the
// final path component of every operation, per §6.
const nameMax = 255

// Lister lists a directory object's immediate children, splitting
// plain objects from common-prefix "subdirectories" the way an S3-
// style bucket listing does. internal/storage/s3.Adapter implements
// it structurally.
type Lister interface {
	ListChildren(ctx context.Context, path string) (files, dirs []string, err error)
}

// Remover deletes the object at path outright — an unlink, or the
// removal of an empty directory's marker object.
type Remover interface {
	Delete(ctx context.Context, path string) error
}

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// errnoFrom unwraps the POSIX errno an error should surface to the
// kernel, via *errors.ObjectFSError's Errno() when present, defaulting
// to EIO for anything else (a transport or staging-file failure that
// never got translated).
func errnoFrom(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	type hasErrno interface{ Errno() int }
	if e, ok := err.(hasErrno); ok {
		return syscall.Errno(-e.Errno())
	}
	return syscall.EIO
}

// validateName enforces §6's final-component length limit. go-fuse's
// node-tree dispatch already guarantees name never carries a leading
// or embedded slash (each Lookup/Create/Mkdir/etc. call receives one
// path component at a time), so the leading-slash and non-root
// trailing-slash checks §6 describes for the raw path interface are
// structurally satisfied by the node-tree model itself and need no
// separate check here.
func validateName(name string) syscall.Errno {
	if len(name) > nameMax {
		return syscall.ENAMETOOLONG
	}
	return 0
}

// joinPath builds a child's object path from its parent directory path
// and name, rejecting a name that would escape parent via SecureJoin's
// base-prefix check — go-fuse's node-tree dispatch already guarantees
// name carries no slash, but this is the same defense-in-depth
// SecureJoin gives path-on-disk joins, applied to the object
// namespace's own "/"-joined paths.
// joinRoot is a synthetic base SecureJoin anchors against; it is never
// itself part of an object path, just a prefix stripped back off below.
const joinRoot = "/objectfs-root"

func joinPath(parent, name string) string {
	full, err := utils.SecureJoin(joinRoot, parent, name)
	if err != nil {
		// Escaping names can't happen given go-fuse's guarantee; fall
		// back to a plain join rather than silently dropping the call.
		if parent == "" {
			return name
		}
		return parent + "/" + name
	}
	return strings.TrimPrefix(full, joinRoot+"/")
}

// Config represents FUSE filesystem configuration
type Config struct {
	// Mount options
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	// FUSE options
	DirectIO  bool   `yaml:"direct_io"`
	KeepCache bool   `yaml:"keep_cache"`
	BigWrites bool   `yaml:"big_writes"`
	MaxRead   uint32 `yaml:"max_read"`
	MaxWrite  uint32 `yaml:"max_write"`

	// Filesystem behavior
	DefaultUID  uint32        `yaml:"default_uid"`
	DefaultGID  uint32        `yaml:"default_gid"`
	DefaultMode uint32        `yaml:"default_mode"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`

	// Performance settings
	ReadAhead   uint32 `yaml:"read_ahead"`
	WriteBuffer uint32 `yaml:"write_buffer"`
	Concurrency int    `yaml:"concurrency"`
}

// Stats tracks filesystem operation statistics
type Stats struct {
	mu sync.RWMutex

	Lookups int64 `json:"lookups"`
	Opens   int64 `json:"opens"`
	Reads   int64 `json:"reads"`
	Writes  int64 `json:"writes"`
	Creates int64 `json:"creates"`
	Deletes int64 `json:"deletes"`

	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	Errors int64 `json:"errors"`
}

// FileSystem bridges the kernel's FUSE calls to the core: a
// metacache.Cache for metadata resolution, an openfile.Engine for the
// handle-table/staging-file machinery behind open/read/write/flush,
// and a Lister/Remover pair for directory listing and deletion — the
// operations the core's object model and open-file engine don't
// themselves cover.
type FileSystem struct {
	fs.Inode

	cache  *metacache.Cache
	engine *openfile.Engine

	lister  Lister
	remover Remover

	bucketURL string
	defaults  object.Defaults

	config *Config
	logger *slog.Logger

	stats *Stats

	prefetch *batch.Processor
}

// NewFileSystem creates a new FUSE filesystem instance over an
// already-constructed core (metadata cache, open-file engine, and the
// service adapter's listing/deletion surface). Readdir uses cache as
// its own prefetch Fetcher, so a directory listing warms the metadata
// cache for every child it returns before the kernel's own follow-up
// Lookups arrive.
func NewFileSystem(cache *metacache.Cache, engine *openfile.Engine, lister Lister, remover Remover, bucketURL string, defaults object.Defaults, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID:  object.UseProcessOwner,
			DefaultGID:  object.UseProcessOwner,
			DefaultMode: 0644,
			CacheTTL:    5 * time.Minute,
			ReadAhead:   128 * 1024,
			WriteBuffer: 64 * 1024,
			Concurrency: 16,
		}
	}

	prefetch := batch.NewProcessor(cache, &batch.ProcessorConfig{
		MaxBatchSize:   64,
		MaxWaitTime:    20 * time.Millisecond,
		MaxConcurrency: config.Concurrency,
	})
	_ = prefetch.Start()

	return &FileSystem{
		cache:     cache,
		engine:    engine,
		lister:    lister,
		remover:   remover,
		bucketURL: bucketURL,
		defaults:  defaults,
		config:    config,
		logger:    slog.Default().With("component", "fuse"),
		stats:     &Stats{},
		prefetch:  prefetch,
	}
}

// Close stops the filesystem's background prefetcher, flushing any
// batch still pending.
func (fsys *FileSystem) Close() error {
	return fsys.prefetch.Stop()
}

// Root returns the root inode.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: fsys, path: ""}
}

// GetStats returns current filesystem statistics
func (fsys *FileSystem) GetStats() *Stats {
	fsys.stats.mu.RLock()
	defer fsys.stats.mu.RUnlock()

	return &Stats{
		Lookups:      fsys.stats.Lookups,
		Opens:        fsys.stats.Opens,
		Reads:        fsys.stats.Reads,
		Writes:       fsys.stats.Writes,
		Creates:      fsys.stats.Creates,
		Deletes:      fsys.stats.Deletes,
		BytesRead:    fsys.stats.BytesRead,
		BytesWritten: fsys.stats.BytesWritten,
		CacheHits:    fsys.stats.CacheHits,
		CacheMisses:  fsys.stats.CacheMisses,
		Errors:       fsys.stats.Errors,
	}
}

func (fsys *FileSystem) countError() {
	fsys.stats.mu.Lock()
	fsys.stats.Errors++
	fsys.stats.mu.Unlock()
	fsys.logger.Debug("operation failed")
}

// fetch resolves path through the metadata cache, counting hits/misses
// and translating a cache-level error into an errno.
func (fsys *FileSystem) fetch(ctx context.Context, path string, hint metacache.Hint) (*object.Object, syscall.Errno) {
	obj, err := fsys.cache.Get(ctx, path, hint)
	if err != nil {
		fsys.countError()
		return nil, errnoFrom(err)
	}
	if obj == nil {
		return nil, syscall.ENOENT
	}
	return obj, 0
}

// fillAttr populates a FUSE attribute record from an object's stat,
// falling back to the filesystem's configured defaults for a uid/gid
// the object stores as "use the process owner" (object.UseProcessOwner).
func (fsys *FileSystem) fillAttr(out *fuse.Attr, obj *object.Object) {
	st := obj.Stat()

	out.Mode = st.Mode
	out.Size = safeInt64ToUint64(st.Size)
	out.Nlink = st.Nlink
	out.Rdev = safeIntToUint32(int(st.Rdev))
	out.Blksize = st.BlkSize

	out.Uid = st.UID
	if out.Uid == object.UseProcessOwner {
		out.Uid = fsys.config.DefaultUID
	}
	out.Gid = st.GID
	if out.Gid == object.UseProcessOwner {
		out.Gid = fsys.config.DefaultGID
	}

	mtime := safeInt64ToUint64(st.Mtime.Unix())
	ctime := safeInt64ToUint64(st.Ctime.Unix())
	out.Mtime = mtime
	out.Atime = mtime
	out.Ctime = ctime
}

// Node is the single fs.Inode embedder for every object kind — a file,
// directory, symlink or special file alike — the Go counterpart of
// Object's own tagged-union design: the original implementation split
// directory/file/symlink into distinct FUSE node classes, but since
// the core already resolves "what kind of thing is this" once, at
// Lookup/Create time, a per-kind node type would just duplicate that
// dispatch. Readdir does not check the node's kind and lists whatever
// the lister returns for its path; Readlink returns EINVAL when the
// object's body does not carry the symlink prefix.
type Node struct {
	fs.Inode
	fsys *FileSystem
	path string
}

var (
	_ fs.NodeLookuper      = (*Node)(nil)
	_ fs.NodeGetattrer     = (*Node)(nil)
	_ fs.NodeSetattrer     = (*Node)(nil)
	_ fs.NodeOpener        = (*Node)(nil)
	_ fs.NodeCreater       = (*Node)(nil)
	_ fs.NodeMkdirer       = (*Node)(nil)
	_ fs.NodeRmdirer       = (*Node)(nil)
	_ fs.NodeUnlinker      = (*Node)(nil)
	_ fs.NodeRenamer       = (*Node)(nil)
	_ fs.NodeReaddirer     = (*Node)(nil)
	_ fs.NodeSymlinker     = (*Node)(nil)
	_ fs.NodeReadlinker    = (*Node)(nil)
	_ fs.NodeGetxattrer    = (*Node)(nil)
	_ fs.NodeSetxattrer    = (*Node)(nil)
	_ fs.NodeListxattrer   = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
	_ fs.NodeStatfser      = (*Node)(nil)
)

func stableMode(k object.Kind) uint32 {
	switch k {
	case object.KindDirectory:
		return fuse.S_IFDIR
	case object.KindSymlink:
		return fuse.S_IFLNK
	default:
		return fuse.S_IFREG
	}
}

// newChild wraps obj as a child inode of n, named name.
func (n *Node) newChild(ctx context.Context, name string, obj *object.Object) *fs.Inode {
	childPath := joinPath(n.path, name)
	child := &Node{fsys: n.fsys, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: stableMode(obj.Kind())})
}

// Lookup resolves name under n via the metadata cache.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := validateName(name); errno != 0 {
		return nil, errno
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Lookups++
	n.fsys.stats.mu.Unlock()

	childPath := joinPath(n.path, name)
	obj, errno := n.fsys.fetch(ctx, childPath, metacache.HintNone)
	if errno != 0 {
		n.fsys.stats.mu.Lock()
		n.fsys.stats.CacheMisses++
		n.fsys.stats.mu.Unlock()
		return nil, errno
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.CacheHits++
	n.fsys.stats.mu.Unlock()

	n.fsys.fillAttr(&out.Attr, obj)
	return n.newChild(ctx, name, obj), 0
}

// Getattr fills out from the cached object's stat.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return errno
	}
	n.fsys.fillAttr(&out.Attr, obj)
	return 0
}

// Setattr handles chmod, chown, utimens and ftruncate, persisting the
// change via a metadata-only re-upload (openfile.Engine.Touch) since
// the object store has no partial metadata update.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return errno
	}

	if mode, ok := in.GetMode(); ok {
		obj.SetMode(mode)
	}
	if uid, ok := in.GetUID(); ok {
		obj.SetOwner(uid, obj.Stat().GID)
	}
	if gid, ok := in.GetGID(); ok {
		obj.SetOwner(obj.Stat().UID, gid)
	}
	if mtime, ok := in.GetMTime(); ok {
		obj.SetMtime(mtime)
	}

	if size, ok := in.GetSize(); ok {
		if err := n.fsys.engine.Truncate(ctx, n.path, int64(size)); err != nil {
			n.fsys.countError()
			return errnoFrom(err)
		}
	} else if err := n.fsys.engine.Touch(ctx, n.path); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}

	n.fsys.fillAttr(&out.Attr, obj)
	return 0
}

// Readdir lists n's children via the Lister, the directory variant's
// Read operation per §3 (a bucket listing with n.path as prefix).
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	files, dirs, err := n.fsys.lister.ListChildren(ctx, n.path)
	if err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}

	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintDirectory)
	if errno == 0 {
		obj.SetChildNames(append(append([]string{}, files...), dirs...))
	}

	entries := make([]fuse.DirEntry, 0, len(files)+len(dirs))
	for _, name := range dirs {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFDIR})
		n.fsys.prefetch.Submit(joinPath(n.path, name), metacache.HintDirectory)
	}
	for _, name := range files {
		entries = append(entries, fuse.DirEntry{Name: name, Mode: fuse.S_IFREG})
		n.fsys.prefetch.Submit(joinPath(n.path, name), metacache.HintFile)
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir creates a directory marker object and uploads it immediately
// (an empty body, per §3's directory-object convention).
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := validateName(name); errno != 0 {
		return nil, errno
	}
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	defaults := n.fsys.defaults
	defaults.Mode = mode
	obj := object.New(childPath, object.KindDirectory, n.fsys.bucketURL, defaults)
	n.fsys.cache.Put(childPath, obj)

	handle, err := n.fsys.engine.Open(ctx, childPath, openfile.OpenOptions{Truncate: true})
	if err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}
	if err := n.fsys.engine.Flush(ctx, handle, childPath, true); err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}

	n.fsys.fillAttr(&out.Attr, obj)
	return n.newChild(ctx, name, obj), 0
}

// Create creates and opens a new regular file.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if errno := validateName(name); errno != 0 {
		return nil, nil, 0, errno
	}
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	defaults := n.fsys.defaults
	defaults.Mode = mode
	obj := object.New(childPath, object.KindFile, n.fsys.bucketURL, defaults)
	n.fsys.cache.Put(childPath, obj)

	handle, err := n.fsys.engine.Open(ctx, childPath, openfile.OpenOptions{Truncate: true})
	if err != nil {
		n.fsys.countError()
		return nil, nil, 0, errnoFrom(err)
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Creates++
	n.fsys.stats.Opens++
	n.fsys.stats.mu.Unlock()

	n.fsys.fillAttr(&out.Attr, obj)
	inode := n.newChild(ctx, name, obj)
	return inode, &FileHandle{fsys: n.fsys, path: childPath, handle: handle}, 0, 0
}

// symlinkPrefix marks a symlink object's body, per §4.4/§6: the wire
// body is "SYMLINK:<target>" rather than the bare target, so a plain
// GET against the key can be told apart from a regular file's content.
const symlinkPrefix = "SYMLINK:"

// Symlink creates a symlink object whose body is the link target,
// prefixed with symlinkPrefix.
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := validateName(name); errno != 0 {
		return nil, errno
	}
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	obj := object.New(childPath, object.KindSymlink, n.fsys.bucketURL, n.fsys.defaults)
	n.fsys.cache.Put(childPath, obj)

	body := symlinkPrefix + target

	handle, err := n.fsys.engine.Open(ctx, childPath, openfile.OpenOptions{Truncate: true})
	if err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}
	if _, err := n.fsys.engine.Write(handle, []byte(body), 0); err != nil {
		n.fsys.engine.Release(handle, childPath)
		n.fsys.countError()
		return nil, errnoFrom(err)
	}
	if err := n.fsys.engine.Flush(ctx, handle, childPath, true); err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}
	obj.SetSymlinkTarget(target)

	n.fsys.fillAttr(&out.Attr, obj)
	return n.newChild(ctx, name, obj), 0
}

// Readlink returns a symlink's target, reading its body if it hasn't
// been resolved yet this cache lifetime. The body is expected to carry
// symlinkPrefix; a body missing or malformed that prefix is -EINVAL
// rather than being returned verbatim.
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintFile)
	if errno != 0 {
		return nil, errno
	}
	if target := obj.SymlinkTarget(); target != "" {
		return []byte(target), 0
	}

	handle, err := n.fsys.engine.Open(ctx, n.path, openfile.OpenOptions{})
	if err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}
	defer n.fsys.engine.Release(handle, n.path)

	buf := make([]byte, obj.Stat().Size)
	nread, err := n.fsys.engine.Read(handle, buf, 0)
	if err != nil {
		n.fsys.countError()
		return nil, errnoFrom(err)
	}

	body := buf[:nread]
	if !strings.HasPrefix(string(body), symlinkPrefix) {
		n.fsys.countError()
		return nil, syscall.EINVAL
	}
	target := string(body[len(symlinkPrefix):])
	if target == "" {
		n.fsys.countError()
		return nil, syscall.EINVAL
	}

	obj.SetSymlinkTarget(target)
	return []byte(target), 0
}

// Rmdir removes an empty directory.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	if errno := validateName(name); errno != 0 {
		return errno
	}
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	files, dirs, err := n.fsys.lister.ListChildren(ctx, childPath)
	if err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	if len(files) > 0 || len(dirs) > 0 {
		return syscall.ENOTEMPTY
	}

	if err := n.fsys.remover.Delete(ctx, childPath); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	n.fsys.cache.InvalidateWithParent(childPath)

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Deletes++
	n.fsys.stats.mu.Unlock()
	return 0
}

// Unlink removes a file, symlink or special object.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	if errno := validateName(name); errno != 0 {
		return errno
	}
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	childPath := joinPath(n.path, name)
	if err := n.fsys.remover.Delete(ctx, childPath); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	n.fsys.cache.InvalidateWithParent(childPath)

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Deletes++
	n.fsys.stats.mu.Unlock()
	return 0
}

// Rename moves an object by copying its content to the new path and
// deleting the old one — the object stores this core targets have no
// atomic rename primitive, so (as for the original implementation)
// this is a best-effort, non-atomic operation: a crash mid-rename can
// leave both the old and new paths present. A source directory may
// only be renamed while empty.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if errno := validateName(name); errno != 0 {
		return errno
	}
	if errno := validateName(newName); errno != 0 {
		return errno
	}
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	destNode, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}

	oldPath := joinPath(n.path, name)
	newPath := joinPath(destNode.path, newName)

	obj, errno := n.fsys.fetch(ctx, oldPath, metacache.HintNone)
	if errno != 0 {
		return errno
	}

	if obj.Kind() == object.KindDirectory {
		files, dirs, err := n.fsys.lister.ListChildren(ctx, oldPath)
		if err != nil {
			n.fsys.countError()
			return errnoFrom(err)
		}
		if len(files) > 0 || len(dirs) > 0 {
			return syscall.ENOTEMPTY
		}
	}

	size := obj.Stat().Size
	srcHandle, err := n.fsys.engine.Open(ctx, oldPath, openfile.OpenOptions{})
	if err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	defer n.fsys.engine.Release(srcHandle, oldPath)

	newObj := object.New(newPath, obj.Kind(), n.fsys.bucketURL, n.fsys.defaults)
	newObj.SetMode(obj.Stat().Mode)
	n.fsys.cache.Put(newPath, newObj)

	dstHandle, err := n.fsys.engine.Open(ctx, newPath, openfile.OpenOptions{Truncate: true})
	if err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}

	const chunk = 1 << 20
	buf := make([]byte, chunk)
	for off := int64(0); off < size; off += chunk {
		nread, err := n.fsys.engine.Read(srcHandle, buf, off)
		if err != nil && nread == 0 {
			n.fsys.engine.Release(dstHandle, newPath)
			n.fsys.countError()
			return errnoFrom(err)
		}
		if _, err := n.fsys.engine.Write(dstHandle, buf[:nread], off); err != nil {
			n.fsys.engine.Release(dstHandle, newPath)
			n.fsys.countError()
			return errnoFrom(err)
		}
	}

	if err := n.fsys.engine.Flush(ctx, dstHandle, newPath, true); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}

	if err := n.fsys.remover.Delete(ctx, oldPath); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	n.fsys.cache.InvalidateWithParent(oldPath)

	return 0
}

// xattrKey maps a kernel-presented xattr name (conventionally
// "user.<name>" for unprivileged access) to the reserved-key-safe
// form Object's xattr map requires.
func xattrKey(attr string) string {
	if stripped, ok := stripUserPrefix(attr); ok {
		return object.XattrPrefix + stripped
	}
	return object.XattrPrefix + attr
}

func stripUserPrefix(attr string) (string, bool) {
	const prefix = "user."
	if len(attr) > len(prefix) && attr[:len(prefix)] == prefix {
		return attr[len(prefix):], true
	}
	return attr, false
}

// Getxattr reads a user extended attribute.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return 0, errno
	}
	val, err := obj.Xattr(xattrKey(attr))
	if err != nil {
		return 0, errnoFrom(err)
	}
	if len(dest) < len(val) {
		return safeIntToUint32(len(val)), syscall.ERANGE
	}
	copy(dest, val)
	return safeIntToUint32(len(val)), 0
}

// Setxattr writes a user extended attribute and persists it via a
// metadata-only re-upload.
func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return errno
	}

	const (
		xattrCreate  = 1
		xattrReplace = 2
	)
	if err := obj.SetXattr(xattrKey(attr), data, flags&xattrCreate != 0, flags&xattrReplace != 0); err != nil {
		return errnoFrom(err)
	}
	if err := n.fsys.engine.Touch(ctx, n.path); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	return 0
}

// Listxattr lists every user extended attribute key.
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return 0, errno
	}

	var size uint32
	for _, key := range obj.XattrKeys() {
		size += safeIntToUint32(len(key) + 1)
	}
	if uint32(len(dest)) < size {
		return size, syscall.ERANGE
	}

	var n2 int
	for _, key := range obj.XattrKeys() {
		n2 += copy(dest[n2:], key)
		dest[n2] = 0
		n2++
	}
	return size, 0
}

// Removexattr deletes a user extended attribute and persists the
// change via a metadata-only re-upload.
func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	obj, errno := n.fsys.fetch(ctx, n.path, metacache.HintNone)
	if errno != 0 {
		return errno
	}
	if err := obj.RemoveXattr(xattrKey(attr)); err != nil {
		return errnoFrom(err)
	}
	if err := n.fsys.engine.Touch(ctx, n.path); err != nil {
		n.fsys.countError()
		return errnoFrom(err)
	}
	return 0
}

// Statfs reports synthetic filesystem-wide statistics: object storage
// has no meaningful block/inode quota, so this mirrors the original
// implementation's fixed, large reported capacity instead of querying
// anything remote.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	const blockSize = 4096
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = 1 << 30
	out.Bfree = 1 << 30
	out.Bavail = 1 << 30
	out.Files = 1 << 20
	out.Ffree = 1 << 20
	out.NameLen = nameMax
	return 0
}

// Open opens an existing file for read/write, per NodeOpener.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly && (flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0) {
		return nil, 0, syscall.EROFS
	}

	handle, err := n.fsys.engine.Open(ctx, n.path, openfile.OpenOptions{Truncate: flags&syscall.O_TRUNC != 0})
	if err != nil {
		n.fsys.countError()
		return nil, 0, errnoFrom(err)
	}

	n.fsys.stats.mu.Lock()
	n.fsys.stats.Opens++
	n.fsys.stats.mu.Unlock()

	return &FileHandle{fsys: n.fsys, path: n.path, handle: handle}, 0, 0
}

// FileHandle is the fs.FileHandle bound to one open-file-engine
// handle.
type FileHandle struct {
	fsys   *FileSystem
	path   string
	handle uint64
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileFlusher  = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
	_ fs.FileFsyncer  = (*FileHandle)(nil)
	_ fs.FileGetattrer = (*FileHandle)(nil)
)

// Read serves dest from the engine's staging file.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := fh.fsys.engine.Read(fh.handle, dest, off)
	if err != nil && n == 0 {
		fh.fsys.countError()
		return nil, errnoFrom(err)
	}

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.Reads++
	fh.fsys.stats.BytesRead += int64(n)
	fh.fsys.stats.mu.Unlock()

	return fuse.ReadResultData(dest[:n]), 0
}

// Write serves data against the engine's staging file.
func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if fh.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}

	n, err := fh.fsys.engine.Write(fh.handle, data, off)
	if err != nil {
		fh.fsys.countError()
		return safeIntToUint32(n), errnoFrom(err)
	}

	fh.fsys.stats.mu.Lock()
	fh.fsys.stats.Writes++
	fh.fsys.stats.BytesWritten += int64(n)
	fh.fsys.stats.mu.Unlock()

	return safeIntToUint32(n), 0
}

// Flush uploads the handle's staging file if dirty, without releasing
// the handle — the standard close(2)-triggered FLUSH, per §4.6.
func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if err := fh.fsys.engine.Flush(ctx, fh.handle, fh.path, false); err != nil {
		fh.fsys.countError()
		return errnoFrom(err)
	}
	return 0
}

// Fsync behaves like Flush: there is no separate durability barrier
// below the staging file short of a full re-upload, which Flush
// already performs when dirty.
func (fh *FileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return fh.Flush(ctx)
}

// Release retires the handle, flushing one last time if still dirty
// and, once the last handle on this path is gone, expiring its cache
// entry per §4.6.
func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	if err := fh.fsys.engine.Flush(ctx, fh.handle, fh.path, true); err != nil {
		fh.fsys.countError()
		return errnoFrom(err)
	}
	return 0
}

// Getattr reports the handle's backing object stat, so a Getattr
// issued against an open file descriptor doesn't need a separate
// cache round-trip.
func (fh *FileHandle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	obj, ok := fh.fsys.engine.Object(fh.handle)
	if !ok {
		return syscall.EBADF
	}
	fh.fsys.fillAttr(&out.Attr, obj)
	return 0
}
