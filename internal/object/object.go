package object

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/objectfs/pkg/errors"
)

// directoryContentType and symlinkContentType mark an object's variant
// in its Content-Type header, mirroring the original implementation's
// per-variant CONTENT_TYPE sentinels (fs/symlink.cc's "text/symlink",
// fs/special.cc's "binary/s3fuse-special_0100"). The directory sentinel
// follows the de facto "application/x-directory" convention used by
// the broader S3-compatible ecosystem, since the original's directory
// type checker was not available to consult directly.
const (
	directoryContentType = "application/x-directory"
	symlinkContentType   = "text/symlink"
	specialContentType   = "application/x-objectfs-special"
)

// UseProcessOwner, used as Defaults.UID/GID, means "fall back to the
// current process's effective uid/gid" rather than a fixed value —
// mirroring the original's UID_MAX/GID_MAX sentinel handling in
// object::object.
const UseProcessOwner = ^uint32(0)

// Defaults supplies the POSIX fields a newly created object (one the
// core is creating locally, not one decoded from a response) starts
// with.
type Defaults struct {
	Mode        uint32
	UID         uint32
	GID         uint32
	ContentType string
}

// Stat is the subset of POSIX inode metadata the core tracks per
// object.
type Stat struct {
	Mode    uint32
	UID     uint32
	GID     uint32
	Size    int64
	Nlink   uint32
	Rdev    uint64
	Mtime   time.Time
	Ctime   time.Time
	BlkSize uint32
}

// Headers is the minimal read access to an HTTP response's headers
// that decoding an Object needs. *http.Header and any service
// adapter's response wrapper satisfy it trivially via http.Header.Get.
type Headers interface {
	Get(key string) string
}

// DecodeContext carries everything Decode needs from a HEAD/GET
// response to populate an Object's fields.
type DecodeContext struct {
	Headers     Headers
	StatusCode  int
	ContentType string
	ETag        string
	Size        int64
	// LastModified is the response's own Last-Modified timestamp, used
	// by Decode as the object's mtime whenever the embedded mtime
	// metadata is absent or the object isn't IsIntact, per §3.
	LastModified time.Time
	// MetaPrefix is the service adapter's metadata header prefix (e.g.
	// "x-amz-meta-"), prepended before ReservedPrefix when looking up a
	// reserved key.
	MetaPrefix string
}

func (c *DecodeContext) reserved(key string) string {
	return c.Headers.Get(c.MetaPrefix + ReservedPrefix + key)
}

// HeaderLister optionally augments Headers with key enumeration, which
// Decode uses to discover user xattrs it wasn't told the names of
// ahead of time. internal/storage/s3's metadataHeaders implements it;
// a Headers value that can't enumerate (e.g. a single canonical-key
// probe in a test) simply isn't scanned for xattrs.
type HeaderLister interface {
	Keys() []string
}

// TypeChecker inspects a decode context and reports the Kind it
// believes the response describes, or ok=false if it doesn't
// recognize it. DefaultTypeCheckers runs an ordered list of these, the
// same role as the original's type_checker_list: the first checker to
// match wins.
type TypeChecker func(path string, ctx *DecodeContext) (Kind, bool)

func specialTypeChecker(_ string, ctx *DecodeContext) (Kind, bool) {
	return KindSpecial, ctx.ContentType == specialContentType
}

func symlinkTypeChecker(_ string, ctx *DecodeContext) (Kind, bool) {
	return KindSymlink, ctx.ContentType == symlinkContentType
}

func directoryTypeChecker(path string, ctx *DecodeContext) (Kind, bool) {
	if ctx.ContentType == directoryContentType {
		return KindDirectory, true
	}
	return KindDirectory, path == ""
}

func fileTypeChecker(_ string, _ *DecodeContext) (Kind, bool) {
	return KindFile, true
}

// DefaultTypeCheckers returns the ordered dispatch list Create uses
// when no caller-supplied list is given: special and symlink sentinels
// first (most specific), then the root/directory check, falling back
// to a plain file — so every response resolves to some Kind, matching
// the original's "couldn't figure out object type" becoming
// unreachable rather than an error.
func DefaultTypeCheckers() []TypeChecker {
	return []TypeChecker{specialTypeChecker, symlinkTypeChecker, directoryTypeChecker, fileTypeChecker}
}

// Object is one remote entry: a file, directory, symlink or special
// file, carrying both the POSIX metadata the filesystem layer needs
// and the user extended attributes an application has set on it.
//
// Object corresponds to the original's object/directory/symlink/
// special class hierarchy collapsed into one tagged-union type, since
// Go favors composition over virtual dispatch; variant-specific
// behavior (directory listing, symlink target, device number) is
// exposed as plain fields guarded by Kind rather than as subclass
// methods.
type Object struct {
	mu sync.Mutex

	path string
	kind Kind

	url            string
	contentType    string
	etag           string
	lastUpdateETag string
	acl            string

	stat Stat

	symlinkTarget string

	expiry time.Time

	xattrs *xattrs

	// childNames is the directory variant's memoized listing: nil until
	// the first successful Read, then held until the object itself
	// expires from the metadata cache.
	childNames []string
	childrenSet bool
}

// BuildURL constructs the object's URL from the bucket URL and path,
// percent-encoding each path segment the way object::build_url does
// via request::url_encode.
func BuildURL(bucketURL, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucketURL + "/" + strings.Join(segments, "/")
}

// New creates an object the core is about to PUT for the first time —
// there is no remote response to decode yet, so every field starts
// from defaults the way object::object(path) seeds _stat from
// base::config.
func New(path string, kind Kind, bucketURL string, defaults Defaults) *Object {
	now := time.Now()
	o := &Object{
		path:   path,
		kind:   kind,
		url:    BuildURL(bucketURL, path),
		xattrs: newXattrs(),
		stat: Stat{
			Mode:    defaults.Mode,
			UID:     defaults.UID,
			GID:     defaults.GID,
			Nlink:   1,
			BlkSize: 512,
			Mtime:   now,
			Ctime:   now,
		},
	}
	switch kind {
	case KindDirectory:
		o.stat.Mode |= modeDir
		o.contentType = directoryContentType
	case KindSymlink:
		o.stat.Mode |= modeSymlink
		o.contentType = symlinkContentType
	case KindSpecial:
		o.contentType = specialContentType
	default:
		o.contentType = defaults.ContentType
	}
	return o
}

// POSIX file-type bits, avoiding a syscall/build-tag dependency since
// the object model itself never talks to the kernel.
const (
	modeDir     = 0o040000
	modeSymlink = 0o120000
)

// Create decodes a HEAD/GET response into a freshly dispatched Object,
// the Go equivalent of object::create: run checkers in order, keep the
// first Kind that matches, then populate its fields. An empty path
// means "the bucket root", always a directory.
func Create(path string, ctx *DecodeContext, checkers []TypeChecker, bucketURL string, defaults Defaults) (*Object, error) {
	if checkers == nil {
		checkers = DefaultTypeCheckers()
	}

	var kind Kind
	matched := false
	for _, check := range checkers {
		if k, ok := check(path, ctx); ok {
			kind, matched = k, true
			break
		}
	}
	if !matched {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "couldn't determine object type")
	}

	o := &Object{
		path:   path,
		kind:   kind,
		url:    BuildURL(bucketURL, path),
		xattrs: newXattrs(),
	}
	if err := o.Decode(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

// Decode populates an Object's metadata from a response, reading
// reserved keys through ctx.MetaPrefix+ReservedPrefix and falling back
// to the response's own ETag/Content-Type/Size when a reserved key is
// absent (e.g. the first time an externally-created object is seen).
func (o *Object) Decode(ctx *DecodeContext) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.etag = strings.Trim(ctx.ETag, `"`)
	if lu := ctx.reserved(KeyLastUpdateETag); lu != "" {
		o.lastUpdateETag = lu
	} else if o.lastUpdateETag == "" {
		// First time this object is decoded: treat it as intact, the
		// same way object::object seeds _last_update_etag from the
		// first response it sees rather than from a prior write.
		o.lastUpdateETag = o.etag
	}
	o.contentType = ctx.ContentType
	o.stat.Size = ctx.Size

	if mode, ok := parseOctal(ctx.reserved(KeyMode)); ok {
		o.stat.Mode = mode
	} else {
		o.stat.Mode = defaultModeForKind(o.kind)
	}
	o.stat.Mode = (o.stat.Mode &^ modeTypeMask) | kindModeBits(o.kind)

	if uid, ok := parseUint32(ctx.reserved(KeyUID)); ok {
		o.stat.UID = uid
	}
	if gid, ok := parseUint32(ctx.reserved(KeyGID)); ok {
		o.stat.GID = gid
	}
	if ctime, ok := parseUnixTime(ctx.reserved(KeyCreatedTime)); ok {
		o.stat.Ctime = ctime
	}

	// mtime: trust our own embedded mtime metadata only while the
	// object is intact (its etag still matches the one recorded at our
	// last local write); otherwise something changed it since, so fall
	// back to the service's own Last-Modified the way
	// original_source/src/fs/object.cc's mtime fallback does.
	embeddedMtime, hasEmbeddedMtime := parseUnixTime(ctx.reserved(KeyModifiedTime))
	switch {
	case hasEmbeddedMtime && o.etag == o.lastUpdateETag:
		o.stat.Mtime = embeddedMtime
	case !ctx.LastModified.IsZero():
		o.stat.Mtime = ctx.LastModified
	case hasEmbeddedMtime:
		o.stat.Mtime = embeddedMtime
	}
	if o.kind == KindSpecial {
		if ft, ok := parseOctal(ctx.reserved(KeyFileType)); ok {
			o.stat.Mode = (o.stat.Mode &^ modeTypeMask) | (ft & modeTypeMask)
		}
		if dev, ok := parseUint64(ctx.reserved(KeyDevice)); ok {
			o.stat.Rdev = dev
		}
	}
	o.stat.Nlink = 1
	o.stat.BlkSize = 512

	// Recover any user xattrs carried as meta-prefixed headers, so a
	// setxattr survives an evict-then-refetch round trip (§8's Commit
	// round-trip requirement) even though the caller never names the
	// attribute keys ahead of time.
	if lister, ok := ctx.Headers.(HeaderLister); ok {
		found := make(map[string][]byte)
		for _, key := range lister.Keys() {
			userKey, ok := strings.CutPrefix(key, ctx.MetaPrefix)
			if !ok || !strings.HasPrefix(userKey, XattrPrefix) {
				continue
			}
			if v := ctx.Headers.Get(key); v != "" {
				found[userKey] = []byte(v)
			}
		}
		if len(found) > 0 {
			o.LoadXattrs(found)
		}
	}

	return nil
}

const modeTypeMask = 0o170000

func kindModeBits(k Kind) uint32 {
	switch k {
	case KindDirectory:
		return modeDir
	case KindSymlink:
		return modeSymlink
	default:
		return 0 // regular file and special (special's real type comes from KeyFileType)
	}
}

func defaultModeForKind(k Kind) uint32 {
	switch k {
	case KindDirectory:
		return modeDir | 0o755
	case KindSymlink:
		return modeSymlink | 0o777
	default:
		return 0o644
	}
}

func parseOctal(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func parseUint32(s string) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func parseUint64(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseUnixTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(v, 0), true
}

// Headers encodes the object's reserved metadata into the header map a
// PUT/POST request should carry, the Go equivalent of
// object::set_request_headers. metaPrefix is the service adapter's
// metadata header prefix.
func (o *Object) Headers(metaPrefix string) map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()

	h := map[string]string{
		"Content-Type":                          o.contentType,
		metaPrefix + ReservedPrefix + KeyMode:    strconv.FormatUint(uint64(o.stat.Mode), 8),
		metaPrefix + ReservedPrefix + KeyUID:     strconv.FormatUint(uint64(o.stat.UID), 10),
		metaPrefix + ReservedPrefix + KeyGID:     strconv.FormatUint(uint64(o.stat.GID), 10),
		metaPrefix + ReservedPrefix + KeyCreatedTime:  strconv.FormatInt(o.stat.Ctime.Unix(), 10),
		metaPrefix + ReservedPrefix + KeyModifiedTime: strconv.FormatInt(o.stat.Mtime.Unix(), 10),
	}
	if o.lastUpdateETag != "" {
		h[metaPrefix+ReservedPrefix+KeyLastUpdateETag] = o.lastUpdateETag
	}
	if o.kind == KindSpecial {
		h[metaPrefix+ReservedPrefix+KeyFileType] = strconv.FormatUint(uint64(o.stat.Mode&modeTypeMask), 8)
		h[metaPrefix+ReservedPrefix+KeyDevice] = strconv.FormatUint(o.stat.Rdev, 10)
	}
	for k, v := range o.xattrs.snapshot() {
		h[metaPrefix+XattrPrefix+k] = string(v)
	}
	return h
}

// Path returns the object's path.
func (o *Object) Path() string { return o.path }

// Kind returns the object's variant.
func (o *Object) Kind() Kind { return o.kind }

// URL returns the object's resolved URL.
func (o *Object) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

// ContentType returns the object's Content-Type.
func (o *Object) ContentType() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.contentType
}

// ETag returns the object's current etag.
func (o *Object) ETag() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.etag
}

// SetETag records the etag returned by a just-completed PUT, along
// with treating it as the new last-update etag (the object is
// intact immediately after a successful write of its own making).
func (o *Object) SetETag(etag string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.etag = strings.Trim(etag, `"`)
	o.lastUpdateETag = o.etag
}

// IsIntact reports whether the object's etag matches the etag recorded
// at the last local write — i.e. nothing has modified the remote
// object since the core last wrote or observed it.
func (o *Object) IsIntact() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.etag == o.lastUpdateETag
}

// Stat returns a copy of the object's POSIX metadata.
func (o *Object) Stat() Stat {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stat
}

// SetMode updates the permission bits, preserving the file-type bits.
func (o *Object) SetMode(mode uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stat.Mode = (o.stat.Mode & modeTypeMask) | (mode &^ modeTypeMask)
}

// SetOwner updates uid/gid.
func (o *Object) SetOwner(uid, gid uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stat.UID = uid
	o.stat.GID = gid
}

// SetMtime updates the modification time.
func (o *Object) SetMtime(t time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stat.Mtime = t
}

// SetSize updates the cached size, used after a local write changes
// the object's length before a flush has round-tripped.
func (o *Object) SetSize(n int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stat.Size = n
}

// SetDevice sets the device number for a special object.
func (o *Object) SetDevice(rdev uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stat.Rdev = rdev
}

// IsRemovable reports whether this object may be unlinked. The base
// answer is always true; a non-empty directory is additionally
// checked by the metadata cache, which alone knows the directory's
// children (mirroring the original's directory::is_empty being a
// distinct, request-driven check rather than part of object state).
func (o *Object) IsRemovable() bool {
	return true
}

// IsExpired reports whether the object's cache entry has passed its
// expiry, or never had one set.
func (o *Object) IsExpired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.expiry.IsZero() || !time.Now().Before(o.expiry)
}

// SetExpiry arms the object's cache expiry ttl from now.
func (o *Object) SetExpiry(ttl time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expiry = time.Now().Add(ttl)
}

// Expire forces the object to be treated as expired immediately.
func (o *Object) Expire() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expiry = time.Time{}
}

// ACL returns the access-control identifier assigned to this object
// (see ResolveACL), or "" if none applies.
func (o *Object) ACL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acl
}

// SetACL assigns the access-control identifier that should accompany
// writes to this object.
func (o *Object) SetACL(acl string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.acl = acl
}

// SymlinkTarget returns the target path of a symlink object. It is
// read from the object body, not a header — set via SetSymlinkTarget
// once the body has been fetched, mirroring symlink::read lazily
// filling _target from a GET rather than from init().
func (o *Object) SymlinkTarget() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.symlinkTarget
}

// SetSymlinkTarget records a symlink's target, either when creating
// one locally or after reading its body from the remote.
func (o *Object) SetSymlinkTarget(target string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.symlinkTarget = target
	o.stat.Size = int64(len(target))
}

// ChildNames returns a directory object's memoized listing and whether
// it has been read at least once, the Go equivalent of directory's
// cached _children list.
func (o *Object) ChildNames() ([]string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.childNames, o.childrenSet
}

// SetChildNames memoizes a directory's listing after a Read, replacing
// whatever was cached before.
func (o *Object) SetChildNames(names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.childNames = names
	o.childrenSet = true
}

// SetXattr, Xattr, RemoveXattr and XattrKeys expose the user extended
// attribute map. key must carry XattrPrefix.
func (o *Object) SetXattr(key string, value []byte, create, replace bool) error {
	return o.xattrs.Set(key, value, create, replace)
}

func (o *Object) Xattr(key string) ([]byte, error) {
	return o.xattrs.Get(key)
}

func (o *Object) RemoveXattr(key string) error {
	return o.xattrs.Remove(key)
}

func (o *Object) XattrKeys() []string {
	return o.xattrs.Keys()
}

// LoadXattrs bulk-loads decoded user attributes (header keys already
// stripped of metaPrefix, still carrying XattrPrefix) — used by Decode
// callers that have already scanned the response's meta-prefixed
// headers for ones outside the reserved-key set.
func (o *Object) LoadXattrs(vals map[string][]byte) {
	stripped := make(map[string][]byte, len(vals))
	for k, v := range vals {
		if uk, ok := strings.CutPrefix(k, XattrPrefix); ok {
			stripped[uk] = v
		}
	}
	o.xattrs.load(stripped)
}
