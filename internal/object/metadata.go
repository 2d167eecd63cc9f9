package object

import (
	"strings"
	"sync"

	"github.com/objectfs/objectfs/pkg/errors"
)

// ReservedPrefix namespaces the reserved metadata keys the core stores
// on every object (mode, uid, gid, timestamps, etag bookkeeping), kept
// distinct from user extended attributes so a reserved key can never
// collide with one an application sets. Grounded on the original
// metadata::RESERVED_PREFIX / metadata::XATTR_PREFIX pair.
const ReservedPrefix = "objectfs-"

// XattrPrefix namespaces user-settable extended attributes. It extends
// ReservedPrefix; no reserved key begins with "xattr-", so the two
// namespaces do not collide.
const XattrPrefix = "objectfs-xattr-"

// Reserved metadata keys, unprefixed (ReservedPrefix is prepended by
// the service adapter's meta-header prefix when encoding to headers).
const (
	KeyLastUpdateETag = "lu-etag"
	KeyMode           = "mode"
	KeyUID            = "uid"
	KeyGID            = "gid"
	KeyCreatedTime    = "ctime"
	KeyModifiedTime   = "mtime"
	KeyFileType       = "file-type"
	KeyDevice         = "device"
)

// xattrs is the user extended-attribute map attached to an Object.
// Every entry the map holds is both writable and serializable in this
// model — the original's per-attribute XM_WRITABLE/XM_SERIALIZABLE
// flags distinguished read-only synthetic attributes (like reserved
// keys surfaced for discoverability) from application-set ones, a
// distinction preserved here by reserved keys simply never entering
// this map.
type xattrs struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func newXattrs() *xattrs {
	return &xattrs{vals: make(map[string][]byte)}
}

// Set stores value under key, which must carry XattrPrefix. create
// rejects an existing key (like XATTR_CREATE); replace rejects a
// missing one (like XATTR_REPLACE).
func (x *xattrs) Set(key string, value []byte, create, replace bool) error {
	userKey, ok := strings.CutPrefix(key, XattrPrefix)
	if !ok {
		return errors.NewError(errors.ErrCodeValidationFailed, "xattr key missing required prefix")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	_, exists := x.vals[userKey]
	if create && exists {
		return errors.NewError(errors.ErrCodeAlreadyExists, "xattr already exists")
	}
	if replace && !exists {
		return errors.NewError(errors.ErrCodeNoAttr, "xattr does not exist")
	}

	x.vals[userKey] = append([]byte(nil), value...)
	return nil
}

// Get returns the value stored under key.
func (x *xattrs) Get(key string) ([]byte, error) {
	userKey, ok := strings.CutPrefix(key, XattrPrefix)
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNoAttr, "xattr key missing required prefix")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	v, ok := x.vals[userKey]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeNoAttr, "xattr does not exist")
	}
	return append([]byte(nil), v...), nil
}

// Remove deletes the value stored under key.
func (x *xattrs) Remove(key string) error {
	userKey, ok := strings.CutPrefix(key, XattrPrefix)
	if !ok {
		return errors.NewError(errors.ErrCodeNoAttr, "xattr key missing required prefix")
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.vals[userKey]; !ok {
		return errors.NewError(errors.ErrCodeNoAttr, "xattr does not exist")
	}
	delete(x.vals, userKey)
	return nil
}

// Keys returns every stored key, each prefixed with XattrPrefix.
func (x *xattrs) Keys() []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	keys := make([]string, 0, len(x.vals))
	for k := range x.vals {
		keys = append(keys, XattrPrefix+k)
	}
	return keys
}

// snapshot returns a defensive copy of the user attribute map, for
// header encoding.
func (x *xattrs) snapshot() map[string][]byte {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make(map[string][]byte, len(x.vals))
	for k, v := range x.vals {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func (x *xattrs) load(vals map[string][]byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for k, v := range vals {
		x.vals[k] = append([]byte(nil), v...)
	}
}
