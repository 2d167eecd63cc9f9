package openfile

import (
	"sync"

	"github.com/objectfs/objectfs/internal/object"
)

// Flags is the per-entry status bitfield described in §4.6.
type Flags uint32

const (
	// FlagDirty marks an entry with unflushed local writes.
	FlagDirty Flags = 1 << iota
	// FlagFlushing marks an entry with an upload currently in flight.
	FlagFlushing
	// FlagInUse marks an entry with a read or write currently in
	// flight (serialized against FLUSHING).
	FlagInUse
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Entry is one open-file entry: the object it was opened against, its
// staging file, and its status flags. Multiple handles may reference
// the same entry (§4.6 step 2: reopening an already-open object
// increments its refcount instead of creating a second staging file).
type Entry struct {
	mu sync.Mutex

	obj     *object.Object
	staging *stagingFile
	flags   Flags
	refs    int
}

func newEntry(obj *object.Object, staging *stagingFile) *Entry {
	return &Entry{obj: obj, staging: staging, refs: 1}
}

// Object returns the entry's backing object.
func (e *Entry) Object() *object.Object {
	return e.obj
}

// Table is the handle table: a monotonically allocated map from u64
// handles to open-file entries, guarded by a single mutex per §4.6.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*Entry
	byPath  map[string]*Entry
	next    uint64
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{
		entries: make(map[uint64]*Entry),
		byPath:  make(map[string]*Entry),
		next:    1,
	}
}

// lookupByPath returns the existing entry for path, if any object
// already has an open-file entry (§4.6 step 2).
func (t *Table) lookupByPath(path string) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byPath[path]
	return e, ok
}

// bindNew registers a freshly created entry under path and binds the
// first handle to it.
func (t *Table) bindNew(path string, e *Entry) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.next
	t.next++
	t.entries[h] = e
	t.byPath[path] = e
	return h
}

// bindExisting allocates an additional handle against an entry that is
// already open (§4.6 step 2: reopening increments refcount rather than
// creating a second staging file). The caller is responsible for
// incrementing e's refcount.
func (t *Table) bindExisting(e *Entry) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.next
	t.next++
	t.entries[h] = e
	return h
}

// get returns the entry bound to handle.
func (t *Table) get(handle uint64) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[handle]
	return e, ok
}

// release removes handle from the table. If this was the last handle
// referencing its entry, the entry's path binding is also dropped and
// last reports true (the caller should close the staging file and clear
// the object's open-file pointer).
func (t *Table) release(handle uint64, path string) (last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[handle]
	if !ok {
		return false
	}
	delete(t.entries, handle)

	e.mu.Lock()
	e.refs--
	last = e.refs == 0
	e.mu.Unlock()

	if last {
		delete(t.byPath, path)
	}
	return last
}
