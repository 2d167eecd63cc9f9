package tests

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectfs/internal/fuse"
	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	"github.com/objectfs/objectfs/internal/openfile"
	reqpool "github.com/objectfs/objectfs/internal/pool"
	s3storage "github.com/objectfs/objectfs/internal/storage/s3"
)

// fakeStore is an in-memory stand-in for internal/storage/s3.Adapter,
// implementing metacache.Fetcher, openfile.Transfer, fuse.Lister and
// fuse.Remover over a flat path->bytes map with no leading slash, the
// convention internal/fuse.Node uses for its path component.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]*object.Object
	data    map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects: make(map[string]*object.Object),
		data:    make(map[string][]byte),
	}
}

func (s *fakeStore) put(path string, kind object.Kind, content []byte) *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := object.New(path, kind, "https://bucket.example", object.Defaults{Mode: 0o644})
	obj.SetSize(int64(len(content)))
	s.objects[path] = obj
	s.data[path] = content
	return obj
}

func (s *fakeStore) Fetch(ctx context.Context, path string, hint metacache.Hint) (*object.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[path]; ok {
		return obj, nil
	}
	return nil, nil
}

func (s *fakeStore) Download(ctx context.Context, obj *object.Object, offset, length int64, dst io.WriterAt) error {
	s.mu.Lock()
	data := s.data[obj.Path()]
	s.mu.Unlock()
	if offset >= int64(len(data)) {
		return nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	_, err := dst.WriteAt(data[offset:end], offset)
	return err
}

func (s *fakeStore) Upload(ctx context.Context, obj *object.Object, src io.ReaderAt, size int64) (string, error) {
	buf := make([]byte, size)
	if size > 0 {
		if _, err := src.ReadAt(buf, 0); err != nil && err != io.EOF {
			return "", err
		}
	}
	s.mu.Lock()
	s.data[obj.Path()] = buf
	s.objects[obj.Path()] = obj
	s.mu.Unlock()
	return "etag-1", nil
}

func (s *fakeStore) InitiateMultipart(ctx context.Context, obj *object.Object) (string, error) {
	return "upload-1", nil
}

func (s *fakeStore) UploadPart(ctx context.Context, obj *object.Object, uploadID string, partNumber int, src io.ReaderAt, offset, size int64) (string, error) {
	return "part-etag", nil
}

func (s *fakeStore) CompleteMultipart(ctx context.Context, obj *object.Object, uploadID string, parts []*s3storage.UploadPart) (string, error) {
	return "etag-complete", nil
}

func (s *fakeStore) AbortMultipart(ctx context.Context, obj *object.Object, uploadID string) error {
	return nil
}

func (s *fakeStore) Commit(ctx context.Context, obj *object.Object, ifMatch string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Path()] = obj
	return "etag-commit", nil
}

func (s *fakeStore) ListChildren(ctx context.Context, path string) (files, dirs []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := path
	if prefix != "" {
		prefix += "/"
	}

	seenDirs := make(map[string]bool)
	for p, obj := range s.objects {
		if !strings.HasPrefix(p, prefix) || p == path {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			dir := rest[:idx]
			if !seenDirs[dir] {
				seenDirs[dir] = true
				dirs = append(dirs, dir)
			}
			continue
		}
		if obj.Kind() == object.KindDirectory {
			if !seenDirs[rest] {
				seenDirs[rest] = true
				dirs = append(dirs, rest)
			}
			continue
		}
		files = append(files, rest)
	}
	return files, dirs, nil
}

func (s *fakeStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	delete(s.data, path)
	return nil
}

func newTestFileSystem(t *testing.T, store *fakeStore) *fuse.FileSystem {
	t.Helper()
	cache := metacache.New(metacache.Config{MaxEntries: 256, Fetcher: store})
	secondary := reqpool.New(reqpool.Config{Name: "secondary-test", Kind: reqpool.KindCompute, Size: 2})
	t.Cleanup(func() { secondary.Shutdown() })
	engine := openfile.New(openfile.Config{MaxConcurrency: 2}, cache, store, secondary)

	return fuse.NewFileSystem(cache, engine, store, store, "https://bucket.example",
		object.Defaults{Mode: 0o644, UID: 1000, GID: 1000}, &fuse.Config{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0o644,
		})
}

func TestFileSystemRootIsDirectoryNode(t *testing.T) {
	store := newFakeStore()
	fsys := newTestFileSystem(t, store)

	root := fsys.Root()
	require.NotNil(t, root)
}

func TestFileSystemStatsStartAtZero(t *testing.T) {
	store := newFakeStore()
	fsys := newTestFileSystem(t, store)

	stats := fsys.GetStats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(0), stats.Reads)
	assert.Equal(t, int64(0), stats.Writes)
	assert.Equal(t, int64(0), stats.Errors)
}

func TestFakeStoreRoundTripsThroughEngine(t *testing.T) {
	store := newFakeStore()
	store.put("greeting.txt", object.KindFile, []byte("hello world"))

	cache := metacache.New(metacache.Config{MaxEntries: 16, Fetcher: store})
	secondary := reqpool.New(reqpool.Config{Name: "secondary-test-2", Kind: reqpool.KindCompute, Size: 2})
	t.Cleanup(func() { secondary.Shutdown() })
	engine := openfile.New(openfile.Config{MaxConcurrency: 2}, cache, store, secondary)

	ctx := context.Background()
	handle, err := engine.Open(ctx, "greeting.txt", openfile.OpenOptions{})
	require.NoError(t, err)

	buf := make([]byte, 11)
	n, err := engine.Read(handle, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))

	_, err = engine.Write(handle, []byte("HELLO"), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Flush(ctx, handle, "greeting.txt", true))

	assert.Equal(t, "HELLO world", string(store.data["greeting.txt"]))
}

func TestFakeStoreListChildrenSplitsFilesAndDirs(t *testing.T) {
	store := newFakeStore()
	store.put("dir1/file1.txt", object.KindFile, []byte("a"))
	store.put("dir1/file2.txt", object.KindFile, []byte("b"))
	store.put("dir1/subdir/file3.txt", object.KindFile, []byte("c"))
	store.put("dir2/file4.txt", object.KindFile, []byte("d"))

	files, dirs, err := store.ListChildren(context.Background(), "dir1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"file1.txt", "file2.txt"}, files)
	assert.ElementsMatch(t, []string{"subdir"}, dirs)
}
