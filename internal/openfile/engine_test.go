package openfile

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
	reqpool "github.com/objectfs/objectfs/internal/pool"
	s3storage "github.com/objectfs/objectfs/internal/storage/s3"
)

type fakeFetcher struct {
	mu      sync.Mutex
	objects map[string]*object.Object
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string, hint metacache.Hint) (*object.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if obj, ok := f.objects[path]; ok {
		return obj, nil
	}
	return nil, nil
}

type fakeTransfer struct {
	mu      sync.Mutex
	remote  map[string][]byte
	uploads int
	commits int
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{remote: make(map[string][]byte)}
}

func (f *fakeTransfer) Download(ctx context.Context, obj *object.Object, offset, length int64, dst io.WriterAt) error {
	f.mu.Lock()
	data := f.remote[obj.Path()]
	f.mu.Unlock()
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

func (f *fakeTransfer) Upload(ctx context.Context, obj *object.Object, src io.ReaderAt, size int64) (string, error) {
	buf := make([]byte, size)
	if _, err := src.ReadAt(buf, 0); err != nil && size > 0 {
		return "", err
	}
	f.mu.Lock()
	f.remote[obj.Path()] = buf
	f.uploads++
	f.mu.Unlock()
	return "etag-1", nil
}

func (f *fakeTransfer) InitiateMultipart(ctx context.Context, obj *object.Object) (string, error) {
	return "upload-1", nil
}

func (f *fakeTransfer) UploadPart(ctx context.Context, obj *object.Object, uploadID string, partNumber int, src io.ReaderAt, offset, size int64) (string, error) {
	return "part-etag", nil
}

func (f *fakeTransfer) CompleteMultipart(ctx context.Context, obj *object.Object, uploadID string, parts []*s3storage.UploadPart) (string, error) {
	return "etag-complete", nil
}

func (f *fakeTransfer) AbortMultipart(ctx context.Context, obj *object.Object, uploadID string) error {
	return nil
}

func (f *fakeTransfer) Commit(ctx context.Context, obj *object.Object, ifMatch string) (string, error) {
	f.mu.Lock()
	f.commits++
	f.mu.Unlock()
	return "etag-commit", nil
}

func newTestEngine(t *testing.T, ft *fakeTransfer, fetcher *fakeFetcher) *Engine {
	t.Helper()
	cache := metacache.New(metacache.Config{MaxEntries: 64, Fetcher: fetcher})
	secondary := reqpool.New(reqpool.Config{Name: "secondary-test", Kind: reqpool.KindCompute, Size: 4})
	t.Cleanup(func() { secondary.Shutdown() })
	return New(Config{MaxConcurrency: 2}, cache, ft, secondary)
}

func TestOpenDownloadsExistingObject(t *testing.T) {
	obj := object.New("/a.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	obj.SetSize(5)
	ft := newFakeTransfer()
	ft.remote["/a.txt"] = []byte("hello")
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/a.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/a.txt", OpenOptions{})
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := e.Read(handle, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestOpenTruncateStartsEmpty(t *testing.T) {
	obj := object.New("/b.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/b.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/b.txt", OpenOptions{Truncate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), obj.Stat().Size)

	n, err := e.Write(handle, []byte("world"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), obj.Stat().Size)
}

func TestReopenSharesEntry(t *testing.T) {
	obj := object.New("/c.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	ft.remote["/c.txt"] = []byte("abc")
	obj.SetSize(3)
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/c.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	h1, err := e.Open(context.Background(), "/c.txt", OpenOptions{})
	require.NoError(t, err)
	h2, err := e.Open(context.Background(), "/c.txt", OpenOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	entry1, ok := e.table.get(h1)
	require.True(t, ok)
	entry2, ok := e.table.get(h2)
	require.True(t, ok)
	assert.Same(t, entry1, entry2)
}

func TestFlushUploadsDirtyEntryAndClearsFlag(t *testing.T) {
	obj := object.New("/d.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/d.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/d.txt", OpenOptions{Truncate: true})
	require.NoError(t, err)
	_, err = e.Write(handle, []byte("payload"), 0)
	require.NoError(t, err)

	err = e.Flush(context.Background(), handle, "/d.txt", false)
	require.NoError(t, err)

	entry, ok := e.table.get(handle)
	require.True(t, ok)
	assert.False(t, entry.flags.has(FlagDirty))
	assert.Equal(t, 1, ft.uploads)
	assert.True(t, bytes.Equal(ft.remote["/d.txt"], []byte("payload")))
}

func TestFlushOnCloseRetiresHandleAndExpiresCache(t *testing.T) {
	obj := object.New("/e.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/e.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/e.txt", OpenOptions{Truncate: true})
	require.NoError(t, err)
	_, err = e.Write(handle, []byte("bye"), 0)
	require.NoError(t, err)

	err = e.Flush(context.Background(), handle, "/e.txt", true)
	require.NoError(t, err)

	_, ok := e.table.get(handle)
	assert.False(t, ok)
}

func TestReadReturnsBusyWhileFlushing(t *testing.T) {
	obj := object.New("/f.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/f.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/f.txt", OpenOptions{Truncate: true})
	require.NoError(t, err)

	entry, ok := e.table.get(handle)
	require.True(t, ok)
	entry.mu.Lock()
	entry.flags |= FlagFlushing
	entry.mu.Unlock()

	_, err = e.Read(handle, make([]byte, 1), 0)
	require.Error(t, err)
}

func TestTouchCommitsMetadataWithoutReupload(t *testing.T) {
	obj := object.New("/g.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	obj.SetETag(`"etag-0"`)
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/g.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	obj.SetMode(0o600)
	err := e.Touch(context.Background(), "/g.txt")
	require.NoError(t, err)

	assert.Equal(t, 1, ft.commits)
	assert.Equal(t, 0, ft.uploads)
	assert.Equal(t, "etag-commit", obj.ETag())
}

func TestTouchOnOpenHandleOnlyMarksDirty(t *testing.T) {
	obj := object.New("/h.txt", object.KindFile, "https://bucket.example", object.Defaults{})
	ft := newFakeTransfer()
	fetcher := &fakeFetcher{objects: map[string]*object.Object{"/h.txt": obj}}
	e := newTestEngine(t, ft, fetcher)

	handle, err := e.Open(context.Background(), "/h.txt", OpenOptions{Truncate: true})
	require.NoError(t, err)

	err = e.Touch(context.Background(), "/h.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, ft.commits)

	entry, ok := e.table.get(handle)
	require.True(t, ok)
	entry.mu.Lock()
	dirty := entry.flags.has(FlagDirty)
	entry.mu.Unlock()
	assert.True(t, dirty)
}
