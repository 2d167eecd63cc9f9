package s3

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
)

// newTestAdapter points an Adapter at a httptest server standing in for
// S3, bypassing NewBackend's network-dependent health check and AWS
// config resolution.
func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
		config.WithRegion("us-east-1"),
	)
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(server.URL)
		o.UsePathStyle = true
	})

	pool, err := NewConnectionPool(1, func() (*s3.Client, error) { return client, nil })
	require.NoError(t, err)

	backend := &Backend{bucket: "test-bucket", pool: pool}
	adapter := NewAdapter(backend, "https://test-bucket.s3.amazonaws.com", object.Defaults{Mode: 0o644}, nil)
	return adapter, server
}

func TestAdapterFetchDecodesFoundObject(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", "5")
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	})

	obj, err := adapter.Fetch(context.Background(), "/a.txt", metacache.HintNone)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, object.KindFile, obj.Kind())
	assert.Equal(t, int64(5), obj.Stat().Size)
	assert.Equal(t, "abc123", obj.ETag())
}

func TestAdapterFetchReturnsNilOnNotFound(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	obj, err := adapter.Fetch(context.Background(), "/missing.txt", metacache.HintNone)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestAdapterDownloadWritesRangeAtOffset(t *testing.T) {
	body := "hello world"
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "bytes=2-6", r.Header.Get("Range"))
		w.Header().Set("Content-Range", "bytes 2-6/11")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, body[2:7])
	})

	obj := object.New("/a.txt", object.KindFile, "https://test-bucket.s3.amazonaws.com", object.Defaults{})
	buf := make([]byte, 11)
	dst := &sliceWriterAt{buf: buf}
	err := adapter.Download(context.Background(), obj, 2, 5, dst)
	require.NoError(t, err)
	assert.Equal(t, body[2:7], string(buf[2:7]))
}

func TestAdapterUploadPutsObjectAndStripsContentTypeMetadata(t *testing.T) {
	var gotMetadata map[string]string
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotMetadata = map[string]string{}
		for key := range r.Header {
			const prefix = "X-Amz-Meta-"
			if len(key) > len(prefix) && key[:len(prefix)] == prefix {
				gotMetadata[key[len(prefix):]] = r.Header.Get(key)
			}
		}
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusOK)
	})

	obj := object.New("/a.txt", object.KindFile, "https://test-bucket.s3.amazonaws.com", object.Defaults{ContentType: "text/plain"})
	data := []byte("payload")
	etag, err := adapter.Upload(context.Background(), obj, bytesReaderAt(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, `"etag-1"`, etag)
	_, hasContentType := gotMetadata["Content-Type"]
	assert.False(t, hasContentType, "Content-Type must not leak into S3 user metadata")
}

func TestAdapterMultipartRoundTrip(t *testing.T) {
	var calls []string
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.RawQuery)
		switch {
		case r.Method == http.MethodPost && r.URL.Query().Has("uploads"):
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<InitiateMultipartUploadResult><Bucket>test-bucket</Bucket><Key>a.txt</Key><UploadId>upload-1</UploadId></InitiateMultipartUploadResult>`)
		case r.Method == http.MethodPut && r.URL.Query().Has("partNumber"):
			w.Header().Set("ETag", `"part-1"`)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Query().Has("uploadId"):
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<CompleteMultipartUploadResult><Bucket>test-bucket</Bucket><Key>a.txt</Key><ETag>"final-etag"</ETag></CompleteMultipartUploadResult>`)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL)
		}
	})

	obj := object.New("/a.txt", object.KindFile, "https://test-bucket.s3.amazonaws.com", object.Defaults{})
	ctx := context.Background()

	uploadID, err := adapter.InitiateMultipart(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "upload-1", uploadID)

	part := []byte("chunk")
	etag, err := adapter.UploadPart(ctx, obj, uploadID, 1, bytesReaderAt(part), 0, int64(len(part)))
	require.NoError(t, err)
	assert.Equal(t, `"part-1"`, etag)

	finalETag, err := adapter.CompleteMultipart(ctx, obj, uploadID, []*UploadPart{{PartNumber: 1, ETag: etag}})
	require.NoError(t, err)
	assert.Equal(t, `"final-etag"`, finalETag)

	require.NoError(t, adapter.AbortMultipart(ctx, obj, uploadID))
}

func TestAdapterCommitIssuesCopyObjectWithMetadataReplaceAndIfMatch(t *testing.T) {
	var gotIfMatch, gotDirective string
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotIfMatch = r.Header.Get("X-Amz-Copy-Source-If-Match")
		gotDirective = r.Header.Get("X-Amz-Metadata-Directive")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<CopyObjectResult><ETag>"etag-2"</ETag></CopyObjectResult>`)
	})

	obj := object.New("/a.txt", object.KindFile, "https://test-bucket.s3.amazonaws.com", object.Defaults{})
	etag, err := adapter.Commit(context.Background(), obj, `"etag-1"`)
	require.NoError(t, err)
	assert.Equal(t, `"etag-2"`, etag)
	assert.Equal(t, `"etag-1"`, gotIfMatch)
	assert.Equal(t, "REPLACE", gotDirective)
}

func TestAdapterListChildrenSplitsFilesAndDirs(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "logs/", r.URL.Query().Get("prefix"))
		assert.Equal(t, "/", r.URL.Query().Get("delimiter"))
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult>
  <Contents><Key>logs/a.txt</Key></Contents>
  <Contents><Key>logs/b.txt</Key></Contents>
  <CommonPrefixes><Prefix>logs/sub/</Prefix></CommonPrefixes>
  <IsTruncated>false</IsTruncated>
</ListBucketResult>`)
	})

	files, dirs, err := adapter.ListChildren(context.Background(), "/logs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, files)
	assert.ElementsMatch(t, []string{"sub"}, dirs)
}

func TestAdapterDeleteIssuesDeleteObject(t *testing.T) {
	adapter, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	err := adapter.Delete(context.Background(), "/a.txt")
	require.NoError(t, err)
}

// sliceWriterAt is an io.WriterAt backed by a preallocated slice, standing
// in for the engine's staging file in tests.
type sliceWriterAt struct{ buf []byte }

func (s *sliceWriterAt) WriteAt(p []byte, off int64) (int, error) {
	n := copy(s.buf[off:], p)
	return n, nil
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
