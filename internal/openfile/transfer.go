package openfile

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/objectfs/objectfs/internal/object"
	reqpool "github.com/objectfs/objectfs/internal/pool"
	s3storage "github.com/objectfs/objectfs/internal/storage/s3"
	"github.com/objectfs/objectfs/pkg/errors"
	"github.com/objectfs/objectfs/pkg/status"
)

// Transfer is the collaborator that actually moves bytes to and from
// the remote store; a service adapter over internal/storage/s3
// implements it. Every method is one unit of work the engine submits
// to the Secondary request pool. dst/src are expressed as plain
// io.WriterAt/io.ReaderAt (stagingFile satisfies both) rather than the
// unexported staging file type, and completed parts are the teacher's
// own s3storage.UploadPart rather than a new type, so the adapter
// implementing Transfer doesn't need to import this package back (it
// already is imported by it, for multipart state tracking).
type Transfer interface {
	// Download performs a single ranged GET of [offset, offset+length)
	// and writes it to dst at offset.
	Download(ctx context.Context, obj *object.Object, offset, length int64, dst io.WriterAt) error
	// Upload performs a single PUT of the first size bytes of src and
	// returns the resulting etag.
	Upload(ctx context.Context, obj *object.Object, src io.ReaderAt, size int64) (etag string, err error)

	InitiateMultipart(ctx context.Context, obj *object.Object) (uploadID string, err error)
	UploadPart(ctx context.Context, obj *object.Object, uploadID string, partNumber int, src io.ReaderAt, offset, size int64) (etag string, err error)
	CompleteMultipart(ctx context.Context, obj *object.Object, uploadID string, parts []*s3storage.UploadPart) (etag string, err error)
	AbortMultipart(ctx context.Context, obj *object.Object, uploadID string) error

	// Commit performs an in-place, metadata-only update of obj (an
	// idempotent server-side COPY onto itself with obj's current
	// Headers() and a metadata-replace directive), conditioned on
	// ifMatch when non-empty so a body changed since ifMatch aborts
	// the commit rather than being silently overwritten.
	Commit(ctx context.Context, obj *object.Object, ifMatch string) (etag string, err error)
}

// errnoOf extracts the POSIX errno an error should surface as.
func errnoOf(err error) int {
	type hasErrno interface{ Errno() int }
	if e, ok := err.(hasErrno); ok {
		return e.Errno()
	}
	return -int(syscall.EIO)
}

// transferEngine implements §4.6's "Transfer engine": chunked download
// and chunked/multipart upload, fanning chunk and part work out across
// the Secondary request pool. Each chunk/part is one internal/pool
// work item; sourcegraph/conc's error-aggregating pool manages waiting
// on the resulting set of completions concurrently from the caller's
// side, and go.uber.org/multierr combines every chunk/part failure
// (and a multipart abort's own failure) into one error instead of only
// ever reporting the first.
type transferEngine struct {
	transfer  Transfer
	secondary *reqpool.Pool

	downloadChunkSize int64
	uploadChunkSize   int64
	maxConcurrency    int

	// progress, when non-nil, tracks each multipart upload's
	// part-by-part completion as a pkg/status.Operation.
	progress *status.Tracker
}

// postSecondary submits fn as a work item on the Secondary pool and
// blocks for its result, translating the pool's int return code back
// into an error.
func (e *transferEngine) postSecondary(fn func(ctx context.Context) error) error {
	var callErr error
	code := e.secondary.Post(reqpool.ComputeFunc(func(ctx context.Context) int {
		if err := fn(ctx); err != nil {
			callErr = err
			return errnoOf(err)
		}
		return 0
	}), 0).Wait()
	if code != 0 {
		if callErr != nil {
			return callErr
		}
		return errors.FromErrno("openfile", "transfer", syscall.Errno(-code))
	}
	return nil
}

// download performs §4.6's download algorithm: a single GET if size is
// within one chunk, otherwise a fan-out of ranged GETs across
// Secondary, one per chunk, failing the whole operation if any chunk
// fails.
func (e *transferEngine) download(ctx context.Context, obj *object.Object, staging *stagingFile, size int64) error {
	if size <= 0 {
		return nil
	}
	if size <= e.downloadChunkSize {
		return e.postSecondary(func(ctx context.Context) error {
			return e.transfer.Download(ctx, obj, 0, size, staging)
		})
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(e.concurrency())
	for offset := int64(0); offset < size; offset += e.downloadChunkSize {
		offset := offset
		length := e.downloadChunkSize
		if offset+length > size {
			length = size - offset
		}
		p.Go(func(ctx context.Context) error {
			return e.postSecondary(func(ctx context.Context) error {
				return e.transfer.Download(ctx, obj, offset, length, staging)
			})
		})
	}
	return p.Wait()
}

// upload performs §4.6's upload algorithm: a single PUT if size fits
// in one chunk (or multipart is disabled via a zero chunk size),
// otherwise an initiate/parts/complete multipart sequence with each
// part retried once on any error and an abort issued on any
// irrecoverable failure.
func (e *transferEngine) upload(ctx context.Context, obj *object.Object, staging *stagingFile, size int64) (etag string, err error) {
	if e.uploadChunkSize <= 0 || size <= e.uploadChunkSize {
		var result string
		err := e.postSecondary(func(ctx context.Context) error {
			etag, uerr := e.transfer.Upload(ctx, obj, staging, size)
			result = etag
			return uerr
		})
		return result, err
	}
	return e.uploadMultipart(ctx, obj, staging, size)
}

func (e *transferEngine) uploadMultipart(ctx context.Context, obj *object.Object, staging *stagingFile, size int64) (string, error) {
	var uploadID string
	if err := e.postSecondary(func(ctx context.Context) error {
		id, err := e.transfer.InitiateMultipart(ctx, obj)
		uploadID = id
		return err
	}); err != nil {
		return "", err
	}

	state := s3storage.NewMultipartUploadState(uploadID, "", obj.Path(), size, e.uploadChunkSize)
	var stateMu sync.Mutex

	numParts := s3storage.CalculatePartCount(size, e.uploadChunkSize)

	var opID string
	if e.progress != nil {
		op, _ := e.progress.StartOperation(ctx, "multipart-upload", map[string]interface{}{
			"path":      obj.Path(),
			"upload_id": uploadID,
			"parts":     numParts,
		})
		opID = op.ID
		_ = e.progress.UpdateProgress(opID, 0, int64(numParts), "parts")
	}

	var completedParts int64

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(e.concurrency())
	for part := 1; part <= numParts; part++ {
		part := part
		offset := int64(part-1) * e.uploadChunkSize
		length := e.uploadChunkSize
		if offset+length > size {
			length = size - offset
		}

		p.Go(func(ctx context.Context) error {
			etag, uerr := e.uploadPartWithRetry(ctx, obj, uploadID, part, staging, offset, length)
			stateMu.Lock()
			if uerr != nil {
				state.MarkPartFailed(part, uerr)
			} else {
				state.MarkPartCompleted(part, length, etag)
			}
			stateMu.Unlock()
			if uerr == nil && e.progress != nil {
				done := atomic.AddInt64(&completedParts, 1)
				_ = e.progress.UpdateProgress(opID, done, int64(numParts), "parts")
			}
			return uerr
		})
	}

	if err := p.Wait(); err != nil {
		abortErr := e.postSecondary(func(ctx context.Context) error {
			return e.transfer.AbortMultipart(ctx, obj, uploadID)
		})
		if e.progress != nil {
			_ = e.progress.FailOperation(opID, err)
		}
		return "", multierr.Append(err, abortErr)
	}

	completed := state.GetCompletedParts()

	var finalETag string
	err := e.postSecondary(func(ctx context.Context) error {
		etag, err := e.transfer.CompleteMultipart(ctx, obj, uploadID, completed)
		finalETag = etag
		return err
	})
	if e.progress != nil {
		if err != nil {
			_ = e.progress.FailOperation(opID, err)
		} else {
			_ = e.progress.CompleteOperation(opID)
		}
	}
	return finalETag, err
}

// uploadPartWithRetry uploads one part, retrying once on failure, per
// §4.6's "parts are retried once on transient error".
func (e *transferEngine) uploadPartWithRetry(ctx context.Context, obj *object.Object, uploadID string, part int, staging *stagingFile, offset, length int64) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var etag string
		err := e.postSecondary(func(ctx context.Context) error {
			result, uerr := e.transfer.UploadPart(ctx, obj, uploadID, part, staging, offset, length)
			etag = result
			return uerr
		})
		if err == nil {
			return etag, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// commit submits a metadata-only Commit as one Secondary work item, per
// §4.4: guarded by obj's currently-known etag so a concurrent writer's
// body is never silently clobbered by a stale metadata re-upload.
func (e *transferEngine) commit(ctx context.Context, obj *object.Object) (string, error) {
	var etag string
	err := e.postSecondary(func(ctx context.Context) error {
		result, cerr := e.transfer.Commit(ctx, obj, obj.ETag())
		etag = result
		return cerr
	})
	return etag, err
}

func (e *transferEngine) concurrency() int {
	if e.maxConcurrency <= 0 {
		return 8
	}
	return e.maxConcurrency
}
