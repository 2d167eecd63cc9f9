package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objectfs/objectfs/internal/metacache"
	"github.com/objectfs/objectfs/internal/object"
)

// userMetadata returns obj's reserved/xattr headers as an S3 user
// metadata map, stripping the synthetic "Content-Type" entry
// Object.Headers includes for wire-level encoding — S3 already carries
// content type as its own top-level field.
func userMetadata(obj *object.Object) map[string]string {
	h := obj.Headers("")
	delete(h, "Content-Type")
	return h
}

// byteRange formats an HTTP Range header value for [offset, offset+length).
func byteRange(offset, length int64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// copyToWriterAt drains src into dst starting at offset, in fixed-size
// chunks, without holding the whole body in memory.
func copyToWriterAt(dst io.WriterAt, offset int64, src io.Reader) error {
	buf := make([]byte, 32*1024)
	pos := offset
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.WriteAt(buf[:n], pos); werr != nil {
				return werr
			}
			pos += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// metadataHeaders adapts an AWS SDK metadata map (already stripped of
// its "x-amz-meta-" wire prefix) to object.Headers.
type metadataHeaders map[string]string

func (m metadataHeaders) Get(key string) string { return m[key] }

// Keys implements object.HeaderLister, letting Decode discover user
// xattrs among the object's metadata without being told their names.
func (m metadataHeaders) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Adapter binds the AWS-backed Backend to the core's two collaborator
// contracts: metacache.Fetcher (object resolution from a HEAD) and
// openfile.Transfer (chunked download, chunked/multipart upload).
// Transfer is implemented structurally — every method here uses only
// stdlib and internal/object types, so this package never needs to
// import internal/openfile (which itself imports this package for
// multipart state tracking).
type Adapter struct {
	backend   *Backend
	bucketURL string
	defaults  object.Defaults
	checkers  []object.TypeChecker
}

// NewAdapter builds a service adapter over an already-constructed
// Backend. checkers defaults to object.DefaultTypeCheckers when nil.
func NewAdapter(backend *Backend, bucketURL string, defaults object.Defaults, checkers []object.TypeChecker) *Adapter {
	if checkers == nil {
		checkers = object.DefaultTypeCheckers()
	}
	return &Adapter{backend: backend, bucketURL: bucketURL, defaults: defaults, checkers: checkers}
}

func (a *Adapter) key(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Fetch implements metacache.Fetcher: a HEAD translated into a decoded
// Object, or (nil, nil) on a 404 per §4.5 step 6 ("a negative result
// is not an error").
func (a *Adapter) Fetch(ctx context.Context, path string, hint metacache.Hint) (*object.Object, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.backend.bucket),
		Key:    aws.String(a.key(path)),
	})
	if err != nil {
		if isErrorType[*s3types.NotFound](err) || isErrorType[*s3types.NoSuchKey](err) {
			return nil, nil
		}
		return nil, err
	}

	dctx := &object.DecodeContext{
		Headers:      metadataHeaders(result.Metadata),
		StatusCode:   200,
		ContentType:  aws.ToString(result.ContentType),
		ETag:         aws.ToString(result.ETag),
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		MetaPrefix:   "",
	}
	return object.Create(path, dctx, a.checkers, a.bucketURL, a.defaults)
}

// Download implements openfile.Transfer: a single ranged GET written
// into dst at offset.
func (a *Adapter) Download(ctx context.Context, obj *object.Object, offset, length int64, dst io.WriterAt) error {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.backend.bucket),
		Key:    aws.String(a.key(obj.Path())),
		Range:  aws.String(byteRange(offset, length)),
	})
	if err != nil {
		return err
	}
	defer result.Body.Close()

	return copyToWriterAt(dst, offset, result.Body)
}

// Upload implements openfile.Transfer: a single PUT of size bytes
// read from src starting at offset 0.
func (a *Adapter) Upload(ctx context.Context, obj *object.Object, src io.ReaderAt, size int64) (string, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	result, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.backend.bucket),
		Key:         aws.String(a.key(obj.Path())),
		Body:        io.NewSectionReader(src, 0, size),
		ContentType: aws.String(obj.ContentType()),
		Metadata:    userMetadata(obj),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.ETag), nil
}

// Commit implements openfile.Transfer's metadata-only update: an
// in-place server-side COPY of obj onto itself with REPLACE metadata
// directive, carrying obj's current Headers() (mode/uid/gid/
// timestamps/lu-etag/xattrs) without moving its body over the wire.
// When ifMatch is non-empty, the copy is conditioned on the source
// object's current etag still matching it, so a body written by a
// concurrent writer since ifMatch was observed aborts the commit with
// a precondition-failed error instead of being silently overwritten.
func (a *Adapter) Commit(ctx context.Context, obj *object.Object, ifMatch string) (string, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	key := a.key(obj.Path())
	copySource := url.PathEscape(a.backend.bucket) + "/" + url.PathEscape(key)

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(a.backend.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(copySource),
		Metadata:          userMetadata(obj),
		MetadataDirective: s3types.MetadataDirectiveReplace,
		ContentType:       aws.String(obj.ContentType()),
	}
	if ifMatch != "" {
		input.CopySourceIfMatch = aws.String(ifMatch)
	}

	result, err := client.CopyObject(ctx, input)
	if err != nil {
		return "", err
	}
	if result.CopyObjectResult == nil {
		return "", nil
	}
	return aws.ToString(result.CopyObjectResult.ETag), nil
}

// InitiateMultipart implements openfile.Transfer.
func (a *Adapter) InitiateMultipart(ctx context.Context, obj *object.Object) (string, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	result, err := client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.backend.bucket),
		Key:         aws.String(a.key(obj.Path())),
		ContentType: aws.String(obj.ContentType()),
		Metadata:    userMetadata(obj),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.UploadId), nil
}

// UploadPart implements openfile.Transfer.
func (a *Adapter) UploadPart(ctx context.Context, obj *object.Object, uploadID string, partNumber int, src io.ReaderAt, offset, size int64) (string, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	result, err := client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(a.backend.bucket),
		Key:        aws.String(a.key(obj.Path())),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(int32(partNumber)),
		Body:       io.NewSectionReader(src, offset, size),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.ETag), nil
}

// CompleteMultipart implements openfile.Transfer.
func (a *Adapter) CompleteMultipart(ctx context.Context, obj *object.Object, uploadID string, parts []*UploadPart) (string, error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	completed := make([]s3types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = s3types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}

	result, err := client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(a.backend.bucket),
		Key:             aws.String(a.key(obj.Path())),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(result.ETag), nil
}

// AbortMultipart implements openfile.Transfer.
func (a *Adapter) AbortMultipart(ctx context.Context, obj *object.Object, uploadID string) error {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	_, err := client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(a.backend.bucket),
		Key:      aws.String(a.key(obj.Path())),
		UploadId: aws.String(uploadID),
	})
	return err
}

// ListChildren implements internal/fuse's Lister: a single-level
// listing of prefix (the directory variant's Read operation, per §3's
// "lists bucket contents with the directory's path as prefix and / as
// delimiter"). Contents entries become files, CommonPrefixes become
// subdirectories, both returned with prefix stripped and any trailing
// slash removed.
func (a *Adapter) ListChildren(ctx context.Context, path string) (files, dirs []string, err error) {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	prefix := a.key(path)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var continuationToken *string
	for {
		result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.backend.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, nil, err
		}

		for _, obj := range result.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name != "" {
				files = append(files, name)
			}
		}
		for _, common := range result.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if name != "" {
				dirs = append(dirs, name)
			}
		}

		if !aws.ToBool(result.IsTruncated) {
			break
		}
		continuationToken = result.NextContinuationToken
	}

	return files, dirs, nil
}

// Delete implements internal/fuse's Remover: an unconditional DELETE,
// used for unlink and for removing an empty directory's marker object.
func (a *Adapter) Delete(ctx context.Context, path string) error {
	client := a.backend.pool.Get()
	defer a.backend.pool.Put(client)

	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.backend.bucket),
		Key:    aws.String(a.key(path)),
	})
	return err
}
