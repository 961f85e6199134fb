package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/objectftp/internal/objectstore"
)

// usageConcurrency bounds the bucket scans of ListContainers.
const usageConcurrency = 4

// Store is one S3 account. Buckets are containers and keys are object names.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	logger   *slog.Logger
}

var _ objectstore.Store = (*Store)(nil)

// ListContainers lists every bucket. S3 keeps no bucket statistics, so object
// counts and sizes come from scanning each bucket.
func (st *Store) ListContainers(ctx context.Context) ([]objectstore.ContainerInfo, error) {
	result, err := st.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, translateError(err, "ListBuckets", "")
	}

	out := make([]objectstore.ContainerInfo, len(result.Buckets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(usageConcurrency)
	for i, bucket := range result.Buckets {
		name := aws.ToString(bucket.Name)
		g.Go(func() error {
			info, err := st.usage(gctx, name)
			if err != nil {
				return err
			}
			out[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (st *Store) HeadContainer(ctx context.Context, container string) (objectstore.ContainerInfo, error) {
	if _, err := st.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)}); err != nil {
		return objectstore.ContainerInfo{}, translateError(err, "HeadBucket", container)
	}
	return st.usage(ctx, container)
}

func (st *Store) usage(ctx context.Context, bucket string) (objectstore.ContainerInfo, error) {
	info := objectstore.ContainerInfo{Name: bucket}
	paginator := s3.NewListObjectsV2Paginator(st.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return objectstore.ContainerInfo{}, translateError(err, "ListObjectsV2", bucket)
		}
		for _, obj := range page.Contents {
			info.Count++
			info.Bytes += aws.ToInt64(obj.Size)
		}
	}
	return info, nil
}

// CreateContainer creates a bucket. An existing bucket the account can reach is
// not an error.
func (st *Store) CreateContainer(ctx context.Context, container string) error {
	_, err := st.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(container)})
	if err == nil {
		return nil
	}
	if isErrorType[*s3types.BucketAlreadyOwnedByYou](err) {
		return nil
	}
	if isErrorType[*s3types.BucketAlreadyExists](err) {
		if _, headErr := st.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(container)}); headErr == nil {
			return nil
		}
	}
	return translateError(err, "CreateBucket", container)
}

func (st *Store) DeleteContainer(ctx context.Context, container string) error {
	_, err := st.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(container)})
	return translateError(err, "DeleteBucket", container)
}

// ListObjects pages through ListObjectsV2 until opts.Limit entries are collected.
// Common prefixes are returned as SubDir entries, merged in name order.
// Zero-length objects are probed with HEAD since S3 listings carry no content
// type, which is what marks a directory.
func (st *Store) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) ([]objectstore.ObjectInfo, error) {
	limit := opts.Limit
	if limit <= 0 || limit > objectstore.ListLimit {
		limit = objectstore.ListLimit
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(opts.Prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.Marker != "" {
		input.StartAfter = aws.String(opts.Marker)
	}

	var out []objectstore.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(st.client, input)
	for paginator.HasMorePages() && len(out) < limit {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateError(err, "ListObjectsV2", container)
		}

		batch := make([]objectstore.ObjectInfo, 0, len(page.Contents)+len(page.CommonPrefixes))
		for _, obj := range page.Contents {
			batch = append(batch, objectstore.ObjectInfo{
				Name:         aws.ToString(obj.Key),
				Bytes:        aws.ToInt64(obj.Size),
				LastModified: formatTime(obj.LastModified),
				Hash:         trimETag(obj.ETag),
			})
		}
		for _, cp := range page.CommonPrefixes {
			batch = append(batch, objectstore.ObjectInfo{Name: aws.ToString(cp.Prefix), SubDir: true})
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Name < batch[j].Name })

		for _, obj := range batch {
			if obj.Name <= opts.Marker {
				continue
			}
			// Plain listings carry no content type or manifest marker.
			if !obj.SubDir && obj.Bytes == 0 {
				if head, err := st.HeadObject(ctx, container, obj.Name); err == nil {
					head.Name = obj.Name
					head.Headed = true
					obj = head
				}
			}
			out = append(out, obj)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// HeadObject returns object metadata. For a manifest the size and hash describe
// the assembled object.
func (st *Store) HeadObject(ctx context.Context, container, key string) (objectstore.ObjectInfo, error) {
	result, err := st.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return objectstore.ObjectInfo{}, translateError(err, "HeadObject", container+"/"+key)
	}

	info := objectstore.ObjectInfo{
		Name:         key,
		Bytes:        aws.ToInt64(result.ContentLength),
		ContentType:  aws.ToString(result.ContentType),
		LastModified: formatTime(result.LastModified),
		Hash:         trimETag(result.ETag),
		Manifest:     manifestOf(result.Metadata),
	}
	if info.Manifest != "" {
		segments, err := st.segments(ctx, info.Manifest)
		if err != nil {
			return objectstore.ObjectInfo{}, err
		}
		info.Bytes, info.Hash = segments.summary()
	}
	return info, nil
}

// GetObject streams an object from offset. Reading a manifest concatenates its
// segments.
func (st *Store) GetObject(ctx context.Context, container, key string, offset int64) (io.ReadCloser, error) {
	head, err := st.HeadObject(ctx, container, key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > head.Bytes {
		return nil, objectstore.NewStatusError(http.StatusRequestedRangeNotSatisfiable, "range %d- outside %d bytes", offset, head.Bytes)
	}
	if head.Manifest != "" {
		segments, err := st.segments(ctx, head.Manifest)
		if err != nil {
			return nil, err
		}
		return newSegmentReader(ctx, st, segments, offset), nil
	}
	if offset == head.Bytes {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return st.getRange(ctx, container, key, offset)
}

func (st *Store) getRange(ctx context.Context, container, key string, offset int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	result, err := st.client.GetObject(ctx, input)
	if err != nil {
		return nil, translateError(err, "GetObject", container+"/"+key)
	}
	return result.Body, nil
}

// CreateObject starts a streaming upload. The uploader consumes the pipe and
// switches to multipart once a part fills.
func (st *Store) CreateObject(ctx context.Context, container, key, contentType string) (objectstore.ObjectWriter, error) {
	return st.upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(container),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}), nil
}

func (st *Store) upload(ctx context.Context, input *s3.PutObjectInput) *uploadWriter {
	pr, pw := io.Pipe()
	input.Body = pr
	w := &uploadWriter{pw: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		_, err := st.uploader.Upload(ctx, input)
		if err != nil {
			st.logger.Debug("upload failed", "bucket", aws.ToString(input.Bucket), "key", aws.ToString(input.Key), "error", err)
			w.err = translateError(err, "PutObject", aws.ToString(input.Bucket)+"/"+aws.ToString(input.Key))
		}
		// Unblock a writer still pushing data into a failed upload.
		pr.CloseWithError(errUploadAborted(w.err))
	}()
	return w
}

func errUploadAborted(err error) error {
	if err != nil {
		return err
	}
	return io.ErrClosedPipe
}

// CopyObject copies server side. A manifest source is flattened by streaming the
// assembled content into the destination.
func (st *Store) CopyObject(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	head, err := st.HeadObject(ctx, srcContainer, srcKey)
	if err != nil {
		return err
	}

	if head.Manifest != "" {
		r, err := st.GetObject(ctx, srcContainer, srcKey, 0)
		if err != nil {
			return err
		}
		defer r.Close()
		w := st.upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(dstContainer),
			Key:         aws.String(dstKey),
			ContentType: aws.String(head.ContentType),
		})
		if _, err := io.Copy(w, r); err != nil {
			_ = w.Close()
			return translateError(err, "CopyObject", srcContainer+"/"+srcKey)
		}
		return w.Close()
	}

	_, err = st.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstContainer),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcContainer + "/" + escapeKey(srcKey)),
	})
	return translateError(err, "CopyObject", srcContainer+"/"+srcKey)
}

// PutManifest replaces key with an empty object tagged with the segment location.
// The existing content type is kept.
func (st *Store) PutManifest(ctx context.Context, container, key, segmentContainer, segmentPrefix string) error {
	contentType := objectstore.DefaultContentType
	if head, err := st.HeadObject(ctx, container, key); err == nil && head.ContentType != "" {
		contentType = head.ContentType
	}
	_, err := st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			objectstore.ManifestMetadata: segmentContainer + "/" + segmentPrefix,
		},
	})
	return translateError(err, "PutManifest", container+"/"+key)
}

// DeleteObject deletes key. S3 deletes are idempotent, so a HEAD first reports
// missing objects as 404.
func (st *Store) DeleteObject(ctx context.Context, container, key string) error {
	if _, err := st.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}); err != nil {
		return translateError(err, "HeadObject", container+"/"+key)
	}
	_, err := st.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	return translateError(err, "DeleteObject", container+"/"+key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// uploadWriter feeds an upload running in the background.
type uploadWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
	err  error

	once     sync.Once
	closeErr error
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close ends the body and waits for the upload to finish.
func (w *uploadWriter) Close() error {
	w.once.Do(func() {
		_ = w.pw.Close()
		<-w.done
		w.closeErr = w.err
	})
	return w.closeErr
}

// translateError maps SDK failures onto objectstore.StatusError.
func translateError(err error, operation, resource string) error {
	if err == nil {
		return nil
	}
	var se *objectstore.StatusError
	if errors.As(err, &se) {
		return se
	}

	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NoSuchBucket](err), isErrorType[*s3types.NotFound](err):
		return objectstore.NewStatusError(http.StatusNotFound, "%s %s: not found", operation, resource)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketNotEmpty":
			return objectstore.NewStatusError(http.StatusConflict, "%s %s: %s", operation, resource, apiErr.ErrorMessage())
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return objectstore.NewStatusError(http.StatusUnauthorized, "%s %s: %s", operation, resource, apiErr.ErrorCode())
		case "InvalidBucketName":
			return objectstore.NewStatusError(http.StatusBadRequest, "%s %s: %s", operation, resource, apiErr.ErrorMessage())
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return objectstore.NewStatusError(respErr.HTTPStatusCode(), "%s %s: %v", operation, resource, respErr.Err)
	}
	return fmt.Errorf("%s failed for %s: %w", operation, resource, err)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
