package s3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/objectfs/objectftp/internal/objectstore"
)

type segment struct {
	key  string
	size int64
	etag string
}

type segmentList struct {
	container string
	parts     []segment
}

// summary returns the assembled size and the hash of the concatenated segment ETags.
func (l segmentList) summary() (int64, string) {
	var size int64
	var etags strings.Builder
	for _, p := range l.parts {
		size += p.size
		etags.WriteString(p.etag)
	}
	sum := md5.Sum([]byte(etags.String()))
	return size, hex.EncodeToString(sum[:])
}

// segments lists the objects a "container/prefix" manifest points at, in name order.
func (st *Store) segments(ctx context.Context, manifest string) (segmentList, error) {
	container, prefix, _ := strings.Cut(manifest, "/")
	list := segmentList{container: container}

	paginator := s3.NewListObjectsV2Paginator(st.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(container),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return segmentList{}, translateError(err, "ListObjectsV2", manifest)
		}
		for _, obj := range page.Contents {
			list.parts = append(list.parts, segment{
				key:  aws.ToString(obj.Key),
				size: aws.ToInt64(obj.Size),
				etag: trimETag(obj.ETag),
			})
		}
	}
	return list, nil
}

// segmentReader reads the segments of a manifest one GET at a time.
type segmentReader struct {
	ctx     context.Context
	store   *Store
	list    segmentList
	next    int
	skip    int64
	current io.ReadCloser
}

func newSegmentReader(ctx context.Context, st *Store, list segmentList, offset int64) *segmentReader {
	r := &segmentReader{ctx: ctx, store: st, list: list}
	for r.next < len(list.parts) && offset >= list.parts[r.next].size {
		offset -= list.parts[r.next].size
		r.next++
	}
	r.skip = offset
	return r
}

func (r *segmentReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.next >= len(r.list.parts) {
				return 0, io.EOF
			}
			part := r.list.parts[r.next]
			r.next++
			body, err := r.store.getRange(r.ctx, r.list.container, part.key, r.skip)
			if err != nil {
				return 0, err
			}
			r.skip = 0
			r.current = body
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			_ = r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *segmentReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	r.next = len(r.list.parts)
	return err
}

// manifestOf finds the manifest marker; SDKs differ in metadata key case.
func manifestOf(metadata map[string]string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, objectstore.ManifestMetadata) {
			return v
		}
	}
	return ""
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(objectstore.TimeLayout)
}

func trimETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
