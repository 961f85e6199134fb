package filesystem

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/pkg/errors"
)

// readHandle streams an object, reopening a ranged GET after every seek.
type readHandle struct {
	ctx       context.Context
	store     objectstore.Store
	container string
	key       string
	name      string
	metrics   Metrics

	body   io.ReadCloser
	offset int64

	size      int64
	sizeKnown bool
	closed    bool
}

func (h *readHandle) Name() string { return h.name }

func (h *readHandle) Read(p []byte) (int, error) {
	if h.closed {
		return 0, errors.UnexpectedIO("read on closed file").WithPath(h.name)
	}
	if h.body == nil {
		if h.sizeKnown && h.offset >= h.size {
			return 0, io.EOF
		}
		body, err := h.store.GetObject(h.ctx, h.container, h.key, h.offset)
		if err != nil {
			return 0, errors.Translate(err, "read", h.name)
		}
		h.body = body
	}

	n, err := h.body.Read(p)
	h.offset += int64(n)
	if h.metrics != nil && n > 0 {
		h.metrics.RecordBytes("download", int64(n))
	}
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, errors.Translate(err, "read", h.name)
	}
	return n, nil
}

func (h *readHandle) Write([]byte) (int, error) {
	return 0, errors.NotPermitted("File not open for writing").WithOperation("write").WithPath(h.name)
}

// Seek records the position the next Read starts from. Offsets relative to the
// end count backwards from the end by their magnitude, so Seek(k, io.SeekEnd)
// and Seek(-k, io.SeekEnd) both address the last k bytes.
func (h *readHandle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, errors.UnexpectedIO("seek on closed file").WithPath(h.name)
	}
	if !h.sizeKnown {
		info, err := h.store.HeadObject(h.ctx, h.container, h.key)
		if err != nil {
			return 0, errors.Translate(err, "seek", h.name)
		}
		h.size, h.sizeKnown = info.Bytes, true
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = h.offset + offset
	case io.SeekEnd:
		if offset < 0 {
			offset = -offset
		}
		target = h.size - offset
	default:
		return 0, errors.InvalidOffset(offset).WithDetail("whence", whence).WithPath(h.name)
	}
	if target < 0 || target > h.size {
		return 0, errors.InvalidOffset(target).WithOperation("seek").WithPath(h.name)
	}

	h.discard()
	h.offset = target
	return target, nil
}

func (h *readHandle) discard() {
	if h.body != nil {
		_ = h.body.Close()
		h.body = nil
	}
}

func (h *readHandle) Close() error {
	h.discard()
	h.closed = true
	return nil
}

// writeHandle uploads an object as a stream of chunks. With a split size set,
// every splitSize bytes start a new part object; the first full part triggers
// the background assembly of the large-object manifest.
type writeHandle struct {
	ctx         context.Context
	store       objectstore.Store
	container   string
	key         string
	name        string
	contentType string
	splitSize   int64
	logger      *slog.Logger
	metrics     Metrics
	onClose     func()

	w        objectstore.ObjectWriter
	part     int
	partSize int64

	assembly *errgroup.Group
	closed   bool
}

func (h *writeHandle) Name() string { return h.name }

func (h *writeHandle) Read([]byte) (int, error) {
	return 0, errors.NotPermitted("File not open for reading").WithOperation("read").WithPath(h.name)
}

func (h *writeHandle) Seek(int64, int) (int64, error) {
	return 0, errors.NotPermitted("Seek not permitted on a file open for writing").WithOperation("seek").WithPath(h.name)
}

func (h *writeHandle) Write(p []byte) (int, error) {
	if h.closed {
		return 0, errors.UnexpectedIO("write on closed file").WithPath(h.name)
	}
	if h.splitSize <= 0 {
		n, err := h.w.Write(p)
		h.count(n)
		if err != nil {
			return n, errors.Translate(err, "write", h.name)
		}
		return n, nil
	}

	written := 0
	for len(p) > 0 {
		if h.w == nil {
			w, err := h.store.CreateObject(h.ctx, h.container, objectstore.SegmentName(h.key, h.part), h.contentType)
			if err != nil {
				return written, errors.Translate(err, "write", h.name)
			}
			h.w = w
		}

		chunk := p
		if room := h.splitSize - h.partSize; int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := h.w.Write(chunk)
		written += n
		h.partSize += int64(n)
		h.count(n)
		if err != nil {
			return written, errors.Translate(err, "write", h.name)
		}
		p = p[n:]

		if h.partSize == h.splitSize {
			if err := h.finishPart(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// finishPart closes the current part and moves on to the next one.
func (h *writeHandle) finishPart() error {
	err := h.w.Close()
	h.w = nil
	if err != nil {
		return errors.Translate(err, "write", h.name)
	}
	if h.part == 0 {
		h.startAssembly()
	}
	h.part++
	h.partSize = 0
	return nil
}

// startAssembly moves the first part, which was uploaded under the final name,
// to its segment name and replaces it with a manifest over all segments.
func (h *writeHandle) startAssembly() {
	ctx := context.WithoutCancel(h.ctx)
	h.assembly = &errgroup.Group{}
	h.assembly.Go(func() error {
		first := objectstore.SegmentName(h.key, 0)
		if err := h.store.CopyObject(ctx, h.container, h.key, h.container, first); err != nil {
			return err
		}
		return h.store.PutManifest(ctx, h.container, h.key, h.container, objectstore.SegmentPrefix(h.key))
	})
	h.logger.Debug("large object assembly started", "container", h.container, "object", h.key)
}

func (h *writeHandle) count(n int) {
	if h.metrics != nil && n > 0 {
		h.metrics.RecordBytes("upload", int64(n))
	}
}

// Close waits for the manifest assembly and finalises the open part.
func (h *writeHandle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	defer func() {
		if h.onClose != nil {
			h.onClose()
		}
	}()

	var result error
	if h.assembly != nil {
		if err := h.assembly.Wait(); err != nil {
			h.logger.Error("large object assembly failed", "container", h.container, "object", h.key, "error", err)
			result = errors.UnexpectedIO("Failed to store the file").WithOperation("close").WithPath(h.name).WithCause(err)
		}
	}
	if h.w != nil {
		err := h.w.Close()
		h.w = nil
		if err != nil && result == nil {
			result = errors.Translate(err, "close", h.name)
		}
	}
	return result
}
