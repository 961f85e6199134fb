// Package filesystem maps a POSIX-like path model onto an object store. Root holds
// containers; below a container, slash-delimited object keys form synthetic
// directories. The transfer-protocol layer drives a per-session FS through the
// Filesystem interface and reports the errno carried by every returned error.
package filesystem

import (
	"context"
	"io"
	"time"

	"github.com/objectfs/objectftp/internal/cache"
)

// Filesystem is the operation surface offered to protocol handlers. Calls on one
// value must not be made concurrently.
type Filesystem interface {
	Stat(ctx context.Context, path string) (cache.Entry, error)
	ListDir(ctx context.Context, path string) ([]string, error)
	ListDirWithStat(ctx context.Context, path string) ([]cache.Entry, error)
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, src, dst string) error
	Open(ctx context.Context, path string, flag int) (File, error)
	Chdir(ctx context.Context, path string) error
	Getcwd() string
	MD5(ctx context.Context, path string) (string, error)

	IsDir(ctx context.Context, path string) bool
	IsFile(ctx context.Context, path string) bool
	Exists(ctx context.Context, path string) bool
	GetSize(ctx context.Context, path string) (int64, error)
	GetMtime(ctx context.Context, path string) (time.Time, error)

	Abspath(path string) string
	Flush(ctx context.Context)
}

// File is an open read or write stream bound to one object.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name is the virtual path the file was opened with.
	Name() string
}

// Metrics receives operation timings and transfer volumes; *metrics.Collector
// implements it.
type Metrics interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordBytes(direction string, n int64)
}
