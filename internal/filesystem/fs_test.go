package filesystem

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/internal/storage/memory"
	"github.com/objectfs/objectftp/pkg/errors"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	srv   *memory.Server
	store objectstore.Store
	clk   *testClock
	fs    *FS
}

func newFixture(t *testing.T, splitSize int64) *fixture {
	t.Helper()
	srv := memory.NewServer(nil)
	clk := &testClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	srv.SetClock(clk.now)
	fx := &fixture{srv: srv, clk: clk}
	fx.store = connect(t, srv)
	fx.fs = fx.session(splitSize)
	return fx
}

func connect(t *testing.T, srv *memory.Server) objectstore.Store {
	t.Helper()
	backend := srv.Backend("memory://test")
	ctx := context.Background()
	creds, err := backend.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	st, err := backend.Connect(ctx, "alice", "secret", creds)
	require.NoError(t, err)
	return st
}

// session opens another filesystem on the same account with its own cache.
func (fx *fixture) session(splitSize int64) *FS {
	dirs := cache.NewDirCache(fx.store, nil, cache.DirCacheConfig{
		AuthEndpoint: "memory://test",
		User:         "alice",
		Now:          fx.clk.now,
	})
	return New(fx.store, dirs, Options{SplitSize: splitSize})
}

func writeFile(t *testing.T, fsys *FS, p string, chunks ...string) {
	t.Helper()
	f, err := fsys.Open(context.Background(), p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	for _, c := range chunks {
		n, err := f.Write([]byte(c))
		require.NoError(t, err)
		require.Equal(t, len(c), n)
	}
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, fsys *FS, p string) string {
	t.Helper()
	f, err := fsys.Open(context.Background(), p, os.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestScenarioA_ContainerLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	fsys := fx.fs

	require.NoError(t, fx.store.CreateContainer(ctx, "c"))
	require.NoError(t, fsys.Mkdir(ctx, "/c"))
	writeFile(t, fsys, "/c/f.txt", "0123456789")

	e, err := fsys.Stat(ctx, "/c/f.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), e.Size())

	names, err := fsys.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"f.txt"}, names)

	require.NoError(t, fsys.Remove(ctx, "/c/f.txt"))
	names, err = fsys.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, fsys.Rmdir(ctx, "/c"))
	assert.False(t, fsys.Exists(ctx, "/c"))
}

func TestScenarioB_SyntheticDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	writeFile(t, fx.fs, "/c/a/1.txt", "1")
	writeFile(t, fx.fs, "/c/a/2.txt", "2")

	names, err := fx.fs.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	names, err = fx.fs.ListDir(ctx, "/c/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.txt", "2.txt"}, names)
	assert.True(t, fx.fs.IsDir(ctx, "/c/a"))
	assert.True(t, fx.fs.IsFile(ctx, "/c/a/1.txt"))
}

func TestScenarioC_CrossSessionStaleness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	other := fx.session(0)

	names, err := other.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Empty(t, names)

	writeFile(t, fx.fs, "/c/x.txt", "x")

	names, err = other.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Empty(t, names, "other session still within its TTL")

	fx.clk.advance(cache.DefaultListingTTL)
	names, err = other.ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.txt"}, names)
}

func TestCacheCoherenceAfterMutation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	fsys := fx.fs
	require.NoError(t, fsys.Mkdir(ctx, "/c"))

	list := func(p string) []string {
		names, err := fsys.ListDir(ctx, p)
		require.NoError(t, err)
		return names
	}

	assert.Empty(t, list("/c"))
	require.NoError(t, fsys.Mkdir(ctx, "/c/d"))
	assert.Equal(t, []string{"d"}, list("/c"))

	// A listing captured while the upload is in flight must not survive close.
	f, err := fsys.Open(ctx, "/c/f", os.O_WRONLY)
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, list("/c"))
	require.NoError(t, f.Close())
	assert.Equal(t, []string{"d", "f"}, list("/c"))

	require.NoError(t, fsys.Rename(ctx, "/c/f", "/c/g"))
	assert.Equal(t, []string{"d", "g"}, list("/c"))

	require.NoError(t, fsys.Remove(ctx, "/c/g"))
	assert.Equal(t, []string{"d"}, list("/c"))

	require.NoError(t, fsys.Rmdir(ctx, "/c/d"))
	assert.Empty(t, list("/c"))
}

func TestMkdirChdirRmdir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	fsys := fx.fs

	require.NoError(t, fsys.Mkdir(ctx, "/c"))
	require.NoError(t, fsys.Chdir(ctx, "/c"))
	assert.Equal(t, "/c", fsys.Getcwd())

	require.NoError(t, fsys.Mkdir(ctx, "sub"))
	require.NoError(t, fsys.Chdir(ctx, "sub"))
	assert.Equal(t, "/c/sub", fsys.Getcwd())

	writeFile(t, fsys, "file.txt", "hello")
	assert.True(t, fsys.IsFile(ctx, "/c/sub/file.txt"))

	err := fsys.Chdir(ctx, "file.txt")
	assert.ErrorIs(t, err, errors.ErrNotDirectory)
	err = fsys.Chdir(ctx, "/c/nowhere")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, "/c/sub", fsys.Getcwd())

	require.NoError(t, fsys.Chdir(ctx, ".."))
	err = fsys.Rmdir(ctx, "sub")
	assert.ErrorIs(t, err, errors.ErrNotEmpty)
	assert.Equal(t, syscall.ENOTEMPTY, errors.Errno(err))

	err = fsys.Rmdir(ctx, "sub/file.txt")
	assert.ErrorIs(t, err, errors.ErrNotDirectory)
	err = fsys.Rmdir(ctx, "ghost")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	require.NoError(t, fsys.Remove(ctx, "sub/file.txt"))
	require.NoError(t, fsys.Rmdir(ctx, "sub"))
	require.NoError(t, fsys.Chdir(ctx, "/"))
	require.NoError(t, fsys.Rmdir(ctx, "/c"))
}

func TestMkdirMissingContainer(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 0)
	err := fx.fs.Mkdir(context.Background(), "/nope/dir")
	assert.ErrorIs(t, err, errors.ErrNotDirectory)
}

func TestRmdirFailsWhenListingNonEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	require.NoError(t, fx.fs.Mkdir(ctx, "/c/d"))
	writeFile(t, fx.fs, "/c/d/e/f", "x")
	require.NoError(t, fx.fs.Mkdir(ctx, "/c/d/g"))

	for _, p := range []string{"/c", "/c/d", "/c/d/e"} {
		names, err := fx.fs.ListDir(ctx, p)
		require.NoError(t, err)
		require.NotEmpty(t, names)
		assert.ErrorIs(t, fx.fs.Rmdir(ctx, p), errors.ErrNotEmpty, p)
	}
	require.NoError(t, fx.fs.Rmdir(ctx, "/c/d/g"))
}

func TestRemoveRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	require.NoError(t, fx.fs.Mkdir(ctx, "/c/d"))

	err := fx.fs.Remove(ctx, "/c")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.Equal(t, syscall.EACCES, errors.Errno(err))

	err = fx.fs.Remove(ctx, "/c/d")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	err = fx.fs.Remove(ctx, "/c/missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestOpenRequiresContainerAndObject(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))

	for _, p := range []string{"/", "/c", "/file-at-root"} {
		_, err := fx.fs.Open(ctx, p, os.O_WRONLY)
		assert.ErrorIs(t, err, errors.ErrPermissionDenied, p)
		assert.Equal(t, syscall.EPERM, errors.Errno(err), p)
	}

	_, err := fx.fs.Open(ctx, "/c/f", os.O_WRONLY|os.O_APPEND)
	assert.ErrorIs(t, err, errors.ErrOperationNotPermitted)

	_, err = fx.fs.Open(ctx, "/missing/f", os.O_WRONLY)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("same path touches nothing", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		writeFile(t, fx.fs, "/c/f", "x")
		fx.srv.ResetRequests()

		require.NoError(t, fx.fs.Rename(ctx, "/c/f", "/c/f"))
		require.NoError(t, fx.fs.Rename(ctx, "/c/./f", "/c/d/../f"))
		assert.Equal(t, 0, fx.srv.Requests(""))
	})

	t.Run("file", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		require.NoError(t, fx.fs.Mkdir(ctx, "/d"))
		writeFile(t, fx.fs, "/c/f", "payload")

		require.NoError(t, fx.fs.Rename(ctx, "/c/f", "/d/g"))
		assert.False(t, fx.fs.Exists(ctx, "/c/f"))
		assert.Equal(t, "payload", readFile(t, fx.fs, "/d/g"))
	})

	t.Run("into existing directory", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		require.NoError(t, fx.fs.Mkdir(ctx, "/c/dir"))
		writeFile(t, fx.fs, "/c/f", "x")

		require.NoError(t, fx.fs.Rename(ctx, "/c/f", "/c/dir"))
		assert.True(t, fx.fs.IsFile(ctx, "/c/dir/f"))
	})

	t.Run("empty directory", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		require.NoError(t, fx.fs.Mkdir(ctx, "/c/old"))

		require.NoError(t, fx.fs.Rename(ctx, "/c/old", "/c/new"))
		assert.False(t, fx.fs.Exists(ctx, "/c/old"))
		assert.True(t, fx.fs.IsDir(ctx, "/c/new"))
	})

	t.Run("non-empty directory refused", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		writeFile(t, fx.fs, "/c/dir/f", "x")
		fx.srv.ResetRequests()

		err := fx.fs.Rename(ctx, "/c/dir", "/c/other")
		assert.ErrorIs(t, err, errors.ErrNotEmpty)
		assert.Equal(t, 0, fx.srv.Requests("CopyObject"))
	})

	t.Run("directory onto file refused", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		require.NoError(t, fx.fs.Mkdir(ctx, "/c/dir"))
		writeFile(t, fx.fs, "/c/file", "x")

		err := fx.fs.Rename(ctx, "/c/dir", "/c/file")
		assert.ErrorIs(t, err, errors.ErrNotDirectory)
	})

	t.Run("across root refused", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		require.NoError(t, fx.fs.Mkdir(ctx, "/e"))
		writeFile(t, fx.fs, "/c/f", "x")

		err := fx.fs.Rename(ctx, "/c/f", "/g")
		assert.ErrorIs(t, err, errors.ErrOperationNotPermitted)
		err = fx.fs.Rename(ctx, "/e", "/e2/sub")
		assert.ErrorIs(t, err, errors.ErrOperationNotPermitted)
	})

	t.Run("missing destination directory", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
		writeFile(t, fx.fs, "/c/f", "x")

		err := fx.fs.Rename(ctx, "/c/f", "/c/nowhere/f")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("empty container", func(t *testing.T) {
		fx := newFixture(t, 0)
		require.NoError(t, fx.fs.Mkdir(ctx, "/c"))

		require.NoError(t, fx.fs.Rename(ctx, "/c", "/renamed"))
		assert.False(t, fx.fs.Exists(ctx, "/c"))
		assert.True(t, fx.fs.IsDir(ctx, "/renamed"))
	})
}

func TestMD5(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	require.NoError(t, fx.fs.Mkdir(ctx, "/c/d"))
	writeFile(t, fx.fs, "/c/f", "hello")

	sum, err := fx.fs.MD5(ctx, "/c/f")
	require.NoError(t, err)
	want := md5.Sum([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	_, err = fx.fs.MD5(ctx, "/c")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = fx.fs.MD5(ctx, "/c/d")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	_, err = fx.fs.MD5(ctx, "/c/missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUnsupportedOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)

	assert.ErrorIs(t, fx.fs.Chmod(ctx, "/c/f", 0o600), errors.ErrOperationNotPermitted)
	assert.ErrorIs(t, fx.fs.Symlink(ctx, "/c/f", "/c/l"), errors.ErrOperationNotPermitted)
	_, err := fx.fs.Readlink(ctx, "/c/l")
	assert.ErrorIs(t, err, errors.ErrOperationNotPermitted)
	_, err = fx.fs.Mkstemp(ctx, "/c", "tmp", "")
	assert.ErrorIs(t, err, errors.ErrOperationNotPermitted)
	assert.Equal(t, syscall.EPERM, errors.Errno(err))
}

func TestStatHelpers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	writeFile(t, fx.fs, "/c/f", "abc")

	size, err := fx.fs.GetSize(ctx, "/c/f")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	mtime, err := fx.fs.GetMtime(ctx, "/c/f")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(fx.clk.t), "mtime %v", mtime)

	entries, err := fx.fs.ListDirWithStat(ctx, "/c")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f", entries[0].Name())

	root, err := fx.fs.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, int64(3), root.Size())

	_, err = fx.fs.GetSize(ctx, "/c/missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	assert.Equal(t, "/c/x", fx.fs.Abspath("/c/d/../x"))
	assert.Equal(t, "a/b", fx.fs.Normpath("a//b/"))
	assert.True(t, fx.fs.Lexists(ctx, "/c/f"))

	fx.fs.Flush(ctx)
}

func TestStorageErrorsAreTranslated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t, 0)
	require.NoError(t, fx.fs.Mkdir(ctx, "/c"))
	writeFile(t, fx.fs, "/c/f", "x")

	fx.srv.FailNext("DeleteObject", objectstore.NewStatusError(http.StatusInternalServerError, "disk on fire"))
	err := fx.fs.Remove(ctx, "/c/f")
	assert.ErrorIs(t, err, errors.ErrUnexpectedIO)
	assert.Equal(t, syscall.EIO, errors.Errno(err))
	assert.Contains(t, err.Error(), "500")

	fx.srv.FailNext("DeleteObject", objectstore.NewStatusError(http.StatusForbidden, "read only"))
	err = fx.fs.Remove(ctx, "/c/f")
	assert.Equal(t, syscall.EACCES, errors.Errno(err))
}
