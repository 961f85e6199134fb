package session

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/internal/storage/memory"
	"github.com/objectfs/objectftp/internal/storage/sqlite"
	"github.com/objectfs/objectftp/pkg/errors"
	"github.com/objectfs/objectftp/pkg/retry"
)

type recorder struct {
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
}

func newRecorder() *recorder {
	return &recorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *recorder) RecordCacheRequest(tier string, hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits[tier]++
	} else {
		r.misses[tier]++
	}
}

func (r *recorder) RecordOperation(string, time.Duration, error) {}
func (r *recorder) RecordBytes(string, int64)                    {}

func newManager(t *testing.T, shared cache.SharedTier, m Metrics) (*memory.Server, *Manager) {
	t.Helper()
	srv := memory.NewServer(map[string]string{"alice": "s3cret"})
	return srv, NewManager(Config{
		Backend: srv.Backend("memory://auth"),
		Shared:  shared,
		Metrics: m,
	})
}

func TestLoginRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, mgr := newManager(t, nil, nil)

	for _, c := range [][2]string{{"", "x"}, {"alice", ""}} {
		_, err := mgr.Login(context.Background(), c[0], c[1])
		assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	}
}

func TestLoginRejectsBadSecret(t *testing.T) {
	t.Parallel()
	_, mgr := newManager(t, nil, nil)

	_, err := mgr.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.Equal(t, syscall.EACCES, errors.Errno(err))
}

func TestLoginWithoutTokenCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv, mgr := newManager(t, nil, nil)

	for i := 0; i < 3; i++ {
		s, err := mgr.Login(ctx, "alice", "s3cret")
		require.NoError(t, err)
		assert.NotEmpty(t, s.Credentials().Token)
	}
	assert.Equal(t, 3, srv.Requests("Authenticate"))
}

func TestTokenCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewLRUCache(cache.CacheConfig{})
	defer shared.Close()
	rec := newRecorder()
	srv, mgr := newManager(t, shared, rec)

	first, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests("Authenticate"))

	second, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests("Authenticate"), "token served from cache")
	assert.Equal(t, first.Credentials(), second.Credentials())
	assert.Equal(t, 1, rec.hits["token"])

	// The login right after a cache hit goes to the store.
	require.NoError(t, second.Reauthenticate(ctx))
	assert.Equal(t, 2, srv.Requests("Authenticate"))

	require.NoError(t, second.Reauthenticate(ctx))
	assert.Equal(t, 2, srv.Requests("Authenticate"), "flag cleared by the real login")
}

func TestTokenCacheFailedRefreshIsNotMasked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewLRUCache(cache.CacheConfig{})
	defer shared.Close()
	srv, mgr := newManager(t, shared, nil)

	_, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	s, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)

	srv.FailNext("Authenticate", errors.UnexpectedIO("auth service down"))
	err = s.Reauthenticate(ctx)
	assert.ErrorIs(t, err, errors.ErrUnexpectedIO)
}

func TestTokenCacheKeyIncludesSecret(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	shared := cache.NewLRUCache(cache.CacheConfig{})
	defer shared.Close()
	srv, mgr := newManager(t, shared, nil)

	_, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	_, err = mgr.Login(ctx, "alice", "other")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)
	assert.Equal(t, 2, srv.Requests("Authenticate"))
}

func TestSessionFilesystem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, mgr := newManager(t, nil, nil)

	s, err := mgr.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	fsys := s.FS()
	require.NoError(t, fsys.Mkdir(ctx, "/c"))
	require.NoError(t, fsys.Mkdir(ctx, "/c/d"))
	require.NoError(t, fsys.Chdir(ctx, "/c/d"))

	require.NoError(t, s.Reauthenticate(ctx))
	assert.NotSame(t, fsys, s.FS())
	assert.Equal(t, "/c/d", s.FS().Getcwd())

	names, err := s.FS().ListDir(ctx, "/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, names)
	assert.NotNil(t, s.Store())
}

func TestLoginRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   int
		retry    *retry.Retryer
		wantErr  bool
		attempts int
	}{
		{"unavailable retried", http.StatusServiceUnavailable, retry.New(retry.Config{InitialDelay: time.Millisecond}), false, 2},
		{"unauthorized not retried", http.StatusUnauthorized, retry.New(retry.Config{InitialDelay: time.Millisecond}), true, 1},
		{"no retryer", http.StatusServiceUnavailable, nil, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := memory.NewServer(map[string]string{"alice": "s3cret"})
			mgr := NewManager(Config{Backend: srv.Backend("memory://auth"), Retry: tt.retry})
			srv.FailNext("Authenticate", objectstore.NewStatusError(tt.status, "injected"))

			_, err := mgr.Login(context.Background(), "alice", "s3cret")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.attempts, srv.Requests("Authenticate"))
		})
	}
}

func TestRevokedCachedTokenAuthenticatesAgain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend, err := sqlite.Open(ctx, sqlite.Options{Path: filepath.Join(t.TempDir(), "objectftp.db")})
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, backend.AddUser(ctx, "alice", "pw"))

	shared := cache.NewLRUCache(cache.CacheConfig{})
	defer shared.Close()
	mgr := NewManager(Config{Backend: backend, Shared: shared})

	first, err := mgr.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	// Resetting the user revokes every issued token, including the cached one.
	require.NoError(t, backend.AddUser(ctx, "alice", "pw"))

	second, err := mgr.Login(ctx, "alice", "pw")
	require.NoError(t, err, "valid credentials must not be refused over a stale cached token")
	assert.NotEqual(t, first.Credentials().Token, second.Credentials().Token)
	require.NoError(t, second.FS().Mkdir(ctx, "/photos"))

	// The fresh token replaced the revoked one in the cache.
	third, err := mgr.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, second.Credentials().Token, third.Credentials().Token)
}

func TestRejectedCachedTokenWithWrongSecretFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend, err := sqlite.Open(ctx, sqlite.Options{Path: filepath.Join(t.TempDir(), "objectftp.db")})
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, backend.AddUser(ctx, "alice", "pw"))

	shared := cache.NewLRUCache(cache.CacheConfig{})
	defer shared.Close()
	mgr := NewManager(Config{Backend: backend, Shared: shared})

	_, err = mgr.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	// A new password revokes the cached token and invalidates the old secret.
	require.NoError(t, backend.AddUser(ctx, "alice", "changed"))
	_, err = mgr.Login(ctx, "alice", "pw")
	assert.ErrorIs(t, err, errors.ErrPermissionDenied)

	_, err = mgr.Login(ctx, "alice", "changed")
	assert.NoError(t, err)
}

func TestRejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{objectstore.NewStatusError(http.StatusUnauthorized, "invalid token"), true},
		{objectstore.NewStatusError(http.StatusForbidden, "x"), true},
		{objectstore.NewStatusError(http.StatusNotFound, "x"), false},
		{io.ErrUnexpectedEOF, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rejected(tt.err), "%v", tt.err)
	}
}
