package memory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectftp/internal/objectstore"
)

func newStore(t *testing.T, srv *Server, user string) objectstore.Store {
	t.Helper()
	ctx := context.Background()
	b := srv.Backend("memory://")
	creds, err := b.Authenticate(ctx, user, "pw")
	require.NoError(t, err)
	st, err := b.Connect(ctx, user, "pw", creds)
	require.NoError(t, err)
	return st
}

func put(t *testing.T, st objectstore.Store, c, k, data string) {
	t.Helper()
	w, err := st.CreateObject(context.Background(), c, k, "text/plain")
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func statusOf(err error) int {
	var se *objectstore.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	srv := NewServer(map[string]string{"alice": "pw"})
	b := srv.Backend("memory://")
	ctx := context.Background()

	creds, err := b.Authenticate(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "memory:///v1/AUTH_alice", creds.Endpoint)
	assert.NotEmpty(t, creds.Token)

	_, err = b.Authenticate(ctx, "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	_, err = b.Connect(ctx, "alice", "pw", objectstore.Credentials{})
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
	assert.Equal(t, 2, srv.Requests("Authenticate"))
}

func TestListingWithDelimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t, NewServer(nil), "alice")
	require.NoError(t, st.CreateContainer(ctx, "c"))
	for _, k := range []string{"a/1", "a/2", "b", "c/x/y"} {
		put(t, st, "c", k, k)
	}

	page, err := st.ListObjects(ctx, "c", objectstore.ListOptions{Delimiter: "/"})
	require.NoError(t, err)
	var names []string
	for _, o := range page {
		names = append(names, o.Name)
	}
	assert.Equal(t, []string{"a/", "b", "c/"}, names)
	assert.True(t, page[0].SubDir)
	assert.False(t, page[1].SubDir)
	assert.Equal(t, int64(1), page[1].Bytes)

	page, err = st.ListObjects(ctx, "c", objectstore.ListOptions{Prefix: "a/", Delimiter: "/", Marker: "a/1"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a/2", page[0].Name)

	page, err = st.ListObjects(ctx, "c", objectstore.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestContainers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := NewServer(nil)
	st := newStore(t, srv, "alice")

	require.NoError(t, st.CreateContainer(ctx, "b"))
	require.NoError(t, st.CreateContainer(ctx, "a"))
	require.NoError(t, st.CreateContainer(ctx, "a"), "create is idempotent")
	put(t, st, "b", "k", "hello")

	list, err := st.ListContainers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, objectstore.ContainerInfo{Name: "b", Count: 1, Bytes: 5}, list[1])

	assert.Equal(t, http.StatusConflict, statusOf(st.DeleteContainer(ctx, "b")))
	assert.Equal(t, http.StatusNotFound, statusOf(st.DeleteContainer(ctx, "zzz")))
	_, err = st.HeadContainer(ctx, "zzz")
	assert.True(t, objectstore.IsNotFound(err))
	require.NoError(t, st.DeleteContainer(ctx, "a"))

	other := newStore(t, srv, "bob")
	list, err = other.ListContainers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "accounts are separate")
}

func TestObjectsAndManifests(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := NewServer(nil)
	st := newStore(t, srv, "alice")
	require.NoError(t, st.CreateContainer(ctx, "c"))

	put(t, st, "c", "f.part/000000", "abc")
	put(t, st, "c", "f.part/000001", "de")
	require.NoError(t, st.PutManifest(ctx, "c", "f", "c", "f.part/"))

	info, err := st.HeadObject(ctx, "c", "f")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Bytes)
	assert.Equal(t, "c/f.part/", info.Manifest)

	raw, ok := srv.Object("alice", "c", "f")
	require.True(t, ok)
	assert.Empty(t, raw)

	body, err := st.GetObject(ctx, "c", "f", 2)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "cde", string(data))

	_, err = st.GetObject(ctx, "c", "f", 6)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, statusOf(err))

	require.NoError(t, st.CopyObject(ctx, "c", "f", "c", "copy"))
	info, err = st.HeadObject(ctx, "c", "copy")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Bytes)
	assert.Empty(t, info.Manifest, "copies are flattened")

	require.NoError(t, st.DeleteObject(ctx, "c", "copy"))
	assert.True(t, objectstore.IsNotFound(st.DeleteObject(ctx, "c", "copy")))
}

func TestFailNext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := NewServer(nil)
	st := newStore(t, srv, "alice")
	require.NoError(t, st.CreateContainer(ctx, "c"))

	srv.FailNext("CloseObject", objectstore.NewStatusError(http.StatusInternalServerError, "boom"))
	w, err := st.CreateObject(ctx, "c", "k", "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, statusOf(w.Close()))
	_, ok := srv.Object("alice", "c", "k")
	assert.False(t, ok)

	put(t, st, "c", "k", "v")
	_, ok = srv.Object("alice", "c", "k")
	assert.True(t, ok, "failure only applies once")

	srv.ResetRequests()
	_, _ = st.HeadObject(ctx, "c", "k")
	assert.Equal(t, 1, srv.Requests(""))
}
