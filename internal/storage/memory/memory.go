// Package memory implements an in-process object store with Swift semantics:
// prefix and delimiter listings, markers, server-side copy and dynamic large-object
// manifests. It backs the "memory" storage backend and the filesystem tests.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/objectftp/internal/objectstore"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
	hash        string
	manifest    string
}

type container struct {
	objects map[string]*object
}

type account struct {
	containers map[string]*container
}

// Server holds every account of the in-process store. It is safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	secrets  map[string]string
	accounts map[string]*account
	requests map[string]int
	failures map[string]error
	now      func() time.Time
}

// NewServer creates an empty store. When secrets is nil any user/secret pair is
// accepted; otherwise the secret must match.
func NewServer(secrets map[string]string) *Server {
	return &Server{
		secrets:  secrets,
		accounts: make(map[string]*account),
		requests: make(map[string]int),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// SetClock overrides the time source used for object timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next call to op fail with err. Operation names match the
// Store method names, e.g. "CopyObject".
func (s *Server) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Requests returns how many times op was called; an empty op returns the total.
func (s *Server) Requests(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op == "" {
		total := 0
		for _, n := range s.requests {
			total += n
		}
		return total
	}
	return s.requests[op]
}

// ResetRequests clears the request counters.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = make(map[string]int)
}

// Object returns the raw bytes stored under container/key, without manifest resolution.
func (s *Server) Object(user, containerName, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.account(user).containers[containerName]
	if c == nil {
		return nil, false
	}
	o := c.objects[key]
	if o == nil {
		return nil, false
	}
	return append([]byte(nil), o.data...), true
}

// call records op and returns any injected failure. Callers hold s.mu.
func (s *Server) call(op string) error {
	s.requests[op]++
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Server) account(user string) *account {
	a := s.accounts[user]
	if a == nil {
		a = &account{containers: make(map[string]*container)}
		s.accounts[user] = a
	}
	return a
}

// Backend returns an objectstore.Backend serving this store under endpoint.
func (s *Server) Backend(endpoint string) *Backend {
	return &Backend{server: s, endpoint: endpoint}
}

// Backend authenticates against a Server.
type Backend struct {
	server   *Server
	endpoint string
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) AuthEndpoint() string { return b.endpoint }

func (b *Backend) Authenticate(ctx context.Context, user, secret string) (objectstore.Credentials, error) {
	s := b.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("Authenticate"); err != nil {
		return objectstore.Credentials{}, err
	}
	if s.secrets != nil {
		if want, ok := s.secrets[user]; !ok || want != secret {
			return objectstore.Credentials{}, objectstore.NewStatusError(http.StatusUnauthorized, "invalid credentials for %s", user)
		}
	}
	sum := md5.Sum([]byte(user + "\x00" + secret + "\x00" + s.now().String()))
	return objectstore.Credentials{
		Endpoint: b.endpoint + "/v1/AUTH_" + user,
		Token:    hex.EncodeToString(sum[:]),
	}, nil
}

func (b *Backend) Connect(ctx context.Context, user, secret string, creds objectstore.Credentials) (objectstore.Store, error) {
	if creds.Token == "" {
		return nil, objectstore.NewStatusError(http.StatusUnauthorized, "missing token")
	}
	return &Store{server: b.server, user: user}, nil
}

// Store is one account of a Server.
type Store struct {
	server *Server
	user   string
}

var _ objectstore.Store = (*Store)(nil)

func (st *Store) lookup(name string) (*container, error) {
	c := st.server.account(st.user).containers[name]
	if c == nil {
		return nil, objectstore.NewStatusError(http.StatusNotFound, "container %s not found", name)
	}
	return c, nil
}

func (st *Store) ListContainers(ctx context.Context) ([]objectstore.ContainerInfo, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ListContainers"); err != nil {
		return nil, err
	}
	acct := s.account(st.user)
	out := make([]objectstore.ContainerInfo, 0, len(acct.containers))
	for name, c := range acct.containers {
		out = append(out, summarize(name, c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func summarize(name string, c *container) objectstore.ContainerInfo {
	info := objectstore.ContainerInfo{Name: name, Count: int64(len(c.objects))}
	for _, o := range c.objects {
		info.Bytes += int64(len(o.data))
	}
	return info
}

func (st *Store) HeadContainer(ctx context.Context, name string) (objectstore.ContainerInfo, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("HeadContainer"); err != nil {
		return objectstore.ContainerInfo{}, err
	}
	c, err := st.lookup(name)
	if err != nil {
		return objectstore.ContainerInfo{}, err
	}
	return summarize(name, c), nil
}

func (st *Store) CreateContainer(ctx context.Context, name string) error {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CreateContainer"); err != nil {
		return err
	}
	if name == "" || strings.Contains(name, "/") {
		return objectstore.NewStatusError(http.StatusBadRequest, "invalid container name %q", name)
	}
	acct := s.account(st.user)
	if acct.containers[name] == nil {
		acct.containers[name] = &container{objects: make(map[string]*object)}
	}
	return nil
}

func (st *Store) DeleteContainer(ctx context.Context, name string) error {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("DeleteContainer"); err != nil {
		return err
	}
	c, err := st.lookup(name)
	if err != nil {
		return err
	}
	if len(c.objects) > 0 {
		return objectstore.NewStatusError(http.StatusConflict, "container %s not empty", name)
	}
	delete(s.account(st.user).containers, name)
	return nil
}

func (st *Store) ListObjects(ctx context.Context, name string, opts objectstore.ListOptions) ([]objectstore.ObjectInfo, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("ListObjects"); err != nil {
		return nil, err
	}
	c, err := st.lookup(name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(c.objects))
	for k := range c.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	limit := opts.Limit
	if limit <= 0 || limit > objectstore.ListLimit {
		limit = objectstore.ListLimit
	}

	var out []objectstore.ObjectInfo
	lastSubDir := ""
	for _, k := range keys {
		if len(out) >= limit {
			break
		}
		if opts.Delimiter != "" {
			rest := k[len(opts.Prefix):]
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				sub := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if sub <= opts.Marker || sub == lastSubDir {
					continue
				}
				lastSubDir = sub
				out = append(out, objectstore.ObjectInfo{Name: sub, SubDir: true})
				continue
			}
		}
		if k <= opts.Marker {
			continue
		}
		o := c.objects[k]
		out = append(out, objectstore.ObjectInfo{
			Name:         k,
			Bytes:        int64(len(o.data)),
			ContentType:  o.contentType,
			LastModified: o.modified.UTC().Format(objectstore.TimeLayout),
			Hash:         o.hash,
		})
	}
	return out, nil
}

func (st *Store) HeadObject(ctx context.Context, name, key string) (objectstore.ObjectInfo, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("HeadObject"); err != nil {
		return objectstore.ObjectInfo{}, err
	}
	o, err := st.object(name, key)
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}
	info := objectstore.ObjectInfo{
		Name:         key,
		Bytes:        int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified.UTC().Format(objectstore.TimeLayout),
		Hash:         o.hash,
		Manifest:     o.manifest,
	}
	if o.manifest != "" {
		data, etags := st.assemble(o.manifest)
		info.Bytes = int64(len(data))
		sum := md5.Sum([]byte(etags))
		info.Hash = hex.EncodeToString(sum[:])
	}
	return info, nil
}

func (st *Store) object(name, key string) (*object, error) {
	c, err := st.lookup(name)
	if err != nil {
		return nil, err
	}
	o := c.objects[key]
	if o == nil {
		return nil, objectstore.NewStatusError(http.StatusNotFound, "object %s/%s not found", name, key)
	}
	return o, nil
}

// assemble concatenates the segments a manifest points at. Callers hold s.mu.
func (st *Store) assemble(manifest string) ([]byte, string) {
	segContainer, prefix, _ := strings.Cut(manifest, "/")
	c := st.server.account(st.user).containers[segContainer]
	if c == nil {
		return nil, ""
	}
	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	var etags strings.Builder
	for _, k := range keys {
		buf.Write(c.objects[k].data)
		etags.WriteString(c.objects[k].hash)
	}
	return buf.Bytes(), etags.String()
}

// content returns the readable bytes of o. Callers hold s.mu.
func (st *Store) content(o *object) []byte {
	if o.manifest != "" {
		data, _ := st.assemble(o.manifest)
		return data
	}
	return o.data
}

func (st *Store) GetObject(ctx context.Context, name, key string, offset int64) (io.ReadCloser, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("GetObject"); err != nil {
		return nil, err
	}
	o, err := st.object(name, key)
	if err != nil {
		return nil, err
	}
	data := st.content(o)
	if offset < 0 || offset > int64(len(data)) {
		return nil, objectstore.NewStatusError(http.StatusRequestedRangeNotSatisfiable, "range %d- outside %d bytes", offset, len(data))
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), data[offset:]...))), nil
}

func (st *Store) CreateObject(ctx context.Context, name, key, contentType string) (objectstore.ObjectWriter, error) {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CreateObject"); err != nil {
		return nil, err
	}
	if _, err := st.lookup(name); err != nil {
		return nil, err
	}
	return &writer{store: st, container: name, key: key, contentType: contentType}, nil
}

func (st *Store) put(name, key string, o *object) error {
	c, err := st.lookup(name)
	if err != nil {
		return err
	}
	o.modified = st.server.now()
	if o.hash == "" {
		sum := md5.Sum(o.data)
		o.hash = hex.EncodeToString(sum[:])
	}
	c.objects[key] = o
	return nil
}

func (st *Store) CopyObject(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CopyObject"); err != nil {
		return err
	}
	src, err := st.object(srcContainer, srcKey)
	if err != nil {
		return err
	}
	return st.put(dstContainer, dstKey, &object{
		data:        append([]byte(nil), st.content(src)...),
		contentType: src.contentType,
	})
}

func (st *Store) PutManifest(ctx context.Context, name, key, segmentContainer, segmentPrefix string) error {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("PutManifest"); err != nil {
		return err
	}
	contentType := objectstore.DefaultContentType
	if o := st.server.account(st.user).containers[name]; o != nil && o.objects[key] != nil {
		contentType = o.objects[key].contentType
	}
	return st.put(name, key, &object{
		contentType: contentType,
		manifest:    segmentContainer + "/" + segmentPrefix,
	})
}

func (st *Store) DeleteObject(ctx context.Context, name, key string) error {
	s := st.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("DeleteObject"); err != nil {
		return err
	}
	c, err := st.lookup(name)
	if err != nil {
		return err
	}
	if c.objects[key] == nil {
		return objectstore.NewStatusError(http.StatusNotFound, "object %s/%s not found", name, key)
	}
	delete(c.objects, key)
	return nil
}

type writer struct {
	store       *Store
	container   string
	key         string
	contentType string
	buf         bytes.Buffer
	closed      bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	s := w.store.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call("CloseObject"); err != nil {
		return err
	}
	return w.store.put(w.container, w.key, &object{data: w.buf.Bytes(), contentType: w.contentType})
}
