// Package swift adapts OpenStack Swift to the objectstore interfaces. It speaks
// both v1 auth and Keystone, where an FTP login of "tenant.user" selects the
// tenant.
package swift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/objectfs/objectftp/internal/objectstore"
)

const manifestHeader = "X-Object-Manifest"

// Options configures the Swift backend.
type Options struct {
	AuthURL string
	// AuthVersion is 1, 2 or 3; 0 lets the library guess from the URL.
	AuthVersion int
	// TenantSeparator splits "tenant<sep>user" logins when AuthVersion >= 2.
	TenantSeparator string
	Region          string
	EndpointType    string
	Timeout         time.Duration
	Logger          *slog.Logger
}

// Backend authenticates users against a Swift auth service.
type Backend struct {
	opts   Options
	logger *slog.Logger
}

var _ objectstore.Backend = (*Backend)(nil)

// NewBackend creates a Swift backend.
func NewBackend(opts Options) *Backend {
	if opts.TenantSeparator == "" {
		opts.TenantSeparator = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{opts: opts, logger: logger.With("component", "swift")}
}

func (b *Backend) Name() string { return "swift" }

func (b *Backend) AuthEndpoint() string { return b.opts.AuthURL }

func (b *Backend) connection(user, secret string) *swift.Connection {
	c := &swift.Connection{
		UserName:    user,
		ApiKey:      secret,
		AuthUrl:     b.opts.AuthURL,
		AuthVersion: b.opts.AuthVersion,
		Region:      b.opts.Region,
		Timeout:     b.opts.Timeout,
	}
	if b.opts.EndpointType != "" {
		c.EndpointType = swift.EndpointType(b.opts.EndpointType)
	}
	if b.opts.AuthVersion >= 2 {
		if tenant, name, ok := strings.Cut(user, b.opts.TenantSeparator); ok {
			c.Tenant = tenant
			c.UserName = name
		}
	}
	return c
}

// Authenticate obtains a storage URL and token for the user.
func (b *Backend) Authenticate(ctx context.Context, user, secret string) (objectstore.Credentials, error) {
	c := b.connection(user, secret)
	if err := c.Authenticate(ctx); err != nil {
		b.logger.Debug("authentication failed", "user", user, "tenant", c.Tenant, "error", err)
		return objectstore.Credentials{}, translateError(err)
	}
	return objectstore.Credentials{Endpoint: c.StorageUrl, Token: c.AuthToken}, nil
}

// Connect reuses previously issued credentials. The connection keeps the user's
// secret so the library can re-authenticate when the token expires.
func (b *Backend) Connect(ctx context.Context, user, secret string, creds objectstore.Credentials) (objectstore.Store, error) {
	if creds.Token == "" || creds.Endpoint == "" {
		return nil, objectstore.NewStatusError(http.StatusUnauthorized, "missing token")
	}
	c := b.connection(user, secret)
	c.StorageUrl = creds.Endpoint
	c.AuthToken = creds.Token
	return &Store{conn: c, logger: b.logger.With("user", user)}, nil
}

// Store is an authenticated Swift account.
type Store struct {
	conn   *swift.Connection
	logger *slog.Logger
}

var _ objectstore.Store = (*Store)(nil)

func (st *Store) ListContainers(ctx context.Context) ([]objectstore.ContainerInfo, error) {
	containers, err := st.conn.ContainersAll(ctx, nil)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]objectstore.ContainerInfo, len(containers))
	for i, c := range containers {
		out[i] = objectstore.ContainerInfo{Name: c.Name, Count: c.Count, Bytes: c.Bytes}
	}
	return out, nil
}

func (st *Store) HeadContainer(ctx context.Context, container string) (objectstore.ContainerInfo, error) {
	c, _, err := st.conn.Container(ctx, container)
	if err != nil {
		return objectstore.ContainerInfo{}, translateError(err)
	}
	return objectstore.ContainerInfo{Name: c.Name, Count: c.Count, Bytes: c.Bytes}, nil
}

func (st *Store) CreateContainer(ctx context.Context, container string) error {
	return translateError(st.conn.ContainerCreate(ctx, container, nil))
}

func (st *Store) DeleteContainer(ctx context.Context, container string) error {
	return translateError(st.conn.ContainerDelete(ctx, container))
}

func (st *Store) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) ([]objectstore.ObjectInfo, error) {
	query := &swift.ObjectsOpts{
		Prefix: opts.Prefix,
		Marker: opts.Marker,
		Limit:  opts.Limit,
	}
	if query.Limit <= 0 || query.Limit > objectstore.ListLimit {
		query.Limit = objectstore.ListLimit
	}
	if opts.Delimiter != "" {
		query.Delimiter = []rune(opts.Delimiter)[0]
	}

	objects, err := st.conn.Objects(ctx, container, query)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]objectstore.ObjectInfo, len(objects))
	for i, o := range objects {
		out[i] = objectstore.ObjectInfo{
			Name:         o.Name,
			Bytes:        o.Bytes,
			ContentType:  o.ContentType,
			LastModified: o.ServerLastModified,
			Hash:         o.Hash,
			SubDir:       o.PseudoDirectory,
		}
	}
	return out, nil
}

func (st *Store) HeadObject(ctx context.Context, container, key string) (objectstore.ObjectInfo, error) {
	o, headers, err := st.conn.Object(ctx, container, key)
	if err != nil {
		return objectstore.ObjectInfo{}, translateError(err)
	}
	return objectstore.ObjectInfo{
		Name:         key,
		Bytes:        o.Bytes,
		ContentType:  o.ContentType,
		LastModified: o.LastModified.UTC().Format(objectstore.TimeLayout),
		Hash:         strings.Trim(o.Hash, `"`),
		Manifest:     headers[manifestHeader],
	}, nil
}

// GetObject opens the object at offset. Swift answers 416 for a range starting
// at the end of the object, which reads as empty here.
func (st *Store) GetObject(ctx context.Context, container, key string, offset int64) (io.ReadCloser, error) {
	var headers swift.Headers
	if offset > 0 {
		headers = swift.Headers{"Range": fmt.Sprintf("bytes=%d-", offset)}
	}
	f, _, err := st.conn.ObjectOpen(ctx, container, key, false, headers)
	if err != nil {
		var se *swift.Error
		if errors.As(err, &se) && se.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			if info, headErr := st.HeadObject(ctx, container, key); headErr == nil && info.Bytes == offset {
				return io.NopCloser(strings.NewReader("")), nil
			}
		}
		return nil, translateError(err)
	}
	return f, nil
}

func (st *Store) CreateObject(ctx context.Context, container, key, contentType string) (objectstore.ObjectWriter, error) {
	f, err := st.conn.ObjectCreate(ctx, container, key, false, "", contentType, nil)
	if err != nil {
		return nil, translateError(err)
	}
	return &writer{file: f}, nil
}

// CopyObject copies server side; Swift flattens a manifest source.
func (st *Store) CopyObject(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	_, err := st.conn.ObjectCopy(ctx, srcContainer, srcKey, dstContainer, dstKey, nil)
	return translateError(err)
}

// PutManifest writes a dynamic large object manifest over key, keeping its
// content type.
func (st *Store) PutManifest(ctx context.Context, container, key, segmentContainer, segmentPrefix string) error {
	contentType := objectstore.DefaultContentType
	if o, _, err := st.conn.Object(ctx, container, key); err == nil && o.ContentType != "" {
		contentType = o.ContentType
	}
	headers := swift.Headers{manifestHeader: segmentContainer + "/" + segmentPrefix}
	_, err := st.conn.ObjectPut(ctx, container, key, strings.NewReader(""), false, "", contentType, headers)
	return translateError(err)
}

func (st *Store) DeleteObject(ctx context.Context, container, key string) error {
	return translateError(st.conn.ObjectDelete(ctx, container, key))
}

type writer struct {
	file *swift.ObjectCreateFile
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	return n, translateError(err)
}

func (w *writer) Close() error {
	return translateError(w.file.Close())
}

// translateError converts library errors carrying an HTTP status into
// objectstore.StatusError.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var se *swift.Error
	if errors.As(err, &se) && se.StatusCode != 0 {
		return objectstore.NewStatusError(se.StatusCode, "%s", se.Text)
	}
	return err
}
