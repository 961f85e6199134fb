// Package sqlite implements a persistent single-file object store on SQLite.
// Accounts are registered users with bcrypt-hashed secrets; tokens issued at
// login are checked on connect.
package sqlite

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/objectfs/objectftp/internal/objectstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	name       TEXT PRIMARY KEY,
	password   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	token      TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (name) REFERENCES users(name) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS containers (
	account    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (account, name)
);
CREATE TABLE IF NOT EXISTS objects (
	account       TEXT NOT NULL,
	container     TEXT NOT NULL,
	key           TEXT NOT NULL,
	data          BLOB NOT NULL,
	size          INTEGER NOT NULL,
	etag          TEXT NOT NULL,
	content_type  TEXT NOT NULL,
	last_modified TEXT NOT NULL,
	manifest      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (account, container, key)
);`

// Options configures the SQLite backend.
type Options struct {
	// Path is the database file; it is created if missing.
	Path   string
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Backend is a SQLite database holding every account.
type Backend struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

var _ objectstore.Backend = (*Backend)(nil)

// Open opens or creates the database at opts.Path.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	// One connection serialises writers and keeps the pragma below in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create tables: %w", err)
	}

	return &Backend{
		db:     db,
		path:   opts.Path,
		now:    opts.Now,
		logger: logger.With("component", "sqlite", "path", opts.Path),
	}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Ping checks that the database answers.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *Backend) Name() string { return "sqlite" }

func (b *Backend) AuthEndpoint() string { return "sqlite://" + b.path }

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(objectstore.TimeLayout)
}

// AddUser registers user, replacing the secret of an existing account.
func (b *Backend) AddUser(ctx context.Context, user, secret string) error {
	if user == "" || secret == "" {
		return errors.New("sqlite: user and secret are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("sqlite: hash secret: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO users (name, password, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET password = excluded.password`,
		user, string(hash), b.timestamp())
	if err != nil {
		return fmt.Errorf("sqlite: add user: %w", err)
	}
	// Outstanding tokens were issued for the old secret.
	if _, err := b.db.ExecContext(ctx, `DELETE FROM tokens WHERE name = ?`, user); err != nil {
		return fmt.Errorf("sqlite: revoke tokens: %w", err)
	}
	return nil
}

// Authenticate checks the secret and issues a fresh token.
func (b *Backend) Authenticate(ctx context.Context, user, secret string) (objectstore.Credentials, error) {
	var hash string
	err := b.db.QueryRowContext(ctx, `SELECT password FROM users WHERE name = ?`, user).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return objectstore.Credentials{}, objectstore.NewStatusError(http.StatusUnauthorized, "unknown user %s", user)
	}
	if err != nil {
		return objectstore.Credentials{}, fmt.Errorf("sqlite: look up user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) != nil {
		return objectstore.Credentials{}, objectstore.NewStatusError(http.StatusUnauthorized, "invalid credentials for %s", user)
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return objectstore.Credentials{}, fmt.Errorf("sqlite: generate token: %w", err)
	}
	token := hex.EncodeToString(raw)
	if _, err := b.db.ExecContext(ctx,
		`INSERT INTO tokens (token, name, created_at) VALUES (?, ?, ?)`,
		token, user, b.timestamp()); err != nil {
		return objectstore.Credentials{}, fmt.Errorf("sqlite: store token: %w", err)
	}
	b.logger.Debug("issued token", "user", user)
	return objectstore.Credentials{Endpoint: b.AuthEndpoint() + "/AUTH_" + user, Token: token}, nil
}

// Connect accepts a token previously issued to user.
func (b *Backend) Connect(ctx context.Context, user, secret string, creds objectstore.Credentials) (objectstore.Store, error) {
	var owner string
	err := b.db.QueryRowContext(ctx, `SELECT name FROM tokens WHERE token = ?`, creds.Token).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != user) {
		return nil, objectstore.NewStatusError(http.StatusUnauthorized, "invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: look up token: %w", err)
	}
	return &Store{backend: b, account: user}, nil
}

// Store is one account of a Backend.
type Store struct {
	backend *Backend
	account string
}

var _ objectstore.Store = (*Store)(nil)

func (st *Store) db() *sql.DB { return st.backend.db }

func containerNotFound(name string) error {
	return objectstore.NewStatusError(http.StatusNotFound, "container %s not found", name)
}

func objectNotFound(container, key string) error {
	return objectstore.NewStatusError(http.StatusNotFound, "object %s/%s not found", container, key)
}

func (st *Store) requireContainer(ctx context.Context, name string) error {
	var one int
	err := st.db().QueryRowContext(ctx,
		`SELECT 1 FROM containers WHERE account = ? AND name = ?`, st.account, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return containerNotFound(name)
	}
	if err != nil {
		return fmt.Errorf("sqlite: look up container: %w", err)
	}
	return nil
}

func (st *Store) ListContainers(ctx context.Context) ([]objectstore.ContainerInfo, error) {
	rows, err := st.db().QueryContext(ctx, `
		SELECT c.name, COUNT(o.key), COALESCE(SUM(o.size), 0)
		FROM containers c
		LEFT JOIN objects o ON o.account = c.account AND o.container = c.name
		WHERE c.account = ?
		GROUP BY c.name
		ORDER BY c.name`, st.account)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list containers: %w", err)
	}
	defer rows.Close()

	var out []objectstore.ContainerInfo
	for rows.Next() {
		var info objectstore.ContainerInfo
		if err := rows.Scan(&info.Name, &info.Count, &info.Bytes); err != nil {
			return nil, fmt.Errorf("sqlite: scan container: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (st *Store) HeadContainer(ctx context.Context, name string) (objectstore.ContainerInfo, error) {
	if err := st.requireContainer(ctx, name); err != nil {
		return objectstore.ContainerInfo{}, err
	}
	info := objectstore.ContainerInfo{Name: name}
	err := st.db().QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM objects WHERE account = ? AND container = ?`,
		st.account, name).Scan(&info.Count, &info.Bytes)
	if err != nil {
		return objectstore.ContainerInfo{}, fmt.Errorf("sqlite: container usage: %w", err)
	}
	return info, nil
}

func (st *Store) CreateContainer(ctx context.Context, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return objectstore.NewStatusError(http.StatusBadRequest, "invalid container name %q", name)
	}
	_, err := st.db().ExecContext(ctx,
		`INSERT INTO containers (account, name, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		st.account, name, st.backend.timestamp())
	if err != nil {
		return fmt.Errorf("sqlite: create container: %w", err)
	}
	return nil
}

func (st *Store) DeleteContainer(ctx context.Context, name string) error {
	info, err := st.HeadContainer(ctx, name)
	if err != nil {
		return err
	}
	if info.Count > 0 {
		return objectstore.NewStatusError(http.StatusConflict, "container %s not empty", name)
	}
	_, err = st.db().ExecContext(ctx, `DELETE FROM containers WHERE account = ? AND name = ?`, st.account, name)
	if err != nil {
		return fmt.Errorf("sqlite: delete container: %w", err)
	}
	return nil
}

// ListObjects scans keys after the marker in order, rolling keys that contain
// the delimiter past the prefix into a single SubDir entry.
func (st *Store) ListObjects(ctx context.Context, container string, opts objectstore.ListOptions) ([]objectstore.ObjectInfo, error) {
	if err := st.requireContainer(ctx, container); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 || limit > objectstore.ListLimit {
		limit = objectstore.ListLimit
	}

	// Byte-wise substr rather than LIKE, which would treat % and _ as wildcards.
	rows, err := st.db().QueryContext(ctx, `
		SELECT key, size, etag, content_type, last_modified
		FROM objects
		WHERE account = ? AND container = ? AND substr(CAST(key AS BLOB), 1, ?) = CAST(? AS BLOB) AND key > ?
		ORDER BY key`,
		st.account, container, len(opts.Prefix), opts.Prefix, opts.Marker)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list objects: %w", err)
	}
	defer rows.Close()

	var out []objectstore.ObjectInfo
	lastSubDir := ""
	for rows.Next() && len(out) < limit {
		var o objectstore.ObjectInfo
		if err := rows.Scan(&o.Name, &o.Bytes, &o.Hash, &o.ContentType, &o.LastModified); err != nil {
			return nil, fmt.Errorf("sqlite: scan object: %w", err)
		}
		if opts.Delimiter != "" {
			rest := o.Name[len(opts.Prefix):]
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
		out = append(out, o)
	}
	return out, rows.Err()
}

type row struct {
	data        []byte
	size        int64
	etag        string
	contentType string
	modified    string
	manifest    string
}

func (st *Store) load(ctx context.Context, container, key string, withData bool) (row, error) {
	if err := st.requireContainer(ctx, container); err != nil {
		return row{}, err
	}
	column := "x''"
	if withData {
		column = "data"
	}
	var r row
	err := st.db().QueryRowContext(ctx,
		`SELECT `+column+`, size, etag, content_type, last_modified, manifest
		 FROM objects WHERE account = ? AND container = ? AND key = ?`,
		st.account, container, key).Scan(&r.data, &r.size, &r.etag, &r.contentType, &r.modified, &r.manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, objectNotFound(container, key)
	}
	if err != nil {
		return row{}, fmt.Errorf("sqlite: load object: %w", err)
	}
	return r, nil
}

// segments returns the parts of a "container/prefix" manifest in name order.
func (st *Store) segments(ctx context.Context, manifest string, withData bool) ([]row, error) {
	container, prefix, _ := strings.Cut(manifest, "/")
	column := "x''"
	if withData {
		column = "data"
	}
	rows, err := st.db().QueryContext(ctx,
		`SELECT key, `+column+`, size, etag FROM objects
		 WHERE account = ? AND container = ? AND substr(CAST(key AS BLOB), 1, ?) = CAST(? AS BLOB)
		 ORDER BY key`,
		st.account, container, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list segments: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var key string
		var r row
		if err := rows.Scan(&key, &r.data, &r.size, &r.etag); err != nil {
			return nil, fmt.Errorf("sqlite: scan segment: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (st *Store) HeadObject(ctx context.Context, container, key string) (objectstore.ObjectInfo, error) {
	r, err := st.load(ctx, container, key, false)
	if err != nil {
		return objectstore.ObjectInfo{}, err
	}
	info := objectstore.ObjectInfo{
		Name:         key,
		Bytes:        r.size,
		ContentType:  r.contentType,
		LastModified: r.modified,
		Hash:         r.etag,
		Manifest:     r.manifest,
	}
	if r.manifest != "" {
		parts, err := st.segments(ctx, r.manifest, false)
		if err != nil {
			return objectstore.ObjectInfo{}, err
		}
		var etags strings.Builder
		info.Bytes = 0
		for _, p := range parts {
			info.Bytes += p.size
			etags.WriteString(p.etag)
		}
		sum := md5.Sum([]byte(etags.String()))
		info.Hash = hex.EncodeToString(sum[:])
	}
	return info, nil
}

func (st *Store) content(ctx context.Context, container, key string) (row, error) {
	r, err := st.load(ctx, container, key, true)
	if err != nil || r.manifest == "" {
		return r, err
	}
	parts, err := st.segments(ctx, r.manifest, true)
	if err != nil {
		return row{}, err
	}
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p.data)
	}
	r.data = buf.Bytes()
	return r, nil
}

func (st *Store) GetObject(ctx context.Context, container, key string, offset int64) (io.ReadCloser, error) {
	r, err := st.content(ctx, container, key)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(r.data)) {
		return nil, objectstore.NewStatusError(http.StatusRequestedRangeNotSatisfiable, "range %d- outside %d bytes", offset, len(r.data))
	}
	return io.NopCloser(bytes.NewReader(r.data[offset:])), nil
}

func (st *Store) CreateObject(ctx context.Context, container, key, contentType string) (objectstore.ObjectWriter, error) {
	if err := st.requireContainer(ctx, container); err != nil {
		return nil, err
	}
	return &writer{ctx: ctx, store: st, container: container, key: key, contentType: contentType}, nil
}

func (st *Store) put(ctx context.Context, container, key string, data []byte, contentType, manifest string) error {
	if err := st.requireContainer(ctx, container); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	sum := md5.Sum(data)
	_, err := st.db().ExecContext(ctx, `
		INSERT INTO objects (account, container, key, data, size, etag, content_type, last_modified, manifest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, container, key) DO UPDATE SET
			data = excluded.data, size = excluded.size, etag = excluded.etag,
			content_type = excluded.content_type, last_modified = excluded.last_modified,
			manifest = excluded.manifest`,
		st.account, container, key, data, len(data), hex.EncodeToString(sum[:]),
		contentType, st.backend.timestamp(), manifest)
	if err != nil {
		return fmt.Errorf("sqlite: store object: %w", err)
	}
	return nil
}

// CopyObject copies the readable content, so a manifest source is flattened.
func (st *Store) CopyObject(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error {
	r, err := st.content(ctx, srcContainer, srcKey)
	if err != nil {
		return err
	}
	return st.put(ctx, dstContainer, dstKey, r.data, r.contentType, "")
}

func (st *Store) PutManifest(ctx context.Context, container, key, segmentContainer, segmentPrefix string) error {
	contentType := objectstore.DefaultContentType
	if r, err := st.load(ctx, container, key, false); err == nil {
		contentType = r.contentType
	}
	return st.put(ctx, container, key, nil, contentType, segmentContainer+"/"+segmentPrefix)
}

func (st *Store) DeleteObject(ctx context.Context, container, key string) error {
	if err := st.requireContainer(ctx, container); err != nil {
		return err
	}
	res, err := st.db().ExecContext(ctx,
		`DELETE FROM objects WHERE account = ? AND container = ? AND key = ?`, st.account, container, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return objectNotFound(container, key)
	}
	return nil
}

// writer buffers the upload and stores it on Close.
type writer struct {
	ctx         context.Context
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
	return w.store.put(w.ctx, w.container, w.key, w.buf.Bytes(), w.contentType, "")
}
