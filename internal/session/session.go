// Package session logs users in to the object store and admits their
// connections. A Session owns the authenticated store handle, the directory
// cache and the filesystem of one connection; nothing in it is global.
package session

import (
	"context"
	stderr "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/filesystem"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/pkg/errors"
	"github.com/objectfs/objectftp/pkg/retry"
)

// DefaultTokenTTL matches the default token lifetime of Swift.
const DefaultTokenTTL = 24 * time.Hour

// Metrics is what a session reports to; *metrics.Collector implements it.
type Metrics interface {
	filesystem.Metrics
	cache.Recorder
}

// Config configures a Manager.
type Config struct {
	Backend objectstore.Backend

	// Shared caches tokens and listings across sessions. nil disables both.
	Shared cache.SharedTier

	TokenTTL          time.Duration
	ListingTTL        time.Duration
	CompressThreshold int
	SplitSize         int64

	// Retry repeats authentication that failed transiently. nil tries once.
	Retry *retry.Retryer

	Logger  *slog.Logger
	Metrics Metrics
	Now     func() time.Time
}

// Manager creates sessions against one backend.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With("component", "session", "backend", cfg.Backend.Name()),
	}
}

// Session is one logged-in connection.
type Session struct {
	User string

	mgr    *Manager
	secret string
	logger *slog.Logger

	creds objectstore.Credentials
	store objectstore.Store
	fs    *filesystem.FS

	// skipTokenCache forces the next login to authenticate against the store
	// even if the shared tier holds a token.
	skipTokenCache bool
}

// Login authenticates user and returns a session with a fresh filesystem.
func (m *Manager) Login(ctx context.Context, user, secret string) (*Session, error) {
	if user == "" || secret == "" {
		return nil, errors.PermissionDenied("Username and password required").WithOperation("login")
	}
	s := &Session{
		User:   user,
		mgr:    m,
		secret: secret,
		logger: m.logger.With("user", user),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("login succeeded", "endpoint", s.creds.Endpoint)
	return s, nil
}

// FS returns the session filesystem.
func (s *Session) FS() *filesystem.FS { return s.fs }

// Store returns the authenticated store.
func (s *Session) Store() objectstore.Store { return s.store }

// Credentials returns the storage endpoint and token in use.
func (s *Session) Credentials() objectstore.Credentials { return s.creds }

// Reauthenticate logs in again, keeping the current directory. A login that
// just reused a cached token always authenticates against the store here.
func (s *Session) Reauthenticate(ctx context.Context) error {
	cwd := "/"
	if s.fs != nil {
		cwd = s.fs.Getcwd()
	}
	if err := s.connect(ctx); err != nil {
		return err
	}
	if cwd != "/" {
		if err := s.fs.Chdir(ctx, cwd); err != nil {
			s.logger.Warn("previous directory gone after reauthentication", "cwd", cwd, "error", err)
		}
	}
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	cfg := s.mgr.cfg
	creds, cached, err := s.authenticate(ctx)
	if err != nil {
		return err
	}
	store, err := cfg.Backend.Connect(ctx, s.User, s.secret, creds)
	if err != nil && cached && rejected(err) {
		// The cached token was revoked or expired before its cache entry.
		s.logger.Info("cached token rejected, authenticating again", "error", err)
		s.dropToken(ctx)
		s.skipTokenCache = true
		if creds, _, err = s.authenticate(ctx); err != nil {
			return err
		}
		store, err = cfg.Backend.Connect(ctx, s.User, s.secret, creds)
	}
	if err != nil {
		return loginError(err)
	}

	dirs := cache.NewDirCache(store, cfg.Shared, cache.DirCacheConfig{
		AuthEndpoint:      cfg.Backend.AuthEndpoint(),
		User:              s.User,
		TTL:               cfg.ListingTTL,
		CompressThreshold: cfg.CompressThreshold,
		Logger:            s.logger,
		Metrics:           cfg.Metrics,
		Now:               cfg.Now,
	})
	s.creds, s.store = creds, store
	s.fs = filesystem.New(store, dirs, filesystem.Options{
		SplitSize: cfg.SplitSize,
		Logger:    s.logger,
		Metrics:   cfg.Metrics,
	})
	return nil
}

// authenticate returns credentials from the token cache when allowed, or from
// the backend otherwise, storing fresh ones for the next session. cached
// reports whether the token came from the cache.
func (s *Session) authenticate(ctx context.Context) (creds objectstore.Credentials, cached bool, err error) {
	cfg := s.mgr.cfg
	if cfg.Shared == nil {
		creds, err = s.authenticateBackend(ctx)
		return creds, false, err
	}

	key := s.tokenKey()
	if !s.skipTokenCache {
		if creds, ok := s.cachedToken(ctx, key); ok {
			s.logger.Debug("token cache hit")
			s.skipTokenCache = true
			return creds, true, nil
		}
	}
	s.logger.Debug("token cache miss", "forced", s.skipTokenCache)

	creds, err = s.authenticateBackend(ctx)
	if err != nil {
		return creds, false, err
	}
	s.skipTokenCache = false

	data, err := cache.EncodeValue(creds, 0)
	if err == nil {
		err = cfg.Shared.Set(ctx, key, data, cfg.TokenTTL)
	}
	if err != nil {
		s.logger.Warn("failed to cache token", "error", err)
	}
	return creds, false, nil
}

func (s *Session) tokenKey() string {
	return cache.TokenKey(s.mgr.cfg.Backend.AuthEndpoint(), s.User, s.secret)
}

func (s *Session) dropToken(ctx context.Context) {
	if err := s.mgr.cfg.Shared.Delete(ctx, s.tokenKey()); err != nil {
		s.logger.Warn("failed to drop cached token", "error", err)
	}
}

// rejected reports whether the store refused the credentials themselves.
func rejected(err error) bool {
	var status *objectstore.StatusError
	return stderr.As(err, &status) &&
		(status.Status == http.StatusUnauthorized || status.Status == http.StatusForbidden)
}

func (s *Session) cachedToken(ctx context.Context, key string) (objectstore.Credentials, bool) {
	data, found, err := s.mgr.cfg.Shared.Get(ctx, key)
	if err != nil {
		s.logger.Warn("token cache lookup failed", "error", err)
		return objectstore.Credentials{}, false
	}
	s.record(found)
	if !found {
		return objectstore.Credentials{}, false
	}
	var creds objectstore.Credentials
	if err := cache.DecodeValue(data, &creds); err != nil || creds.Token == "" {
		s.logger.Warn("discarding undecodable cached token", "error", err)
		return objectstore.Credentials{}, false
	}
	return creds, true
}

func (s *Session) record(hit bool) {
	if m := s.mgr.cfg.Metrics; m != nil {
		m.RecordCacheRequest("token", hit)
	}
}

func (s *Session) authenticateBackend(ctx context.Context) (objectstore.Credentials, error) {
	var creds objectstore.Credentials
	err := s.mgr.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		creds, err = s.mgr.cfg.Backend.Authenticate(ctx, s.User, s.secret)
		return err
	})
	if err != nil {
		s.logger.Warn("authentication failed", "error", err)
		return creds, loginError(err)
	}
	return creds, nil
}

func loginError(err error) error {
	return errors.Translate(err, "login", "")
}
