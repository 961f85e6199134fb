package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/objectfs/objectftp/internal/cache"
	"github.com/objectfs/objectftp/internal/circuit"
	"github.com/objectfs/objectftp/internal/config"
	"github.com/objectfs/objectftp/internal/metrics"
	"github.com/objectfs/objectftp/internal/objectstore"
	"github.com/objectfs/objectftp/internal/session"
	"github.com/objectfs/objectftp/internal/storage"
	"github.com/objectfs/objectftp/pkg/health"
	"github.com/objectfs/objectftp/pkg/retry"
)

// Adapter wires the storage backend, shared cache tier, metrics, session
// manager and connection tracker of one objectftp process.
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger

	backend      objectstore.Backend
	closeBackend storage.Closer
	shared       cache.SharedTier
	guard        *cache.GuardedTier
	local        *cache.LRUCache
	memcache     *cache.MemcacheTier
	collector    *metrics.Collector
	manager      *session.Manager
	tracker      *session.Tracker
	health       *health.Checker
}

// New validates cfg and builds every component. Nothing listens until Start.
func New(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := validateAuthURL(cfg.Storage); err != nil {
		return nil, fmt.Errorf("invalid auth URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Adapter{config: cfg, logger: logger.With("component", "adapter")}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
		Namespace: cfg.Metrics.Namespace,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.collector = collector

	backend, closer, err := storage.Open(ctx, cfg.Storage, cfg.Global, logger)
	if err != nil {
		return nil, err
	}
	a.backend, a.closeBackend = backend, closer

	a.shared = a.buildShared(cfg.Cache)

	retryer := retry.New(retry.Config{
		MaxAttempts: cfg.Storage.AuthAttempts,
		Jitter:      true,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warn("authentication failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		},
	})
	a.manager = session.NewManager(session.Config{
		Backend:           backend,
		Shared:            a.shared,
		TokenTTL:          cfg.Cache.TokenTTL,
		ListingTTL:        cfg.Cache.ListingTTL,
		CompressThreshold: cfg.Cache.CompressThreshold,
		SplitSize:         cfg.Global.SplitSize(),
		Retry:             retryer,
		Logger:            logger,
		Metrics:           collector,
	})
	a.tracker = session.NewTracker(cfg.Global.MaxConsPerIP, collector, logger)

	a.health = a.buildHealth(cfg.Global.APITimeout)
	collector.SetHealthHandler(a.health.Handler())
	return a, nil
}

// pinger is implemented by backends that can check their own reachability
// without user credentials.
type pinger interface {
	Ping(ctx context.Context) error
}

// buildHealth registers a required check for the backend when it can be
// probed and an optional one for the shared tier.
func (a *Adapter) buildHealth(timeout time.Duration) *health.Checker {
	checker := health.NewChecker(timeout)
	if p, ok := a.backend.(pinger); ok {
		checker.Register("backend", true, p.Ping)
	}
	if a.guard != nil {
		checker.Register("shared-cache", false, func(ctx context.Context) error {
			if state := a.guard.Breaker().State(); state == circuit.StateOpen {
				return fmt.Errorf("circuit breaker %s", state)
			}
			if a.memcache != nil {
				return a.memcache.Ping()
			}
			return nil
		})
	}
	return checker
}

// buildShared returns the configured shared tier, guarded by a circuit breaker
// so an unreachable cache degrades to per-session caching.
func (a *Adapter) buildShared(cfg config.CacheConfig) cache.SharedTier {
	var tier cache.SharedTier
	switch cfg.Shared {
	case config.SharedMemcache:
		a.memcache = cache.NewMemcacheTier(cfg.MemcacheServers, a.config.Global.APITimeout)
		tier = a.memcache
	case config.SharedLocal:
		a.local = cache.NewLRUCache(cache.CacheConfig{MaxEntries: cfg.LocalEntries})
		tier = a.local
	default:
		return nil
	}

	breaker := circuit.NewBreaker("shared-cache", circuit.Config{
		MaxFailures: uint32(cfg.BreakerFailures),
		Timeout:     cfg.BreakerTimeout,
		OnStateChange: func(name string, from, to circuit.State) {
			a.logger.Warn("shared cache breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	a.guard = cache.NewGuardedTier(tier, breaker)
	return a.guard
}

// Start starts the metrics server.
func (a *Adapter) Start(ctx context.Context) error {
	a.logger.Info("starting objectftp",
		"backend", a.backend.Name(),
		"auth_endpoint", a.backend.AuthEndpoint(),
		"shared_cache", a.config.Cache.Shared,
		"split_size", a.config.Global.SplitSize(),
		"max_cons_per_ip", a.config.Global.MaxConsPerIP)

	if err := a.collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}
	return nil
}

// Stop stops the metrics server and releases the cache and backend.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping objectftp")

	var firstErr error
	if err := a.collector.Stop(ctx); err != nil {
		firstErr = err
	}
	if a.local != nil {
		_ = a.local.Close()
	}
	if err := a.closeBackend(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Connect admits a connection from addr and logs the user in. The returned
// ticket must be released when the connection ends; on error nothing needs
// releasing.
func (a *Adapter) Connect(ctx context.Context, addr, user, secret string) (*session.Session, *session.Ticket, error) {
	ticket, err := a.tracker.Admit(addr)
	if err != nil {
		return nil, nil, err
	}
	sess, err := a.manager.Login(ctx, user, secret)
	if err != nil {
		ticket.Release()
		return nil, nil, err
	}
	return sess, ticket, nil
}

// Backend returns the storage backend.
func (a *Adapter) Backend() objectstore.Backend { return a.backend }

// Collector returns the metrics collector.
func (a *Adapter) Collector() *metrics.Collector { return a.collector }

// Tracker returns the connection tracker.
func (a *Adapter) Tracker() *session.Tracker { return a.tracker }

// Health returns the readiness checks served on the metrics /health endpoint.
func (a *Adapter) Health() *health.Checker { return a.health }

// validateAuthURL checks the URL of a remote backend.
func validateAuthURL(cfg config.StorageConfig) error {
	raw := cfg.AuthURL
	if cfg.Backend == config.BackendS3 && cfg.S3.Endpoint != "" {
		raw = cfg.S3.Endpoint
	}
	if raw == "" || (cfg.Backend != config.BackendSwift && cfg.Backend != config.BackendS3) {
		return nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse URI: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		if parsed.Host == "" {
			return fmt.Errorf("URL must include a host")
		}
	default:
		return fmt.Errorf("unsupported scheme: %q (http or https required)", parsed.Scheme)
	}
	return nil
}
