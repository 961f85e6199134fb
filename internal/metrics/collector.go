package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/objectftp/pkg/errors"
)

// Collector records filesystem, cache and connection metrics into a private
// Prometheus registry. A nil *Collector is valid and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	cacheRequests     *prometheus.CounterVec
	bytesTransferred  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	rejected          prometheus.Counter

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	server   *http.Server
	listener net.Listener
	health   http.Handler
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`

	Logger *slog.Logger `yaml:"-"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9102,
			Path:      "/metrics",
			Namespace: "objectftp",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Collector{
		config:     config,
		logger:     logger.With("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

func (c *Collector) enabled() bool {
	return c != nil && c.registry != nil
}

// Registry returns the registry holding every series, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the metrics endpoint, /health and /debug/operations.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.enabled() {
		mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	return mux
}

// Start serves Handler on the configured port until Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on metrics port: %w", err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", "error", err)
		}
	}()
	c.logger.Info("metrics server started", "addr", ln.Addr().String(), "path", c.config.Path)
	return nil
}

// Addr returns the address the metrics server listens on, or "" before Start.
func (c *Collector) Addr() string {
	if c == nil || c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordOperation records one filesystem operation and its outcome.
func (c *Collector) RecordOperation(operation string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}

	c.mu.Lock()
	m, ok := c.operations[operation]
	if !ok {
		m = &OperationMetrics{}
		c.operations[operation] = m
	}
	m.Count++
	m.TotalDuration += duration
	if err != nil {
		m.Errors++
	}
	m.LastOperation = time.Now()
	m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.Count)
	c.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		c.errorCounter.With(prometheus.Labels{
			"operation": operation,
			"code":      classifyError(err),
		}).Inc()
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// RecordBytes counts payload bytes; direction is "upload" or "download".
func (c *Collector) RecordBytes(direction string, n int64) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.bytesTransferred.With(prometheus.Labels{"direction": direction}).Add(float64(n))
}

// RecordCacheRequest records a hit or miss on a cache tier.
func (c *Collector) RecordCacheRequest(tier string, hit bool) {
	if !c.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.With(prometheus.Labels{"tier": tier, "result": result}).Inc()
}

// SetActiveConnections updates active connection count
func (c *Collector) SetActiveConnections(n int) {
	if !c.enabled() {
		return
	}
	c.activeConnections.Set(float64(n))
}

// RecordRejected counts a connection refused by admission control.
func (c *Collector) RecordRejected() {
	if !c.enabled() {
		return
	}
	c.rejected.Inc()
}

// GetMetrics returns a copy of the per-operation summary.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	out := make(map[string]OperationMetrics)
	if c == nil {
		return out
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation summary; Prometheus series are untouched.
func (c *Collector) ResetMetrics() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operations_total",
			Help:        "Total number of filesystem operations",
			ConstLabels: labels,
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_duration_seconds",
			Help:        "Duration of filesystem operations in seconds",
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			ConstLabels: labels,
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "errors_total",
			Help:        "Total number of failed operations by error code",
			ConstLabels: labels,
		},
		[]string{"operation", "code"},
	)

	c.cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_requests_total",
			Help:        "Total number of cache lookups",
			ConstLabels: labels,
		},
		[]string{"tier", "result"},
	)

	c.bytesTransferred = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "bytes_transferred_total",
			Help:        "Total payload bytes moved to or from the object store",
			ConstLabels: labels,
		},
		[]string{"direction"},
	)

	c.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "active_connections",
			Help:        "Number of admitted connections",
			ConstLabels: labels,
		},
	)

	c.rejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "rejected_connections_total",
			Help:        "Total number of connections refused by the per-address limit",
			ConstLabels: labels,
		},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.errorCounter,
		c.cacheRequests,
		c.bytesTransferred,
		c.activeConnections,
		c.rejected,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func classifyError(err error) string {
	return strings.ToLower(string(errors.Code(err)))
}

// HTTP handlers

// SetHealthHandler replaces the static /health response, e.g. with readiness
// checks. Call it before Start.
func (c *Collector) SetHealthHandler(h http.Handler) {
	if c != nil {
		c.health = h
	}
}

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	if c != nil && c.health != nil {
		c.health.ServeHTTP(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"objectftp-metrics"}`))
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	ops := c.GetMetrics()
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("objectftp Operations Summary\n")
	writef("============================\n\n")
	if len(names) == 0 {
		writef("No operations recorded.\n")
		return
	}

	writef("%-12s %10s %10s %14s %10s\n", "Operation", "Count", "Errors", "Avg Duration", "Last Op")
	writef("%-12s %10s %10s %14s %10s\n", "---------", "-----", "------", "------------", "-------")
	for _, name := range names {
		op := ops[name]
		writef("%-12s %10d %10d %14v %10s\n",
			name, op.Count, op.Errors, op.AvgDuration, op.LastOperation.Format("15:04:05"))
	}
}
