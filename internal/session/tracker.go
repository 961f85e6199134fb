package session

import (
	"log/slog"
	"net"
	"sync"

	"github.com/objectfs/objectftp/pkg/errors"
)

// TrackerMetrics receives admission events; *metrics.Collector implements it.
type TrackerMetrics interface {
	SetActiveConnections(n int)
	RecordRejected()
}

// Tracker limits the number of concurrent connections per remote address.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	active int

	max     int
	metrics TrackerMetrics
	logger  *slog.Logger
}

// NewTracker creates a tracker admitting at most max connections per address.
// A max of zero admits everything without counting.
func NewTracker(max int, metrics TrackerMetrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		counts:  make(map[string]int),
		max:     max,
		metrics: metrics,
		logger:  logger.With("component", "tracker"),
	}
}

// Ticket is an admitted connection. Release it when the connection closes.
type Ticket struct {
	once    sync.Once
	release func()
}

// Release gives the connection slot back. Calling it more than once is harmless.
func (t *Ticket) Release() {
	if t == nil || t.release == nil {
		return
	}
	t.once.Do(t.release)
}

// Admit counts a new connection from addr, which may carry a port. When the
// address is over its limit the connection is refused with LimitExceeded and
// the count is left as it was.
func (t *Tracker) Admit(addr string) (*Ticket, error) {
	if t.max <= 0 {
		return &Ticket{}, nil
	}
	host := hostOf(addr)

	t.mu.Lock()
	t.counts[host]++
	n := t.counts[host]
	t.active++
	t.mu.Unlock()

	if n > t.max {
		t.release(host)
		t.logger.Info("too many connections", "addr", host, "max", t.max)
		if t.metrics != nil {
			t.metrics.RecordRejected()
		}
		return nil, errors.NewError(errors.ErrCodeLimitExceeded, "Too many connections from this address").
			WithDetail("max", t.max).WithContext("addr", host)
	}

	t.report()
	return &Ticket{release: func() {
		t.release(host)
		t.report()
	}}, nil
}

// Active returns the number of admitted connections from addr.
func (t *Tracker) Active(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[hostOf(addr)]
}

// Addresses returns the number of addresses with at least one connection.
func (t *Tracker) Addresses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func (t *Tracker) release(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active--
	if t.counts[host] <= 1 {
		delete(t.counts, host)
		return
	}
	t.counts[host]--
}

func (t *Tracker) report() {
	if t.metrics == nil {
		return
	}
	t.mu.Lock()
	n := t.active
	t.mu.Unlock()
	t.metrics.SetActiveConnections(n)
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
