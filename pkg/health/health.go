// Package health runs readiness checks against the components a gateway
// depends on and reports the combined state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the health of a component or of the whole process.
type State int

const (
	StateHealthy State = iota
	// StateDegraded means an optional component failed; requests are still served.
	StateDegraded
	// StateUnavailable means a required component failed.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the state name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckFunc returns nil when the component is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name     string
	required bool
	fn       CheckFunc
}

// Component is the outcome of one check.
type Component struct {
	Name     string        `json:"name"`
	State    State         `json:"state"`
	Required bool          `json:"required"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report is the outcome of a full round of checks.
type Report struct {
	State      State       `json:"status"`
	CheckedAt  time.Time   `json:"checked_at"`
	Components []Component `json:"components"`
}

// Checker holds named checks. It is safe for concurrent use.
type Checker struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
	now     func() time.Time
}

// NewChecker creates a Checker bounding each check by timeout (0 for none).
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{timeout: timeout, now: time.Now}
}

// Register adds a check. A failing required check makes the process
// unavailable, any other failing check degraded. Registering a name again
// replaces the earlier check.
func (c *Checker) Register(name string, required bool, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i] = check{name: name, required: required, fn: fn}
			return
		}
	}
	c.checks = append(c.checks, check{name: name, required: required, fn: fn})
}

// Check runs every check concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]check(nil), c.checks...)
	c.mu.RUnlock()

	components := make([]Component, len(checks))
	var g errgroup.Group
	for i, ch := range checks {
		g.Go(func() error {
			components[i] = c.run(ctx, ch)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })
	report := Report{State: StateHealthy, CheckedAt: c.now(), Components: components}
	for _, comp := range components {
		if comp.State > report.State {
			report.State = comp.State
		}
	}
	return report
}

func (c *Checker) run(ctx context.Context, ch check) Component {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := ch.fn(ctx)
	comp := Component{Name: ch.name, Required: ch.required, Duration: time.Since(start)}
	switch {
	case err == nil:
		comp.State = StateHealthy
	case ch.required:
		comp.State, comp.Error = StateUnavailable, err.Error()
	default:
		comp.State, comp.Error = StateDegraded, err.Error()
	}
	return comp
}

// Handler serves the report as JSON, with status 503 when unavailable.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.State == StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
