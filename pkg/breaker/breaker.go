// Package breaker wraps github.com/sony/gobreaker with the three-state
// (closed/open/half_open) façade every external client in this module is
// required to call through.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	uomerrors "github.com/sandboxfirst/uom/errors"
	"github.com/sandboxfirst/uom/metrics"
	"github.com/sandboxfirst/uom/pkg/uom/types"
)

// Config tunes a single service's breaker.
type Config struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenTimeout      time.Duration
}

// DefaultConfig matches spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Service is the façade one external collaborator's calls are wrapped in.
type Service struct {
	name string
	cfg  Config
	cb   *gobreaker.CircuitBreaker
}

func newService(name string, cfg Config) *Service {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.SuccessThreshold,
		Interval:    0, // closed-state counters never reset on a timer, only on a state change
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Service{name: name, cfg: cfg, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op through the breaker. A breaker already open returns
// uomerrors.NewBreakerOpenError without ever calling op.
func (s *Service) Execute(op func() (any, error)) (any, error) {
	result, err := s.cb.Execute(op)
	if err == gobreaker.ErrOpenState {
		return nil, uomerrors.NewBreakerOpenError(s.name)
	}
	return result, err
}

// State returns the breaker's current state using the spec's own state
// names rather than gobreaker's.
func (s *Service) State() types.BreakerState {
	switch s.cb.State() {
	case gobreaker.StateClosed:
		return types.BreakerClosed
	case gobreaker.StateHalfOpen:
		return types.BreakerHalfOpen
	default:
		return types.BreakerOpen
	}
}

// Snapshot returns the externally-observable CircuitBreakerState for this
// service; Registry.Stats collects these and refreshes the breaker_state
// metric from them.
func (s *Service) Snapshot() types.CircuitBreakerState {
	counts := s.cb.Counts()
	return types.CircuitBreakerState{
		Service:      s.name,
		State:        s.State(),
		FailureCount: int(counts.ConsecutiveFailures),
		SuccessCount: int(counts.ConsecutiveSuccesses),
	}
}

// Reset forces the breaker back to a fresh closed state, clearing counts.
func (s *Service) Reset() {
	// gobreaker has no direct reset; rebuilding with identical settings is
	// the only supported way to clear its internal generation/counts.
	*s = *newService(s.name, s.cfg)
}

// Registry holds one Service per named external collaborator, constructed
// once at startup and injected into every client that needs breaker
// protection - mirroring how catalyst-api constructs its
// PeriodicCallbackClient once and hands it to callers rather than
// resolving it through a global.
type Registry struct {
	services map[string]*Service
}

// NewRegistry builds a breaker for every name in cfg, falling back to
// DefaultConfig for any name not present in cfg.
func NewRegistry(names []string, cfg map[string]Config) *Registry {
	r := &Registry{services: make(map[string]*Service, len(names))}
	for _, name := range names {
		c, ok := cfg[name]
		if !ok {
			c = DefaultConfig()
		}
		r.services[name] = newService(name, c)
	}
	return r
}

// For returns the named service's breaker, constructing one with
// DefaultConfig on first use so callers never have to special-case an
// unregistered service name.
func (r *Registry) For(name string) *Service {
	if s, ok := r.services[name]; ok {
		return s
	}
	s := newService(name, DefaultConfig())
	r.services[name] = s
	return s
}

// Stats returns a CircuitBreakerState snapshot for every registered
// service, in no particular order, and refreshes the breaker_state gauge.
func (r *Registry) Stats() []types.CircuitBreakerState {
	out := make([]types.CircuitBreakerState, 0, len(r.services))
	for _, s := range r.services {
		snap := s.Snapshot()
		out = append(out, snap)

		var stateValue float64
		switch snap.State {
		case types.BreakerClosed:
			stateValue = 0
		case types.BreakerHalfOpen:
			stateValue = 1
		case types.BreakerOpen:
			stateValue = 2
		}
		metrics.Metrics.BreakerState.WithLabelValues(snap.Service).Set(stateValue)
	}
	return out
}

// ExecuteCtx is a convenience wrapper for operations that take a context,
// satisfying the common http-client-call shape without forcing every
// caller to close over ctx manually.
func (s *Service) ExecuteCtx(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	return s.Execute(func() (any, error) {
		return op(ctx)
	})
}
