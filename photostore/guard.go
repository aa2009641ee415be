package photostore

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/cache"
	"github.com/pixvault/go-common/logger"
)

// BreakerState is the state of a Guard.
type BreakerState int32

const (
	StateClosed BreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int

	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration

	// MaxProbes is the number of loads allowed at once while half-open.
	MaxProbes int

	// SuccessThreshold is the number of successful probes that close the circuit.
	SuccessThreshold int

	// RequestTimeout bounds a single load. Zero leaves it to the caller's context.
	RequestTimeout time.Duration
}

// DefaultGuardConfig returns the configuration used by NewGuard for zero fields.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		MaxProbes:        1,
		SuccessThreshold: 2,
		RequestTimeout:   10 * time.Second,
	}
}

// GuardStats is a snapshot of a Guard.
type GuardStats struct {
	State     BreakerState `json:"state"`
	Failures  int          `json:"failures"`
	Successes int          `json:"successes"`
	Probes    int          `json:"probes"`
	Rejected  int64        `json:"rejected"`
}

// Guard is a circuit breaker around a PhotoStore. After MaxFailures
// consecutive failed loads it rejects every load with ErrBreakerOpen until
// Cooldown has passed, then lets a few probes through to decide whether to
// close again. ErrNotFound means the store answered and is not a failure.
type Guard struct {
	store  cache.PhotoStore
	config GuardConfig
	log    logger.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	probes      int
	rejected    int64
	lastFailure time.Time
}

var _ cache.PhotoStore = (*Guard)(nil)

// NewGuard wraps store. Zero fields of config take their DefaultGuardConfig value.
func NewGuard(store cache.PhotoStore, config GuardConfig, log logger.Logger) *Guard {
	def := DefaultGuardConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.MaxProbes <= 0 {
		config.MaxProbes = def.MaxProbes
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	return &Guard{
		store:  store,
		config: config,
		log:    log.WithPrefix("[photostore]"),
		now:    time.Now,
	}
}

func (g *Guard) LoadSourceBytes(ctx context.Context, key cache.Key) ([]byte, error) {
	probe, err := g.beforeRequest()
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", key)
	}
	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}
	data, err := g.store.LoadSourceBytes(ctx, key)
	g.afterRequest(probe, err == nil || errors.Is(err, ErrNotFound))
	return data, err
}

// State returns the current state. An open circuit whose cooldown has passed
// still reports open until the next load probes it.
func (g *Guard) State() BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) Stats() GuardStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GuardStats{
		State:     g.state,
		Failures:  g.failures,
		Successes: g.successes,
		Probes:    g.probes,
		Rejected:  g.rejected,
	}
}

// Reset closes the circuit.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transition(StateClosed)
}

func (g *Guard) beforeRequest() (probe bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if g.now().Sub(g.lastFailure) < g.config.Cooldown {
			g.rejected++
			return false, ErrBreakerOpen
		}
		g.transition(StateHalfOpen)
	}
	if g.probes >= g.config.MaxProbes {
		g.rejected++
		return false, ErrBreakerOpen
	}
	g.probes++
	return true, nil
}

func (g *Guard) afterRequest(probe bool, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if probe && g.state == StateHalfOpen {
		g.probes--
	}
	if ok {
		switch g.state {
		case StateClosed:
			g.failures = 0
		case StateHalfOpen:
			g.successes++
			if g.successes >= g.config.SuccessThreshold {
				g.transition(StateClosed)
			}
		}
		return
	}

	g.failures++
	g.lastFailure = g.now()
	switch g.state {
	case StateClosed:
		if g.failures >= g.config.MaxFailures {
			g.transition(StateOpen)
		}
	case StateHalfOpen:
		g.transition(StateOpen)
	}
}

// must hold lock
func (g *Guard) transition(to BreakerState) {
	if g.state == to {
		return
	}
	switch to {
	case StateClosed:
		g.failures = 0
		g.log.Info("photo store recovered")
	case StateOpen:
		g.lastFailure = g.now()
		g.log.Warn("photo store failing after %d errors, pausing loads for %s", g.failures, g.config.Cooldown)
	case StateHalfOpen:
		g.log.Debug("probing photo store")
	}
	g.state = to
	g.successes = 0
	g.probes = 0
}
