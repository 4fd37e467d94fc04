// Package resilience provides the retry policy, the shared rate limiter, error
// classification, and per-provider circuit breakers used by the geocoding
// pipeline.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// CircuitState is the state of one provider's breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state; calls pass through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider is skipped without a call.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through after the reset timeout.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow while a provider is being skipped.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls when a provider is taken out of rotation.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive exhausted provider/query
	// pairs that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before letting a probe
	// through.
	ResetTimeout time.Duration
	// OnStateChange, when set, observes every transition.
	OnStateChange func(provider string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 exhausted pairs and probes again
// after a minute. Transitions are logged at Warn.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		OnStateChange:    LogStateChange,
	}
}

// LogStateChange logs a breaker transition.
func LogStateChange(provider string, from, to CircuitState) {
	zap.L().Warn("resilience: circuit state change",
		zap.String("provider", provider),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

// CircuitBreaker tracks whether one provider is healthy enough to call.
// While half-open only one caller holds the probe; everyone else is turned
// away until that probe's outcome is recorded.
type CircuitBreaker struct {
	provider string
	cfg      CircuitBreakerConfig
	now      func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker for provider. Non-positive
// settings fall back to the defaults.
func NewCircuitBreaker(provider string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{provider: provider, cfg: cfg, now: time.Now}
}

// Allow reports whether the provider may be called now. Every nil return
// must be followed by exactly one Record.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.moveTo(CircuitHalfOpen)
	}

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitHalfOpen:
		if !cb.probing {
			cb.probing = true
			return nil
		}
	}
	return eris.Wrapf(ErrCircuitOpen, "provider %s", cb.provider)
}

// Record feeds the final status of a provider/query pair into the breaker.
// Only an exhausted transient error counts against the provider; a no-match
// is a healthy answer.
func (cb *CircuitBreaker) Record(status model.AttemptStatus) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if status != model.AttemptTransientError {
		cb.failures = 0
		if cb.state != CircuitClosed {
			cb.moveTo(CircuitClosed)
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		if cb.state != CircuitOpen {
			cb.moveTo(CircuitOpen)
		}
	}
}

// State returns the breaker's state as Allow would see it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.provider, from, to)
	}
}

// ProviderBreakers holds one breaker per provider name. It is shared by all
// flows of a run, and by all runs of a server.
type ProviderBreakers struct {
	cfg      CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewProviderBreakers creates an empty registry.
func NewProviderBreakers(cfg CircuitBreakerConfig) *ProviderBreakers {
	return &ProviderBreakers{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns provider's breaker, creating it on first use.
func (pb *ProviderBreakers) Get(provider string) *CircuitBreaker {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	cb, ok := pb.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(provider, pb.cfg)
		pb.breakers[provider] = cb
	}
	return cb
}

// States returns each known provider's state by name.
func (pb *ProviderBreakers) States() map[string]string {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	states := make(map[string]string, len(pb.breakers))
	for name, cb := range pb.breakers {
		states[name] = cb.State().String()
	}
	return states
}
