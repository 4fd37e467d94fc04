package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
	"github.com/sells-group/cnpj-geocoder/pkg/geocode"
)

// tierOutcome is what one provider-priority loop produced for one query.
type tierOutcome struct {
	provider string
	coords   *model.Coordinates
	attempts []model.GeocodeAttempt
	// degraded is set when some provider ended on a transient error or was
	// skipped by its breaker; such outcomes are not memoized.
	degraded bool
}

func (t tierOutcome) hit() bool { return t.coords != nil }

// Orchestrator resolves one record at a time through the fallback state
// machine. It is safe for concurrent use; all outbound calls share one
// RateLimiter.
type Orchestrator struct {
	providers []geocode.Provider
	policy    *resilience.Policy
	limiter   *resilience.RateLimiter
	breakers  *resilience.ProviderBreakers
	timeout   time.Duration

	memoize bool
	group   singleflight.Group
	mu      sync.RWMutex
	memo    map[string]tierOutcome
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithBreakers skips providers whose circuit is open.
func WithBreakers(pb *resilience.ProviderBreakers) OrchestratorOption {
	return func(o *Orchestrator) {
		o.breakers = pb
	}
}

// WithTimeout sets the per-call provider timeout.
func WithTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMemo reuses tier outcomes for repeated queries within the run.
func WithMemo(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.memoize = enabled
	}
}

// NewOrchestrator creates an Orchestrator trying providers in the given
// order.
func NewOrchestrator(providers []geocode.Provider, policy *resilience.Policy, limiter *resilience.RateLimiter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		policy:    policy,
		limiter:   limiter,
		timeout:   geocode.DefaultTimeout,
		memo:      make(map[string]tierOutcome),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolve runs the state machine for one record. The returned error is
// non-nil only when a provider reported a fatal configuration problem; every
// other failure is folded into the result.
func (o *Orchestrator) Resolve(ctx context.Context, rec model.RawRecord, addr model.NormalizedAddress) (model.GeocodeResult, error) {
	res := model.GeocodeResult{
		RecordID:     rec.ID,
		Index:        rec.Index,
		Address:      addr.FullQuery,
		PostalCode:   addr.PostalCode,
		Municipality: addr.Municipality,
		Method:       model.MethodUnresolved,
		Status:       model.StatusFailed,
		Attempts:     []model.GeocodeAttempt{},
	}

	state := Transition(StateStart, EventBegin, addr)
	for !state.Terminal() {
		query := addr.FullQuery
		if state == StateTryPostalCode {
			query = addr.PostalQuery
		}
		if query == "" {
			state = Transition(state, EventSkipped, addr)
			continue
		}

		out, cached, err := o.tier(ctx, query)
		res.Attempts = append(res.Attempts, out.attempts...)
		if err != nil {
			return res, err
		}
		if cached {
			res.Cached = true
		}

		if out.hit() {
			res.Method = methodFor(state)
			res.Status = model.StatusSuccess
			res.Provider = out.provider
			c := *out.coords
			res.Coordinates = &c
			state = Transition(state, EventHit, addr)
			continue
		}
		state = Transition(state, EventExhausted, addr)
	}

	zap.L().Debug("pipeline: record resolved",
		zap.String("record_id", res.RecordID),
		zap.String("method", string(res.Method)),
		zap.String("status", string(res.Status)),
		zap.String("provider", res.Provider),
		zap.Int("attempts", len(res.Attempts)),
	)
	return res, nil
}

// tier returns the outcome for query, consulting the memo first. cached is
// true when the outcome was produced for an earlier or concurrent caller.
func (o *Orchestrator) tier(ctx context.Context, query string) (tierOutcome, bool, error) {
	if !o.memoize {
		out, err := o.runTier(ctx, query)
		return out, false, err
	}

	o.mu.RLock()
	out, ok := o.memo[query]
	o.mu.RUnlock()
	if ok {
		return out.clone(), true, nil
	}

	var executed bool
	v, err, _ := o.group.Do(query, func() (any, error) {
		executed = true
		out, err := o.runTier(ctx, query)
		if err == nil && !out.degraded {
			o.mu.Lock()
			o.memo[query] = out
			o.mu.Unlock()
		}
		return out, err
	})
	out = v.(tierOutcome)
	if executed {
		return out, false, err
	}
	return out.clone(), true, err
}

// runTier walks the providers in priority order, stopping at the first ok.
func (o *Orchestrator) runTier(ctx context.Context, query string) (tierOutcome, error) {
	var out tierOutcome
	for _, p := range o.providers {
		name := p.Name()

		var cb *resilience.CircuitBreaker
		if o.breakers != nil {
			cb = o.breakers.Get(name)
			if err := cb.Allow(); err != nil {
				out.attempts = append(out.attempts, model.GeocodeAttempt{
					Provider: name,
					Query:    query,
					Status:   model.AttemptTransientError,
					Message:  "circuit open",
					Err:      err,
				})
				out.degraded = true
				continue
			}
		}

		attempts := o.policy.Execute(ctx, func(ctx context.Context, _ int) model.GeocodeAttempt {
			if err := o.limiter.Acquire(ctx); err != nil {
				return model.GeocodeAttempt{
					Provider: name,
					Query:    query,
					Status:   model.AttemptTransientError,
					Message:  err.Error(),
					Err:      err,
				}
			}
			return p.Geocode(ctx, query, o.timeout)
		})
		out.attempts = append(out.attempts, attempts...)

		last := attempts[len(attempts)-1]
		if cb != nil {
			cb.Record(last.Status)
		}

		switch last.Status {
		case model.AttemptOK:
			if last.Coordinates == nil {
				// An ok without a coordinate pair is unusable.
				continue
			}
			out.provider = name
			out.coords = last.Coordinates
			return out, nil
		case model.AttemptFatalError:
			return out, fatalFrom(name, last)
		case model.AttemptTransientError:
			out.degraded = true
		}
	}
	return out, nil
}

func fatalFrom(provider string, a model.GeocodeAttempt) error {
	if a.Err != nil && resilience.IsFatalConfig(a.Err) {
		return eris.Wrapf(a.Err, "pipeline: provider %s", provider)
	}
	return resilience.FatalConfig("pipeline: provider %s: %s", provider, a.Message)
}

func (t tierOutcome) clone() tierOutcome {
	out := t
	out.attempts = append([]model.GeocodeAttempt(nil), t.attempts...)
	if t.coords != nil {
		c := *t.coords
		out.coords = &c
	}
	return out
}
