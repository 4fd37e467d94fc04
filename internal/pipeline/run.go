package pipeline

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/cnpj-geocoder/internal/address"
	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// MinSample is the smallest sample a run accepts.
const MinSample = 10

// DefaultSeed is the seed the CLI and HTTP API use when none is given.
const DefaultSeed int64 = 42

// Mode selects which records a run resolves. A zero Sample means all.
// Seed is used as given; zero is a valid seed.
type Mode struct {
	Sample int
	Seed   int64
}

// ErrInvalidSample is returned when a sample size is out of range.
var ErrInvalidSample = eris.New("invalid sample size")

// ProgressFunc observes a run after each record completes.
type ProgressFunc func(processed int, summary model.Summary)

// SelectRecords returns the records a run will resolve. A sample is drawn
// uniformly with the mode's seed and kept in input order.
func SelectRecords(records []model.RawRecord, mode Mode) ([]model.RawRecord, error) {
	if mode.Sample == 0 {
		return records, nil
	}
	if mode.Sample < MinSample || mode.Sample > len(records) {
		return nil, eris.Wrapf(ErrInvalidSample, "sample %d must be between %d and %d", mode.Sample, MinSample, len(records))
	}

	rng := rand.New(rand.NewPCG(uint64(mode.Seed), uint64(mode.Seed)))
	picked := rng.Perm(len(records))[:mode.Sample]
	sort.Ints(picked)

	out := make([]model.RawRecord, len(picked))
	for i, idx := range picked {
		out[i] = records[idx]
	}
	return out, nil
}

// Runner resolves a record set with a bounded pool of concurrent flows.
type Runner struct {
	builder  *address.Builder
	orch     *Orchestrator
	workers  int
	progress ProgressFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithWorkers bounds how many record flows run at once.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithProgress registers an observer called after each record.
func WithProgress(fn ProgressFunc) RunnerOption {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner creates a Runner.
func NewRunner(builder *address.Builder, orch *Orchestrator, opts ...RunnerOption) *Runner {
	r := &Runner{
		builder: builder,
		orch:    orch,
		workers: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resolves the selected records. Cancelling ctx stops new flows from
// starting; flows already started finish and their results are kept. The
// returned ResultSet holds every completed record in input order. A fatal
// configuration error aborts the run and is returned with the partial set.
func (r *Runner) Run(ctx context.Context, records []model.RawRecord, mode Mode) (*model.ResultSet, error) {
	selected, err := SelectRecords(records, mode)
	if err != nil {
		return nil, err
	}

	rs := &model.ResultSet{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Requested: len(selected),
	}
	log := zap.L().With(zap.String("run_id", rs.RunID))
	log.Info("pipeline: run starting",
		zap.Int("records", len(selected)),
		zap.Int("available", len(records)),
		zap.Int("workers", r.workers),
	)

	agg := NewAggregator(len(selected))

	// In-flight flows must not observe host cancellation.
	flowCtx := context.WithoutCancel(ctx)
	g, gCtx := errgroup.WithContext(flowCtx)
	g.SetLimit(r.workers)

	stopped := func() bool {
		return ctx.Err() != nil || gCtx.Err() != nil
	}

	for pos, rec := range selected {
		if stopped() {
			break
		}
		g.Go(func() error {
			// Checkpoint again: Go may have waited for a free worker.
			if stopped() {
				return nil
			}
			addr := r.builder.Build(rec)
			res, resolveErr := r.orch.Resolve(flowCtx, rec, addr)
			if resolveErr != nil {
				return resolveErr
			}
			processed, summary, accErr := agg.Accumulate(pos, res)
			if accErr != nil {
				return accErr
			}
			if r.progress != nil {
				r.progress(processed, summary)
			}
			return nil
		})
	}

	runErr := g.Wait()

	rs.Results = agg.Results()
	rs.Summary = agg.Summary()
	if r.orch.memoize {
		rs.Summary = markCached(rs.Results)
	}
	rs.FinishedAt = time.Now().UTC()
	rs.Cancelled = ctx.Err() != nil && len(rs.Results) < rs.Requested

	if runErr != nil {
		log.Error("pipeline: run aborted", zap.Int("processed", len(rs.Results)), zap.Error(runErr))
		return rs, eris.Wrap(runErr, "pipeline: run")
	}

	log.Info("pipeline: run complete",
		zap.Int("processed", rs.Summary.Total),
		zap.Int("succeeded", rs.Summary.Succeeded),
		zap.Int("failed", rs.Summary.Failed),
		zap.Int("cached", rs.Summary.Cached),
		zap.Float64("success_rate", rs.Summary.SuccessRate()),
		zap.Bool("cancelled", rs.Cancelled),
		zap.Duration("elapsed", rs.FinishedAt.Sub(rs.StartedAt)),
	)
	return rs, nil
}

// markCached sets Cached on results in input order: a result is cached when
// it reused a complete tier outcome whose query an earlier record already
// resolved. Which concurrent flow actually made the calls does not matter.
// It returns the summary recounted over results.
func markCached(results []model.GeocodeResult) model.Summary {
	seen := make(map[string]bool)
	summary := model.NewSummary()
	for i := range results {
		r := &results[i]
		r.Cached = false
		for _, q := range reusableQueries(r.Attempts) {
			if seen[q] {
				r.Cached = true
			}
			seen[q] = true
		}
		summary.Add(*r)
	}
	return summary
}

// reusableQueries returns, in tier order, the queries whose outcome the memo
// would keep: no provider ended on a transient error.
func reusableQueries(attempts []model.GeocodeAttempt) []string {
	var order []string
	last := make(map[string]map[string]model.AttemptStatus)
	for _, a := range attempts {
		byProvider, ok := last[a.Query]
		if !ok {
			byProvider = make(map[string]model.AttemptStatus)
			last[a.Query] = byProvider
			order = append(order, a.Query)
		}
		byProvider[a.Provider] = a.Status
	}

	var out []string
	for _, q := range order {
		degraded := false
		for _, st := range last[q] {
			if st == model.AttemptTransientError {
				degraded = true
			}
		}
		if !degraded {
			out = append(out, q)
		}
	}
	return out
}
