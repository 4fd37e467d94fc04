package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/address"
	"github.com/sells-group/cnpj-geocoder/internal/config"
	"github.com/sells-group/cnpj-geocoder/internal/db"
	"github.com/sells-group/cnpj-geocoder/internal/export"
	"github.com/sells-group/cnpj-geocoder/internal/fetcher"
	"github.com/sells-group/cnpj-geocoder/internal/pipeline"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
	"github.com/sells-group/cnpj-geocoder/pkg/geocode"
)

// newBuilder creates the address builder from config.
func newBuilder(c *config.Config) *address.Builder {
	opts := []address.Option{address.WithSuffix(c.Geocode.Suffix)}
	if len(c.Geocode.Sentinels) > 0 {
		opts = append(opts, address.WithSentinels(c.Geocode.Sentinels...))
	}
	return address.NewBuilder(c.Fields, opts...)
}

// loadOptions maps config onto the record loader.
func loadOptions(c *config.Config) fetcher.LoadOptions {
	return fetcher.LoadOptions{
		Fields: c.Fields,
		Sheet: fetcher.XLSXOptions{
			SheetIndex: c.Input.SheetIndex,
			SheetName:  c.Input.SheetName,
		},
		Delimiter: c.Input.DelimiterRune(),
	}
}

// geocodeDeps holds what resolution runs share: the provider clients, the
// retry policy, one rate limiter and the circuit breakers. Each run gets its
// own orchestrator so the query memo never outlives a run.
type geocodeDeps struct {
	providers []geocode.Provider
	policy    *resilience.Policy
	limiter   *resilience.RateLimiter
	breakers  *resilience.ProviderBreakers
}

// newDeps validates config and builds the shared resolution dependencies.
func newDeps(c *config.Config, extra ...geocode.Option) (*geocodeDeps, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	providers, err := geocode.NewProviders(c.Providers.Order, c.Providers.Endpoints(), append(c.ProviderOptions(), extra...)...)
	if err != nil {
		return nil, err
	}

	retryCfg := c.Retry.Policy()
	retryCfg.OnRetry = resilience.RetryLogger("geocode", "provider request")

	d := &geocodeDeps{
		providers: providers,
		policy:    resilience.NewPolicy(retryCfg),
		limiter:   resilience.NewRateLimiter(c.Geocode.RateInterval()),
	}
	if c.Circuit.Enabled {
		d.breakers = resilience.NewProviderBreakers(c.Circuit.Breaker())
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	zap.L().Debug("geocode: providers ready",
		zap.Strings("providers", names),
		zap.Duration("rate_interval", c.Geocode.RateInterval()),
		zap.Bool("memoize", c.Geocode.Memoize),
		zap.Bool("circuit", c.Circuit.Enabled),
	)
	return d, nil
}

// runner builds a pipeline runner over the shared dependencies. A
// non-positive workers count falls back to config.
func (d *geocodeDeps) runner(c *config.Config, workers int, progress pipeline.ProgressFunc) *pipeline.Runner {
	orchOpts := []pipeline.OrchestratorOption{
		pipeline.WithTimeout(c.Geocode.Timeout()),
		pipeline.WithMemo(c.Geocode.Memoize),
	}
	if d.breakers != nil {
		orchOpts = append(orchOpts, pipeline.WithBreakers(d.breakers))
	}
	orch := pipeline.NewOrchestrator(d.providers, d.policy, d.limiter, orchOpts...)

	if workers <= 0 {
		workers = c.Geocode.Workers
	}
	runOpts := []pipeline.RunnerOption{pipeline.WithWorkers(workers)}
	if progress != nil {
		runOpts = append(runOpts, pipeline.WithProgress(progress))
	}
	return pipeline.NewRunner(newBuilder(c), orch, runOpts...)
}

// exportOptions prepares export targets. The returned cleanup closes any
// database pool that was opened.
func exportOptions(ctx context.Context, c *config.Config, dir string, formats []string, base string) (export.Options, func(), error) {
	parsed, err := export.ParseFormats(formats)
	if err != nil {
		return export.Options{}, func() {}, err
	}
	opts := export.Options{Dir: dir, BaseName: base, Formats: parsed}

	for _, f := range parsed {
		if f != export.FormatPostgres {
			continue
		}
		if c.Export.PostgresURL == "" {
			return opts, func() {}, resilience.FatalConfig("export: postgres format needs export.postgres_url")
		}
		pool, err := db.Open(ctx, c.Export.PostgresURL, 4)
		if err != nil {
			return opts, func() {}, eris.Wrap(err, "export: connect postgres")
		}
		opts.Postgres = export.NewPostgresExporter(pool, c.Export.PostgresTable, resilience.RetryConfig{})
		return opts, pool.Close, nil
	}
	return opts, func() {}, nil
}
