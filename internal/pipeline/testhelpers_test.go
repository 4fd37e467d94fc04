package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/cnpj-geocoder/internal/address"
	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
	"github.com/sells-group/cnpj-geocoder/pkg/geocode"
)

// --- Provider Mock ---

type mockProvider struct {
	mock.Mock
	name string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt {
	args := m.Called(ctx, query, timeout)
	a := args.Get(0).(model.GeocodeAttempt)
	a.Provider = m.name
	a.Query = query
	return a
}

// --- Scripted Provider ---

// fakeProvider answers each query from a script; queries with no script get
// no-match. It records every call with its wall-clock time.
type fakeProvider struct {
	name string

	mu     sync.Mutex
	script map[string][]model.AttemptStatus
	coords map[string]model.Coordinates
	calls  map[string]int
	times  *callLog
}

type callLog struct {
	mu    sync.Mutex
	times []time.Time
	order []string
}

func (l *callLog) add(provider, query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.times = append(l.times, time.Now())
	l.order = append(l.order, provider+"|"+query)
}

func (l *callLog) snapshot() ([]time.Time, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.times...), append([]string(nil), l.order...)
}

func newFakeProvider(name string, log *callLog) *fakeProvider {
	return &fakeProvider{
		name:   name,
		script: make(map[string][]model.AttemptStatus),
		coords: make(map[string]model.Coordinates),
		calls:  make(map[string]int),
		times:  log,
	}
}

// on scripts successive statuses for a query. The last status repeats.
func (f *fakeProvider) on(query string, statuses ...model.AttemptStatus) *fakeProvider {
	f.script[query] = statuses
	return f
}

func (f *fakeProvider) at(query string, c model.Coordinates) *fakeProvider {
	f.coords[query] = c
	return f
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Geocode(_ context.Context, query string, _ time.Duration) model.GeocodeAttempt {
	f.mu.Lock()
	n := f.calls[query]
	f.calls[query] = n + 1
	statuses := f.script[query]
	c, hasCoords := f.coords[query]
	f.mu.Unlock()

	if f.times != nil {
		f.times.add(f.name, query)
	}

	status := model.AttemptNoMatch
	if len(statuses) > 0 {
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		status = statuses[n]
	}

	a := model.GeocodeAttempt{Provider: f.name, Query: query, Status: status}
	switch status {
	case model.AttemptOK:
		if !hasCoords {
			c = model.Coordinates{Latitude: -20.3155, Longitude: -40.3128}
		}
		a.Coordinates = &c
	case model.AttemptTransientError:
		a.Err = resilience.NewTransientError(fmt.Errorf("%s unavailable", f.name), 503)
		a.Message = a.Err.Error()
	case model.AttemptFatalError:
		a.Err = resilience.FatalConfig("%s endpoint rejected", f.name)
		a.Message = a.Err.Error()
	}
	return a
}

func (f *fakeProvider) callCount(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func (f *fakeProvider) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		n += c
	}
	return n
}

// --- Builders ---

// testPolicy retries without sleeping.
func testPolicy(maxAttempts int) *resilience.Policy {
	return resilience.NewPolicy(resilience.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Microsecond,
		MaxBackoff:     time.Microsecond,
	})
}

func testOrchestrator(providers []geocode.Provider, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(providers, testPolicy(3), resilience.NewRateLimiter(0), opts...)
}

func testBuilder() *address.Builder {
	return address.NewBuilder(model.DefaultFieldMap())
}

func providerList(ps ...*fakeProvider) []geocode.Provider {
	out := make([]geocode.Provider, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

// rec builds a record with a street address and a postal code.
func rec(i int, street, number, cep string) model.RawRecord {
	fields := map[string]string{"V1": fmt.Sprintf("%014d", i)}
	if street != "" {
		fields["V14"] = "RUA"
		fields["V15"] = street
	}
	if number != "" {
		fields["V16"] = number
	}
	if cep != "" {
		fields["V19"] = cep
	}
	return model.RawRecord{ID: fields["V1"], Index: i, Fields: fields}
}

func fullQuery(street, number string) string {
	q := "RUA " + street
	if number != "" {
		q += ", " + number
	}
	return q + address.DefaultSuffix
}

func postalQuery(cep string) string {
	return "CEP " + cep + address.DefaultSuffix
}

func records(n int) []model.RawRecord {
	out := make([]model.RawRecord, n)
	for i := range out {
		out[i] = rec(i, fmt.Sprintf("STREET %d", i), "10", "29000000")
	}
	return out
}

// cancelOnFirstCall cancels the run the first time the wrapped provider is
// called.
type cancelOnFirstCall struct {
	geocode.Provider
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnFirstCall) Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt {
	c.once.Do(c.cancel)
	return c.Provider.Geocode(ctx, query, timeout)
}

func providerListOf(ps ...geocode.Provider) []geocode.Provider {
	return ps
}
