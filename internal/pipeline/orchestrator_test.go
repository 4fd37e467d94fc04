package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
	"github.com/sells-group/cnpj-geocoder/pkg/geocode"
)

func TestResolve_FullAddressFirstProvider(t *testing.T) {
	r := rec(1, "SANTOS NEVES", "104", "29730000")
	q := fullQuery("SANTOS NEVES", "104")

	nom := newFakeProvider("nominatim", nil).on(q, model.AttemptOK)
	pho := newFakeProvider("photon", nil)
	arc := newFakeProvider("arcgis", nil)

	o := testOrchestrator(providerList(nom, pho, arc))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodFullAddress, res.Method)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "nominatim", res.Provider)
	require.NotNil(t, res.Coordinates)
	assert.Equal(t, q, res.Address)
	assert.Equal(t, "29730000", res.PostalCode)
	assert.Equal(t, r.ID, res.RecordID)
	assert.Len(t, res.Attempts, 1)
	assert.Zero(t, pho.totalCalls())
	assert.Zero(t, arc.totalCalls())
}

func TestResolve_PostalFallback(t *testing.T) {
	// All providers miss the street address; Nominatim finds the postal code.
	r := rec(2, "INEXISTENTE", "1", "29730000")
	full := fullQuery("INEXISTENTE", "1")
	postal := postalQuery("29730000")

	providers := make([]*mockProvider, 3)
	for i, name := range []string{"nominatim", "photon", "arcgis"} {
		p := &mockProvider{name: name}
		p.On("Geocode", mock.Anything, full, mock.Anything).
			Return(model.GeocodeAttempt{Status: model.AttemptNoMatch}).Once()
		providers[i] = p
	}
	providers[0].On("Geocode", mock.Anything, postal, mock.Anything).
		Return(model.GeocodeAttempt{
			Status:      model.AttemptOK,
			Coordinates: &model.Coordinates{Latitude: -19.53, Longitude: -40.63},
		}).Once()

	o := testOrchestrator([]geocode.Provider{providers[0], providers[1], providers[2]})
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodPostalCode, res.Method)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "nominatim", res.Provider)
	assert.InDelta(t, -19.53, res.Coordinates.Latitude, 1e-9)
	require.Len(t, res.Attempts, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, full, res.Attempts[i].Query)
	}
	assert.Equal(t, postal, res.Attempts[3].Query)

	for _, p := range providers {
		p.AssertExpectations(t)
	}
	providers[1].AssertNotCalled(t, "Geocode", mock.Anything, postal, mock.Anything)
}

func TestResolve_AllTransientUnresolved(t *testing.T) {
	r := rec(3, "QUEDA", "7", "29100000")
	full := fullQuery("QUEDA", "7")
	postal := postalQuery("29100000")

	var ps []*fakeProvider
	for _, name := range []string{"nominatim", "photon", "arcgis"} {
		ps = append(ps, newFakeProvider(name, nil).
			on(full, model.AttemptTransientError).
			on(postal, model.AttemptTransientError))
	}

	o := testOrchestrator(providerList(ps...))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodUnresolved, res.Method)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Nil(t, res.Coordinates)
	assert.Empty(t, res.Provider)
	// Three providers, two queries, three tries each.
	assert.Len(t, res.Attempts, 18)
	for _, p := range ps {
		assert.Equal(t, 3, p.callCount(full), p.name)
		assert.Equal(t, 3, p.callCount(postal), p.name)
	}
}

func TestResolve_NoPostalQuerySkipsPostalTier(t *testing.T) {
	r := rec(4, "SEM CEP", "5", "ABC12")
	full := fullQuery("SEM CEP", "5")

	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptNoMatch)
	pho := newFakeProvider("photon", nil).on(full, model.AttemptNoMatch)

	o := testOrchestrator(providerList(nom, pho))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodUnresolved, res.Method)
	assert.Len(t, res.Attempts, 2)
	for _, a := range res.Attempts {
		assert.Equal(t, full, a.Query)
	}
	assert.Equal(t, 1, nom.totalCalls())
	assert.Equal(t, 1, pho.totalCalls())
}

func TestResolve_NoFullQueryStartsAtPostal(t *testing.T) {
	r := rec(5, "", "", "29010002")
	postal := postalQuery("29010002")

	nom := newFakeProvider("nominatim", nil).on(postal, model.AttemptNoMatch)
	pho := newFakeProvider("photon", nil).on(postal, model.AttemptOK)

	o := testOrchestrator(providerList(nom, pho))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodPostalCode, res.Method)
	assert.Equal(t, "photon", res.Provider)
	assert.Empty(t, res.Address)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, postal, res.Attempts[0].Query)
}

func TestResolve_NothingToTry(t *testing.T) {
	r := rec(6, "", "", "")
	nom := newFakeProvider("nominatim", nil)

	o := testOrchestrator(providerList(nom))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.MethodUnresolved, res.Method)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Empty(t, res.Attempts)
	assert.NotNil(t, res.Attempts)
	assert.Zero(t, nom.totalCalls())
}

func TestResolve_TransientThenOKOnSameProvider(t *testing.T) {
	r := rec(7, "VOLTA", "2", "")
	full := fullQuery("VOLTA", "2")

	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptTransientError, model.AttemptOK)
	pho := newFakeProvider("photon", nil)

	o := testOrchestrator(providerList(nom, pho))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, "nominatim", res.Provider)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, 1, res.Attempts[0].Try)
	assert.Equal(t, 2, res.Attempts[1].Try)
	assert.Zero(t, pho.totalCalls())
}

func TestResolve_RetryCeilingPerProviderQuery(t *testing.T) {
	r := rec(8, "TETO", "3", "")
	full := fullQuery("TETO", "3")

	for _, ceiling := range []int{1, 2, 4} {
		nom := newFakeProvider("nominatim", nil).on(full, model.AttemptTransientError)
		o := NewOrchestrator(providerList(nom), testPolicy(ceiling), resilience.NewRateLimiter(0))

		res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
		require.NoError(t, err)
		assert.Equal(t, ceiling, nom.callCount(full))
		assert.Len(t, res.Attempts, ceiling)
	}
}

func TestResolve_FatalAbortsRecord(t *testing.T) {
	r := rec(9, "RUIM", "1", "29000000")
	full := fullQuery("RUIM", "1")

	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptFatalError)
	pho := newFakeProvider("photon", nil)

	o := testOrchestrator(providerList(nom, pho))
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))

	require.Error(t, err)
	assert.True(t, resilience.IsFatalConfig(err))
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 1, nom.callCount(full), "fatal errors are not retried")
	assert.Zero(t, pho.totalCalls())
}

func TestResolve_OKWithoutCoordinatesFallsThrough(t *testing.T) {
	r := rec(10, "VAZIO", "1", "")
	full := fullQuery("VAZIO", "1")

	bare := &mockProvider{name: "nominatim"}
	bare.On("Geocode", mock.Anything, full, mock.Anything).Return(model.GeocodeAttempt{Status: model.AttemptOK})
	pho := newFakeProvider("photon", nil).on(full, model.AttemptOK)

	o := testOrchestrator([]geocode.Provider{bare, pho})
	res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)
	assert.Equal(t, "photon", res.Provider)
}

func TestResolve_BreakerSkipsOpenProvider(t *testing.T) {
	full1 := fullQuery("UM", "1")
	full2 := fullQuery("DOIS", "2")

	nom := newFakeProvider("nominatim", nil).
		on(full1, model.AttemptTransientError).
		on(full2, model.AttemptTransientError)
	pho := newFakeProvider("photon", nil).on(full1, model.AttemptOK).on(full2, model.AttemptOK)

	breakers := resilience.NewProviderBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	o := testOrchestrator(providerList(nom, pho), WithBreakers(breakers))

	r1 := rec(11, "UM", "1", "")
	res1, err := o.Resolve(context.Background(), r1, testBuilder().Build(r1))
	require.NoError(t, err)
	assert.Equal(t, "photon", res1.Provider)
	assert.Equal(t, 3, nom.callCount(full1))

	r2 := rec(12, "DOIS", "2", "")
	res2, err := o.Resolve(context.Background(), r2, testBuilder().Build(r2))
	require.NoError(t, err)
	assert.Equal(t, "photon", res2.Provider)
	assert.Zero(t, nom.callCount(full2), "open breaker must skip the provider")
	require.Len(t, res2.Attempts, 2)
	assert.Equal(t, model.AttemptTransientError, res2.Attempts[0].Status)
	assert.Equal(t, "circuit open", res2.Attempts[0].Message)
	assert.Zero(t, res2.Attempts[0].Try)
}

func TestResolve_MemoReusesOutcome(t *testing.T) {
	full := fullQuery("REPETIDA", "9")

	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptNoMatch)
	pho := newFakeProvider("photon", nil).on(full, model.AttemptOK)

	o := testOrchestrator(providerList(nom, pho), WithMemo(true))

	r1 := rec(13, "REPETIDA", "9", "")
	r2 := rec(14, "REPETIDA", "9", "")
	res1, err := o.Resolve(context.Background(), r1, testBuilder().Build(r1))
	require.NoError(t, err)
	res2, err := o.Resolve(context.Background(), r2, testBuilder().Build(r2))
	require.NoError(t, err)

	assert.False(t, res1.Cached)
	assert.True(t, res2.Cached)
	assert.Equal(t, res1.Coordinates, res2.Coordinates)
	assert.NotSame(t, res1.Coordinates, res2.Coordinates)
	assert.Equal(t, res1.Attempts, res2.Attempts)
	assert.Equal(t, 1, nom.callCount(full))
	assert.Equal(t, 1, pho.callCount(full))
}

func TestResolve_MemoSkipsDegradedOutcome(t *testing.T) {
	full := fullQuery("INSTAVEL", "1")

	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptTransientError)
	o := NewOrchestrator(providerList(nom), testPolicy(1), resilience.NewRateLimiter(0), WithMemo(true))

	r := rec(15, "INSTAVEL", "1", "")
	for i := 0; i < 2; i++ {
		res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, 2, nom.callCount(full))
}

func TestResolve_MemoCoalescesConcurrentQueries(t *testing.T) {
	full := fullQuery("SIMULTANEA", "1")

	release := make(chan time.Time)
	slow := &mockProvider{name: "nominatim"}
	slow.On("Geocode", mock.Anything, full, mock.Anything).
		WaitUntil(release).
		Return(model.GeocodeAttempt{Status: model.AttemptOK, Coordinates: &model.Coordinates{Latitude: -20, Longitude: -40}})

	o := testOrchestrator([]geocode.Provider{slow}, WithMemo(true))

	var wg sync.WaitGroup
	results := make([]model.GeocodeResult, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := rec(100+i, "SIMULTANEA", "1", "")
			res, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	var cached int
	for _, res := range results {
		assert.Equal(t, model.StatusSuccess, res.Status)
		if res.Cached {
			cached++
		}
	}
	assert.Equal(t, 4, cached)
	slow.AssertNumberOfCalls(t, "Geocode", 1)
}

func TestResolve_UsesRateLimiter(t *testing.T) {
	full := fullQuery("LIMITE", "1")
	nom := newFakeProvider("nominatim", nil).on(full, model.AttemptNoMatch)
	pho := newFakeProvider("photon", nil).on(full, model.AttemptNoMatch)

	limiter := resilience.NewRateLimiter(0)
	o := NewOrchestrator(providerList(nom, pho), testPolicy(3), limiter)

	r := rec(16, "LIMITE", "1", "")
	_, err := o.Resolve(context.Background(), r, testBuilder().Build(r))
	require.NoError(t, err)
	assert.Equal(t, int64(2), limiter.Granted())
}
