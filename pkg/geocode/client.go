// Package geocode provides free-text geocoding against public providers
// (Nominatim, Photon, ArcGIS). Every call yields a model.GeocodeAttempt whose
// status tells the caller whether to stop, retry, or fall through to the next
// provider.
package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cnpj-geocoder/internal/model"
	"github.com/sells-group/cnpj-geocoder/internal/resilience"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	// Geocode resolves a free-text query to at most one coordinate pair.
	// It never returns a Go error: failures are encoded in the attempt status.
	Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt
}

// Bounds is a latitude/longitude box used to reject implausible hits.
type Bounds struct {
	MinLat float64 `mapstructure:"min_lat" yaml:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat" yaml:"max_lat"`
	MinLon float64 `mapstructure:"min_lon" yaml:"min_lon"`
	MaxLon float64 `mapstructure:"max_lon" yaml:"max_lon"`
}

// EspiritoSanto is a box enclosing the state of Espírito Santo.
var EspiritoSanto = Bounds{MinLat: -22, MaxLat: -17, MinLon: -42, MaxLon: -38}

// Contains reports whether c lies inside the box, edges included.
func (b Bounds) Contains(c model.Coordinates) bool {
	return c.Latitude >= b.MinLat && c.Latitude <= b.MaxLat &&
		c.Longitude >= b.MinLon && c.Longitude <= b.MaxLon
}

// Valid reports whether the box has a positive extent.
func (b Bounds) Valid() bool {
	return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon
}

// Option configures a provider.
type Option func(*base)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(b *base) {
		if hc != nil {
			b.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(b *base) {
		if ua != "" {
			b.userAgent = ua
		}
	}
}

// WithBounds rejects coordinates outside box as no-match.
func WithBounds(box Bounds) Option {
	return func(b *base) {
		b.bounds = &box
	}
}

// WithCountryCode restricts searches to an ISO 3166-1 alpha-2 country where
// the provider supports it.
func WithCountryCode(cc string) Option {
	return func(b *base) {
		b.countryCode = strings.ToLower(strings.TrimSpace(cc))
	}
}

// WithMinScore sets the minimum candidate score accepted by providers that
// report one (ArcGIS).
func WithMinScore(score float64) Option {
	return func(b *base) {
		b.minScore = score
	}
}

const defaultUserAgent = "cnpj-geocoder/1.0"

// base holds the HTTP plumbing shared by all providers.
type base struct {
	name        string
	endpoint    *url.URL
	httpClient  *http.Client
	userAgent   string
	bounds      *Bounds
	countryCode string
	minScore    float64
}

func newBase(name, rawURL string, opts ...Option) (*base, error) {
	endpoint, err := parseEndpoint(name, rawURL)
	if err != nil {
		return nil, err
	}
	b := &base{
		name:       name,
		endpoint:   endpoint,
		httpClient: &http.Client{},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bounds != nil && !b.bounds.Valid() {
		return nil, resilience.FatalConfig("geocode: %s bounds %+v have no extent", name, *b.bounds)
	}
	return b, nil
}

// parseEndpoint validates a provider base URL. A malformed endpoint is a
// fatal configuration error.
func parseEndpoint(name, rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, resilience.FatalConfig("geocode: %s base url %q: %v", name, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, resilience.FatalConfig("geocode: %s base url %q: scheme must be http or https", name, rawURL)
	}
	if u.Host == "" {
		return nil, resilience.FatalConfig("geocode: %s base url %q: missing host", name, rawURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u, nil
}

// resolve joins path onto the endpoint and attaches params.
func (b *base) resolve(path string, params url.Values) string {
	u := *b.endpoint
	u.Path += path
	u.RawQuery = params.Encode()
	return u.String()
}

// candidateError is returned by a parser when the provider answered with an
// in-band error object instead of candidates.
type candidateError struct {
	Code    int
	Message string
}

func (e *candidateError) Error() string {
	return e.Message
}

// parseFunc extracts the top candidate from a response body. A nil result
// with a nil error means the provider found nothing.
type parseFunc func(body []byte) (*model.Coordinates, error)

// call performs one GET and classifies the outcome.
func (b *base) call(ctx context.Context, query, reqURL string, timeout time.Duration, parse parseFunc) model.GeocodeAttempt {
	start := time.Now()
	a := b.do(ctx, query, reqURL, timeout, parse)
	a.Provider = b.name
	a.Query = query
	a.Latency = time.Since(start)

	zap.L().Debug("geocode: provider call",
		zap.String("provider", b.name),
		zap.String("query", query),
		zap.String("status", string(a.Status)),
		zap.Int("http_status", a.HTTPStatus),
		zap.Duration("latency", a.Latency),
	)
	return a
}

func (b *base) do(ctx context.Context, query, reqURL string, timeout time.Duration, parse parseFunc) model.GeocodeAttempt {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return failed(model.AttemptFatalError, resilience.FatalConfig("geocode: %s build request: %v", b.name, err))
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return failed(resilience.ClassifyTransportError(err),
			resilience.NewTransientError(eris.Wrapf(err, "geocode: %s request", b.name), 0))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		a := failed(model.AttemptTransientError,
			resilience.NewTransientError(eris.Wrapf(err, "geocode: %s read body", b.name), resp.StatusCode))
		a.HTTPStatus = resp.StatusCode
		return a
	}

	if status := resilience.ClassifyHTTPStatus(resp.StatusCode); status != model.AttemptOK {
		a := statusAttempt(b.name, status, resp.StatusCode)
		a.HTTPStatus = resp.StatusCode
		return a
	}

	coords, err := parse(body)
	if err != nil {
		var ce *candidateError
		if errors.As(err, &ce) {
			status := resilience.ClassifyHTTPStatus(ce.Code)
			if status == model.AttemptOK {
				status = model.AttemptNoMatch
			}
			a := statusAttempt(b.name, status, ce.Code)
			a.HTTPStatus = resp.StatusCode
			a.Message = ce.Message
			return a
		}
		return model.GeocodeAttempt{
			Status:     model.AttemptNoMatch,
			HTTPStatus: resp.StatusCode,
			Message:    "unparseable response: " + err.Error(),
		}
	}
	if coords == nil {
		return model.GeocodeAttempt{Status: model.AttemptNoMatch, HTTPStatus: resp.StatusCode, Message: "no candidate"}
	}
	if b.bounds != nil && !b.bounds.Contains(*coords) {
		return model.GeocodeAttempt{Status: model.AttemptNoMatch, HTTPStatus: resp.StatusCode, Message: "candidate outside bounds"}
	}
	return model.GeocodeAttempt{Status: model.AttemptOK, HTTPStatus: resp.StatusCode, Coordinates: coords}
}

func failed(status model.AttemptStatus, err error) model.GeocodeAttempt {
	return model.GeocodeAttempt{Status: status, Err: err, Message: err.Error()}
}

func statusAttempt(name string, status model.AttemptStatus, code int) model.GeocodeAttempt {
	if status == model.AttemptTransientError {
		return failed(status, resilience.NewTransientError(eris.Errorf("geocode: %s returned status %d", name, code), code))
	}
	return model.GeocodeAttempt{Status: status, Message: http.StatusText(code)}
}
