package geocode

import (
	"strings"

	"github.com/sells-group/cnpj-geocoder/internal/resilience"
)

// Provider names, also used as configuration keys.
const (
	ProviderNominatim = "nominatim"
	ProviderPhoton    = "photon"
	ProviderArcGIS    = "arcgis"
)

// DefaultOrder is the fixed priority in which providers are tried.
var DefaultOrder = []string{ProviderNominatim, ProviderPhoton, ProviderArcGIS}

// Endpoint configures one provider.
type Endpoint struct {
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	UserAgent string  `mapstructure:"user_agent" yaml:"user_agent"`
	MinScore  float64 `mapstructure:"min_score" yaml:"min_score"`
}

// DefaultEndpoints returns the public endpoint for every known provider.
func DefaultEndpoints() map[string]Endpoint {
	return map[string]Endpoint{
		ProviderNominatim: {BaseURL: DefaultNominatimURL, UserAgent: defaultUserAgent},
		ProviderPhoton:    {BaseURL: DefaultPhotonURL},
		ProviderArcGIS:    {BaseURL: DefaultArcGISURL},
	}
}

// NewProviders builds providers in the given order. Shared options apply to
// every provider; endpoint-specific settings are layered on top. Unknown or
// duplicate names and malformed endpoints are fatal configuration errors.
func NewProviders(order []string, endpoints map[string]Endpoint, opts ...Option) ([]Provider, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	seen := make(map[string]bool, len(order))
	providers := make([]Provider, 0, len(order))
	for _, raw := range order {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			return nil, resilience.FatalConfig("geocode: provider %q listed twice", name)
		}
		seen[name] = true

		ep, ok := endpoints[name]
		if !ok || ep.BaseURL == "" {
			ep.BaseURL = DefaultEndpoints()[name].BaseURL
		}
		all := append(append([]Option{}, opts...), WithUserAgent(ep.UserAgent), WithMinScore(ep.MinScore))

		var (
			p   Provider
			err error
		)
		switch name {
		case ProviderNominatim:
			p, err = NewNominatim(ep.BaseURL, all...)
		case ProviderPhoton:
			p, err = NewPhoton(ep.BaseURL, all...)
		case ProviderArcGIS:
			p, err = NewArcGIS(ep.BaseURL, all...)
		default:
			return nil, resilience.FatalConfig("geocode: unknown provider %q", raw)
		}
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, nil
}
