package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// DefaultNominatimURL is the public OpenStreetMap Nominatim instance.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// Nominatim geocodes via the OpenStreetMap Nominatim search API.
type Nominatim struct {
	*base
}

// NewNominatim creates a Nominatim provider rooted at baseURL.
func NewNominatim(baseURL string, opts ...Option) (*Nominatim, error) {
	b, err := newBase(ProviderNominatim, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Nominatim{base: b}, nil
}

// Name implements Provider.
func (n *Nominatim) Name() string { return n.name }

// Geocode implements Provider.
func (n *Nominatim) Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt {
	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if n.countryCode != "" {
		params.Set("countrycodes", n.countryCode)
	}
	return n.call(ctx, query, n.resolve("/search", params), timeout, parseNominatim)
}

func parseNominatim(body []byte) (*model.Coordinates, error) {
	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(places) == 0 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lat")
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lon")
	}
	return &model.Coordinates{Latitude: lat, Longitude: lon}, nil
}
