package geocode

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// DefaultPhotonURL is the public Komoot Photon instance.
const DefaultPhotonURL = "https://photon.komoot.io"

// Photon geocodes via the Komoot Photon API, which answers with a GeoJSON
// FeatureCollection.
type Photon struct {
	*base
}

// NewPhoton creates a Photon provider rooted at baseURL.
func NewPhoton(baseURL string, opts ...Option) (*Photon, error) {
	b, err := newBase(ProviderPhoton, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Photon{base: b}, nil
}

// Name implements Provider.
func (p *Photon) Name() string { return p.name }

// Geocode implements Provider. Photon has no country filter, so results are
// only constrained by the bounds check.
func (p *Photon) Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt {
	params := url.Values{
		"q":     {query},
		"limit": {"1"},
	}
	return p.call(ctx, query, p.resolve("/api", params), timeout, parsePhoton)
}

func parsePhoton(body []byte) (*model.Coordinates, error) {
	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(body); err != nil {
		return nil, eris.Wrap(err, "geocode: photon parse response")
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt.Empty() {
			continue
		}
		return &model.Coordinates{Latitude: pt.Y(), Longitude: pt.X()}, nil
	}
	return nil, nil
}
