package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

// DefaultArcGISURL is the Esri World GeocodeServer.
const DefaultArcGISURL = "https://geocode.arcgis.com/arcgis/rest/services/World/GeocodeServer"

type arcgisResponse struct {
	Candidates []arcgisCandidate `json:"candidates"`
	Error      *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

type arcgisCandidate struct {
	Address  string `json:"address"`
	Location struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"location"`
	Score float64 `json:"score"`
}

// ArcGIS geocodes via the Esri findAddressCandidates operation.
type ArcGIS struct {
	*base
}

// NewArcGIS creates an ArcGIS provider rooted at baseURL.
func NewArcGIS(baseURL string, opts ...Option) (*ArcGIS, error) {
	b, err := newBase(ProviderArcGIS, baseURL, opts...)
	if err != nil {
		return nil, err
	}
	return &ArcGIS{base: b}, nil
}

// Name implements Provider.
func (a *ArcGIS) Name() string { return a.name }

// Geocode implements Provider.
func (a *ArcGIS) Geocode(ctx context.Context, query string, timeout time.Duration) model.GeocodeAttempt {
	params := url.Values{
		"SingleLine":   {query},
		"f":            {"json"},
		"outSR":        {"4326"},
		"maxLocations": {"1"},
	}
	if a.countryCode != "" {
		params.Set("sourceCountry", strings.ToUpper(a.countryCode))
	}
	return a.call(ctx, query, a.resolve("/findAddressCandidates", params), timeout, a.parse)
}

func (a *ArcGIS) parse(body []byte) (*model.Coordinates, error) {
	var resp arcgisResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: arcgis parse response")
	}
	if resp.Error != nil {
		return nil, &candidateError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	c := resp.Candidates[0]
	if c.Score < a.minScore {
		return nil, nil
	}
	return &model.Coordinates{Latitude: c.Location.Y, Longitude: c.Location.X}, nil
}
