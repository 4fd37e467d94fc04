package geocode

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cnpj-geocoder/internal/model"
)

func TestNominatimGeocode_Match(t *testing.T) {
	srv, captured := newFakeServer(t, http.StatusOK, `[{
		"lat": "-20.3155",
		"lon": "-40.3128",
		"display_name": "Avenida Jerônimo Monteiro, Vitória, Espírito Santo, Brasil",
		"importance": 0.41
	}]`)

	n, err := NewNominatim(srv.URL, WithUserAgent("test-agent"), WithCountryCode("BR"))
	require.NoError(t, err)

	query := "AVENIDA JERONIMO MONTEIRO, 1000, Espírito Santo, Brasil"
	a := n.Geocode(context.Background(), query, time.Second)

	assert.Equal(t, model.AttemptOK, a.Status)
	assert.Equal(t, "nominatim", a.Provider)
	assert.Equal(t, query, a.Query)
	require.NotNil(t, a.Coordinates)
	assert.InDelta(t, vitoriaLat, a.Coordinates.Latitude, 0.0001)
	assert.InDelta(t, vitoriaLon, a.Coordinates.Longitude, 0.0001)
	assert.Equal(t, http.StatusOK, a.HTTPStatus)
	assert.NoError(t, a.Err)

	path, params, header, calls := captured.snapshot()
	assert.Equal(t, "/search", path)
	assert.Equal(t, query, params.Get("q"))
	assert.Equal(t, "jsonv2", params.Get("format"))
	assert.Equal(t, "1", params.Get("limit"))
	assert.Equal(t, "br", params.Get("countrycodes"))
	assert.Equal(t, "test-agent", header.Get("User-Agent"))
	assert.Equal(t, 1, calls)
}

func TestNominatimGeocode_EmptyList(t *testing.T) {
	srv, _ := newFakeServer(t, http.StatusOK, `[]`)

	n, err := NewNominatim(srv.URL)
	require.NoError(t, err)

	a := n.Geocode(context.Background(), "nowhere", time.Second)
	assert.Equal(t, model.AttemptNoMatch, a.Status)
	assert.Nil(t, a.Coordinates)
}

func TestNominatimGeocode_BadCoordinate(t *testing.T) {
	srv, _ := newFakeServer(t, http.StatusOK, `[{"lat": "north", "lon": "-40.3"}]`)

	n, err := NewNominatim(srv.URL)
	require.NoError(t, err)

	a := n.Geocode(context.Background(), "x", time.Second)
	assert.Equal(t, model.AttemptNoMatch, a.Status)
	assert.Contains(t, a.Message, "unparseable")
}

func TestNominatimGeocode_DefaultUserAgent(t *testing.T) {
	srv, captured := newFakeServer(t, http.StatusOK, `[]`)

	n, err := NewNominatim(srv.URL)
	require.NoError(t, err)
	n.Geocode(context.Background(), "x", time.Second)

	_, params, header, _ := captured.snapshot()
	assert.Equal(t, "cnpj-geocoder/1.0", header.Get("User-Agent"))
	assert.Empty(t, params.Get("countrycodes"))
}

func TestNominatimGeocode_BasePathPreserved(t *testing.T) {
	srv, captured := newFakeServer(t, http.StatusOK, `[]`)

	n, err := NewNominatim(srv.URL + "/osm/")
	require.NoError(t, err)
	n.Geocode(context.Background(), "x", time.Second)

	path, _, _, _ := captured.snapshot()
	assert.Equal(t, "/osm/search", path)
}
