package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/cnpj-geocoder/internal/config"
)

const extractCSV = "V1;V14;V15;V16;V19\n" +
	"001;RUA;SETE DE SETEMBRO;100;29015000\n" +
	"002;;;;29010002\n" +
	"003;;;;\n"

// fakeNominatim answers street queries and CEP queries with points inside
// Espírito Santo and everything else with an empty list.
func fakeNominatim(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query().Get("q")
		var body []map[string]string
		switch {
		case strings.HasPrefix(q, "RUA SETE"):
			body = []map[string]string{{"lat": "-20.3194", "lon": "-40.3378"}}
		case strings.HasPrefix(q, "CEP "):
			body = []map[string]string{{"lat": "-20.3155", "lon": "-40.3128"}}
		default:
			body = []map[string]string{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// chdirTemp moves the test into an empty directory so no config.yaml or .env
// from the repo is picked up.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

// setTestEnv points config at the fake provider with no rate delay.
func setTestEnv(t *testing.T, providerURL string) {
	t.Helper()
	t.Setenv("GEOCODER_PROVIDERS_ORDER", "nominatim")
	t.Setenv("GEOCODER_PROVIDERS_NOMINATIM_BASE_URL", providerURL)
	t.Setenv("GEOCODER_GEOCODE_RATE_INTERVAL_MS", "0")
	t.Setenv("GEOCODER_RETRY_INITIAL_BACKOFF_MS", "1")
	t.Setenv("GEOCODER_LOG_LEVEL", "error")
}

func testConfig(t *testing.T, providerURL string) *config.Config {
	t.Helper()
	chdirTemp(t)
	setTestEnv(t, providerURL)
	c, err := config.Load()
	require.NoError(t, err)
	return c
}

func writeExtract(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "estab.csv")
	require.NoError(t, os.WriteFile(path, []byte(extractCSV), 0o644))
	return path
}
