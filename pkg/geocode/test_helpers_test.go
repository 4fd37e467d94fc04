package geocode

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// capturedRequest records the last request seen by a fake provider server.
type capturedRequest struct {
	mu     sync.Mutex
	path   string
	query  url.Values
	header http.Header
	calls  int
}

func (c *capturedRequest) snapshot() (string, url.Values, http.Header, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path, c.query, c.header, c.calls
}

// newFakeServer starts a server that answers every request with status and
// body, recording what it was asked.
func newFakeServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.mu.Lock()
		captured.path = r.URL.Path
		captured.query = r.URL.Query()
		captured.header = r.Header.Clone()
		captured.calls++
		captured.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

// vitoria is a point in Vitória, inside the Espírito Santo box.
const (
	vitoriaLat = -20.3155
	vitoriaLon = -40.3128
)
