package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntreprisesServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "paris-budget", r.URL.Query().Get("mtm_campaign"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocateSIRET(t *testing.T) {
	srv := newEntreprisesServer(t, `{"results": [{"siege": {
		"latitude": "48.8566", "longitude": "2.3522",
		"adresse": "1 PLACE DE L'HOTEL DE VILLE 75004 PARIS",
		"code_postal": "75004", "libelle_commune": "PARIS"
	}}]}`)

	c := NewClient(nil, WithBaseURLs(srv.URL, ""), WithMinInterval(time.Millisecond))
	loc, err := c.LocateSIRET(context.Background(), "2175 0001 6000 19")
	require.NoError(t, err)

	assert.Equal(t, 48.8566, loc.Lat)
	assert.Equal(t, 2.3522, loc.Lon)
	assert.Equal(t, "75004", loc.CodePostal)
	assert.Equal(t, "PARIS", loc.Commune)
}

func TestLocateSIRETRejectsBadInput(t *testing.T) {
	c := NewClient(nil, WithMinInterval(time.Millisecond))

	_, err := c.LocateSIRET(context.Background(), "123")
	assert.ErrorIs(t, err, ErrInvalidSIRET)

	_, err = c.LocateSIRET(context.Background(), "1234567890123X")
	assert.ErrorIs(t, err, ErrInvalidSIRET)
}

func TestLocateSIRETNotFound(t *testing.T) {
	for name, body := range map[string]string{
		"no results":     `{"results": []}`,
		"no coordinates": `{"results": [{"siege": {"adresse": "X"}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := newEntreprisesServer(t, body)
			c := NewClient(nil, WithBaseURLs(srv.URL, ""), WithMinInterval(time.Millisecond))

			_, err := c.LocateSIRET(context.Background(), "21750001600019")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSearchAddressAnchorsQuery(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		w.Write([]byte(`{"features": [{
			"geometry": {"coordinates": [2.3800001234, 48.8600005678]},
			"properties": {"score": 0.9, "label": "12 Rue Exemple 75011 Paris", "postcode": "75011"}
		}]}`))
	}))
	defer srv.Close()

	c := NewClient(nil, WithBaseURLs("", srv.URL), WithMinInterval(time.Millisecond))
	res, err := c.SearchAddress(context.Background(), "12 rue Exemple", 11)
	require.NoError(t, err)

	assert.Equal(t, 48.860001, res.Lat)
	assert.Equal(t, 2.38, res.Lon)
	assert.Equal(t, 0.9, res.Score)
	require.Len(t, queries, 1)
	assert.Equal(t, "12 rue Exemple, 75011 Paris", queries[0])

	// Arrondissements 1-4 share the 75001 postcode.
	_, err = c.SearchAddress(context.Background(), "rue de Rivoli", 3)
	require.NoError(t, err)
	assert.Equal(t, "rue de Rivoli, 75001 Paris", queries[1])

	_, err = c.SearchAddress(context.Background(), "rue sans arrondissement", 0)
	require.NoError(t, err)
	assert.Equal(t, "rue sans arrondissement, Paris", queries[2])
}

func TestSearchAddressFiltersNonParisResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features": [{
			"geometry": {"coordinates": [2.2, 48.9]},
			"properties": {"score": 0.95, "label": "Rue X 92100 Boulogne", "postcode": "92100"}
		}]}`))
	}))
	defer srv.Close()

	c := NewClient(nil, WithBaseURLs("", srv.URL), WithMinInterval(time.Millisecond))
	_, err := c.SearchAddress(context.Background(), "rue X", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchAddressFallsBackToUntypedPass(t *testing.T) {
	var types []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types = append(types, r.URL.Query().Get("type"))
		if r.URL.Query().Get("type") == "housenumber" {
			w.Write([]byte(`{"features": []}`))
			return
		}
		w.Write([]byte(`{"features": [{
			"geometry": {"coordinates": [2.35, 48.85]},
			"properties": {"score": 0.5, "label": "Rue Y 75005 Paris", "postcode": "75005"}
		}]}`))
	}))
	defer srv.Close()

	c := NewClient(nil, WithBaseURLs("", srv.URL), WithMinInterval(time.Millisecond))
	res, err := c.SearchAddress(context.Background(), "rue Y", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"housenumber", ""}, types)
	assert.Equal(t, 0.5, res.Score)
}

func TestRateLimiterSpacesCalls(t *testing.T) {
	srv := newEntreprisesServer(t, `{"results": [{"siege": {"latitude": "48.8", "longitude": "2.3"}}]}`)
	c := NewClient(nil, WithBaseURLs(srv.URL, ""), WithMinInterval(60*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.LocateSIRET(context.Background(), "21750001600019")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestRateLimiterHonorsCancellation(t *testing.T) {
	c := NewClient(nil, WithMinInterval(time.Hour))
	require.NoError(t, c.limiter.wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.limiter.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
