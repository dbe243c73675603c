// Package geocode enriches subsidy and investment records with
// coordinates, through the public business-registry and address APIs, a
// persistent cache, and a ladder of fallbacks down to arrondissement
// centroids.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	// ErrInvalidSIRET marks an identifier that is not 14 digits.
	ErrInvalidSIRET = errors.New("invalid siret")

	// ErrNotFound marks a lookup the APIs answered but could not place.
	ErrNotFound = errors.New("not found")
)

const (
	entreprisesURL = "https://recherche-entreprises.api.gouv.fr/search"
	banURL         = "https://api-adresse.data.gouv.fr/search"

	siretTimeout   = 10 * time.Second
	addressTimeout = 5 * time.Second

	// DefaultMinInterval spaces outbound calls; both public APIs throttle
	// around 7 req/s.
	DefaultMinInterval = 150 * time.Millisecond
)

// rateLimiter spaces calls by a minimum interval, shared across both
// endpoints.
type rateLimiter struct {
	mu   sync.Mutex
	min  time.Duration
	last time.Time
}

func (l *rateLimiter) wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.min)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	d := time.Until(next)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SiegeLocation is a company head office as the business registry knows
// it.
type SiegeLocation struct {
	Lat        float64
	Lon        float64
	Adresse    string
	CodePostal string
	Commune    string
}

// AddressResult is one BAN geocoding hit.
type AddressResult struct {
	Lat   float64
	Lon   float64
	Score float64
	Label string
}

// Client calls the recherche-entreprises and BAN APIs with shared rate
// limiting.
type Client struct {
	http           *http.Client
	entreprisesURL string
	banURL         string
	limiter        *rateLimiter
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the API endpoints, for tests.
func WithBaseURLs(entreprises, ban string) Option {
	return func(c *Client) {
		c.entreprisesURL = entreprises
		c.banURL = ban
	}
}

// WithMinInterval overrides the spacing between outbound calls.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.limiter.min = d
		}
	}
}

// NewClient creates a geocoding client. A nil logger is replaced with a
// no-op one.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:           &http.Client{},
		entreprisesURL: entreprisesURL,
		banURL:         banURL,
		limiter:        &rateLimiter{min: DefaultMinInterval},
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// entreprisesResponse is the slice of the registry payload we read.
// Coordinates arrive as strings.
type entreprisesResponse struct {
	Results []struct {
		Siege struct {
			Latitude       string `json:"latitude"`
			Longitude      string `json:"longitude"`
			Adresse        string `json:"adresse"`
			CodePostal     string `json:"code_postal"`
			LibelleCommune string `json:"libelle_commune"`
		} `json:"siege"`
	} `json:"results"`
}

// LocateSIRET resolves an establishment number to its head office
// coordinates. Registrations the registry does not know, or knows without
// coordinates, return ErrNotFound.
func (c *Client) LocateSIRET(ctx context.Context, siret string) (*SiegeLocation, error) {
	siret = strings.ReplaceAll(siret, " ", "")
	if len(siret) != 14 {
		return nil, fmt.Errorf("%q: %w", siret, ErrInvalidSIRET)
	}
	for _, r := range siret {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%q: %w", siret, ErrInvalidSIRET)
		}
	}

	if err := c.limiter.wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, siretTimeout)
	defer cancel()

	q := url.Values{"q": {siret}, "mtm_campaign": {"paris-budget"}}
	var payload entreprisesResponse
	if err := c.getJSON(ctx, c.entreprisesURL, q, &payload); err != nil {
		return nil, err
	}

	if len(payload.Results) == 0 {
		return nil, fmt.Errorf("siret %s: %w", siret, ErrNotFound)
	}
	siege := payload.Results[0].Siege
	if siege.Latitude == "" || siege.Longitude == "" {
		return nil, fmt.Errorf("siret %s has no coordinates: %w", siret, ErrNotFound)
	}

	lat, err := strconv.ParseFloat(siege.Latitude, 64)
	if err != nil {
		return nil, fmt.Errorf("siret %s latitude %q: %w", siret, siege.Latitude, err)
	}
	lon, err := strconv.ParseFloat(siege.Longitude, 64)
	if err != nil {
		return nil, fmt.Errorf("siret %s longitude %q: %w", siret, siege.Longitude, err)
	}

	return &SiegeLocation{
		Lat:        lat,
		Lon:        lon,
		Adresse:    siege.Adresse,
		CodePostal: siege.CodePostal,
		Commune:    siege.LibelleCommune,
	}, nil
}

// banResponse is the GeoJSON-shaped BAN payload.
type banResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Score    float64 `json:"score"`
			Label    string  `json:"label"`
			Postcode string  `json:"postcode"`
		} `json:"properties"`
	} `json:"features"`
}

// SearchAddress geocodes a free-text query inside Paris. The query is
// anchored with the arrondissement's postcode when one is known (the
// first four arrondissements share 75001); results outside postal Paris
// are discarded. A first pass asks for house-number precision, a second
// takes anything.
func (c *Client) SearchAddress(ctx context.Context, query string, arrondissement int) (*AddressResult, error) {
	full := strings.TrimSpace(query)
	switch {
	case arrondissement > 4 && arrondissement <= 20:
		full = fmt.Sprintf("%s, 750%02d Paris", full, arrondissement)
	case arrondissement >= 1:
		full = full + ", 75001 Paris"
	default:
		full = full + ", Paris"
	}

	for _, pass := range []string{"housenumber", ""} {
		if err := c.limiter.wait(ctx); err != nil {
			return nil, err
		}

		q := url.Values{"q": {full}, "limit": {"1"}}
		if pass != "" {
			q.Set("type", pass)
		}

		callCtx, cancel := context.WithTimeout(ctx, addressTimeout)
		var payload banResponse
		err := c.getJSON(callCtx, c.banURL, q, &payload)
		cancel()
		if err != nil {
			return nil, err
		}

		if len(payload.Features) == 0 {
			continue
		}
		f := payload.Features[0]
		if len(f.Geometry.Coordinates) < 2 || !strings.HasPrefix(f.Properties.Postcode, "75") {
			continue
		}
		return &AddressResult{
			Lat:   round6(f.Geometry.Coordinates[1]),
			Lon:   round6(f.Geometry.Coordinates[0]),
			Score: f.Properties.Score,
			Label: f.Properties.Label,
		}, nil
	}

	return nil, fmt.Errorf("address %q: %w", query, ErrNotFound)
}

func (c *Client) getJSON(ctx context.Context, base string, q url.Values, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", base, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode: %w", base, err)
	}
	return nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
