package geocode

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/civsource/parisbudget/internal/dataset"
)

// Stats is the per-source breakdown of one enrichment run.
type Stats struct {
	Total      int `json:"total"`
	LieuConnu  int `json:"lieu_connu"`
	APINumero  int `json:"api_numero"`
	APIRue     int `json:"api_rue"`
	APILieu    int `json:"api_lieu"`
	Centroid   int `json:"centroid"`
	None       int `json:"none"`
	FromCache  int `json:"from_cache,omitempty"`
	Geolocated int `json:"geolocated"`
}

func (s *Stats) count(source string) {
	switch source {
	case SourceKnownPlace:
		s.LieuConnu++
	case SourceAPINumero:
		s.APINumero++
	case SourceAPIRue:
		s.APIRue++
	case SourceAPILieu:
		s.APILieu++
	case SourceCentroid:
		s.Centroid++
	case SourceNone, "":
		s.None++
		return
	}
	s.Geolocated++
}

// GeoRate is the share of records placed at all, in percent.
func (s *Stats) GeoRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(s.Geolocated) / float64(s.Total)
}

// PreciseGeoRate is the share placed with high confidence (curated
// landmark or numbered address), in percent.
func (s *Stats) PreciseGeoRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(s.LieuConnu+s.APINumero) / float64(s.Total)
}

// Breakdown renders the per-source counters the way the map fixtures
// store them.
func (s *Stats) Breakdown() map[string]int {
	return map[string]int{
		SourceKnownPlace: s.LieuConnu,
		SourceAPINumero:  s.APINumero,
		SourceAPIRue:     s.APIRue,
		SourceAPILieu:    s.APILieu,
		SourceCentroid:   s.Centroid,
		SourceNone:       s.None,
	}
}

// Enricher runs geocoding over whole record sets, cache-first.
type Enricher struct {
	client *Client
	cache  *Cache
	logger *zap.Logger
}

// NewEnricher assembles an enricher. cache may be nil.
func NewEnricher(client *Client, cache *Cache, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{client: client, cache: cache, logger: logger}
}

// locateSIRET answers from the cache when it can; negative registry
// answers are cached too.
func (e *Enricher) locateSIRET(ctx context.Context, siret string) (*Entry, error) {
	lookup := func(ctx context.Context) (*Entry, error) {
		loc, err := e.client.LocateSIRET(ctx, siret)
		if errors.Is(err, ErrNotFound) {
			return &Entry{Source: SourceNone}, nil
		}
		if err != nil {
			return nil, err
		}
		return &Entry{
			Lat: loc.Lat, Lon: loc.Lon,
			Label: loc.Adresse, Source: "siret", Found: true,
		}, nil
	}

	if e.cache == nil {
		return lookup(ctx)
	}
	return e.cache.Do(ctx, siret, lookup)
}

// EnrichSubventions fills coordinates on subsidy records through their
// SIRET. Records the registry cannot place, and invalid SIRETs, are left
// untouched; API failures are logged and skipped so a flaky network never
// aborts a run. Only the context's own error stops it.
func (e *Enricher) EnrichSubventions(ctx context.Context, recs []dataset.MapSubvention) (*Stats, error) {
	stats := &Stats{Total: len(recs)}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec := &recs[i]
		if rec.Coordinates != nil {
			stats.count("siret")
			stats.FromCache++
			continue
		}

		entry, err := e.locateSIRET(ctx, rec.SIRET)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return stats, err
			}
			e.logger.Warn("siret lookup failed",
				zap.String("siret", rec.SIRET),
				zap.String("beneficiaire", rec.Beneficiaire),
				zap.Error(err))
			stats.count(SourceNone)
			continue
		}
		if !entry.Found {
			stats.count(SourceNone)
			continue
		}

		rec.Coordinates = &dataset.Coordinates{Lat: entry.Lat, Lon: entry.Lon}
		rec.Adresse = entry.Label
		stats.count("siret")
	}

	return stats, nil
}

// EnrichInvestissements walks the resolution ladder for each investment
// project, mutating the records in place.
func (e *Enricher) EnrichInvestissements(ctx context.Context, resolver *Resolver, recs []dataset.Investissement) (*Stats, error) {
	stats := &Stats{Total: len(recs)}

	for i := range recs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rec := &recs[i]

		res := resolver.Resolve(ctx, rec.NomProjet, rec.Arrondissement)
		if res.Arrondissement > 0 && rec.Arrondissement == 0 {
			rec.Arrondissement = res.Arrondissement
		}
		if res.Source != SourceNone {
			rec.Lat = res.Lat
			rec.Lon = res.Lon
			rec.GeoLabel = res.Label
		}
		rec.GeoSource = res.Source
		rec.GeoScore = res.Score
		stats.count(res.Source)
	}

	return stats, nil
}
