package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civsource/parisbudget/internal/config"
	"github.com/civsource/parisbudget/internal/dataset"
	"github.com/civsource/parisbudget/internal/geocode"
)

var (
	geocodeYear  int
	geocodeAll   bool
	geocodeCache string
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Enrich map layers with coordinates",
}

var geocodeSubventionsCmd = &cobra.Command{
	Use:   "subventions",
	Short: "Geocode subsidy recipients through their SIRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGeocode(cmd.Context(), dataset.FamilyMapSubventions, geocodeSubventionsYear)
	},
}

var geocodeInvestissementsCmd = &cobra.Command{
	Use:   "investissements",
	Short: "Geocode investment projects through the address ladder",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGeocode(cmd.Context(), dataset.FamilyInvestissements, geocodeInvestissementsYear)
	},
}

// runGeocode resolves the year list and applies fn per year.
func runGeocode(ctx context.Context, family string, fn func(ctx context.Context, env *geocodeEnv, year int) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	store := dataset.NewStore(settings.DataPath())

	years, err := resolveYears(store, family)
	if err != nil {
		return err
	}

	env, err := newGeocodeEnv(store, settings)
	if err != nil {
		return err
	}
	defer env.close()

	for _, year := range years {
		if err := fn(ctx, env, year); err != nil {
			return fmt.Errorf("year %d: %w", year, err)
		}
	}
	return nil
}

func resolveYears(store *dataset.Store, family string) ([]int, error) {
	if geocodeAll {
		years, err := store.Years(family)
		if err != nil {
			return nil, err
		}
		if len(years) == 0 {
			return nil, fmt.Errorf("no %s fixtures under %s", family, store.Root())
		}
		return years, nil
	}
	if geocodeYear == 0 {
		return nil, fmt.Errorf("pass --year N or --all")
	}
	return []int{geocodeYear}, nil
}

// geocodeEnv bundles the client, cache and resolver one run shares.
type geocodeEnv struct {
	store    *dataset.Store
	enricher *geocode.Enricher
	resolver *geocode.Resolver
	cache    *geocode.Cache
}

func newGeocodeEnv(store *dataset.Store, settings *config.Settings) (*geocodeEnv, error) {
	client := geocode.NewClient(logger, geocode.WithMinInterval(settings.GeocodeMinInterval()))

	cachePath := geocodeCache
	if cachePath == "" {
		var err error
		cachePath, err = settings.GeocodeCachePath()
		if err != nil {
			return nil, err
		}
	}
	cache, err := geocode.OpenCache(cachePath, settings.GeocodeCacheTTL())
	if err != nil {
		return nil, err
	}

	places, err := geocode.LoadKnownPlaces(settings.SeedPlacesPath())
	if err != nil {
		cache.Close()
		return nil, err
	}

	return &geocodeEnv{
		store:    store,
		enricher: geocode.NewEnricher(client, cache, logger),
		resolver: geocode.NewResolver(client, cache, places, logger),
		cache:    cache,
	}, nil
}

func (env *geocodeEnv) close() {
	env.cache.Close()
}

func geocodeSubventionsYear(ctx context.Context, env *geocodeEnv, year int) error {
	subs, err := env.store.MapSubventions(year)
	if err != nil {
		return err
	}

	logger.Info("geocoding subventions", zap.Int("year", year), zap.Int("records", len(subs.Data)))
	stats, err := env.enricher.EnrichSubventions(ctx, subs.Data)
	if err != nil {
		return err
	}

	subs.Geolocated = stats.Geolocated
	if err := env.store.WriteJSON(fmt.Sprintf("map/subventions_%d.json", year), subs); err != nil {
		return err
	}

	logStats(year, stats)
	return nil
}

func geocodeInvestissementsYear(ctx context.Context, env *geocodeEnv, year int) error {
	inv, err := env.store.Investissements(year)
	if err != nil {
		return err
	}

	logger.Info("geocoding investissements", zap.Int("year", year), zap.Int("records", len(inv.Data)))
	stats, err := env.enricher.EnrichInvestissements(ctx, env.resolver, inv.Data)
	if err != nil {
		return err
	}

	if inv.Stats == nil {
		inv.Stats = make(map[string]interface{})
	}
	inv.Stats["geo_rate"] = roundTenth(stats.GeoRate())
	inv.Stats["precise_geo_rate"] = roundTenth(stats.PreciseGeoRate())
	inv.Stats["geo_breakdown"] = stats.Breakdown()
	inv.GeocodedAt = time.Now().Format(time.RFC3339)

	if err := env.store.WriteJSON(fmt.Sprintf("map/investissements_complet_%d.json", year), inv); err != nil {
		return err
	}

	logStats(year, stats)
	return nil
}

func logStats(year int, stats *geocode.Stats) {
	logger.Info("geocoding done",
		zap.Int("year", year),
		zap.Int("total", stats.Total),
		zap.Int("lieuConnu", stats.LieuConnu),
		zap.Int("apiNumero", stats.APINumero),
		zap.Int("apiRue", stats.APIRue),
		zap.Int("apiLieu", stats.APILieu),
		zap.Int("centroid", stats.Centroid),
		zap.Int("none", stats.None),
		zap.Float64("geoRate", roundTenth(stats.GeoRate())),
		zap.Float64("preciseGeoRate", roundTenth(stats.PreciseGeoRate())))
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func init() {
	geocodeCmd.PersistentFlags().IntVar(&geocodeYear, "year", 0, "year to geocode")
	geocodeCmd.PersistentFlags().BoolVar(&geocodeAll, "all", false, "geocode every available year")
	geocodeCmd.PersistentFlags().StringVar(&geocodeCache, "cache", "", "geocode cache file (overrides settings)")
	geocodeCmd.AddCommand(geocodeSubventionsCmd, geocodeInvestissementsCmd)
	rootCmd.AddCommand(geocodeCmd)
}
