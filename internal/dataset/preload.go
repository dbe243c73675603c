package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// preloadConcurrency bounds how many fixtures are decoded at once during a
// warm-up pass.
const preloadConcurrency = 8

// PreloadFailure is one fixture that failed to decode during a preload.
type PreloadFailure struct {
	Path string
	Err  error
}

// PreloadSummary reports a warm-up pass. Fixtures that are simply absent
// (ErrNotAvailable) count as skipped, not failed.
type PreloadSummary struct {
	Loaded  int
	Skipped int
	Failed  []PreloadFailure
	Elapsed time.Duration
}

// Preload walks every known fixture and warms the cache. Each fixture
// carries its own result, so one corrupt file never aborts the pass; the
// returned error is only ever the context's.
func (s *Store) Preload(ctx context.Context) (*PreloadSummary, error) {
	start := time.Now()

	paths := []string{
		"budget_index.json",
		"budget_nature_index.json",
		"bilan_index.json",
		"evolution_budget.json",
		"vote_vs_execute.json",
		"data_availability.json",
		"subventions/index.json",
		"map/logements_sociaux.json",
		"map/logements_par_arrondissement.json",
		"map/arrondissements.geojson",
	}
	for fam, f := range families {
		years, err := s.Years(fam)
		if err != nil {
			continue
		}
		for _, y := range years {
			dir := ""
			if f.dir != "" {
				dir = f.dir + "/"
			}
			paths = append(paths, fmt.Sprintf("%s%s_%d.json", dir, f.prefix, y))
		}
	}

	var (
		mu      sync.Mutex
		summary PreloadSummary
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadConcurrency)

	for _, rel := range paths {
		rel := rel
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.ReadFile(rel)
			if err == nil && !json.Valid(data) {
				err = fmt.Errorf("decode %s: invalid JSON", rel)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Loaded++
			case errors.Is(err, ErrNotAvailable):
				summary.Skipped++
			default:
				summary.Failed = append(summary.Failed, PreloadFailure{Path: rel, Err: err})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.Elapsed = time.Since(start)
	return &summary, nil
}
