// Package dashboard computes and serves the budget explorer's API: a
// cached overview rebuilt from the dataset store, drilldown views over the
// sankey fixtures, and the settings endpoints.
package dashboard

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/civsource/parisbudget/internal/config"
	"github.com/civsource/parisbudget/internal/dataset"
)

// Service handles dashboard operations
type Service struct {
	store    *dataset.Store
	settings *config.Settings
	logger   *zap.Logger

	settingsMu      sync.RWMutex
	cacheMu         sync.RWMutex
	cache           *Overview
	cacheRefreshing bool
}

// Overview holds the cross-year data computed once per refresh so the hot
// endpoints answer from memory.
type Overview struct {
	Years       map[string][]int        `json:"years"`
	LatestYear  int                     `json:"latestYear"`
	Summary     []dataset.YearSummary   `json:"summary"`
	Evolution   []dataset.EvolutionYear `json:"evolution"`
	LastRefresh time.Time               `json:"lastRefresh"`
	Stale       bool                    `json:"stale"`
}

// NewService creates a new dashboard service
func NewService(store *dataset.Store, settings *config.Settings, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		settings: settings,
		logger:   logger,
	}

	// Warm the cache at startup (best effort)
	if err := s.RebuildCache(); err != nil {
		// Keep running; handlers will return a refresh-needed message until cache succeeds
		logger.Warn("initial cache build failed", zap.Error(err))
	}

	return s
}

// RebuildCache refreshes the overview in a single pass.
func (s *Service) RebuildCache() error {
	s.cacheMu.Lock()
	if s.cacheRefreshing {
		s.cacheMu.Unlock()
		return errors.New("refresh already in progress")
	}
	s.cacheRefreshing = true
	s.cacheMu.Unlock()

	defer func() {
		s.cacheMu.Lock()
		s.cacheRefreshing = false
		s.cacheMu.Unlock()
	}()

	years := make(map[string][]int)
	for _, fam := range dataset.Families() {
		ys, err := s.store.Years(fam)
		if err != nil {
			return err
		}
		if len(ys) > 0 {
			years[fam] = ys
		}
	}

	overview := &Overview{
		Years:       years,
		LastRefresh: time.Now(),
	}
	if budgetYears := years[dataset.FamilyBudget]; len(budgetYears) > 0 {
		overview.LatestYear = budgetYears[len(budgetYears)-1]
	}

	// The indexes are optional: a data directory without them still serves
	// the per-year fixtures.
	idx, err := s.store.BudgetIndex()
	switch {
	case err == nil:
		overview.Summary = idx.Summary
		if idx.LatestYear > 0 {
			overview.LatestYear = idx.LatestYear
		}
	case !errors.Is(err, dataset.ErrNotAvailable):
		return err
	}

	evo, err := s.store.Evolution()
	switch {
	case err == nil:
		overview.Evolution = evo.Years
	case !errors.Is(err, dataset.ErrNotAvailable):
		return err
	}

	s.cacheMu.Lock()
	s.cache = overview
	s.cacheMu.Unlock()

	s.logger.Info("overview cache rebuilt",
		zap.Int("latestYear", overview.LatestYear),
		zap.Int("families", len(years)))
	return nil
}

// MarkStale flags the overview for rebuild and drops the store's cached
// fixtures. Wired to the data-directory watcher.
func (s *Service) MarkStale(paths []string) {
	s.store.InvalidateAll()

	s.cacheMu.Lock()
	if s.cache != nil {
		s.cache.Stale = true
	}
	s.cacheMu.Unlock()

	s.logger.Info("overview marked stale", zap.Int("changedPaths", len(paths)))
}

// getCache safely returns the cached overview
func (s *Service) getCache() (*Overview, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.cache == nil {
		return nil, false
	}
	return s.cache, true
}

// Settings returns the live settings under the settings lock.
func (s *Service) Settings() *config.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

func (s *Service) swapSettings(updated *config.Settings) {
	s.settingsMu.Lock()
	s.settings = updated
	s.settingsMu.Unlock()
}

// DefaultYear resolves the year to show when a client does not ask for
// one: the configured default, else the latest year present in the data.
func (s *Service) DefaultYear() int {
	if y := s.Settings().DefaultYear; y > 0 {
		return y
	}
	if cache, ok := s.getCache(); ok {
		return cache.LatestYear
	}
	return 0
}
