// Package dataset reads the JSON fixtures exported by the data pipeline
// into a content directory and serves them as typed structs, with a TTL
// cache, a directory watcher and a parallel preloader on top.
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// ErrNotAvailable marks a fixture that simply is not there, e.g. no
// spending-by-nature file for an old year. It is an expected absence,
// distinct from decode or IO failures.
var ErrNotAvailable = errors.New("dataset not available")

// DefaultCacheTTL bounds how long a cached fixture is trusted before its
// mtime and size are re-checked against disk.
const DefaultCacheTTL = 5 * time.Minute

// Families of yearly fixtures. Each maps to one filename pattern under the
// data root.
const (
	FamilyBudget          = "budget"
	FamilyNature          = "nature"
	FamilyBilan           = "bilan"
	FamilySubventions     = "subventions"
	FamilyBeneficiaires   = "beneficiaires"
	FamilyMapSubventions  = "map-subventions"
	FamilyInvestissements = "investissements"
)

// family describes where one yearly fixture series lives.
type family struct {
	dir    string
	prefix string
	index  string
}

var families = map[string]family{
	FamilyBudget:          {dir: "", prefix: "budget_sankey", index: "budget_index.json"},
	FamilyNature:          {dir: "", prefix: "budget_nature", index: "budget_nature_index.json"},
	FamilyBilan:           {dir: "", prefix: "bilan_sankey", index: "bilan_index.json"},
	FamilySubventions:     {dir: "subventions", prefix: "treemap", index: "subventions/index.json"},
	FamilyBeneficiaires:   {dir: "subventions", prefix: "beneficiaires"},
	FamilyMapSubventions:  {dir: "map", prefix: "subventions"},
	FamilyInvestissements: {dir: "map", prefix: "investissements_complet"},
}

var yearSuffix = regexp.MustCompile(`_(\d{4})\.json$`)

type cacheEntry struct {
	data     []byte
	mtime    time.Time
	size     int64
	loadedAt time.Time
}

// Store reads fixtures under a single data root. All reads go through an
// in-memory byte cache keyed by relative path; entries are revalidated
// against the file's mtime and size once they outlive the TTL. Safe for
// concurrent use.
type Store struct {
	root string
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		root:  dir,
		ttl:   DefaultCacheTTL,
		cache: make(map[string]*cacheEntry),
	}
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// resolve maps a relative fixture path to an absolute one, rejecting
// anything that escapes the root.
func (s *Store) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path %q escapes data root", rel)
	}
	return filepath.Join(s.root, clean), nil
}

// ReadFile returns the raw bytes of one fixture, from cache when fresh.
// Missing files return ErrNotAvailable.
func (s *Store) ReadFile(rel string) ([]byte, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry := s.cache[rel]
	s.mu.RUnlock()

	if entry != nil {
		if time.Since(entry.loadedAt) < s.ttl {
			return entry.data, nil
		}
		// TTL elapsed: trust the bytes only while the file looks unchanged.
		if fi, err := os.Stat(abs); err == nil && fi.ModTime().Equal(entry.mtime) && fi.Size() == entry.size {
			s.mu.Lock()
			entry.loadedAt = time.Now()
			s.mu.Unlock()
			return entry.data, nil
		}
	}

	fi, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotAvailable)
		}
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	s.mu.Lock()
	s.cache[rel] = &cacheEntry{data: data, mtime: fi.ModTime(), size: fi.Size(), loadedAt: time.Now()}
	s.mu.Unlock()

	return data, nil
}

// WriteJSON writes a fixture back under the root, pretty-printed the way
// the pipeline writes them, and drops any cached copy. Used by the geocode
// enrichment to rewrite the map files it serves.
func (s *Store) WriteJSON(rel string, v interface{}) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	s.Invalidate(rel)
	return nil
}

// Invalidate drops one cached fixture.
func (s *Store) Invalidate(rel string) {
	s.mu.Lock()
	delete(s.cache, rel)
	s.mu.Unlock()
}

// InvalidateAll drops the whole cache.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*cacheEntry)
	s.mu.Unlock()
}

// load decodes one fixture into T.
func load[T any](s *Store, rel string) (*T, error) {
	data, err := s.ReadFile(rel)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", rel, err)
	}
	return &v, nil
}

// BudgetSankey returns one year of budget flows with its drilldown lists.
func (s *Store) BudgetSankey(year int) (*Sankey, error) {
	return load[Sankey](s, fmt.Sprintf("budget_sankey_%d.json", year))
}

// BudgetIndex returns the cross-year budget index.
func (s *Store) BudgetIndex() (*BudgetIndex, error) {
	return load[BudgetIndex](s, "budget_index.json")
}

// Nature returns one year of spending by nature. Older years have no
// nature export; those return ErrNotAvailable.
func (s *Store) Nature(year int) (*Nature, error) {
	return load[Nature](s, fmt.Sprintf("budget_nature_%d.json", year))
}

// Bilan returns one year of the balance sheet.
func (s *Store) Bilan(year int) (*Bilan, error) {
	return load[Bilan](s, fmt.Sprintf("bilan_sankey_%d.json", year))
}

// Evolution returns the multi-year budget series.
func (s *Store) Evolution() (*Evolution, error) {
	return load[Evolution](s, "evolution_budget.json")
}

// VoteExecute relays vote_vs_execute.json untouched.
func (s *Store) VoteExecute() (json.RawMessage, error) {
	return s.ReadFile("vote_vs_execute.json")
}

// Availability relays data_availability.json untouched.
func (s *Store) Availability() (json.RawMessage, error) {
	return s.ReadFile("data_availability.json")
}

// SubventionsTreemap returns one year of subsidies by theme.
func (s *Store) SubventionsTreemap(year int) (*SubventionsTreemap, error) {
	return load[SubventionsTreemap](s, fmt.Sprintf("subventions/treemap_%d.json", year))
}

// Beneficiaires returns one year of subsidy recipients.
func (s *Store) Beneficiaires(year int) (*Beneficiaires, error) {
	return load[Beneficiaires](s, fmt.Sprintf("subventions/beneficiaires_%d.json", year))
}

// SubventionsIndex returns the subsidy cross-year index.
func (s *Store) SubventionsIndex() (*SubventionsIndex, error) {
	return load[SubventionsIndex](s, "subventions/index.json")
}

// MapSubventions returns one year of geocoded subsidies for the map.
func (s *Store) MapSubventions(year int) (*MapSubventions, error) {
	return load[MapSubventions](s, fmt.Sprintf("map/subventions_%d.json", year))
}

// Investissements returns one year of investment projects for the map.
func (s *Store) Investissements(year int) (*Investissements, error) {
	return load[Investissements](s, fmt.Sprintf("map/investissements_complet_%d.json", year))
}

// LogementsSociaux relays the social-housing layer untouched.
func (s *Store) LogementsSociaux() (json.RawMessage, error) {
	return s.ReadFile("map/logements_sociaux.json")
}

// LogementsParArrondissement relays the per-arrondissement housing totals.
func (s *Store) LogementsParArrondissement() (json.RawMessage, error) {
	return s.ReadFile("map/logements_par_arrondissement.json")
}

// Arrondissements relays the arrondissement polygons as GeoJSON.
func (s *Store) Arrondissements() (json.RawMessage, error) {
	return s.ReadFile("map/arrondissements.geojson")
}

// yearIndex covers the two spellings the exporters use for their index
// files.
type yearIndex struct {
	AvailableYears []int `json:"availableYears"`
	YearsSnake     []int `json:"available_years"`
}

// Years returns the years present for a family, sorted ascending: the
// union of the family's index file (when one exists) and a scan of the
// matching filenames on disk.
func (s *Store) Years(fam string) ([]int, error) {
	f, ok := families[fam]
	if !ok {
		return nil, fmt.Errorf("unknown dataset family %q", fam)
	}

	seen := make(map[int]bool)

	if f.index != "" {
		if idx, err := load[yearIndex](s, f.index); err == nil {
			for _, y := range idx.AvailableYears {
				seen[y] = true
			}
			for _, y := range idx.YearsSnake {
				seen[y] = true
			}
		} else if !errors.Is(err, ErrNotAvailable) {
			return nil, err
		}
	}

	dir := s.root
	if f.dir != "" {
		dir = filepath.Join(s.root, f.dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, fmt.Errorf("scan %s: %w", fam, err)
		}
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, f.prefix+"_") {
			continue
		}
		m := yearSuffix.FindStringSubmatch(name)
		if m == nil || name != fmt.Sprintf("%s_%s.json", f.prefix, m[1]) {
			continue
		}
		y, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		seen[y] = true
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// Families returns the known family names, sorted.
func Families() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
