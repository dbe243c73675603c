package geocode

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Sources of a resolution, best first. The ladder stops at the first rung
// that places the record.
const (
	SourceKnownPlace = "lieu_connu"
	SourceAPINumero  = "api_numero"
	SourceAPIRue     = "api_rue"
	SourceAPILieu    = "api_lieu"
	SourceCentroid   = "centroid"
	SourceNone       = "none"
)

// Acceptance thresholds for BAN scores, per rung.
const (
	minAddressScore = 0.4
	minPlaceScore   = 0.3
)

// arrondissementCentroids are the fallback coordinates per arrondissement.
var arrondissementCentroids = map[int][2]float64{
	1: {48.8605, 2.3478}, 2: {48.8673, 2.3414}, 3: {48.8631, 2.3606}, 4: {48.8536, 2.3578},
	5: {48.8450, 2.3497}, 6: {48.8492, 2.3337}, 7: {48.8583, 2.3121}, 8: {48.8744, 2.3117},
	9: {48.8763, 2.3380}, 10: {48.8760, 2.3616}, 11: {48.8596, 2.3794}, 12: {48.8391, 2.3896},
	13: {48.8311, 2.3592}, 14: {48.8339, 2.3265}, 15: {48.8418, 2.2988}, 16: {48.8600, 2.2690},
	17: {48.8867, 2.3102}, 18: {48.8922, 2.3447}, 19: {48.8840, 2.3820}, 20: {48.8639, 2.3985},
}

// Address shapes that show up in project names: "12 rue de X",
// "12/14 avenue Y", then the less precise "rue de X" without a number.
var (
	numberedAddressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d{1,4}(?:\s?(?:bis|ter))?)\s+(rue|avenue|av|bd|boulevard|place|passage|impasse|quai|allée|square|villa|cité|chemin)\s+([A-Za-zÀ-ÿ'\-\s]+?)(?:\s*\(|\s*-|\s*,|$)`),
		regexp.MustCompile(`(?i)(\d{1,4}/\d{1,4})\s+(rue|avenue|av|bd|boulevard|place)\s+([A-Za-zÀ-ÿ'\-\s]+?)(?:\s*\(|\s*-|\s*,|$)`),
	}
	streetOnlyPattern = regexp.MustCompile(`(?i)\b(rue|avenue|av|bd|boulevard|place|passage|quai)\s+(d[eu]\s+|du\s+|de\s+la\s+|des\s+)?([A-Za-zÀ-ÿ'\-\s]+?)(?:\s*\(|\s*-|\s*,|$)`)

	placePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(piscine|gymnase|stade|école|college|lycée|crèche|mairie|bibliothèque|médiathèque)\s+([A-Za-zÀ-ÿ'\-\s]+?)(?:\s*\(|\s*-|\s*,|$)`),
		regexp.MustCompile(`(?i)(centre sportif|centre d'animation|maison de la culture)\s+([A-Za-zÀ-ÿ'\-\s]+?)(?:\s*\(|\s*-|\s*,|$)`),
	}

	arrondissementPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\((\d{1,2})(?:e|ème|er|eme)\)`),
		regexp.MustCompile(`(?i)\b(\d{1,2})(?:e|ème|er|eme)\s*arr`),
		regexp.MustCompile(`\b75(\d{3})\b`),
	}

	spaceRun = regexp.MustCompile(`\s+`)
)

// ExtractArrondissement pulls an arrondissement number out of free text,
// recognizing "(12e)", "12ème arr" and "75012" spellings. Returns 0 when
// none is found.
func ExtractArrondissement(text string) int {
	for i, pat := range arrondissementPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		arr, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if i == 2 {
			// Postcode form: 75012 matched as "012".
			arr = arr % 100
		}
		if arr >= 1 && arr <= 20 {
			return arr
		}
	}
	return 0
}

// ExtractAddress pulls a street address out of a project name. The second
// return distinguishes a numbered address from a bare street, which feed
// different rungs of the ladder.
func ExtractAddress(text string) (addr string, numbered bool) {
	for _, pat := range numberedAddressPatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		street := strings.TrimSpace(spaceRun.ReplaceAllString(m[3], " "))
		if len(street) > 2 {
			return fmt.Sprintf("%s %s %s", m[1], m[2], street), true
		}
	}

	if m := streetOnlyPattern.FindStringSubmatch(text); m != nil {
		street := strings.TrimSpace(spaceRun.ReplaceAllString(m[3], " "))
		if len(street) > 2 {
			return fmt.Sprintf("%s %s%s", m[1], m[2], street), false
		}
	}
	return "", false
}

// ExtractPlaceName pulls a named facility ("piscine X", "gymnase Y") out
// of a project name. Returns "" when none matches.
func ExtractPlaceName(text string) string {
	for _, pat := range placePatterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(spaceRun.ReplaceAllString(m[2], " "))
		if len(name) > 2 {
			return m[1] + " " + name
		}
	}
	return ""
}

// KnownPlace is one curated landmark from the seed file.
type KnownPlace struct {
	Lat            float64
	Lon            float64
	Adresse        string
	Arrondissement int
}

// KnownPlaces matches free text against curated landmark patterns,
// upper-cased substring style.
type KnownPlaces map[string]KnownPlace

// LoadKnownPlaces reads the seed CSV. Each row carries pipe-separated
// match patterns plus coordinates; rows without coordinates are skipped.
// An empty path yields an empty set.
func LoadKnownPlaces(path string) (KnownPlaces, error) {
	places := make(KnownPlaces)
	if path == "" {
		return places, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open known places: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read known places header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"pattern_match", "latitude", "longitude"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("known places file missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read known places: %w", err)
		}

		lat, latErr := strconv.ParseFloat(field(rec, "latitude"), 64)
		lon, lonErr := strconv.ParseFloat(field(rec, "longitude"), 64)
		if latErr != nil || lonErr != nil {
			continue
		}

		place := KnownPlace{Lat: lat, Lon: lon, Adresse: field(rec, "adresse")}
		if arr, err := strconv.Atoi(field(rec, "arrondissement")); err == nil {
			place.Arrondissement = arr
		}

		for _, pattern := range strings.Split(field(rec, "pattern_match"), "|") {
			if p := strings.ToUpper(strings.TrimSpace(pattern)); p != "" {
				places[p] = place
			}
		}
	}
	return places, nil
}

// Match returns the landmark whose pattern occurs in text, if any.
func (k KnownPlaces) Match(text string) (KnownPlace, bool) {
	upper := strings.ToUpper(text)
	for pattern, place := range k {
		if strings.Contains(upper, pattern) {
			return place, true
		}
	}
	return KnownPlace{}, false
}

// Resolution is where one record ended up on the ladder.
type Resolution struct {
	Lat            float64
	Lon            float64
	Score          float64
	Source         string
	Label          string
	Arrondissement int
}

// Resolver walks the resolution ladder for free-text project names:
// curated landmarks, then BAN over an extracted address, then BAN over a
// facility name, then the arrondissement centroid, then nothing.
type Resolver struct {
	client *Client
	cache  *Cache
	places KnownPlaces
	logger *zap.Logger
}

// NewResolver assembles a resolver. places and cache may be nil; a nil
// cache calls the APIs directly.
func NewResolver(client *Client, cache *Cache, places KnownPlaces, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if places == nil {
		places = make(KnownPlaces)
	}
	return &Resolver{client: client, cache: cache, places: places, logger: logger}
}

// search runs one cached BAN lookup, keyed "query|arrondissement".
func (r *Resolver) search(ctx context.Context, query string, arr int) (*Entry, error) {
	lookup := func(ctx context.Context) (*Entry, error) {
		res, err := r.client.SearchAddress(ctx, query, arr)
		if errors.Is(err, ErrNotFound) {
			return &Entry{}, nil
		}
		if err != nil {
			return nil, err
		}
		return &Entry{Lat: res.Lat, Lon: res.Lon, Score: res.Score, Label: res.Label, Found: true}, nil
	}

	if r.cache == nil {
		return lookup(ctx)
	}
	return r.cache.Do(ctx, fmt.Sprintf("%s|%d", query, arr), lookup)
}

// Resolve places one record by name. It never fails outright: API errors
// are logged and the ladder keeps descending, ending at SourceNone.
func (r *Resolver) Resolve(ctx context.Context, name string, arrondissement int) Resolution {
	arr := arrondissement
	if arr < 1 || arr > 20 {
		arr = ExtractArrondissement(name)
	}

	if place, ok := r.places.Match(name); ok {
		res := Resolution{
			Lat: place.Lat, Lon: place.Lon,
			Score: 1.0, Source: SourceKnownPlace, Label: place.Adresse,
			Arrondissement: arr,
		}
		if res.Arrondissement == 0 {
			res.Arrondissement = place.Arrondissement
		}
		return res
	}

	if addr, numbered := ExtractAddress(name); addr != "" {
		entry, err := r.search(ctx, addr, arr)
		switch {
		case err != nil:
			r.logger.Warn("address lookup failed", zap.String("query", addr), zap.Error(err))
		case entry.Found && entry.Score > minAddressScore:
			source := SourceAPIRue
			if numbered {
				source = SourceAPINumero
			}
			return Resolution{
				Lat: entry.Lat, Lon: entry.Lon,
				Score: entry.Score, Source: source, Label: entry.Label,
				Arrondissement: arr,
			}
		}
	}

	if place := ExtractPlaceName(name); place != "" {
		entry, err := r.search(ctx, place, arr)
		switch {
		case err != nil:
			r.logger.Warn("place lookup failed", zap.String("query", place), zap.Error(err))
		case entry.Found && entry.Score > minPlaceScore:
			return Resolution{
				Lat: entry.Lat, Lon: entry.Lon,
				Score: entry.Score, Source: SourceAPILieu, Label: entry.Label,
				Arrondissement: arr,
			}
		}
	}

	if c, ok := arrondissementCentroids[arr]; ok {
		return Resolution{
			Lat: c[0], Lon: c[1],
			Score: 0.1, Source: SourceCentroid,
			Label:          fmt.Sprintf("Arrondissement %d", arr),
			Arrondissement: arr,
		}
	}

	return Resolution{Source: SourceNone, Arrondissement: arr}
}
