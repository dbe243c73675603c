package geocode

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

// Entry is one cached lookup. Found false records a negative result, so
// unplaceable keys are not retried against the APIs on every run.
type Entry struct {
	Key      string
	Lat      float64
	Lon      float64
	Score    float64
	Label    string
	Source   string
	Found    bool
	CachedAt time.Time
}

// Cache persists geocoding results in a SQLite file, fronted by an
// in-memory map. Expired rows are purged on open and on write, so the
// file does not grow without bound. Concurrent lookups for the same key
// are collapsed into a single API call.
type Cache struct {
	db  *sql.DB
	ttl time.Duration

	mu  sync.RWMutex
	mem map[string]*Entry

	group singleflight.Group
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS geocode (
	key       TEXT PRIMARY KEY,
	lat       REAL NOT NULL DEFAULT 0,
	lon       REAL NOT NULL DEFAULT 0,
	score     REAL NOT NULL DEFAULT 0,
	label     TEXT NOT NULL DEFAULT '',
	source    TEXT NOT NULL DEFAULT '',
	found     INTEGER NOT NULL DEFAULT 0,
	cached_at INTEGER NOT NULL
)`

// OpenCache opens (or creates) the cache file. A non-positive ttl keeps
// entries forever.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open geocode cache: %w", err)
	}

	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init geocode cache: %w", err)
	}

	c := &Cache{
		db:  db,
		ttl: ttl,
		mem: make(map[string]*Entry),
	}
	if err := c.purgeExpired(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) purgeExpired() error {
	if c.ttl <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-c.ttl).Unix()
	if _, err := c.db.Exec(`DELETE FROM geocode WHERE cached_at < ?`, cutoff); err != nil {
		return fmt.Errorf("purge geocode cache: %w", err)
	}
	return nil
}

func (c *Cache) fresh(e *Entry) bool {
	return c.ttl <= 0 || time.Since(e.CachedAt) < c.ttl
}

// Get returns the cached entry for key, if present and unexpired.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	e := c.mem[key]
	c.mu.RUnlock()
	if e != nil {
		if !c.fresh(e) {
			return nil, false
		}
		return e, true
	}

	row := c.db.QueryRow(
		`SELECT lat, lon, score, label, source, found, cached_at FROM geocode WHERE key = ?`, key)
	e = &Entry{Key: key}
	var found int
	var cachedAt int64
	if err := row.Scan(&e.Lat, &e.Lon, &e.Score, &e.Label, &e.Source, &found, &cachedAt); err != nil {
		return nil, false
	}
	e.Found = found != 0
	e.CachedAt = time.Unix(cachedAt, 0)
	if !c.fresh(e) {
		return nil, false
	}

	c.mu.Lock()
	c.mem[key] = e
	c.mu.Unlock()
	return e, true
}

// Put stores an entry, stamping it now when CachedAt is zero.
func (c *Cache) Put(e *Entry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	found := 0
	if e.Found {
		found = 1
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO geocode (key, lat, lon, score, label, source, found, cached_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Lat, e.Lon, e.Score, e.Label, e.Source, found, e.CachedAt.Unix())
	if err != nil {
		return fmt.Errorf("store geocode entry %q: %w", e.Key, err)
	}

	c.mu.Lock()
	c.mem[e.Key] = e
	c.mu.Unlock()
	return nil
}

// Do answers from the cache when it can, otherwise runs lookup exactly
// once per key regardless of how many goroutines ask, and caches whatever
// it returns. lookup errors are returned uncached, so transient API
// failures are retried on the next call.
func (c *Cache) Do(ctx context.Context, key string, lookup func(ctx context.Context) (*Entry, error)) (*Entry, error) {
	if e, ok := c.Get(key); ok {
		return e, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another flight may have filled the cache while we
		// queued.
		if e, ok := c.Get(key); ok {
			return e, nil
		}
		e, err := lookup(ctx)
		if err != nil {
			return nil, err
		}
		e.Key = key
		if err := c.Put(e); err != nil {
			return nil, err
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Len reports how many rows the cache holds.
func (c *Cache) Len() (int, error) {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM geocode`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
