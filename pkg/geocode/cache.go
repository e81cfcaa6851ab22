package geocode

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rubiojr/deliverymap/pkg/logger"
	_ "modernc.org/sqlite"
)

// Cache keeps lookup responses indefinitely in SQLite. Only successful
// lookups are stored, including empty ones.
type Cache struct {
	db *sql.DB
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("geocode cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("geocode cache open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geocode_cache (
		query TEXT PRIMARY KEY,
		json  TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("geocode cache schema: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_geocode_cache_fetched_at ON geocode_cache(fetched_at)`)
	return &Cache{db: db}, nil
}

// cacheKey identifies a lookup by every parameter that changes its answer.
func cacheKey(q Query) string {
	return fmt.Sprintf("%s|%d|%s|%s", q.Text, q.Limit, strings.Join(q.CountryCodes, ","), q.Language)
}

// Get returns the cached response for q. A row that fails to decode is
// treated as a miss.
func (c *Cache) Get(ctx context.Context, q Query) ([]Result, bool) {
	var raw string
	err := c.db.QueryRowContext(ctx, `SELECT json FROM geocode_cache WHERE query = ?`, cacheKey(q)).Scan(&raw)
	if err != nil {
		return nil, false
	}
	var out []Result
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logger.Error("geocode cache unmarshal failed for %q: %v (ignoring)", q.Text, err)
		return nil, false
	}
	return out, true
}

// Put stores the response for q.
func (c *Cache) Put(ctx context.Context, q Query, res []Result) error {
	if res == nil {
		res = []Result{}
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocode_cache(query, json, fetched_at) VALUES(?,?,CURRENT_TIMESTAMP)`,
		cacheKey(q), string(b))
	return err
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
