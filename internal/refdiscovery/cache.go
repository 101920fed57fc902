package refdiscovery

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"refind/internal/models"
	"refind/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS reference_contents (
	ref_key      TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	json_payload TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// Cache stores extracted reference papers so a reference shared by several
// uploads is fetched and parsed once.
type Cache struct {
	db *sqlx.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open reference cache %s: %w", path, err)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init reference cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Put(key string, paper models.Paper) error {
	payload, err := json.Marshal(paper)
	if err != nil {
		return fmt.Errorf("marshal cached reference: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO reference_contents (ref_key, title, json_payload) VALUES (?, ?, ?)`,
		key, paper.Title, string(payload))
	if err != nil {
		return fmt.Errorf("cache reference %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Get(key string) (models.Paper, error) {
	var payload string
	err := c.db.Get(&payload, `SELECT json_payload FROM reference_contents WHERE ref_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Paper{}, fmt.Errorf("%w: reference %s not cached", util.ErrNotFound, key)
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("read cached reference %s: %w", key, err)
	}
	var paper models.Paper
	if err := json.Unmarshal([]byte(util.SanitizeText(payload)), &paper); err != nil {
		return models.Paper{}, fmt.Errorf("decode cached reference %s: %w", key, err)
	}
	return paper, nil
}
