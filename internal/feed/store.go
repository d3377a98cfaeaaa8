package feed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reelsmith/reel-core/internal/config"
)

// Store persists feed items in SQLite. Items are append-only; slides are
// fixed at creation.
type Store struct {
	db    *sql.DB
	cfg   config.FeedConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the feed store according to config.
func Open(ctx context.Context, cfg config.FeedConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("feed store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("feed store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY,
    mode TEXT NOT NULL,
    narration_ref TEXT,
    instrumental_ref TEXT,
    beat_id TEXT,
    voice TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS slides (
    item_id INTEGER NOT NULL,
    idx INTEGER NOT NULL,
    text TEXT NOT NULL,
    image_ref TEXT,
    PRIMARY KEY(item_id, idx),
    FOREIGN KEY(item_id) REFERENCES items(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_items_created ON items(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes an item and its slides in one transaction.
func (s *Store) Save(ctx context.Context, item *Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO items(id, mode, narration_ref, instrumental_ref, beat_id, voice, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Mode, item.NarrationRef, item.InstrumentalRef, item.BeatID, item.Voice,
		item.CreatedAt.UTC()); err != nil {
		return err
	}
	for idx, slide := range item.Slides {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO slides(item_id, idx, text, image_ref) VALUES(?, ?, ?, ?)`,
			item.ID, idx, slide.Text, slide.ImageRef); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// LoadAll returns every item ordered newest-first, slides in sequence order.
func (s *Store) LoadAll(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, narration_ref, instrumental_ref, beat_id, voice, created_at
		 FROM items ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		var created string
		if err := rows.Scan(&it.ID, &it.Mode, &it.NarrationRef, &it.InstrumentalRef,
			&it.BeatID, &it.Voice, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			it.CreatedAt = ts
		}
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, it := range items {
		if err := s.loadSlides(ctx, it); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *Store) loadSlides(ctx context.Context, it *Item) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT text, image_ref FROM slides WHERE item_id = ? ORDER BY idx ASC`, it.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var slide Slide
		var imageRef sql.NullString
		if err := rows.Scan(&slide.Text, &imageRef); err != nil {
			return err
		}
		slide.ImageRef = imageRef.String
		it.Slides = append(it.Slides, slide)
	}
	return rows.Err()
}

// Prune drops the oldest items beyond the configured retention cap.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.MaxItems <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id IN (
		SELECT id FROM items ORDER BY id DESC LIMIT -1 OFFSET ?
	)`, s.cfg.MaxItems)
	return err
}
