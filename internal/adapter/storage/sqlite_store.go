package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS transmissions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		observer_lat REAL NOT NULL,
		observer_lon REAL NOT NULL,
		phantom_lat REAL NOT NULL,
		phantom_lon REAL NOT NULL,
		drift_magnitude REAL NOT NULL,
		anchor_titles TEXT NOT NULL,
		generated_text TEXT NOT NULL,
		voice_label TEXT NOT NULL,
		style TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS transmissions_created_at_idx ON transmissions (created_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		radar_range_meters REAL NOT NULL,
		generation_interval_ms INTEGER NOT NULL,
		movement_threshold_meters REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS anchor_cache (
		key TEXT PRIMARY KEY,
		anchors TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);
`

// SQLiteStore is the single-file store used when no PostgreSQL DSN is set.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}

	// a single connection keeps :memory: databases coherent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil && logger != nil {
		logger.Warn("Could not set WAL mode", zap.Error(err))
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTransmission saves a transmission, assigning an ID when it has none
func (s *SQLiteStore) SaveTransmission(ctx context.Context, t transmission.Transmission) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	titlesJSON, err := marshalTitles(t.AnchorTitles)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO transmissions(
		id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
		drift_magnitude, anchor_titles, generated_text, voice_label, style
	) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID,
		t.Timestamp.UTC().UnixMilli(),
		t.ObserverCoordinates.Latitude,
		t.ObserverCoordinates.Longitude,
		t.PhantomCoordinates.Latitude,
		t.PhantomCoordinates.Longitude,
		t.DriftMagnitude,
		string(titlesJSON),
		t.GeneratedText,
		t.VoiceLabel,
		string(t.Style),
	)
	if err != nil {
		return "", fmt.Errorf("error inserting transmission: %w", err)
	}

	return t.ID, nil
}

// GetTransmission retrieves a transmission by ID
func (s *SQLiteStore) GetTransmission(ctx context.Context, id string) (*transmission.Transmission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
		drift_magnitude, anchor_titles, generated_text, voice_label, style
	FROM transmissions WHERE id = ?`, id)

	t, err := scanTransmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transmission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecentTransmissions retrieves up to limit transmissions, newest first
func (s *SQLiteStore) RecentTransmissions(ctx context.Context, limit int) ([]transmission.Transmission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
		drift_magnitude, anchor_titles, generated_text, voice_label, style
	FROM transmissions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying transmissions: %w", err)
	}
	defer rows.Close()

	out := []transmission.Transmission{}
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// ClearTransmissions deletes all transmissions
func (s *SQLiteStore) ClearTransmissions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transmissions`); err != nil {
		return fmt.Errorf("error clearing transmissions: %w", err)
	}
	return nil
}

// GetSettings retrieves the settings row, or the defaults before the first save
func (s *SQLiteStore) GetSettings(ctx context.Context) (transmission.Settings, error) {
	var settings transmission.Settings
	err := s.db.QueryRowContext(ctx, `SELECT radar_range_meters, generation_interval_ms, movement_threshold_meters
		FROM settings WHERE id = 1`).Scan(
		&settings.RadarRangeMeters,
		&settings.GenerationIntervalMillis,
		&settings.MovementThresholdMeters,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return transmission.DefaultSettings(), nil
	}
	if err != nil {
		return transmission.Settings{}, fmt.Errorf("error querying settings: %w", err)
	}
	return settings, nil
}

// SaveSettings replaces the settings row
func (s *SQLiteStore) SaveSettings(ctx context.Context, settings transmission.Settings) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings(
		id, radar_range_meters, generation_interval_ms, movement_threshold_meters
	) VALUES(1,?,?,?)`,
		settings.RadarRangeMeters,
		settings.GenerationIntervalMillis,
		settings.MovementThresholdMeters,
	)
	if err != nil {
		return fmt.Errorf("error saving settings: %w", err)
	}
	return nil
}

// GetAnchors retrieves a cached anchor lookup
func (s *SQLiteStore) GetAnchors(ctx context.Context, key string) (*geo.CachedAnchors, bool, error) {
	var anchorsJSON string
	var fetchedAt int64

	err := s.db.QueryRowContext(ctx, `SELECT anchors, fetched_at FROM anchor_cache WHERE key = ?`, key).
		Scan(&anchorsJSON, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error querying anchor cache: %w", err)
	}

	cached := &geo.CachedAnchors{FetchedAt: time.UnixMilli(fetchedAt).UTC()}
	if err := json.Unmarshal([]byte(anchorsJSON), &cached.Anchors); err != nil {
		return nil, false, fmt.Errorf("error unmarshaling anchors: %w", err)
	}
	return cached, true, nil
}

// PutAnchors stores an anchor lookup under key
func (s *SQLiteStore) PutAnchors(ctx context.Context, key string, cached geo.CachedAnchors) error {
	anchorsJSON, err := json.Marshal(cached.Anchors)
	if err != nil {
		return fmt.Errorf("error marshaling anchors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO anchor_cache(key, anchors, fetched_at) VALUES(?,?,?)`,
		key, string(anchorsJSON), cached.FetchedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("error caching anchors: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransmission(row rowScanner) (transmission.Transmission, error) {
	var t transmission.Transmission
	var createdAt int64
	var titlesJSON, style string

	if err := row.Scan(
		&t.ID,
		&createdAt,
		&t.ObserverCoordinates.Latitude,
		&t.ObserverCoordinates.Longitude,
		&t.PhantomCoordinates.Latitude,
		&t.PhantomCoordinates.Longitude,
		&t.DriftMagnitude,
		&titlesJSON,
		&t.GeneratedText,
		&t.VoiceLabel,
		&style,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("error scanning transmission: %w", err)
	}

	if err := json.Unmarshal([]byte(titlesJSON), &t.AnchorTitles); err != nil {
		return t, fmt.Errorf("error unmarshaling anchor titles: %w", err)
	}
	t.Timestamp = time.UnixMilli(createdAt).UTC()
	t.Style = transmission.Style(style)

	return t, nil
}
