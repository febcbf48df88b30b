// internal/adapter/storage/postgres_store.go

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"latent/internal/domain/geo"
	"latent/internal/domain/transmission"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS transmissions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		observer_lat DOUBLE PRECISION NOT NULL,
		observer_lon DOUBLE PRECISION NOT NULL,
		phantom_lat DOUBLE PRECISION NOT NULL,
		phantom_lon DOUBLE PRECISION NOT NULL,
		drift_magnitude DOUBLE PRECISION NOT NULL,
		anchor_titles JSONB NOT NULL,
		generated_text TEXT NOT NULL,
		voice_label TEXT NOT NULL,
		style TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS transmissions_created_at_idx ON transmissions (created_at DESC);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		radar_range_meters DOUBLE PRECISION NOT NULL,
		generation_interval_ms BIGINT NOT NULL,
		movement_threshold_meters DOUBLE PRECISION NOT NULL
	);

	CREATE TABLE IF NOT EXISTS anchor_cache (
		key TEXT PRIMARY KEY,
		anchors JSONB NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	);
`

// PostgresStore implements transmission, settings and anchor cache storage
// on PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// Migrate creates the tables used by the store
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

// SaveTransmission saves a transmission and returns its ID
func (s *PostgresStore) SaveTransmission(ctx context.Context, t transmission.Transmission) (string, error) {
	query := `
		INSERT INTO transmissions (
			id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
			drift_magnitude, anchor_titles, generated_text, voice_label, style
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	titlesJSON, err := marshalTitles(t.AnchorTitles)
	if err != nil {
		return "", err
	}

	_, err = s.db.Exec(
		ctx,
		query,
		t.ID,
		t.Timestamp.UTC(),
		t.ObserverCoordinates.Latitude,
		t.ObserverCoordinates.Longitude,
		t.PhantomCoordinates.Latitude,
		t.PhantomCoordinates.Longitude,
		t.DriftMagnitude,
		titlesJSON,
		t.GeneratedText,
		t.VoiceLabel,
		string(t.Style),
	)
	if err != nil {
		return "", fmt.Errorf("error executing query: %w", err)
	}

	return t.ID, nil
}

// GetTransmission retrieves a transmission by ID
func (s *PostgresStore) GetTransmission(ctx context.Context, id string) (*transmission.Transmission, error) {
	query := `
		SELECT
			id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
			drift_magnitude, anchor_titles, generated_text, voice_label, style
		FROM transmissions
		WHERE id = $1
	`

	var t transmission.Transmission
	var titlesJSON []byte
	var style string

	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Timestamp,
		&t.ObserverCoordinates.Latitude,
		&t.ObserverCoordinates.Longitude,
		&t.PhantomCoordinates.Latitude,
		&t.PhantomCoordinates.Longitude,
		&t.DriftMagnitude,
		&titlesJSON,
		&t.GeneratedText,
		&t.VoiceLabel,
		&style,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, transmission.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying transmission: %w", err)
	}

	if err := json.Unmarshal(titlesJSON, &t.AnchorTitles); err != nil {
		return nil, fmt.Errorf("error unmarshaling anchor titles: %w", err)
	}
	t.Timestamp = t.Timestamp.UTC()
	t.Style = transmission.Style(style)

	return &t, nil
}

// RecentTransmissions retrieves up to limit transmissions, newest first
func (s *PostgresStore) RecentTransmissions(ctx context.Context, limit int) ([]transmission.Transmission, error) {
	query := `
		SELECT
			id, created_at, observer_lat, observer_lon, phantom_lat, phantom_lon,
			drift_magnitude, anchor_titles, generated_text, voice_label, style
		FROM transmissions
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying transmissions: %w", err)
	}
	defer rows.Close()

	transmissions := []transmission.Transmission{}
	for rows.Next() {
		var t transmission.Transmission
		var titlesJSON []byte
		var style string

		err := rows.Scan(
			&t.ID,
			&t.Timestamp,
			&t.ObserverCoordinates.Latitude,
			&t.ObserverCoordinates.Longitude,
			&t.PhantomCoordinates.Latitude,
			&t.PhantomCoordinates.Longitude,
			&t.DriftMagnitude,
			&titlesJSON,
			&t.GeneratedText,
			&t.VoiceLabel,
			&style,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning transmission: %w", err)
		}

		if err := json.Unmarshal(titlesJSON, &t.AnchorTitles); err != nil {
			return nil, fmt.Errorf("error unmarshaling anchor titles: %w", err)
		}
		t.Timestamp = t.Timestamp.UTC()
		t.Style = transmission.Style(style)

		transmissions = append(transmissions, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transmissions: %w", err)
	}

	return transmissions, nil
}

// ClearTransmissions deletes all transmissions
func (s *PostgresStore) ClearTransmissions(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM transmissions`); err != nil {
		return fmt.Errorf("error clearing transmissions: %w", err)
	}
	return nil
}

// GetSettings retrieves the settings record, falling back to the defaults
func (s *PostgresStore) GetSettings(ctx context.Context) (transmission.Settings, error) {
	query := `
		SELECT radar_range_meters, generation_interval_ms, movement_threshold_meters
		FROM settings
		WHERE id = 1
	`

	var settings transmission.Settings
	err := s.db.QueryRow(ctx, query).Scan(
		&settings.RadarRangeMeters,
		&settings.GenerationIntervalMillis,
		&settings.MovementThresholdMeters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return transmission.DefaultSettings(), nil
	}
	if err != nil {
		return transmission.Settings{}, fmt.Errorf("error querying settings: %w", err)
	}

	return settings, nil
}

// SaveSettings replaces the settings record
func (s *PostgresStore) SaveSettings(ctx context.Context, settings transmission.Settings) error {
	query := `
		INSERT INTO settings (id, radar_range_meters, generation_interval_ms, movement_threshold_meters)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET
			radar_range_meters = $1,
			generation_interval_ms = $2,
			movement_threshold_meters = $3
	`

	_, err := s.db.Exec(ctx, query,
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
func (s *PostgresStore) GetAnchors(ctx context.Context, key string) (*geo.CachedAnchors, bool, error) {
	var anchorsJSON []byte
	var fetchedAt time.Time

	err := s.db.QueryRow(ctx, `SELECT anchors, fetched_at FROM anchor_cache WHERE key = $1`, key).
		Scan(&anchorsJSON, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error querying anchor cache: %w", err)
	}

	cached := &geo.CachedAnchors{FetchedAt: fetchedAt.UTC()}
	if err := json.Unmarshal(anchorsJSON, &cached.Anchors); err != nil {
		return nil, false, fmt.Errorf("error unmarshaling anchors: %w", err)
	}

	return cached, true, nil
}

// PutAnchors stores an anchor lookup under key
func (s *PostgresStore) PutAnchors(ctx context.Context, key string, cached geo.CachedAnchors) error {
	query := `
		INSERT INTO anchor_cache (key, anchors, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET anchors = $2, fetched_at = $3
	`

	anchorsJSON, err := json.Marshal(cached.Anchors)
	if err != nil {
		return fmt.Errorf("error marshaling anchors: %w", err)
	}

	if _, err := s.db.Exec(ctx, query, key, anchorsJSON, cached.FetchedAt.UTC()); err != nil {
		return fmt.Errorf("error caching anchors: %w", err)
	}

	return nil
}

func marshalTitles(titles []string) ([]byte, error) {
	if titles == nil {
		titles = []string{}
	}
	data, err := json.Marshal(titles)
	if err != nil {
		return nil, fmt.Errorf("error marshaling anchor titles: %w", err)
	}
	return data, nil
}
