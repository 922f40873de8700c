package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/types"
)

// Store keeps a local log of every located sighting in PostgreSQL.
type Store struct {
	mu   sync.Mutex // pgx.Conn is not safe for concurrent use
	conn *pgx.Conn
}

// Sighting is one row of the sightings log.
type Sighting struct {
	ID         int64
	Name       string
	ExternalID string
	Location   types.Location
	SeenAt     time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the sightings table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS sightings (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			external_id TEXT NOT NULL,
			city TEXT NOT NULL DEFAULT '',
			region TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			latitude TEXT NOT NULL DEFAULT '',
			longitude TEXT NOT NULL DEFAULT '',
			timezone TEXT NOT NULL DEFAULT '',
			ip TEXT NOT NULL DEFAULT '',
			continent_code TEXT NOT NULL DEFAULT '',
			seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS sightings_name_idx ON sightings (lower(name), seen_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordSighting appends a located sighting.
func (s *Store) RecordSighting(ctx context.Context, in dispatch.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := in.Location
	_, err := s.conn.Exec(ctx, `
		INSERT INTO sightings (name, external_id, city, region, country, latitude, longitude, timezone, ip, continent_code, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, in.Name, in.ExternalID, loc.City, loc.Region, loc.Country, loc.Latitude, loc.Longitude, loc.Timezone, loc.IP, loc.ContinentCode, in.Time.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert sighting: %w", err)
	}
	return nil
}

// ListSightings returns the newest sightings first. An empty name lists everyone.
func (s *Store) ListSightings(ctx context.Context, name string, limit int) ([]Sighting, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT id, name, external_id, city, region, country, latitude, longitude, timezone, ip, continent_code, seen_at
		FROM sightings
		WHERE $1 = '' OR lower(name) = $1
		ORDER BY seen_at DESC, id DESC
		LIMIT $2
	`, strings.ToLower(strings.TrimSpace(name)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var r Sighting
		l := &r.Location
		if err := rows.Scan(&r.ID, &r.Name, &r.ExternalID, &l.City, &l.Region, &l.Country, &l.Latitude, &l.Longitude, &l.Timezone, &l.IP, &l.ContinentCode, &r.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSeen returns the most recent sighting time for name, or ok=false.
func (s *Store) LastSeen(ctx context.Context, name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t time.Time
	err := s.conn.QueryRow(ctx, `SELECT seen_at FROM sightings WHERE lower(name) = $1 ORDER BY seen_at DESC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(name))).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS sightings CASCADE;`)
	return err
}
