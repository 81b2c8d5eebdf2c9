package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TrackingCacheRepository remembers the transponder that last flew each
// flight number. It satisfies session.VehicleStore.
type TrackingCacheRepository struct {
	db  *DB
	now func() time.Time
}

// NewTrackingCacheRepository creates a new tracking cache repository.
func NewTrackingCacheRepository(db *DB) *TrackingCacheRepository {
	return &TrackingCacheRepository{db: db, now: time.Now}
}

// TrackingEntry is one row of the tracking cache.
type TrackingEntry struct {
	FlightNumber string
	VehicleID    string
	Source       string // provider that reported the vehicle
	LastSeen     time.Time
}

func normalizeFlightNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// VehicleID returns the remembered vehicle id for flightNumber, or "" if
// none is stored.
func (r *TrackingCacheRepository) VehicleID(ctx context.Context, flightNumber string) (string, error) {
	entry, err := r.Get(ctx, flightNumber)
	if err != nil || entry == nil {
		return "", err
	}
	return entry.VehicleID, nil
}

// SaveVehicleID records vehicleID for flightNumber, replacing any earlier entry.
func (r *TrackingCacheRepository) SaveVehicleID(ctx context.Context, flightNumber, vehicleID, source string) error {
	_, err := r.db.exec(ctx,
		`INSERT INTO flight_tracking_cache (flight_number, vehicle_id, source, last_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (flight_number) DO UPDATE SET
			vehicle_id = EXCLUDED.vehicle_id,
			source = EXCLUDED.source,
			last_seen = EXCLUDED.last_seen`,
		normalizeFlightNumber(flightNumber), strings.ToLower(strings.TrimSpace(vehicleID)), source, r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save tracking entry: %w", err)
	}
	return nil
}

// Get returns the full entry for flightNumber. Returns nil, nil if none exists.
func (r *TrackingCacheRepository) Get(ctx context.Context, flightNumber string) (*TrackingEntry, error) {
	var e TrackingEntry
	err := r.db.queryRow(ctx,
		`SELECT flight_number, vehicle_id, source, last_seen
		 FROM flight_tracking_cache
		 WHERE flight_number = $1`,
		normalizeFlightNumber(flightNumber),
	).Scan(&e.FlightNumber, &e.VehicleID, &e.Source, &e.LastSeen)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracking entry: %w", err)
	}

	e.LastSeen = e.LastSeen.UTC()
	return &e, nil
}

// Forget removes the entry for flightNumber. Returns ErrNotFound if none existed.
func (r *TrackingCacheRepository) Forget(ctx context.Context, flightNumber string) error {
	result, err := r.db.exec(ctx,
		`DELETE FROM flight_tracking_cache WHERE flight_number = $1`,
		normalizeFlightNumber(flightNumber),
	)
	if err != nil {
		return fmt.Errorf("failed to delete tracking entry: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
