package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/geo"
)

// FlightRepository handles database operations for flights and their schedules.
type FlightRepository struct {
	db *DB
}

// NewFlightRepository creates a new flight repository.
func NewFlightRepository(db *DB) *FlightRepository {
	return &FlightRepository{db: db}
}

const flightColumns = `id, flight_number, airline, aircraft, departure, arrival,
	departure_time, duration_seconds, distance_km, waypoints, vehicle_id, created_at`

// Upsert inserts a flight or replaces the stored copy with the same id.
// A zero id is assigned a new uuid, which is written back to f.
func (r *FlightRepository) Upsert(ctx context.Context, f *flight.Flight) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	s := f.Schedule
	dep, err := json.Marshal(s.Departure)
	if err != nil {
		return fmt.Errorf("failed to encode departure airport: %w", err)
	}
	arr, err := json.Marshal(s.Arrival)
	if err != nil {
		return fmt.Errorf("failed to encode arrival airport: %w", err)
	}
	waypoints := s.Waypoints
	if waypoints == nil {
		waypoints = []geo.Coordinate{}
	}
	route, err := json.Marshal(waypoints)
	if err != nil {
		return fmt.Errorf("failed to encode waypoints: %w", err)
	}

	var vehicleID sql.NullString
	if f.VehicleID != "" {
		vehicleID = sql.NullString{String: f.VehicleID, Valid: true}
	}

	_, err = r.db.exec(ctx,
		`INSERT INTO flights (
			id, flight_number, airline, aircraft, departure_code, arrival_code,
			departure, arrival, departure_time, arrival_time, duration_seconds,
			distance_km, waypoints, vehicle_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			flight_number = EXCLUDED.flight_number,
			airline = EXCLUDED.airline,
			aircraft = EXCLUDED.aircraft,
			departure_code = EXCLUDED.departure_code,
			arrival_code = EXCLUDED.arrival_code,
			departure = EXCLUDED.departure,
			arrival = EXCLUDED.arrival,
			departure_time = EXCLUDED.departure_time,
			arrival_time = EXCLUDED.arrival_time,
			duration_seconds = EXCLUDED.duration_seconds,
			distance_km = EXCLUDED.distance_km,
			waypoints = EXCLUDED.waypoints,
			vehicle_id = EXCLUDED.vehicle_id,
			updated_at = EXCLUDED.updated_at`,
		f.ID, f.FlightNumber, f.Airline, f.Aircraft, s.Departure.Code(), s.Arrival.Code(),
		string(dep), string(arr), s.DepartureTime.UTC(), s.ArrivalTime().UTC(),
		int64(s.EstimatedDuration/time.Second), s.EstimatedDistanceKm, string(route),
		vehicleID, f.CreatedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert flight: %w", err)
	}

	return nil
}

// Get retrieves a flight by id. Returns nil, nil if it does not exist.
func (r *FlightRepository) Get(ctx context.Context, id uuid.UUID) (*flight.Flight, error) {
	row := r.db.queryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE id = $1`, id)

	f, err := scanFlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}

	return f, nil
}

// List returns flights ordered by departure time, optionally limited to
// those departing at or after since. A zero since returns every flight.
func (r *FlightRepository) List(ctx context.Context, since time.Time) ([]flight.Flight, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since.IsZero() {
		rows, err = r.db.query(ctx, `SELECT `+flightColumns+` FROM flights ORDER BY departure_time, flight_number`)
	} else {
		rows, err = r.db.query(ctx,
			`SELECT `+flightColumns+` FROM flights WHERE departure_time >= $1 ORDER BY departure_time, flight_number`,
			since.UTC(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	var flights []flight.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		flights = append(flights, *f)
	}

	return flights, rows.Err()
}

// Delete removes a flight. Returns ErrNotFound if no row matched.
func (r *FlightRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.exec(ctx, `DELETE FROM flights WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFlight(s scanner) (*flight.Flight, error) {
	var (
		f               flight.Flight
		dep, arr, route []byte
		durationSeconds int64
		vehicleID       sql.NullString
	)

	err := s.Scan(
		&f.ID, &f.FlightNumber, &f.Airline, &f.Aircraft, &dep, &arr,
		&f.Schedule.DepartureTime, &durationSeconds, &f.Schedule.EstimatedDistanceKm,
		&route, &vehicleID, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(dep, &f.Schedule.Departure); err != nil {
		return nil, fmt.Errorf("decode departure airport: %w", err)
	}
	if err := json.Unmarshal(arr, &f.Schedule.Arrival); err != nil {
		return nil, fmt.Errorf("decode arrival airport: %w", err)
	}
	if err := json.Unmarshal(route, &f.Schedule.Waypoints); err != nil {
		return nil, fmt.Errorf("decode waypoints: %w", err)
	}
	if len(f.Schedule.Waypoints) == 0 {
		f.Schedule.Waypoints = nil
	}

	f.Schedule.EstimatedDuration = time.Duration(durationSeconds) * time.Second
	f.Schedule.DepartureTime = f.Schedule.DepartureTime.UTC()
	f.CreatedAt = f.CreatedAt.UTC()
	f.VehicleID = vehicleID.String

	return &f, nil
}
