package flight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const planResponse = `{
  "flights": [{
    "ident": "UAL123",
    "fa_flight_id": "UAL123-1717250000-airline-0001",
    "operator": "UAL",
    "origin": {"code_icao": "KLAX", "code_iata": "LAX", "name": "Los Angeles Intl"},
    "destination": {"code_icao": "", "code_iata": "JFK", "name": "John F Kennedy Intl"},
    "route": "KLAX..DAG.J100.JFK..KJFK",
    "filed_ete": 18000,
    "route_distance": 2500,
    "aircraft_type": "B789",
    "status": "En Route",
    "scheduled_off": "2024-06-01T15:00:00Z",
    "estimated_off": "2024-06-01T15:10:00Z",
    "actual_off": null
  }]
}`

func newTestFlightAware(t *testing.T, handler http.HandlerFunc) *FlightAwareClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFlightAwareClient(FlightAwareConfig{
		APIKey:          "secret",
		BaseURL:         server.URL,
		RequestsPerHour: 3600 * 1000,
	})
}

func TestFlightAwareFlightPlan(t *testing.T) {
	client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/flights/UAL123" {
			t.Errorf("Expected path /flights/UAL123, got %s", r.URL.Path)
		}
		if r.Header.Get("x-apikey") != "secret" {
			t.Errorf("Expected x-apikey header, got %q", r.Header.Get("x-apikey"))
		}
		w.Write([]byte(planResponse))
	})

	plan, err := client.FlightPlan(context.Background(), "ual123")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if plan == nil {
		t.Fatal("Expected a plan")
	}
	if plan.AircraftType != "B789" {
		t.Errorf("Expected B789, got %s", plan.AircraftType)
	}
	want := time.Date(2024, 6, 1, 15, 10, 0, 0, time.UTC)
	if !plan.DepartureTime().Equal(want) {
		t.Errorf("Expected estimated off %v, got %v", want, plan.DepartureTime())
	}
}

func TestFlightAwareNotFound(t *testing.T) {
	t.Run("404", func(t *testing.T) {
		client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		plan, err := client.FlightPlan(context.Background(), "NONE1")
		if err != nil || plan != nil {
			t.Errorf("Expected nil, nil; got %v, %v", plan, err)
		}
	})

	t.Run("Empty list", func(t *testing.T) {
		client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"flights":[]}`))
		})
		s, err := client.ScheduleFor(context.Background(), "NONE1", DefaultDirectory())
		if err != nil || s != nil {
			t.Errorf("Expected nil, nil; got %v, %v", s, err)
		}
	})

	t.Run("Server error", func(t *testing.T) {
		client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("bad key"))
		})
		if _, err := client.FlightPlan(context.Background(), "UAL1"); err == nil {
			t.Error("Expected error for 401")
		}
	})
}

func TestFlightAwareScheduleFor(t *testing.T) {
	client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(planResponse))
	})

	s, err := client.ScheduleFor(context.Background(), "UAL123", DefaultDirectory())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if s.Departure.IATA != "LAX" || s.Arrival.IATA != "JFK" {
		t.Errorf("Expected LAX-JFK, got %s-%s", s.Departure.IATA, s.Arrival.IATA)
	}
	if s.EstimatedDuration != 5*time.Hour {
		t.Errorf("Expected filed ETE of 5h, got %v", s.EstimatedDuration)
	}
	if s.EstimatedDistanceKm != 2500*kmPerStatuteMile {
		t.Errorf("Expected filed distance, got %.1f", s.EstimatedDistanceKm)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Expected valid schedule, got %v", err)
	}
}

func TestFlightAwareUnknownAirport(t *testing.T) {
	client := newTestFlightAware(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"flights":[{"ident":"X1","origin":{"code_icao":"ZZZZ"},"destination":{"code_icao":"KJFK"},"scheduled_off":"2024-06-01T15:00:00Z"}]}`))
	})
	_, err := client.ScheduleFor(context.Background(), "X1", DefaultDirectory())
	if !errors.Is(err, ErrUnknownAirport) {
		t.Errorf("Expected ErrUnknownAirport, got %v", err)
	}
}
