package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// FlightAwareBaseURL is the FlightAware AeroAPI v4 base URL
	FlightAwareBaseURL = "https://aeroapi.flightaware.com/aeroapi"

	// DefaultFlightAwareTimeout for API requests
	DefaultFlightAwareTimeout = 10 * time.Second

	kmPerStatuteMile = 1.609344
)

// ErrUnknownAirport is returned by ScheduleFor when a filed endpoint is
// not in the directory.
var ErrUnknownAirport = errors.New("airport not in directory")

// FlightAwareConfig contains configuration for the FlightAware client.
type FlightAwareConfig struct {
	APIKey          string
	BaseURL         string
	RequestsPerHour int
	Timeout         time.Duration
}

// FlightAwareClient fetches filed flight plans from AeroAPI.
//
// API Documentation: https://www.flightaware.com/aeroapi/portal/documentation
// The free tier allows 500 requests/month, so the default limiter is
// deliberately slow.
type FlightAwareClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewFlightAwareClient creates a rate-limited AeroAPI client.
func NewFlightAwareClient(cfg FlightAwareConfig) *FlightAwareClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultFlightAwareTimeout
	}
	if cfg.RequestsPerHour == 0 {
		cfg.RequestsPerHour = 60
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = FlightAwareBaseURL
	}

	// Burst of 1 keeps bursts from draining a monthly quota
	perSecond := float64(cfg.RequestsPerHour) / 3600.0

	return &FlightAwareClient{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// AirportRef is an airport as AeroAPI reports it.
type AirportRef struct {
	ICAO string `json:"code_icao"`
	IATA string `json:"code_iata"`
	Name string `json:"name"`
	City string `json:"city"`
}

// FlightPlan is one entry of the AeroAPI /flights/{ident} response.
type FlightPlan struct {
	Ident       string     `json:"ident"`
	FAFlightID  string     `json:"fa_flight_id"`
	Operator    string     `json:"operator"`
	Origin      AirportRef `json:"origin"`
	Destination AirportRef `json:"destination"`

	// Route string in ICAO format (e.g., "KLAX..DAG.J100.JFK..KJFK")
	Route string `json:"route"`

	FiledAltitude int    `json:"filed_altitude"` // hundreds of feet
	FiledETE      int    `json:"filed_ete"`      // seconds
	RouteDistance int    `json:"route_distance"` // statute miles
	AircraftType  string `json:"aircraft_type"`
	Status        string `json:"status"`

	ScheduledOff *time.Time `json:"scheduled_off"`
	EstimatedOff *time.Time `json:"estimated_off"`
	ActualOff    *time.Time `json:"actual_off"`
}

// DepartureTime returns the best known takeoff time: actual, then
// estimated, then scheduled. The zero time means none is known.
func (p FlightPlan) DepartureTime() time.Time {
	for _, t := range []*time.Time{p.ActualOff, p.EstimatedOff, p.ScheduledOff} {
		if t != nil && !t.IsZero() {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FlightPlan retrieves the most recent flight plan filed under ident.
//
// Returns nil, nil if no flight plan is found (not an error).
func (c *FlightAwareClient) FlightPlan(ctx context.Context, ident string) (*FlightPlan, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/flights/%s", c.baseURL, url.PathEscape(strings.ToUpper(strings.TrimSpace(ident))))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Flights []FlightPlan `json:"flights"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(response.Flights) == 0 {
		return nil, nil
	}

	// AeroAPI lists the most recent flight first
	return &response.Flights[0], nil
}

// ScheduleFor builds a RouteSchedule from the filed plan for ident,
// resolving endpoints through dir. The filed ETE and route distance
// replace the constant-speed estimate when present.
//
// Returns nil, nil if AeroAPI has no plan for ident.
func (c *FlightAwareClient) ScheduleFor(ctx context.Context, ident string, dir *Directory) (*RouteSchedule, error) {
	plan, err := c.FlightPlan(ctx, ident)
	if err != nil || plan == nil {
		return nil, err
	}

	dep, ok := resolve(dir, plan.Origin)
	if !ok {
		return nil, fmt.Errorf("%w: origin %s", ErrUnknownAirport, plan.Origin.ICAO)
	}
	arr, ok := resolve(dir, plan.Destination)
	if !ok {
		return nil, fmt.Errorf("%w: destination %s", ErrUnknownAirport, plan.Destination.ICAO)
	}

	departure := plan.DepartureTime()
	if departure.IsZero() {
		return nil, fmt.Errorf("flight plan %s has no departure time", plan.Ident)
	}

	s := NewRouteSchedule(dep, arr, departure)
	if plan.FiledETE > 0 {
		s.EstimatedDuration = time.Duration(plan.FiledETE) * time.Second
	}
	if plan.RouteDistance > 0 {
		s.EstimatedDistanceKm = float64(plan.RouteDistance) * kmPerStatuteMile
	}
	return &s, nil
}

func resolve(dir *Directory, ref AirportRef) (Airport, bool) {
	if a, ok := dir.FindByICAO(ref.ICAO); ok {
		return a, true
	}
	return dir.FindByIATA(ref.IATA)
}
