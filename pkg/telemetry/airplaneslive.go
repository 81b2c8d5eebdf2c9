package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// AirplanesLiveBaseURL is the airplanes.live v2 REST API
	AirplanesLiveBaseURL = "https://api.airplanes.live/v2"

	// airplanesLiveMaxRadiusNM is the largest radius /point accepts
	airplanesLiveMaxRadiusNM = 250.0

	// nauticalMilesPerDegreeLatitude converts box height to a search radius
	nauticalMilesPerDegreeLatitude = 60.0
)

// ErrAreaRequired is returned by providers that cannot serve a global query.
var ErrAreaRequired = errors.New("telemetry: provider requires at least one region")

// AirplanesLiveClient implements Provider for the airplanes.live API.
// API Documentation: https://airplanes.live/api-guide/
// Rate Limit: 1 request per second
type AirplanesLiveClient struct {
	// baseURL is the API base URL (default: https://api.airplanes.live/v2)
	baseURL string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// limiter spaces requests at the published rate
	limiter *rate.Limiter

	// now stamps snapshots when the response carries no timestamp
	now func() time.Time

	logger *zap.Logger
}

// NewAirplanesLiveClient creates a new airplanes.live API client.
// baseURL should be "https://api.airplanes.live/v2" (or custom for testing).
// A non-positive requestsPerSecond defaults to 1.
func NewAirplanesLiveClient(baseURL string, requestsPerSecond float64, logger *zap.Logger) *AirplanesLiveClient {
	if baseURL == "" {
		baseURL = AirplanesLiveBaseURL
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AirplanesLiveClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		now:     time.Now,
		logger:  logger,
	}
}

// Name implements Provider.
func (c *AirplanesLiveClient) Name() string { return "airplanes.live" }

// Close cleanly shuts down the client.
// For airplanes.live, this is a no-op as there are no persistent connections.
func (c *AirplanesLiveClient) Close() error {
	return nil
}

// FetchSnapshot implements Provider by querying /point once per region in
// parallel and merging the results. A vehicle seen in several regions is
// kept once, with the most recent contact winning.
func (c *AirplanesLiveClient) FetchSnapshot(ctx context.Context, area Area) (*Snapshot, error) {
	if len(area.Regions) == 0 {
		return nil, ErrAreaRequired
	}

	var (
		mu       sync.Mutex
		merged   = make(map[string]Report)
		order    []string
		captured time.Time
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, region := range area.Regions {
		g.Go(func() error {
			center := region.Center()
			radius := (region.MaxLat - region.MinLat) / 2 * nauticalMilesPerDegreeLatitude
			reports, at, err := c.point(gctx, center, radius)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if at.After(captured) {
				captured = at
			}
			for _, r := range reports {
				prev, seen := merged[r.VehicleID]
				if !seen {
					order = append(order, r.VehicleID)
				}
				if !seen || r.LastContact.After(prev.LastContact) {
					merged[r.VehicleID] = r
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{CapturedAt: captured, Source: c.Name(), Reports: make([]Report, 0, len(order))}
	for _, id := range order {
		snap.Reports = append(snap.Reports, merged[id])
	}
	c.logger.Debug("fetched aircraft",
		zap.Int("regions", len(area.Regions)),
		zap.Int("reports", len(snap.Reports)))
	return snap, nil
}

// point returns all aircraft within radiusNM of center.
// Uses the /point/[lat]/[lon]/[radius] endpoint.
func (c *AirplanesLiveClient) point(ctx context.Context, center geo.Coordinate, radiusNM float64) ([]Report, time.Time, error) {
	// Enforce the API's radius bounds
	radiusNM = math.Max(1, math.Min(radiusNM, airplanesLiveMaxRadiusNM))

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, time.Time{}, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/point/%.4f/%.4f/%.0f", c.baseURL, center.Latitude, center.Longitude, radiusNM)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, time.Time{}, newRateLimitError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, time.Time{}, &StatusError{Provider: c.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var apiResp airplanesLiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse API response: %w", err)
	}

	at := c.now().UTC()
	if apiResp.Now > 0 {
		// "now" is milliseconds since the epoch
		at = time.UnixMilli(int64(apiResp.Now)).UTC()
	}

	reports := make([]Report, 0, len(apiResp.Aircraft))
	for _, ac := range apiResp.Aircraft {
		if ac.Hex == "" {
			continue
		}
		reports = append(reports, convertAirplanesLiveAircraft(ac, at))
	}
	return reports, at, nil
}

// airplanesLiveResponse represents the JSON response from airplanes.live API.
type airplanesLiveResponse struct {
	// Aircraft is the array of aircraft data
	Aircraft []airplanesLiveAircraft `json:"ac"`

	// Total number of aircraft
	Total int `json:"total"`

	// Current timestamp in milliseconds
	Now float64 `json:"now"`
}

// airplanesLiveAircraft represents a single aircraft in the airplanes.live API response.
// Field documentation: https://airplanes.live/adsb-field-explanations/
type airplanesLiveAircraft struct {
	// Hex is the ICAO Mode S hex code (e.g., "a12345")
	Hex string `json:"hex"`

	// Flight is the callsign/flight number
	Flight *string `json:"flight"`

	// Lat is latitude in decimal degrees
	Lat *float64 `json:"lat"`

	// Lon is longitude in decimal degrees
	Lon *float64 `json:"lon"`

	// AltBaro is barometric altitude in feet
	// Note: Can be string "ground" or float
	AltBaro any `json:"alt_baro"`

	// AltGeom is geometric (GPS) altitude in feet
	AltGeom any `json:"alt_geom"`

	// Gs is ground speed in knots
	Gs *float64 `json:"gs"`

	// Track is ground track in degrees (0-360)
	Track *float64 `json:"track"`

	// Seen is seconds since last message
	Seen *float64 `json:"seen"`
}

// convertAirplanesLiveAircraft converts to a Report in SI units.
// at is the response timestamp used to turn "seen" into an absolute time.
func convertAirplanesLiveAircraft(ac airplanesLiveAircraft, at time.Time) Report {
	r := Report{
		VehicleID:   strings.ToLower(strings.TrimPrefix(ac.Hex, "~")),
		LastContact: at,
	}

	if ac.Flight != nil && strings.TrimSpace(*ac.Flight) != "" {
		r.Callsign = strPtr(*ac.Flight)
	}
	if ac.Lat != nil && ac.Lon != nil {
		r.Position = &geo.Coordinate{Latitude: *ac.Lat, Longitude: *ac.Lon}
	}

	if alt, ground := parseAltitude(ac.AltBaro); alt != nil {
		r.BaroAltitudeM = floatPtr(*alt * geo.FeetToMeters)
		r.OnGround = ground
	}
	if alt, _ := parseAltitude(ac.AltGeom); alt != nil {
		r.GeoAltitudeM = floatPtr(*alt * geo.FeetToMeters)
	}

	if ac.Gs != nil {
		r.VelocityMps = floatPtr(*ac.Gs * geo.KnotsToMetersPerSecond)
	}
	if ac.Track != nil {
		r.HeadingDeg = floatPtr(*ac.Track)
	}

	if ac.Seen != nil {
		r.LastContact = at.Add(-time.Duration(*ac.Seen * float64(time.Second)))
	}

	return r
}

// parseAltitude safely extracts altitude from a value which can be float64 or string.
// Returns nil if the value is invalid. The string "ground" yields 0 and ground=true.
func parseAltitude(val any) (alt *float64, ground bool) {
	switch v := val.(type) {
	case float64:
		return &v, false
	case string:
		if v == "ground" {
			zero := 0.0
			return &zero, true
		}
	}
	return nil, false
}
