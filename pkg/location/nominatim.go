package location

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
	"golang.org/x/time/rate"
)

const (
	// NominatimBaseURL is the public OpenStreetMap Nominatim endpoint
	NominatimBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent identifies this client to Nominatim, which rejects
	// anonymous requests
	DefaultUserAgent = "flight-tracker/1.0"
)

// ReverseGeocoder resolves a coordinate to a Place via a remote service.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, coord geo.Coordinate) (Place, error)
}

// NominatimConfig contains configuration for the Nominatim client.
type NominatimConfig struct {
	// BaseURL overrides the public endpoint (useful for self-hosted instances)
	BaseURL string

	// UserAgent sent with every request
	UserAgent string

	// RequestsPerSecond caps the request rate (public usage policy is 1/s)
	RequestsPerSecond float64

	// Timeout for each HTTP request
	Timeout time.Duration
}

// NominatimClient is a reverse geocoder backed by the Nominatim API.
type NominatimClient struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewNominatimClient creates a Nominatim client with defaults applied.
func NewNominatimClient(cfg NominatimConfig) *NominatimClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = NominatimBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	return &NominatimClient{
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// nominatimResponse is the subset of the jsonv2 reverse payload we use.
type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		Village      string `json:"village"`
		Town         string `json:"town"`
		City         string `json:"city"`
		Municipality string `json:"municipality"`
		State        string `json:"state"`
		Country      string `json:"country"`
		CountryCode  string `json:"country_code"`
	} `json:"address"`
}

// Reverse looks up the place at coord.
// Open water yields an error from Nominatim ("Unable to geocode"), which
// is returned wrapped so callers can fall back to the static classifier.
func (c *NominatimClient) Reverse(ctx context.Context, coord geo.Coordinate) (Place, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return Place{}, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', 6, 64))
	q.Set("zoom", "10")
	q.Set("format", "jsonv2")
	q.Set("accept-language", "en")
	endpoint := fmt.Sprintf("%s/reverse?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Place{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Place{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Place{}, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var r nominatimResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Place{}, fmt.Errorf("parse response: %w", err)
	}
	if r.Error != "" {
		return Place{}, fmt.Errorf("geocode %v: %s", coord, r.Error)
	}

	city := firstNonEmpty(r.Address.City, r.Address.Town, r.Address.Village, r.Address.Municipality)
	if city == "" && r.Address.Country == "" {
		return Place{}, fmt.Errorf("geocode %v: empty address", coord)
	}

	return Place{
		City:     city,
		Country:  r.Address.Country,
		Region:   r.Address.State,
		Timezone: mapTimezone(coord),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
