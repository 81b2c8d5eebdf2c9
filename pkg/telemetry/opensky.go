package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/geo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// OpenSkyBaseURL is the OpenSky Network REST API base URL
	OpenSkyBaseURL = "https://opensky-network.org/api"

	// OpenSkyTokenURL is the OAuth2 token endpoint for API clients
	OpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// Token refresh buffer - refresh before actual expiry
	tokenRefreshBuffer = 2 * time.Minute

	// stateVectorFields is the minimum length of a state vector array
	stateVectorFields = 17
)

// State vector indices of the /states/all response.
const (
	svICAO24 = iota
	svCallsign
	svOriginCountry
	svTimePosition
	svLastContact
	svLongitude
	svLatitude
	svBaroAltitude
	svOnGround
	svVelocity
	svTrueTrack
	svVerticalRate
	svSensors
	svGeoAltitude
)

// tokenResponse mirrors the JSON from the OpenSky token endpoint.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"` // seconds
	TokenType   string `json:"token_type"`
}

// TokenManager handles the OAuth2 client-credentials token lifecycle.
type TokenManager struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	now          func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenManager creates a token manager against tokenURL.
// An empty tokenURL uses OpenSkyTokenURL.
func NewTokenManager(clientID, clientSecret, tokenURL string) *TokenManager {
	if tokenURL == "" {
		tokenURL = OpenSkyTokenURL
	}
	return &TokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		now:          time.Now,
	}
}

// Token returns a valid access token, refreshing if needed.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.token != "" && tm.now().Before(tm.expiresAt) {
		tok := tm.token
		tm.mu.RUnlock()
		return tok, nil
	}
	tm.mu.RUnlock()

	return tm.refresh(ctx)
}

// Invalidate drops the cached token so the next call fetches a new one.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	tm.token = ""
	tm.mu.Unlock()
}

func (tm *TokenManager) refresh(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock
	if tm.token != "" && tm.now().Before(tm.expiresAt) {
		return tm.token, nil
	}

	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tm.clientID},
		"client_secret": {tm.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokResp); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}

	tm.token = tokResp.AccessToken
	tm.expiresAt = tm.now().Add(time.Duration(tokResp.ExpiresIn)*time.Second - tokenRefreshBuffer)

	return tm.token, nil
}

// OpenSkyOption configures an OpenSkyClient.
type OpenSkyOption func(*OpenSkyClient)

// WithOpenSkyBaseURL overrides the API endpoint (useful for testing).
func WithOpenSkyBaseURL(u string) OpenSkyOption {
	return func(c *OpenSkyClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithOpenSkyHTTPClient sets a custom HTTP client.
func WithOpenSkyHTTPClient(hc *http.Client) OpenSkyOption {
	return func(c *OpenSkyClient) { c.httpClient = hc }
}

// WithBasicAuth sets legacy username/password credentials.
func WithBasicAuth(username, password string) OpenSkyOption {
	return func(c *OpenSkyClient) {
		c.username = username
		c.password = password
	}
}

// WithTokenManager enables OAuth2 bearer authentication.
func WithTokenManager(tm *TokenManager) OpenSkyOption {
	return func(c *OpenSkyClient) { c.tokens = tm }
}

// WithOpenSkyRateLimit caps requests to one every interval.
func WithOpenSkyRateLimit(interval time.Duration) OpenSkyOption {
	return func(c *OpenSkyClient) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithOpenSkyLogger sets the logger.
func WithOpenSkyLogger(l *zap.Logger) OpenSkyOption {
	return func(c *OpenSkyClient) { c.logger = l }
}

// OpenSkyClient pulls state vectors from the OpenSky Network.
// Anonymous access is limited to one /states/all call every 10 seconds,
// authenticated access to one every 5 seconds.
type OpenSkyClient struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	tokens     *TokenManager
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewOpenSkyClient creates a client with the given options applied.
func NewOpenSkyClient(opts ...OpenSkyOption) *OpenSkyClient {
	c := &OpenSkyClient{
		baseURL:    OpenSkyBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(10*time.Second), 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements Provider.
func (c *OpenSkyClient) Name() string { return "opensky" }

// Close implements Provider. There are no persistent connections to release.
func (c *OpenSkyClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// openSkyResponse mirrors the JSON shape returned by /states/all.
type openSkyResponse struct {
	Time   int64   `json:"time"`
	States [][]any `json:"states"`
}

// FetchSnapshot implements Provider.
// When area has regions the request is narrowed to their union; OpenSky
// accepts a single bounding box per call.
func (c *OpenSkyClient) FetchSnapshot(ctx context.Context, area Area) (*Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	if len(area.Regions) > 0 {
		bb := area.Regions[0]
		for _, r := range area.Regions[1:] {
			bb = geo.Union(bb, r)
		}
		q.Set("lamin", strconv.FormatFloat(bb.MinLat, 'f', 4, 64))
		q.Set("lomin", strconv.FormatFloat(bb.MinLon, 'f', 4, 64))
		q.Set("lamax", strconv.FormatFloat(bb.MaxLat, 'f', 4, 64))
		q.Set("lomax", strconv.FormatFloat(bb.MaxLon, 'f', 4, 64))
	}
	endpoint := c.baseURL + "/states/all"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	// Prefer OAuth2 bearer token, fall back to basic auth
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newRateLimitError(resp)
	case resp.StatusCode == http.StatusUnauthorized && c.tokens != nil:
		c.tokens.Invalidate()
		return nil, &StatusError{Provider: c.Name(), StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: c.Name(), StatusCode: resp.StatusCode, Body: string(body)}
	}

	var raw openSkyResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	snap := &Snapshot{
		CapturedAt: time.Unix(raw.Time, 0).UTC(),
		Source:     c.Name(),
		Reports:    parseStateVectors(raw.States),
	}
	c.logger.Debug("fetched state vectors",
		zap.Int("states", len(raw.States)),
		zap.Int("reports", len(snap.Reports)),
		zap.Time("captured_at", snap.CapturedAt))
	return snap, nil
}

// parseStateVectors converts raw state arrays, skipping malformed rows.
func parseStateVectors(states [][]any) []Report {
	reports := make([]Report, 0, len(states))
	for _, s := range states {
		if len(s) < stateVectorFields {
			continue
		}
		id, ok := s[svICAO24].(string)
		if !ok || id == "" {
			continue
		}

		r := Report{
			VehicleID:     strings.ToLower(id),
			OriginCountry: stringVal(s[svOriginCountry]),
			OnGround:      boolVal(s[svOnGround]),
		}
		if cs, ok := s[svCallsign].(string); ok && strings.TrimSpace(cs) != "" {
			r.Callsign = strPtr(cs)
		}
		lon, lonOK := s[svLongitude].(float64)
		lat, latOK := s[svLatitude].(float64)
		if lonOK && latOK {
			r.Position = &geo.Coordinate{Latitude: lat, Longitude: lon}
		}
		if v, ok := s[svLastContact].(float64); ok {
			r.LastContact = time.Unix(int64(v), 0).UTC()
		}
		if v, ok := s[svBaroAltitude].(float64); ok {
			r.BaroAltitudeM = floatPtr(v)
		}
		if v, ok := s[svVelocity].(float64); ok {
			r.VelocityMps = floatPtr(v)
		}
		if v, ok := s[svTrueTrack].(float64); ok {
			r.HeadingDeg = floatPtr(v)
		}
		if v, ok := s[svGeoAltitude].(float64); ok {
			r.GeoAltitudeM = floatPtr(v)
		}
		reports = append(reports, r)
	}
	return reports
}

func stringVal(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func boolVal(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}
