package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "FLIGHT_TRACKER_"

// Telemetry provider names.
const (
	ProviderOpenSky       = "opensky"
	ProviderAirplanesLive = "airplanes.live"
)

// Fetch scopes for the telemetry refresh.
const (
	ScopeGlobal = "global"
	ScopeRoute  = "route"
)

// API roles. Operators may change state; viewers may only read.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Geocoding GeocodingConfig `json:"geocoding"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Session   SessionConfig   `json:"session"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// AllowedOrigins lists CORS origins for the API (default: all)
	AllowedOrigins []string `json:"allowed_origins"`

	// ShutdownTimeoutSeconds bounds graceful shutdown
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds"`

	// Auth protects the API when enabled
	Auth AuthConfig `json:"auth"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Enabled requires a bearer token on every route except health and login
	Enabled bool `json:"enabled"`

	// JWTSecret signs issued tokens (override with FLIGHT_TRACKER_JWT_SECRET)
	JWTSecret string `json:"jwt_secret"`

	// TokenHours is how long an issued token stays valid (default: 24)
	TokenHours int `json:"token_hours"`

	// Users are the accounts allowed to log in
	Users []UserCredential `json:"users"`
}

// UserCredential is one API account. PasswordHash is a bcrypt hash, as
// printed by "flight-tracker -hash-password".
type UserCredential struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	Role         string `json:"role"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Driver is the database driver (postgres, sqlite)
	Driver string `json:"driver"`

	// Path is the database file for sqlite
	Path string `json:"path,omitempty"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password,omitempty"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// TelemetryConfig selects and configures the live position source.
type TelemetryConfig struct {
	// Provider is "opensky" or "airplanes.live"
	Provider string `json:"provider"`

	// FetchScope is "global" (one query for the whole world) or "route"
	// (a box around the great-circle route)
	FetchScope string `json:"fetch_scope"`

	// RouteHalfWidthKm pads the route box when FetchScope is "route"
	RouteHalfWidthKm float64 `json:"route_half_width_km"`

	// Options holds provider-specific settings, see OpenSkyOptions and
	// AirplanesLiveOptions
	Options map[string]any `json:"options,omitempty"`

	// SnapshotPath is where the last snapshot is persisted; empty disables it
	SnapshotPath string `json:"snapshot_path"`

	// Retry controls the backoff on failed fetches
	Retry RetrySettings `json:"retry"`
}

// OpenSkyOptions are the options understood by the OpenSky provider.
type OpenSkyOptions struct {
	BaseURL  string `mapstructure:"base_url"`
	TokenURL string `mapstructure:"token_url"`

	// ClientID and ClientSecret enable OAuth2 client-credentials
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// Username and Password are the legacy basic-auth credentials
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// RateLimitSeconds is the minimum spacing between calls
	RateLimitSeconds float64 `mapstructure:"rate_limit_seconds"`
}

// AirplanesLiveOptions are the options understood by the airplanes.live provider.
type AirplanesLiveOptions struct {
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RetrySettings mirrors telemetry.RetryConfig in JSON-friendly units.
type RetrySettings struct {
	MaxRetries          int     `json:"max_retries"`
	InitialDelaySeconds float64 `json:"initial_delay_seconds"`
	MaxDelaySeconds     float64 `json:"max_delay_seconds"`
	Multiplier          float64 `json:"multiplier"`
}

// GeocodingConfig controls reverse geocoding of the current position.
type GeocodingConfig struct {
	// Enabled turns on Nominatim lookups; the static tables are always used
	Enabled bool `json:"enabled"`

	// BaseURL overrides the Nominatim endpoint
	BaseURL string `json:"base_url,omitempty"`

	// UserAgent is required by the Nominatim usage policy
	UserAgent string `json:"user_agent"`

	// CacheSize is the number of cached places (default: 100)
	CacheSize int `json:"cache_size"`
}

// ScheduleConfig configures where flight schedules come from.
type ScheduleConfig struct {
	// FlightAwareAPIKey enables schedule lookups by flight number
	FlightAwareAPIKey string `json:"flightaware_api_key,omitempty"`

	// RequestsPerHour limits AeroAPI calls
	RequestsPerHour int `json:"requests_per_hour"`
}

// SessionConfig holds the tracking loop intervals.
type SessionConfig struct {
	RecomputeIntervalSeconds int `json:"recompute_interval_seconds"`
	RefreshIntervalSeconds   int `json:"refresh_interval_seconds"`
	FetchTimeoutSeconds      int `json:"fetch_timeout_seconds"`
	SnapshotTTLSeconds       int `json:"snapshot_ttl_seconds"`

	// MaxExtrapolationSeconds caps dead reckoning of stale reports; 0 disables it
	MaxExtrapolationSeconds int `json:"max_extrapolation_seconds"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level"`

	// Format is "console" or "json"
	Format string `json:"format"`

	// File enables a rotating log file in addition to stderr
	File string `json:"file,omitempty"`

	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

// Load reads configuration from a JSON file.
// A .env file next to the working directory is loaded first when present.
// If the config file doesn't exist, the defaults are used.
func Load(path string) (*Config, error) {
	// Missing .env is normal
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                   "8080",
			Host:                   "0.0.0.0",
			AllowedOrigins:         []string{"*"},
			ShutdownTimeoutSeconds: 10,
			Auth: AuthConfig{
				TokenHours: 24,
			},
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         "data/flight-tracker.db",
			Host:         "localhost",
			Port:         5432,
			Database:     "flighttracker",
			Username:     "flighttracker",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Telemetry: TelemetryConfig{
			Provider:         ProviderOpenSky,
			FetchScope:       ScopeGlobal,
			RouteHalfWidthKm: 200,
			SnapshotPath:     "data/snapshot.msgpack.zst",
			Retry: RetrySettings{
				MaxRetries:          3,
				InitialDelaySeconds: 1,
				MaxDelaySeconds:     60,
				Multiplier:          2.0,
			},
		},
		Geocoding: GeocodingConfig{
			Enabled:   false,
			UserAgent: "flight-tracker/1.0",
			CacheSize: 100,
		},
		Schedule: ScheduleConfig{
			RequestsPerHour: 60,
		},
		Session: SessionConfig{
			RecomputeIntervalSeconds: 1,
			RefreshIntervalSeconds:   45,
			FetchTimeoutSeconds:      20,
			SnapshotTTLSeconds:       300,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("invalid database config: postgres needs host and database")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("invalid database config: sqlite needs a path")
		}
	default:
		return fmt.Errorf("invalid database config: unsupported driver %q", c.Database.Driver)
	}

	switch c.Telemetry.Provider {
	case ProviderOpenSky, ProviderAirplanesLive:
	default:
		return fmt.Errorf("invalid telemetry config: unknown provider %q", c.Telemetry.Provider)
	}
	switch c.Telemetry.FetchScope {
	case ScopeGlobal, ScopeRoute:
	default:
		return fmt.Errorf("invalid telemetry config: unknown fetch scope %q", c.Telemetry.FetchScope)
	}
	if c.Telemetry.Provider == ProviderAirplanesLive && c.Telemetry.FetchScope == ScopeGlobal {
		return fmt.Errorf("invalid telemetry config: airplanes.live needs the route fetch scope")
	}
	if c.Telemetry.Retry.MaxRetries < 0 {
		return fmt.Errorf("invalid telemetry config: max_retries must not be negative")
	}

	s := c.Session
	if s.RecomputeIntervalSeconds <= 0 || s.RefreshIntervalSeconds <= 0 ||
		s.FetchTimeoutSeconds <= 0 || s.SnapshotTTLSeconds <= 0 {
		return fmt.Errorf("invalid session config: intervals must be positive")
	}

	if a := c.Server.Auth; a.Enabled {
		if a.JWTSecret == "" {
			return fmt.Errorf("invalid server config: auth needs a jwt_secret")
		}
		if a.TokenHours <= 0 {
			return fmt.Errorf("invalid server config: token_hours must be positive")
		}
		for _, u := range a.Users {
			if u.Username == "" || u.PasswordHash == "" {
				return fmt.Errorf("invalid server config: users need a username and password_hash")
			}
			switch u.Role {
			case RoleOperator, RoleViewer:
			default:
				return fmt.Errorf("invalid server config: user %q has unknown role %q", u.Username, u.Role)
			}
		}
	}

	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging config: unknown format %q", c.Logging.Format)
	}

	return nil
}

// OpenSky decodes the provider options for OpenSky.
func (t TelemetryConfig) OpenSky() (OpenSkyOptions, error) {
	var opts OpenSkyOptions
	if err := decodeOptions(t.Options, &opts); err != nil {
		return OpenSkyOptions{}, fmt.Errorf("decode opensky options: %w", err)
	}
	return opts, nil
}

// AirplanesLive decodes the provider options for airplanes.live.
func (t TelemetryConfig) AirplanesLive() (AirplanesLiveOptions, error) {
	var opts AirplanesLiveOptions
	if err := decodeOptions(t.Options, &opts); err != nil {
		return AirplanesLiveOptions{}, fmt.Errorf("decode airplanes.live options: %w", err)
	}
	return opts, nil
}

func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Durations converts the session settings to time.Duration values.
func (s SessionConfig) Durations() (recompute, refresh, fetchTimeout, snapshotTTL time.Duration) {
	return seconds(s.RecomputeIntervalSeconds), seconds(s.RefreshIntervalSeconds),
		seconds(s.FetchTimeoutSeconds), seconds(s.SnapshotTTLSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// setOption stores an override in the provider options map.
func (t *TelemetryConfig) setOption(key string, value any) {
	if t.Options == nil {
		t.Options = make(map[string]any)
	}
	t.Options[key] = value
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() error {
	if port := env("PORT"); port != "" {
		c.Server.Port = port
	}
	if driver := env("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if path := env("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if dbPassword := env("DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if provider := env("TELEMETRY_PROVIDER"); provider != "" {
		c.Telemetry.Provider = provider
	}
	if scope := env("FETCH_SCOPE"); scope != "" {
		c.Telemetry.FetchScope = scope
	}
	if id := env("OPENSKY_CLIENT_ID"); id != "" {
		c.Telemetry.setOption("client_id", id)
	}
	if secret := env("OPENSKY_CLIENT_SECRET"); secret != "" {
		c.Telemetry.setOption("client_secret", secret)
	}
	if secret := env("JWT_SECRET"); secret != "" {
		c.Server.Auth.JWTSecret = secret
	}
	if faKey := env("FLIGHTAWARE_API_KEY"); faKey != "" {
		c.Schedule.FlightAwareAPIKey = faKey
	}
	if level := env("LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if v := env("GEOCODING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sGEOCODING_ENABLED: %w", EnvPrefix, err)
		}
		c.Geocoding.Enabled = enabled
	}
	return nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}
