// Package app assembles the tracking engine from configuration. Both the
// HTTP server and the terminal dashboard build their session here.
package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/flight-tracker/internal/auth"
	"github.com/unklstewy/flight-tracker/internal/session"
	"github.com/unklstewy/flight-tracker/pkg/config"
	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/location"
	"github.com/unklstewy/flight-tracker/pkg/progress"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

// Engine is a wired tracking session and the collaborators that need
// closing when it is done.
type Engine struct {
	Session  *session.Session
	Provider telemetry.Provider
	Resolver *location.Resolver
}

// Close stops tracking and releases the provider and geocoder.
func (e *Engine) Close() error {
	e.Session.Stop()
	e.Session.Wait()
	e.Resolver.Close()
	if e.Provider != nil {
		return e.Provider.Close()
	}
	return nil
}

// NewProvider builds the configured telemetry provider.
func NewProvider(cfg config.TelemetryConfig, logger *zap.Logger) (telemetry.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.ProviderOpenSky:
		opts, err := cfg.OpenSky()
		if err != nil {
			return nil, err
		}
		var clientOpts []telemetry.OpenSkyOption
		if opts.BaseURL != "" {
			clientOpts = append(clientOpts, telemetry.WithOpenSkyBaseURL(opts.BaseURL))
		}
		switch {
		case opts.ClientID != "" && opts.ClientSecret != "":
			tokenURL := opts.TokenURL
			if tokenURL == "" {
				tokenURL = telemetry.OpenSkyTokenURL
			}
			clientOpts = append(clientOpts, telemetry.WithTokenManager(
				telemetry.NewTokenManager(opts.ClientID, opts.ClientSecret, tokenURL)))
		case opts.Username != "":
			clientOpts = append(clientOpts, telemetry.WithBasicAuth(opts.Username, opts.Password))
		}
		if opts.RateLimitSeconds > 0 {
			clientOpts = append(clientOpts,
				telemetry.WithOpenSkyRateLimit(time.Duration(opts.RateLimitSeconds*float64(time.Second))))
		}
		clientOpts = append(clientOpts, telemetry.WithOpenSkyLogger(logger.Named("opensky")))
		return telemetry.NewOpenSkyClient(clientOpts...), nil

	case config.ProviderAirplanesLive:
		opts, err := cfg.AirplanesLive()
		if err != nil {
			return nil, err
		}
		return telemetry.NewAirplanesLiveClient(opts.BaseURL, opts.RequestsPerSecond, logger.Named("airplanes.live")), nil
	}

	return nil, fmt.Errorf("unknown telemetry provider %q", cfg.Provider)
}

// RetryConfig converts the JSON retry settings.
func RetryConfig(s config.RetrySettings, logger *zap.Logger) telemetry.RetryConfig {
	return telemetry.RetryConfig{
		MaxRetries:        s.MaxRetries,
		InitialDelay:      time.Duration(s.InitialDelaySeconds * float64(time.Second)),
		MaxDelay:          time.Duration(s.MaxDelaySeconds * float64(time.Second)),
		Multiplier:        s.Multiplier,
		RespectRetryAfter: true,
		Logger:            logger,
	}
}

// NewResolver builds the place namer, with Nominatim when enabled.
func NewResolver(cfg config.GeocodingConfig, logger *zap.Logger) (*location.Resolver, error) {
	rc := location.ResolverConfig{
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	}
	if cfg.Enabled {
		rc.Geocoder = location.NewNominatimClient(location.NominatimConfig{
			BaseURL:   cfg.BaseURL,
			UserAgent: cfg.UserAgent,
		})
	}
	return location.NewResolver(location.NewClassifier(), rc)
}

// NewScheduleSource returns the FlightAware client, or nil when no API
// key is configured.
func NewScheduleSource(cfg config.ScheduleConfig) *flight.FlightAwareClient {
	if cfg.FlightAwareAPIKey == "" {
		return nil
	}
	return flight.NewFlightAwareClient(flight.FlightAwareConfig{
		APIKey:          cfg.FlightAwareAPIKey,
		RequestsPerHour: cfg.RequestsPerHour,
	})
}

// NewAuth builds the API token service, or nil when auth is disabled.
func NewAuth(cfg config.AuthConfig) *auth.Service {
	if !cfg.Enabled {
		return nil
	}
	users := make([]auth.User, len(cfg.Users))
	for i, u := range cfg.Users {
		users[i] = auth.User{Username: u.Username, PasswordHash: u.PasswordHash, Role: u.Role}
	}
	return auth.NewService(auth.Config{
		JWTSecret:     cfg.JWTSecret,
		TokenDuration: time.Duration(cfg.TokenHours) * time.Hour,
		Users:         users,
	})
}

// NewEngine wires a session from cfg. vehicles may be nil.
func NewEngine(cfg *config.Config, vehicles session.VehicleStore, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	provider, err := NewProvider(cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(cfg.Geocoding, logger)
	if err != nil {
		provider.Close()
		return nil, err
	}

	estimator := progress.NewEstimator(resolver)
	estimator.MaxExtrapolation = time.Duration(cfg.Session.MaxExtrapolationSeconds) * time.Second

	recompute, refresh, fetchTimeout, ttl := cfg.Session.Durations()

	var snapshots *telemetry.SnapshotStore
	if cfg.Telemetry.SnapshotPath != "" {
		snapshots = telemetry.NewSnapshotStore(cfg.Telemetry.SnapshotPath, ttl)
	}

	sess, err := session.New(session.Config{
		Provider:          provider,
		Estimator:         estimator,
		Vehicles:          vehicles,
		Snapshots:         snapshots,
		Retry:             RetryConfig(cfg.Telemetry.Retry, logger.Named("retry")),
		FetchScope:        cfg.Telemetry.FetchScope,
		RouteHalfWidthKm:  cfg.Telemetry.RouteHalfWidthKm,
		RecomputeInterval: recompute,
		RefreshInterval:   refresh,
		FetchTimeout:      fetchTimeout,
		SnapshotTTL:       ttl,
		Logger:            logger.Named("session"),
	})
	if err != nil {
		resolver.Close()
		provider.Close()
		return nil, err
	}

	return &Engine{Session: sess, Provider: provider, Resolver: resolver}, nil
}
