package location

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/unklstewy/flight-tracker/pkg/cache"
	"github.com/unklstewy/flight-tracker/pkg/geo"
	"go.uber.org/zap"
)

const (
	// DefaultGeocodeCacheSize bounds the number of remembered places
	DefaultGeocodeCacheSize = 100

	// DefaultLookupTimeout bounds a single background reverse geocode
	DefaultLookupTimeout = 5 * time.Second
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Geocoder is optional; without it only the static classifier is used
	Geocoder ReverseGeocoder

	// CacheSize is the maximum number of cached places
	CacheSize int

	// LookupTimeout bounds each remote lookup
	LookupTimeout time.Duration

	Logger *zap.Logger
}

// Resolver names coordinates using a cache, an optional remote geocoder
// and the static classifier, in that order. Classify never blocks on
// the network: a cache miss answers from the static tables and, when a
// geocoder is configured, schedules a background lookup that fills the
// cache for later calls.
type Resolver struct {
	static   *Classifier
	geocoder ReverseGeocoder
	places   *cache.Cache[string, Place]
	timeout  time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewResolver creates a resolver on top of static.
func NewResolver(static *Classifier, cfg ResolverConfig) (*Resolver, error) {
	if static == nil {
		static = NewClassifier()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultGeocodeCacheSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	places, err := cache.New[string, Place](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geocode cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		static:   static,
		geocoder: cfg.Geocoder,
		places:   places,
		timeout:  cfg.LookupTimeout,
		logger:   cfg.Logger.Named("geocode"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
	}, nil
}

// cacheKey rounds to two decimals (about 1 km), which is finer than any
// city box in the static table.
func cacheKey(c geo.Coordinate) string {
	return fmt.Sprintf("%.2f,%.2f", math.Round(c.Latitude*100)/100, math.Round(c.Longitude*100)/100)
}

// Classify returns a display name for coord without blocking.
func (r *Resolver) Classify(coord geo.Coordinate) string {
	key := cacheKey(coord)
	if p, ok := r.places.Get(key); ok {
		return p.Name()
	}

	place := r.static.Lookup(coord)
	if r.geocoder == nil {
		r.places.Put(key, place, cache.NoExpiry)
		return place.Name()
	}

	// The static table covers few countries, so an ocean answer may be
	// land elsewhere. Over real water the geocoder errors and fetch keeps
	// the static place.

	r.lookupAsync(key, coord, place)
	return place.Name()
}

// Resolve returns the best available Place for coord, calling the remote
// geocoder synchronously on a cache miss.
func (r *Resolver) Resolve(ctx context.Context, coord geo.Coordinate) Place {
	key := cacheKey(coord)
	if p, ok := r.places.Get(key); ok {
		return p
	}
	place := r.fetch(ctx, coord, r.static.Lookup(coord))
	r.places.Put(key, place, cache.NoExpiry)
	return place
}

func (r *Resolver) lookupAsync(key string, coord geo.Coordinate, fallback Place) {
	r.mu.Lock()
	if _, busy := r.pending[key]; busy || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.pending[key] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.pending, key)
			r.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		r.places.Put(key, r.fetch(ctx, coord, fallback), cache.NoExpiry)
	}()
}

// fetch asks the remote geocoder and merges its answer with the static
// fallback so missing fields are still populated.
func (r *Resolver) fetch(ctx context.Context, coord geo.Coordinate, fallback Place) Place {
	if r.geocoder == nil {
		return fallback
	}

	p, err := r.geocoder.Reverse(ctx, coord)
	if err != nil {
		r.logger.Debug("reverse geocode failed, using static table",
			zap.Float64("lat", coord.Latitude),
			zap.Float64("lon", coord.Longitude),
			zap.Error(err))
		return fallback
	}
	if p.Country == "" {
		p.Country = fallback.Country
	}
	if p.Region == "" {
		p.Region = fallback.Region
	}
	if p.Timezone == "" {
		p.Timezone = fallback.Timezone
	}
	return p
}

// CachedPlaces returns the number of places currently cached.
func (r *Resolver) CachedPlaces() int {
	return r.places.Len()
}

// Close cancels outstanding lookups and waits for them to finish.
func (r *Resolver) Close() error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

// Wait blocks until all background lookups scheduled so far have finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}
