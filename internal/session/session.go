// Package session drives the periodic tracking of one flight: it pulls
// telemetry snapshots in the background, matches the tracked aircraft,
// and recomputes a progress estimate once a second.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/unklstewy/flight-tracker/pkg/cache"
	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/progress"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

// Defaults for Config.
const (
	DefaultRecomputeInterval = time.Second
	DefaultRefreshInterval   = 45 * time.Second
	DefaultFetchTimeout      = 20 * time.Second
	DefaultSnapshotTTL       = 300 * time.Second
	DefaultSaveTimeout       = 5 * time.Second
)

// Fetch scopes for Config.FetchScope.
const (
	// ScopeGlobal asks the provider for every aircraft it knows about
	ScopeGlobal = "global"

	// ScopeRoute asks only for the corridor between the two airports
	ScopeRoute = "route"
)

const snapshotKey = "latest"

// ErrAlreadyTracking is returned by Start while a flight is tracked.
var ErrAlreadyTracking = errors.New("session already tracking a flight")

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateTrackingOnline
	StateTrackingOffline
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTrackingOnline:
		return "tracking-online"
	case StateTrackingOffline:
		return "tracking-offline"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// VehicleStore remembers which transponder flew a flight number so later
// sessions can match by vehicle id.
type VehicleStore interface {
	// VehicleID returns the remembered id, or "" if there is none.
	VehicleID(ctx context.Context, flightNumber string) (string, error)

	// SaveVehicleID records id for flightNumber, noting which provider saw it.
	SaveVehicleID(ctx context.Context, flightNumber, vehicleID, source string) error
}

// Config wires a Session's collaborators. Only fields marked optional may
// be left zero; zero intervals use the package defaults.
type Config struct {
	// Provider fetches telemetry (optional; nil tracks offline only)
	Provider telemetry.Provider

	// Matcher picks the tracked aircraft (optional)
	Matcher *telemetry.Matcher

	// Estimator computes results (optional)
	Estimator *progress.Estimator

	// Scheduler drives the ticks and supplies time (optional; RealScheduler)
	Scheduler Scheduler

	// Vehicles persists matched vehicle ids (optional)
	Vehicles VehicleStore

	// Snapshots persists the latest snapshot across restarts (optional)
	Snapshots *telemetry.SnapshotStore

	// Retry controls fetch retries; the zero value means a single attempt
	Retry telemetry.RetryConfig

	// FetchScope is ScopeGlobal or ScopeRoute (default ScopeGlobal)
	FetchScope string

	// RouteHalfWidthKm sizes the corridor regions for ScopeRoute
	RouteHalfWidthKm float64

	RecomputeInterval time.Duration
	RefreshInterval   time.Duration
	FetchTimeout      time.Duration
	SnapshotTTL       time.Duration

	// Logger for session events (optional)
	Logger *zap.Logger
}

// Session tracks at most one flight at a time.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	snapshots *cache.Cache[string, *telemetry.Snapshot]
	updates   chan progress.Result

	mu         sync.Mutex
	state      State
	current    flight.Flight
	vehicleID  string
	offline    bool
	latest     *progress.Result
	generation uint64
	cancel     context.CancelFunc
	ctx        context.Context
	tasks      []Task

	publishMu sync.Mutex
	fetching  atomic.Bool
	inflight  sync.WaitGroup
}

// New creates an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Matcher == nil {
		cfg.Matcher = telemetry.NewMatcher()
	}
	if cfg.Estimator == nil {
		cfg.Estimator = &progress.Estimator{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	if cfg.FetchScope == "" {
		cfg.FetchScope = ScopeGlobal
	}
	if cfg.FetchScope != ScopeGlobal && cfg.FetchScope != ScopeRoute {
		return nil, fmt.Errorf("unknown fetch scope %q", cfg.FetchScope)
	}
	if cfg.RouteHalfWidthKm <= 0 {
		cfg.RouteHalfWidthKm = telemetry.DefaultSearchHalfWidthKm
	}
	if cfg.RecomputeInterval <= 0 {
		cfg.RecomputeInterval = DefaultRecomputeInterval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = DefaultSnapshotTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}

	snapshots, err := cache.New[string, *telemetry.Snapshot](1, cache.WithClock(cfg.Scheduler.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	return &Session{
		cfg:       cfg,
		logger:    logger,
		snapshots: snapshots,
		updates:   make(chan progress.Result, 1),
	}, nil
}

// Start begins tracking f. Tracking runs until Stop is called or ctx is
// cancelled; ctx should outlive the call, not be a request context.
func (s *Session) Start(ctx context.Context, f flight.Flight) error {
	if err := f.Schedule.Validate(); err != nil {
		return fmt.Errorf("cannot track %s: %w", f.FlightNumber, err)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyTracking
	}
	s.mu.Unlock()

	vehicleID := f.VehicleID
	if vehicleID == "" && s.cfg.Vehicles != nil {
		id, err := s.cfg.Vehicles.VehicleID(ctx, f.FlightNumber)
		if err != nil {
			s.logger.Warn("failed to load remembered vehicle id",
				zap.String("flight", f.FlightNumber), zap.Error(err))
		}
		vehicleID = id
	}

	s.seedSnapshot()

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyTracking
	}
	s.generation++
	gen := s.generation
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.current = f
	s.vehicleID = vehicleID
	s.latest = nil
	s.state = s.trackingState()

	s.tasks = []Task{s.cfg.Scheduler.Every(s.cfg.RecomputeInterval, func() { s.recompute(gen) })}
	if s.cfg.Provider != nil {
		s.tasks = append(s.tasks, s.cfg.Scheduler.Every(s.cfg.RefreshInterval, func() { s.refresh(gen) }))
	}
	sessCtx := s.ctx
	s.mu.Unlock()

	go func() {
		<-sessCtx.Done()
		s.stopGeneration(gen)
	}()

	s.logger.Info("tracking started",
		zap.String("flight", f.FlightNumber),
		zap.String("from", f.Schedule.Departure.Code()),
		zap.String("to", f.Schedule.Arrival.Code()),
		zap.String("vehicle_id", vehicleID))

	s.recompute(gen)
	if s.cfg.Provider != nil {
		s.refresh(gen)
	}
	return nil
}

// Stop cancels all periodic work, clears the latest result and returns
// to Idle. A fetch already in flight is left to finish; its snapshot may
// still reach the cache but no result is published from it.
func (s *Session) Stop() {
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()
	s.stopGeneration(gen)
}

func (s *Session) stopGeneration(gen uint64) {
	s.mu.Lock()
	if s.state == StateIdle || gen != s.generation {
		s.mu.Unlock()
		return
	}
	for _, t := range s.tasks {
		t.Stop()
	}
	s.tasks = nil
	s.cancel()
	s.state = StateIdle
	s.offline = false
	s.latest = nil
	s.generation++
	number := s.current.FlightNumber
	s.mu.Unlock()

	s.publishMu.Lock()
	select {
	case <-s.updates:
	default:
	}
	s.publishMu.Unlock()

	s.logger.Info("tracking stopped", zap.String("flight", number))
}

// SetOfflineMode forces (or releases) schedule-only estimation. It takes
// effect on the next tick and does not reset anything. Called while idle
// it picks the mode for the next Start; Stop returns to online.
func (s *Session) SetOfflineMode(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
	if s.state != StateIdle {
		s.state = s.trackingState()
	}
}

// must hold s.mu
func (s *Session) trackingState() State {
	if s.offline {
		return StateTrackingOffline
	}
	return StateTrackingOnline
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Flight returns the tracked flight, if any.
func (s *Session) Flight() (flight.Flight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return flight.Flight{}, false
	}
	f := s.current
	f.VehicleID = s.vehicleID
	return f, true
}

// Latest returns the most recent result, if one has been computed since
// Start.
func (s *Session) Latest() (progress.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return progress.Result{}, false
	}
	return *s.latest, true
}

// Updates delivers new results. The channel holds only the newest unread
// result; older unread ones are dropped. It is never closed.
func (s *Session) Updates() <-chan progress.Result {
	return s.updates
}

// Snapshot returns the cached telemetry snapshot if it has not expired.
func (s *Session) Snapshot() (*telemetry.Snapshot, bool) {
	return s.snapshots.Get(snapshotKey)
}

// Wait blocks until background fetches and saves have finished.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) seedSnapshot() {
	if s.cfg.Snapshots == nil {
		return
	}
	snap, err := s.cfg.Snapshots.Load()
	if err != nil {
		s.logger.Warn("failed to load persisted snapshot", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	if s.publishSnapshot(snap) {
		s.logger.Debug("seeded snapshot from disk",
			zap.Time("captured_at", snap.CapturedAt), zap.Int("reports", snap.Len()))
	}
}

// publishSnapshot stores snap unless the cache already holds a newer one.
// The entry expires SnapshotTTL after snap was captured.
func (s *Session) publishSnapshot(snap *telemetry.Snapshot) bool {
	ttl := s.cfg.SnapshotTTL - snap.Age(s.cfg.Scheduler.Now())
	if ttl <= 0 {
		return false
	}
	if ttl > s.cfg.SnapshotTTL {
		ttl = s.cfg.SnapshotTTL
	}
	return s.snapshots.Update(snapshotKey, ttl, func(current *telemetry.Snapshot, ok bool) (*telemetry.Snapshot, bool) {
		if ok && snap.CapturedAt.Before(current.CapturedAt) {
			return nil, false
		}
		return snap, true
	})
}

// refresh launches one background fetch unless one is already running.
func (s *Session) refresh(gen uint64) {
	s.mu.Lock()
	if s.state == StateIdle || gen != s.generation {
		s.mu.Unlock()
		return
	}
	sched := s.current.Schedule
	s.mu.Unlock()

	if !s.fetching.CompareAndSwap(false, true) {
		s.logger.Debug("previous fetch still running, skipping refresh")
		return
	}

	area := telemetry.Area{}
	if s.cfg.FetchScope == ScopeRoute {
		area = telemetry.RouteArea(sched.Departure.Location, sched.Arrival.Location, s.cfg.RouteHalfWidthKm)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.fetching.Store(false)

		// Not tied to the session context: Stop lets the fetch finish.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
		defer cancel()

		snap, err := telemetry.RetryWithBackoffResult(ctx, s.cfg.Retry, func() (*telemetry.Snapshot, error) {
			return s.cfg.Provider.FetchSnapshot(ctx, area)
		})
		if err != nil {
			s.logger.Warn("telemetry fetch failed, keeping cached snapshot",
				zap.String("provider", s.cfg.Provider.Name()), zap.Error(err))
			return
		}
		if snap == nil {
			return
		}

		if !s.publishSnapshot(snap) {
			s.logger.Debug("discarded older snapshot", zap.Time("captured_at", snap.CapturedAt))
			return
		}
		if s.cfg.Snapshots != nil {
			if err := s.cfg.Snapshots.Save(snap); err != nil {
				s.logger.Warn("failed to persist snapshot", zap.Error(err))
			}
		}
		s.recompute(gen)
	}()
}

// recompute produces a fresh result from the cached snapshot. It never
// performs I/O on the calling goroutine.
func (s *Session) recompute(gen uint64) {
	s.mu.Lock()
	if s.state == StateIdle || gen != s.generation {
		s.mu.Unlock()
		return
	}
	f := s.current
	vehicleID := s.vehicleID
	offline := s.offline
	s.mu.Unlock()

	var report *telemetry.Report
	if !offline {
		if snap, ok := s.snapshots.Get(snapshotKey); ok {
			q := telemetry.Query{
				FlightID:       f.FlightNumber,
				KnownVehicleID: vehicleID,
				Departure:      f.Schedule.Departure.Location,
				Arrival:        f.Schedule.Arrival.Location,
			}
			if m, ok := s.cfg.Matcher.Match(q, snap); ok {
				report = &m.Report
				if m.ShouldRemember() && m.Report.VehicleID != vehicleID {
					s.remember(gen, f.FlightNumber, m, snap.Source)
				}
			}
		}
	}

	res, err := s.cfg.Estimator.Estimate(f.Schedule, report, offline, s.cfg.Scheduler.Now())
	if err != nil {
		s.logger.Warn("estimate failed, keeping previous result",
			zap.String("flight", f.FlightNumber), zap.Error(err))
		return
	}

	s.publish(gen, res)
}

// publish makes res the latest result unless the session moved on or a
// result computed later was already published. The fetch goroutine and
// the ticker both recompute, so results can arrive out of order.
func (s *Session) publish(gen uint64, res progress.Result) bool {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.state == StateIdle || gen != s.generation {
		s.mu.Unlock()
		return false
	}
	if s.latest != nil && res.ComputedAt().Before(s.latest.ComputedAt()) {
		s.mu.Unlock()
		return false
	}
	s.latest = &res
	s.mu.Unlock()

	// Keep only the newest unread result
	select {
	case <-s.updates:
	default:
	}
	s.updates <- res
	return true
}

func (s *Session) remember(gen uint64, flightNumber string, m telemetry.Match, source string) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.vehicleID = m.Report.VehicleID
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("matched aircraft",
		zap.String("flight", flightNumber),
		zap.String("vehicle_id", m.Report.VehicleID),
		zap.String("strategy", m.Strategy))

	if s.cfg.Vehicles == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
		defer cancel()
		if err := s.cfg.Vehicles.SaveVehicleID(ctx, flightNumber, m.Report.VehicleID, source); err != nil {
			s.logger.Warn("failed to save vehicle id", zap.String("flight", flightNumber), zap.Error(err))
		}
	}()
}
