package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/geo"
	"github.com/unklstewy/flight-tracker/pkg/progress"
	"github.com/unklstewy/flight-tracker/pkg/telemetry"
)

var departure = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	areas   []telemetry.Area
	respond func(call int, now time.Time) (*telemetry.Snapshot, error)
	clock   *ManualClock
	release chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) FetchSnapshot(ctx context.Context, area telemetry.Area) (*telemetry.Snapshot, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.areas = append(p.areas, area)
	p.mu.Unlock()

	if p.release != nil {
		<-p.release
	}
	return p.respond(call, p.clock.Now())
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeVehicles struct {
	mu    sync.Mutex
	known map[string]string
	saved []string
}

func (v *fakeVehicles) VehicleID(ctx context.Context, flightNumber string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.known[flightNumber], nil
}

func (v *fakeVehicles) SaveVehicleID(ctx context.Context, flightNumber, vehicleID, source string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saved = append(v.saved, flightNumber+"="+vehicleID+"@"+source)
	return nil
}

func testFlight(t *testing.T) flight.Flight {
	t.Helper()
	dir := flight.DefaultDirectory()
	lax, _ := dir.Find("LAX")
	jfk, _ := dir.Find("JFK")
	s := flight.NewRouteSchedule(lax, jfk, departure)
	s.EstimatedDuration = 4 * time.Hour
	return flight.New("UA123", s)
}

func midpoint(f flight.Flight) *geo.Coordinate {
	c := geo.Interpolate(f.Schedule.Departure.Location, f.Schedule.Arrival.Location, 0.5)
	return &c
}

// liveSnapshot reports the flight at its midpoint, stamped with the
// clock's current time.
func liveSnapshot(f flight.Flight, callsign string) func(int, time.Time) (*telemetry.Snapshot, error) {
	return func(_ int, now time.Time) (*telemetry.Snapshot, error) {
		cs := callsign
		speed := 240.0
		return &telemetry.Snapshot{
			CapturedAt: now,
			Source:     "fake",
			Reports: []telemetry.Report{{
				VehicleID:   "a1b2c3",
				Callsign:    &cs,
				Position:    midpoint(f),
				VelocityMps: &speed,
				LastContact: now,
			}},
		}, nil
	}
}

func newTestSession(t *testing.T, clock *ManualClock, p telemetry.Provider, mutate ...func(*Config)) *Session {
	t.Helper()
	cfg := Config{
		Provider:  p,
		Scheduler: clock,
		Estimator: &progress.Estimator{},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Stop()
		s.Wait()
	})
	return s
}

func TestStartPublishesLiveResult(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123 ")}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()

	assert.Equal(t, StateTrackingOnline, s.State())
	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeLive, res.Mode)
	assert.InDelta(t, 0.5, res.Fraction(), 1e-6)
	assert.Equal(t, 1, p.Calls())

	select {
	case got := <-s.Updates():
		assert.Equal(t, progress.ModeLive, got.Mode)
	default:
		t.Fatal("expected a result on the updates channel")
	}
}

func TestRecomputeEverySecond(t *testing.T) {
	f := testFlight(t)
	start := departure.Add(time.Hour)
	clock := NewManualClock(start)
	s := newTestSession(t, clock, nil)

	require.NoError(t, s.Start(context.Background(), f))
	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeOffline, res.Mode)
	assert.Equal(t, start, res.ComputedAt())

	clock.Advance(3 * time.Second)
	res, _ = s.Latest()
	assert.Equal(t, start.Add(3*time.Second), res.ComputedAt())
	assert.InDelta(t, 3603.0/14400.0, res.Fraction(), 1e-9)
}

func TestRefreshEvery45Seconds(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123")}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	assert.Equal(t, 1, p.Calls(), "immediate refresh on start")

	clock.Advance(44 * time.Second)
	s.Wait()
	assert.Equal(t, 1, p.Calls())

	clock.Advance(time.Second)
	s.Wait()
	assert.Equal(t, 2, p.Calls())

	for i := 0; i < 2; i++ {
		clock.Advance(45 * time.Second)
		s.Wait()
	}
	assert.Equal(t, 4, p.Calls())
}

func TestFetchFailureKeepsSnapshotUntilExpiry(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	live := liveSnapshot(f, "UA123")
	p := &fakeProvider{clock: clock, respond: func(call int, now time.Time) (*telemetry.Snapshot, error) {
		if call == 1 {
			return live(call, now)
		}
		return nil, errors.New("connection refused")
	}}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()

	clock.Advance(46 * time.Second)
	s.Wait()
	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeLive, res.Mode, "cached snapshot survives a failed fetch")

	clock.Advance(254 * time.Second) // 300s after capture
	s.Wait()
	res, _ = s.Latest()
	assert.Equal(t, progress.ModeOffline, res.Mode, "expired snapshot means no telemetry")
	_, cached := s.Snapshot()
	assert.False(t, cached)
}

func TestOlderSnapshotIsRejected(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	first := clock.Now()
	p := &fakeProvider{clock: clock, respond: func(call int, now time.Time) (*telemetry.Snapshot, error) {
		at := first
		if call > 1 {
			at = first.Add(-10 * time.Second)
		}
		return &telemetry.Snapshot{CapturedAt: at, Source: "fake"}, nil
	}}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	clock.Advance(45 * time.Second)
	s.Wait()
	require.Equal(t, 2, p.Calls())

	snap, ok := s.Snapshot()
	require.True(t, ok)
	assert.Equal(t, first, snap.CapturedAt)
}

func TestSetOfflineMode(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123")}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	live, _ := s.Latest()
	require.Equal(t, progress.ModeLive, live.Mode)

	s.SetOfflineMode(true)
	assert.Equal(t, StateTrackingOffline, s.State())
	clock.Advance(time.Second)

	off, _ := s.Latest()
	assert.Equal(t, progress.ModeOffline, off.Mode)
	// Aircraft on schedule: switching source does not jump
	assert.InDelta(t, live.Fraction(), off.Fraction(), 0.001)

	s.SetOfflineMode(false)
	assert.Equal(t, StateTrackingOnline, s.State())
	clock.Advance(time.Second)
	back, _ := s.Latest()
	assert.Equal(t, progress.ModeLive, back.Mode)
}

func TestStopReturnsToOnline(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123")}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	s.SetOfflineMode(true)
	require.Equal(t, StateTrackingOffline, s.State())
	s.Stop()

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	assert.Equal(t, StateTrackingOnline, s.State())
	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeLive, res.Mode)

	// Chosen while idle, the mode applies to the next Start
	s.Stop()
	s.SetOfflineMode(true)
	require.NoError(t, s.Start(context.Background(), f))
	assert.Equal(t, StateTrackingOffline, s.State())
}

func TestPublishKeepsNewestResult(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	s := newTestSession(t, clock, nil)

	require.NoError(t, s.Start(context.Background(), f))
	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	est := &progress.Estimator{}
	newer, err := est.Estimate(f.Schedule, nil, true, clock.Now().Add(10*time.Second))
	require.NoError(t, err)
	older, err := est.Estimate(f.Schedule, nil, true, clock.Now().Add(5*time.Second))
	require.NoError(t, err)

	assert.True(t, s.publish(gen, newer))
	assert.False(t, s.publish(gen, older), "an older result must not replace a newer one")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, newer.ComputedAt(), latest.ComputedAt())

	got := <-s.Updates()
	assert.Equal(t, newer.ComputedAt(), got.ComputedAt())
}

func TestStop(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123")}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	s.Stop()

	assert.Equal(t, StateIdle, s.State())
	_, ok := s.Latest()
	assert.False(t, ok)
	_, ok = s.Flight()
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	s.Wait()
	assert.Equal(t, 1, p.Calls(), "no refresh after stop")
	_, ok = s.Latest()
	assert.False(t, ok, "no recompute after stop")

	select {
	case r := <-s.Updates():
		t.Fatalf("unexpected result after stop: %+v", r)
	default:
	}

	// A stopped session can track again
	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()
	_, ok = s.Latest()
	assert.True(t, ok)
}

func TestStopDiscardsInFlightFetch(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123"), release: make(chan struct{})}
	s := newTestSession(t, clock, p)

	require.NoError(t, s.Start(context.Background(), f))
	s.Stop()
	close(p.release)
	s.Wait()

	assert.Equal(t, StateIdle, s.State())
	_, ok := s.Latest()
	assert.False(t, ok)
	_, cached := s.Snapshot()
	assert.True(t, cached, "completed fetch may still populate the cache")
}

func TestContextCancelStops(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure)
	s := newTestSession(t, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, f))
	cancel()

	assert.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
}

func TestStartErrors(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure)
	s := newTestSession(t, clock, nil)

	bad := f
	bad.Schedule.EstimatedDuration = 0
	err := s.Start(context.Background(), bad)
	assert.ErrorIs(t, err, flight.ErrInvalidSchedule)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(context.Background(), f))
	assert.ErrorIs(t, s.Start(context.Background(), f), ErrAlreadyTracking)

	_, err = New(Config{FetchScope: "everywhere"})
	assert.Error(t, err)
}

func TestVehicleIDRemembered(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "ua123")}
	vehicles := &fakeVehicles{known: map[string]string{}}
	s := newTestSession(t, clock, p, func(c *Config) { c.Vehicles = vehicles })

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()

	got, ok := s.Flight()
	require.True(t, ok)
	assert.Equal(t, "a1b2c3", got.VehicleID)

	// Further ticks do not save the same id again
	clock.Advance(3 * time.Second)
	s.Wait()
	vehicles.mu.Lock()
	defer vehicles.mu.Unlock()
	assert.Equal(t, []string{"UA123=a1b2c3@fake"}, vehicles.saved)
}

func TestKnownVehicleIDMatch(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(2 * time.Hour))
	// Different callsign: only the remembered id identifies the aircraft
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "N12345")}
	vehicles := &fakeVehicles{known: map[string]string{"UA123": "A1B2C3"}}
	s := newTestSession(t, clock, p, func(c *Config) { c.Vehicles = vehicles })

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()

	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeLive, res.Mode)
	vehicles.mu.Lock()
	defer vehicles.mu.Unlock()
	assert.Empty(t, vehicles.saved)
}

func TestRouteScope(t *testing.T) {
	f := testFlight(t)
	clock := NewManualClock(departure.Add(time.Hour))
	p := &fakeProvider{clock: clock, respond: liveSnapshot(f, "UA123")}
	s := newTestSession(t, clock, p, func(c *Config) {
		c.FetchScope = ScopeRoute
		c.RouteHalfWidthKm = 463
	})

	require.NoError(t, s.Start(context.Background(), f))
	s.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.areas, 1)
	assert.NotEmpty(t, p.areas[0].Regions)
}

func TestSeedFromSnapshotStore(t *testing.T) {
	// The store ages snapshots against the wall clock
	now := time.Now().UTC().Truncate(time.Second)
	f := testFlight(t)
	f.Schedule.DepartureTime = now.Add(-2 * time.Hour)
	clock := NewManualClock(now)

	store := telemetry.NewSnapshotStore(filepath.Join(t.TempDir(), "snap"), 0)
	snap, _ := liveSnapshot(f, "UA123")(1, now.Add(-time.Minute))
	require.NoError(t, store.Save(snap))

	s := newTestSession(t, clock, nil, func(c *Config) { c.Snapshots = store })
	require.NoError(t, s.Start(context.Background(), f))

	res, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, progress.ModeLive, res.Mode)

	// Seeded entry expires 300s after capture, not after loading
	clock.Advance(240 * time.Second)
	res, _ = s.Latest()
	assert.Equal(t, progress.ModeOffline, res.Mode)
}

func TestUpdatesKeepsNewest(t *testing.T) {
	f := testFlight(t)
	start := departure.Add(time.Hour)
	clock := NewManualClock(start)
	s := newTestSession(t, clock, nil)

	require.NoError(t, s.Start(context.Background(), f))
	clock.Advance(5 * time.Second)

	got := <-s.Updates()
	assert.Equal(t, start.Add(5*time.Second), got.ComputedAt())

	select {
	case r := <-s.Updates():
		t.Fatalf("expected only the newest result, got another: %+v", r)
	default:
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "tracking-online", StateTrackingOnline.String())
	assert.Equal(t, "tracking-offline", StateTrackingOffline.String())
}

func TestManualClockOrdering(t *testing.T) {
	clock := NewManualClock(departure)
	var order []string
	clock.Every(2*time.Second, func() { order = append(order, "two") })
	clock.Every(time.Second, func() { order = append(order, "one") })
	stopped := clock.Every(time.Second, func() { order = append(order, "never") })
	stopped.Stop()

	clock.Advance(2 * time.Second)
	assert.Equal(t, []string{"one", "two", "one"}, order)
	assert.Equal(t, departure.Add(2*time.Second), clock.Now())
}
