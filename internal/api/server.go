// Package api serves the flight-tracker REST and WebSocket endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/unklstewy/flight-tracker/internal/auth"
	"github.com/unklstewy/flight-tracker/internal/session"
	"github.com/unklstewy/flight-tracker/pkg/flight"
	"github.com/unklstewy/flight-tracker/pkg/progress"
)

// FlightStore persists flight records.
type FlightStore interface {
	Upsert(ctx context.Context, f *flight.Flight) error
	Get(ctx context.Context, id uuid.UUID) (*flight.Flight, error)
	List(ctx context.Context, since time.Time) ([]flight.Flight, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Tracker is the tracking session the API drives.
type Tracker interface {
	Start(ctx context.Context, f flight.Flight) error
	Stop()
	SetOfflineMode(offline bool)
	State() session.State
	Flight() (flight.Flight, bool)
	Latest() (progress.Result, bool)
	Updates() <-chan progress.Result
}

// ScheduleSource looks up a filed schedule by flight number.
type ScheduleSource interface {
	ScheduleFor(ctx context.Context, ident string, dir *flight.Directory) (*flight.RouteSchedule, error)
}

// Options configures a Server.
type Options struct {
	Flights  FlightStore
	Tracker  Tracker
	Airports *flight.Directory

	// Schedules fills in routes for flights created by number only (optional)
	Schedules ScheduleSource

	// Health reports storage health (optional)
	Health func(ctx context.Context) error

	// TrackingContext bounds tracking started through the API; it must
	// outlive individual requests (default: context.Background())
	TrackingContext context.Context

	// AllowedOrigins for CORS (default: all)
	AllowedOrigins []string

	// Auth requires bearer tokens when set
	Auth *auth.Service

	Logger *zap.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	router    *chi.Mux
	flights   FlightStore
	tracker   Tracker
	airports  *flight.Directory
	schedules ScheduleSource
	health    func(ctx context.Context) error
	trackCtx  context.Context
	authSvc   *auth.Service
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	hub       *hub
}

// NewServer creates a server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Airports == nil {
		opts.Airports = flight.DefaultDirectory()
	}
	if opts.TrackingContext == nil {
		opts.TrackingContext = context.Background()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		router:    chi.NewRouter(),
		flights:   opts.Flights,
		tracker:   opts.Tracker,
		airports:  opts.Airports,
		schedules: opts.Schedules,
		health:    opts.Health,
		trackCtx:  opts.TrackingContext,
		authSvc:   opts.Auth,
		logger:    opts.Logger,
		upgrader: websocket.Upgrader{
			// Origins are enforced by the CORS middleware
			CheckOrigin: func(*http.Request) bool { return true },
		},
		hub: newHub(),
	}

	s.setupRoutes(opts.AllowedOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Pump forwards tracker results to stream subscribers until ctx is done.
// It must run for /track/stream to receive updates.
func (s *Server) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.hub.closeAll()
			return
		case res := <-s.tracker.Updates():
			msg, err := json.Marshal(res)
			if err != nil {
				s.logger.Error("failed to encode result", zap.Error(err))
				continue
			}
			s.hub.broadcast(msg)
		}
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(origins []string) {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(auth.RoleViewer))

			r.Get("/airports", s.handleSearchAirports)
			r.Get("/flights", s.handleListFlights)
			r.Get("/flights/{id}", s.handleGetFlight)
			r.Get("/track", s.handleTrackStatus)
			r.Get("/track/progress", s.handleProgress)
			r.Get("/track/stream", s.handleStream)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(auth.RoleOperator))

			r.Post("/flights", s.handleCreateFlight)
			r.Delete("/flights/{id}", s.handleDeleteFlight)
			r.Post("/flights/{id}/track", s.handleTrackFlight)
			r.Delete("/track", s.handleStopTracking)
			r.Put("/track/offline", s.handleSetOffline)
		})
	})
}

// handleHealth reports process, storage and tracker state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]interface{}{
		"status":   "ok",
		"tracking": s.tracker.State().String(),
	}

	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			resp["status"] = "degraded"
			resp["database"] = err.Error()
		} else {
			resp["database"] = "ok"
		}
	}

	respondJSON(w, status, resp)
}

// handleSearchAirports searches the bundled airport table
func (s *Server) handleSearchAirports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondJSON(w, http.StatusOK, s.airports.All())
		return
	}
	respondJSON(w, http.StatusOK, s.airports.Search(q))
}

func (s *Server) handleListFlights(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	flights, err := s.flights.List(r.Context(), since)
	if err != nil {
		s.logger.Error("failed to list flights", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list flights")
		return
	}
	if flights == nil {
		flights = []flight.Flight{}
	}
	respondJSON(w, http.StatusOK, flights)
}

// createFlightRequest is the POST /flights body. Departure and Arrival
// may be omitted when a schedule source can resolve the flight number.
type createFlightRequest struct {
	FlightNumber  string    `json:"flight_number"`
	Airline       string    `json:"airline"`
	Aircraft      string    `json:"aircraft"`
	Departure     string    `json:"departure"`
	Arrival       string    `json:"arrival"`
	DepartureTime time.Time `json:"departure_time"`
}

func (s *Server) handleCreateFlight(w http.ResponseWriter, r *http.Request) {
	var req createFlightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.FlightNumber = strings.TrimSpace(req.FlightNumber)
	if req.FlightNumber == "" {
		respondError(w, http.StatusBadRequest, "flight_number is required")
		return
	}

	schedule, status, msg := s.resolveSchedule(r.Context(), req)
	if schedule == nil {
		respondError(w, status, msg)
		return
	}

	f := flight.New(req.FlightNumber, *schedule)
	f.Airline = req.Airline
	f.Aircraft = req.Aircraft

	if err := s.flights.Upsert(r.Context(), &f); err != nil {
		s.logger.Error("failed to store flight", zap.String("flight", f.FlightNumber), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store flight")
		return
	}

	respondJSON(w, http.StatusCreated, f)
}

// resolveSchedule builds the schedule from explicit airports, falling
// back to the schedule source. On failure it returns an HTTP status and
// message instead.
func (s *Server) resolveSchedule(ctx context.Context, req createFlightRequest) (*flight.RouteSchedule, int, string) {
	if req.Departure == "" && req.Arrival == "" {
		if s.schedules == nil {
			return nil, http.StatusBadRequest, "departure and arrival are required"
		}
		schedule, err := s.schedules.ScheduleFor(ctx, req.FlightNumber, s.airports)
		switch {
		case errors.Is(err, flight.ErrUnknownAirport):
			return nil, http.StatusUnprocessableEntity, err.Error()
		case err != nil:
			s.logger.Warn("schedule lookup failed", zap.String("flight", req.FlightNumber), zap.Error(err))
			return nil, http.StatusBadGateway, "schedule lookup failed"
		case schedule == nil:
			return nil, http.StatusNotFound, "no schedule found for " + req.FlightNumber
		}
		return schedule, 0, ""
	}

	dep, ok := s.airports.Find(req.Departure)
	if !ok {
		return nil, http.StatusUnprocessableEntity, "unknown departure airport " + req.Departure
	}
	arr, ok := s.airports.Find(req.Arrival)
	if !ok {
		return nil, http.StatusUnprocessableEntity, "unknown arrival airport " + req.Arrival
	}
	if req.DepartureTime.IsZero() {
		return nil, http.StatusBadRequest, "departure_time is required"
	}

	schedule := flight.NewRouteSchedule(dep, arr, req.DepartureTime.UTC())
	if err := schedule.Validate(); err != nil {
		return nil, http.StatusUnprocessableEntity, err.Error()
	}
	return &schedule, 0, ""
}

// flightFromPath loads the flight named by {id}, writing the error
// response itself when it returns nil.
func (s *Server) flightFromPath(w http.ResponseWriter, r *http.Request) *flight.Flight {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid flight id")
		return nil
	}

	f, err := s.flights.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get flight", zap.Stringer("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get flight")
		return nil
	}
	if f == nil {
		respondError(w, http.StatusNotFound, "flight not found")
		return nil
	}
	return f
}

func (s *Server) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	if f := s.flightFromPath(w, r); f != nil {
		respondJSON(w, http.StatusOK, f)
	}
}

func (s *Server) handleDeleteFlight(w http.ResponseWriter, r *http.Request) {
	f := s.flightFromPath(w, r)
	if f == nil {
		return
	}
	if current, ok := s.tracker.Flight(); ok && current.ID == f.ID {
		respondError(w, http.StatusConflict, "flight is being tracked")
		return
	}
	if err := s.flights.Delete(r.Context(), f.ID); err != nil {
		s.logger.Error("failed to delete flight", zap.Stringer("id", f.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete flight")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrackFlight(w http.ResponseWriter, r *http.Request) {
	f := s.flightFromPath(w, r)
	if f == nil {
		return
	}

	if err := s.tracker.Start(s.trackCtx, *f); err != nil {
		if errors.Is(err, session.ErrAlreadyTracking) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, s.trackStatus())
}

// trackStatusResponse describes the session for GET /track.
type trackStatusResponse struct {
	State  string           `json:"state"`
	Flight *flight.Flight   `json:"flight,omitempty"`
	Latest *progress.Result `json:"latest,omitempty"`
}

func (s *Server) trackStatus() trackStatusResponse {
	resp := trackStatusResponse{State: s.tracker.State().String()}
	if f, ok := s.tracker.Flight(); ok {
		resp.Flight = &f
	}
	if res, ok := s.tracker.Latest(); ok {
		resp.Latest = &res
	}
	return resp
}

func (s *Server) handleTrackStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.trackStatus())
}

func (s *Server) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	s.tracker.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.tracker.State() == session.StateIdle {
		respondError(w, http.StatusNotFound, "not tracking")
		return
	}
	res, ok := s.tracker.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetOffline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offline *bool `json:"offline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Offline == nil {
		respondError(w, http.StatusBadRequest, `body must be {"offline": true|false}`)
		return
	}

	s.tracker.SetOfflineMode(*req.Offline)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"offline": *req.Offline,
		"state":   s.tracker.State().String(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
