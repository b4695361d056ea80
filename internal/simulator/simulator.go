// Package simulator moves vehicles around their assigned geofence and pushes
// the synthesized positions to a location sink on a fixed interval.
//
// Every running vehicle owns one goroutine driven by a time.Ticker. Ticks of
// the same vehicle never overlap: the ticker drops ticks while a slow push is
// still in flight. All per-vehicle state lives behind a single mutex and no
// network call is made while holding it.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-location-simulator/internal/geo"
	"github.com/ukydev/fleet-location-simulator/internal/models"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultPushTimeout = 10 * time.Second

	DefaultSpeed     = 1.0
	MinSpeed         = 0.1
	MaxSpeed         = 5.0
	DefaultSpeedStep = 0.5
)

// ErrInvalidGeofence means the directory record has no usable assigned
// location. Positions cannot be computed until the cache is cleared and
// the record is fixed upstream.
var ErrInvalidGeofence = errors.New("invalid geofence")

// errRunStopped aborts a tick whose run was stopped while it was scheduled.
var errRunStopped = errors.New("simulation stopped")

// Directory is the read side: vehicle metadata.
type Directory interface {
	GetVehicleByID(ctx context.Context, vehicleID string) (*models.Vehicle, error)
}

// Sink is the write side: position reports.
type Sink interface {
	UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error
}

type run struct {
	cancel   context.CancelFunc
	interval time.Duration
}

type vehicleState struct {
	metadata *models.Vehicle
	position *models.Location
	speed    float64
	run      *run
}

func (st *vehicleState) speedMultiplier() float64 {
	if st.speed == 0 {
		return DefaultSpeed
	}
	return st.speed
}

// Snapshot is a read-only view of one vehicle's simulation state.
type Snapshot struct {
	VehicleID       string           `json:"vehicle_id"`
	Running         bool             `json:"running"`
	Interval        time.Duration    `json:"interval,omitempty"`
	SpeedMultiplier float64          `json:"speed_multiplier"`
	Status          string           `json:"status,omitempty"`
	Position        *models.Location `json:"position,omitempty"`
	Geofence        *models.Geofence `json:"geofence,omitempty"`
}

// Simulator owns the per-vehicle state and timers.
type Simulator struct {
	directory       Directory
	sink            Sink
	logger          log.FieldLogger
	defaultInterval time.Duration
	pushTimeout     time.Duration

	mu       sync.Mutex
	vehicles map[string]*vehicleState
	rng      *rand.Rand

	wg sync.WaitGroup
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithLogger(logger log.FieldLogger) Option {
	return func(s *Simulator) { s.logger = logger }
}

// WithRand makes position sampling deterministic.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) { s.rng = rng }
}

func WithDefaultInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.defaultInterval = d
		}
	}
}

func WithPushTimeout(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.pushTimeout = d
		}
	}
}

// New creates a simulator reading metadata from directory and pushing to sink.
func New(directory Directory, sink Sink, opts ...Option) *Simulator {
	s := &Simulator{
		directory:       directory,
		sink:            sink,
		logger:          log.StandardLogger(),
		defaultInterval: DefaultInterval,
		pushTimeout:     DefaultPushTimeout,
		vehicles:        make(map[string]*vehicleState),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "simulator")
	return s
}

// stateFor returns the state of vehicleID, creating it. Caller holds s.mu.
func (s *Simulator) stateFor(vehicleID string) *vehicleState {
	st, ok := s.vehicles[vehicleID]
	if !ok {
		st = &vehicleState{}
		s.vehicles[vehicleID] = st
	}
	return st
}

// StartSimulation fetches the vehicle's metadata if needed and starts pushing
// a new position every interval. A non-positive interval uses the default.
// Starting an already running vehicle is a no-op.
func (s *Simulator) StartSimulation(ctx context.Context, vehicleID string, interval time.Duration) error {
	logger := s.logger.WithField("vehicle_id", vehicleID)
	if interval <= 0 {
		interval = s.defaultInterval
	}

	if s.IsSimulationRunning(vehicleID) {
		logger.Warn("Simulation already running")
		return nil
	}

	if _, err := s.ensureMetadata(ctx, vehicleID, nil); err != nil {
		logger.WithError(err).Error("Failed to start simulation")
		return fmt.Errorf("start simulation for %s: %w", vehicleID, err)
	}

	s.mu.Lock()
	st := s.stateFor(vehicleID)
	if st.run != nil {
		s.mu.Unlock()
		logger.Warn("Simulation already running")
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, interval: interval}
	st.run = r
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(runCtx, vehicleID, r)

	logger.WithField("interval", interval).Info("Started simulation")
	return nil
}

// StopSimulation cancels the vehicle's timer. No tick starts after it
// returns; a push already in flight completes and is only logged.
func (s *Simulator) StopSimulation(vehicleID string) {
	s.mu.Lock()
	st, ok := s.vehicles[vehicleID]
	if !ok || st.run == nil {
		s.mu.Unlock()
		s.logger.WithField("vehicle_id", vehicleID).Warn("No simulation running")
		return
	}
	st.run.cancel()
	st.run = nil
	s.mu.Unlock()

	s.logger.WithField("vehicle_id", vehicleID).Info("Stopped simulation")
}

// StopAllSimulations cancels every running timer.
func (s *Simulator) StopAllSimulations() {
	s.mu.Lock()
	stopped := 0
	for _, st := range s.vehicles {
		if st.run != nil {
			st.run.cancel()
			st.run = nil
			stopped++
		}
	}
	s.mu.Unlock()

	s.logger.WithField("count", stopped).Info("Stopped all simulations")
}

// Close stops every simulation and waits for in-flight ticks to finish.
func (s *Simulator) Close() {
	s.StopAllSimulations()
	s.wg.Wait()
}

func (s *Simulator) IsSimulationRunning(vehicleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.vehicles[vehicleID]
	return ok && st.run != nil
}

// RunningSimulations returns the ids of running vehicles, sorted.
func (s *Simulator) RunningSimulations() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.vehicles))
	for id, st := range s.vehicles {
		if st.run != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// ClearCache drops cached metadata, position and speed of the given
// vehicles, or of every vehicle when called without ids. Running
// simulations keep running and re-fetch metadata on their next tick.
func (s *Simulator) ClearCache(vehicleIDs ...string) {
	s.mu.Lock()
	if len(vehicleIDs) == 0 {
		for id := range s.vehicles {
			s.clearLocked(id)
		}
	} else {
		for _, id := range vehicleIDs {
			s.clearLocked(id)
		}
	}
	s.mu.Unlock()

	s.logger.WithField("vehicle_ids", vehicleIDs).Info("Cleared simulation cache")
}

func (s *Simulator) clearLocked(vehicleID string) {
	st, ok := s.vehicles[vehicleID]
	if !ok {
		return
	}
	if st.run == nil {
		delete(s.vehicles, vehicleID)
		return
	}
	st.metadata = nil
	st.position = nil
	st.speed = 0
}

// IncreaseSpeed raises the speed multiplier by step and returns the new
// value. A non-positive step uses DefaultSpeedStep.
func (s *Simulator) IncreaseSpeed(vehicleID string, step float64) float64 {
	if step <= 0 {
		step = DefaultSpeedStep
	}
	return s.adjustSpeed(vehicleID, step)
}

// DecreaseSpeed lowers the speed multiplier by step and returns the new
// value. A non-positive step uses DefaultSpeedStep.
func (s *Simulator) DecreaseSpeed(vehicleID string, step float64) float64 {
	if step <= 0 {
		step = DefaultSpeedStep
	}
	return s.adjustSpeed(vehicleID, -step)
}

func (s *Simulator) adjustSpeed(vehicleID string, delta float64) float64 {
	s.mu.Lock()
	st := s.stateFor(vehicleID)
	st.speed = clampSpeed(st.speedMultiplier() + delta)
	speed := st.speed
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{"vehicle_id": vehicleID, "speed_multiplier": speed}).Debug("Adjusted speed")
	return speed
}

// SpeedMultiplier returns the current multiplier, DefaultSpeed when unset.
func (s *Simulator) SpeedMultiplier(vehicleID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.vehicles[vehicleID]; ok {
		return st.speedMultiplier()
	}
	return DefaultSpeed
}

func clampSpeed(v float64) float64 {
	if v < MinSpeed {
		return MinSpeed
	}
	if v > MaxSpeed {
		return MaxSpeed
	}
	return v
}

// Snapshot returns the current state of a vehicle, if it is tracked.
func (s *Simulator) Snapshot(vehicleID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.vehicles[vehicleID]
	if !ok {
		return Snapshot{VehicleID: vehicleID, SpeedMultiplier: DefaultSpeed}, false
	}
	snap := Snapshot{
		VehicleID:       vehicleID,
		Running:         st.run != nil,
		SpeedMultiplier: st.speedMultiplier(),
	}
	if st.run != nil {
		snap.Interval = st.run.interval
	}
	if st.position != nil {
		p := *st.position
		snap.Position = &p
	}
	if st.metadata != nil {
		snap.Status = st.metadata.Status
		if st.metadata.AssignedLocation != nil {
			g := *st.metadata.AssignedLocation
			snap.Geofence = &g
		}
	}
	return snap, true
}

// ResetVehiclePosition places the vehicle at a random point of its geofence
// and pushes it immediately. Fetch and push errors are returned.
func (s *Simulator) ResetVehiclePosition(ctx context.Context, vehicleID string) (models.Location, error) {
	meta, err := s.ensureMetadata(ctx, vehicleID, nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("reset position of %s: %w", vehicleID, err)
	}
	fence, err := geofenceOf(vehicleID, meta)
	if err != nil {
		return models.Location{}, err
	}

	s.mu.Lock()
	pos := geo.RandomPoint(s.rng, fence)
	s.stateFor(vehicleID).position = &pos
	s.mu.Unlock()

	if err := s.sink.UpdateVehicleLocation(ctx, vehicleID, pos.Lat, pos.Lng); err != nil {
		return models.Location{}, fmt.Errorf("push reset position of %s: %w", vehicleID, err)
	}

	s.logger.WithFields(log.Fields{"vehicle_id": vehicleID, "lat": pos.Lat, "lng": pos.Lng}).Info("Reset vehicle position")
	return pos, nil
}

// NextPosition computes and stores the vehicle's next position without
// pushing it. This is the movement step every tick performs.
func (s *Simulator) NextPosition(ctx context.Context, vehicleID string) (models.Location, error) {
	return s.nextPosition(ctx, vehicleID, nil)
}

// nextPosition advances the vehicle. When r is set the step is only applied
// while r is still the vehicle's active run.
func (s *Simulator) nextPosition(ctx context.Context, vehicleID string, r *run) (models.Location, error) {
	meta, err := s.ensureMetadata(ctx, vehicleID, r)
	if err != nil {
		return models.Location{}, err
	}
	fence, err := geofenceOf(vehicleID, meta)
	if err != nil {
		return models.Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.activeState(vehicleID, r)
	if err != nil {
		return models.Location{}, err
	}

	var current models.Location
	switch {
	case st.position != nil:
		current = *st.position
	case meta.CurrentLocation != nil:
		current = *meta.CurrentLocation
	default:
		current = geo.RandomPoint(s.rng, fence)
	}

	next := current
	if !meta.IsIdle() {
		next = geo.Step(s.rng, current, fence, st.speedMultiplier())
	}
	st.position = &next
	return next, nil
}

// ensureMetadata returns the cached directory record, fetching it once. A
// record fetched for a run that is no longer active is dropped.
func (s *Simulator) ensureMetadata(ctx context.Context, vehicleID string, r *run) (*models.Vehicle, error) {
	s.mu.Lock()
	if st, ok := s.vehicles[vehicleID]; ok && st.metadata != nil {
		meta := st.metadata
		s.mu.Unlock()
		return meta, nil
	}
	s.mu.Unlock()

	meta, err := s.directory.GetVehicleByID(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("fetch vehicle %s: %w", vehicleID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.activeState(vehicleID, r)
	if err != nil {
		return nil, err
	}
	if st.metadata == nil {
		st.metadata = meta
	}
	return st.metadata, nil
}

// activeState returns the state a write may go to. Without a run the entry is
// created on demand; with one it must still be the vehicle's active run.
// Callers hold s.mu.
func (s *Simulator) activeState(vehicleID string, r *run) (*vehicleState, error) {
	if r == nil {
		return s.stateFor(vehicleID), nil
	}
	st, ok := s.vehicles[vehicleID]
	if !ok || st.run != r {
		return nil, errRunStopped
	}
	return st, nil
}

func geofenceOf(vehicleID string, meta *models.Vehicle) (models.Geofence, error) {
	if meta.AssignedLocation == nil {
		return models.Geofence{}, fmt.Errorf("vehicle %s has no assigned location: %w", vehicleID, ErrInvalidGeofence)
	}
	fence := *meta.AssignedLocation
	if err := fence.Validate(); err != nil {
		return models.Geofence{}, fmt.Errorf("vehicle %s: %w: %v", vehicleID, ErrInvalidGeofence, err)
	}
	return fence, nil
}

func (s *Simulator) loop(ctx context.Context, vehicleID string, r *run) {
	defer s.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// select picks randomly when both are ready
			if ctx.Err() != nil {
				return
			}
			s.tick(ctx, vehicleID, r)
		}
	}
}

// tick computes and pushes one position. Failures are logged and the
// schedule continues.
func (s *Simulator) tick(ctx context.Context, vehicleID string, r *run) {
	logger := s.logger.WithField("vehicle_id", vehicleID)

	pos, err := s.nextPosition(ctx, vehicleID, r)
	if err != nil {
		switch {
		case errors.Is(err, errRunStopped), errors.Is(err, context.Canceled):
			return
		case errors.Is(err, ErrInvalidGeofence):
			logger.WithError(err).Error("Cannot compute position")
		default:
			logger.WithError(err).Error("Failed to fetch vehicle metadata")
		}
		return
	}

	// the push outlives a stop so the result can still be logged
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
	defer cancel()

	fields := log.Fields{"lat": pos.Lat, "lng": pos.Lng}
	if err := s.sink.UpdateVehicleLocation(pushCtx, vehicleID, pos.Lat, pos.Lng); err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to push location")
		return
	}
	logger.WithFields(fields).Debug("Pushed location")
}
