package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-location-simulator/internal/db"
	"github.com/ukydev/fleet-location-simulator/internal/models"
	"github.com/ukydev/fleet-location-simulator/internal/simulator"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Controller is the part of the simulator the control API drives.
type Controller interface {
	StartSimulation(ctx context.Context, vehicleID string, interval time.Duration) error
	StopSimulation(vehicleID string)
	StopAllSimulations()
	IsSimulationRunning(vehicleID string) bool
	RunningSimulations() []string
	ClearCache(vehicleIDs ...string)
	ResetVehiclePosition(ctx context.Context, vehicleID string) (models.Location, error)
	IncreaseSpeed(vehicleID string, step float64) float64
	DecreaseSpeed(vehicleID string, step float64) float64
	Snapshot(vehicleID string) (simulator.Snapshot, bool)
}

// SimulationHandler exposes the simulator over HTTP
type SimulationHandler struct {
	sim     Controller
	history db.PositionCollection
	logger  log.FieldLogger
}

// NewSimulationHandler creates a simulation handler. history may be nil
// when positions are not persisted.
func NewSimulationHandler(sim Controller, history db.PositionCollection, logger log.FieldLogger) *SimulationHandler {
	return &SimulationHandler{
		sim:     sim,
		history: history,
		logger:  logger.WithField("component", "simulation_handler"),
	}
}

// maxIntervalMs is the largest interval that still fits a time.Duration.
const maxIntervalMs = math.MaxInt64 / int64(time.Millisecond)

type startRequest struct {
	IntervalMs int64 `json:"interval_ms"`
}

type speedRequest struct {
	Action string  `json:"action"`
	Step   float64 `json:"step"`
}

type speedResponse struct {
	VehicleID       string  `json:"vehicle_id"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
}

type resetResponse struct {
	VehicleID string          `json:"vehicle_id"`
	Position  models.Location `json:"position"`
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// List returns the ids of running simulations
func (h *SimulationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.sim.RunningSimulations(),
	})
}

// Get returns the simulation state of one vehicle
func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, _ := h.sim.Snapshot(id)
	writeJSON(w, http.StatusOK, snap)
}

// Start begins pushing positions for a vehicle
func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req startRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.IntervalMs < 0 {
		http.Error(w, "interval_ms must not be negative", http.StatusBadRequest)
		return
	}
	if req.IntervalMs > maxIntervalMs {
		http.Error(w, "interval_ms is too large", http.StatusBadRequest)
		return
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if err := h.sim.StartSimulation(r.Context(), id, interval); err != nil {
		h.writeSimulatorError(w, id, err)
		return
	}

	snap, _ := h.sim.Snapshot(id)
	writeJSON(w, http.StatusOK, snap)
}

// Stop halts the simulation of one vehicle
func (h *SimulationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.sim.StopSimulation(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{"vehicle_id": id, "running": false})
}

// StopAll halts every simulation
func (h *SimulationHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	h.sim.StopAllSimulations()
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": []string{}})
}

// Reset teleports a vehicle to a random point of its geofence
func (h *SimulationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	pos, err := h.sim.ResetVehiclePosition(r.Context(), id)
	if err != nil {
		h.writeSimulatorError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, resetResponse{VehicleID: id, Position: pos})
}

// Speed raises or lowers the speed multiplier of a vehicle
func (h *SimulationHandler) Speed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req speedRequest
	if err := decodeOptional(r, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Step < 0 {
		http.Error(w, "step must not be negative", http.StatusBadRequest)
		return
	}

	var speed float64
	switch strings.ToLower(req.Action) {
	case "increase":
		speed = h.sim.IncreaseSpeed(id, req.Step)
	case "decrease":
		speed = h.sim.DecreaseSpeed(id, req.Step)
	default:
		http.Error(w, "action must be increase or decrease", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, speedResponse{VehicleID: id, SpeedMultiplier: speed})
}

// ClearCache drops cached state of one vehicle, or of all when no id is given
func (h *SimulationHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if id := r.PathValue("id"); id != "" {
		h.sim.ClearCache(id)
	} else {
		h.sim.ClearCache()
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns the latest persisted positions of a vehicle
func (h *SimulationHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Position history is not enabled", http.StatusNotImplemented)
		return
	}

	id := r.PathValue("id")
	limit := int64(defaultHistoryLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	positions, err := h.history.FindPositions(r.Context(), id, limit)
	if err != nil {
		h.logger.WithField("vehicle_id", id).WithError(err).Error("Failed to load position history")
		http.Error(w, "Failed to load position history", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}

	writeJSON(w, http.StatusOK, positions)
}

func (h *SimulationHandler) writeSimulatorError(w http.ResponseWriter, id string, err error) {
	logger := h.logger.WithField("vehicle_id", id).WithError(err)
	switch {
	case errors.Is(err, models.ErrVehicleNotFound):
		http.Error(w, "Vehicle not found", http.StatusNotFound)
	case errors.Is(err, simulator.ErrInvalidGeofence):
		logger.Warn("Vehicle has no usable geofence")
		http.Error(w, "Vehicle has no valid assigned location", http.StatusUnprocessableEntity)
	default:
		logger.Error("Simulator call failed")
		http.Error(w, "Upstream service unavailable", http.StatusBadGateway)
	}
}
