// Package stream pushes simulated positions to WebSocket viewers such as
// the manager map screen.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// PositionMessage is sent to viewers for every pushed position.
type PositionMessage struct {
	Type      string  `json:"type"`
	VehicleID string  `json:"vehicle_id"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"timestamp"`
}

// Client is one connected viewer. An empty vehicle filter receives every vehicle.
type Client struct {
	ID      string
	Send    chan []byte
	vehicle string
}

func NewClient(id, vehicle string, bufferSize int) *Client {
	return &Client{ID: id, Send: make(chan []byte, bufferSize), vehicle: vehicle}
}

func (c *Client) wants(vehicleID string) bool {
	return c.vehicle == "" || c.vehicle == vehicleID
}

// Hub fans positions out to connected clients. Slow clients drop messages
// instead of blocking the simulator.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  log.FieldLogger
}

func NewHub(logger log.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.WithField("component", "stream_hub"),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.WithFields(log.Fields{"client_id": client.ID, "total": total}).Debug("Client registered")
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.logger.WithFields(log.Fields{"client_id": client.ID, "total": len(h.clients)}).Debug("Client unregistered")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UpdateVehicleLocation broadcasts a position. It never fails because of a
// slow viewer, so it is safe to use as a location sink.
func (h *Hub) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error {
	data, err := json.Marshal(PositionMessage{
		Type:      "position",
		VehicleID: vehicleID,
		Lat:       lat,
		Lng:       lng,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.wants(vehicleID) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.WithField("client_id", client.ID).Debug("Client send buffer full")
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]struct{})
}
