package db

import (
	"context"

	"github.com/ukydev/fleet-location-simulator/internal/models"
)

// VehicleCollection defines the vehicle operations the simulator needs.
type VehicleCollection interface {
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicleLocation(ctx context.Context, id string, lat, lng float64) error
}

// PositionCollection defines the operations on the position history.
type PositionCollection interface {
	InsertPosition(ctx context.Context, position models.Position) error
	FindPositions(ctx context.Context, vehicleID string, limit int64) ([]models.Position, error)
}
