package models

import (
	"errors"
	"strings"
)

// ErrVehicleNotFound is returned by directories that do not know a vehicle.
var ErrVehicleNotFound = errors.New("vehicle not found")

// Vehicle statuses reported by the rental backend.
const (
	StatusAvailable   = "Available"
	StatusBooked      = "Booked"
	StatusInProgress  = "In Progress"
	StatusMaintenance = "Maintenance"
)

// Vehicle is the directory record the simulator needs for one vehicle.
type Vehicle struct {
	ID               string    `bson:"_id,omitempty" json:"id,omitempty"`
	AssignedLocation *Geofence `bson:"assigned_location,omitempty" json:"assignedLocation,omitempty"`
	Status           string    `bson:"status" json:"status"`
	CurrentLocation  *Location `bson:"current_location,omitempty" json:"currentLocation,omitempty"`
}

// IsIdle reports whether the vehicle is parked waiting for a booking.
// Idle vehicles do not move.
func (v *Vehicle) IsIdle() bool {
	s := strings.TrimSpace(v.Status)
	return strings.EqualFold(s, StatusAvailable) || strings.EqualFold(s, "idle")
}
