// Package sink contains the secondary location sinks of the simulator and
// the fan-out used to combine them with the backend.
package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LocationSink accepts position reports for a vehicle.
type LocationSink interface {
	UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error
}

// LocationMessage is the payload published on message buses.
type LocationMessage struct {
	VehicleID string  `json:"vehicle_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

func newLocationMessage(vehicleID string, lat, lng float64) LocationMessage {
	return LocationMessage{
		VehicleID: vehicleID,
		Latitude:  lat,
		Longitude: lng,
		Timestamp: time.Now().Unix(),
	}
}

// Named tags a sink so fan-out errors say which one failed.
type Named struct {
	Name string
	Sink LocationSink
}

// Multi pushes every update to all sinks, even when some of them fail.
type Multi []Named

// UpdateVehicleLocation implements LocationSink.
func (m Multi) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64) error {
	var errs []error
	for _, s := range m {
		if err := s.Sink.UpdateVehicleLocation(ctx, vehicleID, lat, lng); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
