package models

import (
	"fmt"
	"math"
	"time"
)

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

// Geofence is the circular area a vehicle is assigned to.
// Radius is expressed in the same degree units as Lat/Lng.
type Geofence struct {
	Lat    float64 `bson:"lat" json:"lat"`
	Lng    float64 `bson:"lng" json:"lng"`
	Radius float64 `bson:"radius" json:"radius"`
}

// Center returns the geofence center as a Location.
func (g Geofence) Center() Location {
	return Location{Lat: g.Lat, Lng: g.Lng}
}

// Validate reports whether the geofence can be used to compute positions.
func (g Geofence) Validate() error {
	for name, v := range map[string]float64{"lat": g.Lat, "lng": g.Lng, "radius": g.Radius} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not a finite number", name)
		}
	}
	if g.Lat < -90 || g.Lat > 90 {
		return fmt.Errorf("lat %f out of range", g.Lat)
	}
	if g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("lng %f out of range", g.Lng)
	}
	if g.Radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", g.Radius)
	}
	return nil
}

// Position is one pushed location sample, kept as history.
type Position struct {
	VehicleID string    `bson:"vehicle_id" json:"vehicle_id"`
	Location  Location  `bson:"location" json:"location"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}
