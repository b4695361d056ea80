// Package geo holds the positional math used to move simulated vehicles
// around their assigned geofence.
//
// Distances are measured in raw degree space. This is an approximation
// that is good enough for a demo simulator and matches how the backend
// stores geofence radii.
package geo

import (
	"math"
	"math/rand"

	"github.com/ukydev/fleet-location-simulator/internal/models"
)

// BaseStep is the maximum per-axis movement per tick at speed 1.0,
// roughly 100m of latitude.
const BaseStep = 0.001

// Round6 rounds v to 6 decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Distance returns the Euclidean distance between a and b in degrees.
func Distance(a, b models.Location) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Lng-b.Lng)
}

// Inside reports whether p lies within the fence.
func Inside(p models.Location, fence models.Geofence) bool {
	return Distance(p, fence.Center()) <= fence.Radius
}

// RandomPoint draws a point inside the fence. The radial distance is
// uniform in [0, radius], so points cluster slightly toward the center.
func RandomPoint(rng *rand.Rand, fence models.Geofence) models.Location {
	theta := rng.Float64() * 2 * math.Pi
	d := rng.Float64() * fence.Radius
	return models.Location{
		Lat: Round6(fence.Lat + d*math.Cos(theta)),
		Lng: Round6(fence.Lng + d*math.Sin(theta)),
	}
}

// Step moves current by a random offset of at most BaseStep*speed on each
// axis. A result outside the fence is discarded in favour of a fresh
// RandomPoint, so vehicles never stick to the boundary.
func Step(rng *rand.Rand, current models.Location, fence models.Geofence, speed float64) models.Location {
	m := BaseStep * speed
	next := models.Location{
		Lat: current.Lat + (rng.Float64()*2-1)*m,
		Lng: current.Lng + (rng.Float64()*2-1)*m,
	}
	if Distance(next, fence.Center()) > fence.Radius {
		return RandomPoint(rng, fence)
	}
	return models.Location{Lat: Round6(next.Lat), Lng: Round6(next.Lng)}
}
