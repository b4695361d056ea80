package geo

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ukydev/fleet-location-simulator/internal/models"
)

// rounding to 6 dp can move a point by at most ~7.1e-7 degrees
const roundingEpsilon = 1e-6

func TestRound6(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{13.1234564, 13.123456},
		{13.1234565999, 13.123457},
		{-80.0000004, -80.0},
		{0, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Round6(tt.in), 1e-12)
	}
}

func TestDistance(t *testing.T) {
	a := models.Location{Lat: 0, Lng: 0}
	b := models.Location{Lat: 3, Lng: 4}
	assert.Equal(t, 5.0, Distance(a, b))
	assert.Equal(t, 0.0, Distance(a, a))
}

func TestRandomPoint_StaysInside(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	fences := []models.Geofence{
		{Lat: 13.0, Lng: 80.2, Radius: 0.05},
		{Lat: 13.0, Lng: 80.2, Radius: 0.01},
		{Lat: -33.8688, Lng: 151.2093, Radius: 0.2},
		{Lat: 51.5074, Lng: -0.1278, Radius: 0.000001},
	}

	for _, fence := range fences {
		for i := 0; i < 5000; i++ {
			p := RandomPoint(rng, fence)
			d := Distance(p, fence.Center())
			if d > fence.Radius+roundingEpsilon {
				t.Fatalf("point %+v is %f from center, radius %f", p, d, fence.Radius)
			}
		}
	}
}

func TestRandomPoint_RoundedToSixDecimals(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := RandomPoint(rng, models.Geofence{Lat: 13.0, Lng: 80.2, Radius: 0.05})
	assert.Equal(t, Round6(p.Lat), p.Lat)
	assert.Equal(t, Round6(p.Lng), p.Lng)
}

func TestStep_NeverEscapesFence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	fence := models.Geofence{Lat: 13.0, Lng: 80.2, Radius: 0.01}

	for _, speed := range []float64{0.1, 1.0, 2.5, 5.0} {
		pos := fence.Center()
		for i := 0; i < 2000; i++ {
			pos = Step(rng, pos, fence, speed)
			d := Distance(pos, fence.Center())
			if d > fence.Radius+roundingEpsilon {
				t.Fatalf("speed %.1f step %d: %+v is %f from center", speed, i, pos, d)
			}
		}
	}
}

func TestStep_BoundedByStepSize(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	fence := models.Geofence{Lat: 13.0, Lng: 80.2, Radius: 10}
	start := fence.Center()

	for i := 0; i < 1000; i++ {
		next := Step(rng, start, fence, 2.0)
		assert.LessOrEqual(t, absf(next.Lat-start.Lat), 2*BaseStep+roundingEpsilon)
		assert.LessOrEqual(t, absf(next.Lng-start.Lng), 2*BaseStep+roundingEpsilon)
	}
}

func TestStep_OutsideStartIsReseeded(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	fence := models.Geofence{Lat: 13.0, Lng: 80.2, Radius: 0.01}
	far := models.Location{Lat: 20.0, Lng: 90.0}

	next := Step(rng, far, fence, 1.0)
	assert.True(t, Inside(next, models.Geofence{Lat: fence.Lat, Lng: fence.Lng, Radius: fence.Radius + roundingEpsilon}))
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
