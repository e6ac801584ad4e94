// Package geo provides the geometric primitives for geofencing:
// positions, circular fences, and great-circle distance.
//
// All distances are in meters, all coordinates in WGS84 decimal degrees.
// Containment checks come in two flavors: nominal radius (entry detection)
// and expanded radius (exit detection with hysteresis, see signal package).
package geo

import (
	"fmt"
	"math"
)

// Fence radius bounds enforced by the registry.
const (
	MinRadiusMeters = 25.0
	MaxRadiusMeters = 5000.0
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// Position is a single measured location sample.
type Position struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracyMeters"`
}

// Fence is a named circular geographic boundary tied to a work location.
//
// Fences are owned by the registry; the engine holds a read-only cached
// snapshot refreshed on registry mutation. The registry guarantees that no
// two active fences overlap, so at most one fence contains a given point.
type Fence struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radiusMeters"`
	Active       bool    `json:"active"`
}

// Validate checks coordinate ranges and the radius bounds.
func (f Fence) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fence id is required")
	}
	if f.Lat < -90 || f.Lat > 90 {
		return fmt.Errorf("fence %s: latitude %v out of range", f.ID, f.Lat)
	}
	if f.Lng < -180 || f.Lng > 180 {
		return fmt.Errorf("fence %s: longitude %v out of range", f.ID, f.Lng)
	}
	if f.RadiusMeters < MinRadiusMeters || f.RadiusMeters > MaxRadiusMeters {
		return fmt.Errorf("fence %s: radius %.0fm outside [%.0f, %.0f]",
			f.ID, f.RadiusMeters, MinRadiusMeters, MaxRadiusMeters)
	}
	return nil
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lng2 - lng1) * degToRad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// DistanceTo returns the distance in meters from the fence center to p.
func (f Fence) DistanceTo(p Position) float64 {
	return DistanceMeters(f.Lat, f.Lng, p.Lat, p.Lng)
}

// Contains reports whether p lies within the nominal fence radius.
func (f Fence) Contains(p Position) bool {
	return f.DistanceTo(p) <= f.RadiusMeters
}

// ContainsExpanded reports whether p lies within the hysteresis-expanded
// radius (radius × factor). Used for exit detection and by the heartbeat
// reconciler so both share one notion of "still present".
func (f Fence) ContainsExpanded(p Position, factor float64) bool {
	if factor < 1 {
		factor = 1
	}
	return f.DistanceTo(p) <= f.RadiusMeters*factor
}

// FenceContaining returns the first active fence whose expanded radius
// contains p, or nil if the point is outside all of them. The registry's
// no-overlap invariant means "first" is also "only" under normal operation.
func FenceContaining(fences []Fence, p Position, factor float64) *Fence {
	for i := range fences {
		if !fences[i].Active {
			continue
		}
		if fences[i].ContainsExpanded(p, factor) {
			return &fences[i]
		}
	}
	return nil
}

// Overlaps reports whether the nominal circles of two fences intersect.
func Overlaps(a, b Fence) bool {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng) < a.RadiusMeters+b.RadiusMeters
}
