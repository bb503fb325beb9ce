package main

import (
	"math"
	"sort"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// Position is a lat/lon pair in degrees
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Position) finite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lon) && !math.IsInf(p.Lon, 0)
}

// RouteSample is a position observed at an instant (unix ms)
type RouteSample struct {
	InstantMs int64
	Position  Position
}

// BuildRoute orders samples by time and drops consecutive duplicate positions.
// A position may reappear later in the route (backtracking); only exact
// repeats of the previously emitted point are suppressed.
func BuildRoute(samples []RouteSample) []Position {
	sorted := make([]RouteSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InstantMs < sorted[j].InstantMs
	})

	route := []Position{}
	for _, s := range sorted {
		if !s.Position.finite() {
			continue
		}
		if n := len(route); n > 0 && route[n-1] == s.Position {
			continue
		}
		route = append(route, s.Position)
	}
	return route
}

// RouteFromPhotos builds the route for a sorted photo list
func RouteFromPhotos(photos []Photo) []Position {
	samples := make([]RouteSample, len(photos))
	for i, p := range photos {
		samples[i] = RouteSample{InstantMs: p.Time.UnixMilli(), Position: p.Position()}
	}
	return BuildRoute(samples)
}

// SimplifyRoute reduces the number of points using the Douglas-Peucker algorithm.
// tolerance is in degrees - points deviating less than this from the line are removed.
func SimplifyRoute(points []Position, tolerance float64) []Position {
	if len(points) <= 2 || tolerance <= 0 {
		return points
	}

	maxDist := 0.0
	maxIdx := 0

	first := points[0]
	last := points[len(points)-1]

	for i := 1; i < len(points)-1; i++ {
		dist := perpendicularDistanceDeg(points[i], first, last)
		if dist > maxDist {
			maxDist = dist
			maxIdx = i
		}
	}

	if maxDist > tolerance {
		left := SimplifyRoute(points[:maxIdx+1], tolerance)
		right := SimplifyRoute(points[maxIdx:], tolerance)

		// left ends with the same point right starts with
		result := make([]Position, 0, len(left)+len(right)-1)
		result = append(result, left[:len(left)-1]...)
		result = append(result, right...)
		return result
	}

	return []Position{first, last}
}

func perpendicularDistanceDeg(point, lineStart, lineEnd Position) float64 {
	dx := lineEnd.Lon - lineStart.Lon
	dy := lineEnd.Lat - lineStart.Lat

	if dx == 0 && dy == 0 {
		dLon := point.Lon - lineStart.Lon
		dLat := point.Lat - lineStart.Lat
		return math.Sqrt(dLon*dLon + dLat*dLat)
	}

	num := math.Abs(dy*point.Lon - dx*point.Lat + lineEnd.Lon*lineStart.Lat - lineEnd.Lat*lineStart.Lon)
	den := math.Sqrt(dy*dy + dx*dx)

	return num / den
}

// Bounds is a lat/lon bounding box in degrees
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// PhotoBounds returns the box around all positions, grown by pad (a fraction
// of its size) on each side. ok is false when there are no positions.
func PhotoBounds(points []Position, pad float64) (Bounds, bool) {
	rect := s2.EmptyRect()
	for _, p := range points {
		rect = rect.AddPoint(s2.LatLngFromDegrees(p.Lat, p.Lon))
	}
	if rect.IsEmpty() {
		return Bounds{}, false
	}

	if pad > 0 {
		size := rect.Size()
		rect = rect.Expanded(s2.LatLng{Lat: size.Lat * s1.Angle(pad), Lng: size.Lng * s1.Angle(pad)})
	}

	lo, hi := rect.Lo(), rect.Hi()
	return Bounds{
		MinLat: lo.Lat.Degrees(),
		MaxLat: hi.Lat.Degrees(),
		MinLon: lo.Lng.Degrees(),
		MaxLon: hi.Lng.Degrees(),
	}, true
}

const earthRadiusKm = 6371.0088

// RouteLength returns the great-circle length of the route in kilometres
func RouteLength(points []Position) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		a := s2.LatLngFromDegrees(points[i-1].Lat, points[i-1].Lon)
		b := s2.LatLngFromDegrees(points[i].Lat, points[i].Lon)
		total += a.Distance(b).Radians() * earthRadiusKm
	}
	return total
}
