package main

import (
	"fmt"
	"math"
	"strings"
)

// FormatCoordinates renders a position as "35.123°N, 83.568°W".
// ok is false when either value is NaN or infinite.
func FormatCoordinates(lat, lon float64) (string, bool) {
	if !(Position{Lat: lat, Lon: lon}).finite() {
		return "", false
	}

	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.3f°%s, %.3f°%s", math.Abs(lat), ns, math.Abs(lon), ew), true
}

// PickPlaceName gets the most useful short place name from a reverse geocode result.
// Locality precedence is city, town, village, hamlet, municipality, county;
// a state is appended when present. Falls back to the display name.
func PickPlaceName(res GeocodeResult) (string, bool) {
	addr := res.Address
	locality := firstNonEmpty(
		addr.City,
		addr.Town,
		addr.Village,
		addr.Hamlet,
		addr.Municipality,
		addr.County,
	)
	if locality != "" {
		if addr.State != "" {
			return locality + ", " + addr.State, true
		}
		return locality, true
	}

	if name := strings.TrimSpace(res.DisplayName); name != "" {
		return name, true
	}
	return "", false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
