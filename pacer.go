package main

import (
	"math"
	"time"
)

const (
	defaultBaseIntervalMs = 4000
	defaultMinIntervalMs  = 250
)

// ComputeIntervalMs maps a playback speed multiplier to the delay between
// slideshow steps. Malformed multipliers fall back to base; large ones are
// clamped so playback never steps faster than minimum.
func ComputeIntervalMs(multiplier float64, base, minimum int64) int64 {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 {
		return base
	}
	return max(int64(math.Round(float64(base)/multiplier)), minimum)
}

// Pacing holds the slideshow timing settings
type Pacing struct {
	Base    time.Duration
	Minimum time.Duration
}

// DefaultPacing is 4s per photo at 1x, never faster than 250ms
var DefaultPacing = Pacing{
	Base:    defaultBaseIntervalMs * time.Millisecond,
	Minimum: defaultMinIntervalMs * time.Millisecond,
}

// Interval returns the step delay for a speed multiplier
func (p Pacing) Interval(speed float64) time.Duration {
	ms := ComputeIntervalMs(speed, p.Base.Milliseconds(), p.Minimum.Milliseconds())
	return time.Duration(ms) * time.Millisecond
}
