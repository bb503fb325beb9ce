package main

import (
	"slices"
	"sort"
)

// TimeControl is the scrubbable time-dimension widget the controller drives.
// Listeners registered with OnTimeChange are called synchronously from
// SetCurrentTime, whoever the caller is.
type TimeControl interface {
	SetAvailableTimes(times []int64)
	AvailableTimes() []int64
	SetCurrentTime(t int64)
	CurrentTime() (int64, bool)
	OnTimeChange(fn func(t int64))
}

// TimeDimension is the server-side model of the map's time slider.
// It is not safe for concurrent use; it lives on the controller's loop.
type TimeDimension struct {
	times      []int64
	current    int64
	hasCurrent bool
	listeners  []func(int64)
}

// NewTimeDimension creates an empty time dimension
func NewTimeDimension() *TimeDimension {
	return &TimeDimension{}
}

// SetAvailableTimes replaces the list of positions. The current position is
// left alone; callers push a new one afterwards.
func (td *TimeDimension) SetAvailableTimes(times []int64) {
	td.times = slices.Clone(times)
	slices.Sort(td.times)
}

// AvailableTimes returns a copy of the positions
func (td *TimeDimension) AvailableTimes() []int64 {
	return slices.Clone(td.times)
}

// SetCurrentTime moves the slider and notifies listeners if the position changed
func (td *TimeDimension) SetCurrentTime(t int64) {
	if td.hasCurrent && td.current == t {
		return
	}
	td.current = t
	td.hasCurrent = true
	for _, fn := range td.listeners {
		fn(t)
	}
}

// CurrentTime returns the slider position; ok is false before the first set
func (td *TimeDimension) CurrentTime() (int64, bool) {
	return td.current, td.hasCurrent
}

// OnTimeChange registers a listener
func (td *TimeDimension) OnTimeChange(fn func(t int64)) {
	td.listeners = append(td.listeners, fn)
}

// Seek snaps t to the closest available position at or before it (the first
// position if t precedes them all) and moves the slider there. It returns
// false when no positions are available.
func (td *TimeDimension) Seek(t int64) (int64, bool) {
	if len(td.times) == 0 {
		return 0, false
	}
	i := sort.Search(len(td.times), func(i int) bool { return td.times[i] > t })
	if i > 0 {
		i--
	}
	td.SetCurrentTime(td.times[i])
	return td.times[i], true
}

// Next moves the slider by steps positions, wrapping around the ends. From a
// position between two available ones, one step forward lands on the later
// neighbour and one step back on the earlier.
func (td *TimeDimension) Next(steps int) (int64, bool) {
	n := len(td.times)
	if n == 0 {
		return 0, false
	}
	if !td.hasCurrent {
		td.SetCurrentTime(td.times[0])
		return td.times[0], true
	}

	j, found := slices.BinarySearch(td.times, td.current)
	if !found {
		if steps == 0 {
			return td.Seek(td.current)
		}
		// j is the insertion point, the first position after current
		if steps > 0 {
			j--
		}
	}
	i := ((j+steps)%n + n) % n
	td.SetCurrentTime(td.times[i])
	return td.times[i], true
}
