package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTimeDimension_notifiesOnChangeOnly(t *testing.T) {
	td := NewTimeDimension()
	var got []int64
	td.OnTimeChange(func(v int64) { got = append(got, v) })

	td.SetAvailableTimes([]int64{300, 100, 200})
	if diff := cmp.Diff([]int64{100, 200, 300}, td.AvailableTimes()); diff != "" {
		t.Errorf("times (-want +got):\n%s", diff)
	}
	if _, ok := td.CurrentTime(); ok {
		t.Error("current time set before any push")
	}

	td.SetCurrentTime(100)
	td.SetCurrentTime(100)
	td.SetCurrentTime(200)
	if diff := cmp.Diff([]int64{100, 200}, got); diff != "" {
		t.Errorf("notifications (-want +got):\n%s", diff)
	}
}

func TestTimeDimension_Seek(t *testing.T) {
	td := NewTimeDimension()
	if _, ok := td.Seek(5); ok {
		t.Error("Seek on empty dimension succeeded")
	}

	td.SetAvailableTimes([]int64{100, 200, 300})
	for _, tc := range []struct {
		in, want int64
	}{
		{50, 100},
		{100, 100},
		{250, 200},
		{999, 300},
	} {
		if got, _ := td.Seek(tc.in); got != tc.want {
			t.Errorf("Seek(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestTimeDimension_NextWraps(t *testing.T) {
	td := NewTimeDimension()
	td.SetAvailableTimes([]int64{100, 200, 300})

	if got, _ := td.Next(1); got != 100 {
		t.Errorf("first Next = %d, want the first position", got)
	}
	if got, _ := td.Next(-1); got != 300 {
		t.Errorf("Next(-1) from start = %d, want 300", got)
	}
	if got, _ := td.Next(4); got != 100 {
		t.Errorf("Next(4) from 300 = %d, want 100", got)
	}
}

func TestTimeDimension_NextFromMissingPosition(t *testing.T) {
	for _, tc := range []struct {
		current int64
		steps   int
		want    int64
	}{
		{25, 1, 30},
		{25, -1, 20},
		{25, 2, 10},
		{25, 0, 20},
		{5, 1, 10},
		{5, -1, 30},
		{35, 1, 10},
		{35, -1, 30},
	} {
		td := NewTimeDimension()
		td.SetAvailableTimes([]int64{10, 20, 30})
		// positions survive a times change, as after a bucket mode switch
		td.SetCurrentTime(tc.current)

		if got, _ := td.Next(tc.steps); got != tc.want {
			t.Errorf("from %d Next(%d) = %d, want %d", tc.current, tc.steps, got, tc.want)
		}
	}
}
