package main

import (
	"math"
	"testing"
	"time"
)

func TestComputeIntervalMs(t *testing.T) {
	tests := []struct {
		multiplier float64
		base, min  int64
		want       int64
	}{
		{1, 8000, 250, 8000},
		{2, 8000, 250, 4000},
		{8, 8000, 250, 1000},
		{1000, 8000, 250, 250},
		{3, 4000, 250, 1333},
		{0, 8000, 250, 8000},
		{-2, 8000, 250, 8000},
		{math.NaN(), 8000, 250, 8000},
		{math.Inf(1), 8000, 250, 8000},
	}
	for _, tt := range tests {
		if got := ComputeIntervalMs(tt.multiplier, tt.base, tt.min); got != tt.want {
			t.Errorf("ComputeIntervalMs(%v, %d, %d) = %d, want %d", tt.multiplier, tt.base, tt.min, got, tt.want)
		}
	}
}

func TestPacing_Interval(t *testing.T) {
	if got := DefaultPacing.Interval(1); got != 4*time.Second {
		t.Errorf("1x = %v, want 4s", got)
	}
	if got := DefaultPacing.Interval(8); got != 500*time.Millisecond {
		t.Errorf("8x = %v, want 500ms", got)
	}
	if got := DefaultPacing.Interval(1000); got != 250*time.Millisecond {
		t.Errorf("1000x = %v, want 250ms", got)
	}
}
