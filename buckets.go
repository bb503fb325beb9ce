package main

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// BucketMode selects the width of the time windows photos are grouped into
type BucketMode string

const (
	BucketHour BucketMode = "hour"
	BucketDay  BucketMode = "day"
)

// ErrUnsupportedMode is returned for any bucket mode other than hour or day
var ErrUnsupportedMode = errors.New("unsupported bucket mode")

// ParseBucketMode validates a user-supplied mode string
func ParseBucketMode(s string) (BucketMode, error) {
	mode := BucketMode(s)
	if _, err := BucketWidth(mode); err != nil {
		return "", err
	}
	return mode, nil
}

// BucketWidth returns the window width in milliseconds
func BucketWidth(mode BucketMode) (int64, error) {
	switch mode {
	case BucketHour:
		return int64(time.Hour / time.Millisecond), nil
	case BucketDay:
		return int64(24 * time.Hour / time.Millisecond), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, string(mode))
}

// BucketKey floors instantMs to the start of its window.
// Pre-epoch instants floor toward negative infinity.
func BucketKey(instantMs int64, mode BucketMode) (int64, error) {
	width, err := BucketWidth(mode)
	if err != nil {
		return 0, err
	}
	return floorDiv(instantMs, width) * width, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// BucketIndex groups items by bucket key
type BucketIndex[T any] struct {
	Mode    BucketMode
	Buckets map[int64][]T
	// Times holds every key present in Buckets, ascending
	Times []int64
}

// BuildBucketIndex groups items by the bucket key of their instant.
// Members of each bucket are stable-sorted by instant, so items sharing an
// instant keep their input order.
func BuildBucketIndex[T any](items []T, instant func(T) int64, mode BucketMode) (BucketIndex[T], error) {
	idx := BucketIndex[T]{
		Mode:    mode,
		Buckets: make(map[int64][]T),
		Times:   []int64{},
	}
	if _, err := BucketWidth(mode); err != nil {
		return idx, err
	}

	for _, item := range items {
		key, _ := BucketKey(instant(item), mode)
		if _, exists := idx.Buckets[key]; !exists {
			idx.Times = append(idx.Times, key)
		}
		idx.Buckets[key] = append(idx.Buckets[key], item)
	}

	for _, members := range idx.Buckets {
		sort.SliceStable(members, func(i, j int) bool {
			return instant(members[i]) < instant(members[j])
		})
	}
	slices.Sort(idx.Times)

	return idx, nil
}

// Members returns the bucket at key, or nil
func (idx BucketIndex[T]) Members(key int64) []T {
	return idx.Buckets[key]
}

// FormatBucketLabel renders a bucket key for display
func FormatBucketLabel(key int64, mode BucketMode) string {
	start := time.UnixMilli(key).UTC()
	if mode == BucketHour {
		return start.Format("Jan 02, 2006, 3 PM")
	}
	width, err := BucketWidth(mode)
	if err != nil {
		return start.Format(time.RFC3339)
	}
	end := time.UnixMilli(key + width).UTC()
	return start.Format("2006-01-02") + " – " + end.Format("2006-01-02")
}

// formatPhotoCount renders "1 photo" / "N photos"
func formatPhotoCount(n int) string {
	if n == 1 {
		return "1 photo"
	}
	return fmt.Sprintf("%d photos", n)
}
