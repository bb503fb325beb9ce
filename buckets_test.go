package main

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func mustMillis(t *testing.T, s string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.UnixMilli()
}

func TestBucketWidth(t *testing.T) {
	if w, err := BucketWidth(BucketHour); err != nil || w != 3_600_000 {
		t.Errorf("hour width = %d, %v", w, err)
	}
	if w, err := BucketWidth(BucketDay); err != nil || w != 86_400_000 {
		t.Errorf("day width = %d, %v", w, err)
	}
	if _, err := BucketWidth("week"); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("week: expected ErrUnsupportedMode, got %v", err)
	}
	if _, err := ParseBucketMode("minute"); !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("ParseBucketMode(minute): expected ErrUnsupportedMode, got %v", err)
	}
}

func TestBucketKey_startOfWindow(t *testing.T) {
	ts := mustMillis(t, "2024-09-18T07:48:35.000Z")

	hour, err := BucketKey(ts, BucketHour)
	if err != nil {
		t.Fatal(err)
	}
	if want := mustMillis(t, "2024-09-18T07:00:00.000Z"); hour != want {
		t.Errorf("hour bucket = %d, want %d", hour, want)
	}

	day, err := BucketKey(ts, BucketDay)
	if err != nil {
		t.Fatal(err)
	}
	if want := mustMillis(t, "2024-09-18T00:00:00.000Z"); day != want {
		t.Errorf("day bucket = %d, want %d", day, want)
	}
}

func TestBucketKey_idempotent(t *testing.T) {
	for _, ts := range []int64{0, 1, -1, 3_599_999, 1_726_645_715_000, -86_400_001} {
		for _, mode := range []BucketMode{BucketHour, BucketDay} {
			k, _ := BucketKey(ts, mode)
			kk, _ := BucketKey(k, mode)
			if k != kk {
				t.Errorf("BucketKey not idempotent for %d/%s: %d != %d", ts, mode, k, kk)
			}
		}
	}
}

func TestBucketKey_preEpochFloorsDown(t *testing.T) {
	k, _ := BucketKey(-1, BucketHour)
	if k != -3_600_000 {
		t.Errorf("BucketKey(-1) = %d, want -3600000", k)
	}
	k, _ = BucketKey(-3_600_000, BucketHour)
	if k != -3_600_000 {
		t.Errorf("BucketKey(-3600000) = %d, want -3600000", k)
	}
}

type stamped struct {
	id string
	ms int64
}

func TestBuildBucketIndex(t *testing.T) {
	items := []stamped{
		{"b", mustMillis(t, "2024-09-18T07:48:35Z")},
		{"a", mustMillis(t, "2024-09-18T07:12:00Z")},
		{"c", mustMillis(t, "2024-09-18T08:01:00Z")},
	}

	idx, err := BuildBucketIndex(items, func(s stamped) int64 { return s.ms }, BucketHour)
	if err != nil {
		t.Fatal(err)
	}

	wantTimes := []int64{
		mustMillis(t, "2024-09-18T07:00:00Z"),
		mustMillis(t, "2024-09-18T08:00:00Z"),
	}
	if diff := cmp.Diff(wantTimes, idx.Times); diff != "" {
		t.Errorf("Times mismatch (-want +got):\n%s", diff)
	}

	seven := idx.Members(wantTimes[0])
	if len(seven) != 2 {
		t.Fatalf("07:00 bucket has %d members, want 2", len(seven))
	}
	// members are ordered by capture time, not insertion order
	if seven[0].id != "a" || seven[1].id != "b" {
		t.Errorf("07:00 bucket order = %s,%s; want a,b", seven[0].id, seven[1].id)
	}
	if got := len(idx.Members(wantTimes[1])); got != 1 {
		t.Errorf("08:00 bucket has %d members, want 1", got)
	}
}

func TestBuildBucketIndex_timesStrictlyAscending(t *testing.T) {
	var items []stamped
	for _, ms := range []int64{90_000_000, 10, 3_600_000, 7_300_000, 20, -5, 90_000_001} {
		items = append(items, stamped{ms: ms})
	}
	idx, err := BuildBucketIndex(items, func(s stamped) int64 { return s.ms }, BucketHour)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(idx.Times); i++ {
		if idx.Times[i] <= idx.Times[i-1] {
			t.Fatalf("Times not strictly ascending: %v", idx.Times)
		}
	}
	if len(idx.Times) != len(idx.Buckets) {
		t.Errorf("len(Times)=%d, len(Buckets)=%d", len(idx.Times), len(idx.Buckets))
	}
	for _, k := range idx.Times {
		if _, ok := idx.Buckets[k]; !ok {
			t.Errorf("key %d listed but has no bucket", k)
		}
	}
}

func TestBuildBucketIndex_empty(t *testing.T) {
	idx, err := BuildBucketIndex([]stamped(nil), func(s stamped) int64 { return s.ms }, BucketDay)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Buckets) != 0 || len(idx.Times) != 0 {
		t.Errorf("expected empty index, got %+v", idx)
	}
}

func TestBuildBucketIndex_unsupportedMode(t *testing.T) {
	_, err := BuildBucketIndex([]stamped{{ms: 1}}, func(s stamped) int64 { return s.ms }, "fortnight")
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Errorf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestFormatBucketLabel(t *testing.T) {
	key := mustMillis(t, "2024-09-18T07:00:00Z")
	if got, want := FormatBucketLabel(key, BucketHour), "Sep 18, 2024, 7 AM"; got != want {
		t.Errorf("hour label = %q, want %q", got, want)
	}
	day := mustMillis(t, "2024-09-18T00:00:00Z")
	if got, want := FormatBucketLabel(day, BucketDay), "2024-09-18 – 2024-09-19"; got != want {
		t.Errorf("day label = %q, want %q", got, want)
	}
	if got := formatPhotoCount(1); got != "1 photo" {
		t.Errorf("formatPhotoCount(1) = %q", got)
	}
	if got := formatPhotoCount(3); got != "3 photos" {
		t.Errorf("formatPhotoCount(3) = %q", got)
	}
}
