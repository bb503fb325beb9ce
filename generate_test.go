package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFindPhotoFiles(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{
		"a.jpg",
		"b.JPEG",
		"c.png",
		"notes.txt",
		".hidden.jpg",
		".thumbs/d.jpg",
		"day2/e.jpg",
	} {
		touch(t, filepath.Join(root, p))
	}

	found, err := findPhotoFiles(root)
	if err != nil {
		t.Fatalf("findPhotoFiles: %v", err)
	}
	var rel []string
	for _, p := range found {
		r, _ := filepath.Rel(root, p)
		rel = append(rel, filepath.ToSlash(r))
	}
	want := []string{"a.jpg", "b.JPEG", "c.png", "day2/e.jpg"}
	if diff := cmp.Diff(want, rel); diff != "" {
		t.Errorf("found files (-want +got):\n%s", diff)
	}
}

func TestRecordFromFields(t *testing.T) {
	rec, err := recordFromFields("day 2/IMG_1.jpg", map[string]interface{}{
		"CreateDate":      "2024:09:18 07:48:35",
		"ModifyDate":      "2024:09:19 10:00:00",
		"GPSLatitude":     35.5951,
		"GPSLatitudeRef":  "N",
		"GPSLongitude":    82.5515,
		"GPSLongitudeRef": "W",
	})
	if err != nil {
		t.Fatalf("recordFromFields: %v", err)
	}
	if rec.Time != "2024-09-18T07:48:35Z" {
		t.Errorf("time = %q, want CreateDate", rec.Time)
	}
	if rec.URL != "photos/day%202/IMG_1.jpg" || rec.Filename != "IMG_1.jpg" {
		t.Errorf("url=%q filename=%q", rec.URL, rec.Filename)
	}
	pos, ok := rec.position()
	if !ok || pos.Lat != 35.5951 || pos.Lon != -82.5515 {
		t.Errorf("position = %+v, %v", pos, ok)
	}
}

func TestRecordFromFields_noGPSKeptForValidation(t *testing.T) {
	rec, err := recordFromFields("x.jpg", map[string]interface{}{
		"DateTimeOriginal":   "2024:09:18 07:48:35",
		"OffsetTimeOriginal": "-04:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Time != "2024-09-18T11:48:35Z" {
		t.Errorf("offset not applied: %q", rec.Time)
	}
	if _, ok := rec.position(); ok {
		t.Error("record without GPS has a position")
	}
}

func TestRecordFromFields_noTime(t *testing.T) {
	_, err := recordFromFields("x.jpg", map[string]interface{}{
		"DateTimeOriginal": "0000:00:00 00:00:00",
		"GPSLatitude":      1.0,
		"GPSLongitude":     2.0,
	})
	if err == nil {
		t.Error("expected error for zero date")
	}
}

func TestWriteManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "photos.json")
	records := []ManifestRecord{
		NewManifestRecord("a.jpg", "photos/a.jpg", 35.5, -82.6, time.Date(2024, 9, 18, 7, 0, 0, 0, time.UTC)),
		{Filename: "nogps.jpg", URL: "photos/nogps.jpg", Time: "2024-09-18T08:00:00Z"},
	}
	if err := WriteManifest(path, records); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	back, err := ParseManifest(f)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	photos, stats := ValidatePhotos(back)
	if len(photos) != 1 || stats.Dropped != 1 {
		t.Errorf("photos=%d stats=%+v", len(photos), stats)
	}
}

func TestWatchDir(t *testing.T) {
	root := t.TempDir()
	changed := make(chan struct{}, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchDir(ctx, root, 20*time.Millisecond, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// the watcher registers asynchronously; keep writing until it notices
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-changed:
			break loop
		case <-tick.C:
			touch(t, filepath.Join(root, "new.jpg"))
		case <-deadline:
			t.Fatal("no change reported")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("WatchDir: %v", err)
	}
}
