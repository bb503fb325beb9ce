package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/fsnotify/fsnotify"
	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

var exifDate = "2006:01:02 15:04:05"

// exifTimeTags are tried in order for the capture time
var exifTimeTags = []string{"DateTimeOriginal", "CreateDate", "ModifyDate", "DateTime"}

var manifestExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// findPhotoFiles returns image paths under root, skipping dot files and dot
// directories
func findPhotoFiles(root string) ([]string, error) {
	var found []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path != root && strings.HasPrefix(filepath.Base(path), ".") {
				return godirwalk.SkipThis
			}
			if de.IsDir() {
				return nil
			}
			if manifestExtensions[strings.ToLower(filepath.Ext(path))] {
				found = append(found, path)
			}
			return nil
		},
	})
	return found, err
}

// GenerateManifest reads EXIF time and GPS from every image under root.
// Files without a usable time are skipped and counted; files without GPS are
// kept with null coordinates, so validation drops them at load.
func GenerateManifest(root string) ([]ManifestRecord, int, error) {
	paths, err := findPhotoFiles(root)
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, 0, nil
	}

	et, err := exiftool.NewExiftool(exiftool.NoPrintConversion())
	if err != nil {
		return nil, 0, fmt.Errorf("exiftool: %w", err)
	}
	defer et.Close()

	records := make([]ManifestRecord, 0, len(paths))
	skipped := 0
	for _, fi := range et.ExtractMetadata(paths...) {
		if fi.Err != nil {
			klog.Warningf("extract fail for %q: %v", fi.File, fi.Err)
			skipped++
			continue
		}
		rel, err := filepath.Rel(root, fi.File)
		if err != nil {
			return nil, 0, err
		}
		rec, err := recordFromFields(rel, fi.Fields)
		if err != nil {
			klog.V(1).Infof("skipping %s: %v", rel, err)
			skipped++
			continue
		}
		records = append(records, rec)
	}

	klog.Infof("generated manifest for %s: %d entries, %d skipped", root, len(records), skipped)
	return records, skipped, nil
}

// recordFromFields builds a manifest entry from exiftool -n -j fields
func recordFromFields(rel string, fields map[string]interface{}) (ManifestRecord, error) {
	taken, err := exifCaptureTime(fields)
	if err != nil {
		return ManifestRecord{}, err
	}

	rel = filepath.ToSlash(rel)
	u := url.URL{Path: "photos/" + rel}
	rec := ManifestRecord{
		Filename: filepath.Base(rel),
		URL:      u.EscapedPath(),
		Time:     taken.UTC().Format(time.RFC3339Nano),
		Source:   "exif",
	}

	lat, latOK := exifCoordinate(fields, "GPSLatitude", "GPSLatitudeRef", "S")
	lon, lonOK := exifCoordinate(fields, "GPSLongitude", "GPSLongitudeRef", "W")
	if latOK && lonOK {
		la, lo := Coordinate(lat), Coordinate(lon)
		rec.Latitude, rec.Longitude = &la, &lo
	}
	return rec, nil
}

var errNoExifTime = errors.New("no valid EXIF time found")

func exifCaptureTime(fields map[string]interface{}) (time.Time, error) {
	offset, _ := fields["OffsetTimeOriginal"].(string)
	for _, tag := range exifTimeTags {
		s, ok := fields[tag].(string)
		if !ok || s == "" {
			continue
		}
		if t, ok := parseExifTime(s, offset); ok {
			return t, nil
		}
	}
	return time.Time{}, errNoExifTime
}

// parseExifTime reads "2024:09:18 07:48:35" with optional sub-seconds and
// zone. Times without a zone use offset ("+02:00") if given, else UTC.
func parseExifTime(s, offset string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0000:") {
		return time.Time{}, false
	}
	for _, layout := range []string{exifDate + "Z07:00", exifDate + ".999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{exifDate, exifDate + ".999999999"} {
		if offset != "" {
			if t, err := time.Parse(layout+"Z07:00", s+offset); err == nil {
				return t, true
			}
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// exifCoordinate reads a decimal coordinate. A positive value is negated
// when the reference tag names the negative hemisphere.
func exifCoordinate(fields map[string]interface{}, tag, refTag, negRef string) (float64, bool) {
	var v float64
	switch raw := fields[tag].(type) {
	case float64:
		v = raw
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	if ref, ok := fields[refTag].(string); ok && v > 0 && strings.HasPrefix(strings.ToUpper(ref), negRef) {
		v = -v
	}
	return v, true
}

// WriteManifest writes records as an indented photos.json
func WriteManifest(path string, records []ManifestRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WatchDir calls onChange after files under root are created, written,
// renamed or removed. Bursts of events within debounce produce one call.
// It blocks until ctx is cancelled.
func WatchDir(ctx context.Context, root string, debounce time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dirs := []string{root}
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if path == root || !de.IsDir() {
				return nil
			}
			if strings.HasPrefix(de.Name(), ".") {
				return godirwalk.SkipThis
			}
			dirs = append(dirs, path)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	klog.Infof("watching %d dirs under %s ...", len(dirs), root)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			klog.V(2).Infof("[watch] %s", event)
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := w.Add(event.Name); err != nil {
						klog.Warningf("watch %s: %v", event.Name, err)
					}
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, onChange)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("watch error: %v", err)
		}
	}
}
