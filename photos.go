package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ManifestRecord is one entry of photos.json
type ManifestRecord struct {
	Filename  string      `json:"filename"`
	URL       string      `json:"url"`
	Latitude  *Coordinate `json:"latitude"`
	Longitude *Coordinate `json:"longitude"`
	Time      string      `json:"time"`
	Source    string      `json:"source,omitempty"` // "exif", "immich"
}

// NewManifestRecord builds a record from already-typed values
func NewManifestRecord(filename, url string, lat, lon float64, t time.Time) ManifestRecord {
	la, lo := Coordinate(lat), Coordinate(lon)
	return ManifestRecord{
		Filename:  filename,
		URL:       url,
		Latitude:  &la,
		Longitude: &lo,
		Time:      t.UTC().Format(time.RFC3339Nano),
	}
}

// position returns the record's coordinates; ok is false if either is
// missing or not a finite number
func (rec ManifestRecord) position() (Position, bool) {
	if rec.Latitude == nil || rec.Longitude == nil {
		return Position{}, false
	}
	p := Position{Lat: float64(*rec.Latitude), Lon: float64(*rec.Longitude)}
	return p, p.finite()
}

// Coordinate accepts a JSON number or a numeric string. Unparseable values
// decode as NaN so they fail validation.
type Coordinate float64

// UnmarshalJSON implements json.Unmarshaler
func (c *Coordinate) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*c = Coordinate(math.NaN())
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*c = Coordinate(math.NaN())
		return nil
	}
	*c = Coordinate(v)
	return nil
}

// MarshalJSON implements json.Marshaler
func (c Coordinate) MarshalJSON() ([]byte, error) {
	f := float64(c)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

// Photo is a validated manifest entry
type Photo struct {
	Index    int       `json:"index"`
	Filename string    `json:"filename"`
	URL      string    `json:"url"`
	Time     time.Time `json:"time"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
}

// Position returns the photo's coordinates
func (p Photo) Position() Position {
	return Position{Lat: p.Lat, Lon: p.Lon}
}

// InstantMs returns the capture time in unix milliseconds
func (p Photo) InstantMs() int64 {
	return p.Time.UnixMilli()
}

// ManifestStats counts records seen while loading a manifest
type ManifestStats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Dropped int `json:"dropped"`
}

// ErrNoValidPhotos means a manifest had nothing usable to render
var ErrNoValidPhotos = errors.New("no valid photos found in manifest (need latitude, longitude, and time)")

// ParseManifest reads a photos.json array. Only a malformed array is an
// error: an entry that does not decode as a record comes back empty, so
// validation drops and counts it like any other bad entry.
func ParseManifest(r io.Reader) ([]ManifestRecord, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	records := make([]ManifestRecord, len(raw))
	for i, msg := range raw {
		if err := json.Unmarshal(msg, &records[i]); err != nil {
			records[i] = ManifestRecord{}
		}
	}
	return records, nil
}

var captureTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseCaptureTime parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseCaptureTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range captureTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ValidatePhotos drops invalid records, sorts the rest by capture time and
// assigns each its index. Records sharing an instant keep manifest order.
func ValidatePhotos(records []ManifestRecord) ([]Photo, ManifestStats) {
	stats := ManifestStats{Total: len(records)}
	photos := make([]Photo, 0, len(records))

	for _, rec := range records {
		pos, ok := rec.position()
		if !ok {
			stats.Dropped++
			continue
		}
		t, err := ParseCaptureTime(rec.Time)
		if err != nil {
			stats.Dropped++
			continue
		}
		photos = append(photos, Photo{
			Filename: rec.Filename,
			URL:      rec.URL,
			Time:     t.UTC(),
			Lat:      pos.Lat,
			Lon:      pos.Lon,
		})
	}

	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].Time.Before(photos[j].Time)
	})
	for i := range photos {
		photos[i].Index = i
	}

	stats.Valid = len(photos)
	return photos, stats
}
