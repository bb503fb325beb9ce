package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// GeocodeResult is the part of a reverse geocode response used for labels
type GeocodeResult struct {
	DisplayName string         `json:"display_name"`
	Address     GeocodeAddress `json:"address"`
}

// GeocodeAddress is the structured address breakdown
type GeocodeAddress struct {
	City         string `json:"city,omitempty"`
	Town         string `json:"town,omitempty"`
	Village      string `json:"village,omitempty"`
	Hamlet       string `json:"hamlet,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	County       string `json:"county,omitempty"`
	State        string `json:"state,omitempty"`
	Country      string `json:"country,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// Geocoder reverse geocodes a coordinate
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (*GeocodeResult, error)
}

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
	defaultUserAgent    = "tripmap/1.0 (photo-timeline-map)"
	defaultGeocodeZoom  = 10
)

// NominatimClient queries the Nominatim reverse API
type NominatimClient struct {
	BaseURL   string
	UserAgent string
	// Zoom is the requested detail level; 10 is city, 18 is building
	Zoom        int
	MinInterval time.Duration
	HTTPClient  *http.Client

	lastRequest time.Time
	rateMu      sync.Mutex
	metrics     *Metrics
}

// NewNominatimClient creates a client for baseURL (the public instance if empty)
func NewNominatimClient(baseURL, userAgent string, zoom int, timeout time.Duration) *NominatimClient {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if zoom <= 0 {
		zoom = defaultGeocodeZoom
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NominatimClient{
		BaseURL:     baseURL,
		UserAgent:   userAgent,
		Zoom:        zoom,
		MinInterval: time.Second,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// wait blocks until MinInterval has passed since the previous request.
// Respects Nominatim's 1 request/second usage policy.
func (c *NominatimClient) wait(ctx context.Context) error {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	if elapsed := time.Since(c.lastRequest); elapsed < c.MinInterval {
		timer := time.NewTimer(c.MinInterval - elapsed)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// Reverse implements Geocoder
func (c *NominatimClient) Reverse(ctx context.Context, lat, lon float64) (*GeocodeResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("format", "jsonv2")
	q.Set("zoom", strconv.Itoa(c.Zoom))
	q.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	// Required by Nominatim ToS
	req.Header.Set("User-Agent", c.UserAgent)

	c.metrics.IncGeocodeRequests()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var res GeocodeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim response: %w", err)
	}
	return &res, nil
}

// ErrNoPlaceName is returned when a geocode response has nothing usable
var ErrNoPlaceName = errors.New("no place name in geocode response")

// PlaceResolver turns coordinates into a place name
type PlaceResolver interface {
	// CachedPlace answers from memory only; it runs while rendering
	CachedPlace(lat, lon float64) (string, bool)
	// ResolvePlace may go to the network; it must honour ctx cancellation
	ResolvePlace(ctx context.Context, lat, lon float64) (string, error)
}

// LabelResolver resolves place names through a cache in front of a Geocoder
type LabelResolver struct {
	cache    LocationCache
	geocoder Geocoder
	metrics  *Metrics
}

// NewLabelResolver creates a resolver. geocoder may be nil for cache-only lookups.
func NewLabelResolver(cache LocationCache, geocoder Geocoder, m *Metrics) *LabelResolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &LabelResolver{cache: cache, geocoder: geocoder, metrics: m}
}

// CachedPlace implements PlaceResolver. It answers from memory only when the
// cache has a memory tier; persistent entries are found by ResolvePlace.
func (r *LabelResolver) CachedPlace(lat, lon float64) (string, bool) {
	key, ok := CoordinateKey(lat, lon)
	if !ok {
		return "", false
	}
	var name string
	if mem, hasMem := r.cache.(memoryTier); hasMem {
		name, ok = mem.Peek(key)
	} else {
		name, ok = r.cache.Get(key)
	}
	if ok {
		r.metrics.IncLabelCacheHits()
	}
	return name, ok
}

// ResolvePlace implements PlaceResolver
func (r *LabelResolver) ResolvePlace(ctx context.Context, lat, lon float64) (string, error) {
	key, ok := CoordinateKey(lat, lon)
	if !ok {
		return "", ErrNoPlaceName
	}
	if name, ok := r.cache.Get(key); ok {
		r.metrics.IncLabelCacheHits()
		return name, nil
	}
	if r.geocoder == nil {
		return "", ErrNoPlaceName
	}

	res, err := r.geocoder.Reverse(ctx, lat, lon)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.metrics.IncGeocodeErrors()
		}
		return "", err
	}
	name, ok := PickPlaceName(*res)
	if !ok {
		return "", ErrNoPlaceName
	}

	if err := r.cache.Set(key, name); err != nil {
		klog.V(1).Infof("place cache write for %s failed: %v", key, err)
	}
	klog.V(2).Infof("geocoded (%.6f,%.6f) -> %q", lat, lon, name)
	return name, nil
}
