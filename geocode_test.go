package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNominatimClient_Reverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("format") != "jsonv2" || q.Get("zoom") != "10" || q.Get("addressdetails") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("lat") != "35.595100" || q.Get("lon") != "-82.551500" {
			t.Errorf("coords = %s,%s", q.Get("lat"), q.Get("lon"))
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		fmt.Fprint(w, `{"display_name":"Asheville, Buncombe County","address":{"city":"Asheville","state":"North Carolina"}}`)
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL, "", 0, time.Second)
	res, err := c.Reverse(context.Background(), 35.5951, -82.5515)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if name, _ := PickPlaceName(*res); name != "Asheville, North Carolina" {
		t.Errorf("name = %q", name)
	}
}

func TestNominatimClient_nonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewNominatimClient(srv.URL, "", 0, time.Second)
	if _, err := c.Reverse(context.Background(), 1, 2); err == nil {
		t.Error("expected error for 429")
	}
}

func TestNominatimClient_waitHonoursContext(t *testing.T) {
	c := NewNominatimClient("http://127.0.0.1:0", "", 0, time.Second)
	c.MinInterval = time.Hour
	c.lastRequest = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Reverse(ctx, 1, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Reverse = %v, want deadline exceeded", err)
	}
}

type countingGeocoder struct {
	calls atomic.Int32
	res   *GeocodeResult
	err   error
}

func (g *countingGeocoder) Reverse(ctx context.Context, lat, lon float64) (*GeocodeResult, error) {
	g.calls.Add(1)
	return g.res, g.err
}

func TestLabelResolver_cachesResults(t *testing.T) {
	geo := &countingGeocoder{res: &GeocodeResult{Address: GeocodeAddress{County: "Piscataquis County"}}}
	cache := NewMemoryCache()
	r := NewLabelResolver(cache, geo, nil)

	if _, ok := r.CachedPlace(45.9, -69.2); ok {
		t.Fatal("unexpected cache hit")
	}
	name, err := r.ResolvePlace(context.Background(), 45.9, -69.2)
	if err != nil || name != "Piscataquis County" {
		t.Fatalf("ResolvePlace = %q, %v", name, err)
	}
	// a nearby point shares the rounded key
	if name, ok := r.CachedPlace(45.9001, -69.2004); !ok || name != "Piscataquis County" {
		t.Errorf("CachedPlace = %q, %v", name, ok)
	}
	if _, err := r.ResolvePlace(context.Background(), 45.9, -69.2); err != nil {
		t.Fatal(err)
	}
	if n := geo.calls.Load(); n != 1 {
		t.Errorf("geocoder called %d times", n)
	}
}

func TestLabelResolver_failuresAreNotCached(t *testing.T) {
	geo := &countingGeocoder{err: errors.New("connection refused")}
	cache := NewMemoryCache()
	r := NewLabelResolver(cache, geo, nil)

	if _, err := r.ResolvePlace(context.Background(), 1, 2); err == nil {
		t.Fatal("expected error")
	}
	geo.err = nil
	geo.res = &GeocodeResult{}
	if _, err := r.ResolvePlace(context.Background(), 1, 2); !errors.Is(err, ErrNoPlaceName) {
		t.Errorf("empty response = %v, want ErrNoPlaceName", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache has %d entries", cache.Len())
	}
}

// countingStore is a persistent LocationCache that counts reads
type countingStore struct {
	reads   atomic.Int32
	entries map[string]string
}

func (s *countingStore) Get(key string) (string, bool) {
	s.reads.Add(1)
	v, ok := s.entries[key]
	return v, ok
}

func (s *countingStore) Set(string, string) error { return nil }

func TestLabelResolver_cachedPlaceSkipsStore(t *testing.T) {
	key, _ := CoordinateKey(35.595, -82.551)
	store := &countingStore{entries: map[string]string{key: "Asheville, North Carolina"}}
	r := NewLabelResolver(NewTieredCache(store), nil, nil)

	if _, ok := r.CachedPlace(35.595, -82.551); ok {
		t.Error("CachedPlace answered from the store")
	}
	if n := store.reads.Load(); n != 0 {
		t.Errorf("CachedPlace read the store %d times", n)
	}

	name, err := r.ResolvePlace(context.Background(), 35.595, -82.551)
	if err != nil || name != "Asheville, North Carolina" {
		t.Fatalf("ResolvePlace = %q, %v", name, err)
	}
	if name, ok := r.CachedPlace(35.595, -82.551); !ok || name != "Asheville, North Carolina" {
		t.Errorf("after ResolvePlace CachedPlace = %q, %v", name, ok)
	}
	if n := store.reads.Load(); n != 1 {
		t.Errorf("store read %d times, want 1", n)
	}
}
