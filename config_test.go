package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_missingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.BucketMode != "hour" {
		t.Errorf("defaults = %+v", cfg)
	}
	if p := cfg.Pacing(); p != DefaultPacing {
		t.Errorf("pacing = %+v", p)
	}
	if cfg.ImmichConfigured() {
		t.Error("immich configured by default")
	}
}

func TestLoadConfig_yaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
manifest: /srv/trip/photos.json
bucket_mode: day
playback:
  base_interval: 8s
  min_interval: 500ms
  speed: 2
geocoder:
  disabled: true
immich:
  url: https://immich.example.com/
  api_key: abc
  after: "2024-09-01"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Manifest != "/srv/trip/photos.json" || cfg.BucketMode != "day" {
		t.Errorf("cfg = %+v", cfg)
	}
	if p := cfg.Pacing(); p.Base != 8*time.Second || p.Minimum != 500*time.Millisecond {
		t.Errorf("pacing = %+v", p)
	}
	if !cfg.Geocoder.Disabled {
		t.Error("geocoder should be disabled")
	}
	// sections absent from the file keep their defaults
	if cfg.Cache == nil || cfg.Cache.Path == "" {
		t.Error("cache section lost its default")
	}
	if !cfg.ImmichConfigured() {
		t.Error("immich not configured")
	}
	b, _ := cfg.Immich.bounds()
	if b[0] == nil || b[0].Month() != time.September || b[1] != nil {
		t.Errorf("bounds = %v", b)
	}
}

func TestLoadConfig_invalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("playback: [1, 2"), 0644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_ValidateRejectsBadMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BucketMode = "week"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for week mode")
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "TRIPMAP_SPEED=4\nTRIPMAP_IMMICH_URL=http://immich:2283\nTRIPMAP_IMMICH_API_KEY=k\nTRIPMAP_GEOCODER_DISABLED=true\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRIPMAP_BUCKET_MODE", "day")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(EnvLookup(envFile, filepath.Join(t.TempDir(), "missing.env"))); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Playback.Speed != 4 || cfg.BucketMode != "day" || !cfg.Geocoder.Disabled {
		t.Errorf("cfg = %+v playback=%+v", cfg, cfg.Playback)
	}
	if !cfg.ImmichConfigured() || cfg.Immich.URL != "http://immich:2283" {
		t.Errorf("immich = %+v", cfg.Immich)
	}

	bad := DefaultConfig()
	err := bad.ApplyEnv(func(key string) (string, bool) {
		if key == "TRIPMAP_SPEED" {
			return "fast", true
		}
		return "", false
	})
	if err == nil {
		t.Error("expected error for TRIPMAP_SPEED=fast")
	}
}
