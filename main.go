package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

var (
	configFlag    = flag.String("config", "", "config file (default ~/.config/tripmap/config.yaml)")
	envFlag       = flag.String("env", ".env", "dotenv file with TRIPMAP_* settings")
	addrFlag      = flag.String("addr", "", "listen address")
	manifestFlag  = flag.String("manifest", "", "photo manifest (photos.json)")
	photosFlag    = flag.String("photos", "", "photo directory; generates the manifest from EXIF when set")
	writeFlag     = flag.Bool("write-manifest", false, "write the generated manifest to -manifest")
	watchFlag     = flag.Bool("watch", false, "reload when files under -photos change")
	modeFlag      = flag.String("mode", "", "bucket mode: hour or day")
	immichFlag    = flag.Bool("immich", false, "load the manifest from the configured Immich server")
	templatesFlag = flag.String("templates", "", "serve templates from this directory instead of the built-in ones")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		klog.Exitf("config: %v", err)
	}

	metrics := NewMetrics()

	var db *DB
	var store LocationCache
	if cfg.Cache.Path != "" {
		db, err = OpenDB(cfg.Cache.Path)
		if err != nil {
			klog.Warningf("place cache disabled: %v", err)
		} else {
			defer db.Close()
			store = db
			if n, err := db.CountPlaces(); err == nil {
				klog.Infof("place cache %s: %d entries", cfg.Cache.Path, n)
			}
		}
	}

	var geocoder Geocoder
	if !cfg.Geocoder.Disabled {
		nc := NewNominatimClient(cfg.Geocoder.URL, cfg.Geocoder.UserAgent, cfg.Geocoder.Zoom, cfg.Geocoder.Timeout)
		if cfg.Geocoder.MinInterval > 0 {
			nc.MinInterval = cfg.Geocoder.MinInterval
		}
		nc.metrics = metrics
		geocoder = nc
	}
	labels := NewLabelResolver(NewTieredCache(store), geocoder, metrics)

	var immich *ImmichClient
	if cfg.ImmichConfigured() {
		immich = NewImmichClient(cfg.Immich.URL, cfg.Immich.APIKey)
	}

	mode, _ := ParseBucketMode(cfg.BucketMode)
	loop := NewLoop()
	events := NewBroadcaster(metrics)
	timeline := NewTimeDimension()
	ctrl, err := NewController(ControllerConfig{
		TimeControl: timeline,
		Renderer:    events,
		Scheduler:   NewLoopScheduler(loop),
		Labels:      labels,
		Post:        loop.Post,
		Pacing:      cfg.Pacing(),
		Mode:        mode,
		Speed:       cfg.Playback.Speed,
		Metrics:     metrics,
	})
	if err != nil {
		klog.Exitf("controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := manifestSource{cfg: cfg, immich: immich, useImmich: *immichFlag, write: *writeFlag}
	records, source, err := src.read(ctx)
	if err != nil {
		klog.Exitf("manifest: %v", err)
	}
	// The loop is not running yet, so the controller can be driven directly.
	if err := ctrl.Load(records); err != nil {
		klog.Exitf("load %s: %v", source, err)
	}
	recordLoad(db, source, ctrl.Stats())

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	if *watchFlag && cfg.PhotosDir != "" && !src.useImmich {
		go watchPhotos(ctx, src, loop, ctrl, db)
	}

	templates := NewTemplates(EmbeddedTemplates(), false)
	if *templatesFlag != "" {
		templates = NewTemplates(os.DirFS(*templatesFlag), true)
	}

	photosDir := cfg.PhotosDir
	if photosDir == "" {
		photosDir = filepath.Join(filepath.Dir(cfg.Manifest), "photos")
	}

	server := &Server{
		loop:      loop,
		ctrl:      ctrl,
		timeline:  timeline,
		events:    events,
		immich:    immich,
		db:        db,
		templates: templates,
		metrics:   metrics,
		photosDir: photosDir,
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		klog.Infof("starting server on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	klog.Info("shutting down")

	// Event streams only end when their channel closes.
	events.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		klog.Warningf("shutdown: %v", err)
	}

	<-loopDone
	ctrl.Close()
}

// loadConfig layers the config file, the environment and flags
func loadConfig() (*Config, error) {
	cfg, err := LoadConfig(*configFlag)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(EnvLookup(*envFlag)); err != nil {
		return nil, err
	}

	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *manifestFlag != "" {
		cfg.Manifest = *manifestFlag
	}
	if *photosFlag != "" {
		cfg.PhotosDir = *photosFlag
	}
	if *modeFlag != "" {
		cfg.BucketMode = *modeFlag
	}
	if *immichFlag && !cfg.ImmichConfigured() {
		return nil, errors.New("-immich needs immich.url and immich.api_key")
	}
	return cfg, cfg.Validate()
}

// manifestSource reads photo records from Immich, an EXIF scan or a file
type manifestSource struct {
	cfg       *Config
	immich    *ImmichClient
	useImmich bool
	write     bool
}

func (m manifestSource) read(ctx context.Context) ([]ManifestRecord, string, error) {
	switch {
	case m.useImmich:
		bounds, err := m.cfg.Immich.bounds()
		if err != nil {
			return nil, "", err
		}
		records, err := m.immich.FetchManifest(ctx, bounds[0], bounds[1])
		return records, "immich", err

	case m.cfg.PhotosDir != "":
		records, _, err := GenerateManifest(m.cfg.PhotosDir)
		if err != nil {
			return nil, "", err
		}
		if m.write {
			if err := WriteManifest(m.cfg.Manifest, records); err != nil {
				return nil, "", fmt.Errorf("write %s: %w", m.cfg.Manifest, err)
			}
			klog.Infof("wrote %d entries to %s", len(records), m.cfg.Manifest)
		}
		return records, "exif:" + m.cfg.PhotosDir, nil

	default:
		f, err := os.Open(m.cfg.Manifest)
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		records, err := ParseManifest(f)
		return records, "file:" + m.cfg.Manifest, err
	}
}

func recordLoad(db *DB, source string, stats ManifestStats) {
	if db == nil {
		return
	}
	if err := db.RecordManifestLoad(source, stats); err != nil {
		klog.Warningf("record load: %v", err)
	}
}

// watchPhotos regenerates the manifest when the photo directory changes and
// hands it to the controller on its loop
func watchPhotos(ctx context.Context, src manifestSource, loop *Loop, ctrl *Controller, db *DB) {
	changes := make(chan struct{}, 1)
	go func() {
		err := WatchDir(ctx, src.cfg.PhotosDir, 2*time.Second, func() {
			select {
			case changes <- struct{}{}:
			default:
			}
		})
		if err != nil {
			klog.Errorf("watch %s: %v", src.cfg.PhotosDir, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}

		records, source, err := src.read(ctx)
		if err != nil {
			klog.Errorf("reload: %v", err)
			continue
		}
		loop.Post(func() {
			if err := ctrl.Load(records); err != nil {
				klog.Warningf("reload %s: %v; keeping previous photos", source, err)
				return
			}
			recordLoad(db, source, ctrl.Stats())
		})
	}
}
