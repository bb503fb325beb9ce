package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"k8s.io/klog/v2"
)

// mapBoundsPad widens the photo bounds so edge markers are not clipped
const mapBoundsPad = 0.1

type Server struct {
	loop      *Loop
	ctrl      *Controller
	timeline  *TimeDimension
	events    *Broadcaster
	immich    *ImmichClient
	db        *DB
	templates *Templates
	metrics   *Metrics
	photosDir string
}

// Routes builds the HTTP router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestMiddleware(s.metrics))

	r.Get("/", s.handleIndex)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/photos", s.handleAPIPhotos)
		r.Get("/route", s.handleAPIRoute)
		r.Get("/state", s.handleAPIState)
		r.Get("/events", s.handleAPIEvents)
		r.Get("/loads", s.handleAPILoads)

		r.Post("/step", s.handleStep)
		r.Post("/scrub", s.handleScrub)
		r.Post("/mode", s.handleMode)
		r.Post("/select", s.handleSelect)
		r.Post("/play", s.handlePlay)
		r.Post("/pause", s.handlePause)
		r.Post("/speed", s.handleSpeed)
	})

	r.Get("/photos/immich/{id}", s.handleImmichThumbnail)
	if s.photosDir != "" {
		r.Handle("/photos/*", http.StripPrefix("/photos/", http.FileServer(http.Dir(s.photosDir))))
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// StateResponse is the API response for /api/state and every command
type StateResponse struct {
	Loaded bool          `json:"loaded"`
	Frame  *Frame        `json:"frame,omitempty"`
	Mode   BucketMode    `json:"mode"`
	Times  []int64       `json:"times"`
	Stats  ManifestStats `json:"stats"`
}

// state must be called on the loop
func (s *Server) state() StateResponse {
	resp := StateResponse{
		Mode:  s.ctrl.Mode(),
		Times: s.ctrl.AvailableTimes(),
		Stats: s.ctrl.Stats(),
	}
	if f, ok := s.ctrl.Snapshot(); ok {
		resp.Loaded = true
		resp.Frame = &f
	}
	if resp.Times == nil {
		resp.Times = []int64{}
	}
	return resp
}

// command runs fn on the controller's loop and replies with the new state
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func() error) {
	var (
		resp   StateResponse
		cmdErr error
	)
	err := s.loop.Do(r.Context(), func() {
		cmdErr = fn()
		resp = s.state()
	})
	if err != nil {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}
	if cmdErr != nil {
		http.Error(w, cmdErr.Error(), commandStatus(cmdErr))
		return
	}
	writeJSON(w, resp)
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotLoaded):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownBucket), errors.Is(err, ErrPhotoOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, ErrUnsupportedMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// GET / - The map page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var resp StateResponse
	if err := s.loop.Do(r.Context(), func() { resp = s.state() }); err != nil {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.Render(w, "index.html", resp); err != nil {
		klog.Errorf("render index: %v", err)
	}
}

// PhotosResponse is the API response for /api/photos
type PhotosResponse struct {
	Photos []Photo       `json:"photos"`
	Stats  ManifestStats `json:"stats"`
	Bounds *Bounds       `json:"bounds,omitempty"`
}

// GET /api/photos - The sorted photo list with map bounds
func (s *Server) handleAPIPhotos(w http.ResponseWriter, r *http.Request) {
	var resp PhotosResponse
	err := s.loop.Do(r.Context(), func() {
		resp.Photos = s.ctrl.Photos()
		resp.Stats = s.ctrl.Stats()
	})
	if err != nil {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}
	if resp.Photos == nil {
		resp.Photos = []Photo{}
	}

	points := make([]Position, len(resp.Photos))
	for i, p := range resp.Photos {
		points[i] = p.Position()
	}
	if b, ok := PhotoBounds(points, mapBoundsPad); ok {
		resp.Bounds = &b
	}
	writeJSON(w, resp)
}

// RouteResponse is the API response for /api/route
type RouteResponse struct {
	Points     []Position `json:"points"`
	LengthKm   float64    `json:"length_km"`
	Simplified bool       `json:"simplified"`
}

// GET /api/route?tolerance=<degrees> - The route polyline
func (s *Server) handleAPIRoute(w http.ResponseWriter, r *http.Request) {
	var points []Position
	if err := s.loop.Do(r.Context(), func() { points = s.ctrl.Route() }); err != nil {
		http.Error(w, "controller unavailable", http.StatusServiceUnavailable)
		return
	}

	resp := RouteResponse{LengthKm: RouteLength(points)}
	if tolStr := r.URL.Query().Get("tolerance"); tolStr != "" {
		tol, err := strconv.ParseFloat(tolStr, 64)
		if err != nil || tol < 0 {
			http.Error(w, "invalid tolerance", http.StatusBadRequest)
			return
		}
		points = SimplifyRoute(points, tol)
		resp.Simplified = true
	}
	resp.Points = points
	if resp.Points == nil {
		resp.Points = []Position{}
	}
	writeJSON(w, resp)
}

// GET /api/state - Current frame, bucket mode and available times
func (s *Server) handleAPIState(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func() error { return nil })
}

// GET /api/loads - Recent manifest loads
func (s *Server) handleAPILoads(w http.ResponseWriter, r *http.Request) {
	loads := []ManifestLoad{}
	if s.db != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		got, err := s.db.ListManifestLoads(limit)
		if err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		if got != nil {
			loads = got
		}
	}
	writeJSON(w, loads)
}

// GET /api/events - Server-sent render events
func (s *Server) handleAPIEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, events, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	ctx := r.Context()
	flusher.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			var payload any = ev.Frame
			if ev.Type == "label" {
				payload = ev.Label
			}
			data, _ := json.Marshal(payload)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// POST /api/step?dir=next|prev
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	dir, err := ParseDirection(r.URL.Query().Get("dir"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.command(w, r, func() error {
		if !s.ctrl.Loaded() {
			return ErrNotLoaded
		}
		s.ctrl.OnStep(dir)
		return nil
	})
}

// parseInstant accepts unix milliseconds or an ISO-8601 timestamp
func parseInstant(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := ParseCaptureTime(s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// POST /api/scrub?time=<ms|ISO-8601> or ?steps=<n> - Moves the time control
// as a user would. The controller sees the change through its listener.
func (s *Server) handleScrub(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("time") != "":
		t, err := parseInstant(q.Get("time"))
		if err != nil {
			http.Error(w, "invalid time", http.StatusBadRequest)
			return
		}
		s.command(w, r, func() error {
			if _, ok := s.timeline.Seek(t); !ok {
				return ErrNotLoaded
			}
			return nil
		})
	case q.Get("steps") != "":
		steps, err := strconv.Atoi(q.Get("steps"))
		if err != nil {
			http.Error(w, "invalid steps", http.StatusBadRequest)
			return
		}
		s.command(w, r, func() error {
			if _, ok := s.timeline.Next(steps); !ok {
				return ErrNotLoaded
			}
			return nil
		})
	default:
		http.Error(w, "time or steps required", http.StatusBadRequest)
	}
}

// POST /api/mode?mode=hour|day
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	mode, err := ParseBucketMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.command(w, r, func() error {
		return s.ctrl.OnBucketModeChange(mode)
	})
}

// POST /api/select?bucket=<key> or ?photo=<index>
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("bucket") != "":
		key, err := strconv.ParseInt(q.Get("bucket"), 10, 64)
		if err != nil {
			http.Error(w, "invalid bucket", http.StatusBadRequest)
			return
		}
		s.command(w, r, func() error { return s.ctrl.OnMarkerSelect(key) })
	case q.Get("photo") != "":
		i, err := strconv.Atoi(q.Get("photo"))
		if err != nil {
			http.Error(w, "invalid photo", http.StatusBadRequest)
			return
		}
		s.command(w, r, func() error { return s.ctrl.OnGallerySelect(i) })
	default:
		http.Error(w, "bucket or photo required", http.StatusBadRequest)
	}
}

func parseSpeed(r *http.Request) (float64, bool, error) {
	str := r.URL.Query().Get("speed")
	if str == "" {
		return 0, false, nil
	}
	speed, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false, err
	}
	return speed, true, nil
}

// POST /api/play?speed=<multiplier>
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	speed, given, err := parseSpeed(r)
	if err != nil {
		http.Error(w, "invalid speed", http.StatusBadRequest)
		return
	}
	s.command(w, r, func() error {
		if !s.ctrl.Loaded() {
			return ErrNotLoaded
		}
		if !given {
			speed = s.ctrl.Speed()
		}
		s.ctrl.Play(speed)
		return nil
	})
}

// POST /api/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, func() error {
		s.ctrl.Pause()
		return nil
	})
}

// POST /api/speed?speed=<multiplier>
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	speed, given, err := parseSpeed(r)
	if err != nil || !given {
		http.Error(w, "invalid speed", http.StatusBadRequest)
		return
	}
	s.command(w, r, func() error {
		s.ctrl.SetSpeed(speed)
		return nil
	})
}

// GET /photos/immich/{id}?size=thumbnail|preview - Proxies Immich images
func (s *Server) handleImmichThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.immich == nil {
		http.Error(w, "immich not configured", http.StatusNotFound)
		return
	}
	assetID := chi.URLParam(r, "id")
	size := r.URL.Query().Get("size")
	if size == "" {
		size = "preview"
	}

	data, contentType, err := s.immich.GetThumbnail(r.Context(), assetID, size)
	if err != nil {
		klog.V(1).Infof("[immich] thumbnail %s: %v", assetID, err)
		http.Error(w, "failed to fetch thumbnail", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(data)
}
