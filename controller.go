package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"k8s.io/klog/v2"
)

var (
	// ErrUnknownBucket is returned when a marker names a bucket with no photos
	ErrUnknownBucket = errors.New("no photos in bucket")
	// ErrPhotoOutOfRange is returned for a gallery index outside the photo list
	ErrPhotoOutOfRange = errors.New("photo index out of range")
	// ErrNotLoaded is returned by selections made before a manifest is loaded
	ErrNotLoaded = errors.New("no manifest loaded")
)

// Direction is a slideshow step
type Direction int

const (
	StepPrev Direction = -1
	StepNext Direction = 1
)

// ParseDirection accepts "next" and "prev"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "next", "forward":
		return StepNext, nil
	case "prev", "previous", "back":
		return StepPrev, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

func (d Direction) String() string {
	if d < 0 {
		return "prev"
	}
	return "next"
}

// Frame is everything the view needs to draw the current state
type Frame struct {
	Reason      string     `json:"reason"`
	Active      Photo      `json:"active"`
	Total       int        `json:"total"`
	Mode        BucketMode `json:"mode"`
	Bucket      int64      `json:"bucket"`
	BucketLabel string     `json:"bucket_label"`
	Count       string     `json:"count"`
	Cluster     []Photo    `json:"cluster"`
	Progress    []Position `json:"progress"`
	Playing     bool       `json:"playing"`
	IntervalMs  int64      `json:"interval_ms"`
	Speed       float64    `json:"speed"`
	Label       string     `json:"label"`
	Resolved    bool       `json:"label_resolved"`
}

// LabelUpdate carries a place name resolved after the frame was drawn
type LabelUpdate struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Resolved bool   `json:"resolved"`
}

// Renderer receives the controller's output
type Renderer interface {
	Render(f Frame)
	ShowLabel(u LabelUpdate)
}

type nopRenderer struct{}

func (nopRenderer) Render(Frame)          {}
func (nopRenderer) ShowLabel(LabelUpdate) {}

// ControllerConfig wires a Controller to its collaborators
type ControllerConfig struct {
	TimeControl TimeControl
	Renderer    Renderer
	Scheduler   Scheduler
	// Labels resolves place names; nil keeps the coordinate label
	Labels PlaceResolver
	// Post queues a closure on the controller's loop. Geocode completions
	// come back through it; nil disables network lookups.
	Post    func(func()) bool
	Pacing  Pacing
	Mode    BucketMode
	Speed   float64
	Metrics *Metrics
}

// Controller keeps the time control, the slideshow position and the bucket
// gallery consistent. None of its methods are safe for concurrent use: call
// them from a single goroutine, normally the one running Loop.
type Controller struct {
	tc       TimeControl
	renderer Renderer
	sched    Scheduler
	labels   PlaceResolver
	post     func(func()) bool
	pacing   Pacing
	metrics  *Metrics

	photos []Photo
	route  []Position
	stats  ManifestStats
	loaded bool

	mode  BucketMode
	index BucketIndex[Photo]

	active    int
	reason    string
	state     syncState
	speed     float64
	stopTimer func()

	labeledIndex  int
	label         string
	labelResolved bool
	lookupSeq     uint64
	lookupCancel  context.CancelFunc
}

// NewController creates a controller and subscribes it to the time control
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("controller needs a scheduler")
	}
	if cfg.Mode == "" {
		cfg.Mode = BucketHour
	}
	if _, err := BucketWidth(cfg.Mode); err != nil {
		return nil, err
	}
	if cfg.TimeControl == nil {
		cfg.TimeControl = NewTimeDimension()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.Pacing.Base <= 0 {
		cfg.Pacing = DefaultPacing
	}

	c := &Controller{
		tc:           cfg.TimeControl,
		renderer:     cfg.Renderer,
		sched:        cfg.Scheduler,
		labels:       cfg.Labels,
		post:         cfg.Post,
		pacing:       cfg.Pacing,
		metrics:      cfg.Metrics,
		mode:         cfg.Mode,
		speed:        sanitizeSpeed(cfg.Speed),
		labeledIndex: -1,
	}
	c.tc.OnTimeChange(c.OnExternalScrub)
	return c, nil
}

func sanitizeSpeed(speed float64) float64 {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return 1
	}
	return speed
}

// Load validates and sorts the manifest, builds the route and bucket index
// and renders the first photo. On ErrNoValidPhotos the previous state (if
// any) is kept and nothing is rendered.
func (c *Controller) Load(records []ManifestRecord) error {
	photos, stats := ValidatePhotos(records)
	c.metrics.AddPhotosDropped(stats.Dropped)
	if len(photos) == 0 {
		return ErrNoValidPhotos
	}
	idx, err := BuildBucketIndex(photos, Photo.InstantMs, c.mode)
	if err != nil {
		return err
	}

	c.stopPlayback()
	c.photos = photos
	c.route = RouteFromPhotos(photos)
	c.stats = stats
	c.index = idx
	c.loaded = true
	c.labeledIndex = -1
	c.metrics.SetPhotosLoaded(len(photos))
	klog.Infof("loaded %d photos (%d dropped) into %d %s buckets", stats.Valid, stats.Dropped, len(idx.Times), c.mode)

	c.tc.SetAvailableTimes(idx.Times)
	c.setActive(0, "load")
	return nil
}

// OnStep moves the slideshow one photo, wrapping at both ends
func (c *Controller) OnStep(dir Direction) {
	c.step(int(dir), dir.String())
}

func (c *Controller) tick() {
	c.step(1, "tick")
}

func (c *Controller) step(delta int, reason string) {
	if !c.loaded {
		return
	}
	n := len(c.photos)
	c.setActive(((c.active+delta)%n+n)%n, reason)
}

// OnBucketModeChange regroups the photos under mode and moves the time
// control to the active photo's new window
func (c *Controller) OnBucketModeChange(mode BucketMode) error {
	if _, err := BucketWidth(mode); err != nil {
		return err
	}
	if !c.loaded {
		c.mode = mode
		return nil
	}
	idx, err := BuildBucketIndex(c.photos, Photo.InstantMs, mode)
	if err != nil {
		return err
	}
	c.mode = mode
	c.index = idx
	c.tc.SetAvailableTimes(idx.Times)
	c.syncTimeControl()
	c.render("mode")
	return nil
}

// OnExternalScrub handles a time control position change. The first
// notification after a push of our own is swallowed; anything else is the
// user taking over, which stops playback.
func (c *Controller) OnExternalScrub(key int64) {
	if c.state.awaitingEcho() {
		c.state = c.state.consumeEcho()
		c.metrics.IncEchoSuppressed()
		klog.V(2).Infof("suppressed time control echo at %d", key)
		return
	}
	if !c.loaded {
		return
	}
	members := c.index.Members(key)
	if len(members) == 0 {
		return
	}
	c.stopPlayback()
	c.setActive(members[0].Index, "scrub")
}

// OnMarkerSelect activates the first photo of the bucket at key
func (c *Controller) OnMarkerSelect(key int64) error {
	if !c.loaded {
		return ErrNotLoaded
	}
	members := c.index.Members(key)
	if len(members) == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownBucket, key)
	}
	c.stopPlayback()
	c.setActive(members[0].Index, "marker")
	return nil
}

// OnGallerySelect activates the photo at index i of the sorted list
func (c *Controller) OnGallerySelect(i int) error {
	if !c.loaded {
		return ErrNotLoaded
	}
	if i < 0 || i >= len(c.photos) {
		return fmt.Errorf("%w: %d", ErrPhotoOutOfRange, i)
	}
	c.stopPlayback()
	c.setActive(i, "gallery")
	return nil
}

// Play starts stepping forward every Pacing.Interval(speed). Any running
// schedule is cancelled first.
func (c *Controller) Play(speed float64) {
	c.speed = sanitizeSpeed(speed)
	if !c.loaded {
		return
	}
	c.startTimer()
	c.render("play")
}

// Pause cancels playback
func (c *Controller) Pause() {
	c.stopPlayback()
	if c.loaded {
		c.render("pause")
	}
}

// SetSpeed changes the playback speed. A running schedule restarts at the
// new interval without stepping.
func (c *Controller) SetSpeed(speed float64) {
	c.speed = sanitizeSpeed(speed)
	if !c.loaded {
		return
	}
	if c.state.playing() {
		c.startTimer()
	}
	c.render("speed")
}

func (c *Controller) startTimer() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	interval := c.pacing.Interval(c.speed)
	c.state = c.state.play()
	c.stopTimer = c.sched.Every(interval, c.tick)
	klog.V(1).Infof("playback at %.2gx, every %v", c.speed, interval)
}

func (c *Controller) stopPlayback() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	c.state = c.state.stop()
}

// Close stops playback and abandons any label lookup
func (c *Controller) Close() {
	c.stopPlayback()
	if c.lookupCancel != nil {
		c.lookupCancel()
		c.lookupCancel = nil
	}
}

func (c *Controller) setActive(i int, reason string) {
	c.active = i
	c.metrics.IncActiveChange(reason)
	c.syncTimeControl()
	c.render(reason)
}

// syncTimeControl pushes the active photo's window to the time control if
// it is not already there. The echo is armed only when a push happens, so
// each armed echo is consumed by exactly one notification.
func (c *Controller) syncTimeControl() {
	key, err := BucketKey(c.photos[c.active].InstantMs(), c.mode)
	if err != nil {
		return
	}
	if cur, ok := c.tc.CurrentTime(); ok && cur == key {
		return
	}
	c.state = c.state.armEcho()
	c.tc.SetCurrentTime(key)
}

func (c *Controller) render(reason string) {
	c.reason = reason
	c.requestLabel()
	c.renderer.Render(c.frame(reason))
}

func (c *Controller) frame(reason string) Frame {
	p := c.photos[c.active]
	key, _ := BucketKey(p.InstantMs(), c.mode)
	members := c.index.Members(key)

	progress := make([]Position, 0, c.active+1)
	for _, q := range c.photos[:c.active+1] {
		progress = append(progress, q.Position())
	}

	f := Frame{
		Reason:      reason,
		Active:      p,
		Total:       len(c.photos),
		Mode:        c.mode,
		Bucket:      key,
		BucketLabel: FormatBucketLabel(key, c.mode),
		Count:       formatPhotoCount(len(members)),
		Cluster:     slices.Clone(members),
		Progress:    progress,
		Playing:     c.state.playing(),
		IntervalMs:  c.pacing.Interval(c.speed).Milliseconds(),
		Speed:       c.speed,
		Label:       c.label,
		Resolved:    c.labelResolved,
	}
	if c.labeledIndex != c.active {
		f.Label, _ = FormatCoordinates(p.Lat, p.Lon)
		f.Resolved = false
	}
	return f
}

// requestLabel sets the coordinate label for a newly active photo and starts
// a place lookup for it, cancelling the previous one. Re-renders of the same
// photo do not start a new lookup.
func (c *Controller) requestLabel() {
	if c.labeledIndex == c.active {
		return
	}
	c.labeledIndex = c.active
	if c.lookupCancel != nil {
		c.lookupCancel()
		c.lookupCancel = nil
	}
	c.lookupSeq++

	p := c.photos[c.active]
	c.label, _ = FormatCoordinates(p.Lat, p.Lon)
	c.labelResolved = false
	if c.labels == nil {
		return
	}
	if name, ok := c.labels.CachedPlace(p.Lat, p.Lon); ok {
		c.label = name
		c.labelResolved = true
		return
	}
	if c.post == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	c.lookupCancel = cancel
	seq, index := c.lookupSeq, c.active
	labels, post := c.labels, c.post
	go func() {
		defer cancel()
		name, err := labels.ResolvePlace(ctx, p.Lat, p.Lon)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				klog.V(1).Infof("place lookup for photo %d failed: %v", index, err)
			}
			return
		}
		post(func() { c.applyLabel(seq, index, name) })
	}()
}

// applyLabel installs a resolved place name unless a newer lookup has been
// started or the active photo has moved on
func (c *Controller) applyLabel(seq uint64, index int, name string) {
	if seq != c.lookupSeq || index != c.active {
		klog.V(2).Infof("dropping stale label %q for photo %d", name, index)
		return
	}
	c.lookupCancel = nil
	c.label = name
	c.labelResolved = true
	c.renderer.ShowLabel(LabelUpdate{Index: index, Label: name, Resolved: true})
}

// Snapshot returns the current frame with the reason of the last render;
// ok is false before the first load
func (c *Controller) Snapshot() (Frame, bool) {
	if !c.loaded {
		return Frame{}, false
	}
	return c.frame(c.reason), true
}

// Photos returns the sorted photo list
func (c *Controller) Photos() []Photo {
	return slices.Clone(c.photos)
}

// Route returns the deduplicated path through the photos
func (c *Controller) Route() []Position {
	return slices.Clone(c.route)
}

// Stats returns the counts from the last successful load
func (c *Controller) Stats() ManifestStats {
	return c.stats
}

// Mode returns the active bucket mode
func (c *Controller) Mode() BucketMode {
	return c.mode
}

// AvailableTimes returns the bucket keys of the current index
func (c *Controller) AvailableTimes() []int64 {
	return slices.Clone(c.index.Times)
}

// Speed returns the playback speed multiplier
func (c *Controller) Speed() float64 {
	return c.speed
}

// Loaded reports whether a manifest has been loaded
func (c *Controller) Loaded() bool {
	return c.loaded
}
