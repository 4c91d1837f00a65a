package engine

import "time"

// Config defines the tunables of the alert monitoring engine. The defaults
// reflect the most recent field-tested values; every threshold is
// configuration, not a constant.
type Config struct {
	// TargetClass is the detector class being monitored (e.g. "dog").
	TargetClass string

	// MinConfidence and MinArea gate raw presence: detections below either
	// bound are ignored entirely. Kept loose so a brief occlusion is not
	// masked by over-filtering.
	MinConfidence float64
	MinArea       float64 // pixels^2

	// MinHits is the tracker hit count required before a detection is
	// trusted for zone-residency timers.
	MinHits int

	// MinInsideHitsToRegister is the number of stable in-zone sightings
	// before a track is confirmed as the monitored pet.
	MinInsideHitsToRegister int

	// DisappearedTimeout is how long with no presence at all before a
	// disappearance alert fires.
	DisappearedTimeout time.Duration

	// PerTrackOutsideTimeout is the sustained single-track excursion
	// required for a wandering alert.
	PerTrackOutsideTimeout time.Duration

	// GlobalOutsideTimeout is how long without any in-zone sighting before
	// a wandering alert may fire. Both outside conditions must hold.
	GlobalOutsideTimeout time.Duration

	// TickInterval is the period of the timer that evaluates the elapsed
	// time conditions above.
	TickInterval time.Duration

	// PruneWindow removes tracks with no activity; KnownTTL expires the
	// confirmed-inside status of a track that has not re-confirmed.
	PruneWindow time.Duration
	KnownTTL    time.Duration

	// RefWidth and RefHeight are the assumed frame resolution used to
	// correct safe zones supplied in pixel coordinates.
	RefWidth  int
	RefHeight int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		TargetClass:             "dog",
		MinConfidence:           0.25,
		MinArea:                 2000,
		MinHits:                 3,
		MinInsideHitsToRegister: 2,
		DisappearedTimeout:      10 * time.Second,
		PerTrackOutsideTimeout:  15 * time.Second,
		GlobalOutsideTimeout:    30 * time.Second,
		TickInterval:            5 * time.Second,
		PruneWindow:             60 * time.Second,
		KnownTTL:                10 * time.Minute,
		RefWidth:                640,
		RefHeight:               480,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TargetClass == "" {
		c.TargetClass = def.TargetClass
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.MinArea == 0 {
		c.MinArea = def.MinArea
	}
	if c.MinHits == 0 {
		c.MinHits = def.MinHits
	}
	if c.MinInsideHitsToRegister == 0 {
		c.MinInsideHitsToRegister = def.MinInsideHitsToRegister
	}
	if c.DisappearedTimeout == 0 {
		c.DisappearedTimeout = def.DisappearedTimeout
	}
	if c.PerTrackOutsideTimeout == 0 {
		c.PerTrackOutsideTimeout = def.PerTrackOutsideTimeout
	}
	if c.GlobalOutsideTimeout == 0 {
		c.GlobalOutsideTimeout = def.GlobalOutsideTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = def.TickInterval
	}
	if c.PruneWindow == 0 {
		c.PruneWindow = def.PruneWindow
	}
	if c.KnownTTL == 0 {
		c.KnownTTL = def.KnownTTL
	}
	if c.RefWidth == 0 {
		c.RefWidth = def.RefWidth
	}
	if c.RefHeight == 0 {
		c.RefHeight = def.RefHeight
	}
	return c
}
