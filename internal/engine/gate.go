package engine

import "github.com/dogsight/alert-server/pkg/types"

// detectionGate splits incoming detections into two trust levels.
//
// Presence is deliberately loose (class + confidence + area) and only answers
// "is anything detected at all this frame", so a momentary disappearance is
// not masked by over-filtering. Stability additionally requires a hit count,
// so a single noisy box can neither start nor clear an outside timer.
type detectionGate struct {
	targetClass   string
	minConfidence float64
	minArea       float64
	minHits       int
}

func newDetectionGate(cfg Config) detectionGate {
	return detectionGate{
		targetClass:   cfg.TargetClass,
		minConfidence: cfg.MinConfidence,
		minArea:       cfg.MinArea,
		minHits:       cfg.MinHits,
	}
}

// passesPresence reports whether the detection counts as raw presence of the
// monitored class.
func (g detectionGate) passesPresence(det types.Detection) bool {
	return det.ClassName == g.targetClass &&
		det.Confidence >= g.minConfidence &&
		det.Area >= g.minArea
}

// passesStability reports whether a presence detection is trusted for
// zone-residency decisions. registryHits is the inside-hit count the track
// registry already holds for this track; either it or the tracker's own
// frame-level hit count can satisfy the requirement.
func (g detectionGate) passesStability(det types.Detection, registryHits int) bool {
	if det.TrackID < 0 {
		return false
	}
	return registryHits >= g.minHits || det.Hits >= g.minHits
}
