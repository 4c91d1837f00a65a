package engine

import "time"

// TrackEntry is the per-track memory of the registry. All fields are owned
// by the registry and mutated only under the monitor's lock.
type TrackEntry struct {
	// LastSeenAt is the most recent stable sighting of this track.
	LastSeenAt time.Time

	// OutsideSince marks the start of an unbroken outside run. It is
	// cleared only by an inside observation, never by absence.
	OutsideSince time.Time

	// InsideHits counts stable in-zone sightings since creation or the
	// last demotion.
	InsideHits int

	// ConfirmedInsideAt is set when InsideHits crosses the registration
	// threshold. It carries its own TTL: once it ages out the track is no
	// longer trusted as the monitored pet.
	ConfirmedInsideAt time.Time
}

// trackRegistry holds per-track state keyed by the upstream track id.
// One value type in one map keeps the invariants local and pruning atomic.
type trackRegistry struct {
	tracks     map[int]*TrackEntry
	registered map[int]struct{} // out-of-band allow-list, bypasses confirmation

	minInsideHits int
	pruneWindow   time.Duration
	knownTTL      time.Duration
}

func newTrackRegistry(cfg Config) *trackRegistry {
	return &trackRegistry{
		tracks:        make(map[int]*TrackEntry),
		registered:    make(map[int]struct{}),
		minInsideHits: cfg.MinInsideHitsToRegister,
		pruneWindow:   cfg.PruneWindow,
		knownTTL:      cfg.KnownTTL,
	}
}

// update records one stable sighting of trackID at now.
func (r *trackRegistry) update(trackID int, inZone bool, now time.Time) *TrackEntry {
	entry, ok := r.tracks[trackID]
	if !ok {
		entry = &TrackEntry{}
		r.tracks[trackID] = entry
	}

	if inZone {
		entry.InsideHits++
		if entry.InsideHits >= r.minInsideHits {
			// Each qualifying sighting refreshes the known TTL.
			entry.ConfirmedInsideAt = now
		}
		entry.OutsideSince = time.Time{}
	} else if entry.OutsideSince.IsZero() {
		entry.OutsideSince = now
	}

	entry.LastSeenAt = now
	return entry
}

// hits returns the inside-hit count for a track, 0 if unknown.
func (r *trackRegistry) hits(trackID int) int {
	if entry, ok := r.tracks[trackID]; ok {
		return entry.InsideHits
	}
	return 0
}

// known reports whether the track is currently trusted as the monitored pet:
// either its confirmed-inside status has not expired, or it was registered
// out of band.
func (r *trackRegistry) known(trackID int, entry *TrackEntry, now time.Time) bool {
	if _, ok := r.registered[trackID]; ok {
		return true
	}
	if entry.ConfirmedInsideAt.IsZero() {
		return false
	}
	return now.Sub(entry.ConfirmedInsideAt) <= r.knownTTL
}

// anyKnownOutside reports whether any known track has an open outside run.
func (r *trackRegistry) anyKnownOutside(now time.Time) bool {
	for id, entry := range r.tracks {
		if r.known(id, entry, now) && !entry.OutsideSince.IsZero() {
			return true
		}
	}
	return false
}

// anyKnownOutsideLonger reports whether any known track has been outside the
// zone continuously for at least threshold.
func (r *trackRegistry) anyKnownOutsideLonger(threshold time.Duration, now time.Time) bool {
	for id, entry := range r.tracks {
		if !r.known(id, entry, now) || entry.OutsideSince.IsZero() {
			continue
		}
		if now.Sub(entry.OutsideSince) >= threshold {
			return true
		}
	}
	return false
}

// prune drops tracks idle past the prune window and demotes tracks whose
// confirmed-inside status has aged past the known TTL. Demotion clears the
// confirmation and hit counter but keeps the activity bookkeeping until the
// prune window catches up.
func (r *trackRegistry) prune(now time.Time) (pruned, demoted int) {
	for id, entry := range r.tracks {
		if now.Sub(entry.LastSeenAt) > r.pruneWindow {
			delete(r.tracks, id)
			pruned++
			continue
		}
		if !entry.ConfirmedInsideAt.IsZero() && now.Sub(entry.ConfirmedInsideAt) > r.knownTTL {
			entry.ConfirmedInsideAt = time.Time{}
			entry.InsideHits = 0
			demoted++
		}
	}
	return pruned, demoted
}

// register adds a track id to the allow-list. Nothing in the engine populates
// this; it exists as an override hook for callers that already trust an id.
func (r *trackRegistry) register(trackID int) {
	r.registered[trackID] = struct{}{}
}

func (r *trackRegistry) reset() {
	r.tracks = make(map[int]*TrackEntry)
	r.registered = make(map[int]struct{})
}

func (r *trackRegistry) size() int {
	return len(r.tracks)
}

// snapshot returns a copy of the registry for status reporting.
func (r *trackRegistry) snapshot() map[int]TrackEntry {
	out := make(map[int]TrackEntry, len(r.tracks))
	for id, entry := range r.tracks {
		out[id] = *entry
	}
	return out
}
