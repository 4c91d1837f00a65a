package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dogsight/alert-server/pkg/types"
)

func TestGatePresenceFilter(t *testing.T) {
	g := newDetectionGate(DefaultConfig())

	dog := types.Detection{ClassName: "dog", Confidence: 0.8, Area: 5000}
	assert.True(t, g.passesPresence(dog))

	cat := dog
	cat.ClassName = "cat"
	assert.False(t, g.passesPresence(cat))

	faint := dog
	faint.Confidence = 0.1
	assert.False(t, g.passesPresence(faint))

	tiny := dog
	tiny.Area = 100
	assert.False(t, g.passesPresence(tiny))

	// Boundary values pass: the presence filter is inclusive.
	border := types.Detection{ClassName: "dog", Confidence: 0.25, Area: 2000}
	assert.True(t, g.passesPresence(border))
}

func TestGateStabilityFilter(t *testing.T) {
	g := newDetectionGate(DefaultConfig())

	det := types.Detection{TrackID: 1, ClassName: "dog", Confidence: 0.8, Area: 5000}

	assert.False(t, g.passesStability(det, 0), "no hits anywhere")

	det.Hits = 3
	assert.True(t, g.passesStability(det, 0), "tracker hit count qualifies")

	det.Hits = 0
	assert.True(t, g.passesStability(det, 3), "registry hit count qualifies")

	// A detection the tracker could not associate is never stable.
	untracked := det
	untracked.TrackID = -1
	untracked.Hits = 10
	assert.False(t, g.passesStability(untracked, 10))
}
