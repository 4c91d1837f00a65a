package types

import "time"

// Detection is one object reported by the detector daemon for a single frame.
// TrackID is assigned upstream by the tracker; -1 means the detector could not
// associate the box with a track this frame.
type Detection struct {
	TrackID    int     `json:"track_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	Area       float64 `json:"area"`
	Hits       int     `json:"hits"` // consecutive tracker matches, 0 if unknown
}

// BBox is an axis-aligned bounding box in source pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// FrameEvent is one detector frame as delivered over the ingest socket.
type FrameEvent struct {
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	Timestamp   float64     `json:"timestamp"`
	Detections  []Detection `json:"detections"`
}

// AlertKind identifies the notification emitted by the alert engine.
type AlertKind string

const (
	AlertWandering               AlertKind = "wandering"
	AlertDisappeared             AlertKind = "disappeared"
	AlertDisappearedAfterOutside AlertKind = "disappeared_after_outside"
	AlertReturned                AlertKind = "returned"
)

// MediaSample is one H.264 access unit relayed to live-share peers.
type MediaSample struct {
	Data      []byte
	Timestamp time.Time
}
