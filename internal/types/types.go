package types

import (
	"image"
	"time"
)

// Frame is a single decoded camera image handed from capture to detection.
// Ownership moves with the value: the receiver may keep or discard Image.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Image      image.Image
}

// PoseRecord is the unit published to the robot controller, one per frame.
// When Detected is false, TagID, Translation and Rotation are all zero.
type PoseRecord struct {
	Detected    bool       `json:"detected"`
	TagID       uint64     `json:"tag_id"`
	Timestamp   float64    `json:"timestamp"`   // wall-clock seconds
	Translation [3]float64 `json:"translation"` // meters, camera frame
	Rotation    [3]float64 `json:"rotation"`    // roll, pitch, yaw in radians
}

// NotDetected returns the record emitted when no tag was accepted for a frame.
func NotDetected(timestamp float64) PoseRecord {
	return PoseRecord{Timestamp: timestamp}
}

// Pose is the raw detector output: a 3x3 rotation (row-major) and a translation in meters.
type Pose struct {
	Rotation    [3][3]float64
	Translation [3]float64
}

// Candidate is one detection reported by the fiducial detector.
// Pose is nil when pose estimation failed for this candidate.
type Candidate struct {
	ID             uint64
	DecisionMargin float64
	Pose           *Pose
}
