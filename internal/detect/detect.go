// Package detect turns camera frames into pose records.
//
// The stage runs the fiducial detector on a luma copy of each frame, keeps
// only the first-ranked candidate, and accepts it when its decision margin is
// above MarginThreshold and its pose can be normalized. Every frame yields
// exactly one record; rejected frames yield a not-detected record.
package detect

import (
	"context"
	"image"
	"image/draw"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/tagvision/internal/mailbox"
	"github.com/andresmejia3/tagvision/internal/types"
)

// MarginThreshold is the minimum decision margin (exclusive) for a candidate to count.
const MarginThreshold = 55.0

// Detector finds tags in a luma image. Candidates are ordered best first.
type Detector interface {
	Detect(img *image.Gray) ([]types.Candidate, error)
}

// Stage is the detection stage of the pipeline.
type Stage struct {
	detector Detector
	now      func() time.Time

	processed atomic.Uint64
	accepted  atomic.Uint64
	failures  atomic.Uint64
}

// Option configures a Stage.
type Option func(*Stage)

// WithClock replaces the wall clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) { s.now = now }
}

// NewStage wraps a detector.
func NewStage(d Detector, opts ...Option) *Stage {
	s := &Stage{detector: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats counts stage activity.
type Stats struct {
	Processed uint64 `json:"processed"`
	Accepted  uint64 `json:"accepted"`
	Failures  uint64 `json:"detector_failures"`
}

// Stats returns a snapshot of the stage counters.
func (s *Stage) Stats() Stats {
	return Stats{
		Processed: s.processed.Load(),
		Accepted:  s.accepted.Load(),
		Failures:  s.failures.Load(),
	}
}

// Process runs detection on one frame and always returns one record.
func (s *Stage) Process(frame types.Frame) types.PoseRecord {
	s.processed.Add(1)
	if frame.Image == nil {
		return types.NotDetected(seconds(s.now()))
	}

	candidates, err := s.detector.Detect(toGray(frame.Image))
	ts := seconds(s.now())
	if err != nil {
		s.failures.Add(1)
		slog.Debug("detector failed", "frame_seq", frame.Seq, "error", err)
		return types.NotDetected(ts)
	}

	rec, ok := Select(candidates, ts)
	if ok {
		s.accepted.Add(1)
	}
	return rec
}

// Select applies the selection policy to a candidate list: first candidate
// only, margin strictly above MarginThreshold, pose present and normalizable.
func Select(candidates []types.Candidate, timestamp float64) (types.PoseRecord, bool) {
	if len(candidates) == 0 {
		return types.NotDetected(timestamp), false
	}
	best := candidates[0]
	if !(best.DecisionMargin > MarginThreshold) || best.Pose == nil {
		return types.NotDetected(timestamp), false
	}

	rot, err := NormalizeRotation(best.Pose.Rotation)
	if err != nil {
		slog.Debug("rejecting candidate", "tag_id", best.ID, "error", err)
		return types.NotDetected(timestamp), false
	}
	roll, pitch, yaw := EulerAngles(rot)

	return types.PoseRecord{
		Detected:    true,
		TagID:       best.ID,
		Timestamp:   timestamp,
		Translation: best.Pose.Translation,
		Rotation:    [3]float64{roll, pitch, yaw},
	}, true
}

// Run consumes frames and produces one record per frame until ctx is done
// or a slot is closed.
func (s *Stage) Run(ctx context.Context, frames *mailbox.Slot[types.Frame], records *mailbox.Slot[types.PoseRecord]) error {
	for {
		frame, err := frames.Recv(ctx)
		if err != nil {
			return err
		}
		if err := records.Send(ctx, s.Process(frame)); err != nil {
			return err
		}
	}
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// toGray returns img as 8-bit luma, converting only when needed.
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	if y, ok := img.(*image.YCbCr); ok {
		// JPEG frames already carry a luma plane.
		b := y.Rect
		g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
		for row := 0; row < b.Dy(); row++ {
			off := y.YOffset(b.Min.X, b.Min.Y+row)
			copy(g.Pix[row*g.Stride:row*g.Stride+b.Dx()], y.Y[off:off+b.Dx()])
		}
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
