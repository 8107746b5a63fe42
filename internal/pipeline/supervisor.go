// Package pipeline wires capture, detection and transport together.
//
// Three goroutines share two single-slot mailboxes:
//
//	capture --frames--> detection --records--> transport
//
// Only the camera has a restart policy. Cancelling the context stops all three
// loops; Run waits for them before closing the camera.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/tagvision/internal/capture"
	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/detect"
	"github.com/andresmejia3/tagvision/internal/mailbox"
	"github.com/andresmejia3/tagvision/internal/transport"
	"github.com/andresmejia3/tagvision/internal/types"
)

// Source is an open frame source, normally a *capture.Camera.
type Source interface {
	Run(ctx context.Context, slot *mailbox.Slot[types.Frame], counters *capture.Counters) error
	Close() error
}

// OpenFunc opens the frame source.
type OpenFunc func(ctx context.Context) (Source, error)

// CameraOpener adapts capture.Open to an OpenFunc.
func CameraOpener(cfg capture.Config) OpenFunc {
	return func(ctx context.Context) (Source, error) {
		cam, err := capture.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}
}

// Observer is told about every record after it has been handed to the publisher.
type Observer func(rec types.PoseRecord, publishErr error)

// Supervisor owns the slots and the three stage loops.
type Supervisor struct {
	open      OpenFunc
	stage     *detect.Stage
	pub       transport.Publisher
	retry     config.RetryConfig
	timeout   time.Duration
	observers []Observer

	frames  *mailbox.Slot[types.Frame]
	records *mailbox.Slot[types.PoseRecord]

	capture        capture.Counters
	cameraOpens    atomic.Uint64
	cameraFailures atomic.Uint64
	published      atomic.Uint64
	publishErrors  atomic.Uint64
	last           atomic.Pointer[types.PoseRecord]
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRetry sets the camera open retry policy.
func WithRetry(cfg config.RetryConfig) Option {
	return func(s *Supervisor) { s.retry = cfg }
}

// WithPublishTimeout bounds each publish call. Zero means no bound.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Supervisor) { s.timeout = d }
}

// OnPublish registers an observer. Observers run on the transport goroutine.
func OnPublish(fn Observer) Option {
	return func(s *Supervisor) { s.observers = append(s.observers, fn) }
}

// New builds a supervisor.
func New(open OpenFunc, stage *detect.Stage, pub transport.Publisher, opts ...Option) *Supervisor {
	s := &Supervisor{
		open:    open,
		stage:   stage,
		pub:     pub,
		retry:   config.RetryConfig{InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
		frames:  mailbox.New[types.Frame]("frames"),
		records: mailbox.New[types.PoseRecord]("records"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled or a stage fails for good. A cancelled
// ctx is a clean shutdown and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
		current  Source
	)
	fail := func(stage string, err error) {
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mailbox.ErrClosed) {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = fmt.Errorf("%s stage: %w", stage, err)
		}
		errMu.Unlock()
		cancel()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		src, err := s.captureLoop(ctx)
		current = src
		fail("capture", err)
	}()
	go func() {
		defer wg.Done()
		slog.Info("detection stage started")
		fail("detection", s.stage.Run(ctx, s.frames, s.records))
	}()
	go func() {
		defer wg.Done()
		slog.Info("transport stage started")
		fail("transport", s.transportLoop(ctx))
	}()

	wg.Wait()
	if current != nil {
		current.Close()
	}
	slog.Info("pipeline stopped",
		"frames", s.capture.Frames.Load(),
		"published", s.published.Load(),
		"publish_errors", s.publishErrors.Load(),
	)
	return firstErr
}

// captureLoop keeps a camera open and streaming. It returns the source that
// was open when ctx ended so Run can close it after the other stages stop.
func (s *Supervisor) captureLoop(ctx context.Context) (Source, error) {
	for {
		var src Source
		err := Retry(ctx, "camera", s.retry, func(ctx context.Context) error {
			var err error
			src, err = s.open(ctx)
			if err != nil {
				s.cameraFailures.Add(1)
				return err
			}
			s.cameraOpens.Add(1)
			return nil
		})
		if err != nil {
			return nil, err
		}

		slog.Info("capture stage started")
		err = src.Run(ctx, s.frames, &s.capture)
		if ctx.Err() != nil {
			return src, ctx.Err()
		}
		src.Close()
		slog.Warn("camera stream lost, reopening", "error", err)
	}
}

func (s *Supervisor) transportLoop(ctx context.Context) error {
	for {
		rec, err := s.records.Recv(ctx)
		if err != nil {
			return err
		}
		s.last.Store(&rec)

		perr := s.publish(ctx, rec)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if perr != nil {
			s.publishErrors.Add(1)
			slog.Warn("publish failed, dropping record", "error", perr, "detected", rec.Detected)
		} else {
			s.published.Add(1)
		}

		for _, fn := range s.observers {
			fn(rec, perr)
		}
	}
}

func (s *Supervisor) publish(ctx context.Context, rec types.PoseRecord) error {
	if s.timeout <= 0 {
		return s.pub.Publish(ctx, rec)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.pub.Publish(ctx, rec)
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	Frames         uint64            `json:"frames"`
	DecodeErrors   uint64            `json:"decode_errors"`
	CameraOpens    uint64            `json:"camera_opens"`
	CameraFailures uint64            `json:"camera_failures"`
	Detection      detect.Stats      `json:"detection"`
	Published      uint64            `json:"published"`
	PublishErrors  uint64            `json:"publish_errors"`
	FrameSlot      mailbox.Stats     `json:"frame_slot"`
	RecordSlot     mailbox.Stats     `json:"record_slot"`
	Last           *types.PoseRecord `json:"last,omitempty"`
}

// Stats returns the current counters.
func (s *Supervisor) Stats() Stats {
	return Stats{
		Frames:         s.capture.Frames.Load(),
		DecodeErrors:   s.capture.DecodeErrors.Load(),
		CameraOpens:    s.cameraOpens.Load(),
		CameraFailures: s.cameraFailures.Load(),
		Detection:      s.stage.Stats(),
		Published:      s.published.Load(),
		PublishErrors:  s.publishErrors.Load(),
		FrameSlot:      s.frames.Stats(),
		RecordSlot:     s.records.Stats(),
		Last:           s.LastRecord(),
	}
}

// LastRecord returns the most recent record, or nil before the first one.
func (s *Supervisor) LastRecord() *types.PoseRecord {
	if p := s.last.Load(); p != nil {
		rec := *p
		return &rec
	}
	return nil
}
