// Package capture reads frames from a V4L2 camera through an ffmpeg MJPEG pipe.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/mailbox"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoDevice is returned when the configured camera does not exist.
var ErrNoDevice = errors.New("camera device not found")

// Config is the resolved capture request.
type Config struct {
	Device     string
	Width      int
	Height     int
	FPS        int
	Format     string
	Brightness *int
	Exposure   *int
	Gain       *int
}

// FromConfig resolves the capture request from the process config.
func FromConfig(cfg *config.Config) Config {
	c := cfg.Camera
	return Config{
		Device:     cfg.CameraDevice(),
		Width:      c.Width,
		Height:     c.Height,
		FPS:        c.FPS,
		Format:     c.Format,
		Brightness: c.Brightness,
		Exposure:   c.Exposure,
		Gain:       c.Gain,
	}
}

// Counters track capture activity. Safe for concurrent use.
type Counters struct {
	Frames       atomic.Uint64
	DecodeErrors atomic.Uint64
}

// Camera is an open capture stream.
type Camera struct {
	cfg Config
	cmd *utils.SafeCommand
	out io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// Open resolves the device, applies controls and starts ffmpeg.
func Open(ctx context.Context, cfg Config) (*Camera, error) {
	if _, err := os.Stat(cfg.Device); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, cfg.Device)
	}

	applyControls(ctx, cfg)

	ffmpeg := utils.NewSafeCommand(ctx, "ffmpeg", FFmpegArgs(cfg)...)
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	slog.Info("camera opened", "device", cfg.Device, "width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)
	return &Camera{cfg: cfg, cmd: ffmpeg, out: out}, nil
}

// FFmpegArgs builds the ffmpeg command line for cfg. Zero size or rate lets
// the device pick.
func FFmpegArgs(cfg Config) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if cfg.Format != "" {
		args = append(args, "-input_format", cfg.Format)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
	}
	if cfg.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(cfg.FPS))
	}
	args = append(args,
		"-i", cfg.Device,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	)
	return args
}

// applyControls sets brightness, exposure and gain. Unsupported controls are ignored.
func applyControls(ctx context.Context, cfg Config) {
	controls := []struct {
		name string
		v    *int
	}{
		{"brightness", cfg.Brightness},
		{"exposure_absolute", cfg.Exposure},
		{"gain", cfg.Gain},
	}
	for _, c := range controls {
		if c.v == nil {
			continue
		}
		set := fmt.Sprintf("%s=%d", c.name, *c.v)
		cmd := utils.NewSafeCommand(ctx, "v4l2-ctl", "-d", cfg.Device, "--set-ctrl="+set)
		if err := cmd.Run(); err != nil {
			slog.Debug("camera control not applied", "control", set, "error", err)
		}
	}
}

// Run streams frames into slot until ctx is done or the stream ends.
func (c *Camera) Run(ctx context.Context, slot *mailbox.Slot[types.Frame], counters *Counters) error {
	err := ReadFrames(ctx, c.out, slot, counters)
	if err == nil {
		err = fmt.Errorf("camera stream ended: %s", c.cfg.Device)
	}
	if logs := c.cmd.Stderr.String(); logs != "" && ctx.Err() == nil {
		slog.Debug("ffmpeg output", "device", c.cfg.Device, "stderr", logs)
	}
	return err
}

// Close stops ffmpeg and reaps it.
func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.out.Close()
		if c.cmd.Process != nil {
			c.cmd.Process.Kill()
		}
		// Wait reports the kill; that is the expected outcome here.
		c.cmd.Wait()
	})
	return c.closeErr
}

// ReadFrames splits r into JPEG images, decodes them and sends each good
// frame to slot. Decode failures are counted and dropped. It returns nil at
// end of stream.
func ReadFrames(ctx context.Context, r io.Reader, slot *mailbox.Slot[types.Frame], counters *Counters) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	var seq uint64
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		capturedAt := time.Now()

		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			if counters != nil {
				counters.DecodeErrors.Add(1)
			}
			slog.Debug("dropping undecodable frame", "bytes", len(scanner.Bytes()), "error", err)
			continue
		}

		seq++
		if counters != nil {
			counters.Frames.Add(1)
		}
		if err := slot.Send(ctx, types.Frame{Seq: seq, CapturedAt: capturedAt, Image: img}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("frame scanner failed: %w", err)
	}
	return nil
}
