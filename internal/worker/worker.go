package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/utils" // Using the SafeCommand wrapper
)

// ErrTimeout is returned when the detector does not answer within the read timeout.
var ErrTimeout = errors.New("detector worker timed out")

// Options describes how to start the detector process.
type Options struct {
	Python  string
	Script  string
	Family  config.Family
	Params  config.TagParams
	Threads int
	// ReadTimeout bounds one request/response exchange. Zero waits forever.
	ReadTimeout time.Duration
}

// OptionsFromConfig builds worker options from the loaded files.
func OptionsFromConfig(cfg *config.Config, params config.TagParams) Options {
	return Options{
		Python:  cfg.Detector.Python,
		Script:  cfg.Detector.Script,
		Family:  cfg.Detection.Families,
		Params:  params,
		Threads: cfg.Detector.Threads,
	}
}

// Args returns the detector command line (without the interpreter).
func (o Options) Args() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		"-u", o.Script,
		"--family", o.Family.String(),
		"--fx", f(o.Params.Fx),
		"--fy", f(o.Params.Fy),
		"--cx", f(o.Params.Cx),
		"--cy", f(o.Params.Cy),
		"--tagsize", f(o.Params.TagSize),
		"--threads", strconv.Itoa(o.Threads),
	}
}

// PythonDetector drives the AprilTag library in a child process.
// It implements detect.Detector. Calls are serialized.
type PythonDetector struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	timeout time.Duration
	mu      sync.Mutex
	buf     bytes.Buffer
}

// NewPythonDetector starts the detector process. The process is killed when ctx is done.
func NewPythonDetector(ctx context.Context, id int, opts Options) (*PythonDetector, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, opts.Python, opts.Args()...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("detector %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonDetector{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  opts.ReadTimeout,
	}, nil
}

// Detect sends one luma image and parses the candidate list.
func (w *PythonDetector) Detect(img *image.Gray) ([]types.Candidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Reset()
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	binary.Write(&w.buf, binary.BigEndian, uint32(width))
	binary.Write(&w.buf, binary.BigEndian, uint32(height))
	for row := 0; row < height; row++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+row)
		w.buf.Write(img.Pix[off : off+width])
	}

	resp, err := w.communicate(w.buf.Bytes())
	if err != nil {
		return nil, err
	}
	return ParseResponse(resp)
}

func (w *PythonDetector) communicate(data []byte) ([]byte, error) {
	if w.timeout <= 0 {
		return w.Communicate(data)
	}

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := w.Communicate(data)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-time.After(w.timeout):
		// The stream is now out of step; the process has to go.
		if w.Cmd != nil && w.Cmd.Process != nil {
			w.Cmd.Process.Kill()
		}
		return nil, ErrTimeout
	}
}

// Communicate performs one length-prefixed exchange.
func (w *PythonDetector) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// wireCandidate is the fixed-size candidate block of a status-0 response.
type wireCandidate struct {
	ID          uint64
	Margin      float64
	HasPose     uint8
	Rotation    [9]float64
	Translation [3]float64
}

// ParseResponse decodes a response body:
//
//	[Status:0] [N] N x ([ID u64] [Margin f64] [HasPose u8] [R 9xf64] [t 3xf64])
//	[Status:1] [MsgLen] [Msg]
func ParseResponse(resp []byte) ([]types.Candidate, error) {
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty response from detector")
	}
	r := bytes.NewReader(resp[1:])

	if resp[0] == 1 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("detector worker error: %s", msg)
	}
	if resp[0] != 0 {
		return nil, fmt.Errorf("unknown detector status %d", resp[0])
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	// Guard against a garbage count before allocating.
	if int64(n)*int64(binary.Size(wireCandidate{})) > int64(r.Len()) {
		return nil, fmt.Errorf("malformed response: %d candidates in %d bytes", n, r.Len())
	}

	out := make([]types.Candidate, 0, n)
	for i := uint32(0); i < n; i++ {
		var wc wireCandidate
		if err := binary.Read(r, binary.BigEndian, &wc); err != nil {
			return nil, fmt.Errorf("malformed candidate %d: %w", i, err)
		}
		c := types.Candidate{ID: wc.ID, DecisionMargin: wc.Margin}
		if wc.HasPose != 0 {
			p := &types.Pose{Translation: wc.Translation}
			for k, v := range wc.Rotation {
				p.Rotation[k/3][k%3] = v
			}
			c.Pose = p
		}
		out = append(out, c)
	}
	return out, nil
}

// Close shuts the detector down and reaps it.
func (w *PythonDetector) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
