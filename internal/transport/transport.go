// Package transport delivers pose records to the robot controller.
//
// Stream publishers (serial, TCP client, TCP server) send each record as
// SyncMarker followed by the 65-byte wire encoding in a single write. The NT
// publisher writes each field under its own topic on an MQTT broker instead.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/framing"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/wire"
)

// ErrNotConnected is returned when the remote end is not available.
var ErrNotConnected = errors.New("transport not connected")

// Publisher sends one record. Implementations do not retry.
type Publisher interface {
	Publish(ctx context.Context, rec types.PoseRecord) error
	Close() error
}

// Open builds the publisher selected by cfg.Transport. Blocking opens
// (tcp-server accept, tcp-client dial) honor ctx.
func Open(ctx context.Context, cfg *config.Config) (Publisher, error) {
	var (
		pub Publisher
		err error
	)
	switch cfg.Transport {
	case config.TransportSerial:
		pub, err = OpenSerial(cfg.Interface.SerialPort)
	case config.TransportTCPClient:
		pub, err = DialTCP(ctx, cfg.Interface.ClientAddr)
	case config.TransportTCPServer:
		pub, err = ListenTCP(ctx, ":"+strconv.Itoa(int(cfg.Interface.ServerPort)))
	case config.TransportNT:
		pub, err = DialNT(ctx, cfg.Interface.NTAddr(), cfg.Interface.ClientID)
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrInvalid, cfg.Transport)
	}
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// deadliner is implemented by net.Conn.
type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Stream publishes framed wire packets over a byte stream.
type Stream struct {
	name string
	w    io.WriteCloser

	mu  sync.Mutex
	buf []byte
}

// NewStream wraps w. name is used in log messages only.
func NewStream(name string, w io.WriteCloser) *Stream {
	return &Stream{name: name, w: w, buf: make([]byte, 0, len(framing.SyncMarker)+wire.PacketSize)}
}

// Publish writes SyncMarker ‖ Encode(rec) in one write.
func (s *Stream) Publish(ctx context.Context, rec types.PoseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = framing.Encode(s.buf[:0], wire.Encode(rec))

	if d, ok := s.w.(deadliner); ok {
		deadline, _ := ctx.Deadline()
		d.SetWriteDeadline(deadline) // zero clears it
	}

	stop := context.AfterFunc(ctx, func() {
		// Unblock a stalled write on cancellation.
		if d, ok := s.w.(deadliner); ok {
			d.SetWriteDeadline(time.Now())
		}
	})
	defer stop()

	if _, err := s.w.Write(s.buf); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s write failed: %w", s.name, err)
	}
	return nil
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	slog.Debug("closing transport", "transport", s.name)
	return s.w.Close()
}
