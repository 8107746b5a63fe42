package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
)

// DialTCP connects to addr and wraps the connection as a Stream.
func DialTCP(ctx context.Context, addr string) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	slog.Info("tcp client transport connected", "remote", conn.RemoteAddr().String())
	return NewStream("tcp-client", conn), nil
}

// ListenTCP binds addr and blocks until exactly one client connects. The
// listener is closed afterwards; a disconnected client is not replaced.
func ListenTCP(ctx context.Context, addr string) (*Stream, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	slog.Info("waiting for controller connection", "addr", ln.Addr().String())
	return AcceptOne(ctx, ln)
}

// AcceptOne accepts a single connection from ln and closes ln.
func AcceptOne(ctx context.Context, ln net.Listener) (*Stream, error) {
	defer ln.Close()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept failed: %w", err)
	}
	slog.Info("controller connected", "remote", conn.RemoteAddr().String())
	return NewStream("tcp-server", conn), nil
}
