package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/andresmejia3/tagvision/internal/transport"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/utils"
	"github.com/andresmejia3/tagvision/internal/wire"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	listenTCP    string
	listenSerial string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Decode and print poses from a running stream (controller side)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runListen(cmd.Context())
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenTCP, "tcp", "", "Connect to a tcp-server stream at host:port")
	listenCmd.Flags().StringVar(&listenSerial, "serial", "", "Read from a serial port")
	listenCmd.MarkFlagsMutuallyExclusive("tcp", "serial")
	listenCmd.MarkFlagsOneRequired("tcp", "serial")
	rootCmd.AddCommand(listenCmd)
}

func runListen(ctx context.Context) error {
	var src io.ReadCloser
	if listenTCP != "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", listenTCP)
		if err != nil {
			utils.ShowError("Failed to connect", err, nil)
			return err
		}
		src = conn
	} else {
		port, err := serial.Open(listenSerial, transport.SerialMode)
		if err != nil {
			utils.ShowError("Failed to open serial port", err, nil)
			return err
		}
		src = port
	}
	defer src.Close()

	// Unblock the reader on Ctrl+C
	stop := context.AfterFunc(ctx, func() { src.Close() })
	defer stop()

	fmt.Fprintln(os.Stderr, "👂 Listening for poses (Ctrl+C to stop)...")
	r := transport.NewReader(src)
	for {
		rec, err := r.Next()
		switch {
		case errors.Is(err, wire.ErrLength):
			fmt.Fprintf(os.Stderr, "⚠️  Discarding bad packet: %v\n", err)
			continue
		case err != nil:
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		fmt.Println(formatRecord(rec))
	}
}

func formatRecord(rec types.PoseRecord) string {
	if !rec.Detected {
		return fmt.Sprintf("%.3f  no tag", rec.Timestamp)
	}
	t, r := rec.Translation, rec.Rotation
	return fmt.Sprintf("%.3f  tag %d  t=(%.3f, %.3f, %.3f) m  rpy=(%.3f, %.3f, %.3f) rad",
		rec.Timestamp, rec.TagID, t[0], t[1], t[2], r[0], r[1], r[2])
}
