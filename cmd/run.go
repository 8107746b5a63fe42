package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/andresmejia3/tagvision/internal/capture"
	"github.com/andresmejia3/tagvision/internal/config"
	"github.com/andresmejia3/tagvision/internal/detect"
	"github.com/andresmejia3/tagvision/internal/pipeline"
	"github.com/andresmejia3/tagvision/internal/status"
	"github.com/andresmejia3/tagvision/internal/store"
	"github.com/andresmejia3/tagvision/internal/transport"
	"github.com/andresmejia3/tagvision/internal/types"
	"github.com/andresmejia3/tagvision/internal/utils"
	"github.com/andresmejia3/tagvision/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// RunOptions holds the flags of the run command
type RunOptions struct {
	Transport      string
	Device         string
	Record         bool
	StatusAddr     string
	Progress       bool
	PublishTimeout time.Duration
	DetectTimeout  time.Duration
	RecordTimeout  time.Duration
}

// recordQueue is how many poses may wait for the database before new ones are dropped.
const recordQueue = 256

var runOpts RunOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, detect and stream tag poses until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, runOpts)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Transport, "transport", "t", "", "Override the configured transport (serial, tcp-client, tcp-server, nt)")
	runCmd.Flags().StringVarP(&runOpts.Device, "device", "d", "", "Override the camera device path")
	runCmd.Flags().BoolVarP(&runOpts.Record, "record", "r", false, "Record every published pose to PostgreSQL")
	runCmd.Flags().StringVar(&runOpts.StatusAddr, "status-addr", "", "Serve /health, /pose and /stats on this address (e.g. :8080)")
	runCmd.Flags().BoolVarP(&runOpts.Progress, "progress", "p", false, "Show a live counter of published poses")
	runCmd.Flags().DurationVar(&runOpts.PublishTimeout, "publish-timeout", time.Second, "Give up on a single publish after this long (0 waits forever)")
	runCmd.Flags().DurationVar(&runOpts.RecordTimeout, "record-timeout", 2*time.Second, "Give up on storing a single pose after this long (0 waits forever)")
	runCmd.Flags().DurationVar(&runOpts.DetectTimeout, "detect-timeout", 0, "Kill the detector if one frame takes longer than this (0 waits forever)")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags lets command-line flags override the config file.
func applyRunFlags(cfg *config.Config, opts RunOptions) error {
	if opts.Transport != "" {
		t, err := config.ParseTransport(opts.Transport)
		if err != nil {
			return err
		}
		cfg.Transport = t
	}
	if opts.Device != "" {
		cfg.Camera.Device = opts.Device
	}
	return config.Validate(cfg)
}

func runPipeline(cmd *cobra.Command, opts RunOptions) error {
	ctx := cmd.Context()

	// 1. Startup files. Any failure here is fatal.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyRunFlags(cfg, opts); err != nil {
		return err
	}
	cal, err := config.LoadCalibration(calibrationPath)
	if err != nil {
		return fmt.Errorf("failed to load calibration: %w", err)
	}
	params, err := cal.TagParams()
	if err != nil {
		return err
	}

	// 2. Detector process
	wopts := worker.OptionsFromConfig(cfg, params)
	wopts.ReadTimeout = opts.DetectTimeout
	detector, err := worker.NewPythonDetector(ctx, 0, wopts)
	if err != nil {
		utils.ShowError("Detector startup failed", err, nil)
		return err
	}
	defer func() {
		if err := detector.Close(); err != nil && ctx.Err() == nil {
			utils.ShowError("Detector exited with an error", err, detector.Cmd)
		}
	}()
	fmt.Fprintf(os.Stderr, "🏷️  Detecting %s tags (%d threads)\n", cfg.Detection.Families, cfg.Detector.Threads)

	// 3. Transport
	fmt.Fprintf(os.Stderr, "📡 Opening %s transport...\n", cfg.Transport)
	pub, err := transport.Open(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open transport: %w", err)
	}
	defer pub.Close()

	camCfg := capture.FromConfig(cfg)
	pipeOpts := []pipeline.Option{
		pipeline.WithRetry(cfg.Retry),
		pipeline.WithPublishTimeout(opts.PublishTimeout),
	}

	// 4. Optional recorder
	var recorder *store.Recorder
	if opts.Record {
		recorder, err = newRecorder(cmd, cfg, camCfg.Device, opts.RecordTimeout)
		if err != nil {
			return err
		}
		pipeOpts = append(pipeOpts, pipeline.OnPublish(recorder.Observe))
	}

	// 5. Optional progress counter
	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("🎯 Publishing poses"),
			progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		pipeOpts = append(pipeOpts, pipeline.OnPublish(func(types.PoseRecord, error) { bar.Add(1) }))
	}

	sup := pipeline.New(pipeline.CameraOpener(camCfg), detect.NewStage(detector), pub, pipeOpts...)

	// 6. Optional status endpoint
	if opts.StatusAddr != "" {
		go func() {
			if err := status.Serve(ctx, opts.StatusAddr, sup); err != nil {
				slog.Error("status endpoint failed", "error", err)
			}
		}()
	}

	fmt.Fprintf(os.Stderr, "📷 Streaming from %s (Ctrl+C to stop)\n", camCfg.Device)
	runErr := sup.Run(ctx)

	if bar != nil {
		bar.Finish()
	}
	st := sup.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Stopped. %d frames, %d detections, %d published, %d publish errors.\n",
		st.Frames, st.Detection.Accepted, st.Published, st.PublishErrors)
	if recorder != nil {
		recorder.Close()
		rs := recorder.Stats()
		fmt.Fprintf(os.Stderr, "💾 Recorded %d poses (%d dropped, %d failed).\n", rs.Stored, rs.Dropped, rs.Failed)
	}
	return runErr
}

// newRecorder starts a session and returns a recorder storing every published
// record. Database errors are logged and never stop the pipeline.
func newRecorder(cmd *cobra.Command, cfg *config.Config, device string, timeout time.Duration) (*store.Recorder, error) {
	if err := connectDB(cmd); err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	session, err := DB.StartSession(ctx, string(cfg.Transport), device, cfg.Detection.Families.String())
	if err != nil {
		return nil, fmt.Errorf("failed to start recording session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "💾 Recording session %s\n", session)
	return store.NewRecorder(ctx, DB, session, recordQueue, timeout), nil
}
