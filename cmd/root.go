package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/tagvision/internal/store"
	"github.com/spf13/cobra"
)

var (
	// DB is the recorder connection, opened on demand by the commands that need it
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	configPath      string
	calibrationPath string
	debugLogs       bool
	jsonLogs        bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "tagvision",
	Short:   "AprilTag pose streaming for robot controllers",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(debugLogs, jsonLogs)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: from POSTGRES_* env, else postgres://localhost:5432/tagvision)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&calibrationPath, "calibration", "calibration.json", "Path to the camera calibration file")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit logs as JSON")
}

func setupLogging(debug, asJSON bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// resolveDBURL applies the flag, then POSTGRES_* env vars, then the local default.
func resolveDBURL(flag string, getenv func(string) string) string {
	if flag != "" {
		return flag
	}
	if host := getenv("POSTGRES_HOST"); host != "" {
		user := getenv("POSTGRES_USER")
		pass := getenv("POSTGRES_PASSWORD")
		name := getenv("POSTGRES_DB")
		port := getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	// Fallback to local default if no env vars are present
	return "postgres://localhost:5432/tagvision"
}

// connectDB opens the recorder database for commands that need it.
func connectDB(cmd *cobra.Command) error {
	if DB != nil {
		return nil
	}
	var err error
	// Use the command's context (which will be cancellable) for the connection
	DB, err = store.New(cmd.Context(), resolveDBURL(dbURL, os.Getenv))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}
