package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/schovi/qrun/internal/config"
	"github.com/schovi/qrun/internal/daemon"
	"github.com/schovi/qrun/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "qrun",
	Short: "Run a long child process and follow its progress",
	Long: `qrun runs archivers, sync tools and similar long jobs, reads their output as it
arrives and turns it into a progress bar and a log feed.

Quick start:
  qrun run --profile 7z -- 7z a out.7z testdata    # Run in the foreground
  qrun start --profile rclone -- rclone copy a b   # Run in the background daemon
  qrun status                                      # Progress of the background run
  qrun read --follow                               # Stream its log
  qrun wait --percent 50                           # Block until 50%
  qrun stop                                        # Terminate it`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	profilesFileFlag string
	logLevelFlag     string
	socketDirFlag    string

	settings *config.Config
	logger   = zap.NewNop()
)

// exitCodeError carries the exit code of a child process out of Execute.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("child exited with code %d", e.code)
}

func Execute() {
	err := rootCmd.Execute()
	logger.Sync()
	if err == nil {
		return
	}

	var ee *exitCodeError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilesFileFlag, "profiles", "", "Profile file (default $QRUN_PROFILES)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (default $QRUN_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&socketDirFlag, "socket-dir", "", "Daemon socket directory (default $QRUN_SOCKET_DIR or ~/.qrun)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if profilesFileFlag != "" {
		cfg.Profiles = profilesFileFlag
	}
	if logLevelFlag != "" {
		cfg.Level = logLevelFlag
	}
	if socketDirFlag != "" {
		cfg.SocketDir = socketDirFlag
	}
	settings = cfg

	logCfg := logging.DefaultConfig()
	if cfg.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Level
	l, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger = l
	return nil
}

// profilesPath returns the profile file as an absolute path, so a daemon
// with another working directory resolves it the same way.
func profilesPath() string {
	if settings.Profiles == "" {
		return ""
	}
	path := os.ExpandEnv(settings.Profiles)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func newClient() (*daemon.Client, error) {
	client := daemon.NewClient(settings.SocketDir, daemon.WithDaemonEnv(
		"QRUN_PROFILES="+profilesPath(),
		"QRUN_LOG_LEVEL="+settings.Level,
	))
	if err := client.EnsureDaemon(); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return client, nil
}
