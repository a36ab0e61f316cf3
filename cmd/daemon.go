package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/daemon"
	"github.com/schovi/qrun/internal/logstore"
	"github.com/schovi/qrun/internal/profile"
)

var daemonMaxEntriesFlag int

var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the qrun daemon (internal)",
	Hidden: true,
	RunE:   runDaemon,
}

func init() {
	daemonCmd.Flags().IntVar(&daemonMaxEntriesFlag, "max-entries", 0,
		"Maximum log entries kept for the current run (default $QRUN_MAX_LOG_ENTRIES)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	maxEntries := settings.MaxLogEntries
	if daemonMaxEntriesFlag > 0 {
		maxEntries = daemonMaxEntriesFlag
	}

	catalog, err := profile.Load(profilesPath())
	if err != nil {
		return err
	}

	server, err := daemon.NewServer(
		daemon.WithSocketDir(settings.SocketDir),
		daemon.WithStore(logstore.NewMemoryStore(maxEntries)),
		daemon.WithCatalog(catalog),
		daemon.WithKillGrace(settings.KillGrace),
		daemon.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("Shutting down daemon...")
		server.Shutdown()
		logger.Sync()
		os.Exit(0)
	}()

	return server.Start()
}
