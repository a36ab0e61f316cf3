package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background run (keeps its log readable)",
	Long: `Stop the background run. The process group gets SIGTERM, then SIGKILL after
the kill grace. The log of the run remains readable until the next start.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	if err := client.Stop(); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Println("No run in progress")
			return nil
		}
		return err
	}

	fmt.Println("Stopped run")
	return nil
}
