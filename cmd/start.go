package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/daemon"
	"github.com/schovi/qrun/internal/profile"
)

var startCmd = &cobra.Command{
	Use:   "start [flags] -- <command> [args...]",
	Short: "Start a command in the background daemon",
	Long: `Start a command in the background daemon. Only one run is active at a time;
starting while a run is active reports that run and starts nothing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStart,
}

var (
	startProfileFlag string
	startJsonFlag    bool
)

func init() {
	startCmd.Flags().StringVarP(&startProfileFlag, "profile", "p", profile.Generic, "Tool profile (see 'qrun profiles')")
	startCmd.Flags().BoolVar(&startJsonFlag, "json", false, "Output as JSON")
	startCmd.Flags().SetInterspersed(false)
}

func runStart(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	res, err := client.Start(daemon.StartOptions{
		Command:      args[0],
		Args:         args[1:],
		Profile:      startProfileFlag,
		ProfilesFile: profilesPath(),
	})
	if err != nil {
		return err
	}

	if startJsonFlag {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if res.Run == nil {
		if res.Started {
			fmt.Printf("Started run (profile %s)\n", res.Profile)
		} else {
			fmt.Printf("A run is already in progress (profile %s)\n", res.Profile)
		}
		return nil
	}
	if !res.Started {
		fmt.Printf("Run %s already in progress (profile %s)\n", res.Run.ID, res.Profile)
		return nil
	}
	fmt.Printf("Started run %s (profile %s, pid %d)\n", res.Run.ID, res.Profile, res.Run.PID)
	return nil
}
