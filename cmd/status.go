package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/progress"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state and progress of the background run",
	RunE:  runStatus,
}

var statusJsonFlag bool

func init() {
	statusCmd.Flags().BoolVar(&statusJsonFlag, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	st, err := client.Status()
	if err != nil {
		return err
	}

	if statusJsonFlag {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("State:    %s\n", st.State)
	if st.Run == nil {
		return nil
	}
	fmt.Printf("Run:      %s\n", st.Run.ID)
	fmt.Printf("Profile:  %s\n", st.Profile)
	fmt.Printf("Command:  %s\n", strings.Join(append([]string{st.Run.Command}, st.Run.Args...), " "))
	fmt.Printf("PID:      %d\n", st.Run.PID)
	fmt.Printf("Progress: %d%%\n", st.Progress.Percent)
	if st.Run.EndedAt != nil {
		fmt.Printf("Elapsed:  %s\n", formatDuration(st.Run.EndedAt.Sub(st.Run.StartedAt)))
	} else if !st.Run.StartedAt.IsZero() {
		fmt.Printf("Elapsed:  %s\n", formatDuration(time.Since(st.Run.StartedAt)))
	}
	if st.Run.ExitCode != nil {
		fmt.Printf("Exit:     %d\n", *st.Run.ExitCode)
	}
	if len(st.Variables) > 0 {
		fmt.Printf("Vars:     %s\n", progress.FormatVariables(st.Variables))
	}
	fmt.Printf("Entries:  %d", st.Entries)
	if st.Dropped > 0 {
		fmt.Printf(" (%d dropped)", st.Dropped)
	}
	fmt.Println()
	if st.LastError != "" {
		fmt.Printf("Error:    %s\n", st.LastError)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm%ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
