package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/wait"
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the background run to reach a condition",
	Long: `Wait for the background run to print a line matching --pattern, reach
--percent, or, with neither, finish.`,
	Args: cobra.NoArgs,
	RunE: runWait,
}

var (
	waitPatternFlag string
	waitPercentFlag int
	waitTimeoutFlag int
	waitSinceFlag   int
	waitJsonFlag    bool
)

func init() {
	waitCmd.Flags().StringVar(&waitPatternFlag, "pattern", "", "Regex matched against each log line")
	waitCmd.Flags().IntVar(&waitPercentFlag, "percent", 0, "Progress percentage to wait for (1-100)")
	waitCmd.Flags().IntVar(&waitTimeoutFlag, "timeout", 30, "Timeout in seconds (0 waits forever)")
	waitCmd.Flags().IntVar(&waitSinceFlag, "since", 0, "Only consider entries with a sequence greater than N")
	waitCmd.Flags().BoolVar(&waitJsonFlag, "json", false, "Output as JSON")
}

func runWait(cmd *cobra.Command, args []string) error {
	if waitPercentFlag < 0 || waitPercentFlag > 100 {
		return fmt.Errorf("--percent must be between 0 and 100")
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	res, err := wait.For(client.Poll, wait.Config{
		Pattern:       waitPatternFlag,
		Percent:       waitPercentFlag,
		Timeout:       time.Duration(waitTimeoutFlag) * time.Second,
		StartSequence: waitSinceFlag,
	})

	if waitJsonFlag {
		out := map[string]interface{}{
			"matched": err == nil,
			"percent": res.Percent,
			"last":    res.Last,
			"done":    res.Done,
		}
		if res.Matched != nil {
			out["line"] = res.Matched
		}
		if res.ExitCode != nil {
			out["exit_code"] = *res.ExitCode
		}
		if err != nil {
			out["error"] = err.Error()
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		if err != nil {
			return &exitCodeError{code: 1}
		}
		return nil
	}

	if err != nil {
		if errors.Is(err, wait.ErrFinished) {
			if res.ExitCode != nil {
				return fmt.Errorf("%w (exit code %d)", err, *res.ExitCode)
			}
			return err
		}
		return err
	}

	switch {
	case res.Matched != nil:
		fmt.Printf("Matched #%d: %s\n", res.Matched.Sequence, res.Matched.Raw)
	case waitPercentFlag > 0:
		fmt.Printf("Reached %d%%\n", res.Percent)
	case res.ExitCode != nil:
		fmt.Printf("Run finished with exit code %d\n", *res.ExitCode)
	default:
		fmt.Println("Run finished")
	}
	return nil
}
