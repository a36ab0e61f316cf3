package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/progress"
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the log feed of the background run",
	Long: `Read the log feed of the background run.

By default, returns every entry of the current run. Use --since to return only
entries after a sequence number, --head or --tail to limit the result.
Use --follow to stream new entries until the run finishes.`,
	Args: cobra.NoArgs,
	RunE: runRead,
}

var (
	readSinceFlag    int
	readHeadFlag     int
	readTailFlag     int
	readFollowFlag   bool
	readFollowMsFlag int
	readJsonFlag     bool
)

func init() {
	readCmd.Flags().IntVar(&readSinceFlag, "since", 0, "Only entries with a sequence greater than N")
	readCmd.Flags().IntVar(&readHeadFlag, "head", 0, "Return first N entries")
	readCmd.Flags().IntVar(&readTailFlag, "tail", 0, "Return last N entries")
	readCmd.Flags().BoolVarP(&readFollowFlag, "follow", "f", false, "Follow the feed until the run finishes (like tail -f)")
	readCmd.Flags().IntVar(&readFollowMsFlag, "follow-ms", 100, "Poll interval for --follow in milliseconds")
	readCmd.Flags().BoolVar(&readJsonFlag, "json", false, "Output as JSON")
}

func runRead(cmd *cobra.Command, args []string) error {
	if readHeadFlag < 0 || readTailFlag < 0 || readSinceFlag < 0 {
		return fmt.Errorf("--since, --head and --tail require positive integers")
	}
	if readHeadFlag > 0 && readTailFlag > 0 {
		return fmt.Errorf("--head and --tail are mutually exclusive")
	}

	if readFollowFlag {
		if readHeadFlag > 0 || readTailFlag > 0 || readJsonFlag {
			return fmt.Errorf("--follow cannot be combined with --head, --tail, or --json")
		}
		return runReadFollow()
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	res, err := client.Read(readSinceFlag, readHeadFlag, readTailFlag)
	if err != nil {
		return err
	}

	if readJsonFlag {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printEntries(res.Entries)
	return nil
}

func runReadFollow() error {
	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if readFollowMsFlag <= 0 {
		readFollowMsFlag = 100
	}
	ticker := time.NewTicker(time.Duration(readFollowMsFlag) * time.Millisecond)
	defer ticker.Stop()

	since := readSinceFlag
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p, err := client.Poll(since)
			if err != nil {
				return err
			}
			printEntries(p.Entries)
			since = p.Last
			if p.Done {
				return nil
			}
		}
	}
}

func printEntries(entries []progress.LogEntry) {
	for _, e := range entries {
		if e.Channel == progress.Err {
			fmt.Fprintln(os.Stderr, e.Raw)
			continue
		}
		fmt.Println(e.Raw)
	}
}
