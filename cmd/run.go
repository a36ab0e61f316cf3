package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schovi/qrun/internal/logstore"
	"github.com/schovi/qrun/internal/profile"
	"github.com/schovi/qrun/internal/render"
	"github.com/schovi/qrun/internal/supervisor"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command in the foreground and show its progress",
	Long: `Run a command, showing a progress bar and its log while it runs.

The exit code of qrun is the exit code of the command. Ctrl-C terminates the
command (SIGTERM, then SIGKILL after the kill grace) and still reports 100%.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runProfileFlag string
	runPTYFlag     bool
	runCharsetFlag string
	runLogFileFlag string
	runPlainFlag   bool
)

func init() {
	runCmd.Flags().StringVarP(&runProfileFlag, "profile", "p", profile.Generic, "Tool profile (see 'qrun profiles')")
	runCmd.Flags().BoolVar(&runPTYFlag, "pty", false, "Run the command on a pseudo-terminal")
	runCmd.Flags().StringVar(&runCharsetFlag, "charset", "", "Output charset (utf-8, auto, or an IANA name such as windows-1252)")
	runCmd.Flags().StringVar(&runLogFileFlag, "log-file", "", "Also write the log feed to this file as JSON lines")
	runCmd.Flags().BoolVar(&runPlainFlag, "plain", false, "Plain line output even on a terminal")
	runCmd.Flags().SetInterspersed(false)
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := loadProfile(runProfileFlag)
	if err != nil {
		return err
	}
	if runPTYFlag {
		p.PTY = true
	}
	if runCharsetFlag != "" {
		p.Charset = runCharsetFlag
	}
	desc, err := p.Descriptor()
	if err != nil {
		return err
	}

	var consoleOpts []render.Option
	if runPlainFlag {
		consoleOpts = append(consoleOpts, render.WithLive(false))
	}
	console := render.NewConsole(cmd.OutOrStdout(), consoleOpts...)
	observers := supervisor.Multi{console}

	if runLogFileFlag != "" {
		store, err := logstore.NewFileStore(runLogFileFlag)
		if err != nil {
			return err
		}
		observers = append(observers, logstore.NewRecorder(store, logger))
	}

	sup, err := supervisor.New(observers,
		supervisor.WithDescriptor(desc),
		supervisor.WithKillGrace(settings.KillGrace),
		supervisor.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx, args[0], p.CommandArgs(args[1:])); err != nil {
		return err
	}
	if err := sup.Wait(context.Background()); err != nil {
		return err
	}

	code, ok := console.ExitCode()
	if !ok {
		return fmt.Errorf("run ended without an exit code")
	}
	if code != 0 {
		if code < 0 {
			code = 1
		}
		return &exitCodeError{code: code}
	}
	return nil
}

func loadProfile(name string) (profile.Profile, error) {
	catalog, err := profile.Load(profilesPath())
	if err != nil {
		return profile.Profile{}, err
	}
	return catalog.Get(name)
}
