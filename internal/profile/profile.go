// Package profile describes how qrun reads the output of specific tools.
//
// A profile names the channel progress arrives on, the patterns that
// recognise percentages, item records and log lines worth keeping, and
// the switches the tool needs to report progress at all. Built-in
// profiles cover 7z and rclone; a YAML file can add or override them:
//
//	profiles:
//	  7z:
//	    progress_channel: stderr
//	    args: ["-bsp2"]
//	  restic:
//	    progress_channel: stdout
//	    percent_pattern: '(\d{1,3})\.\d+%'
package profile

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/schovi/qrun/internal/match"
	"github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
)

// Profile is the file form of a supervisor.Descriptor.
type Profile struct {
	Name            string   `mapstructure:"-" json:"name" yaml:"-"`
	Description     string   `mapstructure:"description" json:"description,omitempty" yaml:"description,omitempty"`
	ProgressChannel string   `mapstructure:"progress_channel" json:"progress_channel,omitempty" yaml:"progress_channel,omitempty"`
	PercentPattern  string   `mapstructure:"percent_pattern" json:"percent_pattern,omitempty" yaml:"percent_pattern,omitempty"`
	RecordPattern   string   `mapstructure:"record_pattern" json:"record_pattern,omitempty" yaml:"record_pattern,omitempty"`
	LogFilter       string   `mapstructure:"log_filter" json:"log_filter,omitempty" yaml:"log_filter,omitempty"`
	SkipBlank       bool     `mapstructure:"skip_blank" json:"skip_blank,omitempty" yaml:"skip_blank,omitempty"`
	StripANSI       bool     `mapstructure:"strip_ansi" json:"strip_ansi,omitempty" yaml:"strip_ansi,omitempty"`
	PTY             bool     `mapstructure:"pty" json:"pty,omitempty" yaml:"pty,omitempty"`
	Charset         string   `mapstructure:"charset" json:"charset,omitempty" yaml:"charset,omitempty"`
	Args            []string `mapstructure:"args" json:"args,omitempty" yaml:"args,omitempty"`
}

const Generic = "generic"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxNameLen = 64

func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("profile name too long (max %d chars)", maxNameLen)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("profile name must start with alphanumeric and contain only letters, numbers, dots, dashes, or underscores")
	}
	return nil
}

// Builtins returns the profiles compiled into qrun.
func Builtins() map[string]Profile {
	return map[string]Profile{
		Generic: {
			Name:        Generic,
			Description: "all matchers on both channels",
			SkipBlank:   true,
		},
		"7z": {
			Name:            "7z",
			Description:     "7-Zip with the progress indicator redirected to stderr",
			ProgressChannel: "stderr",
			SkipBlank:       true,
			StripANSI:       true,
			Args:            []string{"-bsp2"},
		},
		"rclone": {
			Name:            "rclone",
			Description:     "rclone with live stats, keeping INFO lines",
			ProgressChannel: "stdout",
			LogFilter:       "INFO",
			SkipBlank:       true,
			StripANSI:       true,
			Args:            []string{"-v", "-P"},
		},
	}
}

// Descriptor validates p and compiles it for the supervisor.
func (p Profile) Descriptor() (supervisor.Descriptor, error) {
	m, err := match.Compile(match.Patterns{
		Percent: p.PercentPattern,
		Record:  p.RecordPattern,
		Filter:  p.LogFilter,
	})
	if err != nil {
		return supervisor.Descriptor{}, fmt.Errorf("profile %s: %w", p.Name, err)
	}

	desc := supervisor.Descriptor{
		Name:      p.Name,
		Matcher:   m,
		SkipBlank: p.SkipBlank,
		StripANSI: p.StripANSI,
		PTY:       p.PTY,
		Charset:   p.Charset,
	}
	if p.ProgressChannel != "" && p.ProgressChannel != "both" {
		ch, err := progress.ParseChannel(p.ProgressChannel)
		if err != nil {
			return supervisor.Descriptor{}, fmt.Errorf("profile %s: %w", p.Name, err)
		}
		desc.ProgressChannel = &ch
	}
	return desc, nil
}

// CommandArgs appends the profile switches to args, keeping them ahead of
// a "--" terminator.
func (p Profile) CommandArgs(args []string) []string {
	if len(p.Args) == 0 {
		return slices.Clone(args)
	}
	out := make([]string, 0, len(args)+len(p.Args))
	if i := slices.Index(args, "--"); i >= 0 {
		out = append(out, args[:i]...)
		out = append(out, p.Args...)
		return append(out, args[i:]...)
	}
	out = append(out, args...)
	return append(out, p.Args...)
}
