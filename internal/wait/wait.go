package wait

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/schovi/qrun/internal/progress"
)

const DefaultPollInterval = 50 * time.Millisecond

var ErrFinished = errors.New("run finished before the condition was met")

// Poll is what a PollFunc observed. Done must be sampled before Entries
// are read, so a finished run never hides its last lines.
type Poll struct {
	Entries []progress.LogEntry
	Last    int
	Percent int
	Done    bool

	// ExitCode is the exit code of a finished run, if known.
	ExitCode *int
}

// PollFunc returns the entries with a sequence greater than since.
type PollFunc func(since int) (Poll, error)

// Config selects what to wait for. With neither Pattern nor Percent set,
// For waits for the run to finish.
type Config struct {
	Pattern       string
	Percent       int
	Timeout       time.Duration
	StartSequence int
	PollInterval  time.Duration
}

type Result struct {
	// Entries are all entries seen while waiting.
	Entries  []progress.LogEntry
	Matched  *progress.LogEntry
	Last     int
	Percent  int
	Done     bool
	ExitCode *int
}

// succeeded reports whether a finished run exited with code 0. Completion
// forces progress to 100, so only a successful exit counts as reaching a
// percentage.
func (p Poll) succeeded() bool {
	return p.Done && p.ExitCode != nil && *p.ExitCode == 0
}

func For(poll PollFunc, cfg Config) (Result, error) {
	var re *regexp.Regexp
	if cfg.Pattern != "" {
		var err error
		re, err = regexp.Compile(cfg.Pattern)
		if err != nil {
			return Result{}, fmt.Errorf("invalid pattern: %w", err)
		}
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}

	var deadline time.Time
	if cfg.Timeout > 0 {
		deadline = time.Now().Add(cfg.Timeout)
	}

	res := Result{Last: cfg.StartSequence}
	for {
		p, err := poll(res.Last)
		if err != nil {
			return res, err
		}
		res.Percent = p.Percent
		res.Done = p.Done
		res.ExitCode = p.ExitCode
		if p.Last > res.Last {
			res.Last = p.Last
		}

		for i, e := range p.Entries {
			res.Entries = append(res.Entries, e)
			if re != nil && re.MatchString(e.Raw) {
				matched := p.Entries[i]
				res.Matched = &matched
				return res, nil
			}
		}

		switch {
		case cfg.Percent > 0 && p.Done && !p.succeeded():
			return res, ErrFinished
		case cfg.Percent > 0 && p.Percent >= cfg.Percent:
			return res, nil
		case p.Done && re == nil && cfg.Percent <= 0:
			return res, nil
		case p.Done:
			return res, ErrFinished
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		time.Sleep(pollInterval)
	}

	switch {
	case re != nil:
		return res, fmt.Errorf("timeout waiting for pattern %q", cfg.Pattern)
	case cfg.Percent > 0:
		return res, fmt.Errorf("timeout waiting for %d%%", cfg.Percent)
	default:
		return res, fmt.Errorf("timeout waiting for run to finish")
	}
}
