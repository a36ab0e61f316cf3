// Package progress folds matched lines into a progress value and log entries.
package progress

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/schovi/qrun/internal/match"
)

// Channel identifies one of the two output streams of a child.
type Channel int

const (
	Out Channel = iota
	Err
)

func (c Channel) String() string {
	switch c {
	case Out:
		return "out"
	case Err:
		return "err"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ParseChannel maps the names used in profiles ("out", "stdout", "err",
// "stderr") to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "out", "stdout":
		return Out, nil
	case "err", "stderr":
		return Err, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", s)
	}
}

func (c Channel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// LogEntry is one line delivered to the log feed.
type LogEntry struct {
	Sequence int           `json:"sequence"`
	Channel  Channel       `json:"channel"`
	Raw      string        `json:"raw"`
	Parsed   *match.Record `json:"parsed,omitempty"`
}

// State is the last progress value reported to observers.
type State struct {
	Percent         int    `json:"percent"`
	LastMatchedText string `json:"last_matched_text,omitempty"`
}

// Clamp limits p to [0,100].
func Clamp(p int) int {
	return min(max(p, 0), 100)
}

// Aggregator applies the matchers of one profile to complete lines.
// Sequence numbers are left to the caller.
type Aggregator struct {
	matcher *match.Matcher
	state   State
}

// NewAggregator returns an aggregator using m, or the default matcher if m is nil.
func NewAggregator(m *match.Matcher) *Aggregator {
	if m == nil {
		m = match.Default()
	}
	return &Aggregator{matcher: m}
}

// Observe runs the percentage and record matchers independently over line.
// ok reports whether a progress update was found; update is already clamped.
// A recognised record replaces the raw text with its canonical rendering.
func (a *Aggregator) Observe(line string, ch Channel) (update int, ok bool, entry LogEntry) {
	entry = LogEntry{Channel: ch, Raw: line}

	if p, found := a.matcher.Percent(line); found {
		update, ok = Clamp(p), true
		a.state = State{Percent: update, LastMatchedText: line}
	}

	if rec, found := a.matcher.Record(line); found {
		entry.Parsed = &rec
		entry.Raw = rec.String()
	}

	return update, ok, entry
}

// Keep reports whether an entry belongs in the log feed. Records are always
// kept; plain lines go through the profile filter.
func (a *Aggregator) Keep(entry LogEntry) bool {
	if entry.Parsed != nil {
		return true
	}
	return a.matcher.Keep(entry.Raw)
}

// Variables applies the key/value matcher to the lines of one read batch.
func (a *Aggregator) Variables(lines []string) map[string]string {
	if len(lines) == 0 {
		return nil
	}
	vars := match.Vars(strings.Join(lines, "\n"))
	if len(vars) == 0 {
		return nil
	}
	return vars
}

// Force sets the progress state without a matching line.
func (a *Aggregator) Force(p int) int {
	a.state = State{Percent: Clamp(p)}
	return a.state.Percent
}

// State returns the last observed progress.
func (a *Aggregator) State() State {
	return a.state
}

// Reset returns the aggregator to 0%.
func (a *Aggregator) Reset() {
	a.state = State{}
}

// FormatVariables renders vars with sorted keys as {A: 3, B: 2}.
func FormatVariables(vars map[string]string) string {
	keys := slices.Sorted(maps.Keys(vars))
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(vars[k])
	}
	b.WriteByte('}')
	return b.String()
}
