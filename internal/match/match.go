// Package match extracts structured signals from single lines of tool output.
//
// Matchers are stateless and only ever see complete lines; partial text from
// a read chunk is never matched.
package match

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultPercentPattern captures the first run of 1-3 digits followed by %.
	DefaultPercentPattern = `(\d{1,3})%`

	// DefaultRecordPattern captures index, opcode and path of a per-file
	// operation line as printed by 7z with -bb1 ("12 U dir/file.txt").
	DefaultRecordPattern = `(\d+) ([A-Z+]) (.+)$`
)

// Record is one per-item operation reported by the child.
type Record struct {
	Index  int    `json:"index"`
	Opcode string `json:"opcode"`
	Path   string `json:"path"`
}

// String renders the record in the canonical log form.
func (r Record) String() string {
	return fmt.Sprintf("#%03d op=%s file=%s", r.Index, r.Opcode, r.Path)
}

// Patterns selects the expressions a Matcher uses. Empty fields fall back to
// the defaults; an empty Filter disables filtering.
type Patterns struct {
	Percent string
	Record  string
	Filter  string
}

// Matcher holds compiled patterns for one tool profile.
type Matcher struct {
	percent *regexp.Regexp
	record  *regexp.Regexp
	filter  *regexp.Regexp
}

var defaultMatcher = MustCompile(Patterns{})

// Default returns the matcher built from the default patterns.
func Default() *Matcher {
	return defaultMatcher
}

// Compile builds a Matcher. The percent pattern needs one capture group and
// the record pattern needs three (index, opcode, path).
func Compile(p Patterns) (*Matcher, error) {
	percentSrc := p.Percent
	if percentSrc == "" {
		percentSrc = DefaultPercentPattern
	}
	recordSrc := p.Record
	if recordSrc == "" {
		recordSrc = DefaultRecordPattern
	}

	m := &Matcher{}
	var err error

	m.percent, err = regexp.Compile(percentSrc)
	if err != nil {
		return nil, fmt.Errorf("invalid percent pattern: %w", err)
	}
	if m.percent.NumSubexp() < 1 {
		return nil, fmt.Errorf("percent pattern %q needs a capture group", percentSrc)
	}

	m.record, err = regexp.Compile(recordSrc)
	if err != nil {
		return nil, fmt.Errorf("invalid record pattern: %w", err)
	}
	if m.record.NumSubexp() < 3 {
		return nil, fmt.Errorf("record pattern %q needs three capture groups", recordSrc)
	}

	if p.Filter != "" {
		m.filter, err = regexp.Compile(p.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	return m, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(p Patterns) *Matcher {
	m, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return m
}

// Percent returns the first percentage in line. The value is not range checked.
func (m *Matcher) Percent(line string) (int, bool) {
	sub := m.percent.FindStringSubmatch(line)
	if sub == nil {
		return 0, false
	}
	n, err := strconv.Atoi(sub[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Record returns the first structural record match in line.
func (m *Matcher) Record(line string) (Record, bool) {
	sub := m.record.FindStringSubmatch(line)
	if sub == nil {
		return Record{}, false
	}
	idx, err := strconv.Atoi(sub[1])
	if err != nil {
		return Record{}, false
	}
	return Record{Index: idx, Opcode: sub[2], Path: sub[3]}, true
}

// Keep reports whether an unparsed line should be logged. Without a filter
// every line is kept.
func (m *Matcher) Keep(line string) bool {
	if m.filter == nil {
		return true
	}
	return m.filter.MatchString(line)
}

// Percent applies the default percentage pattern.
func Percent(line string) (int, bool) {
	return defaultMatcher.Percent(line)
}

// ParseRecord applies the default record pattern.
func ParseRecord(line string) (Record, bool) {
	return defaultMatcher.Record(line)
}

// Vars collects key=value pairs from a block of lines. Only lines with
// exactly one '=' count; a later duplicate key overwrites an earlier one.
func Vars(block string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.Count(line, "=") != 1 {
			continue
		}
		key, value, _ := strings.Cut(line, "=")
		vars[key] = value
	}
	return vars
}
