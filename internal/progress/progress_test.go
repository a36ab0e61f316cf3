package progress

import (
	"encoding/json"
	"testing"

	"github.com/schovi/qrun/internal/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve_Percentage(t *testing.T) {
	a := NewAggregator(nil)

	update, ok, entry := a.Observe("7 - Compressing  42% 123", Err)
	require.True(t, ok)
	assert.Equal(t, 42, update)
	assert.Equal(t, "7 - Compressing  42% 123", entry.Raw)
	assert.Nil(t, entry.Parsed)
	assert.Equal(t, Err, entry.Channel)
	assert.Equal(t, State{Percent: 42, LastMatchedText: "7 - Compressing  42% 123"}, a.State())
}

func TestObserve_ClampsPercentage(t *testing.T) {
	a := NewAggregator(nil)

	update, ok, _ := a.Observe("999% overshoot", Out)
	require.True(t, ok)
	assert.Equal(t, 100, update)
}

func TestObserve_LowerValueIsAccepted(t *testing.T) {
	a := NewAggregator(nil)

	a.Observe("80%", Out)
	update, ok, _ := a.Observe("phase two 10%", Out)
	require.True(t, ok)
	assert.Equal(t, 10, update)
	assert.Equal(t, 10, a.State().Percent)
}

func TestObserve_Record(t *testing.T) {
	a := NewAggregator(nil)

	_, ok, entry := a.Observe("007 U testdata/file.bin", Err)
	assert.False(t, ok)
	require.NotNil(t, entry.Parsed)
	assert.Equal(t, match.Record{Index: 7, Opcode: "U", Path: "testdata/file.bin"}, *entry.Parsed)
	assert.Equal(t, "#007 op=U file=testdata/file.bin", entry.Raw)
}

func TestObserve_PercentageAndRecordOnOneLine(t *testing.T) {
	a := NewAggregator(nil)

	update, ok, entry := a.Observe(" 35% 12 + testdata/a.txt", Err)
	require.True(t, ok)
	assert.Equal(t, 35, update)
	require.NotNil(t, entry.Parsed)
	assert.Equal(t, "#012 op=+ file=testdata/a.txt", entry.Raw)
}

func TestObserve_NoMatchKeepsRawLine(t *testing.T) {
	a := NewAggregator(nil)

	update, ok, entry := a.Observe("  Everything is Ok  ", Out)
	assert.False(t, ok)
	assert.Zero(t, update)
	assert.Equal(t, "  Everything is Ok  ", entry.Raw)
	assert.Nil(t, entry.Parsed)
	assert.Zero(t, a.State().Percent)
}

func TestKeep_UsesFilterForPlainLines(t *testing.T) {
	a := NewAggregator(match.MustCompile(match.Patterns{Filter: "INFO"}))

	_, _, plain := a.Observe("Transferred: 0 B", Out)
	_, _, info := a.Observe("INFO  : a.7z: Copied (new)", Out)
	_, _, rec := a.Observe("1 U file", Out)

	assert.False(t, a.Keep(plain))
	assert.True(t, a.Keep(info))
	assert.True(t, a.Keep(rec))
}

func TestVariables(t *testing.T) {
	a := NewAggregator(nil)

	vars := a.Variables([]string{"A=1", "B=2", "notakeyvalue", "A=3"})
	assert.Equal(t, map[string]string{"A": "3", "B": "2"}, vars)

	assert.Nil(t, a.Variables(nil))
	assert.Nil(t, a.Variables([]string{"plain"}))
}

func TestForceAndReset(t *testing.T) {
	a := NewAggregator(nil)
	a.Observe("12%", Out)

	assert.Equal(t, 100, a.Force(100))
	assert.Equal(t, State{Percent: 100}, a.State())

	a.Reset()
	assert.Equal(t, State{}, a.State())
}

func TestFormatVariables(t *testing.T) {
	assert.Equal(t, "{A: 3, B: 2}", FormatVariables(map[string]string{"B": "2", "A": "3"}))
	assert.Equal(t, "{}", FormatVariables(nil))
}

func TestChannel_Text(t *testing.T) {
	for _, name := range []string{"stdout", "out", "OUT"} {
		ch, err := ParseChannel(name)
		require.NoError(t, err)
		assert.Equal(t, Out, ch)
	}

	ch, err := ParseChannel("stderr")
	require.NoError(t, err)
	assert.Equal(t, Err, ch)

	_, err = ParseChannel("stdin")
	assert.Error(t, err)

	data, err := json.Marshal(LogEntry{Sequence: 1, Channel: Err, Raw: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":1,"channel":"err","raw":"x"}`, string(data))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, Err, entry.Channel)
}
