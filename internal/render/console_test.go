package render

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schovi/qrun/internal/match"
	qprogress "github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
)

func playRun(c *Console) {
	rec := match.Record{Index: 1, Opcode: "U", Path: "a.txt"}
	c.OnStateChange(supervisor.Starting)
	c.OnProgress(0)
	c.OnStateChange(supervisor.Running)
	c.OnLogLine(qprogress.LogEntry{Sequence: 1, Channel: qprogress.Out, Raw: "hello"})
	c.OnProgress(40)
	c.OnProgress(40)
	c.OnLogLine(qprogress.LogEntry{Sequence: 2, Channel: qprogress.Err, Raw: rec.String(), Parsed: &rec})
	c.OnVariables(map[string]string{"B": "2", "A": "3"})
	c.OnProgress(100)
	c.OnStateChange(supervisor.Finished)
	c.OnFinished(0)
	c.OnStateChange(supervisor.NotRunning)
}

func TestConsole_Plain(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	playRun(c)

	assert.Equal(t, strings.Join([]string{
		"progress: 0%",
		"hello",
		"progress: 40%",
		"#001 op=U file=a.txt",
		"vars: {A: 3, B: 2}",
		"progress: 100%",
		"finished: exit code 0",
		"",
	}, "\n"), buf.String())

	code, ok := c.ExitCode()
	assert.True(t, ok)
	assert.Zero(t, code)
}

func TestConsole_PlainFailure(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	_, ok := c.ExitCode()
	assert.False(t, ok)

	c.OnError(errors.New("start process: no such file"))
	c.OnFinished(-1)
	c.OnFinished(2)

	assert.Equal(t, "error: start process: no such file\nfinished: terminated by signal\nfinished: exit code 2\n", buf.String())
	code, _ := c.ExitCode()
	assert.Equal(t, 2, code)
}

func TestConsole_Live(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, WithLive(true), WithBarWidth(20))

	playRun(c)

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "vars: {A: 3, B: 2}")
	assert.Contains(t, out, "finished: exit code 0")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "\r\x1b[2K")
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.NotContains(t, out, "progress: ")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))

	orig := terminalDetector
	t.Cleanup(func() { terminalDetector = orig })
	terminalDetector = func(uintptr) bool { return true }

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	assert.True(t, isTerminal(f))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, isTerminal(f))
}
