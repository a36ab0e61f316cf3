package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schovi/qrun/internal/daemon"
	"github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
	"github.com/schovi/qrun/internal/wait"
)

type fakeBackend struct {
	mu      sync.Mutex
	started []daemon.StartOptions
	status  daemon.Status
	entries []progress.LogEntry
	stopErr error
	stops   int
}

func (f *fakeBackend) Start(opts daemon.StartOptions) (*daemon.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, opts)
	run := &supervisor.ProcessRun{ID: "run-1", Command: opts.Command, Args: opts.Args, State: supervisor.Running}
	return &daemon.StartResult{Started: true, Profile: opts.Profile, Run: run}, nil
}

func (f *fakeBackend) Status() (*daemon.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	return &st, nil
}

func (f *fakeBackend) Read(since, headLines, tailLines int) (*daemon.ReadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := &daemon.ReadResult{Last: since, State: f.status.State}
	for _, e := range f.entries {
		if e.Sequence > since {
			res.Entries = append(res.Entries, e)
			res.Last = e.Sequence
		}
	}
	return res, nil
}

func (f *fakeBackend) Poll(since int) (wait.Poll, error) {
	st, _ := f.Status()
	res, _ := f.Read(since, 0, 0)
	p := wait.Poll{Entries: res.Entries, Last: res.Last, Percent: st.Progress.Percent, Done: st.Done()}
	if p.Done && st.Run != nil {
		p.ExitCode = st.Run.ExitCode
	}
	return p, nil
}

func (f *fakeBackend) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func newTestRegistry(b *fakeBackend) *ToolRegistry {
	r := NewToolRegistry(b, nil)
	r.pollInterval = time.Millisecond
	return r
}

func call(t *testing.T, r *ToolRegistry, name string, args string) *CallToolResult {
	t.Helper()
	res, err := r.Call(name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("%s: unexpected content %+v", name, res.Content)
	}
	return res
}

func TestListNamesEveryTool(t *testing.T) {
	r := newTestRegistry(&fakeBackend{})
	var names []string
	for _, tool := range r.List() {
		names = append(names, tool.Name)
		if tool.InputSchema["type"] != "object" {
			t.Errorf("tool %s: schema type = %v", tool.Name, tool.InputSchema["type"])
		}
	}
	want := "start,status,read,wait,stop,profiles"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("tools = %s, want %s", got, want)
	}
}

func TestCallStart(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b)

	res := call(t, r, "start", `{"command":"7z","args":["a","out.7z","dir"],"profile":"7z"}`)

	var out daemon.StartResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Started || out.Run.Command != "7z" {
		t.Errorf("unexpected result %+v", out)
	}
	if len(b.started) != 1 || b.started[0].Profile != "7z" || len(b.started[0].Args) != 3 {
		t.Errorf("backend got %+v", b.started)
	}
}

func TestCallStartValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr string
	}{
		{name: "missing command", args: `{}`, wantErr: "command is required"},
		{name: "unknown profile", args: `{"command":"x","profile":"nope"}`, wantErr: "unknown profile"},
		{name: "bad json", args: `{"command":`, wantErr: "parse args"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			_, err := newTestRegistry(b).Call("start", json.RawMessage(tt.args))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
			if len(b.started) != 0 {
				t.Errorf("backend should not be called")
			}
		})
	}
}

func TestCallReadValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    ReadArgs
		wantErr string
	}{
		{name: "defaults", args: ReadArgs{}},
		{name: "since and tail", args: ReadArgs{Since: 3, Tail: 2}},
		{name: "head and tail", args: ReadArgs{Head: 1, Tail: 1}, wantErr: "mutually exclusive"},
		{name: "negative", args: ReadArgs{Since: -1}, wantErr: "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateReadArgs(tt.args)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCallRead(t *testing.T) {
	b := &fakeBackend{entries: []progress.LogEntry{
		{Sequence: 1, Raw: "one"},
		{Sequence: 2, Raw: "two"},
	}}
	res := call(t, newTestRegistry(b), "read", `{"since":1}`)

	var out daemon.ReadResult
	if err := json.Unmarshal([]byte(res.Content[0].Text), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Raw != "two" || out.Last != 2 {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestCallWaitPattern(t *testing.T) {
	b := &fakeBackend{
		status: daemon.Status{State: supervisor.Running},
		entries: []progress.LogEntry{
			{Sequence: 1, Raw: "scanning"},
			{Sequence: 2, Raw: "Everything is Ok"},
		},
	}
	res := call(t, newTestRegistry(b), "wait", `{"pattern":"Everything is Ok","timeout_sec":1}`)
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content[0].Text)
	}

	var out struct {
		Matched bool              `json:"matched"`
		Line    progress.LogEntry `json:"line"`
	}
	if err := json.Unmarshal([]byte(res.Content[0].Text), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Matched || out.Line.Sequence != 2 {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestCallWaitFinishedEarly(t *testing.T) {
	b := &fakeBackend{status: daemon.Status{
		State:    supervisor.NotRunning,
		Progress: progress.State{Percent: 100},
	}}
	res := call(t, newTestRegistry(b), "wait", `{"pattern":"never","timeout_sec":1}`)
	if !res.IsError {
		t.Fatalf("expected error result, got %s", res.Content[0].Text)
	}
	if !strings.Contains(res.Content[0].Text, wait.ErrFinished.Error()) {
		t.Errorf("text = %s", res.Content[0].Text)
	}
}

func TestCallWaitPercent(t *testing.T) {
	b := &fakeBackend{status: daemon.Status{
		State:    supervisor.Running,
		Progress: progress.State{Percent: 60},
	}}
	res := call(t, newTestRegistry(b), "wait", `{"percent":50}`)
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content[0].Text)
	}
}

func TestCallWaitValidation(t *testing.T) {
	r := newTestRegistry(&fakeBackend{})
	for _, args := range []string{`{"percent":101}`, `{"pattern":"("}`} {
		if _, err := r.Call("wait", json.RawMessage(args)); err == nil {
			t.Errorf("%s: expected error", args)
		}
	}
}

func TestCallStop(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b)
	call(t, r, "stop", ``)
	if b.stops != 1 {
		t.Errorf("stops = %d, want 1", b.stops)
	}

	b.stopErr = daemon.ErrNotRunning
	if _, err := r.Call("stop", nil); !errors.Is(err, daemon.ErrNotRunning) {
		t.Errorf("error = %v, want ErrNotRunning", err)
	}
}

func TestCallProfiles(t *testing.T) {
	res := call(t, newTestRegistry(&fakeBackend{}), "profiles", `{}`)
	for _, name := range []string{"generic", "7z", "rclone"} {
		if !strings.Contains(res.Content[0].Text, name) {
			t.Errorf("profiles output misses %q", name)
		}
	}
}

func TestCallUnknownTool(t *testing.T) {
	_, err := newTestRegistry(&fakeBackend{}).Call("exec", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("error = %v", err)
	}
}

func TestCallWaitPercentFailedRun(t *testing.T) {
	code := 1
	b := &fakeBackend{status: daemon.Status{
		State:    supervisor.NotRunning,
		Run:      &supervisor.ProcessRun{ID: "run-1", ExitCode: &code},
		Progress: progress.State{Percent: 100},
	}}
	res := call(t, newTestRegistry(b), "wait", `{"percent":50,"timeout_sec":1}`)
	if !res.IsError {
		t.Fatalf("expected error result, got %s", res.Content[0].Text)
	}
	if !strings.Contains(res.Content[0].Text, `"exit_code": 1`) {
		t.Errorf("text = %s, want the exit code", res.Content[0].Text)
	}
}
