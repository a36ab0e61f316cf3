package mcp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/schovi/qrun/internal/daemon"
	"github.com/schovi/qrun/internal/profile"
	"github.com/schovi/qrun/internal/wait"
)

// Backend is the part of daemon.Client the tools need.
type Backend interface {
	Start(opts daemon.StartOptions) (*daemon.StartResult, error)
	Status() (*daemon.Status, error)
	Read(since, headLines, tailLines int) (*daemon.ReadResult, error)
	Poll(since int) (wait.Poll, error)
	Stop() error
}

const defaultWaitTimeoutSec = 30

type ToolRegistry struct {
	backend      Backend
	catalog      *profile.Catalog
	pollInterval time.Duration
}

func NewToolRegistry(backend Backend, catalog *profile.Catalog) *ToolRegistry {
	if catalog == nil {
		catalog = profile.NewCatalog()
	}
	return &ToolRegistry{backend: backend, catalog: catalog}
}

func (r *ToolRegistry) List() []ToolDef {
	return []ToolDef{
		{
			Name:        "start",
			Description: "Start a long-running command (archiver, sync tool, build) in the background. Only one run is active at a time; starting while one is active returns the active run with started=false.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "Executable to run (e.g., '7z', 'rclone')",
					},
					"args": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Arguments for the command",
					},
					"profile": map[string]interface{}{
						"type":        "string",
						"description": "Tool profile deciding how progress is parsed (see the profiles tool). Defaults to 'generic'.",
					},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        "status",
			Description: "Report the state, progress percentage and variables of the current or last run.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "read",
			Description: "Read log entries of the current or last run. Pass the returned 'last' as 'since' to read only new entries.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"since": map[string]interface{}{
						"type":        "integer",
						"description": "Only entries with a sequence greater than this (default: 0, all entries)",
					},
					"head": map[string]interface{}{
						"type":        "integer",
						"description": "Return first N entries. Mutually exclusive with tail.",
					},
					"tail": map[string]interface{}{
						"type":        "integer",
						"description": "Return last N entries. Mutually exclusive with head.",
					},
				},
			},
		},
		{
			Name:        "wait",
			Description: "Block until a log line matches a pattern, progress reaches a percentage, or, with neither, the run finishes.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex matched against each log line",
					},
					"percent": map[string]interface{}{
						"type":        "integer",
						"description": "Progress percentage to wait for (1-100)",
					},
					"since": map[string]interface{}{
						"type":        "integer",
						"description": "Only consider entries with a sequence greater than this",
					},
					"timeout_sec": map[string]interface{}{
						"type":        "integer",
						"description": "Max wait time in seconds (default: 30)",
					},
				},
			},
		},
		{
			Name:        "stop",
			Description: "Terminate the active run. Its log stays readable until the next start.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "profiles",
			Description: "List the tool profiles that start accepts.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

func (r *ToolRegistry) Call(name string, args json.RawMessage) (*CallToolResult, error) {
	switch name {
	case "start":
		return r.callStart(args)
	case "status":
		return r.callStatus()
	case "read":
		return r.callRead(args)
	case "wait":
		return r.callWait(args)
	case "stop":
		return r.callStop()
	case "profiles":
		return r.callProfiles()
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func textResult(v interface{}) (*CallToolResult, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(output)}},
	}, nil
}

func parseArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}
	return nil
}

type StartArgs struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Profile string   `json:"profile"`
}

func (r *ToolRegistry) callStart(args json.RawMessage) (*CallToolResult, error) {
	var a StartArgs
	if err := parseArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if _, err := r.catalog.Get(a.Profile); err != nil {
		return nil, err
	}

	res, err := r.backend.Start(daemon.StartOptions{
		Command:      a.Command,
		Args:         a.Args,
		Profile:      a.Profile,
		ProfilesFile: r.catalog.Source(),
	})
	if err != nil {
		return nil, err
	}
	return textResult(res)
}

func (r *ToolRegistry) callStatus() (*CallToolResult, error) {
	st, err := r.backend.Status()
	if err != nil {
		return nil, err
	}
	return textResult(st)
}

type ReadArgs struct {
	Since int `json:"since"`
	Head  int `json:"head"`
	Tail  int `json:"tail"`
}

func validateReadArgs(a ReadArgs) error {
	if a.Since < 0 || a.Head < 0 || a.Tail < 0 {
		return fmt.Errorf("since, head and tail must not be negative")
	}
	if a.Head > 0 && a.Tail > 0 {
		return fmt.Errorf("head and tail are mutually exclusive")
	}
	return nil
}

func (r *ToolRegistry) callRead(args json.RawMessage) (*CallToolResult, error) {
	var a ReadArgs
	if err := parseArgs(args, &a); err != nil {
		return nil, err
	}
	if err := validateReadArgs(a); err != nil {
		return nil, err
	}

	res, err := r.backend.Read(a.Since, a.Head, a.Tail)
	if err != nil {
		return nil, err
	}
	return textResult(res)
}

type WaitArgs struct {
	Pattern    string `json:"pattern"`
	Percent    int    `json:"percent"`
	Since      int    `json:"since"`
	TimeoutSec int    `json:"timeout_sec"`
}

type waitOutput struct {
	Matched  bool        `json:"matched"`
	Line     interface{} `json:"line,omitempty"`
	Percent  int         `json:"percent"`
	Last     int         `json:"last"`
	Done     bool        `json:"done"`
	ExitCode *int        `json:"exit_code,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func (r *ToolRegistry) callWait(args json.RawMessage) (*CallToolResult, error) {
	var a WaitArgs
	if err := parseArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Percent < 0 || a.Percent > 100 {
		return nil, fmt.Errorf("percent must be between 0 and 100")
	}
	if _, err := regexp.Compile(a.Pattern); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}

	timeoutSec := a.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = defaultWaitTimeoutSec
	}

	res, err := wait.For(r.backend.Poll, wait.Config{
		Pattern:       a.Pattern,
		Percent:       a.Percent,
		Timeout:       time.Duration(timeoutSec) * time.Second,
		StartSequence: a.Since,
		PollInterval:  r.pollInterval,
	})

	out := waitOutput{
		Matched:  err == nil,
		Percent:  res.Percent,
		Last:     res.Last,
		Done:     res.Done,
		ExitCode: res.ExitCode,
	}
	if res.Matched != nil {
		out.Line = res.Matched
	}
	if err != nil {
		out.Error = err.Error()
	}

	result, merr := textResult(out)
	if merr != nil {
		return nil, merr
	}
	result.IsError = err != nil
	return result, nil
}

func (r *ToolRegistry) callStop() (*CallToolResult, error) {
	if err := r.backend.Stop(); err != nil {
		return nil, err
	}
	return textResult(map[string]bool{"stopped": true})
}

func (r *ToolRegistry) callProfiles() (*CallToolResult, error) {
	var list []profile.Profile
	for _, name := range r.catalog.Names() {
		p, err := r.catalog.Get(name)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return textResult(list)
}
