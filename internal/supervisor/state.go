package supervisor

import (
	"fmt"
	"slices"
	"time"
)

// RunState is the lifecycle position of a Supervisor.
type RunState int

const (
	NotRunning RunState = iota
	Starting
	Running
	Finished
)

func (s RunState) String() string {
	switch s {
	case NotRunning:
		return "not running"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	for _, st := range []RunState{NotRunning, Starting, Running, Finished} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", string(b))
}

// ProcessRun describes the run currently owned by a Supervisor.
type ProcessRun struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Args      []string   `json:"args"`
	State     RunState   `json:"state"`
	PID       int        `json:"pid,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (r *ProcessRun) clone() *ProcessRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Args = slices.Clone(r.Args)
	if r.ExitCode != nil {
		code := *r.ExitCode
		c.ExitCode = &code
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		c.EndedAt = &t
	}
	return &c
}
