package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schovi/qrun/internal/wait"
)

type Client struct {
	socketPath string
	env        []string
}

type ClientOption func(*Client)

// WithDaemonEnv adds KEY=value settings to the environment of a daemon
// started by EnsureDaemon. They override the caller's environment.
func WithDaemonEnv(env ...string) ClientOption {
	return func(c *Client) {
		c.env = append(c.env, env...)
	}
}

func NewClient(socketDir string, opts ...ClientOption) *Client {
	return NewClientWithSocketPath(SocketPath(socketDir), opts...)
}

func NewClientWithSocketPath(path string, opts ...ClientOption) *Client {
	c := &Client{socketPath: path}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) daemonEnv() []string {
	env := append(os.Environ(), "QRUN_SOCKET_DIR="+filepath.Dir(c.socketPath))
	return append(env, c.env...)
}

// EnsureDaemon starts a background daemon from the current executable
// unless one already answers on the socket.
func (c *Client) EnsureDaemon() error {
	if c.Ping() {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	cmd := exec.Command(exePath, "daemon")
	cmd.Env = c.daemonEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	go cmd.Wait()

	deadline := time.Now().Add(DaemonStartTimeout)
	for time.Now().Before(deadline) {
		time.Sleep(DaemonPollInterval)
		if c.Ping() {
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start")
}

func (c *Client) Ping() bool {
	resp, err := c.send(Request{Action: ActionPing})
	return err == nil && resp.Success
}

type StartOptions struct {
	Command string
	Args    []string
	Profile string
	// ProfilesFile is the profile file Profile is looked up in. Empty uses
	// the daemon's own catalog.
	ProfilesFile string
}

func (c *Client) Start(opts StartOptions) (*StartResult, error) {
	var result StartResult
	err := c.call(Request{
		Action:       ActionStart,
		Command:      opts.Command,
		Args:         opts.Args,
		Profile:      opts.Profile,
		ProfilesFile: opts.ProfilesFile,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Status() (*Status, error) {
	var result Status
	if err := c.call(Request{Action: ActionStatus}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Read returns log entries with a sequence greater than since.
func (c *Client) Read(since, headLines, tailLines int) (*ReadResult, error) {
	var result ReadResult
	err := c.call(Request{
		Action:    ActionRead,
		Since:     since,
		HeadLines: headLines,
		TailLines: tailLines,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Poll samples the run state before reading entries after since, so a
// finished state always comes with the last entries of the run.
func (c *Client) Poll(since int) (wait.Poll, error) {
	st, err := c.Status()
	if err != nil {
		return wait.Poll{}, err
	}
	res, err := c.Read(since, 0, 0)
	if err != nil {
		return wait.Poll{}, err
	}
	p := wait.Poll{
		Entries: res.Entries,
		Last:    res.Last,
		Percent: st.Progress.Percent,
		Done:    st.Done(),
	}
	if p.Done && st.Run != nil {
		p.ExitCode = st.Run.ExitCode
	}
	return p, nil
}

func (c *Client) Stop() error {
	return c.call(Request{Action: ActionStop}, nil)
}

func (c *Client) call(req Request, out interface{}) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Error == ErrNotRunning.Error() {
			return ErrNotRunning
		}
		return fmt.Errorf("%s", resp.Error)
	}
	if out == nil {
		return nil
	}
	if len(resp.Data) == 0 {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

type clientResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) send(req Request) (*clientResponse, error) {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(ClientDeadline))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, err
	}

	var resp clientResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, err
	}

	return &resp, nil
}
