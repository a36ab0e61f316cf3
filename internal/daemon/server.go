package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/schovi/qrun/internal/logstore"
	"github.com/schovi/qrun/internal/profile"
	"github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
)

// Server owns at most one supervised run and answers one JSON request per
// connection on a unix socket.
type Server struct {
	// startMu serializes start requests; mu guards the fields below it.
	startMu sync.Mutex

	mu        sync.Mutex
	sup       *supervisor.Supervisor
	profile   string
	lastRun   *supervisor.ProcessRun
	variables map[string]string
	lastErr   string

	socketDir string
	store     *logstore.MemoryStore
	catalog   *profile.Catalog
	killGrace time.Duration
	log       *zap.Logger
	listener  net.Listener
}

type ServerOption func(*Server)

func WithSocketDir(dir string) ServerOption {
	return func(s *Server) {
		s.socketDir = dir
	}
}

func WithStore(store *logstore.MemoryStore) ServerOption {
	return func(s *Server) {
		s.store = store
	}
}

func WithCatalog(c *profile.Catalog) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

func WithKillGrace(d time.Duration) ServerOption {
	return func(s *Server) {
		s.killGrace = d
	}
}

func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		store:     logstore.NewMemoryStore(logstore.DefaultMaxEntries),
		catalog:   profile.NewCatalog(),
		killGrace: supervisor.DefaultKillGrace,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.socketDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		s.socketDir = filepath.Join(homeDir, ".qrun")
	}
	if err := os.MkdirAll(s.socketDir, 0755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	return s, nil
}

func SocketPath(dir string) string {
	return filepath.Join(dir, SocketName)
}

func (s *Server) socketPath() string {
	return SocketPath(s.socketDir)
}

func (s *Server) Start() error {
	sockPath := s.socketPath()
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.log.Info("daemon listening", zap.String("socket", sockPath))

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.listener == nil
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Shutdown stops the current run, waits for it to finish and closes the
// socket.
func (s *Server) Shutdown() {
	s.mu.Lock()
	sup := s.sup
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if sup != nil {
		sup.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		if err := sup.Wait(ctx); err != nil {
			s.log.Warn("run did not finish before shutdown", zap.Error(err))
		}
		cancel()
	}

	if listener != nil {
		listener.Close()
	}
	os.Remove(s.socketPath())
	s.log.Info("daemon stopped")
}

type Request struct {
	Action       string   `json:"action"`
	Command      string   `json:"command,omitempty"`
	Args         []string `json:"args,omitempty"`
	Profile      string   `json:"profile,omitempty"`
	ProfilesFile string   `json:"profiles_file,omitempty"`
	Since        int      `json:"since,omitempty"`
	HeadLines    int      `json:"head_lines,omitempty"`
	TailLines    int      `json:"tail_lines,omitempty"`
}

type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type StartResult struct {
	// Started is false when a run was already active and the request was
	// ignored.
	Started bool                   `json:"started"`
	Profile string                 `json:"profile"`
	Run     *supervisor.ProcessRun `json:"run,omitempty"`
}

type Status struct {
	State     supervisor.RunState    `json:"state"`
	Profile   string                 `json:"profile,omitempty"`
	Run       *supervisor.ProcessRun `json:"run,omitempty"`
	Progress  progress.State         `json:"progress"`
	Variables map[string]string      `json:"variables,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Entries   int                    `json:"entries"`
	Dropped   int                    `json:"dropped,omitempty"`
}

// Done reports whether no run is active, either because the last run
// finished or because none was started.
func (st *Status) Done() bool {
	return st.State == supervisor.Finished || st.State == supervisor.NotRunning
}

type ReadResult struct {
	Entries []progress.LogEntry `json:"entries"`
	// Last is the highest sequence returned, or the requested since value
	// when nothing new arrived.
	Last  int                 `json:"last"`
	State supervisor.RunState `json:"state"`
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.sendResponse(conn, Response{Success: false, Error: err.Error()})
		return
	}
	s.log.Debug("request", zap.String("action", req.Action))

	var resp Response
	switch req.Action {
	case ActionStart:
		resp = s.handleStart(req)
	case ActionStatus:
		resp = Response{Success: true, Data: s.status()}
	case ActionRead:
		resp = s.handleRead(req)
	case ActionStop:
		resp = s.handleStop()
	case ActionPing:
		resp = Response{Success: true, Data: "pong"}
	default:
		resp = Response{Success: false, Error: "unknown action"}
	}

	s.sendResponse(conn, resp)
}

func (s *Server) sendResponse(conn net.Conn, resp Response) {
	json.NewEncoder(conn).Encode(resp)
}

func (s *Server) handleStart(req Request) Response {
	if req.Command == "" {
		return Response{Success: false, Error: "command is required"}
	}
	catalog := s.catalog
	if req.ProfilesFile != "" && req.ProfilesFile != catalog.Source() {
		s.log.Debug("loading profiles sent by client", zap.String("path", req.ProfilesFile))
		c, err := profile.Load(req.ProfilesFile)
		if err != nil {
			return Response{Success: false, Error: err.Error()}
		}
		catalog = c
	}
	p, err := catalog.Get(req.Profile)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}
	desc, err := p.Descriptor()
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	current, currentProfile := s.sup, s.profile
	s.mu.Unlock()

	if current != nil {
		if snap := current.Snapshot(); snap.State != supervisor.NotRunning {
			s.log.Info("start ignored, run in progress", zap.String("command", req.Command))
			return Response{Success: true, Data: StartResult{
				Started: false,
				Profile: currentProfile,
				Run:     snap.Run,
			}}
		}
	}

	var sup *supervisor.Supervisor
	tracker := supervisor.ObserverFuncs{
		StateChange: func(state supervisor.RunState) {
			if state != supervisor.Starting {
				return
			}
			s.mu.Lock()
			s.lastRun = nil
			s.variables = nil
			s.lastErr = ""
			s.mu.Unlock()
		},
		Variables: func(vars map[string]string) {
			s.mu.Lock()
			if s.variables == nil {
				s.variables = make(map[string]string, len(vars))
			}
			maps.Copy(s.variables, vars)
			s.mu.Unlock()
		},
		Finished: func(int) {
			run := sup.Snapshot().Run
			s.mu.Lock()
			s.lastRun = run
			s.mu.Unlock()
		},
		Error: func(err error) {
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
		},
	}

	sup, err = supervisor.New(
		supervisor.Multi{logstore.NewRecorder(s.store, s.log), tracker},
		supervisor.WithDescriptor(desc),
		supervisor.WithKillGrace(s.killGrace),
		supervisor.WithLogger(s.log),
	)
	if err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	s.mu.Lock()
	s.sup = sup
	s.profile = p.Name
	s.mu.Unlock()

	args := p.CommandArgs(req.Args)
	if err := sup.Start(context.Background(), req.Command, args); err != nil {
		return Response{Success: false, Error: err.Error()}
	}

	// A short run may already be over; Finished stored it in lastRun.
	run := sup.Snapshot().Run
	if run == nil {
		s.mu.Lock()
		run = s.lastRun
		s.mu.Unlock()
	}
	return Response{Success: true, Data: StartResult{
		Started: true,
		Profile: p.Name,
		Run:     run,
	}}
}

func (s *Server) status() Status {
	s.mu.Lock()
	sup := s.sup
	st := Status{
		Profile:   s.profile,
		Run:       s.lastRun,
		Variables: maps.Clone(s.variables),
		LastError: s.lastErr,
	}
	s.mu.Unlock()

	if sup != nil {
		snap := sup.Snapshot()
		st.State = snap.State
		st.Progress = snap.Progress
		if snap.Run != nil {
			st.Run = snap.Run
		}
	}
	st.Entries, _ = s.store.Len()
	st.Dropped = s.store.Dropped()
	return st
}

func (s *Server) handleRead(req Request) Response {
	entries, err := s.store.Since(req.Since)
	if err != nil {
		return Response{Success: false, Error: fmt.Sprintf("read log: %v", err)}
	}

	last := req.Since
	if len(entries) > 0 {
		last = entries[len(entries)-1].Sequence
	}
	if req.HeadLines > 0 || req.TailLines > 0 {
		entries = logstore.Limit(entries, req.HeadLines, req.TailLines)
	}
	if entries == nil {
		entries = []progress.LogEntry{}
	}

	return Response{Success: true, Data: ReadResult{
		Entries: entries,
		Last:    last,
		State:   s.status().State,
	}}
}

var ErrNotRunning = errors.New("no run in progress")

func (s *Server) handleStop() Response {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	if sup == nil || sup.State() == supervisor.NotRunning {
		return Response{Success: false, Error: ErrNotRunning.Error()}
	}
	sup.Stop()
	return Response{Success: true}
}
