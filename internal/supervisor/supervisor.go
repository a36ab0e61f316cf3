package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schovi/qrun/internal/ansi"
	"github.com/schovi/qrun/internal/decode"
	"github.com/schovi/qrun/internal/linebuf"
	"github.com/schovi/qrun/internal/match"
	"github.com/schovi/qrun/internal/progress"
)

const (
	ReadBufferSize   = 4096
	DefaultKillGrace = 5 * time.Second

	// DefaultDrainGrace is how long output may stay silent after the child
	// exited before its streams are abandoned. Background processes that
	// inherited the streams keep them open past the child's exit.
	DefaultDrainGrace = 500 * time.Millisecond
	eventQueueSize    = 64
)

// Descriptor describes how to read one kind of tool.
type Descriptor struct {
	Name string

	// ProgressChannel restricts the percentage and record matchers (and the
	// log filter) to one channel. Nil applies them to both.
	ProgressChannel *progress.Channel

	Matcher *match.Matcher

	// SkipBlank drops whitespace-only lines from the log feed.
	SkipBlank bool

	// StripANSI removes terminal escapes, backspaces and carriage-return
	// redraws before matching.
	StripANSI bool

	// PTY runs the child on a pseudo-terminal. Both streams then arrive
	// on the Out channel.
	PTY bool

	Charset string
	Env     []string
	Dir     string
}

// Snapshot is a point-in-time copy of a Supervisor.
type Snapshot struct {
	State    RunState       `json:"state"`
	Run      *ProcessRun    `json:"run,omitempty"`
	Progress progress.State `json:"progress"`
}

// Supervisor runs at most one child process at a time.
//
// Start, Stop, Wait and Snapshot are safe to call from any goroutine.
type Supervisor struct {
	mu        sync.Mutex
	state     RunState
	run       *ProcessRun
	cancel    context.CancelFunc
	done      chan struct{}
	killTimer *time.Timer
	snapshot  progress.State

	observer   Observer
	log        *zap.Logger
	desc       Descriptor
	killGrace  time.Duration
	drainGrace time.Duration

	// Owned by the run loop once a run is started.
	buffers [2]*linebuf.Buffer
	agg     *progress.Aggregator
	seq     int
}

type Option func(*Supervisor)

func WithLogger(log *zap.Logger) Option {
	return func(s *Supervisor) {
		if log != nil {
			s.log = log
		}
	}
}

func WithDescriptor(desc Descriptor) Option {
	return func(s *Supervisor) {
		s.desc = desc
	}
}

// WithKillGrace sets how long a stopped child gets between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// WithDrainGrace sets how long the output streams may stay silent after the
// child exited before the run finishes without them.
func WithDrainGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.drainGrace = d
		}
	}
}

// New returns an idle Supervisor reporting to observer.
func New(observer Observer, opts ...Option) (*Supervisor, error) {
	if observer == nil {
		observer = ObserverFuncs{}
	}

	s := &Supervisor{
		observer:   observer,
		log:        zap.NewNop(),
		killGrace:  DefaultKillGrace,
		drainGrace: DefaultDrainGrace,
	}
	for _, opt := range opts {
		opt(s)
	}

	dec, err := decode.New(s.desc.Charset)
	if err != nil {
		return nil, err
	}
	s.buffers[progress.Out] = linebuf.New(dec)
	s.buffers[progress.Err] = linebuf.New(dec)
	s.agg = progress.NewAggregator(s.desc.Matcher)
	if s.desc.Name != "" {
		s.log = s.log.With(zap.String("profile", s.desc.Name))
	}

	return s, nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns copies of the current run and progress.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:    s.state,
		Run:      s.run.clone(),
		Progress: s.snapshot,
	}
}

// Start launches command with args. It returns nil without doing anything
// when a run is already active. Cancelling ctx stops the child the same
// way Stop does.
func (s *Supervisor) Start(ctx context.Context, command string, args []string) error {
	s.mu.Lock()
	if s.state != NotRunning {
		state := s.state
		s.mu.Unlock()
		s.log.Debug("start ignored, run in progress",
			zap.String("command", command),
			zap.Stringer("state", state))
		return nil
	}
	run := &ProcessRun{
		ID:      uuid.NewString(),
		Command: command,
		Args:    slices.Clone(args),
		State:   Starting,
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.state = Starting
	s.run = run
	s.cancel = cancel
	s.done = make(chan struct{})
	s.snapshot = progress.State{}
	s.mu.Unlock()

	for _, b := range s.buffers {
		b.Reset()
	}
	s.seq = 0
	s.agg.Reset()

	s.observer.OnStateChange(Starting)
	s.observer.OnProgress(0)

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Cancel = func() error {
		return s.terminate(cmd.Process.Pid)
	}
	cmd.WaitDelay = s.killGrace
	cmd.Dir = s.desc.Dir
	if len(s.desc.Env) > 0 {
		cmd.Env = append(os.Environ(), s.desc.Env...)
	}

	outputs, err := s.spawn(cmd)
	if err != nil {
		cancel()
		err = fmt.Errorf("start process: %w", err)
		s.log.Warn("spawn failed", zap.String("run_id", run.ID), zap.String("command", command), zap.Error(err))

		s.mu.Lock()
		s.state = NotRunning
		s.run = nil
		s.cancel = nil
		close(s.done)
		s.mu.Unlock()

		s.observer.OnStateChange(NotRunning)
		s.observer.OnError(err)
		return err
	}

	s.mu.Lock()
	run.State = Running
	run.PID = cmd.Process.Pid
	run.StartedAt = time.Now()
	s.state = Running
	s.mu.Unlock()

	s.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("command", command),
		zap.Strings("args", args),
		zap.Int("pid", run.PID))
	s.observer.OnStateChange(Running)

	events := make(chan event, eventQueueSize)
	quit := make(chan struct{})
	var exited atomic.Bool
	var readers sync.WaitGroup
	for _, out := range outputs {
		readers.Add(1)
		go s.read(out, &exited, events, quit, &readers)
	}
	go s.reap(cmd, outputs, &exited, &readers, events)
	go s.loop(cmd, run, events, quit, cancel)

	return nil
}

// output is one stream of the child as the parent reads it.
type output struct {
	ch progress.Channel
	f  *os.File
}

// spawn starts cmd and returns one output per channel.
func (s *Supervisor) spawn(cmd *exec.Cmd) ([]output, error) {
	if s.desc.PTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		return []output{{ch: progress.Out, f: ptmx}}, nil
	}

	// pty.Start puts the child in a new session; a pipe child gets its own
	// group so terminate reaches everything it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// The read ends stay open across Wait; reap closes them once drained.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	err = cmd.Start()
	outW.Close()
	errW.Close()
	if err != nil {
		outR.Close()
		errR.Close()
		return nil, err
	}
	return []output{
		{ch: progress.Out, f: outR},
		{ch: progress.Err, f: errR},
	}, nil
}

// reap waits for the child, then lets the readers drain until each stream
// hits EOF or stays silent for the drain grace, and queues the exit event
// last.
func (s *Supervisor) reap(cmd *exec.Cmd, outputs []output, exited *atomic.Bool, readers *sync.WaitGroup, events chan<- event) {
	err := cmd.Wait()
	exited.Store(true)

	bounded := true
	for _, out := range outputs {
		if out.f.SetReadDeadline(time.Now().Add(s.drainGrace)) != nil {
			bounded = false
		}
	}

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	if bounded {
		<-drained
	} else {
		select {
		case <-drained:
		case <-time.After(s.drainGrace):
			s.log.Debug("output still open after exit, finishing without it")
		}
	}

	for _, out := range outputs {
		out.f.Close()
	}
	events <- event{kind: eventExit, err: err}
}

// Stop asks the running child to terminate with SIGTERM and kills it if it
// is still alive after the kill grace. The run then finishes normally.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		s.log.Info("stopping run")
		cancel()
	}
}

// terminate sends SIGTERM to the process group led by pid and SIGKILL once
// the kill grace has passed without the run finishing.
func (s *Supervisor) terminate(pid int) error {
	s.mu.Lock()
	if s.killTimer == nil {
		s.killTimer = time.AfterFunc(s.killGrace, func() {
			s.log.Warn("kill grace expired, sending SIGKILL", zap.Int("pid", pid))
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
	}
	s.mu.Unlock()

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}

// Wait blocks until the current run, if any, is back to NotRunning.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type eventKind int

const (
	eventChunk eventKind = iota
	eventReadError
	eventExit
)

type event struct {
	kind eventKind
	ch   progress.Channel
	data []byte
	err  error
}

func (s *Supervisor) read(out output, exited *atomic.Bool, events chan<- event, quit <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	send := func(ev event) bool {
		select {
		case events <- ev:
			return true
		case <-quit:
			return false
		}
	}

	for {
		if exited.Load() {
			out.f.SetReadDeadline(time.Now().Add(s.drainGrace))
		}
		buf := make([]byte, ReadBufferSize)
		n, err := out.f.Read(buf)
		if n > 0 {
			if !send(event{kind: eventChunk, ch: out.ch, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			if !isEndOfStream(err) {
				send(event{kind: eventReadError, ch: out.ch, err: err})
			}
			return
		}
	}
}

// isEndOfStream treats the EIO a pty master returns after the child hung
// up, reads from an already closed pipe and an expired drain deadline like
// EOF.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EIO)
}

// loop is the single goroutine that parses output and calls the observer.
func (s *Supervisor) loop(cmd *exec.Cmd, run *ProcessRun, events <-chan event, quit chan<- struct{}, cancel context.CancelFunc) {
	defer cancel()
	defer close(quit)

	for ev := range events {
		switch ev.kind {
		case eventChunk:
			s.handleBatch(ev.ch, s.buffers[ev.ch].Feed(ev.data))
		case eventReadError:
			s.log.Warn("read output", zap.Stringer("channel", ev.ch), zap.Error(ev.err))
		case eventExit:
			s.finish(cmd, run, ev.err)
			return
		}
	}
}

func (s *Supervisor) handleBatch(ch progress.Channel, lines iter.Seq[string]) {
	var batch []string
	for line := range lines {
		if kept, ok := s.handleLine(ch, line); ok {
			batch = append(batch, kept)
		}
	}
	if vars := s.agg.Variables(batch); vars != nil {
		s.observer.OnVariables(vars)
	}
}

// handleLine returns the sanitized line and whether it was not skipped.
func (s *Supervisor) handleLine(ch progress.Channel, line string) (string, bool) {
	if s.desc.StripANSI {
		line = ansi.Sanitize(line)
	}
	if s.desc.SkipBlank && strings.TrimSpace(line) == "" {
		return line, false
	}

	entry := progress.LogEntry{Channel: ch, Raw: line}
	if s.matchesOn(ch) {
		var update int
		var ok bool
		update, ok, entry = s.agg.Observe(line, ch)
		if ok {
			s.setProgress(s.agg.State())
			s.observer.OnProgress(update)
		}
		if !s.agg.Keep(entry) {
			return line, true
		}
	}

	s.seq++
	entry.Sequence = s.seq
	s.log.Debug("line", zap.Stringer("channel", ch), zap.Int("seq", entry.Sequence), zap.String("raw", entry.Raw))
	s.observer.OnLogLine(entry)
	return line, true
}

func (s *Supervisor) matchesOn(ch progress.Channel) bool {
	return s.desc.ProgressChannel == nil || *s.desc.ProgressChannel == ch
}

func (s *Supervisor) setProgress(st progress.State) {
	s.mu.Lock()
	s.snapshot = st
	s.mu.Unlock()
}

func (s *Supervisor) finish(cmd *exec.Cmd, run *ProcessRun, waitErr error) {
	for ch, b := range s.buffers {
		s.handleBatch(progress.Channel(ch), b.Flush())
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) &&
		!errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
		s.log.Warn("wait for process", zap.String("run_id", run.ID), zap.Error(waitErr))
	}

	s.agg.Force(100)
	s.setProgress(s.agg.State())
	s.observer.OnProgress(100)

	now := time.Now()
	s.mu.Lock()
	run.State = Finished
	run.ExitCode = &exitCode
	run.EndedAt = &now
	s.state = Finished
	s.cancel = nil
	if s.killTimer != nil {
		s.killTimer.Stop()
		s.killTimer = nil
	}
	s.mu.Unlock()

	s.log.Info("run finished",
		zap.String("run_id", run.ID),
		zap.Int("exit_code", exitCode),
		zap.Duration("elapsed", now.Sub(run.StartedAt)),
		zap.Int("lines", s.seq))
	s.observer.OnStateChange(Finished)
	s.observer.OnFinished(exitCode)

	s.mu.Lock()
	s.state = NotRunning
	s.run = nil
	done := s.done
	s.mu.Unlock()

	s.observer.OnStateChange(NotRunning)
	close(done)
}
