package supervisor

import "github.com/schovi/qrun/internal/progress"

// Observer receives everything a run produces. Implementations must not
// block for long: callbacks run on the goroutine that parses the output.
type Observer interface {
	OnStateChange(state RunState)
	OnProgress(percent int)
	OnLogLine(entry progress.LogEntry)
	OnVariables(vars map[string]string)
	// OnFinished reports the exit code of the child, or -1 when it was
	// killed by a signal.
	OnFinished(exitCode int)
	OnError(err error)
}

// ObserverFuncs adapts a set of optional functions to Observer.
type ObserverFuncs struct {
	StateChange func(RunState)
	Progress    func(int)
	LogLine     func(progress.LogEntry)
	Variables   func(map[string]string)
	Finished    func(int)
	Error       func(error)
}

func (f ObserverFuncs) OnStateChange(state RunState) {
	if f.StateChange != nil {
		f.StateChange(state)
	}
}

func (f ObserverFuncs) OnProgress(percent int) {
	if f.Progress != nil {
		f.Progress(percent)
	}
}

func (f ObserverFuncs) OnLogLine(entry progress.LogEntry) {
	if f.LogLine != nil {
		f.LogLine(entry)
	}
}

func (f ObserverFuncs) OnVariables(vars map[string]string) {
	if f.Variables != nil {
		f.Variables(vars)
	}
}

func (f ObserverFuncs) OnFinished(exitCode int) {
	if f.Finished != nil {
		f.Finished(exitCode)
	}
}

func (f ObserverFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Multi fans callbacks out to several observers in order.
type Multi []Observer

func (m Multi) OnStateChange(state RunState) {
	for _, o := range m {
		o.OnStateChange(state)
	}
}

func (m Multi) OnProgress(percent int) {
	for _, o := range m {
		o.OnProgress(percent)
	}
}

func (m Multi) OnLogLine(entry progress.LogEntry) {
	for _, o := range m {
		o.OnLogLine(entry)
	}
}

func (m Multi) OnVariables(vars map[string]string) {
	for _, o := range m {
		o.OnVariables(vars)
	}
}

func (m Multi) OnFinished(exitCode int) {
	for _, o := range m {
		o.OnFinished(exitCode)
	}
}

func (m Multi) OnError(err error) {
	for _, o := range m {
		o.OnError(err)
	}
}
