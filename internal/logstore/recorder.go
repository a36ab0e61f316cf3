package logstore

import (
	"go.uber.org/zap"

	"github.com/schovi/qrun/internal/progress"
	"github.com/schovi/qrun/internal/supervisor"
)

// Recorder is a supervisor.Observer that writes the log feed to a Store.
// The store is reset whenever a new run starts. Store failures are logged
// and never stop the run.
type Recorder struct {
	supervisor.ObserverFuncs
	store Store
	log   *zap.Logger
}

func NewRecorder(store Store, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, log: log}
}

func (r *Recorder) OnStateChange(state supervisor.RunState) {
	if state != supervisor.Starting {
		return
	}
	if err := r.store.Reset(); err != nil {
		r.log.Warn("reset log store", zap.Error(err))
	}
}

func (r *Recorder) OnLogLine(entry progress.LogEntry) {
	if err := r.store.Append(entry); err != nil {
		r.log.Warn("append log entry", zap.Int("seq", entry.Sequence), zap.Error(err))
	}
}
