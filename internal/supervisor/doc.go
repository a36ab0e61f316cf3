// Package supervisor runs one external tool at a time and turns its output
// into progress and log callbacks.
//
// A Supervisor owns the child process, one line buffer per output channel
// and the aggregator that applies the tool's patterns. Each run moves through
//
//	NotRunning -> Starting -> Running -> Finished -> NotRunning
//
// Calling Start while a run is active is ignored. All callbacks of a run are
// delivered from a single goroutine, so an Observer never sees two callbacks
// at once; lines of one channel arrive in the order the child wrote them.
//
// Completion always reports 100% progress, whatever the exit code. Use
// OnFinished to tell success from failure.
//
//	sup, err := supervisor.New(observer, supervisor.WithDescriptor(desc))
//	if err != nil {
//	    return err
//	}
//	if err := sup.Start(ctx, "7z", []string{"a", "-bsp2", "out.7z", "dir"}); err != nil {
//	    return err
//	}
//	return sup.Wait(ctx)
package supervisor
