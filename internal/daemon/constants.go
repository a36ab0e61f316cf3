package daemon

import "time"

const (
	SocketName         = "qrun.sock"
	ClientDeadline     = 30 * time.Second
	DaemonStartTimeout = 5 * time.Second
	DaemonPollInterval = 100 * time.Millisecond
	ShutdownTimeout    = 10 * time.Second

	ActionPing   = "ping"
	ActionStart  = "start"
	ActionStatus = "status"
	ActionRead   = "read"
	ActionStop   = "stop"
)
