package supervisor

import (
	"context"
	"fmt"
	"time"
)

// SignalKind selects how a process is asked to stop.
type SignalKind int

// SignalTerminate asks the process to shut down gracefully (SIGTERM).
const SignalTerminate SignalKind = iota

func (k SignalKind) String() string {
	if k == SignalTerminate {
		return "terminate"
	}
	return fmt.Sprintf("signal(%d)", int(k))
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int
	// Signal names the terminating signal, if any.
	Signal string
	// Err carries a wait error unrelated to the exit code.
	Err error
}

// Success reports a clean zero exit.
func (s ExitStatus) Success() bool { return s.Code == 0 && s.Err == nil }

// Handle controls one launched process.
type Handle interface {
	PID() int
	// Signal delivers a graceful stop request.
	Signal(kind SignalKind) error
	// Wait blocks until the process exits or timeout elapses. A timeout <= 0
	// waits indefinitely. The boolean is false when the process is still alive.
	Wait(timeout time.Duration) (ExitStatus, bool)
	// ForceKill terminates the process without giving it a chance to clean up.
	ForceKill() error
}

// Spec is everything needed to start one agent.
type Spec struct {
	Name    string
	Command []string
	Env     []string
	Dir     string
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}
