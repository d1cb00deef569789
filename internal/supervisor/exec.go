package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	xerrors "Argos-Oracle/internal/errors"
)

// ExecLauncher runs agents as child processes of the supervisor. Children
// inherit the supervisor environment plus Spec.Env, and share its stdout and
// stderr unless overridden.
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Launch implements Launcher. The child is not bound to ctx; the supervisor
// stops it through Signal and ForceKill.
func (l *ExecLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return nil, xerrors.New(xerrors.CodeLaunchFailure, fmt.Sprintf("代理 %s 没有启动命令", spec.Name))
	}
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	cmd.Stdout = l.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLaunchFailure, err, fmt.Sprintf("启动代理 %s 失败", spec.Name),
			xerrors.WithMetadata("command", spec.Command[0]))
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go h.reap()
	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	done   chan struct{}
	status ExitStatus
}

func (h *execHandle) reap() {
	err := h.cmd.Wait()
	h.status = exitStatusOf(h.cmd.ProcessState, err)
	close(h.done)
}

func exitStatusOf(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	status := ExitStatus{Code: state.ExitCode()}
	if status.Code == -1 {
		status.Signal = state.String()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}
	return status
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Signal delivers SIGTERM, the only stop request agents handle.
func (h *execHandle) Signal(SignalKind) error {
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (h *execHandle) Wait(timeout time.Duration) (ExitStatus, bool) {
	if timeout <= 0 {
		<-h.done
		return h.status, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.status, true
	case <-timer.C:
		return ExitStatus{}, false
	}
}

func (h *execHandle) ForceKill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
