package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/pkg/logger"
)

const (
	defaultStagger     = 2 * time.Second
	defaultGracePeriod = 5 * time.Second
	// defaultKillWait bounds how long a force-killed process may take to be reaped.
	defaultKillWait = 5 * time.Second
)

// Transition is emitted every time a managed process changes state.
type Transition struct {
	Agent    string
	From     State
	To       State
	At       time.Time
	PID      int
	ExitCode int
	Forced   bool
}

// Observer receives transitions from the control loop. Calls happen on the
// supervisor goroutine, in order.
type Observer interface {
	Observe(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

// Observe implements Observer.
func (f ObserverFunc) Observe(t Transition) { f(t) }

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithStagger sets the delay between consecutive launches.
func WithStagger(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.stagger = d
		}
	}
}

// WithGracePeriod sets how long signaled processes may take to exit on their own.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithKillWait bounds the wait for a force-killed process to be reaped.
func WithKillWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killWait = d
		}
	}
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) {
		if now != nil {
			s.now = now
		}
	}
}

// Supervisor launches agents as isolated processes and drives them to a
// terminal state.
type Supervisor struct {
	launcher  Launcher
	specs     []Spec
	stagger   time.Duration
	grace     time.Duration
	killWait  time.Duration
	observers []Observer
	log       *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	procs []*process
	ran   bool
}

// process is the supervisor-owned record for one agent.
type process struct {
	spec       Spec
	state      State
	handle     Handle
	status     ExitStatus
	exited     bool
	forced     bool
	err        error
	launchedAt time.Time
	endedAt    time.Time
}

type exitEvent struct {
	proc   *process
	status ExitStatus
}

// New builds a Supervisor for the given agents, launched in slice order.
func New(launcher Launcher, specs []Spec, opts ...Option) (*Supervisor, error) {
	if launcher == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "缺少进程启动器")
	}
	if len(specs) == 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置任何代理")
	}
	s := &Supervisor{
		launcher: launcher,
		specs:    append([]Spec(nil), specs...),
		stagger:  defaultStagger,
		grace:    defaultGracePeriod,
		killWait: defaultKillWait,
		log:      logger.Named("supervisor"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.procs = make([]*process, len(s.specs))
	for i, spec := range s.specs {
		s.procs[i] = &process{spec: spec, state: StatePending, status: ExitStatus{Code: -1}}
	}
	return s, nil
}

// Run launches every agent with the configured stagger and blocks until all
// of them reach a terminal state. Cancelling ctx is the interrupt: running
// agents are asked to stop, and those still alive after the grace period are
// killed. The report is only produced once every process is terminal.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeConfiguration, "supervisor 只能运行一次")
	}
	s.ran = true
	s.mu.Unlock()

	events := make(chan exitEvent, len(s.procs))
	interrupted := false

	for i, p := range s.procs {
		if i > 0 && s.stagger > 0 {
			if !s.pause(ctx, events, s.stagger) {
				interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		s.launch(ctx, p, events)
	}

	if !interrupted {
		interrupted = !s.join(ctx, events)
	}
	if interrupted {
		s.log.Info("收到中断信号，开始停止代理", slog.Duration("grace_period", s.grace))
		s.shutdown(events)
	}
	return s.report(), nil
}

// Snapshot returns the current state of every agent in launch order.
func (s *Supervisor) Snapshot() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.procs))
	for _, p := range s.procs {
		out[p.spec.Name] = p.state
	}
	return out
}

func (s *Supervisor) launch(ctx context.Context, p *process, events chan<- exitEvent) {
	s.transition(p, StateLaunching)
	handle, err := s.launcher.Launch(ctx, p.spec)
	if err != nil {
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeLaunchFailure, err, fmt.Sprintf("启动代理 %s 失败", p.spec.Name))
		}
		s.mu.Lock()
		p.err = err
		s.mu.Unlock()
		s.log.Error("代理启动失败", slog.String("agent", p.spec.Name), slog.Any("error", err))
		s.transition(p, StateExited)
		return
	}

	s.mu.Lock()
	p.handle = handle
	p.launchedAt = s.now()
	s.mu.Unlock()
	s.transition(p, StateRunning)

	go func() {
		status, _ := handle.Wait(0)
		events <- exitEvent{proc: p, status: status}
	}()
}

// pause sleeps for d while still reaping exits. It returns false when ctx is
// cancelled first.
func (s *Supervisor) pause(ctx context.Context, events <-chan exitEvent, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			s.reap(ev)
		case <-timer.C:
			return true
		}
	}
}

// join waits for every launched process. It returns false when ctx is
// cancelled while some are still running.
func (s *Supervisor) join(ctx context.Context, events <-chan exitEvent) bool {
	for s.count(StateRunning) > 0 {
		select {
		case <-ctx.Done():
			return false
		case ev := <-events:
			s.reap(ev)
		}
	}
	return true
}

func (s *Supervisor) shutdown(events <-chan exitEvent) {
	for _, p := range s.procs {
		switch s.stateOf(p) {
		case StatePending:
			s.transition(p, StateTerminated)
		case StateRunning:
			s.transition(p, StateSignaled)
			if err := p.handle.Signal(SignalTerminate); err != nil {
				s.log.Warn("发送终止信号失败", slog.String("agent", p.spec.Name), slog.Any("error", err))
			}
		}
	}

	if !s.drain(events, StateSignaled, s.grace) {
		for _, p := range s.procs {
			if s.stateOf(p) != StateSignaled {
				continue
			}
			s.transition(p, StateTerminating)
			s.log.Warn("代理未在宽限期内退出，强制终止",
				slog.String("agent", p.spec.Name),
				slog.Int("pid", p.handle.PID()),
				slog.Duration("grace_period", s.grace))
			if err := p.handle.ForceKill(); err != nil {
				s.log.Error("强制终止失败", slog.String("agent", p.spec.Name), slog.Any("error", err))
			}
		}
	}

	if !s.drain(events, StateTerminating, s.killWait) {
		// Kill issued, exit never observed.
		for _, p := range s.procs {
			if s.stateOf(p) == StateTerminating {
				s.log.Error("强制终止后未观察到退出", slog.String("agent", p.spec.Name))
				s.transition(p, StateTerminated)
			}
		}
	}
}

// drain reaps exits until no process is left in state or the timeout elapses.
func (s *Supervisor) drain(events <-chan exitEvent, state State, timeout time.Duration) bool {
	if s.count(state) == 0 {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for s.count(state) > 0 {
		select {
		case ev := <-events:
			s.reap(ev)
		case <-timer.C:
			return false
		}
	}
	return true
}

func (s *Supervisor) reap(ev exitEvent) {
	p := ev.proc
	s.mu.Lock()
	p.status = ev.status
	p.exited = true
	state := p.state
	s.mu.Unlock()

	switch state {
	case StateRunning:
		s.transition(p, StateExited)
	case StateSignaled, StateTerminating:
		s.transition(p, StateTerminated)
	}
}

func (s *Supervisor) transition(p *process, to State) {
	s.mu.Lock()
	from := p.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.log.Error("非法状态迁移",
			slog.String("agent", p.spec.Name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		return
	}
	p.state = to
	if from == StateTerminating {
		p.forced = true
	}
	if to.Terminal() {
		p.endedAt = s.now()
	}
	t := Transition{
		Agent:    p.spec.Name,
		From:     from,
		To:       to,
		At:       s.now(),
		ExitCode: p.status.Code,
		Forced:   p.forced,
	}
	if p.handle != nil {
		t.PID = p.handle.PID()
	}
	s.mu.Unlock()

	s.log.Info("代理状态变更",
		slog.String("agent", t.Agent),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Int("pid", t.PID))
	for _, o := range s.observers {
		o.Observe(t)
	}
}

func (s *Supervisor) stateOf(p *process) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.state
}

func (s *Supervisor) count(state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.procs {
		if p.state == state {
			n++
		}
	}
	return n
}
