package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// behaviour scripts how a fake agent process reacts.
type behaviour struct {
	exitAfter    time.Duration // exits on its own after this delay; zero never
	code         int
	ignoreSignal bool
	ignoreKill   bool
	launchErr    error
}

type fakeHandle struct {
	pid int
	b   behaviour

	mu      sync.Mutex
	signals []SignalKind
	killed  bool

	once   sync.Once
	done   chan struct{}
	status ExitStatus
}

func newFakeHandle(pid int, b behaviour) *fakeHandle {
	h := &fakeHandle{pid: pid, b: b, done: make(chan struct{})}
	if b.exitAfter > 0 {
		time.AfterFunc(b.exitAfter, func() { h.exit(ExitStatus{Code: b.code}) })
	}
	return h
}

func (h *fakeHandle) exit(status ExitStatus) {
	h.once.Do(func() {
		h.status = status
		close(h.done)
	})
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Signal(kind SignalKind) error {
	h.mu.Lock()
	h.signals = append(h.signals, kind)
	h.mu.Unlock()
	if !h.b.ignoreSignal {
		go h.exit(ExitStatus{Code: 0})
	}
	return nil
}

func (h *fakeHandle) Wait(timeout time.Duration) (ExitStatus, bool) {
	if timeout <= 0 {
		<-h.done
		return h.status, true
	}
	select {
	case <-h.done:
		return h.status, true
	case <-time.After(timeout):
		return ExitStatus{}, false
	}
}

func (h *fakeHandle) ForceKill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	if !h.b.ignoreKill {
		go h.exit(ExitStatus{Code: -1, Signal: "signal: killed"})
	}
	return nil
}

func (h *fakeHandle) snapshot() ([]SignalKind, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SignalKind(nil), h.signals...), h.killed
}

type fakeLauncher struct {
	behaviours map[string]behaviour

	mu      sync.Mutex
	order   []string
	at      []time.Time
	handles map[string]*fakeHandle
}

func newFakeLauncher(behaviours map[string]behaviour) *fakeLauncher {
	return &fakeLauncher{behaviours: behaviours, handles: make(map[string]*fakeHandle)}
}

func (l *fakeLauncher) Launch(_ context.Context, spec Spec) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, spec.Name)
	l.at = append(l.at, time.Now())
	b := l.behaviours[spec.Name]
	if b.launchErr != nil {
		return nil, b.launchErr
	}
	h := newFakeHandle(1000+len(l.order), b)
	l.handles[spec.Name] = h
	return h, nil
}

func (l *fakeLauncher) handle(name string) *fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[name]
}

func (l *fakeLauncher) launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// recorder collects transitions in the order they were observed.
type recorder struct {
	mu  sync.Mutex
	all []Transition
}

func (r *recorder) Observe(t Transition) {
	r.mu.Lock()
	r.all = append(r.all, t)
	r.mu.Unlock()
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.all...)
}

func specs(names ...string) []Spec {
	out := make([]Spec, 0, len(names))
	for _, n := range names {
		out = append(out, Spec{Name: n, Command: []string{"agent", n}})
	}
	return out
}

var errNoBinary = errors.New("exec: \"argos-agent\": executable file not found in $PATH")
