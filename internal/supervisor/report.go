package supervisor

import (
	"context"
	"log/slog"
	"time"

	xerrors "Argos-Oracle/internal/errors"
	"Argos-Oracle/internal/ledger"
)

// AgentReport is the terminal outcome of one agent.
type AgentReport struct {
	Name       string
	State      State
	Launched   bool
	PID        int
	ExitCode   int
	Signal     string
	Forced     bool
	Err        error
	LaunchedAt time.Time
	EndedAt    time.Time
	// Submission is the agent's newest ledger entry for this run, if any.
	Submission *ledger.Entry
}

// Failed reports whether the agent did not finish cleanly on its own.
// Agents stopped by an interrupt are not failures.
func (r AgentReport) Failed() bool {
	if r.Err != nil {
		return true
	}
	return r.State == StateExited && r.ExitCode != 0
}

// LogValue implements slog.LogValuer.
func (r AgentReport) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("agent", r.Name),
		slog.String("state", r.State.String()),
		slog.Bool("launched", r.Launched),
		slog.Int("exit_code", r.ExitCode),
		slog.Bool("forced", r.Forced),
	}
	if r.PID > 0 {
		attrs = append(attrs, slog.Int("pid", r.PID))
	}
	if r.Signal != "" {
		attrs = append(attrs, slog.String("signal", r.Signal))
	}
	if !r.LaunchedAt.IsZero() && !r.EndedAt.IsZero() {
		attrs = append(attrs, slog.Duration("runtime", r.EndedAt.Sub(r.LaunchedAt)))
	}
	if r.Err != nil {
		attrs = append(attrs,
			slog.String("error_kind", string(xerrors.CodeOf(r.Err))),
			slog.String("error", r.Err.Error()))
	}
	if sub := r.Submission; sub != nil {
		attrs = append(attrs, slog.Group("submission",
			slog.String("status", string(sub.Status)),
			slog.String("tx_hash", sub.TxHash),
			slog.Uint64("nonce", sub.Nonce),
			slog.Bool("confirmed", sub.Confirmed)))
	}
	return slog.GroupValue(attrs...)
}

// Summary aggregates the per-agent outcomes.
type Summary struct {
	Total       int
	Launched    int
	Exited      int
	Terminated  int
	Forced      int
	Failed      int
	NotLaunched int
}

// Report is produced once every managed process is terminal.
type Report struct {
	Agents  []AgentReport
	Summary Summary
}

func (s *Supervisor) report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Report{Agents: make([]AgentReport, 0, len(s.procs))}
	for _, p := range s.procs {
		ar := AgentReport{
			Name:       p.spec.Name,
			State:      p.state,
			Launched:   p.handle != nil,
			ExitCode:   p.status.Code,
			Signal:     p.status.Signal,
			Forced:     p.forced,
			Err:        p.err,
			LaunchedAt: p.launchedAt,
			EndedAt:    p.endedAt,
		}
		if p.handle != nil {
			ar.PID = p.handle.PID()
		}
		if ar.Err == nil && p.status.Err != nil {
			ar.Err = p.status.Err
		}
		r.Agents = append(r.Agents, ar)

		r.Summary.Total++
		if ar.Launched {
			r.Summary.Launched++
		} else {
			r.Summary.NotLaunched++
		}
		switch ar.State {
		case StateExited:
			r.Summary.Exited++
		case StateTerminated:
			r.Summary.Terminated++
		}
		if ar.Forced {
			r.Summary.Forced++
		}
		if ar.Failed() {
			r.Summary.Failed++
		}
	}
	return r
}

// Agent returns the report for name.
func (r *Report) Agent(name string) (AgentReport, bool) {
	for _, a := range r.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentReport{}, false
}

// AttachSubmissions sets each agent's ledger entry from latest, keyed by
// agent name. Agents without an entry keep a nil Submission.
func (r *Report) AttachSubmissions(latest map[string]ledger.Entry) {
	for i := range r.Agents {
		if entry, ok := latest[r.Agents[i].Name]; ok {
			r.Agents[i].Submission = &entry
		}
	}
}

// Log writes one line per agent and a closing summary line.
func (r *Report) Log(l *slog.Logger) {
	for _, a := range r.Agents {
		level := slog.LevelInfo
		if a.Failed() || a.Forced {
			level = slog.LevelWarn
		}
		l.Log(context.Background(), level, "agent outcome", slog.Any("outcome", a))
	}
	r.LogSummary(l)
}

// LogSummary writes only the aggregate counts.
func (r *Report) LogSummary(l *slog.Logger) {
	l.Info("supervisor summary",
		slog.Int("agents", r.Summary.Total),
		slog.Int("launched", r.Summary.Launched),
		slog.Int("exited", r.Summary.Exited),
		slog.Int("terminated", r.Summary.Terminated),
		slog.Int("forced", r.Summary.Forced),
		slog.Int("failed", r.Summary.Failed),
		slog.Int("not_launched", r.Summary.NotLaunched))
}
