package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Argos-Oracle/internal/supervisor"
)

const namespace = "argos"

// Supervisor exposes agent lifecycle metrics. It implements
// supervisor.Observer.
type Supervisor struct {
	registry    *prometheus.Registry
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	exits       *prometheus.CounterVec
	forced      *prometheus.CounterVec
}

// NewSupervisor creates the collectors on a private registry together with
// the standard Go and process collectors.
func NewSupervisor() *Supervisor {
	m := &Supervisor{
		registry: prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_state",
			Help:      "Current lifecycle state of each agent process (1 for the active state).",
		}, []string{"agent", "state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_transitions_total",
			Help:      "State transitions observed per agent.",
		}, []string{"agent", "to"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_exits_total",
			Help:      "Agent process exits by exit code.",
		}, []string{"agent", "code"}),
		forced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_forced_kills_total",
			Help:      "Agents killed after the grace period elapsed.",
		}, []string{"agent"}),
	}
	m.registry.MustRegister(
		m.state, m.transitions, m.exits, m.forced,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements supervisor.Observer.
func (m *Supervisor) Observe(t supervisor.Transition) {
	for _, s := range supervisor.States {
		value := 0.0
		if s == t.To {
			value = 1
		}
		m.state.WithLabelValues(t.Agent, s.String()).Set(value)
	}
	m.transitions.WithLabelValues(t.Agent, t.To.String()).Inc()

	// Pending agents that were never launched have no exit to count.
	if t.To == supervisor.StateExited || (t.To == supervisor.StateTerminated && t.From != supervisor.StatePending) {
		m.exits.WithLabelValues(t.Agent, strconv.Itoa(t.ExitCode)).Inc()
	}
	if t.To == supervisor.StateTerminated && t.Forced {
		m.forced.WithLabelValues(t.Agent).Inc()
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Supervisor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics
// endpoint until ctx is cancelled.
func StartServer(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
