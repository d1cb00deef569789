package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Argos-Oracle/internal/supervisor"
)

func TestObserveTracksStateAndExits(t *testing.T) {
	m := NewSupervisor()

	m.Observe(supervisor.Transition{Agent: "alpha", From: supervisor.StatePending, To: supervisor.StateLaunching, ExitCode: -1})
	m.Observe(supervisor.Transition{Agent: "alpha", From: supervisor.StateLaunching, To: supervisor.StateRunning, ExitCode: -1})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("alpha", "running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("alpha", "launching")))

	m.Observe(supervisor.Transition{Agent: "alpha", From: supervisor.StateRunning, To: supervisor.StateExited, ExitCode: 4})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exits.WithLabelValues("alpha", "4")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("alpha", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("alpha", "exited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("alpha", "exited")))
}

func TestObserveCountsForcedKills(t *testing.T) {
	m := NewSupervisor()

	m.Observe(supervisor.Transition{Agent: "stubborn", From: supervisor.StateSignaled, To: supervisor.StateTerminating, ExitCode: -1})
	m.Observe(supervisor.Transition{Agent: "stubborn", From: supervisor.StateTerminating, To: supervisor.StateTerminated, ExitCode: -1, Forced: true})
	m.Observe(supervisor.Transition{Agent: "polite", From: supervisor.StateSignaled, To: supervisor.StateTerminated, ExitCode: 0})
	m.Observe(supervisor.Transition{Agent: "late", From: supervisor.StatePending, To: supervisor.StateTerminated, ExitCode: -1})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.forced.WithLabelValues("stubborn")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.forced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.exits.WithLabelValues("polite", "0")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.exits), "never-launched agents have no exit")
}

func TestHandlerServesPrometheusText(t *testing.T) {
	m := NewSupervisor()
	m.Observe(supervisor.Transition{Agent: "alpha", From: supervisor.StateRunning, To: supervisor.StateExited, ExitCode: 0})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `argos_agent_exits_total{agent="alpha",code="0"} 1`)
	assert.Contains(t, body, `argos_agent_state{agent="alpha",state="exited"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestStartServerStopsWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := NewSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, addr, m.Handler()) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		body = string(raw)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(body, "# TYPE"))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStartServerRequiresAddress(t *testing.T) {
	assert.Error(t, StartServer(context.Background(), "", NewSupervisor().Handler()))
}
