package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveTick(time.Millisecond)
	m.CountObservation("matched")
	m.CountEvent("created", 1)
	m.SetPopulation(1, 2, 3, 4)
	m.PersistFailed()
	m.ObservePlugin("p", "ok", time.Millisecond)
	m.PluginSkippedWith("p", "in_flight")
	m.InFlight(1)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTick(10 * time.Millisecond)
	m.ObserveTick(20 * time.Millisecond)
	if got := testutil.ToFloat64(m.Ticks); got != 2 {
		t.Errorf("ticks = %v, want 2", got)
	}

	m.CountEvent("created", 3)
	m.CountEvent("created", 0)
	if got := testutil.ToFloat64(m.IdentityEvents.WithLabelValues("created")); got != 3 {
		t.Errorf("created events = %v, want 3", got)
	}

	m.SetPopulation(4, 7, 2, 5)
	if got := testutil.ToFloat64(m.Identities.WithLabelValues("lost")); got != 7 {
		t.Errorf("lost gauge = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.Candidates); got != 5 {
		t.Errorf("candidates gauge = %v, want 5", got)
	}

	m.ObservePlugin("emotion_api", "error", 0)
	if got := testutil.ToFloat64(m.PluginRuns.WithLabelValues("emotion_api", "error")); got != 1 {
		t.Errorf("plugin runs = %v, want 1", got)
	}

	m.InFlight(2)
	m.InFlight(-1)
	if got := testutil.ToFloat64(m.PluginInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	New(reg)
}
