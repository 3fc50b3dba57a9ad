package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersAndCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.Update("new_message")
	m.Update("new_message")
	m.Gap()

	if got := testutil.ToFloat64(m.UpdatesApplied.WithLabelValues("new_message")); got != 2 {
		t.Fatalf("updates_applied_total{kind=new_message}=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.SeqGaps); got != 1 {
		t.Fatalf("seq_gaps_total=%v want=1", got)
	}

	if _, err := New(reg); err == nil {
		t.Fatalf("second New on same registry: want duplicate registration error")
	}
}

func TestNilMetrics_NoPanic(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Update("x")
	m.Gap()
	m.History("cache")
	m.Pending("sent")
	m.Mirror("put")
	m.RPC("m", "ok")
	m.Retry()
	m.Reload()
	m.SetDialogs(3)
}
