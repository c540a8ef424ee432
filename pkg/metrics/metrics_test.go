package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return 0
}

func TestRecordDropCreated(t *testing.T) {
	before := counterValue(t, dropsCreated.WithLabelValues("file"))
	RecordDropCreated("file")
	after := counterValue(t, dropsCreated.WithLabelValues("file"))
	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordAppExecution(t *testing.T) {
	RecordAppExecution("barrier", "finished", 5*time.Millisecond)
	v := counterValue(t, appExecutions.WithLabelValues("barrier", "finished"))
	if v < 1 {
		t.Fatalf("expected at least 1 recorded execution, got %v", v)
	}
}

func TestRecordFanoutTracksCount(t *testing.T) {
	before := FanoutCount("deploy")
	RecordFanout("deploy", 10*time.Millisecond)
	if got := FanoutCount("deploy"); got != before+1 {
		t.Fatalf("expected fanout count to increment, got %d -> %d", before, got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "dfms_drop_created_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dfms_drop_created_total to be registered")
	}
}
