package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// readCounter extracts the current value of a single-series counter by
// writing it into a client_model.Metric, the same plumbing Prometheus uses
// internally before encoding the exposition format.
func readCounter(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestLLMCostUSD_Accumulates(t *testing.T) {
	counter := LLMCostUSD.WithLabelValues("test-backend", "test-model")
	before := readCounter(t, counter)

	counter.Add(0.0042)
	counter.Add(0.0008)

	got := readCounter(t, counter)
	if want := before + 0.005; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("LLMCostUSD = %v, want ~%v", got, want)
	}
}

func TestSynthesisBuildFailuresTotal_Increments(t *testing.T) {
	before := readCounter(t, SynthesisBuildFailuresTotal)
	SynthesisBuildFailuresTotal.Inc()
	if got := readCounter(t, SynthesisBuildFailuresTotal); got != before+1 {
		t.Fatalf("SynthesisBuildFailuresTotal = %v, want %v", got, before+1)
	}
}
