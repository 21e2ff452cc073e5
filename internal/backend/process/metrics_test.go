package process

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsRegistered(t *testing.T) {
	// If any metric were not registered, Gather would not include it.
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	expected := []string{
		"modelrunner_process_start_seconds",
		"modelrunner_process_active",
		"modelrunner_process_requests_total",
	}

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}

	for _, name := range expected {
		if !found[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRequestsTotalPreinitialized(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var family *dto.MetricFamily
	for _, fam := range families {
		if fam.GetName() == "modelrunner_process_requests_total" {
			family = fam
			break
		}
	}
	if family == nil {
		t.Fatal("requests_total metric family not found")
	}

	want := len(requestTypes) * 3
	if len(family.GetMetric()) < want {
		t.Errorf("expected at least %d metric series, got %d", want, len(family.GetMetric()))
	}
}

func TestActiveProcessesGauge(t *testing.T) {
	activeProcesses.Set(0)
	activeProcesses.Inc()
	activeProcesses.Inc()
	activeProcesses.Dec()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "modelrunner_process_active" {
			if v := fam.GetMetric()[0].GetGauge().GetValue(); v != 1 {
				t.Errorf("active gauge = %f, want 1", v)
			}
			activeProcesses.Set(0)
			return
		}
	}
	t.Fatal("active gauge not found")
}
