package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Majboor/smart-presentation-builder/pkg/entitlement"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestPrometheusMetrics_RecordStoreOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStoreOperation("list", 10*time.Millisecond, nil)
	metrics.RecordStoreOperation("insert", 20*time.Millisecond, errors.New("boom"))

	durations := findMetric(t, reg, "test_store_operation_duration_seconds")
	if durations == nil || len(durations.GetMetric()) != 2 {
		t.Fatalf("Expected two duration series, got %+v", durations)
	}

	errs := findMetric(t, reg, "test_store_operation_errors_total")
	if errs == nil || len(errs.GetMetric()) != 1 {
		t.Fatalf("Expected one error series, got %+v", errs)
	}
	if got := errs.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func TestPrometheusMetrics_RecordDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordDecision(entitlement.StatusFree, true)
	metrics.RecordDecision(entitlement.StatusFree, false)
	metrics.RecordDecision(entitlement.StatusFree, false)

	decisions := findMetric(t, reg, "test_entitlement_decisions_total")
	if decisions == nil {
		t.Fatal("Expected decision metrics to be recorded")
	}
	total := 0.0
	for _, m := range decisions.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("Expected 3 decisions, got %v", total)
	}
}

func TestPrometheusMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordFallback()
	metrics.RecordCreateConflict()
	metrics.RecordCreateConflict()
	metrics.RecordCircuitBreakerStateChange("open")

	if f := findMetric(t, reg, "test_fallback_records_total"); f == nil ||
		f.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("Expected 1 fallback, got %+v", f)
	}
	if f := findMetric(t, reg, "test_create_conflicts_total"); f == nil ||
		f.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Errorf("Expected 2 conflicts, got %+v", f)
	}
	if f := findMetric(t, reg, "test_circuit_breaker_state_changes_total"); f == nil {
		t.Error("Expected circuit breaker metrics to be recorded")
	}
}
