package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordsRunsAndItems(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	job := "pending-purchase-reconcile"
	m.ObserveRun(job, 250*time.Millisecond, nil)
	m.ObserveRun(job, 100*time.Millisecond, errors.New("gateway down"))
	m.AddItems(job, "settled", 3)
	m.AddItems(job, "settled", 0)

	mfs := gather(t, reg)
	if got := sampleValue(t, mfs, "cron_job_runs_total", "result", "success"); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
	if got := sampleValue(t, mfs, "cron_job_runs_total", "result", "failure"); got != 1 {
		t.Fatalf("expected one failure, got %f", got)
	}
	if got := sampleValue(t, mfs, "cron_job_items_total", "outcome", "settled"); got != 3 {
		t.Fatalf("expected items=3, got %f", got)
	}
	if got := sampleValue(t, mfs, "cron_job_duration_seconds", "job", job); got < 0.35 {
		t.Fatalf("expected duration sum of both runs, got %f", got)
	}
	if got := sampleValue(t, mfs, "cron_job_last_success_timestamp_seconds", "job", job); got <= 0 {
		t.Fatalf("expected last success timestamp, got %f", got)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var nilMetrics *CronJobMetrics
	nilMetrics.ObserveRun("job", time.Second, nil)
	nilMetrics.AddItems("job", "settled", 1)

	unregistered := NewCronJobMetrics(nil)
	unregistered.ObserveRun("job", time.Second, errors.New("x"))
	unregistered.AddItems("job", "settled", 1)
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

// sampleValue returns the counter or gauge value, or the histogram sum, of
// the first series carrying label=value.
func sampleValue(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if !hasLabel(metric.GetLabel(), label, value) {
				continue
			}
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				return metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				return metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				return metric.GetHistogram().GetSampleSum()
			}
		}
		t.Fatalf("metric %q has no series with %s=%s", name, label, value)
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func hasLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
