package metrics

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
)

func TestCounterVecConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Alerts.Inc("temperature", "HIGH")
		}()
	}
	wg.Wait()

	if got := m.Alerts.Value("temperature", "HIGH"); got != 50 {
		t.Errorf("alerts = %d, want 50", got)
	}
	if got := m.Alerts.Value("aqi", "HIGH"); got != 0 {
		t.Errorf("unseen series = %d, want 0", got)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	m := New()
	at := time.Date(2024, 7, 1, 6, 0, 0, 0, time.UTC)
	m.RunFinished("", at)
	m.RunFinished("preprocess", at)
	m.Notified("email", true)
	m.Notified("sms", false)
	m.ReadingsStored.Add(4)

	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, buf.String())
	}

	runs := mfs["climate_pipeline_runs_total"]
	if runs == nil || len(runs.GetMetric()) != 2 {
		t.Fatalf("runs family = %v", runs)
	}
	if v := mfs["climate_pipeline_stage_failures_total"].GetMetric()[0]; v.GetLabel()[0].GetValue() != "preprocess" {
		t.Errorf("stage label = %q", v.GetLabel()[0].GetValue())
	}
	if got := mfs["climate_readings_stored_total"].GetMetric()[0].GetCounter().GetValue(); got != 4 {
		t.Errorf("readings = %v, want 4", got)
	}
	if got := mfs["climate_pipeline_last_run_timestamp_seconds"].GetMetric()[0].GetGauge().GetValue(); got != float64(at.Unix()) {
		t.Errorf("last run = %v", got)
	}
	if _, ok := mfs["climate_alerts_total"]; ok {
		t.Error("empty vector should be omitted")
	}
	if !m.LastRun().Equal(at) {
		t.Errorf("LastRun = %v", m.LastRun())
	}
}
