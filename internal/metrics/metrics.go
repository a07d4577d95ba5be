// Package metrics keeps process counters for the pipeline and renders them in
// the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/atomic"
)

// ContentType is the value for the Content-Type header of Write output.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

type series struct {
	labels []string
	value  *atomic.Int64
}

// CounterVec is a counter partitioned by a fixed set of label names.
type CounterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	series map[string]*series
}

func newCounterVec(name, help string, labels ...string) *CounterVec {
	return &CounterVec{name: name, help: help, labels: labels, series: make(map[string]*series)}
}

// Add increments the series identified by values, which must match the
// vector's label names in number and order.
func (v *CounterVec) Add(n int64, values ...string) {
	if len(values) != len(v.labels) {
		panic(fmt.Sprintf("metrics: %s expects %d label values, got %d", v.name, len(v.labels), len(values)))
	}
	key := strings.Join(values, "\xff")

	v.mu.Lock()
	s, ok := v.series[key]
	if !ok {
		s = &series{labels: append([]string(nil), values...), value: atomic.NewInt64(0)}
		v.series[key] = s
	}
	v.mu.Unlock()

	s.value.Add(n)
}

// Inc is Add(1, values...).
func (v *CounterVec) Inc(values ...string) { v.Add(1, values...) }

// Value returns the current count for values, or 0 when never incremented.
func (v *CounterVec) Value(values ...string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.series[strings.Join(values, "\xff")]; ok {
		return s.value.Load()
	}
	return 0
}

func (v *CounterVec) family() *dto.MetricFamily {
	v.mu.Lock()
	keys := make([]string, 0, len(v.series))
	for k := range v.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: ptr(v.name),
		Help: ptr(v.help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		s := v.series[k]
		m := &dto.Metric{Counter: &dto.Counter{Value: ptr(float64(s.value.Load()))}}
		for i, name := range v.labels {
			m.Label = append(m.Label, &dto.LabelPair{Name: ptr(name), Value: ptr(s.labels[i])})
		}
		mf.Metric = append(mf.Metric, m)
	}
	v.mu.Unlock()
	return mf
}

// Metrics is the set of counters exposed on /metrics. All methods are safe
// for concurrent use.
type Metrics struct {
	PipelineRuns   *CounterVec
	StageFailures  *CounterVec
	Alerts         *CounterVec
	Notifications  *CounterVec
	ReadingsStored *atomic.Int64
	lastRun        *atomic.Float64
}

func New() *Metrics {
	return &Metrics{
		PipelineRuns:   newCounterVec("climate_pipeline_runs_total", "Pipeline runs by terminal result.", "result"),
		StageFailures:  newCounterVec("climate_pipeline_stage_failures_total", "Pipeline runs that failed, by stage.", "stage"),
		Alerts:         newCounterVec("climate_alerts_total", "Threshold alerts raised.", "metric", "severity"),
		Notifications:  newCounterVec("climate_notifications_total", "Notification attempts by channel and outcome.", "channel", "outcome"),
		ReadingsStored: atomic.NewInt64(0),
		lastRun:        atomic.NewFloat64(0),
	}
}

// RunFinished records a terminal pipeline result. stage is empty on success.
func (m *Metrics) RunFinished(stage string, at time.Time) {
	if stage == "" {
		m.PipelineRuns.Inc("success")
	} else {
		m.PipelineRuns.Inc("failed")
		m.StageFailures.Inc(stage)
	}
	m.lastRun.Store(float64(at.Unix()))
}

// Notified records one delivery attempt.
func (m *Metrics) Notified(channel string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "sent"
	}
	m.Notifications.Inc(channel, outcome)
}

// LastRun returns the time of the last finished pipeline run, or the zero
// time when none has finished.
func (m *Metrics) LastRun() time.Time {
	sec := m.lastRun.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}

// Write encodes every family to w in the text exposition format.
func (m *Metrics) Write(w io.Writer) error {
	families := []*dto.MetricFamily{
		m.PipelineRuns.family(),
		m.StageFailures.family(),
		m.Alerts.family(),
		m.Notifications.family(),
		{
			Name:   ptr("climate_readings_stored_total"),
			Help:   ptr("Readings collected and stored."),
			Type:   dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(float64(m.ReadingsStored.Load()))}}},
		},
		{
			Name:   ptr("climate_pipeline_last_run_timestamp_seconds"),
			Help:   ptr("Unix time of the last finished pipeline run."),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(m.lastRun.Load())}}},
		},
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
