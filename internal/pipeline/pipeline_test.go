package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
	"github.com/i474232898/climate-risk-alerts/internal/metrics"
	"github.com/i474232898/climate-risk-alerts/internal/notify"
	"github.com/i474232898/climate-risk-alerts/internal/store"
)

type recordingStages struct {
	mu    sync.Mutex
	calls []Stage
	fail  map[Stage]error
	block chan struct{}
}

func (r *recordingStages) do(s Stage) error {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
	if r.block != nil && s == StageCollect {
		<-r.block
	}
	return r.fail[s]
}

func (r *recordingStages) Collect(context.Context) error    { return r.do(StageCollect) }
func (r *recordingStages) Preprocess(context.Context) error { return r.do(StagePreprocess) }
func (r *recordingStages) TrainAll(context.Context) error   { return r.do(StageTrainAll) }
func (r *recordingStages) AlertAll(context.Context) error   { return r.do(StageAlertAll) }

func (r *recordingStages) called() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Stage(nil), r.calls...)
}

type fixedCheck struct {
	need bool
	err  error
}

func (c fixedCheck) NeedsTraining(context.Context) (bool, error) { return c.need, c.err }

func TestRunPipelineSuccess(t *testing.T) {
	stages := &recordingStages{}
	m := metrics.New()
	o := New(stages, fixedCheck{need: true}, m)

	res := o.RunPipeline(context.Background())
	if !res.OK() || res.String() != "success" {
		t.Fatalf("result = %v", res)
	}
	if !res.Trained {
		t.Error("expected training")
	}
	wantCalls := []Stage{StageCollect, StagePreprocess, StageTrainAll, StageAlertAll}
	if got := stages.called(); !reflect.DeepEqual(got, wantCalls) {
		t.Errorf("calls = %v, want %v", got, wantCalls)
	}
	wantStates := []State{StateCollecting, StatePreprocessing, StateTraining, StateAlerting, StateDone}
	if !reflect.DeepEqual(res.States, wantStates) {
		t.Errorf("states = %v, want %v", res.States, wantStates)
	}
	if o.State() != StateIdle {
		t.Errorf("state after run = %s", o.State())
	}
	if got := m.PipelineRuns.Value("success"); got != 1 {
		t.Errorf("success runs = %d", got)
	}
	last, ok := o.LastResult()
	if !ok || last.RunID != res.RunID {
		t.Errorf("last result = %v, %v", last, ok)
	}
}

func TestPreprocessFailureStopsRun(t *testing.T) {
	boom := errors.New("realtime_climate.csv: no such file")
	stages := &recordingStages{fail: map[Stage]error{StagePreprocess: boom}}
	m := metrics.New()
	o := New(stages, fixedCheck{need: true}, m)

	res := o.RunPipeline(context.Background())
	if res.OK() || res.Failed != StagePreprocess || !errors.Is(res.Err, boom) {
		t.Fatalf("result = %v", res)
	}
	for _, s := range stages.called() {
		if s == StageTrainAll || s == StageAlertAll {
			t.Errorf("%s invoked after preprocess failure", s)
		}
	}
	wantStates := []State{StateCollecting, StatePreprocessing, StateFailed}
	if !reflect.DeepEqual(res.States, wantStates) {
		t.Errorf("states = %v, want %v", res.States, wantStates)
	}
	if got := m.StageFailures.Value(string(StagePreprocess)); got != 1 {
		t.Errorf("stage failures = %d", got)
	}
}

func TestTrainingSkippedWhenModelsPresent(t *testing.T) {
	stages := &recordingStages{}
	o := New(stages, fixedCheck{need: false}, nil)

	res := o.RunPipeline(context.Background())
	if !res.OK() || res.Trained {
		t.Fatalf("result = %+v", res)
	}
	wantStates := []State{StateCollecting, StatePreprocessing, StateSkippedTraining, StateAlerting, StateDone}
	if !reflect.DeepEqual(res.States, wantStates) {
		t.Errorf("states = %v", res.States)
	}
	for _, s := range stages.called() {
		if s == StageTrainAll {
			t.Error("train_all invoked")
		}
	}
}

func TestTrainingCheckErrorTrains(t *testing.T) {
	stages := &recordingStages{}
	o := New(stages, fixedCheck{err: errors.New("db locked")}, nil)

	if res := o.RunPipeline(context.Background()); !res.Trained {
		t.Errorf("expected training when the check fails, got %+v", res)
	}
}

func TestCancelledContextFailsFirstStage(t *testing.T) {
	stages := &recordingStages{}
	o := New(stages, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.RunPipeline(ctx)
	if res.Failed != StageCollect || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("result = %v", res)
	}
	if len(stages.called()) != 0 {
		t.Errorf("calls = %v", stages.called())
	}
}

func TestTriggerRejectsOverlap(t *testing.T) {
	stages := &recordingStages{block: make(chan struct{})}
	o := New(stages, fixedCheck{}, nil)

	id, err := o.Trigger(context.Background())
	if err != nil || id.String() == "" {
		t.Fatalf("Trigger: %v", err)
	}
	if _, err := o.Trigger(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Trigger err = %v, want ErrBusy", err)
	}
	close(stages.block)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if last, ok := o.LastResult(); ok {
			if last.RunID != id {
				t.Errorf("run id = %s, want %s", last.RunID, id)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("triggered run did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWaitBlocksUntilTriggeredRunEnds(t *testing.T) {
	stages := &recordingStages{block: make(chan struct{})}
	o := New(stages, fixedCheck{}, nil)

	if _, err := o.Trigger(context.Background()); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		o.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the run was blocked")
	case <-time.After(50 * time.Millisecond):
	}
	close(stages.block)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the run finished")
	}
	if _, ok := o.LastResult(); !ok {
		t.Error("run finished without a result")
	}
}

func TestRunStage(t *testing.T) {
	stages := &recordingStages{fail: map[Stage]error{StageCollect: errors.New("down")}}
	o := New(stages, nil, nil)

	if err := o.RunStage(context.Background(), StageAlertAll); err != nil {
		t.Errorf("alert_all: %v", err)
	}
	if err := o.RunStage(context.Background(), StageCollect); err == nil {
		t.Error("expected collect failure")
	}
	if err := o.RunStage(context.Background(), Stage("deploy")); err == nil {
		t.Error("expected unknown stage error")
	}
	if got := stages.called(); !reflect.DeepEqual(got, []Stage{StageAlertAll, StageCollect}) {
		t.Errorf("calls = %v", got)
	}
}

func newModelStore(t *testing.T) *store.SQLiteModelStore {
	t.Helper()
	s, err := store.NewSQLiteModelStore(":memory:")
	if err != nil {
		t.Fatalf("open model store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTrainingChecks(t *testing.T) {
	ctx := context.Background()
	models := newModelStore(t)

	trend, err := forecast.Fit([]forecast.Sample{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 20},
		{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Value: 21},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := models.Save(ctx, DefaultSentinel, trend); err != nil {
		t.Fatal(err)
	}

	missing, _ := NewTrainingCheck("missing", models, []string{"Delhi"})
	sentinel, _ := NewTrainingCheck("sentinel", models, []string{"Delhi"})
	if _, err := NewTrainingCheck("always", models, nil); err == nil {
		t.Error("expected unknown check error")
	}

	need, err := missing.NeedsTraining(ctx)
	if err != nil || !need {
		t.Errorf("missing check = %v, %v; want true (humidity, rainfall, aqi absent)", need, err)
	}
	need, err = sentinel.NeedsTraining(ctx)
	if err != nil || need {
		t.Errorf("sentinel check = %v, %v; want false", need, err)
	}

	only := MissingModelCheck{Models: models, Cities: []string{"Delhi"}, Metrics: []climate.Metric{climate.MetricTemperature}}
	if need, _ := only.NeedsTraining(ctx); need {
		t.Error("temperature-only check should be satisfied")
	}
}

type fakeWeather struct{ temp, humidity, rain float64 }

func (fakeWeather) Name() string { return "fake-weather" }

func (f fakeWeather) Fetch(context.Context, climate.Location) (climate.WeatherReading, error) {
	return climate.WeatherReading{ProviderName: "fake-weather", TemperatureC: f.temp, HumidityPct: f.humidity, RainfallMm: f.rain}, nil
}

type fakeAQI struct{ aqi float64 }

func (fakeAQI) Name() string { return "fake-aqi" }

func (f fakeAQI) FetchAQI(context.Context, climate.Location) (climate.AQIReading, error) {
	return climate.AQIReading{ProviderName: "fake-aqi", AQI: f.aqi}, nil
}

type captureSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *captureSender) Channel() notify.Channel { return notify.ChannelEmail }

func (c *captureSender) Send(_ context.Context, _ string, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func newService(t *testing.T, sender notify.Sender) *Service {
	t.Helper()
	dir := t.TempDir()
	models := newModelStore(t)
	latest := store.NewMemoryStore(0, 0)

	evaluator, err := alert.NewEvaluator(alert.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	return &Service{
		Locations: []climate.Location{{City: "Delhi", Country: "IN"}},
		Paths: Paths{
			Realtime:  filepath.Join(dir, "realtime_climate.csv"),
			Processed: filepath.Join(dir, "processed_climate.csv"),
			Combined:  filepath.Join(dir, "combined_climate.csv"),
			AlertLog:  filepath.Join(dir, "alert_log.csv"),
		},
		Collector: climate.NewCollector(latest,
			[]climate.WeatherProvider{fakeWeather{temp: 42, humidity: 70, rain: 5}},
			fakeAQI{aqi: 250}, time.Second),
		Latest:     latest,
		Trainer:    forecast.NewTrainer(models, nil),
		Forecasts:  alert.NewForecastJob(models, evaluator),
		Evaluator:  evaluator,
		Log:        alert.NewLog(),
		Dispatcher: notify.NewDispatcher(time.Second, sender),
		Recipients: notify.Recipients{Email: "ops@example.com"},
		Metrics:    metrics.New(),
	}
}

func TestServiceStages(t *testing.T) {
	ctx := context.Background()
	sender := &captureSender{}
	svc := newService(t, sender)

	// Two days of flat hourly history so the forecast stays in band.
	var history []climate.Reading
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 48; i++ {
		history = append(history, climate.Reading{
			Timestamp: start.Add(time.Duration(i) * time.Hour), City: "Delhi",
			Temperature: 20, Humidity: 50, Rainfall: 0, AQI: 80,
		})
	}
	if err := store.WriteReadings(svc.Paths.Combined, history); err != nil {
		t.Fatal(err)
	}

	if err := svc.TrainAll(ctx); err != nil {
		t.Fatalf("TrainAll: %v", err)
	}
	if err := svc.Collect(ctx); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if err := svc.Preprocess(ctx); err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	combined, err := store.ReadReadings(svc.Paths.Combined)
	if err != nil || len(combined) != 49 {
		t.Fatalf("combined = %d, %v", len(combined), err)
	}

	if err := svc.AlertAll(ctx); err != nil {
		t.Fatalf("AlertAll: %v", err)
	}

	events := svc.Log.Events()
	if len(events) != 2 {
		t.Fatalf("events = %+v, want temperature and aqi", events)
	}
	if events[0].Metric != climate.MetricTemperature || events[1].Metric != climate.MetricAQI {
		t.Errorf("event order = %s, %s", events[0].Metric, events[1].Metric)
	}
	for _, ev := range events {
		if ev.Severity != alert.SeverityHigh {
			t.Errorf("severity = %s", ev.Severity)
		}
	}
	if len(sender.sent) != 2 {
		t.Errorf("sent = %d, want 2", len(sender.sent))
	}

	f, err := os.Open(svc.Paths.AlertLog)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || !reflect.DeepEqual(rows[0], alert.LogColumns) {
		t.Errorf("alert log rows = %v", rows)
	}
	if got := svc.Metrics.Alerts.Value("aqi", "HIGH"); got != 1 {
		t.Errorf("aqi alerts = %d", got)
	}

	// The same collected reading is not evaluated again on the next check.
	if err := svc.AlertAll(ctx); err != nil {
		t.Fatalf("second AlertAll: %v", err)
	}
	if n := svc.Log.Len(); n != 2 {
		t.Errorf("events after repeat check = %d, want 2", n)
	}
}

func TestLiveReadingAge(t *testing.T) {
	now := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	hot := func(ts time.Time) climate.Reading {
		return climate.Reading{Timestamp: ts, City: "Delhi", Temperature: 42, Humidity: 50, Rainfall: 0, AQI: 80}
	}

	tests := []struct {
		name string
		age  time.Duration
		want int
	}{
		{"fresh", time.Hour, 1},
		{"stale", 5 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(t, &captureSender{})
			svc.LiveMaxAge = 3 * time.Hour
			svc.Now = func() time.Time { return now }
			svc.Latest.Save(hot(now.Add(-tt.age)))

			if err := svc.AlertAll(context.Background()); err != nil {
				t.Fatalf("AlertAll: %v", err)
			}
			if n := svc.Log.Len(); n != tt.want {
				t.Errorf("events = %d, want %d", n, tt.want)
			}
		})
	}
}

type cancellingSender struct{ cancel context.CancelFunc }

func (cancellingSender) Channel() notify.Channel { return notify.ChannelEmail }

func (c cancellingSender) Send(context.Context, string, notify.Message) error {
	c.cancel()
	return nil
}

func TestAlertAllFlushesRecordedEventsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newService(t, cancellingSender{cancel: cancel})
	svc.Locations = append(svc.Locations, climate.Location{City: "Mumbai", Country: "IN"})
	svc.Latest.Save(climate.Reading{Timestamp: time.Now().UTC(), City: "Delhi",
		Temperature: 42, Humidity: 70, Rainfall: 5, AQI: 250})

	if err := svc.AlertAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("AlertAll err = %v, want context.Canceled", err)
	}

	f, err := os.Open(svc.Paths.AlertLog)
	if err != nil {
		t.Fatalf("alert log not flushed: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("alert log rows = %d, want header and 2 events", len(rows))
	}
}

func TestPreprocessWithoutRealtimeFails(t *testing.T) {
	svc := newService(t, nil)
	if err := svc.Preprocess(context.Background()); err == nil {
		t.Fatal("expected error for missing realtime file")
	}
	if _, err := os.Stat(svc.Paths.Processed); !os.IsNotExist(err) {
		t.Errorf("processed file should not exist: %v", err)
	}
}
