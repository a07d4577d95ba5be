package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/dashboard"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
	"github.com/i474232898/climate-risk-alerts/internal/metrics"
	"github.com/i474232898/climate-risk-alerts/internal/pipeline"
	"github.com/i474232898/climate-risk-alerts/internal/store"
)

type fakePipeline struct {
	busy bool
	last *pipeline.Result
}

func (f *fakePipeline) Trigger(context.Context) (uuid.UUID, error) {
	if f.busy {
		return uuid.Nil, pipeline.ErrBusy
	}
	return uuid.New(), nil
}

func (f *fakePipeline) State() pipeline.State { return pipeline.StateIdle }

func (f *fakePipeline) LastResult() (pipeline.Result, bool) {
	if f.last == nil {
		return pipeline.Result{}, false
	}
	return *f.last, true
}

type testEnv struct {
	app      *fiber.App
	readings *store.MemoryStore
	models   *store.SQLiteModelStore
	alerts   *alert.Log
	pipe     *fakePipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	models, err := store.NewSQLiteModelStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { models.Close() })

	env := &testEnv{
		app:      fiber.New(),
		readings: store.NewMemoryStore(0, 0),
		models:   models,
		alerts:   alert.NewLog(),
		pipe:     &fakePipeline{},
	}
	RegisterRoutes(env.app, Deps{
		Readings: env.readings,
		Models:   env.models,
		Alerts:   env.alerts,
		Pipeline: env.pipe,
		Metrics:  metrics.New(),
		Themes:   dashboard.NewRegistry(nil),
		Cities:   []string{"Delhi", "London"},
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target string) (*http.Response, string) {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestLatestReading(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/readings/latest")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing city: status %d", resp.StatusCode)
	}
	if _, body := env.do(t, http.MethodGet, "/api/v1/cities"); !strings.Contains(body, `"configured":["Delhi","London"]`) {
		t.Errorf("cities body = %s", body)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/readings/latest?city=Delhi")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty store: status %d", resp.StatusCode)
	}

	env.readings.Save(climate.Reading{
		Timestamp: time.Now().UTC(), City: "Delhi",
		Temperature: 35, Humidity: 40, Rainfall: 0, AQI: climate.Missing(),
	})
	resp, body := env.do(t, http.MethodGet, "/api/v1/readings/latest?city=Delhi")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got["temperature"] != 35.0 || got["aqi"] != nil {
		t.Errorf("reading = %v", got)
	}
}

func TestHistoryValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/readings/history?city=Delhi")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing range: status %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/readings/history?city=Delhi&from=2024-07-02T00:00:00Z&to=2024-07-01T00:00:00Z")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("inverted range: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/readings/history?city=Atlantis&from=2024-07-01T00:00:00Z&to=2024-07-02T00:00:00Z")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown city: status %d", resp.StatusCode)
	}

	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	env.readings.Save(climate.Reading{Timestamp: ts, City: "Delhi", Temperature: 30})
	resp, body := env.do(t, http.MethodGet, "/api/v1/readings/history?city=Delhi&from=2024-07-01T00:00:00Z&to=1719878400")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"readings"`) {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestAlertsFilter(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	env.alerts.Record(alert.Event{City: "Delhi", Metric: climate.MetricTemperature, Value: 42, Threshold: 40,
		Direction: alert.DirectionHigh, Severity: alert.SeverityHigh, Timestamp: now})
	env.alerts.Record(alert.Event{City: "London", Metric: climate.MetricTemperature, Value: -5, Threshold: 0,
		Direction: alert.DirectionLow, Severity: alert.SeverityMedium, Timestamp: now})

	_, body := env.do(t, http.MethodGet, "/api/v1/alerts?severity=MEDIUM")
	var got struct {
		Count  int           `json:"count"`
		Alerts []alert.Event `json:"alerts"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 1 || got.Alerts[0].City != "London" || got.Alerts[0].Direction != alert.DirectionLow {
		t.Errorf("alerts = %+v", got)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/v1/alerts?severity=LOW")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid severity: status %d", resp.StatusCode)
	}
}

func TestForecastEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/forecast?city=Delhi&hours=500")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range hours: status %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/forecast?city=Delhi&metric=pressure")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown metric: status %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/v1/forecast?city=Delhi")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("no model: status %d", resp.StatusCode)
	}

	start := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	var samples []forecast.Sample
	for i := 0; i < 48; i++ {
		samples = append(samples, forecast.Sample{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: 25})
	}
	model, err := forecast.Fit(samples)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.models.Save(context.Background(), forecast.Key{City: "Delhi", Metric: climate.MetricTemperature}, model); err != nil {
		t.Fatal(err)
	}

	_, body := env.do(t, http.MethodGet, "/api/v1/models")
	if !strings.Contains(body, `"count":1`) || !strings.Contains(body, `"metric":"temperature"`) {
		t.Errorf("models body = %s", body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/forecast?city=Delhi&hours=6")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Forecast []forecast.Point `json:"forecast"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Forecast) != 6 {
		t.Errorf("points = %d, want 6", len(got.Forecast))
	}
}

func TestPipelineTrigger(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/pipeline/run")
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(body, "run_id") {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	env.pipe.busy = true
	resp, _ = env.do(t, http.MethodPost, "/api/v1/pipeline/run")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("busy: status %d", resp.StatusCode)
	}

	env.pipe.last = &pipeline.Result{RunID: uuid.New(), Failed: pipeline.StagePreprocess, Err: errors.New("no realtime data")}
	_, body = env.do(t, http.MethodGet, "/api/v1/pipeline/status")
	if !strings.Contains(body, `"failed_stage":"preprocess"`) || !strings.Contains(body, "no realtime data") {
		t.Errorf("status body = %s", body)
	}
}

func TestMetricsAndDashboard(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/metrics")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("metrics: status %d, type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "climate_readings_stored_total") {
		t.Errorf("metrics body = %s", body)
	}

	env.readings.Save(climate.Reading{Timestamp: time.Now().UTC(), City: "London", Temperature: 18, Humidity: 80, Rainfall: 4, AQI: 40})
	resp, body = env.do(t, http.MethodGet, "/dashboard?city=London&theme=auto")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("dashboard: status %d, type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, "theme-rain") || !strings.Contains(body, "18°C") {
		t.Errorf("dashboard body missing theme or reading")
	}
}
