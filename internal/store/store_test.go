package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
)

func TestMemoryStoreLatestAndRange(t *testing.T) {
	s := NewMemoryStore(0, 0)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Save(climate.Reading{Timestamp: t0.Add(time.Duration(i) * time.Hour), City: "Delhi", Temperature: float64(30 + i)})
	}

	latest, err := s.Latest("Delhi")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Temperature != 32 {
		t.Errorf("latest temperature = %v, want 32", latest.Temperature)
	}

	got, err := s.Range("Delhi", t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("range len = %d, want 2", len(got))
	}

	if _, err := s.Latest("London"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Range("London", t0, t0.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Range unknown city: expected ErrNotFound, got %v", err)
	}
	if cities := s.Cities(); len(cities) != 1 || cities[0] != "Delhi" {
		t.Errorf("cities = %v", cities)
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	s := NewMemoryStore(2, 0)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Save(climate.Reading{Timestamp: now.Add(time.Duration(i) * time.Minute), City: "Delhi"})
	}
	got, _ := s.Range("Delhi", now.Add(-time.Hour), now.Add(time.Hour))
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	aged := NewMemoryStore(0, time.Hour)
	aged.Save(climate.Reading{Timestamp: now.Add(-3 * time.Hour), City: "Delhi"})
	aged.Save(climate.Reading{Timestamp: now, City: "Delhi"})
	got, _ = aged.Range("Delhi", now.Add(-24*time.Hour), now.Add(time.Hour))
	if len(got) != 1 {
		t.Fatalf("aged len = %d, want 1", len(got))
	}
}

func TestReadingsCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "readings.csv")
	t0 := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	in := []climate.Reading{
		{Timestamp: t0, City: "New York", Temperature: 21.5, Humidity: 60, Rainfall: 0, AQI: climate.Missing()},
	}

	if err := WriteReadings(path, in); err != nil {
		t.Fatalf("WriteReadings: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "timestamp,city,temperature,humidity,rainfall,aqi\n2024-01-01T06:00:00Z,New York,21.5,60,0,\n"
	if string(raw) != want {
		t.Errorf("file = %q, want %q", raw, want)
	}

	out, err := ReadReadings(path)
	if err != nil {
		t.Fatalf("ReadReadings: %v", err)
	}
	if len(out) != 1 || !out[0].Timestamp.Equal(t0) || out[0].City != "New York" || !climate.IsMissing(out[0].AQI) {
		t.Errorf("unexpected readings: %+v", out)
	}
}

func TestReadReadingsPandasTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.csv")
	body := "timestamp,city,temperature,humidity,rainfall,aqi\n" +
		"2024-01-01 03:00:00.123456,Delhi,30,60,0,150\n" +
		"garbage,Delhi,31,60,0,150\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := ReadReadings(path)
	if err != nil {
		t.Fatalf("ReadReadings: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Timestamp.Hour() != 3 {
		t.Errorf("timestamp = %v", out[0].Timestamp)
	}
	if !out[1].Timestamp.IsZero() {
		t.Errorf("expected zero timestamp for garbage, got %v", out[1].Timestamp)
	}
}

func TestReadReadingsIfExists(t *testing.T) {
	out, err := ReadReadingsIfExists(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil || out != nil {
		t.Fatalf("got %v, %v", out, err)
	}
}

func TestSQLiteModelStore(t *testing.T) {
	s, err := NewSQLiteModelStore(filepath.Join(t.TempDir(), "models.db"))
	if err != nil {
		t.Fatalf("NewSQLiteModelStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	key := forecast.Key{City: "Delhi", Metric: climate.MetricTemperature}

	if _, err := s.Load(ctx, key); !errors.Is(err, forecast.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := forecast.Fit([]forecast.Sample{
		{Timestamp: t0, Value: 30},
		{Timestamp: t0.Add(time.Hour), Value: 31},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, key, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// second save must upsert, not fail on the primary key
	if err := s.Save(ctx, key, m); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	loaded, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	points, err := loaded.Project(24, time.Hour)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(points) != 24 {
		t.Errorf("points = %d", len(points))
	}

	keys, err := s.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != key {
		t.Errorf("Keys = %v, %v", keys, err)
	}
}

func TestSQLiteModelStoreCorruptArtifact(t *testing.T) {
	s, err := NewSQLiteModelStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.db.Exec(`INSERT INTO forecast_models VALUES ('Delhi','temperature','{not json',?)`, time.Now()); err != nil {
		t.Fatal(err)
	}
	_, err = s.Load(context.Background(), forecast.Key{City: "Delhi", Metric: climate.MetricTemperature})
	if err == nil || errors.Is(err, forecast.ErrModelNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
