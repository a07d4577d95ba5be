package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
)

const (
	forecastHorizon = 24
	forecastStep    = time.Hour
)

// ForecastJob checks a city's projected temperature against the thresholds.
type ForecastJob struct {
	models    forecast.Store
	evaluator *Evaluator
	horizon   int
	step      time.Duration
}

// NewForecastJob creates a job projecting 24 hourly steps ahead.
func NewForecastJob(models forecast.Store, evaluator *Evaluator) *ForecastJob {
	return &ForecastJob{
		models:    models,
		evaluator: evaluator,
		horizon:   forecastHorizon,
		step:      forecastStep,
	}
}

// Run loads the city's temperature model, takes the last projected estimate
// and evaluates it. Any failure, including a missing model, is logged and
// yields no events; Run never returns an error or panics.
func (j *ForecastJob) Run(ctx context.Context, city string) (events []Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("forecast alert: check panicked", "city", city, "panic", r)
			events = nil
		}
	}()

	value, at, err := j.project(ctx, city)
	if err != nil {
		if errors.Is(err, forecast.ErrModelNotFound) {
			slog.Warn("forecast alert: no trained model", "city", city)
		} else {
			slog.Error("forecast alert: check failed", "city", city, "err", err)
		}
		return nil
	}

	events = j.evaluator.Evaluate(Snapshot{
		City:   city,
		Time:   at,
		Values: map[climate.Metric]float64{climate.MetricTemperature: value},
	})
	if len(events) > 0 {
		slog.Warn("forecast alert: thresholds crossed", "city", city, "alerts", len(events), "temperature", value)
	} else {
		slog.Info("forecast alert: no alerts", "city", city, "temperature", value)
	}
	return events
}

func (j *ForecastJob) project(ctx context.Context, city string) (float64, time.Time, error) {
	model, err := j.models.Load(ctx, forecast.Key{City: city, Metric: climate.MetricTemperature})
	if err != nil {
		return 0, time.Time{}, err
	}
	points, err := model.Project(j.horizon, j.step)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("project: %w", err)
	}
	if len(points) == 0 {
		return 0, time.Time{}, fmt.Errorf("project: empty forecast")
	}
	last := points[len(points)-1]
	return last.Estimate, last.Timestamp, nil
}
