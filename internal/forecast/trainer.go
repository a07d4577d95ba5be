package forecast

import (
	"context"
	"errors"
	"log/slog"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// TrainReport summarises one TrainAll pass.
type TrainReport struct {
	Trained []Key
	Skipped []Key
	Failed  []Key
}

// Trainer fits and persists one model per (city, metric) pair.
type Trainer struct {
	store   Store
	metrics []climate.Metric
}

// NewTrainer creates a Trainer for metrics; nil means every tracked metric.
func NewTrainer(store Store, metrics []climate.Metric) *Trainer {
	if len(metrics) == 0 {
		metrics = climate.Metrics
	}
	return &Trainer{store: store, metrics: metrics}
}

// TrainAll fits a model for every city present in readings and every
// configured metric. Pairs with too little data are skipped and individual
// fit or save failures are logged; neither aborts the pass. Only context
// cancellation is returned as an error.
func (t *Trainer) TrainAll(ctx context.Context, readings []climate.Reading) (TrainReport, error) {
	var report TrainReport

	for _, city := range citiesInOrder(readings) {
		for _, metric := range t.metrics {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			key := Key{City: city, Metric: metric}
			samples := SamplesFor(readings, city, metric)
			m, err := Fit(samples)
			if err != nil {
				if errors.Is(err, ErrInsufficientData) {
					slog.Warn("trainer: insufficient data", "city", city, "metric", metric)
					report.Skipped = append(report.Skipped, key)
				} else {
					slog.Error("trainer: fit failed", "city", city, "metric", metric, "err", err)
					report.Failed = append(report.Failed, key)
				}
				continue
			}

			if err := t.store.Save(ctx, key, m); err != nil {
				slog.Error("trainer: save failed", "model", key.String(), "err", err)
				report.Failed = append(report.Failed, key)
				continue
			}
			slog.Info("trainer: model trained", "city", city, "metric", metric, "samples", m.Samples, "mae", MAE(m, samples))
			report.Trained = append(report.Trained, key)
		}
	}

	return report, nil
}

// SamplesFor extracts the series for city and metric from readings.
func SamplesFor(readings []climate.Reading, city string, metric climate.Metric) []Sample {
	var out []Sample
	for _, r := range readings {
		if r.City != city {
			continue
		}
		out = append(out, Sample{Timestamp: r.Timestamp, Value: r.Value(metric)})
	}
	return out
}

func citiesInOrder(readings []climate.Reading) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range readings {
		if !seen[r.City] {
			seen[r.City] = true
			out = append(out, r.City)
		}
	}
	return out
}
