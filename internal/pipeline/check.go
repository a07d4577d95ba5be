package pipeline

import (
	"context"
	"fmt"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
)

// MissingModelCheck asks for training when any configured (city, metric)
// model is absent from the store.
type MissingModelCheck struct {
	Models  forecast.Store
	Cities  []string
	Metrics []climate.Metric
}

func (c MissingModelCheck) NeedsTraining(ctx context.Context) (bool, error) {
	metrics := c.Metrics
	if len(metrics) == 0 {
		metrics = climate.Metrics
	}
	for _, city := range c.Cities {
		for _, m := range metrics {
			ok, err := c.Models.Exists(ctx, forecast.Key{City: city, Metric: m})
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// SentinelCheck asks for training only when one sentinel model is absent.
// Other pairs can be missing without triggering a retrain.
type SentinelCheck struct {
	Models forecast.Store
	Key    forecast.Key
}

// DefaultSentinel is the pair SentinelCheck looks for when none is set.
var DefaultSentinel = forecast.Key{City: "Delhi", Metric: climate.MetricTemperature}

func (c SentinelCheck) NeedsTraining(ctx context.Context) (bool, error) {
	key := c.Key
	if key.City == "" {
		key = DefaultSentinel
	}
	ok, err := c.Models.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// NewTrainingCheck builds the check named by kind ("missing" or "sentinel").
func NewTrainingCheck(kind string, models forecast.Store, cities []string) (TrainingCheck, error) {
	switch kind {
	case "", "missing":
		return MissingModelCheck{Models: models, Cities: cities}, nil
	case "sentinel":
		return SentinelCheck{Models: models}, nil
	default:
		return nil, fmt.Errorf("unknown training check %q", kind)
	}
}
