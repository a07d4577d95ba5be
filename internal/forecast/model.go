// Package forecast fits and projects per-city, per-metric time-series models.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

var (
	// ErrModelNotFound is returned by a Store when no model exists for a key.
	ErrModelNotFound = errors.New("forecast model not found")
	// ErrInsufficientData is returned when there are too few samples to fit.
	ErrInsufficientData = errors.New("insufficient data to fit model")
)

// Point is one projected value with its uncertainty interval.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Estimate  float64   `json:"estimate"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
}

// Model projects a fitted series forward.
type Model interface {
	// Project returns horizon points spaced step apart, starting one step
	// after the last observation, in timestamp order.
	Project(horizon int, step time.Duration) ([]Point, error)
}

// Key identifies a model by city and metric.
type Key struct {
	City   string         `json:"city"`
	Metric climate.Metric `json:"metric"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%s", k.City, k.Metric)
}

// Store persists fitted models.
type Store interface {
	Save(ctx context.Context, key Key, m *SeasonalTrend) error
	Load(ctx context.Context, key Key) (Model, error)
	Exists(ctx context.Context, key Key) (bool, error)
	Keys(ctx context.Context) ([]Key, error)
}
