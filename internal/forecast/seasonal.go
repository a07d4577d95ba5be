package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// z-score for an 80% two-sided interval.
const intervalZ = 1.2816

var errInvalidModel = errors.New("invalid model")

// Sample is one observation of a series.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// SeasonalTrend is a linear trend plus an hour-of-day seasonal offset.
// Residual spread after both components sets the interval width.
type SeasonalTrend struct {
	Origin    time.Time   `json:"origin"`
	Last      time.Time   `json:"last"`
	Intercept float64     `json:"intercept"`
	Slope     float64     `json:"slope_per_hour"`
	Seasonal  [24]float64 `json:"seasonal"`
	Sigma     float64     `json:"sigma"`
	Samples   int         `json:"samples"`
	TrainedAt time.Time   `json:"trained_at"`
}

// Fit estimates a SeasonalTrend from samples. Missing (NaN) values are
// ignored; at least two observations are required.
func Fit(samples []Sample) (*SeasonalTrend, error) {
	obs := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || s.Timestamp.IsZero() {
			continue
		}
		obs = append(obs, Sample{Timestamp: s.Timestamp.UTC(), Value: s.Value})
	}
	if len(obs) < 2 {
		return nil, fmt.Errorf("%w: %d samples", ErrInsufficientData, len(obs))
	}
	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })

	m := &SeasonalTrend{
		Origin:    obs[0].Timestamp,
		Last:      obs[len(obs)-1].Timestamp,
		Samples:   len(obs),
		TrainedAt: time.Now().UTC(),
	}

	n := float64(len(obs))
	var (
		sumX, sumY float64
		hSumX      [24]float64
		hSumY      [24]float64
		count      [24]int
	)
	for _, s := range obs {
		x, h := m.hours(s.Timestamp), s.Timestamp.Hour()
		sumX += x
		sumY += s.Value
		hSumX[h] += x
		hSumY[h] += s.Value
		count[h]++
	}
	meanX, meanY := sumX/n, sumY/n

	// Slope from within-hour variation, so the daily cycle cannot leak into
	// the trend. Falls back to a plain regression when every hour of day
	// was observed only once.
	var wxx, wxy, sxx, sxy float64
	for _, s := range obs {
		x, h := m.hours(s.Timestamp), s.Timestamp.Hour()
		c := float64(count[h])
		dx, dy := x-hSumX[h]/c, s.Value-hSumY[h]/c
		wxx += dx * dx
		wxy += dx * dy
		sxx += (x - meanX) * (x - meanX)
		sxy += (x - meanX) * (s.Value - meanY)
	}
	switch {
	case wxx > 1e-9:
		m.Slope = wxy / wxx
	case sxx > 0:
		m.Slope = sxy / sxx
	}
	m.Intercept = meanY - m.Slope*meanX

	for h := range m.Seasonal {
		if count[h] > 0 {
			c := float64(count[h])
			m.Seasonal[h] = hSumY[h]/c - m.Intercept - m.Slope*hSumX[h]/c
		}
	}

	var ss float64
	for _, s := range obs {
		r := s.Value - m.estimate(s.Timestamp)
		ss += r * r
	}
	m.Sigma = math.Sqrt(ss / math.Max(n-1, 1))

	return m, nil
}

// Project implements Model.
func (m *SeasonalTrend) Project(horizon int, step time.Duration) ([]Point, error) {
	if horizon <= 0 || step <= 0 {
		return nil, fmt.Errorf("invalid projection horizon=%d step=%s", horizon, step)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	points := make([]Point, 0, horizon)
	for i := 1; i <= horizon; i++ {
		ts := m.Last.Add(time.Duration(i) * step)
		est := m.estimate(ts)
		if math.IsNaN(est) || math.IsInf(est, 0) {
			return nil, fmt.Errorf("%w: non-finite estimate at %s", errInvalidModel, ts)
		}
		width := intervalZ * m.Sigma
		points = append(points, Point{
			Timestamp: ts,
			Estimate:  est,
			Lower:     est - width,
			Upper:     est + width,
		})
	}
	return points, nil
}

// Validate reports whether the model's parameters are usable.
func (m *SeasonalTrend) Validate() error {
	if m == nil || m.Last.IsZero() || m.Origin.IsZero() {
		return fmt.Errorf("%w: missing time range", errInvalidModel)
	}
	for _, v := range append([]float64{m.Intercept, m.Slope, m.Sigma}, m.Seasonal[:]...) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter", errInvalidModel)
		}
	}
	return nil
}

// MAE returns the in-sample mean absolute error of m over samples.
func MAE(m *SeasonalTrend, samples []Sample) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if math.IsNaN(s.Value) {
			continue
		}
		sum += math.Abs(s.Value - m.estimate(s.Timestamp))
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (m *SeasonalTrend) hours(ts time.Time) float64 {
	return ts.Sub(m.Origin).Hours()
}

func (m *SeasonalTrend) trend(ts time.Time) float64 {
	return m.Intercept + m.Slope*m.hours(ts)
}

func (m *SeasonalTrend) estimate(ts time.Time) float64 {
	return m.trend(ts) + m.Seasonal[ts.UTC().Hour()]
}
