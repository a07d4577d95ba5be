package alert

import (
	"fmt"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// Rule is the allowed band for one metric. Values strictly outside
// [Low, High] breach.
type Rule struct {
	Metric climate.Metric `yaml:"metric" validate:"required"`
	Low    float64        `yaml:"low"`
	High   float64        `yaml:"high"`
}

// Rules is an ordered rule table; evaluation follows its order.
type Rules []Rule

// DefaultRules returns the built-in thresholds.
func DefaultRules() Rules {
	return Rules{
		{Metric: climate.MetricTemperature, Low: 0, High: 40}, // °C
		{Metric: climate.MetricAQI, Low: 0, High: 200},
		{Metric: climate.MetricRainfall, Low: 0, High: 50},  // mm
		{Metric: climate.MetricHumidity, Low: 10, High: 95}, // %
	}
}

// Validate rejects inverted bands and repeated metrics.
func (rs Rules) Validate() error {
	seen := make(map[climate.Metric]bool, len(rs))
	for _, r := range rs {
		if r.Metric == "" {
			return fmt.Errorf("threshold rule without metric")
		}
		if seen[r.Metric] {
			return fmt.Errorf("duplicate threshold rule for %s", r.Metric)
		}
		if r.Low > r.High {
			return fmt.Errorf("threshold rule for %s: low %v > high %v", r.Metric, r.Low, r.High)
		}
		seen[r.Metric] = true
	}
	return nil
}

// Evaluator maps snapshots to alert events. It holds an immutable copy of its
// rule table and has no other state, so it is safe for concurrent use.
//
// Evaluate does not suppress repeats: evaluating the same snapshot twice
// yields the same events twice.
type Evaluator struct {
	rules Rules
	now   func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock sets the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates an Evaluator for rules.
func NewEvaluator(rules Rules, opts ...Option) (*Evaluator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	e := &Evaluator{
		rules: append(Rules(nil), rules...),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Rules returns a copy of the rule table.
func (e *Evaluator) Rules() Rules {
	return append(Rules(nil), e.rules...)
}

// Evaluate returns one event per rule whose metric is present in snap and
// strictly outside its band, in rule order.
func (e *Evaluator) Evaluate(snap Snapshot) []Event {
	var events []Event
	now := e.now()

	for _, r := range e.rules {
		v, ok := snap.Values[r.Metric]
		if !ok || climate.IsMissing(v) {
			continue
		}

		var (
			dir       Direction
			threshold float64
		)
		switch {
		case v > r.High:
			dir, threshold = DirectionHigh, r.High
		case v < r.Low:
			dir, threshold = DirectionLow, r.Low
		default:
			continue
		}

		events = append(events, Event{
			City:      snap.City,
			Metric:    r.Metric,
			Value:     v,
			Threshold: threshold,
			Direction: dir,
			Severity:  SeverityFor(dir),
			Timestamp: now,
		})
	}
	return events
}
