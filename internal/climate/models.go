package climate

import (
	"encoding/json"
	"math"
	"time"
)

// Metric names one of the tracked climate measurements.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
	MetricRainfall    Metric = "rainfall"
	MetricAQI         Metric = "aqi"
)

// Metrics lists every tracked metric in reading column order.
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricRainfall, MetricAQI}

// Unit returns the display unit for m.
func (m Metric) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity:
		return "%"
	case MetricRainfall:
		return "mm"
	default:
		return ""
	}
}

// Location represents a city we collect readings for.
// Lat/Lon are optional; providers that need coordinates resolve them on demand.
type Location struct {
	City    string   `json:"city" yaml:"city" validate:"required"`
	Country string   `json:"country,omitempty" yaml:"country"`
	Lat     *float64 `json:"lat,omitempty" yaml:"lat"`
	Lon     *float64 `json:"lon,omitempty" yaml:"lon"`
}

// Key returns a canonical string key for indexing this location in stores.
func (l Location) Key() string {
	return l.City
}

// Query returns the "city,country" form accepted by most weather APIs.
func (l Location) Query() string {
	if l.Country == "" {
		return l.City
	}
	return l.City + "," + l.Country
}

// Missing is the value stored for an absent measurement.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is an absent measurement.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Reading is one combined weather + air-quality record for a city.
// Absent measurements are NaN.
type Reading struct {
	Timestamp   time.Time
	City        string
	Temperature float64
	Humidity    float64
	Rainfall    float64
	AQI         float64
}

// Value returns the reading's value for m, or NaN for an unknown metric.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricHumidity:
		return r.Humidity
	case MetricRainfall:
		return r.Rainfall
	case MetricAQI:
		return r.AQI
	default:
		return math.NaN()
	}
}

// Set assigns v to the field for m.
func (r *Reading) Set(m Metric, v float64) {
	switch m {
	case MetricTemperature:
		r.Temperature = v
	case MetricHumidity:
		r.Humidity = v
	case MetricRainfall:
		r.Rainfall = v
	case MetricAQI:
		r.AQI = v
	}
}

// Values returns the present measurements keyed by metric.
func (r Reading) Values() map[Metric]float64 {
	out := make(map[Metric]float64, len(Metrics))
	for _, m := range Metrics {
		if v := r.Value(m); !IsMissing(v) {
			out[m] = v
		}
	}
	return out
}

// MarshalJSON encodes missing measurements as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp   time.Time `json:"timestamp"`
		City        string    `json:"city"`
		Temperature *float64  `json:"temperature"`
		Humidity    *float64  `json:"humidity"`
		Rainfall    *float64  `json:"rainfall"`
		AQI         *float64  `json:"aqi"`
	}{
		Timestamp:   r.Timestamp,
		City:        r.City,
		Temperature: nullable(r.Temperature),
		Humidity:    nullable(r.Humidity),
		Rainfall:    nullable(r.Rainfall),
		AQI:         nullable(r.AQI),
	})
}

func nullable(v float64) *float64 {
	if IsMissing(v) {
		return nil
	}
	return &v
}
