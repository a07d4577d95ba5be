package climate

import (
	"context"
	"time"
)

// WeatherReading is a single provider's normalized weather observation.
type WeatherReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	HumidityPct  float64
	RainfallMm   float64 // last hour
}

// AQIReading is a single provider's air-quality observation.
type AQIReading struct {
	ProviderName string
	Timestamp    time.Time
	AQI          float64
}

// WeatherProvider abstracts a weather data source (OpenWeatherMap, WeatherAPI, Open-Meteo).
type WeatherProvider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (WeatherReading, error)
}

// AQIProvider abstracts an air-quality data source.
type AQIProvider interface {
	Name() string
	FetchAQI(ctx context.Context, loc Location) (AQIReading, error)
}

// Store is the contract the in-memory reading store must satisfy.
type Store interface {
	Save(r Reading)
	Latest(city string) (Reading, error)
	Range(city string, from, to time.Time) ([]Reading, error)
	Cities() []string
}
