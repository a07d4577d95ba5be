package climate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNoProviders is returned when the collector has no weather or AQI source.
	ErrNoProviders = errors.New("no climate providers configured")
	// ErrNoReadings is returned when no city produced a complete record.
	ErrNoReadings = errors.New("no readings collected")
)

// Collector fetches weather and air-quality data for a set of cities and
// combines them into Readings.
type Collector struct {
	weather []WeatherProvider
	aqi     AQIProvider
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// NewCollector creates a new Collector. store may be nil.
func NewCollector(store Store, weather []WeatherProvider, aqi AQIProvider, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Collector{
		weather: weather,
		aqi:     aqi,
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Collect fetches a Reading for every location, in order. A city whose weather
// or AQI fetch fails is skipped entirely; no partial record is produced.
func (c *Collector) Collect(ctx context.Context, locs []Location) ([]Reading, error) {
	if len(c.weather) == 0 || c.aqi == nil {
		return nil, ErrNoProviders
	}

	readings := make([]Reading, 0, len(locs))
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return readings, err
		}

		r, err := c.CollectOne(ctx, loc)
		if err != nil {
			slog.Warn("collector: skipping city", "city", loc.City, "err", err)
			continue
		}
		if c.store != nil {
			c.store.Save(r)
		}
		readings = append(readings, r)
	}

	if len(readings) == 0 {
		return nil, ErrNoReadings
	}
	slog.Info("collector: collected readings", "cities", len(locs), "records", len(readings))
	return readings, nil
}

// CollectOne fetches from all weather providers concurrently, averages the
// successful readings and joins them with the AQI reading for loc.
func (c *Collector) CollectOne(ctx context.Context, loc Location) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		weathers []WeatherReading
	)

	for _, p := range c.weather {
		wg.Add(1)
		go func(p WeatherProvider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)
			if err != nil {
				// Log and continue; partial provider success is enough.
				slog.Warn("collector: weather provider failed",
					"provider", p.Name(), "city", loc.City, "err", err)
				return
			}

			mu.Lock()
			weathers = append(weathers, r)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if len(weathers) == 0 {
		return Reading{}, fmt.Errorf("no weather reading for %s", loc.City)
	}

	aq, err := c.aqi.FetchAQI(ctx, loc)
	if err != nil {
		return Reading{}, fmt.Errorf("aqi provider %s: %w", c.aqi.Name(), err)
	}

	w := AggregateWeather(weathers)
	return Reading{
		Timestamp:   c.now(),
		City:        loc.City,
		Temperature: w.TemperatureC,
		Humidity:    w.HumidityPct,
		Rainfall:    w.RainfallMm,
		AQI:         aq.AQI,
	}, nil
}
