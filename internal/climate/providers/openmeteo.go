package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/sony/gobreaker"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// GeocodeFunc resolves a location to latitude/longitude.
type GeocodeFunc func(loc climate.Location) (lat, lon float64, err error)

// GoogleGeocoder returns a GeocodeFunc backed by the Google geocoding API.
func GoogleGeocoder(apiKey string) GeocodeFunc {
	return func(loc climate.Location) (float64, float64, error) {
		if apiKey == "" {
			return 0, 0, fmt.Errorf("geocoder: %w", errNoAPIKey)
		}
		geocoder.ApiKey = apiKey
		res, err := geocoder.Geocoding(geocoder.Address{
			City:    loc.City,
			Country: loc.Country,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("geocoder: %w", err)
		}
		return res.Latitude, res.Longitude, nil
	}
}

type coords struct{ lat, lon float64 }

// OpenMeteoProvider implements climate.WeatherProvider for Open-Meteo.
// Open-Meteo only accepts coordinates; locations without Lat/Lon are
// geocoded once and cached.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	geocode GeocodeFunc

	mu    sync.Mutex
	cache map[string]coords
}

func NewOpenMeteoProvider(client *http.Client, geocode GeocodeFunc) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("openmeteo"),
		geocode: geocode,
		cache:   make(map[string]coords),
	}
}

// WithBaseURL overrides the API endpoint; used by tests.
func (p *OpenMeteoProvider) WithBaseURL(u string) *OpenMeteoProvider {
	p.baseURL = u
	return p
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) resolve(loc climate.Location) (coords, error) {
	if loc.Lat != nil && loc.Lon != nil {
		return coords{*loc.Lat, *loc.Lon}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache[loc.Query()]; ok {
		return c, nil
	}
	if p.geocode == nil {
		return coords{}, fmt.Errorf("openmeteo requires latitude and longitude")
	}
	lat, lon, err := p.geocode(loc)
	if err != nil {
		return coords{}, err
	}
	c := coords{lat, lon}
	p.cache[loc.Query()] = c
	return c, nil
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc climate.Location) (climate.WeatherReading, error) {
	c, err := p.resolve(loc)
	if err != nil {
		return climate.WeatherReading{}, err
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", c.lat))
		values.Set("longitude", fmt.Sprintf("%f", c.lon))
		values.Set("current", "temperature_2m,relative_humidity_2m,rain")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return climate.WeatherReading{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Current struct {
			Time        string  `json:"time"`
			Temperature float64 `json:"temperature_2m"`
			Humidity    float64 `json:"relative_humidity_2m"`
			Rain        float64 `json:"rain"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return climate.WeatherReading{}, fmt.Errorf("openmeteo: decode: %w", err)
	}

	// Open-Meteo reports GMT times without a zone suffix.
	ts, err := time.Parse("2006-01-02T15:04", payload.Current.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return climate.WeatherReading{
		ProviderName: p.name,
		Timestamp:    ts.UTC(),
		TemperatureC: payload.Current.Temperature,
		HumidityPct:  payload.Current.Humidity,
		RainfallMm:   payload.Current.Rain,
	}, nil
}
