package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// AQICNProvider implements climate.AQIProvider for the World Air Quality
// Index project (aqicn.org / waqi.info).
type AQICNProvider struct {
	name    string
	token   string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewAQICNProvider(client *http.Client, token string) *AQICNProvider {
	return &AQICNProvider{
		name:    "aqicn",
		token:   token,
		baseURL: "https://api.waqi.info/feed",
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("aqicn"),
	}
}

// WithBaseURL overrides the API endpoint; used by tests.
func (p *AQICNProvider) WithBaseURL(u string) *AQICNProvider {
	p.baseURL = u
	return p
}

func (p *AQICNProvider) Name() string {
	return p.name
}

func (p *AQICNProvider) FetchAQI(ctx context.Context, loc climate.Location) (climate.AQIReading, error) {
	if p.token == "" {
		return climate.AQIReading{}, fmt.Errorf("aqicn: %w", errNoAPIKey)
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		values.Set("token", p.token)
		u := fmt.Sprintf("%s/%s/?%s", p.baseURL, url.PathEscape(loc.City), values.Encode())
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return climate.AQIReading{}, err
	}
	defer resp.Body.Close()

	// data is an object on success and an error string otherwise; aqi may be "-".
	var payload struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return climate.AQIReading{}, fmt.Errorf("aqicn: decode: %w", err)
	}
	if payload.Status != "ok" {
		var msg string
		_ = json.Unmarshal(payload.Data, &msg)
		return climate.AQIReading{}, fmt.Errorf("aqicn: status %q: %s", payload.Status, msg)
	}

	var data struct {
		AQI  json.RawMessage `json:"aqi"`
		Time struct {
			V int64 `json:"v"`
		} `json:"time"`
	}
	if err := json.Unmarshal(payload.Data, &data); err != nil {
		return climate.AQIReading{}, fmt.Errorf("aqicn: decode data: %w", err)
	}

	aqi := parseAQI(data.AQI)

	ts := time.Now().UTC()
	if data.Time.V > 0 {
		ts = time.Unix(data.Time.V, 0).UTC()
	}

	return climate.AQIReading{
		ProviderName: p.name,
		Timestamp:    ts,
		AQI:          aqi,
	}, nil
}

// parseAQI returns NaN when the station reports no value ("-" or null);
// preprocessing fills such gaps.
func parseAQI(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && string(raw) != "null" {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return climate.Missing()
}
