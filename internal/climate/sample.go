package climate

import (
	"math"
	"math/rand"
	"time"
)

type cityProfile struct {
	tempBase     float64
	humidityBase float64
	aqiBase      float64
}

var sampleProfiles = map[string]cityProfile{
	"Delhi":    {tempBase: 30, humidityBase: 65, aqiBase: 150},
	"Mumbai":   {tempBase: 28, humidityBase: 80, aqiBase: 120},
	"London":   {tempBase: 15, humidityBase: 70, aqiBase: 50},
	"New York": {tempBase: 22, humidityBase: 65, aqiBase: 80},
}

var defaultProfile = cityProfile{tempBase: 20, humidityBase: 65, aqiBase: 80}

// GenerateSample builds synthetic history for cities: one reading every 3
// hours for the given number of days ending at end. Temperature follows a
// daily sine cycle plus a slow seasonal drift and noise; rainfall is sporadic.
func GenerateSample(cities []string, days int, end time.Time, rng *rand.Rand) []Reading {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	base := end.UTC().Truncate(time.Hour).AddDate(0, 0, -days)

	var out []Reading
	for day := 0; day < days; day++ {
		for hour := 0; hour < 24; hour += 3 {
			ts := base.Add(time.Duration(day*24+hour) * time.Hour)
			for _, city := range cities {
				p, ok := sampleProfiles[city]
				if !ok {
					p = defaultProfile
				}

				daily := 3 * math.Sin(2*math.Pi*float64(hour)/24)
				seasonal := 2 * math.Sin(2*math.Pi*float64(day)/365)
				temp := p.tempBase + daily + seasonal + rng.NormFloat64()*2

				humidity := clamp(p.humidityBase+rng.NormFloat64()*10, 30, 100)

				rain := 0.0
				if rng.Float64() < 0.1 {
					rain = rng.ExpFloat64() * 0.5
				}

				aqi := math.Max(10, p.aqiBase+rng.NormFloat64()*30)

				out = append(out, Reading{
					Timestamp:   ts,
					City:        city,
					Temperature: round2(temp),
					Humidity:    round2(humidity),
					Rainfall:    round2(rain),
					AQI:         math.Round(aqi),
				})
			}
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
