package climate

import "time"

// AggregateWeather combines multiple provider readings into one.
// Numeric fields are averaged and the newest provider timestamp wins.
func AggregateWeather(readings []WeatherReading) WeatherReading {
	if len(readings) == 0 {
		return WeatherReading{
			Timestamp:    time.Now().UTC(),
			TemperatureC: Missing(),
			HumidityPct:  Missing(),
			RainfallMm:   Missing(),
		}
	}

	var (
		sumTemp     float64
		sumHumidity float64
		sumRain     float64
		newestTS    time.Time
	)

	for _, r := range readings {
		sumTemp += r.TemperatureC
		sumHumidity += r.HumidityPct
		sumRain += r.RainfallMm

		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}
	}

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	n := float64(len(readings))
	name := readings[0].ProviderName
	if len(readings) > 1 {
		name = "aggregate"
	}

	return WeatherReading{
		ProviderName: name,
		Timestamp:    newestTS,
		TemperatureC: sumTemp / n,
		HumidityPct:  sumHumidity / n,
		RainfallMm:   sumRain / n,
	}
}
