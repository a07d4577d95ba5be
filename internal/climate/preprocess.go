package climate

import (
	"sort"
	"time"
)

// Preprocess cleans raw readings for time-series modeling:
//   - records without a timestamp are dropped
//   - records are sorted by timestamp (stable)
//   - temperature, humidity and aqi gaps are forward- then back-filled per city
//   - missing rainfall becomes 0
//   - duplicate (timestamp, city) pairs keep the first occurrence
//
// The input slice is not modified.
func Preprocess(raw []Reading) []Reading {
	out := make([]Reading, 0, len(raw))
	for _, r := range raw {
		if r.Timestamp.IsZero() {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	byCity := make(map[string][]int)
	for i, r := range out {
		byCity[r.City] = append(byCity[r.City], i)
	}
	for _, idx := range byCity {
		for _, m := range []Metric{MetricTemperature, MetricHumidity, MetricAQI} {
			fill(out, idx, m)
		}
	}
	for i := range out {
		if IsMissing(out[i].Rainfall) {
			out[i].Rainfall = 0
		}
	}

	return dedupe(out)
}

// Merge appends fresh readings to history, then sorts and removes duplicate
// (timestamp, city) pairs, keeping the entry from history.
func Merge(history, fresh []Reading) []Reading {
	all := make([]Reading, 0, len(history)+len(fresh))
	all = append(all, history...)
	all = append(all, fresh...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return dedupe(all)
}

// fill forward-fills then back-fills metric m across the positions idx.
func fill(rs []Reading, idx []int, m Metric) {
	last := Missing()
	for _, i := range idx {
		if v := rs[i].Value(m); !IsMissing(v) {
			last = v
		} else if !IsMissing(last) {
			rs[i].Set(m, last)
		}
	}
	next := Missing()
	for k := len(idx) - 1; k >= 0; k-- {
		i := idx[k]
		if v := rs[i].Value(m); !IsMissing(v) {
			next = v
		} else if !IsMissing(next) {
			rs[i].Set(m, next)
		}
	}
}

type readingKey struct {
	ts   time.Time
	city string
}

func dedupe(rs []Reading) []Reading {
	seen := make(map[readingKey]struct{}, len(rs))
	out := rs[:0]
	for _, r := range rs {
		k := readingKey{ts: r.Timestamp.UTC(), city: r.City}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
