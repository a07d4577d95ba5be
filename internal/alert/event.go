// Package alert turns metric snapshots into threshold alerts and keeps the
// per-process alert log.
package alert

import (
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
)

// Direction is the side of the band a value fell out of.
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Severity grades an alert.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
)

// SeverityFor maps a breach direction to its severity: high breaches are
// HIGH, low breaches are MEDIUM.
func SeverityFor(d Direction) Severity {
	if d == DirectionHigh {
		return SeverityHigh
	}
	return SeverityMedium
}

// Event is one threshold breach. Events are values and never mutated.
type Event struct {
	City      string         `json:"city,omitempty"`
	Metric    climate.Metric `json:"metric"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Direction Direction      `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
}

// Snapshot is a set of metric readings for one city at one time.
type Snapshot struct {
	City   string
	Time   time.Time
	Values map[climate.Metric]float64
}

// SnapshotOf builds a Snapshot from a reading's present measurements.
func SnapshotOf(r climate.Reading) Snapshot {
	return Snapshot{City: r.City, Time: r.Timestamp, Values: r.Values()}
}
