package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
	"github.com/i474232898/climate-risk-alerts/internal/metrics"
	"github.com/i474232898/climate-risk-alerts/internal/notify"
	"github.com/i474232898/climate-risk-alerts/internal/store"
)

// Paths locates the pipeline's CSV files.
type Paths struct {
	Realtime  string
	Processed string
	Combined  string
	AlertLog  string
}

// Service implements Stages over the collector, CSV files, trainer and
// alerting components.
type Service struct {
	Locations  []climate.Location
	Paths      Paths
	Collector  *climate.Collector
	Latest     climate.Store
	Trainer    *forecast.Trainer
	Forecasts  *alert.ForecastJob
	Evaluator  *alert.Evaluator
	Log        *alert.Log
	Dispatcher *notify.Dispatcher
	Recipients notify.Recipients
	Metrics    *metrics.Metrics

	// LiveMaxAge bounds how old a latest reading may be and still be
	// evaluated. Zero means no limit.
	LiveMaxAge time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	evaluated map[string]time.Time // city -> timestamp of last evaluated reading
}

// Collect fetches a reading per city and overwrites the realtime CSV.
func (s *Service) Collect(ctx context.Context) error {
	readings, err := s.Collector.Collect(ctx, s.Locations)
	if err != nil {
		return err
	}
	if err := store.WriteReadings(s.Paths.Realtime, readings); err != nil {
		return err
	}
	if s.Metrics != nil {
		s.Metrics.ReadingsStored.Add(int64(len(readings)))
	}
	return nil
}

// Preprocess cleans the realtime CSV into the processed CSV and merges it
// into the combined training history.
func (s *Service) Preprocess(_ context.Context) error {
	raw, err := store.ReadReadings(s.Paths.Realtime)
	if err != nil {
		return err
	}
	processed := climate.Preprocess(raw)
	if len(processed) == 0 {
		return fmt.Errorf("no usable records in %s", s.Paths.Realtime)
	}
	if err := store.WriteReadings(s.Paths.Processed, processed); err != nil {
		return err
	}

	history, err := store.ReadReadingsIfExists(s.Paths.Combined)
	if err != nil {
		return err
	}
	combined := climate.Merge(history, processed)
	if err := store.WriteReadings(s.Paths.Combined, combined); err != nil {
		return err
	}
	slog.Info("pipeline: preprocessed readings", "records", len(processed), "history", len(combined))
	return nil
}

// TrainAll fits every (city, metric) model from the combined history.
func (s *Service) TrainAll(ctx context.Context) error {
	history, err := store.ReadReadings(s.Paths.Combined)
	if err != nil {
		return err
	}
	report, err := s.Trainer.TrainAll(ctx, history)
	if err != nil {
		return err
	}
	slog.Info("pipeline: training finished",
		"trained", len(report.Trained), "skipped", len(report.Skipped), "failed", len(report.Failed))
	return nil
}

// AlertAll checks each city's temperature forecast and latest reading,
// records and dispatches every resulting event, then flushes the alert log.
// Each collected reading is evaluated at most once. If ctx is cancelled the
// remaining cities are skipped but the events already recorded are flushed.
func (s *Service) AlertAll(ctx context.Context) error {
	total := 0
	var runErr error
	for _, loc := range s.Locations {
		if runErr = ctx.Err(); runErr != nil {
			break
		}

		events := s.Forecasts.Run(ctx, loc.City)
		events = append(events, s.liveEvents(loc.City)...)

		for _, ev := range events {
			s.Log.Record(ev)
			if s.Metrics != nil {
				s.Metrics.Alerts.Inc(string(ev.Metric), string(ev.Severity))
			}
			slog.Warn("pipeline: alert raised", "city", ev.City, "metric", ev.Metric,
				"value", ev.Value, "threshold", ev.Threshold, "severity", ev.Severity)
			s.Dispatcher.Dispatch(ctx, ev, s.Recipients)
		}
		total += len(events)
	}

	n, err := s.Log.Flush(s.Paths.AlertLog)
	if err != nil {
		return errors.Join(runErr, err)
	}
	slog.Info("pipeline: alert check finished", "events", total, "logged", n)
	return runErr
}

// liveEvents evaluates the city's latest reading unless it was already
// evaluated or is older than LiveMaxAge.
func (s *Service) liveEvents(city string) []alert.Event {
	if s.Latest == nil {
		return nil
	}
	latest, err := s.Latest.Latest(city)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("pipeline: latest reading unavailable", "city", city, "err", err)
		}
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if s.LiveMaxAge > 0 && now().Sub(latest.Timestamp) > s.LiveMaxAge {
		slog.Debug("pipeline: latest reading too old to evaluate", "city", city, "timestamp", latest.Timestamp)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.evaluated[city]; ok && !latest.Timestamp.After(last) {
		return nil
	}
	if s.evaluated == nil {
		s.evaluated = make(map[string]time.Time)
	}
	s.evaluated[city] = latest.Timestamp
	return s.Evaluator.Evaluate(alert.SnapshotOf(latest))
}
