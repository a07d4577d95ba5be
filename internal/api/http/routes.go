package httpapi

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/dashboard"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
	"github.com/i474232898/climate-risk-alerts/internal/metrics"
	"github.com/i474232898/climate-risk-alerts/internal/pipeline"
	"github.com/i474232898/climate-risk-alerts/internal/store"
)

var validate = validator.New()

// Pipeline is the orchestrator surface used by the API.
type Pipeline interface {
	Trigger(ctx context.Context) (uuid.UUID, error)
	State() pipeline.State
	LastResult() (pipeline.Result, bool)
}

// Deps are the components the handlers read from.
type Deps struct {
	Readings climate.Store
	Models   forecast.Store
	Alerts   *alert.Log
	Pipeline Pipeline
	Metrics  *metrics.Metrics
	Themes   *dashboard.Registry
	Cities   []string

	// RunContext is the parent context of manually triggered runs; it
	// outlives the request that started them.
	RunContext context.Context
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.RunContext == nil {
		d.RunContext = context.Background()
	}
	v1 := app.Group("/api/v1")

	v1.Get("/readings/latest", func(c *fiber.Ctx) error {
		q, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reading, err := d.Readings.Latest(q.City)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no readings for requested city")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch readings")
		}

		return c.JSON(reading)
	})

	v1.Get("/readings/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := d.Readings.Range(req.City.City, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no readings for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch reading history")
		}

		return c.JSON(fiber.Map{
			"city":     req.City.City,
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})

	v1.Get("/alerts", func(c *fiber.Ctx) error {
		q := alertsQuery{
			City:     c.Query("city"),
			Severity: c.Query("severity"),
			Limit:    c.QueryInt("limit", 100),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		events := filterAlerts(d.Alerts.Events(), q.City, alert.Severity(q.Severity), time.Time{})
		if len(events) > q.Limit {
			events = events[len(events)-q.Limit:]
		}
		return c.JSON(fiber.Map{
			"count":  len(events),
			"alerts": events,
		})
	})

	v1.Get("/forecast", func(c *fiber.Ctx) error {
		var q forecastQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		key := forecast.Key{City: q.City, Metric: climate.Metric(q.Metric)}
		model, err := d.Models.Load(c.UserContext(), key)
		if err != nil {
			if errors.Is(err, forecast.ErrModelNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no trained model for requested city and metric")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load model")
		}

		points, err := model.Project(q.Hours, time.Hour)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to project forecast")
		}

		return c.JSON(fiber.Map{
			"city":     key.City,
			"metric":   key.Metric,
			"unit":     key.Metric.Unit(),
			"forecast": points,
		})
	})

	v1.Get("/cities", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"configured": d.Cities,
			"with_data":  d.Readings.Cities(),
		})
	})

	v1.Get("/models", func(c *fiber.Ctx) error {
		keys, err := d.Models.Keys(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list models")
		}
		return c.JSON(fiber.Map{"count": len(keys), "models": keys})
	})

	v1.Post("/pipeline/run", func(c *fiber.Ctx) error {
		id, err := d.Pipeline.Trigger(d.RunContext)
		if err != nil {
			if errors.Is(err, pipeline.ErrBusy) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to start pipeline")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": id})
	})

	v1.Get("/pipeline/status", func(c *fiber.Ctx) error {
		body := fiber.Map{"state": d.Pipeline.State()}
		if res, ok := d.Pipeline.LastResult(); ok {
			last := fiber.Map{
				"run_id":      res.RunID,
				"success":     res.OK(),
				"trained":     res.Trained,
				"states":      res.States,
				"started_at":  res.Started,
				"finished_at": res.Finished,
			}
			if !res.OK() {
				last["failed_stage"] = res.Failed
				last["error"] = res.Err.Error()
			}
			body["last_run"] = last
		}
		return c.JSON(body)
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		var buf bytes.Buffer
		if err := d.Metrics.Write(&buf); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to encode metrics")
		}
		c.Set(fiber.HeaderContentType, metrics.ContentType)
		return c.Send(buf.Bytes())
	})

	app.Get("/dashboard", func(c *fiber.Ctx) error {
		city := c.Query("city")
		if city == "" && len(d.Cities) > 0 {
			city = d.Cities[0]
		}
		if city == "" {
			return fiber.NewError(fiber.StatusBadRequest, "city is required")
		}

		now := time.Now().UTC()
		view := dashboard.View{
			City:        city,
			Cities:      d.Cities,
			ThemeParam:  c.Query("theme"),
			Alerts:      filterAlerts(d.Alerts.Events(), city, "", now.Add(-24*time.Hour)),
			GeneratedAt: now,
		}
		if r, err := d.Readings.Latest(city); err == nil {
			view.Latest = &r
		}
		view.Theme = d.Themes.Select(view.ThemeParam, view.Latest)

		key := forecast.Key{City: city, Metric: climate.MetricTemperature}
		if model, err := d.Models.Load(c.UserContext(), key); err == nil {
			if points, err := model.Project(24, time.Hour); err == nil {
				view.Forecast = points
			}
		}

		var buf bytes.Buffer
		if err := dashboard.Render(&buf, view); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to render dashboard")
		}
		c.Type("html", "utf-8")
		return c.Send(buf.Bytes())
	})
}

func filterAlerts(events []alert.Event, city string, sev alert.Severity, since time.Time) []alert.Event {
	out := events[:0:0]
	for _, ev := range events {
		if city != "" && ev.City != city {
			continue
		}
		if sev != "" && ev.Severity != sev {
			continue
		}
		if ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// cityQuery identifies the city a request is about.
type cityQuery struct {
	City string `validate:"required"`
}

func parseCityQuery(c *fiber.Ctx) (cityQuery, error) {
	q := cityQuery{City: c.Query("city")}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	City cityQuery
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	city, err := parseCityQuery(c)
	if err != nil {
		return err
	}
	h.City = city

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// alertsQuery holds the optional filters of the alerts endpoint.
type alertsQuery struct {
	City     string
	Severity string `validate:"omitempty,oneof=HIGH MEDIUM"`
	Limit    int    `validate:"min=1,max=1000"`
}

// forecastQuery holds query parameters for the forecast endpoint.
type forecastQuery struct {
	cityQuery
	Metric string `validate:"oneof=temperature humidity rainfall aqi"`
	Hours  int    `validate:"min=1,max=168"`
}

func (f *forecastQuery) bind(c *fiber.Ctx) error {
	f.City = c.Query("city")
	f.Metric = c.Query("metric", string(climate.MetricTemperature))

	f.Hours = 24
	if s := c.Query("hours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("hours must be an integer")
		}
		f.Hours = n
	}
	return validate.Struct(f)
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
