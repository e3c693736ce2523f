package httpapi

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-collector/internal/collector"
	"github.com/i474232898/weather-collector/internal/store"
	"github.com/i474232898/weather-collector/internal/weather"
)

var validate = validator.New()

// ReadingQuerier serves stored readings.
type ReadingQuerier interface {
	QueryReadings(ctx context.Context, filter weather.ReadingFilter) ([]weather.Reading, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the HTTP API. Health is optional.
type Dependencies struct {
	Collectors *collector.Service
	Readings   ReadingQuerier
	Source     collector.WeatherSource
	Health     Pinger
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":     "ok",
			"service":    "weather-collector",
			"collectors": len(deps.Collectors.List()),
		}
		if deps.Health != nil {
			if err := deps.Health.Ping(c.UserContext()); err != nil {
				body["status"] = "degraded"
				body["store"] = err.Error()
				return c.Status(fiber.StatusServiceUnavailable).JSON(body)
			}
		}
		return c.JSON(body)
	})

	registerCollectorRoutes(api.Group("/collectors"), deps.Collectors)
	registerWeatherRoutes(api.Group("/weather"), deps)
}

func registerCollectorRoutes(r fiber.Router, svc *collector.Service) {
	// Running collectors by default; ?all=true lists every persisted config.
	r.Get("/", func(c *fiber.Ctx) error {
		if c.QueryBool("all") {
			configs, err := svc.Configs(c.UserContext())
			if err != nil {
				return toFiberError(err)
			}
			if configs == nil {
				configs = []collector.Config{}
			}
			return c.JSON(configs)
		}
		return c.JSON(svc.List())
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		snap, ok := svc.Status(c.Params("id"))
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "collector not found")
		}
		return c.JSON(snap)
	})

	r.Post("/", func(c *fiber.Ctx) error {
		var draft collector.Draft
		if err := c.BodyParser(&draft); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		cfg, err := svc.Create(c.UserContext(), draft)
		if err != nil {
			return toFiberError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(cfg)
	})

	r.Put("/:id", func(c *fiber.Ctx) error {
		var patch collector.Patch
		if err := c.BodyParser(&patch); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}

		cfg, err := svc.Update(c.UserContext(), c.Params("id"), patch)
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(cfg)
	})

	r.Delete("/:id", func(c *fiber.Ctx) error {
		ok, err := svc.Delete(c.UserContext(), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "collector not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/:id/start", func(c *fiber.Ctx) error {
		snap, err := svc.Start(c.UserContext(), c.Params("id"))
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(snap)
	})

	r.Post("/:id/stop", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if err := svc.Stop(c.UserContext(), id); err != nil {
			return toFiberError(err)
		}
		return c.JSON(fiber.Map{"id": id, "status": "stopped"})
	})
}

func registerWeatherRoutes(r fiber.Router, deps Dependencies) {
	r.Get("/", func(c *fiber.Ctx) error {
		var q weatherQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := deps.Readings.QueryReadings(c.UserContext(), q.filter())
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(nonNil(readings))
	})

	r.Get("/location/:location", func(c *fiber.Ctx) error {
		location, err := pathParam(c, "location")
		if err != nil {
			return err
		}
		readings, err := deps.Readings.QueryReadings(c.UserContext(), weather.ReadingFilter{
			Location: location,
			Limit:    1,
		})
		if err != nil {
			return toFiberError(err)
		}
		if len(readings) == 0 {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.JSON(readings[0])
	})

	r.Get("/collector/:id", func(c *fiber.Ctx) error {
		id, err := pathParam(c, "id")
		if err != nil {
			return err
		}
		readings, err := deps.Readings.QueryReadings(c.UserContext(), weather.ReadingFilter{
			CollectorID: id,
		})
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(nonNil(readings))
	})

	// Live fetch, nothing is persisted.
	r.Get("/current/:location", func(c *fiber.Ctx) error {
		location, err := pathParam(c, "location")
		if err != nil {
			return err
		}

		var reading weather.Reading
		if c.Query("lat") != "" && c.Query("lon") != "" {
			var pt coordinatesQuery
			if pt, err = parseCoordinates(c); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			reading, err = deps.Source.FetchByCoordinates(c.UserContext(), pt.Lat, pt.Lon)
		} else {
			reading, err = deps.Source.FetchByCity(c.UserContext(), location)
		}
		if err != nil {
			return toFiberError(err)
		}
		return c.JSON(reading)
	})
}

// pathParam returns the URL-decoded route parameter key.
func pathParam(c *fiber.Ctx, key string) (string, error) {
	v, err := url.PathUnescape(c.Params(key))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid "+key)
	}
	return v, nil
}

// toFiberError maps domain errors to HTTP status codes.
func toFiberError(err error) error {
	var ve *collector.ValidationError
	switch {
	case errors.As(err, &ve):
		return fiber.NewError(fiber.StatusBadRequest, ve.Error())
	case errors.Is(err, collector.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "collector not found")
	case errors.Is(err, collector.ErrNotRunning):
		return fiber.NewError(fiber.StatusNotFound, "collector not found or not running")
	case errors.Is(err, store.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, weather.ErrNoProviders), isProviderError(err):
		return fiber.NewError(fiber.StatusBadGateway, "failed to fetch weather data")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
}

func isProviderError(err error) bool {
	var pe *weather.ProviderError
	return errors.As(err, &pe)
}

func nonNil(readings []weather.Reading) []weather.Reading {
	if readings == nil {
		return []weather.Reading{}
	}
	return readings
}

// weatherQuery holds query parameters for the readings endpoint.
type weatherQuery struct {
	Location    string
	CollectorID string
	From        time.Time
	To          time.Time `validate:"omitempty,gtefield=From"`
	Limit       int       `validate:"gte=0,lte=1000"`
}

func (q *weatherQuery) bind(c *fiber.Ctx) error {
	q.Location = c.Query("location")
	q.CollectorID = c.Query("collector_id")
	q.Limit = c.QueryInt("limit", 0)

	var err error
	if s := c.Query("startDate"); s != "" {
		if q.From, err = parseTime(s); err != nil {
			return err
		}
	}
	if s := c.Query("endDate"); s != "" {
		if q.To, err = parseTime(s); err != nil {
			return err
		}
	}
	return nil
}

func (q weatherQuery) filter() weather.ReadingFilter {
	f := weather.ReadingFilter{
		Location:    q.Location,
		CollectorID: q.CollectorID,
		Limit:       q.Limit,
	}
	if !q.From.IsZero() {
		from := q.From
		f.From = &from
	}
	if !q.To.IsZero() {
		to := q.To
		f.To = &to
	}
	return f
}

type coordinatesQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

func parseCoordinates(c *fiber.Ctx) (coordinatesQuery, error) {
	var q coordinatesQuery
	var err error
	if q.Lat, err = strconv.ParseFloat(c.Query("lat"), 64); err != nil {
		return q, errors.New("invalid lat")
	}
	if q.Lon, err = strconv.ParseFloat(c.Query("lon"), 64); err != nil {
		return q, errors.New("invalid lon")
	}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// parseTime accepts RFC3339, a plain date or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateOnly, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339, YYYY-MM-DD or unix seconds")
}
