package api

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dantezy/polyweather/internal/deb"
	"github.com/dantezy/polyweather/internal/engine"
	"github.com/dantezy/polyweather/internal/store"
	"github.com/dantezy/polyweather/internal/weather"
)

var validate = validator.New()

// AnomalyNotifier is told about distributions that needed a best-effort
// fallback.
type AnomalyNotifier interface {
	NotifyAnomaly(s *engine.Settlement) error
}

// Options configures the routes. All fields are optional.
type Options struct {
	Notifier            AnomalyNotifier
	NotifyLowConfidence bool
	Now                 func() time.Time
}

// notifyKeepDays is how many days before the newest notified date a
// dedup entry is kept.
const notifyKeepDays = 2

type handler struct {
	eng  *engine.Engine
	opts Options

	mu       sync.Mutex
	notified map[string]weather.Date // "city/date/flags" -> date
	newest   weather.Date
}

// NewApp returns a fiber app with the JSON error handler used by all routes.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "polyweather",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, eng *engine.Engine, opts Options) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &handler{eng: eng, opts: opts}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": "polyweather"})
	})

	v1 := app.Group("/api/v1")
	v1.Get("/cities", h.cities)
	v1.Get("/forecast/:city", h.forecast)
	v1.Get("/distribution/:city", h.distribution)
	v1.Post("/forecasts", h.putForecast)
	v1.Post("/observations", h.putObservation)
	v1.Post("/ensembles", h.putEnsemble)
	v1.Post("/peaks", h.putPeak)
	v1.Post("/finalize", h.finalize)
}

func (h *handler) cities(c *fiber.Ctx) error {
	return c.JSON(h.eng.Cities())
}

func (h *handler) forecast(c *fiber.Ctx) error {
	city := c.Params("city")
	date, err := h.date(city, c.Query("date"))
	if err != nil {
		return err
	}
	fc, err := h.eng.BlendedForecast(city, date)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fc)
}

type outcomeProb struct {
	weather.Outcome
	Prob float64 `json:"prob"`
}

type distributionResponse struct {
	*engine.Settlement
	Phase    string        `json:"phase"`
	Flags    []string      `json:"flags"`
	Outcomes []outcomeProb `json:"outcomes,omitempty"`
}

func (h *handler) distribution(c *fiber.Ctx) error {
	city := c.Params("city")
	now := h.opts.Now()
	if q := c.Query("now"); q != "" {
		t, err := parseTime(q)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		now = t
	}
	var outcomes []weather.Outcome
	if q := c.Query("outcomes"); q != "" {
		for _, label := range strings.Split(q, ",") {
			o, err := weather.ParseOutcome(label)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			outcomes = append(outcomes, o)
		}
	}
	date, err := h.date(city, c.Query("date"))
	if err != nil {
		return err
	}

	s, err := h.eng.SettlementDistribution(city, date, now)
	if err != nil {
		return toHTTPError(err)
	}
	h.maybeNotify(s)

	flags := s.Distribution.Flags.Strings()
	if flags == nil {
		flags = []string{}
	}
	resp := distributionResponse{
		Settlement: s,
		Phase:      s.Distribution.Phase.String(),
		Flags:      flags,
	}
	for _, o := range outcomes {
		resp.Outcomes = append(resp.Outcomes, outcomeProb{Outcome: o, Prob: s.Distribution.OutcomeProb(o)})
	}
	return c.JSON(resp)
}

func (h *handler) maybeNotify(s *engine.Settlement) {
	if h.opts.Notifier == nil {
		return
	}
	d := s.Distribution
	if !d.FloorExhausted() && !(h.opts.NotifyLowConfidence && d.LowConfidence()) {
		return
	}
	key := fmt.Sprintf("%s/%s/%d", s.Forecast.City, s.Forecast.Date, d.Flags)
	if !h.firstNotice(key, s.Forecast.Date) {
		return
	}
	go func() {
		if err := h.opts.Notifier.NotifyAnomaly(s); err != nil {
			log.Printf("[api] anomaly notification failed for %s: %v", key, err)
		}
	}()
}

// firstNotice records key and reports whether it was new. Entries older than
// notifyKeepDays before the newest date seen are dropped.
func (h *handler) firstNotice(key string, date weather.Date) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.notified == nil {
		h.notified = make(map[string]weather.Date)
	}
	if h.newest.Before(date) {
		h.newest = date
		cutoff := date.AddDays(-notifyKeepDays)
		for k, d := range h.notified {
			if d.Before(cutoff) {
				delete(h.notified, k)
			}
		}
	}
	if _, seen := h.notified[key]; seen {
		return false
	}
	h.notified[key] = date
	return true
}

type forecastRequest struct {
	City  string   `json:"city" validate:"required"`
	Date  string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Model string   `json:"model" validate:"required"`
	Value *float64 `json:"value" validate:"required"`
}

func (h *handler) putForecast(c *fiber.Ctx) error {
	var req forecastRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	model, err := weather.ParseModel(req.Model)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	date, err := h.date(req.City, req.Date)
	if err != nil {
		return err
	}
	rec, err := h.eng.RecordForecast(c.UserContext(), req.City, date, model, *req.Value)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(rec)
}

type observationRequest struct {
	City     string    `json:"city" validate:"required"`
	Date     string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	MaxSoFar *float64  `json:"max_so_far" validate:"required"`
	Current  *float64  `json:"current"`
	At       time.Time `json:"at"`
	Final    bool      `json:"final"`
}

func (h *handler) putObservation(c *fiber.Ctx) error {
	var req observationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date, err := h.date(req.City, req.Date)
	if err != nil {
		return err
	}
	rec, err := h.eng.RecordObservation(c.UserContext(), req.City, date, store.ObservationUpdate{
		MaxSoFar: *req.MaxSoFar,
		Current:  req.Current,
		At:       req.At,
		Final:    req.Final,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(rec)
}

type ensembleRequest struct {
	City   string   `json:"city" validate:"required"`
	Date   string   `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Median *float64 `json:"median" validate:"required"`
	P10    *float64 `json:"p10" validate:"required"`
	P90    *float64 `json:"p90" validate:"required"`
}

func (h *handler) putEnsemble(c *fiber.Ctx) error {
	var req ensembleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date, err := h.date(req.City, req.Date)
	if err != nil {
		return err
	}
	rec, err := h.eng.RecordEnsemble(c.UserContext(), req.City, date, weather.EnsembleSample{
		Median: *req.Median,
		P10:    *req.P10,
		P90:    *req.P90,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(rec)
}

type peakRequest struct {
	City  string    `json:"city" validate:"required"`
	Date  string    `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

func (h *handler) putPeak(c *fiber.Ctx) error {
	var req peakRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date, err := h.date(req.City, req.Date)
	if err != nil {
		return err
	}
	rec, err := h.eng.RecordPeak(c.UserContext(), req.City, date, weather.PeakWindow{Start: req.Start, End: req.End})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(rec)
}

type finalizeRequest struct {
	City string `json:"city" validate:"required"`
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

func (h *handler) finalize(c *fiber.Ctx) error {
	var req finalizeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rec, err := h.eng.Finalize(c.UserContext(), req.City, weather.Date(req.Date))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(rec)
}

// date parses s, defaulting to the city's local today.
func (h *handler) date(city, s string) (weather.Date, error) {
	if s == "" {
		d, err := h.eng.Today(city, h.opts.Now())
		if err != nil {
			return "", toHTTPError(err)
		}
		return d, nil
	}
	d, err := weather.ParseDate(s)
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return d, nil
}

func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, engine.ErrUnknownCity):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, deb.ErrNoData), errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalid):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMaxRegression):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, store.ErrLockContention):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("[api] internal error: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}
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
