// Package httpapi serves the record store as JSON over HTTP.
package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/KevoDB/healthrec/pkg/common/log"
	"github.com/KevoDB/healthrec/pkg/record"
	"github.com/KevoDB/healthrec/pkg/store"
	"github.com/KevoDB/healthrec/pkg/telemetry"
)

// Options configures a Server
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       log.Logger
	Telemetry    telemetry.Telemetry

	// Info, when set, is served at /api/v1/info
	Info func() any
}

// Server is the HTTP surface of one store
type Server struct {
	app     *fiber.App
	store   *store.Store
	logger  log.Logger
	metrics Metrics
	tel     telemetry.Telemetry
	info    func() any
}

// New builds the fiber application for st
func New(st *store.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}

	s := &Server{
		store:   st,
		logger:  opts.Logger.WithField("component", telemetry.ComponentHTTP),
		metrics: NewMetrics(opts.Telemetry),
		tel:     opts.Telemetry,
		info:    opts.Info,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "healthrec",
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(s.observe)
	s.routes()
	return s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on address until Shutdown is called
func (s *Server) Listen(address string) error {
	s.logger.Info("HTTP server listening on %s", address)
	return s.app.Listen(address)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.health)
	if h := telemetry.MetricsHandler(s.tel); h != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(h))
	}

	api := s.app.Group("/api/v1")
	if s.info != nil {
		api.Get("/info", func(c *fiber.Ctx) error {
			return c.JSON(s.info())
		})
	}

	patients := api.Group("/patients")
	patients.Post("/", s.createPatient)
	patients.Get("/", s.listPatients)
	patients.Post("/bulk", s.bulkUpdate)
	patients.Get("/:id", s.getPatient)
	patients.Put("/:id", s.updatePatient)
	patients.Delete("/:id", s.deletePatient)
	patients.Get("/:id/presence", s.getPresence)
	patients.Put("/:id/presence", s.setPresence)
	patients.Put("/:id/appointment", s.setAppointment)
	patients.Get("/:id/history", s.history)
}

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
}

// statusOf maps a store error to an HTTP status
func statusOf(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, store.ErrRecordTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrInvalidPayload):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("%s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(code).JSON(errorBody{Error: err.Error()})
}

func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	code := c.Response().StatusCode()
	if err != nil {
		code = statusOf(err)
	}
	route := c.Route().Path
	s.metrics.RecordRequest(c.UserContext(), c.Method(), route, code, time.Since(start))
	s.logger.Debug("%s %s -> %d in %s", c.Method(), c.Path(), code, time.Since(start))
	return err
}

func (s *Server) health(c *fiber.Ctx) error {
	if err := s.store.Fault(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorBody{Error: err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok", "records": s.store.Len()})
}

func patientID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid patient id "+strconv.Quote(c.Params("id")))
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) createPatient(c *fiber.Ctx) error {
	var p record.Payload
	if err := parseBody(c, &p); err != nil {
		return err
	}
	rec, err := s.store.Create(c.UserContext(), p)
	if err != nil {
		return err
	}
	c.Location("/api/v1/patients/" + strconv.FormatUint(rec.ID, 10))
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) getPatient(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rec, err := s.store.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) updatePatient(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var p record.Payload
	if err := parseBody(c, &p); err != nil {
		return err
	}
	rec, err := s.store.Update(c.UserContext(), id, p)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) deletePatient(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	rec, err := s.store.Delete(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// listPatients serves the listing calls. At most one selector applies, in
// this order: q, staff, in_clinic, sort=name, limit/offset.
func (s *Server) listPatients(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var (
		recs []*record.Patient
		err  error
	)
	switch {
	case c.Query("q") != "":
		recs, err = s.store.Search(ctx, c.Query("q"))
	case c.Query("staff") != "":
		recs, err = s.store.SearchByStaff(ctx, c.Query("staff"))
	case c.QueryBool("in_clinic"):
		recs, err = s.store.ListInClinic(ctx)
	case c.Query("sort") == "name":
		recs, err = s.store.SortByName(ctx)
	case c.Query("sort") != "":
		return fiber.NewError(fiber.StatusBadRequest, "unsupported sort "+strconv.Quote(c.Query("sort")))
	case c.Query("limit") != "" || c.Query("offset") != "":
		limit, offset := c.QueryInt("limit", -1), c.QueryInt("offset", 0)
		if limit < 0 || offset < 0 {
			return fiber.NewError(fiber.StatusBadRequest, "limit and offset must be non-negative integers")
		}
		recs, err = s.store.Paginate(ctx, limit, offset)
	default:
		recs, err = s.store.List(ctx)
	}
	if err != nil {
		return err
	}
	return c.JSON(recs)
}

type bulkItem struct {
	ID      uint64         `json:"id"`
	Payload record.Payload `json:"payload"`
}

type bulkResult struct {
	Patient *record.Patient `json:"patient,omitempty"`
	Status  int             `json:"status"`
	Error   string          `json:"error,omitempty"`
}

func (s *Server) bulkUpdate(c *fiber.Ctx) error {
	var req []bulkItem
	if err := parseBody(c, &req); err != nil {
		return err
	}

	items := make([]store.BulkItem, len(req))
	for i, item := range req {
		items[i] = store.BulkItem{ID: item.ID, Payload: item.Payload}
	}

	results := s.store.BulkUpdate(c.UserContext(), items)
	out := make([]bulkResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = bulkResult{Status: statusOf(r.Err), Error: r.Err.Error()}
			continue
		}
		out[i] = bulkResult{Patient: r.Patient, Status: fiber.StatusOK}
	}
	return c.JSON(out)
}

type presence struct {
	InClinic bool `json:"in_clinic"`
}

func (s *Server) getPresence(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	in, err := s.store.InClinic(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(presence{InClinic: in})
}

func (s *Server) setPresence(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req presence
	if err := parseBody(c, &req); err != nil {
		return err
	}
	rec, err := s.store.SetPresence(c.UserContext(), id, req.InClinic)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

type appointment struct {
	At uint64 `json:"at"`
}

func (s *Server) setAppointment(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var req appointment
	if err := parseBody(c, &req); err != nil {
		return err
	}
	rec, err := s.store.SetNextAppointment(c.UserContext(), id, req.At)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (s *Server) history(c *fiber.Ctx) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	changes, err := s.store.History(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(changes)
}
