package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/config"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/history"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/service"
	"github.com/qrdia/dpp-provisioner/internal/session"
)

// DemoToggle reads and flips the simulated-backend flag.
type DemoToggle interface {
	DemoMode(ctx context.Context) (bool, error)
	SetDemoMode(ctx context.Context, enabled bool) error
}

// FailureInjector makes the simulated backend fail chosen devices.
type FailureInjector interface {
	SetFailing(mac string, failing bool)
	Failing() []string
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the operator HTTP API.
type Server struct {
	app          *fiber.App
	provisioning *service.ProvisioningService
	historySvc   *service.HistoryService
	demo         DemoToggle
	authSvc      *service.AuthService
	backend      Pinger
	failures     FailureInjector
	logger       *slog.Logger
	cfg          *config.Config
}

// New builds the operator server. backend may be nil when no network
// backend is configured.
func New(cfg *config.Config, provisioning *service.ProvisioningService, historySvc *service.HistoryService, demo DemoToggle, authSvc *service.AuthService, backend Pinger, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.HTTP.ReadTimeout,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		AppName:               "dpp-provisioner",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})
	s := &Server{
		app:          app,
		provisioning: provisioning,
		historySvc:   historySvc,
		demo:         demo,
		authSvc:      authSvc,
		backend:      backend,
		logger:       logger,
		cfg:          cfg,
	}
	s.registerRoutes()
	return s
}

// WithFailureInjection exposes the simulator's per-device failure switch
// under /api/settings/demo/failures.
func (s *Server) WithFailureInjection(inj FailureInjector) *Server {
	s.failures = inj
	return s
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Use(recover.New())
	s.app.Use(requestLogger(s.logger))
	s.app.Get("/healthz", s.handleHealth)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Get("/auth/profile", s.handleProfile)

	api := s.app.Group("/api", s.requireAuth)

	sess := api.Group("/session")
	sess.Post("/scan", s.handleScan)
	sess.Get("/devices", s.handleSessionList)
	sess.Delete("/devices", s.handleSessionClear)
	sess.Delete("/devices/:mac", s.handleSessionRemove)
	sess.Post("/devices/:mac/apply", s.handleApplySingle)
	sess.Post("/apply", s.handleApplyAll)

	hist := api.Group("/history")
	hist.Get("/", s.handleHistoryList)
	hist.Get("/count/status", s.handleHistoryCountStatus)
	hist.Get("/count/room", s.handleHistoryCountRoom)
	hist.Get("/count/date", s.handleHistoryCountDate)
	hist.Post("/sync", s.handleHistorySync)
	hist.Put("/:id", s.handleHistoryUpdate)

	api.Get("/settings/demo", s.handleDemoGet)
	api.Put("/settings/demo", s.handleDemoSet)
	api.Get("/settings/demo/failures", s.handleFailuresGet)
	api.Put("/settings/demo/failures", s.handleFailuresSet)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":  "ok",
		"session": len(s.provisioning.Session()),
	}
	if demo, err := s.demo.DemoMode(c.UserContext()); err == nil {
		resp["demo"] = demo
	}
	if s.backend != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := s.backend.Ping(ctx); err != nil {
			resp["backend"] = fiber.Map{"status": "degraded", "error": err.Error()}
		} else {
			resp["backend"] = fiber.Map{"status": "up"}
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.JSON(model.Success(fiber.Map{
			"token":    "",
			"enabled":  false,
			"username": "guest",
		}).WithMessage("login not required"))
	}
	token, err := s.authSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error(err.Error()))
	}
	return c.JSON(model.Success(fiber.Map{
		"token":    token,
		"enabled":  true,
		"username": s.authSvc.Username(),
	}))
}

func (s *Server) handleProfile(c *fiber.Ctx) error {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.JSON(model.Success(fiber.Map{
			"enabled":  false,
			"username": "guest",
		}))
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	return c.JSON(model.Success(fiber.Map{
		"enabled":  true,
		"username": claims.Username,
	}))
}

func (s *Server) handleScan(c *fiber.Ctx) error {
	var req struct {
		Payload string `json:"payload"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	rec, err := s.provisioning.Scan(c.UserContext(), req.Payload)
	if errors.Is(err, service.ErrDuplicateIgnored) {
		return c.JSON(model.Success(rec).WithMessage(err.Error()))
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(model.Success(rec))
}

func (s *Server) handleSessionList(c *fiber.Ctx) error {
	return c.JSON(model.Success(s.provisioning.Session()))
}

func (s *Server) handleSessionClear(c *fiber.Ctx) error {
	s.provisioning.ClearSession()
	return c.JSON(model.Success([]model.DeviceRecord{}).WithMessage("session cleared"))
}

func (s *Server) handleSessionRemove(c *fiber.Ctx) error {
	if err := s.provisioning.Remove(decodePathSegment(c.Params("mac"))); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(s.provisioning.Session()))
}

func (s *Server) handleApplySingle(c *fiber.Ctx) error {
	var cfg model.WiFiConfig
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	rec, err := s.provisioning.ApplySingle(c.UserContext(), decodePathSegment(c.Params("mac")), cfg)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(rec))
}

func (s *Server) handleApplyAll(c *fiber.Ctx) error {
	var cfg model.WiFiConfig
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	summary, err := s.provisioning.ApplyAll(c.UserContext(), cfg)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(summary))
}

func (s *Server) handleHistoryList(c *fiber.Ctx) error {
	filter, err := parseHistoryFilter(c)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	}
	page, err := s.historySvc.Query(c.UserContext(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(page))
}

func (s *Server) handleHistoryCountStatus(c *fiber.Ctx) error {
	data, err := s.historySvc.CountByStatus(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(data))
}

func (s *Server) handleHistoryCountRoom(c *fiber.Ctx) error {
	data, err := s.historySvc.CountByRoom(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(data))
}

func (s *Server) handleHistoryCountDate(c *fiber.Ctx) error {
	data, err := s.historySvc.CountByDate(c.UserContext(), c.Query("dateType", "day"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(data))
}

func (s *Server) handleHistoryUpdate(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid id"))
	}
	var patch model.DevicePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	rec, err := s.provisioning.UpdateHistory(c.UserContext(), id, patch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(rec))
}

func (s *Server) handleHistorySync(c *fiber.Ctx) error {
	devices, err := s.provisioning.SyncHistory(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(devices))
}

func (s *Server) handleDemoGet(c *fiber.Ctx) error {
	enabled, err := s.demo.DemoMode(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(model.Success(fiber.Map{"enabled": enabled}))
}

func (s *Server) handleDemoSet(c *fiber.Ctx) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("enabled is required"))
	}
	if err := s.demo.SetDemoMode(c.UserContext(), *req.Enabled); err != nil {
		return s.fail(c, err)
	}
	s.logger.Info("demo mode changed", "enabled", *req.Enabled)
	return c.JSON(model.Success(fiber.Map{"enabled": *req.Enabled}))
}

func (s *Server) handleFailuresGet(c *fiber.Ctx) error {
	if s.failures == nil {
		return c.Status(http.StatusNotFound).JSON(model.Error("failure injection not available"))
	}
	return c.JSON(model.Success(fiber.Map{"macs": s.failures.Failing()}))
}

func (s *Server) handleFailuresSet(c *fiber.Ctx) error {
	if s.failures == nil {
		return c.Status(http.StatusNotFound).JSON(model.Error("failure injection not available"))
	}
	var req struct {
		MACAddress string `json:"mac_address"`
		Failing    *bool  `json:"failing"`
	}
	if err := c.BodyParser(&req); err != nil || req.MACAddress == "" || req.Failing == nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("mac_address and failing are required"))
	}
	s.failures.SetFailing(req.MACAddress, *req.Failing)
	s.logger.Info("simulated failure changed", "mac", model.NormalizeMAC(req.MACAddress), "failing", *req.Failing)
	return c.JSON(model.Success(fiber.Map{"macs": s.failures.Failing()}))
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(model.Error(err.Error()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bootstrap.ErrMalformed), errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotInSession), errors.Is(err, history.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyInProgress), errors.Is(err, session.ErrAlreadyConfigured):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrTransient), errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodePathSegment(value string) string {
	if value == "" {
		return value
	}
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return value
	}
	return decoded
}

func parseHistoryFilter(c *fiber.Ctx) (model.HistoryFilter, error) {
	page, err := positiveQuery(c, "page", 1)
	if err != nil {
		return model.HistoryFilter{}, err
	}
	pageSize, err := positiveQuery(c, "pageSize", 10)
	if err != nil {
		return model.HistoryFilter{}, err
	}
	return model.HistoryFilter{
		MACAddress: c.Query("mac"),
		Status:     model.Status(strings.ToLower(c.Query("status"))),
		Room:       c.Query("room"),
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// positiveQuery reads an optional query parameter that must be a
// positive integer when present.
func positiveQuery(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func (s *Server) requireAuth(c *fiber.Ctx) error {
	if s.authSvc == nil || !s.authSvc.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get("Authorization"))
	if token == "" {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("not logged in"))
	}
	claims, err := s.authSvc.Validate(token)
	if err != nil {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("session expired"))
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
