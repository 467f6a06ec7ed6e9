package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/service"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

// BackendConfig configures the provisioning backend listener.
type BackendConfig struct {
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Backend serves the device registry consumed by the operator's
// network gateway.
type Backend struct {
	app      *fiber.App
	cfg      BackendConfig
	registry *service.RegistryService
	hostapd  Pinger
	logger   *slog.Logger
}

// NewBackend builds the backend server. hostapd may be nil when the
// control interface is disabled.
func NewBackend(cfg BackendConfig, registry *service.RegistryService, hostapd Pinger, logger *slog.Logger) *Backend {
	app := fiber.New(fiber.Config{
		IdleTimeout:           cfg.ReadTimeout,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		AppName:               "dpp-backend",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})
	b := &Backend{app: app, cfg: cfg, registry: registry, hostapd: hostapd, logger: logger}
	b.registerRoutes()
	return b
}

// Start listens and serves HTTP traffic.
func (b *Backend) Start() error {
	return b.app.Listen(b.cfg.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (b *Backend) Shutdown(ctx context.Context) error {
	return b.app.ShutdownWithContext(ctx)
}

func (b *Backend) registerRoutes() {
	b.app.Use(recover.New())
	b.app.Use(requestLogger(b.logger))
	b.app.Get("/healthz", b.handleHealth)

	for _, prefix := range []string{"/devices", "/api/devices"} {
		devices := b.app.Group(prefix, b.requireToken)
		devices.Get("/", b.handleList)
		devices.Post("/new", b.handleCreate)
		devices.Get("/:id", b.handleGet)
		devices.Put("/:id", b.handleUpdate)
	}
}

func (b *Backend) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{"status": "ok"}
	if b.hostapd != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()
		if err := b.hostapd.Ping(ctx); err != nil {
			resp["hostapd"] = fiber.Map{"status": "degraded", "error": err.Error()}
		} else {
			resp["hostapd"] = fiber.Map{"status": "up"}
		}
	}
	return c.Status(http.StatusOK).JSON(resp)
}

func (b *Backend) handleList(c *fiber.Ctx) error {
	devices, err := b.registry.List(c.UserContext())
	if err != nil {
		return b.fail(c, err)
	}
	return c.JSON(model.Success(devices))
}

func (b *Backend) handleCreate(c *fiber.Ctx) error {
	var req model.CreateDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	res, err := b.registry.Create(c.UserContext(), req)
	if errors.Is(err, service.ErrConfigureFailed) {
		return c.Status(http.StatusBadGateway).JSON(model.APIResponse[model.CreateDeviceResult]{
			Success: false,
			Data:    res,
			Error:   err.Error(),
		})
	}
	if err != nil {
		return b.fail(c, err)
	}
	return c.JSON(model.Success(res).WithMessage(res.Message))
}

func (b *Backend) handleGet(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid id"))
	}
	rec, err := b.registry.Get(c.UserContext(), id)
	if err != nil {
		return b.fail(c, err)
	}
	return c.JSON(model.Success(rec))
}

func (b *Backend) handleUpdate(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return c.Status(http.StatusBadRequest).JSON(model.Error("invalid id"))
	}
	var patch model.DevicePatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(http.StatusBadRequest).JSON(model.Error("malformed request body"))
	}
	rec, err := b.registry.Update(c.UserContext(), id, patch)
	if err != nil {
		return b.fail(c, err)
	}
	return c.JSON(model.Success(rec))
}

func (b *Backend) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.Status(http.StatusBadRequest).JSON(model.Error(err.Error()))
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(http.StatusNotFound).JSON(model.Error("device not found"))
	}
	b.logger.Error("backend request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(http.StatusInternalServerError).JSON(model.Error(err.Error()))
}

func (b *Backend) requireToken(c *fiber.Ctx) error {
	if b.cfg.Token == "" {
		return c.Next()
	}
	if subtle.ConstantTimeCompare([]byte(c.Get("API-TOKEN")), []byte(b.cfg.Token)) != 1 {
		return c.Status(http.StatusUnauthorized).JSON(model.Error("invalid api token"))
	}
	return c.Next()
}

func parseID(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
