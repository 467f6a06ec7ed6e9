package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/crypto"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

var (
	// ErrInvalidRequest marks a create or update the registry refuses.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrConfigureFailed is returned when the device was stored but the
	// DPP exchange did not complete. The stored record is in error.
	ErrConfigureFailed = errors.New("dpp configuration failed")
)

// Configurator performs the DPP exchange with one enrollee.
type Configurator interface {
	Configure(ctx context.Context, req model.CreateDeviceRequest) error
}

// NopConfigurator accepts every device without talking to hostapd.
type NopConfigurator struct{}

func (NopConfigurator) Configure(context.Context, model.CreateDeviceRequest) error { return nil }

// RegistryService is the backend's device table: it stores provisioning
// requests, runs the configurator, and records the outcome.
type RegistryService struct {
	repo         storage.DeviceRepository
	configurator Configurator
	sealer       *crypto.Sealer
	logger       *slog.Logger
}

// NewRegistryService builds the registry. sealer may be nil, in which
// case Wi-Fi passwords are stored as given.
func NewRegistryService(repo storage.DeviceRepository, configurator Configurator, sealer *crypto.Sealer, logger *slog.Logger) *RegistryService {
	if configurator == nil {
		configurator = NopConfigurator{}
	}
	return &RegistryService{repo: repo, configurator: configurator, sealer: sealer, logger: logger}
}

// Create stores the device as configuring, runs the configurator and
// persists configured or error.
func (s *RegistryService) Create(ctx context.Context, req model.CreateDeviceRequest) (model.CreateDeviceResult, error) {
	if err := req.Validate(); err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.MACAddress = model.NormalizeMAC(req.MACAddress)

	password, err := s.seal(req.Password)
	if err != nil {
		return model.CreateDeviceResult{}, err
	}
	device := &model.DeviceRecord{
		MACAddress: req.MACAddress,
		Channel:    req.Channel,
		Key:        req.Key,
		Status:     model.StatusConfiguring,
		SSID:       req.SSID,
		Password:   password,
	}
	if err := s.repo.CreateDevice(ctx, device); err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("store device: %w", err)
	}

	configErr := s.configurator.Configure(ctx, req)
	message := "DPP configuration applied"
	device.Status = model.StatusConfigured
	if configErr != nil {
		device.Status = model.StatusError
		message = configErr.Error()
	}
	// Record the outcome even if the caller has gone away.
	if err := s.repo.SaveDevice(context.WithoutCancel(ctx), device); err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("store device status: %w", err)
	}

	result := model.CreateDeviceResult{
		ID:         device.ID,
		MACAddress: device.MACAddress,
		Status:     device.Status,
		Message:    message,
		Date:       device.Date,
	}
	if configErr != nil {
		s.logger.WarnContext(ctx, "dpp configuration failed",
			"id", device.ID,
			"mac", device.MACAddress,
			"key", bootstrap.Fingerprint(device.Key),
			"error", configErr,
		)
		return result, fmt.Errorf("%w: %v", ErrConfigureFailed, configErr)
	}
	s.logger.InfoContext(ctx, "device registered", "id", device.ID, "mac", device.MACAddress, "ssid", device.SSID)
	return result, nil
}

// List returns every device, newest first, with passwords opened.
func (s *RegistryService) List(ctx context.Context) ([]model.DeviceRecord, error) {
	devices, err := s.repo.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeviceRecord, 0, len(devices))
	for _, d := range devices {
		rec, err := s.open(*d)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns one device by id.
func (s *RegistryService) Get(ctx context.Context, id int64) (model.DeviceRecord, error) {
	device, err := s.repo.GetDevice(ctx, id)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	return s.open(*device)
}

// Update applies a partial edit. Unknown ids return storage.ErrNotFound.
func (s *RegistryService) Update(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	if err := patch.Validate(); err != nil {
		return model.DeviceRecord{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	device, err := s.repo.GetDevice(ctx, id)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	if patch.Password != nil {
		sealed, err := s.seal(*patch.Password)
		if err != nil {
			return model.DeviceRecord{}, err
		}
		patch.Password = &sealed
	}
	patch.Apply(device)
	if err := s.repo.SaveDevice(ctx, device); err != nil {
		return model.DeviceRecord{}, err
	}
	return s.open(*device)
}

func (s *RegistryService) seal(password string) (string, error) {
	if s.sealer == nil {
		return password, nil
	}
	sealed, err := s.sealer.Seal(password)
	if err != nil {
		return "", fmt.Errorf("seal password: %w", err)
	}
	return sealed, nil
}

func (s *RegistryService) open(rec model.DeviceRecord) (model.DeviceRecord, error) {
	if s.sealer == nil {
		return rec, nil
	}
	plain, err := s.sealer.Open(rec.Password)
	if err != nil {
		return model.DeviceRecord{}, fmt.Errorf("open password of device %d: %w", rec.ID, err)
	}
	rec.Password = plain
	return rec, nil
}
