package gateway

import (
	"context"

	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

// DemoModeKey is the KeyValueStore flag selecting the simulated gateway.
const DemoModeKey = "qrdia_demo_mode"

var _ Gateway = (*Switch)(nil)

// Switch routes each call to the simulated or network gateway according
// to the demo-mode flag, so callers never branch on the mode themselves.
type Switch struct {
	kv          storage.KeyValueStore
	simulated   Gateway
	network     Gateway
	defaultDemo bool
}

// NewSwitch builds a Switch. defaultDemo applies until the flag is first set.
func NewSwitch(kv storage.KeyValueStore, simulated, network Gateway, defaultDemo bool) *Switch {
	return &Switch{kv: kv, simulated: simulated, network: network, defaultDemo: defaultDemo}
}

// DemoMode reports whether calls currently go to the simulator.
func (s *Switch) DemoMode(ctx context.Context) (bool, error) {
	return storage.GetBool(ctx, s.kv, DemoModeKey, s.defaultDemo)
}

// SetDemoMode persists the selection.
func (s *Switch) SetDemoMode(ctx context.Context, enabled bool) error {
	return storage.SetValue(ctx, s.kv, DemoModeKey, enabled)
}

func (s *Switch) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	g, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	return g.ListDevices(ctx)
}

func (s *Switch) CreateDevice(ctx context.Context, req model.CreateDeviceRequest) (model.CreateDeviceResult, error) {
	g, err := s.active(ctx)
	if err != nil {
		return model.CreateDeviceResult{}, err
	}
	return g.CreateDevice(ctx, req)
}

func (s *Switch) UpdateDevice(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	g, err := s.active(ctx)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	return g.UpdateDevice(ctx, id, patch)
}

func (s *Switch) active(ctx context.Context) (Gateway, error) {
	demo, err := s.DemoMode(ctx)
	if err != nil {
		return nil, err
	}
	if demo || s.network == nil {
		return s.simulated, nil
	}
	return s.network, nil
}
