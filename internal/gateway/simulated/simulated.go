// Package simulated implements the gateway without a backend. It keeps its
// own device table in the KeyValueStore and answers after a short delay,
// so the operator flow can be exercised end to end without hardware.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/qrdia/dpp-provisioner/internal/clock"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/history"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

// DevicesKey is where the simulator persists its device table.
const DevicesKey = "qrdia_demo_devices"

const (
	DefaultMinDelay = 2 * time.Second
	DefaultMaxDelay = 3 * time.Second

	successMessage = "demo mode: provisioning complete"
)

var _ gateway.Gateway = (*Gateway)(nil)

// Options tunes the simulator. Zero delays fall back to the defaults; a
// MaxDelay below MinDelay disables waiting entirely.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// FailMACs lists devices whose CreateDevice calls fail with ErrTransient.
	FailMACs []string
	Clock    clock.Clock
}

// Gateway is a stand-in backend with the same contract as the network one.
type Gateway struct {
	ledger   *history.Ledger
	clock    clock.Clock
	minDelay time.Duration
	maxDelay time.Duration

	failMu sync.RWMutex
	fail   map[string]struct{}

	// mu makes id assignment and insertion one step.
	mu sync.Mutex
}

// New builds a simulator persisting into kv.
func New(kv storage.KeyValueStore, opts Options) *Gateway {
	g := &Gateway{
		ledger:   history.New(kv, DevicesKey),
		clock:    opts.Clock,
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
		fail:     make(map[string]struct{}, len(opts.FailMACs)),
	}
	if g.clock == nil {
		g.clock = clock.Real()
	}
	if g.minDelay == 0 && g.maxDelay == 0 {
		g.minDelay, g.maxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if g.maxDelay < g.minDelay {
		g.minDelay, g.maxDelay = 0, 0
	}
	for _, mac := range opts.FailMACs {
		g.fail[model.NormalizeMAC(mac)] = struct{}{}
	}
	return g
}

// SetFailing makes later CreateDevice calls for mac fail with
// ErrTransient, or succeed again when failing is false.
func (g *Gateway) SetFailing(mac string, failing bool) {
	mac = model.NormalizeMAC(mac)
	g.failMu.Lock()
	defer g.failMu.Unlock()
	if failing {
		g.fail[mac] = struct{}{}
	} else {
		delete(g.fail, mac)
	}
}

// Failing lists the devices currently set to fail, sorted.
func (g *Gateway) Failing() []string {
	g.failMu.RLock()
	defer g.failMu.RUnlock()
	out := make([]string, 0, len(g.fail))
	for mac := range g.fail {
		out = append(out, mac)
	}
	slices.Sort(out)
	return out
}

func (g *Gateway) isFailing(mac string) bool {
	g.failMu.RLock()
	defer g.failMu.RUnlock()
	_, ok := g.fail[mac]
	return ok
}

// ListDevices returns the simulated device table, newest first.
func (g *Gateway) ListDevices(ctx context.Context) ([]model.DeviceRecord, error) {
	devices, err := g.ledger.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	return devices, nil
}

// CreateDevice validates req like the backend, waits, and records the
// device as configured.
func (g *Gateway) CreateDevice(ctx context.Context, req model.CreateDeviceRequest) (model.CreateDeviceResult, error) {
	if err := req.Validate(); err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	if err := g.wait(ctx); err != nil {
		return model.CreateDeviceResult{}, err
	}
	mac := model.NormalizeMAC(req.MACAddress)
	if g.isFailing(mac) {
		return model.CreateDeviceResult{}, fmt.Errorf("%w: simulated failure for %s", gateway.ErrTransient, mac)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	devices, err := g.ledger.Load(ctx)
	if err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("%w: %v", gateway.ErrTransient, err)
	}
	rec := model.DeviceRecord{
		ID:         nextID(devices),
		MACAddress: req.MACAddress,
		Channel:    req.Channel,
		Key:        req.Key,
		Status:     model.StatusConfigured,
		SSID:       req.SSID,
		Password:   req.Password,
		Date:       g.clock.Now().UTC(),
	}
	if err := g.ledger.Prepend(ctx, rec); err != nil {
		return model.CreateDeviceResult{}, fmt.Errorf("%w: %v", gateway.ErrTransient, err)
	}
	return model.CreateDeviceResult{
		ID:         rec.ID,
		MACAddress: rec.MACAddress,
		Status:     rec.Status,
		Message:    successMessage,
		Date:       rec.Date,
	}, nil
}

// UpdateDevice merges patch into the simulated record with the given id.
func (g *Gateway) UpdateDevice(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	if err := patch.Validate(); err != nil {
		return model.DeviceRecord{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	rec, err := g.ledger.UpdateByID(ctx, id, patch)
	if errors.Is(err, history.ErrNotFound) {
		return model.DeviceRecord{}, fmt.Errorf("%w: id %d", gateway.ErrNotFound, id)
	}
	if err != nil {
		return model.DeviceRecord{}, fmt.Errorf("%w: %v", gateway.ErrTransient, err)
	}
	return rec, nil
}

// Seed installs two sample devices when the table is empty.
func (g *Gateway) Seed(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	devices, err := g.ledger.Load(ctx)
	if err != nil {
		return err
	}
	if len(devices) > 0 {
		return nil
	}
	now := g.clock.Now().UTC()
	return g.ledger.Persist(ctx, []model.DeviceRecord{
		{
			ID:         2,
			MACAddress: "AA:BB:CC:DD:EE:FF",
			Channel:    "11",
			Key:        "sample_key_2",
			Status:     model.StatusConfigured,
			SSID:       "DemoWiFi",
			Password:   "demo123",
			Date:       now.Add(-24 * time.Hour),
			Name:       "Sample Device 2",
			Room:       "Bedroom",
			Desc:       "demo sample device 2",
		},
		{
			ID:         1,
			MACAddress: "00:11:22:33:44:55",
			Channel:    "6",
			Key:        "sample_key_1",
			Status:     model.StatusConfigured,
			SSID:       "DemoWiFi",
			Password:   "demo123",
			Date:       now.Add(-48 * time.Hour),
			Name:       "Sample Device 1",
			Room:       "Living room",
			Desc:       "demo sample device",
		},
	})
}

// Reset drops every simulated device.
func (g *Gateway) Reset(ctx context.Context) error {
	return g.ledger.Clear(ctx)
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.maxDelay <= 0 {
		return nil
	}
	d := g.minDelay
	if span := g.maxDelay - g.minDelay; span > 0 {
		d += rand.N(span + 1)
	}
	select {
	case <-g.clock.After(d):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", gateway.ErrTransient, ctx.Err())
	}
}

func nextID(devices []model.DeviceRecord) int64 {
	var highest int64
	for _, d := range devices {
		highest = max(highest, d.ID)
	}
	return highest + 1
}
