package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/history"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/notify"
	"github.com/qrdia/dpp-provisioner/internal/session"
)

// ErrDuplicateIgnored is returned by Scan when the payload repeats a
// device already in the session with identical data.
var ErrDuplicateIgnored = errors.New("duplicate scan ignored")

// DefaultCallTimeout bounds a backend call when no timeout is configured.
const DefaultCallTimeout = 30 * time.Second

// ProvisioningOptions tunes the orchestrator.
type ProvisioningOptions struct {
	// CallTimeout bounds every backend call.
	CallTimeout time.Duration
	// MaxParallel caps concurrent calls in ApplyAll. Zero means unbounded.
	MaxParallel int
}

// ProvisioningService drives scanned devices through configuration.
type ProvisioningService struct {
	session     *session.Store
	gateway     gateway.Gateway
	ledger      *history.Ledger
	notifier    notify.Notifier
	logger      *slog.Logger
	callTimeout time.Duration
	maxParallel int
}

// NewProvisioningService wires the orchestrator. notifier may be nil.
func NewProvisioningService(sess *session.Store, gw gateway.Gateway, ledger *history.Ledger, notifier notify.Notifier, logger *slog.Logger, opts ProvisioningOptions) *ProvisioningService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &ProvisioningService{
		session:     sess,
		gateway:     gw,
		ledger:      ledger,
		notifier:    notifier,
		logger:      logger,
		callTimeout: opts.CallTimeout,
		maxParallel: opts.MaxParallel,
	}
}

// Scan decodes raw and records the device in the session.
func (s *ProvisioningService) Scan(ctx context.Context, raw string) (model.DeviceRecord, error) {
	info, err := bootstrap.Parse(raw)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	rec, outcome := s.session.Upsert(info)
	if outcome == session.Unchanged {
		return rec, ErrDuplicateIgnored
	}
	s.logger.InfoContext(ctx, "device scanned",
		"mac", rec.MACAddress,
		"channel", rec.Channel,
		"key", bootstrap.Fingerprint(rec.Key),
		"outcome", outcome.String(),
	)
	return rec, nil
}

// ApplySingle pushes cfg to one device. The backend call is detached from
// ctx cancellation and bounded by the call timeout instead.
func (s *ProvisioningService) ApplySingle(ctx context.Context, mac string, cfg model.WiFiConfig) (model.DeviceRecord, error) {
	if err := cfg.Validate(); err != nil {
		return model.DeviceRecord{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}
	rec, err := s.session.Begin(mac)
	if errors.Is(err, session.ErrNotInSession) {
		if s.configuredInHistory(ctx, mac) {
			return model.DeviceRecord{}, fmt.Errorf("%w: %s", session.ErrAlreadyConfigured, model.NormalizeMAC(mac))
		}
		return model.DeviceRecord{}, fmt.Errorf("%w: %s", err, model.NormalizeMAC(mac))
	}
	if err != nil {
		return rec, fmt.Errorf("%w: %s", err, rec.MACAddress)
	}
	return s.provision(ctx, rec, cfg)
}

// ApplyAll pushes cfg to every scanned or failed device concurrently and
// waits for all of them. Per-device failures only appear in the summary.
func (s *ProvisioningService) ApplyAll(ctx context.Context, cfg model.WiFiConfig) (model.ApplySummary, error) {
	if err := cfg.Validate(); err != nil {
		return model.ApplySummary{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}

	var targets []string
	for _, rec := range s.session.List() {
		if rec.Status.CanTransition(model.StatusConfiguring) {
			targets = append(targets, rec.MACAddress)
		}
	}

	type outcome struct {
		err     error
		skipped bool
	}
	outcomes := make([]outcome, len(targets))

	var g errgroup.Group
	if s.maxParallel > 0 {
		g.SetLimit(s.maxParallel)
	}
	for i, mac := range targets {
		g.Go(func() error {
			rec, err := s.session.Begin(mac)
			if err != nil {
				// Taken by a concurrent ApplySingle or removed since the snapshot.
				outcomes[i] = outcome{err: err, skipped: true}
				return nil
			}
			_, err = s.provision(ctx, rec, cfg)
			outcomes[i] = outcome{err: err}
			return nil
		})
	}
	g.Wait()

	summary := model.ApplySummary{
		Succeeded: []string{},
		Failed:    []string{},
		Skipped:   []string{},
		Retryable: []string{},
		Errors:    map[string]string{},
	}
	for i, mac := range targets {
		o := outcomes[i]
		switch {
		case o.skipped:
			summary.Skipped = append(summary.Skipped, mac)
		case o.err != nil:
			summary.Failed = append(summary.Failed, mac)
			summary.Errors[mac] = o.err.Error()
			if gateway.IsRetryable(o.err) {
				summary.Retryable = append(summary.Retryable, mac)
			}
		default:
			summary.Succeeded = append(summary.Succeeded, mac)
		}
	}
	s.logger.InfoContext(ctx, "bulk apply settled",
		"targets", len(targets),
		"succeeded", len(summary.Succeeded),
		"failed", len(summary.Failed),
		"skipped", len(summary.Skipped),
		"retryable", len(summary.Retryable),
	)
	return summary, nil
}

// Remove drops one device from the session.
func (s *ProvisioningService) Remove(mac string) error {
	if !s.session.Remove(mac) {
		return fmt.Errorf("%w: %s", session.ErrNotInSession, model.NormalizeMAC(mac))
	}
	return nil
}

// ClearSession drops every scanned device. History is untouched.
func (s *ProvisioningService) ClearSession() {
	s.session.Clear()
}

// Session returns the devices currently in the session.
func (s *ProvisioningService) Session() []model.DeviceRecord {
	return s.session.List()
}

// History returns the ledger, most recent first.
func (s *ProvisioningService) History(ctx context.Context) ([]model.DeviceRecord, error) {
	return s.ledger.Load(ctx)
}

// UpdateHistory edits a configured device on the backend, then in the
// ledger. A backend that does not know the id (an entry recorded under
// the other gateway) does not block the local edit.
func (s *ProvisioningService) UpdateHistory(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	if err := patch.Validate(); err != nil {
		return model.DeviceRecord{}, fmt.Errorf("%w: %v", gateway.ErrValidation, err)
	}

	callCtx, cancel := s.callContext(ctx)
	remote, err := s.gateway.UpdateDevice(callCtx, id, patch)
	cancel()
	backendMissing := errors.Is(err, gateway.ErrNotFound)
	if err != nil && !backendMissing {
		return model.DeviceRecord{}, err
	}

	rec, err := s.ledger.UpdateByID(ctx, id, patch)
	if errors.Is(err, history.ErrNotFound) && !backendMissing {
		return remote, nil
	}
	if err != nil {
		return model.DeviceRecord{}, err
	}
	return rec, nil
}

// SyncHistory replaces the ledger with the backend's device list.
func (s *ProvisioningService) SyncHistory(ctx context.Context) ([]model.DeviceRecord, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	devices, err := s.gateway.ListDevices(callCtx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(devices, func(a, b model.DeviceRecord) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if err := s.ledger.Persist(ctx, devices); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "history synced from backend", "devices", len(devices))
	return devices, nil
}

// provision runs one backend call for a device that Begin has moved
// into configuring, then settles the session and ledger.
func (s *ProvisioningService) provision(ctx context.Context, rec model.DeviceRecord, cfg model.WiFiConfig) (model.DeviceRecord, error) {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	res, err := s.gateway.CreateDevice(callCtx, model.NewCreateDeviceRequest(rec, cfg))
	if err == nil && res.Status != "" && res.Status != model.StatusConfigured {
		err = fmt.Errorf("%w: backend reported status %s: %s", gateway.ErrTransient, res.Status, res.Message)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, gateway.ErrTransient) {
			err = fmt.Errorf("%w: %w", gateway.ErrTransient, err)
		}
		s.session.MarkError(rec.MACAddress)
		s.logger.WarnContext(ctx, "device configuration failed",
			"mac", rec.MACAddress,
			"key", bootstrap.Fingerprint(rec.Key),
			"error", err,
		)
		rec.Status = model.StatusError
		s.notifier.Notify(ctx, notify.Event{MACAddress: rec.MACAddress, Status: model.StatusError, Reason: err.Error()})
		return rec, err
	}

	rec.ID = res.ID
	rec.Status = model.StatusConfigured
	rec.SSID = cfg.SSID
	rec.Password = cfg.Password
	rec.Date = res.Date
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}

	// The device is configured whatever happens to the local record.
	if err := s.ledger.Prepend(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.ErrorContext(ctx, "record history failed", "mac", rec.MACAddress, "id", rec.ID, "error", err)
	}
	s.session.Complete(rec.MACAddress)
	s.logger.InfoContext(ctx, "device configured",
		"mac", rec.MACAddress,
		"id", rec.ID,
		"ssid", rec.SSID,
	)
	s.notifier.Notify(ctx, notify.Event{MACAddress: rec.MACAddress, Status: model.StatusConfigured, SSID: rec.SSID, ID: rec.ID})
	return rec, nil
}

func (s *ProvisioningService) configuredInHistory(ctx context.Context, mac string) bool {
	mac = model.NormalizeMAC(mac)
	_, found, err := s.ledger.Find(ctx, func(r model.DeviceRecord) bool {
		return model.NormalizeMAC(r.MACAddress) == mac && r.Status == model.StatusConfigured
	})
	return err == nil && found
}

func (s *ProvisioningService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
}
