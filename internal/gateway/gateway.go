// Package gateway defines the backend capability the provisioning
// orchestrator drives, and the switch that picks between the network and
// simulated implementations.
package gateway

import (
	"context"
	"errors"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

var (
	// ErrValidation marks bad input. Retrying the same request will fail again.
	ErrValidation = errors.New("validation failed")
	// ErrTransient marks network failures and timeouts. The request may be retried.
	ErrTransient = errors.New("transient backend failure")
	// ErrUnavailable is returned when the backend cannot be reached to list devices.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotFound is returned when an update targets an unknown id.
	ErrNotFound = errors.New("device not found")
)

// Gateway creates, reads and updates device provisioning records.
// Every method may block on I/O and honours ctx.
type Gateway interface {
	ListDevices(ctx context.Context) ([]model.DeviceRecord, error)
	CreateDevice(ctx context.Context, req model.CreateDeviceRequest) (model.CreateDeviceResult, error)
	UpdateDevice(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error)
}

// IsRetryable reports whether err leaves the device eligible for a plain retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
