package storage

import (
	"context"
	"errors"

	"github.com/qrdia/dpp-provisioner/internal/codec"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

// KeyValueStore persists opaque values under string keys.
// Get returns ErrNotFound for a key that was never set.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// DeviceRepository abstracts the backend's device table.
type DeviceRepository interface {
	CreateDevice(ctx context.Context, device *model.DeviceRecord) error
	GetDevice(ctx context.Context, id int64) (*model.DeviceRecord, error)
	SaveDevice(ctx context.Context, device *model.DeviceRecord) error
	ListDevices(ctx context.Context) ([]*model.DeviceRecord, error)
	Close() error
}

// GetValue decodes the value under key into dst. When the key is
// absent, dst is left untouched and found is false.
func GetValue(ctx context.Context, kv KeyValueStore, key string, dst any) (found bool, err error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := codec.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetValue encodes value and stores it under key.
func SetValue(ctx context.Context, kv KeyValueStore, key string, value any) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, raw)
}

// GetBool reads a boolean flag, returning def when it was never set.
func GetBool(ctx context.Context, kv KeyValueStore, key string, def bool) (bool, error) {
	v := def
	if _, err := GetValue(ctx, kv, key, &v); err != nil {
		return def, err
	}
	return v, nil
}
