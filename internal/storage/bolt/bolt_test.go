package bolt

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/qrdia/dpp-provisioner/internal/codec"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "data", "provisioner.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKeyValue(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.Set(ctx, "flag", []byte{0xf5}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := store.Get(ctx, "flag")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0] != 0xf5 {
		t.Errorf("Get = %x, want f5", got)
	}
	if err := store.Delete(ctx, "flag"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "flag"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestTypedValues(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	enabled, err := storage.GetBool(ctx, store, "demo", true)
	if err != nil || !enabled {
		t.Fatalf("GetBool default = %v, %v; want true, nil", enabled, err)
	}
	if err := storage.SetValue(ctx, store, "demo", false); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	enabled, err = storage.GetBool(ctx, store, "demo", true)
	if err != nil || enabled {
		t.Errorf("GetBool = %v, %v; want false, nil", enabled, err)
	}
}

func TestDevices(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	first := &model.DeviceRecord{MACAddress: "AA:AA:AA:AA:AA:AA", Channel: "1", Key: "k1", Status: model.StatusConfiguring}
	second := &model.DeviceRecord{MACAddress: "BB:BB:BB:BB:BB:BB", Channel: "6", Key: "k2", Status: model.StatusConfiguring}
	for _, d := range []*model.DeviceRecord{first, second} {
		if err := store.CreateDevice(ctx, d); err != nil {
			t.Fatalf("CreateDevice: %v", err)
		}
	}
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("ids = %d, %d; want 1, 2", first.ID, second.ID)
	}
	if first.Date.IsZero() {
		t.Error("CreateDevice did not stamp date")
	}

	first.Status = model.StatusConfigured
	if err := store.SaveDevice(ctx, first); err != nil {
		t.Fatalf("SaveDevice: %v", err)
	}
	got, err := store.GetDevice(ctx, 1)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Status != model.StatusConfigured {
		t.Errorf("status = %s, want configured", got.Status)
	}

	if err := store.SaveDevice(ctx, &model.DeviceRecord{ID: 99}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("SaveDevice(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetDevice(ctx, 99); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetDevice(unknown) error = %v, want ErrNotFound", err)
	}

	list, err := store.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 1 {
		t.Errorf("ListDevices order wrong: %+v", list)
	}
}

func TestDevicesStoredAsCBORInUTC(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	jst := time.FixedZone("JST", 9*3600)
	dev := &model.DeviceRecord{
		MACAddress: "CC:CC:CC:CC:CC:CC",
		Channel:    "11",
		Key:        "k3",
		Status:     model.StatusConfigured,
		Date:       time.Date(2026, 4, 1, 17, 30, 0, 123456789, jst),
	}
	if err := store.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	var raw []byte
	store.db.View(func(tx *bolt.Tx) error {
		raw = bytes.Clone(tx.Bucket(bucketDevices).Get(deviceKey(dev.ID)))
		return nil
	})
	var decoded model.DeviceRecord
	if err := codec.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("stored device is not CBOR: %v", err)
	}
	if len(raw) > 0 && raw[0] == '{' {
		t.Errorf("stored device looks like JSON: %q", raw)
	}

	got, err := store.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	want := *dev
	want.Date = time.Date(2026, 4, 1, 8, 30, 0, 123456789, time.UTC)
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("GetDevice = %+v, want %+v", *got, want)
	}
}
