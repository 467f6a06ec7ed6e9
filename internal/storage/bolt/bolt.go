package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"time"

	"github.com/qrdia/dpp-provisioner/internal/codec"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var (
	_ storage.KeyValueStore    = (*Store)(nil)
	_ storage.DeviceRepository = (*Store)(nil)
)

var (
	bucketKV      = []byte("kv")
	bucketDevices = []byte("devices")
)

// Store is a BoltDB-backed key-value store and device repository.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) the Bolt file at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketDevices)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// v is only valid for the life of the transaction.
		value = bytes.Clone(v)
		return nil
	})
	return value, err
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

// CreateDevice assigns the next sequence id and stores the device.
func (s *Store) CreateDevice(ctx context.Context, device *model.DeviceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if device.Date.IsZero() {
		device.Date = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		device.ID = int64(id)
		return putDevice(bkt, device)
	})
}

// GetDevice fetches a device by id.
func (s *Store) GetDevice(ctx context.Context, id int64) (*model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var device model.DeviceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDevices).Get(deviceKey(id))
		if v == nil {
			return storage.ErrNotFound
		}
		return codec.Unmarshal(v, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// SaveDevice overwrites an existing device.
func (s *Store) SaveDevice(ctx context.Context, device *model.DeviceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		if bkt.Get(deviceKey(device.ID)) == nil {
			return storage.ErrNotFound
		}
		return putDevice(bkt, device)
	})
}

// ListDevices returns all devices, newest first.
func (s *Store) ListDevices(ctx context.Context) ([]*model.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var devices []*model.DeviceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDevices).Cursor()
		// Keys are big-endian sequence ids, so walking backwards yields newest first.
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var device model.DeviceRecord
			if err := codec.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
		}
		return nil
	})
	return devices, err
}

// putDevice stores device CBOR-encoded, like every other value in the file.
// Dates are kept in UTC so they decode equal to what was written.
func putDevice(bkt *bolt.Bucket, device *model.DeviceRecord) error {
	device.Date = device.Date.UTC()
	payload, err := codec.Marshal(device)
	if err != nil {
		return err
	}
	return bkt.Put(deviceKey(device.ID), payload)
}

func deviceKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
