// Package history keeps the persisted, most-recent-first record of
// provisioning outcomes.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage"
)

// ErrNotFound is returned when no entry carries the requested id.
var ErrNotFound = errors.New("history entry not found")

// Ledger is an ordered list of DeviceRecords stored under one key of a
// KeyValueStore. Mutations are read-modify-write and serialized.
type Ledger struct {
	kv  storage.KeyValueStore
	key string
	mu  sync.Mutex
}

// New binds a ledger to key in kv.
func New(kv storage.KeyValueStore, key string) *Ledger {
	return &Ledger{kv: kv, key: key}
}

// Load returns the entries, most recent first. A ledger that was never
// persisted is empty.
func (l *Ledger) Load(ctx context.Context) ([]model.DeviceRecord, error) {
	var entries []model.DeviceRecord
	if _, err := storage.GetValue(ctx, l.kv, l.key, &entries); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if entries == nil {
		entries = []model.DeviceRecord{}
	}
	return entries, nil
}

// Persist replaces the stored entries with entries. Dates are stored in
// UTC; entries itself is left untouched.
func (l *Ledger) Persist(ctx context.Context, entries []model.DeviceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persist(ctx, slices.Clone(entries))
}

// Prepend adds entry at the head without reordering existing entries.
func (l *Ledger) Prepend(ctx context.Context, entry model.DeviceRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.Load(ctx)
	if err != nil {
		return err
	}
	return l.persist(ctx, slices.Insert(entries, 0, entry))
}

// UpdateByID merges patch into the entry whose id matches.
func (l *Ledger) UpdateByID(ctx context.Context, id int64, patch model.DevicePatch) (model.DeviceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.Load(ctx)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	idx := slices.IndexFunc(entries, func(e model.DeviceRecord) bool { return e.ID == id })
	if idx < 0 {
		return model.DeviceRecord{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	patch.Apply(&entries[idx])
	if err := l.persist(ctx, entries); err != nil {
		return model.DeviceRecord{}, err
	}
	return entries[idx], nil
}

// Find returns the first (most recent) entry matching match.
func (l *Ledger) Find(ctx context.Context, match func(model.DeviceRecord) bool) (model.DeviceRecord, bool, error) {
	entries, err := l.Load(ctx)
	if err != nil {
		return model.DeviceRecord{}, false, err
	}
	for _, e := range entries {
		if match(e) {
			return e, true, nil
		}
	}
	return model.DeviceRecord{}, false, nil
}

// Clear drops every entry.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kv.Delete(ctx, l.key)
}

// persist normalises dates to UTC in place, since the encoding keeps the
// offset but not the zone name, then writes entries.
func (l *Ledger) persist(ctx context.Context, entries []model.DeviceRecord) error {
	if entries == nil {
		entries = []model.DeviceRecord{}
	}
	for i := range entries {
		entries[i].Date = entries[i].Date.UTC()
	}
	if err := storage.SetValue(ctx, l.kv, l.key, entries); err != nil {
		return fmt.Errorf("persist history: %w", err)
	}
	return nil
}
