// Package session holds the devices scanned during one provisioning run.
package session

import (
	"errors"
	"sync"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

var (
	// ErrNotInSession is returned for a MAC address that was never scanned
	// or has already left the session.
	ErrNotInSession = errors.New("device not in session")
	// ErrAlreadyInProgress guards against a second apply on a configuring device.
	ErrAlreadyInProgress = errors.New("device configuration already in progress")
	// ErrAlreadyConfigured guards against re-applying to a configured device.
	ErrAlreadyConfigured = errors.New("device already configured")
)

// Outcome describes what Upsert did.
type Outcome int

const (
	Inserted Outcome = iota
	Updated
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Store is the set of scanned, not yet finalized devices keyed by MAC
// address. It is safe for concurrent use; List returns a snapshot.
type Store struct {
	mu      sync.RWMutex
	order   []string
	devices map[string]*model.DeviceRecord
}

// NewStore returns an empty session.
func NewStore() *Store {
	return &Store{devices: make(map[string]*model.DeviceRecord)}
}

// Upsert records a scan. A known MAC keeps its status and gets the new
// channel/key, except that a device in error goes back to scanned.
func (s *Store) Upsert(info model.BootstrapInfo) (model.DeviceRecord, Outcome) {
	mac := model.NormalizeMAC(info.MACAddress)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.devices[mac]; ok {
		if rec.Channel == info.Channel && rec.Key == info.Key && rec.Status != model.StatusError {
			return *rec, Unchanged
		}
		rec.Channel = info.Channel
		rec.Key = info.Key
		if rec.Status == model.StatusError {
			rec.Status = model.StatusScanned
		}
		return *rec, Updated
	}

	rec := &model.DeviceRecord{
		MACAddress: mac,
		Channel:    info.Channel,
		Key:        info.Key,
		Status:     model.StatusScanned,
	}
	s.devices[mac] = rec
	s.order = append(s.order, mac)
	return *rec, Inserted
}

// Get returns a copy of the record for mac.
func (s *Store) Get(mac string) (model.DeviceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.devices[model.NormalizeMAC(mac)]
	if !ok {
		return model.DeviceRecord{}, false
	}
	return *rec, true
}

// List returns copies of all records in insertion order.
func (s *Store) List() []model.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DeviceRecord, 0, len(s.order))
	for _, mac := range s.order {
		out = append(out, *s.devices[mac])
	}
	return out
}

// Len returns the number of devices in the session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Remove drops mac from the session and reports whether it was present.
func (s *Store) Remove(mac string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(model.NormalizeMAC(mac))
}

// Clear empties the session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.devices = make(map[string]*model.DeviceRecord)
}

// Begin moves mac into configuring and returns the record to provision.
// Only scanned and error devices may start an attempt.
func (s *Store) Begin(mac string) (model.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[model.NormalizeMAC(mac)]
	if !ok {
		return model.DeviceRecord{}, ErrNotInSession
	}
	if !rec.Status.CanTransition(model.StatusConfiguring) {
		return *rec, guardError(rec.Status)
	}
	rec.Status = model.StatusConfiguring
	return *rec, nil
}

// MarkError ends a failed attempt. The device stays in the session for retry.
func (s *Store) MarkError(mac string) {
	s.transition(model.NormalizeMAC(mac), model.StatusError)
}

// Complete finalizes a successful attempt: the configured device leaves
// the session and lives on in the history ledger.
func (s *Store) Complete(mac string) {
	mac = model.NormalizeMAC(mac)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.devices[mac]; ok && rec.Status.CanTransition(model.StatusConfigured) {
		s.removeLocked(mac)
	}
}

func (s *Store) transition(mac string, next model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The device may have been removed or cleared while its call was in flight.
	if rec, ok := s.devices[mac]; ok && rec.Status.CanTransition(next) {
		rec.Status = next
	}
}

func (s *Store) removeLocked(mac string) bool {
	if _, ok := s.devices[mac]; !ok {
		return false
	}
	delete(s.devices, mac)
	for i, m := range s.order {
		if m == mac {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func guardError(status model.Status) error {
	if status == model.StatusConfigured {
		return ErrAlreadyConfigured
	}
	return ErrAlreadyInProgress
}
