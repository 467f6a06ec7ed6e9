package model

import (
	"strings"
	"time"
)

// Status is the provisioning lifecycle state of a device.
type Status string

const (
	StatusScanned     Status = "scanned"
	StatusConfiguring Status = "configuring"
	StatusConfigured  Status = "configured"
	StatusError       Status = "error"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusScanned, StatusConfiguring, StatusConfigured, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether a device may move from s to next.
// configured is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScanned, StatusError:
		return next == StatusConfiguring
	case StatusConfiguring:
		return next == StatusConfigured || next == StatusError
	}
	return false
}

// BootstrapInfo is the channel/MAC/key tuple decoded from a DPP code.
type BootstrapInfo struct {
	MACAddress string `json:"mac_address"`
	Channel    string `json:"channel"`
	Key        string `json:"key"`
	Pincode    string `json:"pincode,omitempty"`
}

// DeviceRecord is a scanned device plus whatever the backend assigned to it.
type DeviceRecord struct {
	ID         int64     `json:"id,omitempty"`
	MACAddress string    `json:"mac_address"`
	Channel    string    `json:"channel"`
	Key        string    `json:"key"`
	Status     Status    `json:"status"`
	SSID       string    `json:"ssid,omitempty"`
	Password   string    `json:"password,omitempty"`
	Date       time.Time `json:"date"`
	Name       string    `json:"name,omitempty"`
	Room       string    `json:"room,omitempty"`
	Desc       string    `json:"desc,omitempty"`
}

// NormalizeMAC returns the canonical (upper case, trimmed) form of a MAC address.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.TrimSpace(mac))
}
