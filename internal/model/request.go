package model

import (
	"errors"
	"fmt"
	"time"
)

// maxSSIDBytes is the 802.11 limit on an SSID.
const maxSSIDBytes = 32

// WiFiConfig is the network credential pushed to devices.
type WiFiConfig struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// Validate checks the credential before any device changes state.
func (c WiFiConfig) Validate() error {
	if c.SSID == "" || c.Password == "" {
		return errors.New("ssid and password are required")
	}
	if len(c.SSID) > maxSSIDBytes {
		return fmt.Errorf("ssid must be at most %d bytes", maxSSIDBytes)
	}
	return nil
}

// CreateDeviceRequest is the body of POST /devices/new.
type CreateDeviceRequest struct {
	MACAddress string `json:"mac_address"`
	Channel    string `json:"channel"`
	Key        string `json:"key"`
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
}

// NewCreateDeviceRequest combines a session record with the credential to push.
func NewCreateDeviceRequest(rec DeviceRecord, cfg WiFiConfig) CreateDeviceRequest {
	return CreateDeviceRequest{
		MACAddress: rec.MACAddress,
		Channel:    rec.Channel,
		Key:        rec.Key,
		SSID:       cfg.SSID,
		Password:   cfg.Password,
	}
}

// Validate mirrors the backend's input checks.
func (r CreateDeviceRequest) Validate() error {
	if r.MACAddress == "" {
		return errors.New("mac_address is required")
	}
	if r.Channel == "" || r.Key == "" {
		return errors.New("channel and key are required")
	}
	return WiFiConfig{SSID: r.SSID, Password: r.Password}.Validate()
}

// CreateDeviceResult is the data of a successful POST /devices/new.
type CreateDeviceResult struct {
	ID         int64     `json:"id"`
	MACAddress string    `json:"mac_address"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
	Date       time.Time `json:"date"`
}

// DevicePatch carries the editable subset of a DeviceRecord. Nil fields are left alone.
type DevicePatch struct {
	Name     *string `json:"name,omitempty"`
	SSID     *string `json:"ssid,omitempty"`
	Password *string `json:"password,omitempty"`
	Room     *string `json:"room,omitempty"`
	Desc     *string `json:"desc,omitempty"`
	Status   *Status `json:"status,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p DevicePatch) IsEmpty() bool {
	return p.Name == nil && p.SSID == nil && p.Password == nil &&
		p.Room == nil && p.Desc == nil && p.Status == nil
}

// Validate rejects empty patches and unknown statuses.
func (p DevicePatch) Validate() error {
	if p.IsEmpty() {
		return errors.New("no fields to update")
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", *p.Status)
	}
	return nil
}

// Apply merges the present fields into rec.
func (p DevicePatch) Apply(rec *DeviceRecord) {
	if p.Name != nil {
		rec.Name = *p.Name
	}
	if p.SSID != nil {
		rec.SSID = *p.SSID
	}
	if p.Password != nil {
		rec.Password = *p.Password
	}
	if p.Room != nil {
		rec.Room = *p.Room
	}
	if p.Desc != nil {
		rec.Desc = *p.Desc
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
}
