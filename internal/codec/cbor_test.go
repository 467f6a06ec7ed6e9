package codec

import (
	"testing"
	"time"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

func TestRoundTripDeviceRecords(t *testing.T) {
	in := []model.DeviceRecord{
		{
			ID:         7,
			MACAddress: "AA:BB:CC:DD:EE:FF",
			Channel:    "6",
			Key:        "KEY123",
			Status:     model.StatusConfigured,
			SSID:       "Home",
			Password:   "pw",
			Date:       time.Date(2026, 3, 1, 10, 30, 15, 123456789, time.UTC),
			Room:       "kitchen",
		},
		{MACAddress: "11:22:33:44:55:66", Channel: "11", Key: "K", Status: model.StatusError},
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out []model.DeviceRecord
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if !out[i].Date.Equal(in[i].Date) {
			t.Errorf("[%d] date = %v, want %v", i, out[i].Date, in[i].Date)
		}
		out[i].Date, in[i].Date = time.Time{}, time.Time{}
		if out[i] != in[i] {
			t.Errorf("[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}
