package simulated

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qrdia/dpp-provisioner/internal/clock"
	"github.com/qrdia/dpp-provisioner/internal/gateway"
	"github.com/qrdia/dpp-provisioner/internal/model"
	"github.com/qrdia/dpp-provisioner/internal/storage/memory"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newGateway(t *testing.T, opts Options) (*Gateway, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(start)
	if opts.Clock == nil {
		opts.Clock = fake
	}
	return New(memory.New(), opts), fake
}

func request(mac string) model.CreateDeviceRequest {
	return model.CreateDeviceRequest{MACAddress: mac, Channel: "6", Key: "KEY", SSID: "Home", Password: "secret"}
}

func TestCreateDeviceAssignsIncreasingIDs(t *testing.T) {
	g, fake := newGateway(t, Options{})
	ctx := context.Background()

	for i, mac := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02"} {
		res, err := g.CreateDevice(ctx, request(mac))
		if err != nil {
			t.Fatalf("CreateDevice(%s): %v", mac, err)
		}
		if res.ID != int64(i+1) || res.Status != model.StatusConfigured || res.MACAddress != mac {
			t.Errorf("result = %+v", res)
		}
		if res.Message == "" {
			t.Error("empty message")
		}
	}

	for _, d := range fake.Waits() {
		if d < DefaultMinDelay || d > DefaultMaxDelay {
			t.Errorf("delay %v outside [%v, %v]", d, DefaultMinDelay, DefaultMaxDelay)
		}
	}

	list, err := g.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 1 {
		t.Fatalf("list = %+v, want newest first", list)
	}
	if list[0].SSID != "Home" || list[0].Password != "secret" || list[0].Key != "KEY" {
		t.Errorf("record lost request data: %+v", list[0])
	}
}

func TestCreateDeviceValidates(t *testing.T) {
	g, fake := newGateway(t, Options{})
	tests := []struct {
		name string
		req  model.CreateDeviceRequest
	}{
		{"missing mac", model.CreateDeviceRequest{Channel: "6", Key: "K", SSID: "s", Password: "p"}},
		{"missing key", model.CreateDeviceRequest{MACAddress: "AA", Channel: "6", SSID: "s", Password: "p"}},
		{"missing password", model.CreateDeviceRequest{MACAddress: "AA", Channel: "6", Key: "K", SSID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.CreateDevice(context.Background(), tt.req); !errors.Is(err, gateway.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
	if n := len(fake.Waits()); n != 0 {
		t.Errorf("validation failures waited %d times", n)
	}
}

func TestCreateDeviceFailureInjection(t *testing.T) {
	g, _ := newGateway(t, Options{FailMACs: []string{"bb:bb:bb:bb:bb:bb"}})
	ctx := context.Background()

	if _, err := g.CreateDevice(ctx, request("BB:BB:BB:BB:BB:BB")); !errors.Is(err, gateway.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
	list, _ := g.ListDevices(ctx)
	if len(list) != 0 {
		t.Errorf("failed create was recorded: %+v", list)
	}
}

func TestSetFailingTogglesAtRuntime(t *testing.T) {
	g, _ := newGateway(t, Options{})
	ctx := context.Background()
	const mac = "CC:CC:CC:CC:CC:CC"

	g.SetFailing("cc:cc:cc:cc:cc:cc", true)
	if got := g.Failing(); len(got) != 1 || got[0] != mac {
		t.Fatalf("Failing() = %v", got)
	}
	if _, err := g.CreateDevice(ctx, request(mac)); !errors.Is(err, gateway.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}

	g.SetFailing(mac, false)
	if got := g.Failing(); len(got) != 0 {
		t.Fatalf("Failing() = %v, want empty", got)
	}
	res, err := g.CreateDevice(ctx, request(mac))
	if err != nil || res.ID != 1 {
		t.Fatalf("CreateDevice after recovery = %+v, %v", res, err)
	}
}

func TestSetFailingConcurrentWithCreates(t *testing.T) {
	g, _ := newGateway(t, Options{MaxDelay: -1})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			g.SetFailing("DD:DD:DD:DD:DD:DD", i%2 == 0)
		}()
		go func() {
			defer wg.Done()
			g.CreateDevice(ctx, request("DD:DD:DD:DD:DD:DD"))
		}()
	}
	wg.Wait()
}

func TestCreateDeviceHonoursCancellation(t *testing.T) {
	g := New(memory.New(), Options{MinDelay: time.Hour, MaxDelay: time.Hour, Clock: clock.Real()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.CreateDevice(ctx, request("AA")); !errors.Is(err, gateway.ErrTransient) {
		t.Errorf("error = %v, want ErrTransient", err)
	}
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	g, _ := newGateway(t, Options{})
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			if _, err := g.CreateDevice(ctx, request("AA")); err != nil {
				t.Errorf("CreateDevice: %v", err)
			}
		}()
	}
	wg.Wait()

	list, _ := g.ListDevices(ctx)
	seen := make(map[int64]bool)
	for _, d := range list {
		if seen[d.ID] {
			t.Fatalf("duplicate id %d", d.ID)
		}
		seen[d.ID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d devices, want %d", len(seen), n)
	}
}

func TestSeedAndUpdate(t *testing.T) {
	g, _ := newGateway(t, Options{})
	ctx := context.Background()

	if err := g.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := g.Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	list, _ := g.ListDevices(ctx)
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 1 {
		t.Fatalf("seeded list = %+v", list)
	}

	res, err := g.CreateDevice(ctx, request("CC"))
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	if res.ID != 3 {
		t.Errorf("id after seed = %d, want 3", res.ID)
	}

	room := "Office"
	rec, err := g.UpdateDevice(ctx, 1, model.DevicePatch{Room: &room})
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if rec.Room != "Office" || rec.Name != "Sample Device 1" {
		t.Errorf("updated record = %+v", rec)
	}

	if _, err := g.UpdateDevice(ctx, 99, model.DevicePatch{Room: &room}); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
	if _, err := g.UpdateDevice(ctx, 1, model.DevicePatch{}); !errors.Is(err, gateway.ErrValidation) {
		t.Errorf("empty patch error = %v, want ErrValidation", err)
	}

	if err := g.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if list, _ := g.ListDevices(ctx); len(list) != 0 {
		t.Errorf("list after reset = %+v", list)
	}
}
