package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []string
}

var _ Sink = (*recordingSink)(nil)

func (r *recordingSink) Scan(_ context.Context, raw string) (model.DeviceRecord, error) {
	r.mu.Lock()
	r.frames = append(r.frames, raw)
	r.mu.Unlock()
	info, err := bootstrap.Parse(raw)
	if err != nil {
		return model.DeviceRecord{}, err
	}
	return model.DeviceRecord{MACAddress: info.MACAddress}, nil
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLoopDropsConsecutiveDuplicates(t *testing.T) {
	const a = "DPP:C:6;M:AA:BB:CC:DD:EE:FF;K:KEY;;"
	const b = "DPP:C:1;M:11:22:33:44:55:66;K:KEY2;;"
	input := strings.Join([]string{a, a, "  " + a + "  ", "", a, "not a qr payload", b}, "\n")

	sink := &recordingSink{}
	loop := NewLoop(NewLineSource(strings.NewReader(input)), sink, 0, discard())
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{a, a, "not a qr payload", b}
	got := sink.seen()
	if len(got) != len(want) {
		t.Fatalf("frames = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoopThrottles(t *testing.T) {
	input := "DPP:C:1;M:A;K:1;;\nDPP:C:1;M:B;K:1;;\nDPP:C:1;M:C;K:1;;\n"
	sink := &recordingSink{}
	loop := NewLoop(NewLineSource(strings.NewReader(input)), sink, 40*time.Millisecond, discard())

	start := time.Now()
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("three frames took %v, want at least two intervals", elapsed)
	}
	if n := len(sink.seen()); n != 3 {
		t.Errorf("frames = %d, want 3", n)
	}
}

func TestLoopStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	loop := NewLoop(NewLineSource(pr), &recordingSink{}, 0, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type failingSource struct{ err error }

func (f failingSource) Next(context.Context) (string, error) { return "", f.err }

func TestLoopReturnsSourceError(t *testing.T) {
	boom := errors.New("camera unplugged")
	loop := NewLoop(failingSource{err: boom}, &recordingSink{}, 0, discard())
	if err := loop.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Run = %v, want %v", err, boom)
	}
}

func TestLineSourceEOF(t *testing.T) {
	src := NewLineSource(strings.NewReader("one\n"))
	ctx := context.Background()
	if got, err := src.Next(ctx); err != nil || got != "one" {
		t.Fatalf("Next = %q, %v", got, err)
	}
	for range 2 {
		if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
			t.Errorf("Next after end = %v, want EOF", err)
		}
	}
}
