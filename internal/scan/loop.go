package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

// Sink receives decoded frames. ProvisioningService implements it.
type Sink interface {
	Scan(ctx context.Context, raw string) (model.DeviceRecord, error)
}

// Loop pulls frames from a source and hands new ones to the sink at most
// once per interval. It never waits on device configuration.
type Loop struct {
	source  FrameSource
	sink    Sink
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewLoop builds a scan loop. A zero interval disables throttling.
func NewLoop(source FrameSource, sink Sink, interval time.Duration, logger *slog.Logger) *Loop {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Loop{
		source:  source,
		sink:    sink,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Run decodes frames until ctx is cancelled or the source is exhausted.
// Consecutive identical frames are dropped; an empty frame resets that.
func (l *Loop) Run(ctx context.Context) error {
	var last string
	for {
		frame, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame = strings.TrimSpace(frame)
		if frame == last {
			continue
		}
		last = frame
		if frame == "" {
			continue
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return nil
		}
		l.handle(ctx, frame)
	}
}

func (l *Loop) handle(ctx context.Context, frame string) {
	rec, err := l.sink.Scan(ctx, frame)
	switch {
	case err == nil:
		l.logger.DebugContext(ctx, "frame accepted", "mac", rec.MACAddress)
	case errors.Is(err, bootstrap.ErrMalformed):
		l.logger.DebugContext(ctx, "frame is not a DPP payload", "error", err)
	default:
		l.logger.DebugContext(ctx, "frame ignored", "error", err)
	}
}
