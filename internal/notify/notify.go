// Package notify reports provisioning outcomes to the operator.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

// Event is one provisioning outcome.
type Event struct {
	MACAddress string
	Status     model.Status
	SSID       string
	ID         int64
	Reason     string
}

// Text renders the event as a single human-readable line.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Status {
	case model.StatusConfigured:
		fmt.Fprintf(&b, "✅ %s configured", e.MACAddress)
		if e.SSID != "" {
			fmt.Fprintf(&b, " on %s", e.SSID)
		}
		if e.ID != 0 {
			fmt.Fprintf(&b, " (id %d)", e.ID)
		}
	default:
		fmt.Fprintf(&b, "❌ %s failed", e.MACAddress)
		if e.Reason != "" {
			fmt.Fprintf(&b, ": %s", e.Reason)
		}
	}
	return b.String()
}

// Notifier delivers events. Implementations must not block the caller
// for long.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
