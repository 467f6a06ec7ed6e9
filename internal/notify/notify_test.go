package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/qrdia/dpp-provisioner/internal/model"
)

type mockSender struct {
	sent chan tgbotapi.MessageConfig
	err  error
}

var _ sender = (*mockSender)(nil)

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent <- msg
	}
	return tgbotapi.Message{}, m.err
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEventText(t *testing.T) {
	tests := []struct {
		ev   Event
		want []string
	}{
		{Event{MACAddress: "AA", Status: model.StatusConfigured, SSID: "Home", ID: 3}, []string{"AA configured", "on Home", "id 3"}},
		{Event{MACAddress: "BB", Status: model.StatusError, Reason: "timeout"}, []string{"BB failed", "timeout"}},
	}
	for _, tt := range tests {
		got := tt.ev.Text()
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("Text() = %q, missing %q", got, w)
			}
		}
	}
}

func TestTelegramRunSendsQueuedEvents(t *testing.T) {
	m := &mockSender{sent: make(chan tgbotapi.MessageConfig, 1), err: errors.New("flaky")}
	tg := newTelegram(m, 42, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tg.Run(ctx) }()

	tg.Notify(ctx, Event{MACAddress: "AA", Status: model.StatusConfigured})
	select {
	case msg := <-m.sent:
		if msg.ChatID != 42 || !strings.Contains(msg.Text, "AA") {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestTelegramNotifyNeverBlocks(t *testing.T) {
	tg := newTelegram(&mockSender{sent: make(chan tgbotapi.MessageConfig)}, 1, discard())
	for range queueSize + 10 {
		tg.Notify(context.Background(), Event{MACAddress: "AA"})
	}
	if len(tg.queue) != queueSize {
		t.Errorf("queue len = %d, want %d", len(tg.queue), queueSize)
	}
}
