package hostapd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/qrdia/dpp-provisioner/internal/bootstrap"
	"github.com/qrdia/dpp-provisioner/internal/model"
)

// requester is the part of Client used by the configurator.
type requester interface {
	Request(ctx context.Context, cmd string) (string, error)
}

// Configurator pushes Wi-Fi credentials to an enrollee over DPP.
type Configurator struct {
	client requester
	logger *slog.Logger
}

// NewConfigurator builds a configurator on top of a control client.
func NewConfigurator(client requester, logger *slog.Logger) *Configurator {
	return &Configurator{client: client, logger: logger}
}

// Configure adds a configurator, registers the enrollee's bootstrap URI
// and starts DPP authentication carrying a PSK configuration object.
func (c *Configurator) Configure(ctx context.Context, req model.CreateDeviceRequest) error {
	confID, err := c.requestID(ctx, "DPP_CONFIGURATOR_ADD")
	if err != nil {
		return err
	}

	uri := bootstrap.Format(model.BootstrapInfo{MACAddress: req.MACAddress, Channel: req.Channel, Key: req.Key})
	peerID, err := c.requestID(ctx, "DPP_QR_CODE "+uri)
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("DPP_AUTH_INIT peer=%d configurator=%d conf=sta-psk ssid=%s pass=%s",
		peerID, confID, hex.EncodeToString([]byte(req.SSID)), hex.EncodeToString([]byte(req.Password)))
	reply, err := c.client.Request(ctx, cmd)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("%w: DPP_AUTH_INIT: %s", ErrCommandFailed, reply)
	}
	c.logger.InfoContext(ctx, "dpp authentication started",
		"mac", req.MACAddress,
		"peer", peerID,
		"configurator", confID,
		"key", bootstrap.Fingerprint(req.Key),
	)
	return nil
}

func (c *Configurator) requestID(ctx context.Context, cmd string) (int, error) {
	reply, err := c.client.Request(ctx, cmd)
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("%w: %s returned %q", ErrCommandFailed, verb(cmd), reply)
	}
	return id, nil
}
