// Package hostapd talks to hostapd's control interface and drives the
// DPP configurator role.
package hostapd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// ErrCommandFailed is returned when hostapd answers FAIL.
var ErrCommandFailed = errors.New("hostapd command failed")

const maxReply = 4096

var localSeq atomic.Uint64

// Client sends commands over hostapd's unix datagram control socket.
type Client struct {
	socketPath string
	localDir   string
	timeout    time.Duration
}

// NewClient targets <socketDir>/<iface>. timeout bounds each request when
// the context has no earlier deadline.
func NewClient(socketDir, iface string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		socketPath: filepath.Join(socketDir, iface),
		localDir:   os.TempDir(),
		timeout:    timeout,
	}
}

// SocketPath returns the control socket this client sends to.
func (c *Client) SocketPath() string { return c.socketPath }

// Request sends cmd and returns hostapd's reply with the trailing newline
// trimmed. A FAIL reply is returned as ErrCommandFailed.
func (c *Client) Request(ctx context.Context, cmd string) (string, error) {
	if _, err := os.Stat(c.socketPath); err != nil {
		return "", fmt.Errorf("control socket %s: %w", c.socketPath, err)
	}

	local := filepath.Join(c.localDir, fmt.Sprintf("dpp_ctrl_%d_%d", os.Getpid(), localSeq.Add(1)))
	os.Remove(local)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: local, Net: "unixgram"})
	if err != nil {
		return "", fmt.Errorf("bind local socket: %w", err)
	}
	defer os.Remove(local)
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	ctxDeadline := false
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline, ctxDeadline = d, true
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	remote := &net.UnixAddr{Name: c.socketPath, Net: "unixgram"}
	if _, err := conn.WriteToUnix([]byte(cmd), remote); err != nil {
		return "", fmt.Errorf("send %s: %w", verb(cmd), err)
	}

	buf := make([]byte, maxReply)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			if ctxDeadline && errors.Is(err, os.ErrDeadlineExceeded) {
				return "", context.DeadlineExceeded
			}
			return "", fmt.Errorf("wait for %s reply: %w", verb(cmd), err)
		}
		reply := strings.TrimRight(string(buf[:n]), "\n")
		// Unsolicited event messages start with a <level> marker.
		if strings.HasPrefix(reply, "<") {
			continue
		}
		if strings.HasPrefix(reply, "FAIL") {
			return "", fmt.Errorf("%w: %s: %s", ErrCommandFailed, verb(cmd), reply)
		}
		return reply, nil
	}
}

// Ping checks that hostapd answers on the control socket.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.Request(ctx, "PING")
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return fmt.Errorf("unexpected PING reply %q", reply)
	}
	return nil
}

// verb keeps secrets in command arguments out of error messages.
func verb(cmd string) string {
	v, _, _ := strings.Cut(cmd, " ")
	return v
}

// JoinCommand builds one control command from shell words. A conf_json=
// value is wrapped in single quotes unless it already is, since hostapd
// reads the JSON object as one quoted token.
func JoinCommand(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		if val, ok := strings.CutPrefix(w, "conf_json="); ok && !strings.HasPrefix(val, "'") {
			w = "conf_json='" + val + "'"
		}
		out[i] = w
	}
	return strings.Join(out, " ")
}
