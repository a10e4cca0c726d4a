// Package fastboot speaks the fastboot protocol to the download agent.
package fastboot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

const (
	MaxCommandSize  = 64
	maxResponseSize = 256
)

var ErrUnexpectedResponse = errors.New("fastboot: unexpected response")

// FailError is a FAIL reply from the device.
type FailError struct {
	Command string
	Message string
}

func (e *FailError) Error() string {
	return fmt.Sprintf("fastboot %s failed: %s", e.Command, e.Message)
}

// Client issues commands over a packet oriented connection, where every
// Read returns exactly one response packet.
type Client struct {
	rw io.ReadWriter
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

func (c *Client) send(cmd string) error {
	if len(cmd) > MaxCommandSize {
		return fmt.Errorf("fastboot command %q exceeds %d bytes", cmd, MaxCommandSize)
	}
	if _, err := c.rw.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("failed to send %q: %w", cmd, err)
	}
	return nil
}

// response reads packets until a final reply. INFO and TEXT packets are
// logged and skipped.
func (c *Client) response(cmd string) (string, string, error) {
	buf := make([]byte, maxResponseSize)
	for {
		n, err := c.rw.Read(buf)
		if err != nil {
			return "", "", fmt.Errorf("failed to read response to %q: %w", cmd, err)
		}
		if n < 4 {
			return "", "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, buf[:n])
		}
		kind, payload := string(buf[:4]), string(buf[4:n])
		switch kind {
		case "INFO":
			slog.Info("Device", "command", cmd, "info", payload)
		case "TEXT":
			slog.Debug("Device text", "command", cmd, "text", payload)
		case "FAIL":
			return "", "", &FailError{Command: cmd, Message: payload}
		case "OKAY", "DATA":
			return kind, payload, nil
		default:
			return "", "", fmt.Errorf("%w: %q", ErrUnexpectedResponse, buf[:n])
		}
	}
}

func (c *Client) command(cmd string) (string, error) {
	if err := c.send(cmd); err != nil {
		return "", err
	}
	kind, payload, err := c.response(cmd)
	if err != nil {
		return "", err
	}
	if kind != "OKAY" {
		return "", fmt.Errorf("%w: %s%s to %q", ErrUnexpectedResponse, kind, payload, cmd)
	}
	return payload, nil
}

func (c *Client) GetVar(name string) (string, error) {
	return c.command("getvar:" + name)
}

// MaxDownloadSize returns the size of the device's download buffer.
func (c *Client) MaxDownloadSize() (uint32, error) {
	v, err := c.GetVar("max-download-size")
	if err != nil {
		return 0, err
	}
	return ParseSize(v)
}

func (c *Client) Flash(partition string) error {
	_, err := c.command("flash:" + partition)
	return err
}

func (c *Client) Erase(partition string) error {
	_, err := c.command("erase:" + partition)
	return err
}

func (c *Client) Reboot() error {
	_, err := c.command("reboot")
	return err
}

// Download announces size bytes of data and returns the sink that carries
// them to the device buffer.
func (c *Client) Download(size int64) (*Sink, error) {
	if size <= 0 || size > 0xFFFFFFFF {
		return nil, fmt.Errorf("invalid download size %d", size)
	}
	cmd := fmt.Sprintf("download:%08x", size)
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	kind, payload, err := c.response(cmd)
	if err != nil {
		return nil, err
	}
	if kind != "DATA" {
		return nil, fmt.Errorf("%w: %s%s to %q", ErrUnexpectedResponse, kind, payload, cmd)
	}
	accepted, err := ParseSize(payload)
	if err != nil {
		return nil, err
	}
	if int64(accepted) != size {
		return nil, fmt.Errorf("device accepted %d bytes, want %d", accepted, size)
	}
	return &Sink{c: c, cmd: cmd, remaining: size}, nil
}

// Sink streams the data phase of a download.
type Sink struct {
	c         *Client
	cmd       string
	remaining int64
}

func (s *Sink) Write(p []byte) (int, error) {
	if int64(len(p)) > s.remaining {
		return 0, fmt.Errorf("download overrun: %d bytes left, got %d", s.remaining, len(p))
	}
	n, err := s.c.rw.Write(p)
	s.remaining -= int64(n)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Remaining is the number of bytes still owed to the device.
func (s *Sink) Remaining() int64 {
	return s.remaining
}

// Finish waits for the device to acknowledge the data phase.
func (s *Sink) Finish() error {
	if s.remaining != 0 {
		return fmt.Errorf("download incomplete: %d bytes left", s.remaining)
	}
	kind, payload, err := s.c.response(s.cmd)
	if err != nil {
		return err
	}
	if kind != "OKAY" {
		return fmt.Errorf("%w: %s%s after data phase", ErrUnexpectedResponse, kind, payload)
	}
	return nil
}

// ParseSize parses a hexadecimal size with or without a 0x prefix.
func ParseSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return uint32(v), nil
}
