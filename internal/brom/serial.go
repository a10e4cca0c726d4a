package brom

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"

	"mtkflash/internal/discovery"
	"mtkflash/internal/interrupt"
)

const (
	DefaultBaudRate  = 115200
	DefaultDAAddress = 0x201000

	// ReadTimeout bounds a single read so that a silent ROM shows up as an
	// empty read instead of blocking forever.
	ReadTimeout = 100 * time.Millisecond
)

// Open opens the boot ROM serial port with ReadTimeout set.
func Open(path string, baud int) (serial.Port, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// Options configures InitializeDevice.
type Options struct {
	Path      string
	BaudRate  int
	DAAddress uint32
	DA        []byte
}

// InitializeDevice waits for the boot ROM serial device to appear, then
// uploads and starts the download agent.
func InitializeDevice(ctx context.Context, opts Options, cancel *interrupt.Controller) error {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DAAddress == 0 {
		opts.DAAddress = DefaultDAAddress
	}

	if err := discovery.WaitForPath(ctx, opts.Path, cancel); err != nil {
		return err
	}

	port, err := Open(opts.Path, opts.BaudRate)
	if err != nil {
		return err
	}
	defer port.Close()

	return Load(NewClient(port, cancel), opts.DAAddress, opts.DA)
}

// Load runs the handshake and boots the agent over an established link.
func Load(c *Client, addr uint32, da []byte) error {
	if err := c.Handshake(); err != nil {
		return err
	}
	hw, err := c.HWCode()
	if err != nil {
		return err
	}
	slog.Info("Handshake successful", "soc", fmt.Sprintf("0x%04x", hw.Code), "version", hw.Version)

	slog.Info("Uploading DA", "address", fmt.Sprintf("%#x", addr), "size", len(da))
	if err := c.SendDA(addr, da); err != nil {
		return fmt.Errorf("failed to upload download agent: %w", err)
	}
	slog.Info("Executing DA")
	if err := c.JumpDA64(addr); err != nil {
		return fmt.Errorf("failed to start download agent: %w", err)
	}
	return nil
}
