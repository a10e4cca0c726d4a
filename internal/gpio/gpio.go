// Package gpio drives the reset, download-mode and power lines that force the
// target into its boot ROM before the serial handshake.
package gpio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Pulse widths required by the target hardware. Not configurable.
const (
	PulseWidth      = 100 * time.Millisecond
	PowerPressWidth = time.Second
)

const consumer = "mtkflash"

// Line is a single output line.
type Line interface {
	SetValue(value int) error
	Close() error
}

// Sequencer owns the three bring-up lines for its lifetime.
type Sequencer struct {
	reset    Line
	download Line
	power    Line
	chip     io.Closer
	sleep    func(time.Duration)
}

// Open claims resetLine, downloadLine and powerLine on chip as outputs
// driven low.
func Open(chip string, resetLine, downloadLine, powerLine int) (*Sequencer, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chip, err)
	}

	var lines []*gpiocdev.Line
	release := func() {
		for _, l := range lines {
			_ = l.Close()
		}
		_ = c.Close()
	}

	for _, req := range []struct {
		name   string
		offset int
	}{
		{"reset", resetLine},
		{"download", downloadLine},
		{"power", powerLine},
	} {
		l, err := c.RequestLine(req.offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer+"-"+req.name))
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to request %s line %d on %s: %w", req.name, req.offset, chip, err)
		}
		lines = append(lines, l)
	}

	slog.Debug("GPIO lines claimed", "chip", chip, "reset", resetLine, "download", downloadLine, "power", powerLine)

	s := NewSequencer(lines[0], lines[1], lines[2])
	s.chip = c
	return s, nil
}

// NewSequencer builds a Sequencer over already claimed lines.
func NewSequencer(reset, download, power Line) *Sequencer {
	return &Sequencer{
		reset:    reset,
		download: download,
		power:    power,
		sleep:    time.Sleep,
	}
}

// Reset pulses the reset line.
func (s *Sequencer) Reset() error {
	if err := s.reset.SetValue(1); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	s.sleep(PulseWidth)
	if err := s.reset.SetValue(0); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	return nil
}

// DownloadMode holds the download line while pulsing reset so the target
// boots into its boot ROM download mode.
func (s *Sequencer) DownloadMode() error {
	slog.Info("Forcing target into download mode")

	if err := s.download.SetValue(1); err != nil {
		return fmt.Errorf("failed to assert download: %w", err)
	}
	s.sleep(PulseWidth)
	if err := s.Reset(); err != nil {
		return err
	}
	s.sleep(PulseWidth)
	if err := s.download.SetValue(0); err != nil {
		return fmt.Errorf("failed to release download: %w", err)
	}
	return nil
}

// Power performs a long press on the power line.
func (s *Sequencer) Power() error {
	if err := s.power.SetValue(1); err != nil {
		return fmt.Errorf("failed to assert power: %w", err)
	}
	s.sleep(PowerPressWidth)
	if err := s.power.SetValue(0); err != nil {
		return fmt.Errorf("failed to release power: %w", err)
	}
	return nil
}

// Close releases the lines and the chip.
func (s *Sequencer) Close() error {
	var errs []error
	for _, l := range []Line{s.reset, s.download, s.power} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckChip reports whether chip is an accessible GPIO character device.
func CheckChip(chip string) error {
	if err := gpiocdev.IsChip(chip); err != nil {
		return fmt.Errorf("GPIO chip %s: %w", chip, err)
	}
	return nil
}
