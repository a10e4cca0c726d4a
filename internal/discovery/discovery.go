// Package discovery waits for the target to show up, first as a serial
// device node and later as a block-transport endpoint.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.bug.st/serial/enumerator"

	"mtkflash/internal/interrupt"
)

const (
	SerialPollInterval   = 500 * time.Millisecond
	EndpointPollInterval = 100 * time.Millisecond
)

// Poller repeats a check on a fixed interval with no upper bound on the
// total wait. A confirmed abort or a cancelled context ends the wait.
type Poller struct {
	Interval time.Duration
	Cancel   *interrupt.Controller
}

// Until calls cond until it reports true or returns an error.
func (p Poller) Until(ctx context.Context, cond func() (bool, error)) error {
	timer := time.NewTimer(p.Interval)
	defer timer.Stop()

	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := p.Cancel.Err(); err != nil {
			return err
		}

		timer.Reset(p.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitForPath blocks until path exists.
func WaitForPath(ctx context.Context, path string, cancel *interrupt.Controller) error {
	slog.Info("Waiting for target device...", "path", path)

	p := Poller{Interval: SerialPollInterval, Cancel: cancel}
	err := p.Until(ctx, func() (bool, error) {
		_, err := os.Stat(path)
		return err == nil, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", path, err)
	}

	slog.Debug("Device node present", "path", path)
	return nil
}

// Identified is implemented by enumerable endpoints.
type Identified interface {
	Identifier() string
}

type MatchMode string

const (
	MatchAny    MatchMode = "any"
	MatchSerial MatchMode = "serial"
)

// Match selects which enumerated endpoint gets bound.
type Match struct {
	Mode       MatchMode
	Identifier string
}

func (m Match) String() string {
	if m.Mode == MatchSerial {
		return fmt.Sprintf("serial=%s", m.Identifier)
	}
	return string(MatchAny)
}

// Select returns the first candidate accepted by m.
func Select[E Identified](m Match, candidates []E) (E, bool) {
	for _, c := range candidates {
		if m.Mode != MatchSerial || c.Identifier() == m.Identifier {
			return c, true
		}
	}
	var zero E
	return zero, false
}

// WaitForEndpoint polls list until an endpoint accepted by m is enumerable
// and returns it.
func WaitForEndpoint[E Identified](ctx context.Context, list func() ([]E, error), m Match, cancel *interrupt.Controller) (E, error) {
	slog.Info("Waiting for fastboot device...", "match", m.String())

	var bound E
	p := Poller{Interval: EndpointPollInterval, Cancel: cancel}
	err := p.Until(ctx, func() (bool, error) {
		candidates, err := list()
		if err != nil {
			return false, fmt.Errorf("failed to enumerate endpoints: %w", err)
		}
		var ok bool
		bound, ok = Select(m, candidates)
		return ok, nil
	})
	if err != nil {
		var zero E
		return zero, fmt.Errorf("waiting for fastboot device: %w", err)
	}

	slog.Info("Fastboot device found", "identifier", bound.Identifier())
	return bound, nil
}

// SerialPorts lists the serial ports currently known to the system.
func SerialPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
