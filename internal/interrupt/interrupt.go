// Package interrupt implements the two-stage cancellation used by every
// long-running flashing step: the first signal arms the abort, the second
// confirms it.
package interrupt

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
)

// ErrAborted is returned by any loop that observes a confirmed abort.
var ErrAborted = errors.New("flashing aborted by user")

// State is a point-in-time copy of the cancellation flags.
// Confirmed implies Requested.
type State struct {
	Requested bool
	Confirmed bool
}

// Controller owns the cancellation flags. The flags are only reachable
// through Request and Snapshot, both of which hold the lock briefly.
// A nil *Controller never reports a cancellation.
type Controller struct {
	mu        sync.Mutex
	state     State
	confirmed chan struct{}
}

func New() *Controller {
	return &Controller{confirmed: make(chan struct{})}
}

// Request records one cancellation signal and returns the resulting state.
// The first call sets Requested, the second sets Confirmed; later calls
// leave the terminal state unchanged.
func (c *Controller) Request() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.state.Requested:
		c.state.Requested = true
	case !c.state.Confirmed:
		c.state.Confirmed = true
		close(c.confirmed)
	}
	return c.state
}

// Snapshot returns the current flags without blocking on I/O.
func (c *Controller) Snapshot() State {
	if c == nil {
		return State{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns ErrAborted once the abort is confirmed. A merely requested
// abort does not interrupt work.
func (c *Controller) Err() error {
	if c.Snapshot().Confirmed {
		return ErrAborted
	}
	return nil
}

// Confirmed is closed when the abort is confirmed.
func (c *Controller) Confirmed() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.confirmed
}

// Watch forwards every delivery on signals to Request until ctx is done.
// onConfirm runs once, on the transition to the confirmed state.
func (c *Controller) Watch(ctx context.Context, signals <-chan os.Signal, onConfirm func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			before := c.Snapshot()
			after := c.Request()
			switch {
			case !before.Requested:
				slog.Warn("Interrupt received. Press Ctrl+C again to abort flashing.", "signal", sig.String())
			case !before.Confirmed && after.Confirmed:
				slog.Warn("Aborting.")
				if onConfirm != nil {
					onConfirm()
				}
			}
		}
	}
}
