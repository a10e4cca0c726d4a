// Package commit runs the blocking flash step of a part alongside a progress
// animation that is driven by how long the previous commit took.
package commit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mtkflash/internal/progress"
)

const (
	DefaultEstimate = 12 * time.Second
	Tick            = 100 * time.Millisecond
)

// Estimator remembers the duration of the last commit and uses it as the
// expected duration of the next one.
type Estimator struct {
	Default time.Duration
	Tick    time.Duration
	Now     func() time.Time

	mu      sync.Mutex
	history []time.Duration
}

func NewEstimator() *Estimator {
	return &Estimator{Default: DefaultEstimate, Tick: Tick, Now: time.Now}
}

func (e *Estimator) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Estimate is the expected duration of the next commit.
func (e *Estimator) Estimate() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.history); n > 0 {
		return e.history[n-1]
	}
	if e.Default <= 0 {
		return DefaultEstimate
	}
	return e.Default
}

// History returns the measured duration of every successful commit so far.
func (e *Estimator) History() []time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]time.Duration(nil), e.history...)
}

func (e *Estimator) record(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, d)
}

// Run calls commit while animating a meter from meters. The animation stops
// as soon as commit returns, whatever the outcome.
func (e *Estimator) Run(ctx context.Context, meters progress.Factory, desc string, commit func(context.Context) error) error {
	// a near-instant previous commit still gets a visible bar
	estimate := max(e.Estimate(), e.tick())
	meter := meters.Commit(desc, estimate)

	animCtx, stop := context.WithCancel(ctx)
	defer stop()

	start := e.now()
	var took time.Duration

	var g errgroup.Group
	g.Go(func() error {
		e.animate(animCtx, meter, start, estimate)
		return nil
	})
	g.Go(func() error {
		defer stop()
		err := commit(ctx)
		took = e.now().Sub(start)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	e.record(took)
	slog.Debug("Commit finished", "part", desc, "took", took, "estimate", estimate)
	meter.Set64(estimate.Milliseconds())
	meter.Finish()
	return nil
}

func (e *Estimator) tick() time.Duration {
	if e.Tick <= 0 {
		return Tick
	}
	return e.Tick
}

func (e *Estimator) animate(ctx context.Context, meter progress.Meter, start time.Time, estimate time.Duration) {
	t := time.NewTicker(e.tick())
	defer t.Stop()

	// hold just short of full until the device answers
	ceiling := estimate.Milliseconds() - 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			elapsed := e.now().Sub(start).Milliseconds()
			meter.Set64(min(elapsed, ceiling))
		}
	}
}
