// Package progresstest records progress updates for tests.
package progresstest

import (
	"sync"
	"time"

	"mtkflash/internal/progress"
)

// Recorder is a progress.Factory that keeps every meter it creates, for inspecting
// progress reporting without a terminal.
type Recorder struct {
	mu     sync.Mutex
	Meters []*RecordedMeter
}

// RecordedMeter stores the updates sent to one meter.
type RecordedMeter struct {
	mu       sync.Mutex
	Kind     string
	Desc     string
	Total    int64
	value    int64
	updates  int
	finished bool
}

func (r *Recorder) add(m *RecordedMeter) progress.Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Meters = append(r.Meters, m)
	return m
}

func (r *Recorder) Transfer(desc string, total int64) progress.Meter {
	return r.add(&RecordedMeter{Kind: "transfer", Desc: desc, Total: total})
}

func (r *Recorder) Commit(desc string, estimate time.Duration) progress.Meter {
	return r.add(&RecordedMeter{Kind: "commit", Desc: desc, Total: estimate.Milliseconds()})
}

// Kind returns the meters of the given kind in creation order.
func (r *Recorder) Kind(kind string) []*RecordedMeter {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*RecordedMeter
	for _, m := range r.Meters {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (m *RecordedMeter) Add64(n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value += n
	m.updates++
	return nil
}

func (m *RecordedMeter) Set64(n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = n
	m.updates++
	return nil
}

func (m *RecordedMeter) Finish() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	return nil
}

func (m *RecordedMeter) Value() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

func (m *RecordedMeter) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *RecordedMeter) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}
