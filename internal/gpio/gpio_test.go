package gpio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	line  string
	value int
	at    time.Duration
}

type recorder struct {
	now    time.Duration
	events []transition
}

func (r *recorder) sleep(d time.Duration) { r.now += d }

type fakeLine struct {
	name   string
	rec    *recorder
	err    error
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	if l.err != nil {
		return l.err
	}
	l.rec.events = append(l.rec.events, transition{line: l.name, value: v, at: l.rec.now})
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func newTestSequencer() (*Sequencer, *recorder, map[string]*fakeLine) {
	rec := &recorder{}
	lines := map[string]*fakeLine{
		"reset":    {name: "reset", rec: rec},
		"download": {name: "download", rec: rec},
		"power":    {name: "power", rec: rec},
	}
	s := NewSequencer(lines["reset"], lines["download"], lines["power"])
	s.sleep = rec.sleep
	return s, rec, lines
}

func TestDownloadModeSequence(t *testing.T) {
	s, rec, _ := newTestSequencer()

	require.NoError(t, s.DownloadMode())

	require.Len(t, rec.events, 4)
	assert.Equal(t, []string{"download", "reset", "reset", "download"},
		[]string{rec.events[0].line, rec.events[1].line, rec.events[2].line, rec.events[3].line})
	assert.Equal(t, []int{1, 1, 0, 0},
		[]int{rec.events[0].value, rec.events[1].value, rec.events[2].value, rec.events[3].value})

	assert.GreaterOrEqual(t, rec.events[1].at-rec.events[0].at, 100*time.Millisecond)
	assert.GreaterOrEqual(t, rec.events[2].at-rec.events[1].at, 100*time.Millisecond)
	assert.GreaterOrEqual(t, rec.events[3].at, rec.events[2].at)
}

func TestResetPulse(t *testing.T) {
	s, rec, _ := newTestSequencer()

	require.NoError(t, s.Reset())

	assert.Equal(t, []transition{
		{line: "reset", value: 1, at: 0},
		{line: "reset", value: 0, at: PulseWidth},
	}, rec.events)
}

func TestPowerLongPress(t *testing.T) {
	s, rec, _ := newTestSequencer()

	require.NoError(t, s.Power())

	assert.Equal(t, []transition{
		{line: "power", value: 1, at: 0},
		{line: "power", value: 0, at: time.Second},
	}, rec.events)
}

func TestDownloadModeStopsOnLineError(t *testing.T) {
	s, rec, lines := newTestSequencer()
	lines["reset"].err = errors.New("EBUSY")

	err := s.DownloadMode()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to assert reset")
	assert.Len(t, rec.events, 1, "only the download line was driven")
}

func TestCloseReleasesAllLines(t *testing.T) {
	s, _, lines := newTestSequencer()

	require.NoError(t, s.Close())
	for name, l := range lines {
		assert.True(t, l.closed, name)
	}
}
