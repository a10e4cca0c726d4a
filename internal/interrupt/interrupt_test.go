package interrupt

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewControllerStartsClear(t *testing.T) {
	c := New()
	assert.Equal(t, State{}, c.Snapshot())
	assert.NoError(t, c.Err())
}

func TestRequestTransitions(t *testing.T) {
	c := New()

	state := c.Request()
	assert.Equal(t, State{Requested: true}, state)
	assert.NoError(t, c.Err(), "a single request must not abort in-flight work")

	state = c.Request()
	assert.Equal(t, State{Requested: true, Confirmed: true}, state)
	assert.ErrorIs(t, c.Err(), ErrAborted)

	state = c.Request()
	assert.Equal(t, State{Requested: true, Confirmed: true}, state)
	assert.Equal(t, state, c.Snapshot())
}

func TestConfirmedChannelClosesOnSecondRequest(t *testing.T) {
	c := New()
	c.Request()

	select {
	case <-c.Confirmed():
		t.Fatal("confirmed channel closed after a single request")
	default:
	}

	c.Request()
	c.Request()

	select {
	case <-c.Confirmed():
	default:
		t.Fatal("confirmed channel still open after two requests")
	}
}

func TestNilController(t *testing.T) {
	var c *Controller
	assert.Equal(t, State{}, c.Snapshot())
	assert.NoError(t, c.Err())
	assert.Nil(t, c.Confirmed())
}

func TestWatch(t *testing.T) {
	c := New()
	signals := make(chan os.Signal)
	confirmed := make(chan struct{}, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Watch(ctx, signals, func() { confirmed <- struct{}{} })
	}()

	signals <- syscall.SIGINT
	signals <- syscall.SIGINT
	signals <- syscall.SIGINT

	select {
	case <-confirmed:
	case <-time.After(time.Second):
		t.Fatal("onConfirm was not called")
	}

	cancel()
	<-done

	assert.Len(t, confirmed, 0, "onConfirm must run exactly once")
	require.True(t, c.Snapshot().Confirmed)
}
