package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeTransitions(t *testing.T) {
	ctx := context.Background()

	var up atomic.Bool
	probe := func(ctx context.Context) error {
		if up.Load() {
			return nil
		}
		return errors.New("unreachable")
	}

	var fired atomic.Int32
	m := NewMonitor(probe, time.Second, func() { fired.Add(1) })

	// Offline probes never fire the callback.
	m.CheckOnce(ctx)
	m.CheckOnce(ctx)
	assert.False(t, m.Online())
	assert.Zero(t, fired.Load())

	// The offline-to-online transition fires exactly once.
	up.Store(true)
	m.CheckOnce(ctx)
	assert.True(t, m.Online())
	assert.Equal(t, int32(1), fired.Load())

	// Staying online fires nothing further.
	m.CheckOnce(ctx)
	m.CheckOnce(ctx)
	assert.Equal(t, int32(1), fired.Load())

	// Going offline and back online fires again.
	up.Store(false)
	m.CheckOnce(ctx)
	assert.False(t, m.Online())
	up.Store(true)
	m.CheckOnce(ctx)
	assert.Equal(t, int32(2), fired.Load())
}

func TestHostSignal(t *testing.T) {
	var fired atomic.Int32
	m := NewMonitor(func(ctx context.Context) error { return nil }, time.Second, func() { fired.Add(1) })

	m.SetOnline(true)
	assert.True(t, m.Online())
	assert.Equal(t, int32(1), fired.Load())

	// Repeating the same state is not a transition.
	m.SetOnline(true)
	assert.Equal(t, int32(1), fired.Load())

	m.SetOnline(false)
	assert.False(t, m.Online())
	assert.Equal(t, int32(1), fired.Load())

	m.SetOnline(true)
	assert.Equal(t, int32(2), fired.Load())
}

func TestNilCallback(t *testing.T) {
	m := NewMonitor(func(ctx context.Context) error { return nil }, time.Second, nil)
	m.SetOnline(true)
	assert.True(t, m.Online())
}
