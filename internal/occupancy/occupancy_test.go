package occupancy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

// fakeInPin replays a scripted sequence of levels; the last one repeats.
type fakeInPin struct {
	levels []gpio.Level
	idx    int
}

func (f *fakeInPin) String() string                 { return "fake" }
func (f *fakeInPin) Halt() error                    { return nil }
func (f *fakeInPin) Name() string                   { return "fake" }
func (f *fakeInPin) Number() int                    { return 0 }
func (f *fakeInPin) Function() string               { return "In" }
func (f *fakeInPin) In(gpio.Pull, gpio.Edge) error  { return nil }
func (f *fakeInPin) WaitForEdge(time.Duration) bool { return false }
func (f *fakeInPin) Pull() gpio.Pull                { return gpio.PullUp }
func (f *fakeInPin) DefaultPull() gpio.Pull         { return gpio.PullUp }

func (f *fakeInPin) Read() gpio.Level {
	if f.idx >= len(f.levels) {
		return f.levels[len(f.levels)-1]
	}
	l := f.levels[f.idx]
	f.idx++
	return l
}

func TestReadOccupiedOnStableLow(t *testing.T) {
	// Pull-up wiring: Low means the contact is closed, bed occupied.
	s := &pinSensor{name: "GPIO17", pin: &fakeInPin{levels: []gpio.Level{gpio.Low}}}

	occupied, err := s.Read(context.Background())
	require.NoError(t, err)
	require.True(t, occupied)
}

func TestReadUnoccupiedOnStableHigh(t *testing.T) {
	s := &pinSensor{name: "GPIO17", pin: &fakeInPin{levels: []gpio.Level{gpio.High}}}

	occupied, err := s.Read(context.Background())
	require.NoError(t, err)
	require.False(t, occupied)
}

func TestBounceKeepsLastStableReading(t *testing.T) {
	pin := &fakeInPin{levels: []gpio.Level{
		// First read: stable Low → occupied.
		gpio.Low, gpio.Low, gpio.Low,
		// Second read: bouncing → keep previous stable value.
		gpio.High, gpio.Low, gpio.High,
		// Third read: stable High → released.
		gpio.High, gpio.High, gpio.High,
	}}
	s := &pinSensor{name: "GPIO17", pin: pin}
	ctx := context.Background()

	occupied, err := s.Read(ctx)
	require.NoError(t, err)
	require.True(t, occupied)

	occupied, err = s.Read(ctx)
	require.NoError(t, err)
	require.True(t, occupied, "bounce must not flip the reading")

	occupied, err = s.Read(ctx)
	require.NoError(t, err)
	require.False(t, occupied)
}

func TestSampleStable(t *testing.T) {
	ctx := context.Background()

	reads := []gpio.Level{gpio.Low, gpio.Low, gpio.Low}
	i := 0
	level, stable, err := sampleStable(ctx, func() gpio.Level { l := reads[i]; i++; return l }, 3, time.Millisecond)
	require.NoError(t, err)
	require.True(t, stable)
	require.Equal(t, gpio.Low, level)

	reads = []gpio.Level{gpio.Low, gpio.High, gpio.High}
	i = 0
	_, stable, err = sampleStable(ctx, func() gpio.Level { l := reads[i]; i++; return l }, 3, time.Millisecond)
	require.NoError(t, err)
	require.False(t, stable)
}

func TestSampleStableHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := sampleStable(ctx, func() gpio.Level { return gpio.Low }, 3, time.Millisecond)
	require.Error(t, err)
}

func TestStaticSensor(t *testing.T) {
	occupied, err := NewStatic(true).Read(context.Background())
	require.NoError(t, err)
	require.True(t, occupied)

	occupied, err = NewStatic(false).Read(context.Background())
	require.NoError(t, err)
	require.False(t, occupied)
}
