// Package occupancy reads the bed-occupancy sensor. The sensor is a
// simple switch wired between the input pin and ground: with the pull-up
// enabled, a Low reading means the bed is occupied. Raw contact bounce
// is filtered here so the scheduler always sees a stable value.
package occupancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// SensorError is returned when the occupancy sensor could not be read.
// The scheduler treats it as "not occupied" (fail-safe).
type SensorError struct {
	Pin string
	Err error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("occupancy %s: %v", e.Pin, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }

// Sensor abstracts the occupancy input. Read returns the current
// debounced state; it never blocks beyond the debounce window.
type Sensor interface {
	Read(ctx context.Context) (bool, error)
}

// Debounce parameters: a reading only counts when this many consecutive
// samples, sampleGap apart, agree. Worst-case Read latency is
// (debounceSamples-1)*sampleGap, well under any tick interval.
const (
	debounceSamples = 3
	sampleGap       = 10 * time.Millisecond
)

// pinSensor reads a real GPIO input via periph.io.
type pinSensor struct {
	name string
	pin  gpio.PinIn

	mu         sync.Mutex
	lastStable bool
}

// NewPin opens the given BCM pin as the occupancy input with the
// internal pull-up enabled.
func NewPin(bcm int) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, &SensorError{Pin: pinName(bcm), Err: err}
	}
	name := pinName(bcm)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, &SensorError{Pin: name, Err: fmt.Errorf("gpio %s not found", name)}
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, &SensorError{Pin: name, Err: err}
	}
	return &pinSensor{name: name, pin: p}, nil
}

// Read samples the pin a few times and reports the occupied state. While
// the contact is bouncing (samples disagree) the last stable reading is
// returned instead, so a single bounce never flips the decision.
func (s *pinSensor) Read(ctx context.Context) (bool, error) {
	level, stable, err := sampleStable(ctx, s.pin.Read, debounceSamples, sampleGap)
	if err != nil {
		return false, &SensorError{Pin: s.name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stable {
		// Pull-up wiring: Low = contact closed = occupied.
		s.lastStable = level == gpio.Low
	}
	return s.lastStable, nil
}

// sampleStable takes n samples gap apart and reports whether they all
// agree. The last sample is always returned.
func sampleStable(ctx context.Context, read func() gpio.Level, n int, gap time.Duration) (gpio.Level, bool, error) {
	level := read()
	stable := true
	for i := 1; i < n; i++ {
		select {
		case <-ctx.Done():
			return level, false, ctx.Err()
		case <-time.After(gap):
		}
		next := read()
		if next != level {
			stable = false
		}
		level = next
	}
	return level, stable, nil
}

// staticSensor always reports the same state. Used when GPIO access is
// disabled; the original deployment behaved as always-occupied in that
// mode so alarms still trigger.
type staticSensor struct {
	occupied bool
}

// NewStatic returns a Sensor with a fixed reading.
func NewStatic(occupied bool) Sensor {
	return &staticSensor{occupied: occupied}
}

func (s *staticSensor) Read(_ context.Context) (bool, error) {
	return s.occupied, nil
}

func pinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}
