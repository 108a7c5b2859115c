// Package relay drives the digital output that sounds the alarm (bed
// shaker, buzzer, light). The hardware is behind the Actuator interface
// so the scheduler can be exercised without a Raspberry Pi.
package relay

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	appLog "alarmclock/internal/log"
)

// ActuatorError is returned when the relay output could not be driven.
// The scheduler recovers by retrying on the next qualifying tick.
type ActuatorError struct {
	Pin string
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.Pin, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// Actuator abstracts the relay output.
//
// Activate is idempotent: activating an already-active relay is a no-op
// with no error. Same for Deactivate.
type Actuator interface {
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
}

// pinActuator drives a real GPIO output via periph.io. The relay wiring
// is active-high and the pin starts Low (relay off).
type pinActuator struct {
	name string
	pin  gpio.PinOut

	mu     sync.Mutex
	active bool
}

// NewPin opens the given BCM pin as the relay output. The pin is driven
// Low immediately so a restart never leaves the alarm sounding.
func NewPin(bcm int) (Actuator, error) {
	if _, err := host.Init(); err != nil {
		return nil, &ActuatorError{Pin: pinName(bcm), Err: err}
	}
	name := pinName(bcm)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, &ActuatorError{Pin: name, Err: fmt.Errorf("gpio %s not found", name)}
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, &ActuatorError{Pin: name, Err: err}
	}
	return &pinActuator{name: name, pin: p}, nil
}

func (a *pinActuator) Activate(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}
	if err := a.pin.Out(gpio.High); err != nil {
		return &ActuatorError{Pin: a.name, Err: err}
	}
	a.active = true
	appLog.Debug("relay on", "pin", a.name)
	return nil
}

func (a *pinActuator) Deactivate(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}
	if err := a.pin.Out(gpio.Low); err != nil {
		return &ActuatorError{Pin: a.name, Err: err}
	}
	a.active = false
	appLog.Debug("relay off", "pin", a.name)
	return nil
}

// noopActuator is substituted when GPIO access is disabled. It only logs.
type noopActuator struct {
	mu     sync.Mutex
	active bool
}

// NewNoop returns an Actuator that touches no hardware. Used for
// development off the Pi (ALARMCLOCK_NO_GPIO).
func NewNoop() Actuator {
	return &noopActuator{}
}

func (a *noopActuator) Activate(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		appLog.Info("relay activate (no-gpio stub)")
		a.active = true
	}
	return nil
}

func (a *noopActuator) Deactivate(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		appLog.Info("relay deactivate (no-gpio stub)")
		a.active = false
	}
	return nil
}

func pinName(bcm int) string {
	return fmt.Sprintf("GPIO%d", bcm)
}
