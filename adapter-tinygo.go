//go:build tinygo

package spimon

import (
	"machine"
	"strconv"
)

// machinePin wraps a machine.Pin to satisfy the Signal and Watcher
// interfaces.
type machinePin struct {
	pin  machine.Pin
	name string
	out  bool
}

// NewMachineSignal wraps a TinyGo pin as a Signal. The pin starts as a
// floating input and switches to output on the first driven level.
func NewMachineSignal(name string, pin machine.Pin) Signal {
	if name == "" {
		name = "GP" + strconv.Itoa(int(pin))
	}
	pin.Configure(machine.PinConfig{Mode: machine.PinInput})
	return &machinePin{pin: pin, name: name}
}

func (p *machinePin) Name() string { return p.name }

func (p *machinePin) Read() Level {
	if p.pin.Get() {
		return High
	}
	return Low
}

// Out drives the pin. HiZ and Unknown release the line as a floating input.
func (p *machinePin) Out(l Level) error {
	if !l.Known() {
		p.pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		p.out = false
		return nil
	}
	if !p.out {
		p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.out = true
	}
	p.pin.Set(l == High)
	return nil
}

// Watch calls handler from the pin interrupt on every matching edge.
func (p *machinePin) Watch(edge Edge, handler func()) error {
	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	case BothEdges:
		mEdge = machine.PinToggle
	default:
		return nil
	}
	return p.pin.SetInterrupt(mEdge, func(machine.Pin) {
		handler()
	})
}

// Unwatch removes the pin interrupt.
func (p *machinePin) Unwatch() error {
	return p.pin.SetInterrupt(0, nil)
}

// MachinePins holds the TinyGo pins of the monitored lines.
// Unused lines are set to machine.NoPin.
type MachinePins struct {
	SCLK machine.Pin
	CS   machine.Pin
	SDI  machine.Pin
	SDO  machine.Pin
}

// OpenMachinePins wraps the given pins as a Wiring.
func OpenMachinePins(pins MachinePins) (Wiring, error) {
	if pins.SCLK == machine.NoPin {
		return Wiring{}, &ConfigError{Field: "wiring", Reason: "SCLK pin not configured"}
	}
	wrap := func(name string, p machine.Pin) Signal {
		if p == machine.NoPin {
			return nil
		}
		return NewMachineSignal(name, p)
	}
	w := Wiring{
		SCLK: wrap("sclk", pins.SCLK),
		CS:   wrap("cs", pins.CS),
		SDI:  wrap("sdi", pins.SDI),
		SDO:  wrap("sdo", pins.SDO),
	}
	globalLogger.Info("SPI pins opened: " + w.String())
	return w, nil
}
