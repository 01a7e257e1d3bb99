//go:build !tinygo

package spimon

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// watchTimeout bounds each WaitForEdge call so Unwatch is noticed.
const watchTimeout = 100 * time.Millisecond

// realPin wraps a gpio.PinIO to satisfy the Signal and Watcher interfaces.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

// NewPinSignal wraps a periph.io pin as a Signal.
func NewPinSignal(p gpio.PinIO) Signal {
	return &realPin{PinIO: p}
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

// Out drives the pin. HiZ and Unknown release the line as a floating input.
func (p *realPin) Out(l Level) error {
	switch l {
	case High:
		return p.PinIO.Out(gpio.High)
	case Low:
		return p.PinIO.Out(gpio.Low)
	default:
		return p.PinIO.In(gpio.Float, gpio.NoEdge)
	}
}

// Watch arms edge detection on the pin and calls handler from a goroutine
// after every detected edge.
func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}
	if err := p.PinIO.In(gpio.Float, pEdge); err != nil {
		return err
	}

	stop := make(chan struct{})
	p.stopWatch = stop
	go func() {
		for {
			fired := p.PinIO.WaitForEdge(watchTimeout)
			select {
			case <-stop:
				return
			default:
			}
			if fired {
				handler()
			}
		}
	}()
	return nil
}

// Unwatch stops the watch goroutine and disables edge detection.
func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	return p.PinIO.In(gpio.Float, gpio.NoEdge)
}

// PinNames holds the GPIO names (e.g. "GPIO11") of the monitored lines.
type PinNames struct {
	// SCLK is the serial clock pin. Required.
	SCLK string
	// CS is the chip select pin. Optional.
	CS string
	// SDI is the pin sampled by the monitor. Optional.
	SDI string
	// SDO is the pin driven by the monitor. Optional.
	SDO string
}

// OpenPins initializes periph.io and looks up the named pins.
// Input pins are configured floating with edge detection disabled until a
// PinSource tracks them.
func OpenPins(names PinNames) (Wiring, error) {
	if _, err := host.Init(); err != nil {
		return Wiring{}, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}
	return openPins(names)
}

func openPins(names PinNames) (Wiring, error) {
	var w Wiring
	if names.SCLK == "" {
		return w, &ConfigError{Field: "wiring", Reason: "SCLK pin name not configured"}
	}
	lookup := func(name string, input bool) (Signal, error) {
		if name == "" {
			return nil, nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("failed to open pin %s", name)
		}
		if input {
			if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
				return nil, fmt.Errorf("failed to configure pin %s as input: %w", name, err)
			}
		}
		return NewPinSignal(p), nil
	}
	var err error
	if w.SCLK, err = lookup(names.SCLK, true); err != nil {
		return Wiring{}, err
	}
	if w.CS, err = lookup(names.CS, true); err != nil {
		return Wiring{}, err
	}
	if w.SDI, err = lookup(names.SDI, true); err != nil {
		return Wiring{}, err
	}
	if w.SDO, err = lookup(names.SDO, false); err != nil {
		return Wiring{}, err
	}
	globalLogger.Info("SPI pins opened: " + w.String())
	return w, nil
}
