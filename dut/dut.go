// Package dut is a behavioral model of the iceZ0mb1e test firmware.
//
// The device first runs a GPIO loopback test: it writes every byte value to
// P1out, reads it back from P2in (the testbench connects the two) and
// finally writes the mismatch count to P1out. It then acts as an SPI bus
// master: whenever P1in changes, bits [1:0] select the SPI mode, bits [6:3]
// the clock divider and bit 7 ends the test; the P2in levels are sent MSB
// first while the byte on MISO is recorded.
package dut

import (
	"context"

	"github.com/michcald/spimon"
	"github.com/michcald/spimon/sim"
)

const (
	// loopbackSettle is the number of clock cycles between writing P1out
	// and reading P2in.
	loopbackSettle = 4
	// testGap is the number of clock cycles between the two tests.
	testGap = 20
)

// P1in bit fields.
const (
	ModeMask   = 0x03
	Toggle     = 0x04
	SpeedShift = 3
	SpeedMask  = 0x0F
	Done       = 0x80
)

// Device is the simulated iceZ0mb1e.
type Device struct {
	clk *sim.Wire

	P1In  *Port
	P1Out *Port
	P2In  *Port

	SCLK *sim.Wire
	CS   *sim.Wire
	MOSI *sim.Wire
	MISO *sim.Wire

	// LoopbackErrors is the mismatch count of the GPIO loopback test.
	LoopbackErrors int
	// Received holds the bytes read from MISO, one entry per SPI transfer.
	Received []spimon.Bits
}

// New creates the device ports and SPI wires on k, clocked by clk.
func New(k *sim.Kernel, clk *sim.Wire) *Device {
	return &Device{
		clk:   clk,
		P1In:  newPort(k, "P1_in"),
		P1Out: newPort(k, "P1_out"),
		P2In:  newPort(k, "P2_in"),
		SCLK:  k.Wire("spi_sclk"),
		CS:    k.Wire("spi_cs"),
		MOSI:  k.Wire("spi_mosi"),
		MISO:  k.Wire("spi_miso"),
	}
}

// Wiring returns the monitor-side view of the SPI bus: the monitor samples
// MOSI and drives MISO.
func (d *Device) Wiring() spimon.Wiring {
	return spimon.Wiring{SCLK: d.SCLK, CS: d.CS, SDI: d.MOSI, SDO: d.MISO}
}

// Start forks the firmware process.
func (d *Device) Start(k *sim.Kernel) *sim.Proc {
	return k.Go("firmware", func(p *sim.Proc) error {
		return d.run(context.Background(), p)
	})
}

func (d *Device) run(ctx context.Context, p *sim.Proc) error {
	d.CS.Set(spimon.High)

	if err := d.gpioLoopback(ctx, p); err != nil {
		return err
	}
	if err := p.Cycles(ctx, d.clk, testGap); err != nil {
		return err
	}

	last := -1
	for {
		v, ok := d.P1In.Get()
		if !ok || int(v) == last {
			if err := d.P1In.WaitChange(ctx, p); err != nil {
				return err
			}
			continue
		}
		last = int(v)
		if v&Done != 0 {
			return nil
		}
		tx := d.P2In.Levels()
		mode := spimon.Mode(v & ModeMask)
		speed := int(v>>SpeedShift) & SpeedMask
		rx, err := d.transfer(ctx, p, mode, speed, tx)
		if err != nil {
			return err
		}
		d.Received = append(d.Received, rx)
	}
}

func (d *Device) gpioLoopback(ctx context.Context, p *sim.Proc) error {
	errs := 0
	for i := 0; i < 256; i++ {
		d.P1Out.Set(uint8(i))
		if err := p.Cycles(ctx, d.clk, loopbackSettle); err != nil {
			return err
		}
		if v, ok := d.P2In.Get(); !ok || v != uint8(i) {
			errs++
		}
	}
	d.LoopbackErrors = errs
	d.P1Out.Set(uint8(errs))
	return nil
}

// transfer sends the levels of tx MSB first, indeterminate bits included.
// Each clock phase lasts speed+1 cycles.
func (d *Device) transfer(ctx context.Context, p *sim.Proc, mode spimon.Mode, speed int, tx spimon.Bits) (spimon.Bits, error) {
	half := speed + 1
	wait := func() error { return p.Cycles(ctx, d.clk, half) }

	d.SCLK.Set(mode.IdleLevel())
	d.CS.Set(spimon.Low)
	rx := make(spimon.Bits, 0, 8)
	for _, bit := range tx {
		if mode.CPHA() {
			d.SCLK.Toggle()
			d.MOSI.Set(bit)
			if err := wait(); err != nil {
				return nil, err
			}
			d.SCLK.Toggle()
			rx = append(rx, d.MISO.Read())
			if err := wait(); err != nil {
				return nil, err
			}
			continue
		}
		d.MOSI.Set(bit)
		if err := wait(); err != nil {
			return nil, err
		}
		d.SCLK.Toggle()
		rx = append(rx, d.MISO.Read())
		if err := wait(); err != nil {
			return nil, err
		}
		d.SCLK.Toggle()
	}
	if err := wait(); err != nil {
		return nil, err
	}
	d.CS.Set(spimon.High)
	return rx, nil
}
