package dut

import (
	"context"
	"strconv"

	"github.com/michcald/spimon"
	"github.com/michcald/spimon/sim"
)

// Port is an 8-bit I/O port, one wire per bit.
type Port struct {
	name  string
	wires [8]*sim.Wire
}

func newPort(k *sim.Kernel, name string) *Port {
	p := &Port{name: name}
	for i := range p.wires {
		p.wires[i] = k.Wire(name + "[" + strconv.Itoa(i) + "]")
	}
	return p
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Bit returns the wire of bit i.
func (p *Port) Bit(i int) *sim.Wire { return p.wires[i] }

// Set drives all eight bits to v.
func (p *Port) Set(v uint8) {
	p.Drive(spimon.BitsFromUint(uint64(v), 8))
}

// Drive copies b, MSB first, onto the port.
func (p *Port) Drive(b spimon.Bits) {
	for i := 0; i < 8 && i < len(b); i++ {
		p.wires[7-i].Set(b[i])
	}
}

// Levels returns the port bits, MSB first.
func (p *Port) Levels() spimon.Bits {
	b := make(spimon.Bits, 8)
	for i := range b {
		b[i] = p.wires[7-i].Read()
	}
	return b
}

// Get returns the port value. ok is false if any bit is indeterminate.
func (p *Port) Get() (v uint8, ok bool) {
	u, err := p.Levels().Uint()
	if err != nil {
		return 0, false
	}
	return uint8(u), true
}

// WaitChange suspends src until any bit of the port toggles.
func (p *Port) WaitChange(ctx context.Context, src spimon.EdgeSource) error {
	triggers := make([]spimon.Trigger, len(p.wires))
	for i, w := range p.wires {
		triggers[i] = spimon.Trigger{Signal: w, Edge: spimon.BothEdges}
	}
	_, err := src.WaitFirst(ctx, triggers...)
	return err
}
