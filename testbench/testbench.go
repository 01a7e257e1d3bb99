// Package testbench drives the simulated iceZ0mb1e through its GPIO loopback
// and SPI tests and checks the results with a spimon.Monitor.
package testbench

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/michcald/spimon"
	"github.com/michcald/spimon/dut"
	"github.com/michcald/spimon/sim"
	"periph.io/x/conn/v3/physic"
)

// Options holds the testbench configuration.
type Options struct {
	// Seed seeds the random modes, speeds and expected bytes.
	// Defaults to 42 if not provided.
	Seed int64
	// Iterations is the number of SPI transfers.
	// Defaults to 20 if not provided.
	Iterations int
	// ClockFreq is the system clock frequency.
	// Defaults to 100MHz if not provided.
	ClockFreq physic.Frequency
	// MaxLoopbackCycles bounds the GPIO loopback polling loop.
	// Defaults to 20000 if not provided.
	MaxLoopbackCycles int
	// Timeout bounds the simulated time of the run.
	// Defaults to 10ms if not provided.
	Timeout time.Duration
	// SkipGPIO disables the GPIO loopback test.
	SkipGPIO bool
	// SkipSPI disables the SPI test.
	SkipSPI bool
}

// Transfer is the outcome of one SPI test iteration.
type Transfer struct {
	Mode   spimon.Mode
	Speed  int
	Expect uint8
	Actual spimon.Bits
	// Sent is the word the monitor shifted out to the device.
	Sent uint8
	Pass bool
}

// Report summarizes a testbench run.
type Report struct {
	GPIOErrors int
	GPIOPassed bool
	Transfers  []Transfer
	SPIErrors  int
	// Received holds the bytes the device read on MISO, one per transfer.
	Received []spimon.Bits
	// Elapsed is the simulated time at the end of the run.
	Elapsed time.Duration
}

// OK reports whether every enabled test passed.
func (r Report) OK(o Options) bool {
	if !o.SkipGPIO && !r.GPIOPassed {
		return false
	}
	return r.SPIErrors == 0
}

func (o Options) withDefaults() Options {
	if o.Seed == 0 {
		o.Seed = 42
	}
	if o.Iterations == 0 {
		o.Iterations = 20
	}
	if o.ClockFreq == 0 {
		o.ClockFreq = 100 * physic.MegaHertz
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Millisecond
	}
	if o.MaxLoopbackCycles == 0 {
		o.MaxLoopbackCycles = 20000
	}
	return o
}

// Run simulates the device and runs the enabled tests.
func Run(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	log := spimon.GetLogger()

	k := sim.NewKernel()
	defer k.Close()

	clkWire := k.Wire("clk")
	sim.NewClock(clkWire, opts.ClockFreq).Start(k)
	dev := dut.New(k, clkWire)
	dev.Start(k)

	tb := &bench{opts: opts, dev: dev, clk: clkWire, log: log}
	k.Go("testbench", func(p *sim.Proc) error {
		defer k.Stop()
		if err := tb.run(ctx, p); err != nil {
			return err
		}
		tb.finished = true
		return nil
	})
	if err := k.Run(opts.Timeout); err != nil {
		return tb.report, err
	}
	tb.report.Received = dev.Received
	tb.report.Elapsed = k.Now()
	if !tb.finished {
		return tb.report, fmt.Errorf("testbench did not finish within %s of simulated time", opts.Timeout)
	}
	return tb.report, nil
}

type bench struct {
	opts     Options
	dev      *dut.Device
	clk      *sim.Wire
	log      spimon.Logger
	report   Report
	finished bool
}

func (b *bench) run(ctx context.Context, p *sim.Proc) error {
	if err := spimon.WaitEdge(ctx, p, b.clk, spimon.FallingEdge); err != nil {
		return err
	}
	if !b.opts.SkipGPIO {
		if err := b.gpioLoopback(ctx, p); err != nil {
			return err
		}
	}
	b.dev.P1In.Set(0)
	if err := p.Cycles(ctx, b.clk, 100); err != nil {
		return err
	}
	if !b.opts.SkipSPI {
		if err := b.spiTest(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) gpioLoopback(ctx context.Context, p *sim.Proc) error {
	b.log.Info("GPIO Loopback Test")
	for i := 0; i < b.opts.MaxLoopbackCycles; i++ {
		if err := spimon.WaitEdge(ctx, p, b.clk, spimon.FallingEdge); err != nil {
			return err
		}
		b.dev.P2In.Drive(b.dev.P1Out.Levels())
		v, ok := b.dev.P1Out.Get()
		if (i+1)%1000 == 0 {
			b.log.Info(fmt.Sprintf("clock = %d: P1_out = %d", i+1, v))
		}
		if ok && v == 0xff {
			break
		}
	}
	if err := b.dev.P1Out.WaitChange(ctx, p); err != nil {
		return err
	}

	v, ok := b.dev.P1Out.Get()
	b.report.GPIOErrors = int(v)
	b.report.GPIOPassed = ok && v == 0
	if b.report.GPIOPassed {
		b.log.Info("GPIO Loopback Test Passed")
	} else {
		b.log.Error(fmt.Sprintf("GPIO Loopback Test Failed - Error Count = %s", b.dev.P1Out.Levels()))
	}
	return nil
}

func (b *bench) spiTest(ctx context.Context, p *sim.Proc) error {
	b.log.Info("SPI Test (random modes and speeds)")
	mon, err := spimon.New(spimon.Config{}, b.dev.Wiring(), p)
	if err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(b.opts.Seed))
	toggle := 0
	for i := 0; i < b.opts.Iterations; i++ {
		mode := spimon.Mode(rng.Intn(4))
		expect := uint8(rng.Intn(256))
		speed := rng.Intn(8) * 2
		toggle = (toggle + dut.Toggle) & dut.Toggle
		p1 := uint8(speed<<dut.SpeedShift | toggle | int(mode))
		sent := uint8(i) | 0x80

		if err := mon.Configure(spimon.Config{Mode: mode}); err != nil {
			return err
		}
		b.dev.P2In.Set(expect)
		b.dev.P1In.Set(p1)
		actual, err := mon.DecodeWord(ctx, spimon.BitsFromUint(uint64(sent), 8))
		if err != nil {
			return err
		}

		t := Transfer{Mode: mode, Speed: speed / 2, Expect: expect, Actual: actual, Sent: sent}
		v, err := actual.Uint()
		t.Pass = err == nil && len(actual) == 8 && uint8(v) == expect
		b.report.Transfers = append(b.report.Transfers, t)

		msg := fmt.Sprintf("P1_in = %#x speed = %d mode = %d actual = %s expect = %d", p1, t.Speed, mode, actual, expect)
		if t.Pass {
			b.log.Info("pass " + msg)
		} else {
			b.report.SPIErrors++
			b.log.Error("FAIL " + msg)
		}
	}

	b.dev.P1In.Set(dut.Done)
	if b.report.SPIErrors == 0 {
		b.log.Info("SPI Test Passed")
	} else {
		b.log.Error(fmt.Sprintf("SPI Test Failed - Error Count = %d", b.report.SPIErrors))
	}
	return p.Cycles(ctx, b.clk, 100)
}
