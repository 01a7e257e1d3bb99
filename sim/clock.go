package sim

import (
	"time"

	"github.com/michcald/spimon"
	"periph.io/x/conn/v3/physic"
)

// Clock drives a free-running square wave on a wire.
type Clock struct {
	wire   *Wire
	period time.Duration
}

// NewClock returns a clock of frequency f on w.
func NewClock(w *Wire, f physic.Frequency) *Clock {
	return &Clock{wire: w, period: f.Period()}
}

// Period returns the clock period.
func (c *Clock) Period() time.Duration {
	return c.period
}

// Start forks the clock process. The wire goes High at the current time and
// the clock runs until the kernel is closed.
func (c *Clock) Start(k *Kernel) *Proc {
	high := c.period / 2
	low := c.period - high
	return k.Go(c.wire.Name()+" clock", func(p *Proc) error {
		for {
			c.wire.Set(spimon.High)
			p.Delay(high)
			c.wire.Set(spimon.Low)
			p.Delay(low)
		}
	})
}
