package sim

import (
	"context"
	"time"

	"github.com/michcald/spimon"
	"github.com/pkg/errors"
)

// Proc is a simulated process. Its methods must only be called from the
// process's own function.
type Proc struct {
	k      *Kernel
	name   string
	resume chan struct{}
	done   bool
	killed bool
}

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// Kernel returns the kernel running p.
func (p *Proc) Kernel() *Kernel { return p.k }

// WaitFirst suspends p until one of triggers fires and returns its index.
// Every trigger signal must be a Wire of p's kernel. Cancellation of ctx is
// observed when p suspends and when it is resumed.
func (p *Proc) WaitFirst(ctx context.Context, triggers ...spimon.Trigger) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if len(triggers) == 0 {
		return -1, errors.New("no triggers")
	}
	wt := &waiter{p: p, fired: -1, triggers: triggers}
	for _, t := range triggers {
		w, ok := t.Signal.(*Wire)
		if !ok || w.k != p.k {
			return -1, errors.Errorf("signal %v is not a wire of this kernel", t.Signal)
		}
	}
	for _, t := range triggers {
		w := t.Signal.(*Wire)
		w.waiters = append(w.waiters, wt)
	}
	p.suspend()
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	return wt.fired, nil
}

// Delay suspends p for d of simulated time. A zero delay lets the other
// runnable processes run first.
func (p *Proc) Delay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	p.k.scheduleAt(p, p.k.now+d)
	p.suspend()
}

// Cycles waits for n rising edges of clk.
func (p *Proc) Cycles(ctx context.Context, clk *Wire, n int) error {
	for i := 0; i < n; i++ {
		if err := spimon.WaitEdge(ctx, p, clk, spimon.RisingEdge); err != nil {
			return err
		}
	}
	return nil
}
