package sim

import (
	"github.com/michcald/spimon"
)

// Wire is a single-bit signal. It implements spimon.Signal.
//
// Setting a wire takes effect immediately; processes waiting on a matching
// edge become runnable at the current time, in the order their triggers
// fired.
type Wire struct {
	k       *Kernel
	name    string
	val     spimon.Level
	waiters []*waiter
}

// Name returns the wire name.
func (w *Wire) Name() string { return w.name }

// Read returns the current level.
func (w *Wire) Read() spimon.Level { return w.val }

// Out sets the wire level. It never fails.
func (w *Wire) Out(l spimon.Level) error {
	w.Set(l)
	return nil
}

// Set drives the wire to l and wakes the processes waiting on a matching
// transition.
func (w *Wire) Set(l spimon.Level) {
	old := w.val
	if old == l {
		return
	}
	w.val = l

	keep := w.waiters[:0]
	for _, wt := range w.waiters {
		if wt.fired >= 0 {
			// already woken through another wire
			continue
		}
		if i := wt.match(w, old, l); i >= 0 {
			wt.fired = i
			w.k.schedule(wt.p)
			continue
		}
		keep = append(keep, wt)
	}
	for i := len(keep); i < len(w.waiters); i++ {
		w.waiters[i] = nil
	}
	w.waiters = keep
}

// SetBool drives the wire High or Low.
func (w *Wire) SetBool(b bool) {
	if b {
		w.Set(spimon.High)
	} else {
		w.Set(spimon.Low)
	}
}

// Toggle inverts a known level. Indeterminate wires go High.
func (w *Wire) Toggle() {
	w.SetBool(w.val != spimon.High)
}

func (w *Wire) String() string {
	return w.name + "=" + w.val.String()
}

type waiter struct {
	p        *Proc
	fired    int
	triggers []spimon.Trigger
}

// match returns the index of the first trigger fired by w going from old to
// new, or -1.
func (wt *waiter) match(w *Wire, old, new spimon.Level) int {
	for i, t := range wt.triggers {
		if t.Signal == spimon.Signal(w) && t.Edge.Match(old, new) {
			return i
		}
	}
	return -1
}
