// Package sim provides a small cooperative discrete-event simulator.
//
// A Kernel owns a set of Wires and runs Procs. Each Proc runs in its own
// goroutine but the kernel hands control to exactly one of them at a time,
// so processes never need locking. A Proc suspends on signal edges
// (WaitFirst) or on simulated time (Delay) and the kernel resumes it when
// the condition fires.
//
// Procs implement spimon.EdgeSource, so a spimon.Monitor created inside a
// process can decode a simulated bus.
package sim

import (
	"container/heap"
	"runtime"
	"time"

	"github.com/michcald/spimon"
	"github.com/pkg/errors"
)

// Forever can be passed to Run to simulate until the kernel is stopped or
// runs out of events.
const Forever = time.Duration(1<<63 - 1)

// Kernel is a discrete-event simulation kernel.
type Kernel struct {
	now     time.Duration
	seq     uint64
	timers  timerQueue
	ready   []*Proc
	yield   chan *Proc
	procs   []*Proc
	err     error
	stopped bool
	closed  bool
}

// NewKernel returns an empty kernel at time zero.
// Callers must call Close once the kernel is no longer needed in order to
// release process goroutines.
func NewKernel() *Kernel {
	return &Kernel{yield: make(chan *Proc)}
}

// Now returns the current simulated time.
func (k *Kernel) Now() time.Duration {
	return k.now
}

// Wire creates a new wire, initially undriven.
func (k *Kernel) Wire(name string) *Wire {
	return &Wire{k: k, name: name, val: spimon.HiZ}
}

// Go starts fn as a new process. The process first runs at the current
// simulated time, after the processes already runnable.
func (k *Kernel) Go(name string, fn func(p *Proc) error) *Proc {
	p := &Proc{k: k, name: name, resume: make(chan struct{})}
	k.procs = append(k.procs, p)
	go func() {
		defer func() {
			p.done = true
			k.yield <- p
		}()
		<-p.resume
		if p.killed {
			return
		}
		if err := fn(p); err != nil && k.err == nil {
			k.err = errors.Wrapf(err, "process %s", p.name)
		}
	}()
	k.schedule(p)
	return p
}

// Stop ends the current Run once the running process suspends.
func (k *Kernel) Stop() {
	k.stopped = true
}

// Run advances the simulation until no event is left, until is reached or
// Stop is called. It returns the first error returned by a process.
func (k *Kernel) Run(until time.Duration) error {
	if k.closed {
		return errors.New("kernel closed")
	}
	k.stopped = false
	for {
		for len(k.ready) > 0 {
			p := k.ready[0]
			k.ready = k.ready[1:]
			p.resume <- struct{}{}
			<-k.yield
			if k.err != nil {
				return k.err
			}
			if k.stopped {
				return nil
			}
		}
		if k.timers.Len() == 0 {
			return nil
		}
		at := k.timers[0].at
		if at > until {
			k.now = until
			return nil
		}
		k.now = at
		for k.timers.Len() > 0 && k.timers[0].at == at {
			t := heap.Pop(&k.timers).(*timer)
			k.ready = append(k.ready, t.p)
		}
	}
}

// Close kills every process that has not returned yet. Deferred calls in
// killed processes run; nothing else does.
func (k *Kernel) Close() {
	if k.closed {
		return
	}
	k.closed = true
	for _, p := range k.procs {
		if p.done {
			continue
		}
		p.killed = true
		p.resume <- struct{}{}
		<-k.yield
	}
	k.procs = nil
	k.ready = nil
	k.timers = nil
}

func (k *Kernel) schedule(p *Proc) {
	k.ready = append(k.ready, p)
}

func (k *Kernel) scheduleAt(p *Proc, at time.Duration) {
	k.seq++
	heap.Push(&k.timers, &timer{at: at, seq: k.seq, p: p})
}

// suspend hands control back to the kernel and blocks until resumed.
func (p *Proc) suspend() {
	p.k.yield <- p
	<-p.resume
	if p.killed {
		runtime.Goexit()
	}
}

type timer struct {
	at  time.Duration
	seq uint64
	p   *Proc
}

type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)   { *q = append(*q, x.(*timer)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
