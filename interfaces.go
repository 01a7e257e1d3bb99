package spimon

import "context"

// Level represents the logic level observed on a signal.
// Besides Low and High a line can be undriven (HiZ) or contended (Unknown).
type Level uint8

const (
	Low Level = iota
	High
	HiZ
	Unknown
)

// Known reports whether l is a valid logic 0 or 1.
func (l Level) Known() bool {
	return l == Low || l == High
}

func (l Level) String() string {
	switch l {
	case Low:
		return "0"
	case High:
		return "1"
	case HiZ:
		return "z"
	default:
		return "x"
	}
}

// Edge represents the signal transition to wait for.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

func (e Edge) String() string {
	switch e {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case BothEdges:
		return "both"
	default:
		return "none"
	}
}

// Match reports whether a transition from old to new fires e.
func (e Edge) Match(old, new Level) bool {
	if old == new {
		return false
	}
	switch e {
	case RisingEdge:
		return new == High
	case FallingEdge:
		return new == Low
	case BothEdges:
		return true
	default:
		return false
	}
}

// Signal represents a named digital line shared with the circuit.
type Signal interface {
	// Name returns the signal name used in diagnostics.
	Name() string
	// Read returns the current level of the signal.
	Read() Level
	// Out drives the signal to l.
	Out(l Level) error
}

// Trigger pairs a signal with the edge to wait for.
type Trigger struct {
	Signal Signal
	Edge   Edge
}

// EdgeSource suspends the caller on signal transitions.
type EdgeSource interface {
	// WaitFirst blocks until the earliest of triggers fires and returns its
	// index. Only one transition is reported per call.
	WaitFirst(ctx context.Context, triggers ...Trigger) (int, error)
}

// WaitEdge blocks until sig makes a transition matching edge.
func WaitEdge(ctx context.Context, src EdgeSource, sig Signal, edge Edge) error {
	_, err := src.WaitFirst(ctx, Trigger{Signal: sig, Edge: edge})
	return err
}

// Watcher is implemented by signals that report their own transitions,
// such as GPIO pins with edge interrupts.
type Watcher interface {
	// Watch calls handler on every transition matching edge. The handler
	// may run on another goroutine or in interrupt context.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the handler.
	Unwatch() error
}

// Tracker is implemented by edge sources that must follow signals
// continuously instead of only while a caller waits on them.
// New registers the wired clock and chip select with it.
type Tracker interface {
	Track(sigs ...Signal) error
}
