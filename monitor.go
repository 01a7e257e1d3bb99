package spimon

import (
	"context"
	"fmt"
	"sync"
)

type state uint8

const (
	stateAwaitingSelect state = iota
	stateAwaitingEdge
	stateDone
	stateAborted
)

type arm uint8

const (
	armSelect arm = iota
	armSample
	armDrive
)

// transfer is one in-flight word exchange.
type transfer struct {
	out      Bits // pending outgoing bits, in wire order
	in       Bits // sampled bits, in wire order
	state    state
	triggers []Trigger
	arms     []arm
}

// Stats counts the words seen by a Monitor.
type Stats struct {
	Words   int
	Aborted int
}

// Monitor is an SPI peripheral-side bus monitor. It samples the data line
// on the mode's sample edge and shifts its own word out on the drive edge.
type Monitor struct {
	src    EdgeSource
	wiring Wiring

	// busy serializes transfers; mu guards the fields below it and is
	// never held across a suspension.
	busy  sync.Mutex
	mu    sync.Mutex
	cfg   Config
	stats Stats
}

// New creates a monitor on the given wiring, suspending on src.
func New(cfg Config, w Wiring, src EdgeSource) (*Monitor, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, &ConfigError{Field: "source", Reason: "edge source not configured"}
	}
	c, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if t, ok := src.(Tracker); ok {
		if err := t.Track(w.triggers()...); err != nil {
			return nil, fmt.Errorf("failed to track %s: %w", w, err)
		}
	}
	return &Monitor{src: src, wiring: w, cfg: c}, nil
}

// Configure replaces the configuration used by subsequent transfers.
// It never waits: an in-flight word completes with the configuration it
// started with.
// This method is concurrent safe.
func (m *Monitor) Configure(cfg Config) error {
	c, err := cfg.withDefaults()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = c
	return nil
}

// Config returns the current configuration.
// This method is concurrent safe.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Stats returns the word counters.
// This method is concurrent safe.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("%s [%s]", m.cfg, m.wiring)
}

// DecodeWord exchanges one word with the bus master. It drives out on SDO
// and returns the bits sampled on SDI in natural order.
//
// If chip select is wired, the transfer starts on its falling edge and a
// toggle before the word completes aborts it: the returned Bits is then
// shorter than the word size. That is not an error. Indeterminate samples
// are returned as HiZ or Unknown levels.
//
// out must hold exactly Config.Size bits when SDO is wired and is ignored
// otherwise.
func (m *Monitor) DecodeWord(ctx context.Context, out Bits) (Bits, error) {
	m.busy.Lock()
	defer m.busy.Unlock()
	return m.decode(ctx, m.Config(), out)
}

// RunContinuous decodes words back to back, sending all zeros, and calls fn
// with every completed word. It returns when ctx is cancelled or the edge
// source fails.
func (m *Monitor) RunContinuous(ctx context.Context, fn func(Bits)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.busy.Lock()
		cfg := m.Config()
		word, err := m.decode(ctx, cfg, make(Bits, cfg.Size))
		m.busy.Unlock()
		complete := len(word) == cfg.Size
		if err != nil {
			return err
		}
		if complete {
			fn(word)
		}
	}
}

func (m *Monitor) decode(ctx context.Context, cfg Config, out Bits) (Bits, error) {
	if m.wiring.SDO != nil && len(out) != cfg.Size {
		return nil, &ConfigError{Field: "word", Reason: fmt.Sprintf("%d outgoing bits for a %d bit word", len(out), cfg.Size)}
	}

	t := &transfer{state: stateAwaitingEdge}
	if m.wiring.CS != nil {
		t.state = stateAwaitingSelect
	} else if err := m.begin(cfg, t, out); err != nil {
		return nil, err
	}

	for {
		switch t.state {
		case stateAwaitingSelect:
			if err := WaitEdge(ctx, m.src, m.wiring.CS, FallingEdge); err != nil {
				return nil, err
			}
			t.state = stateAwaitingEdge
			if err := m.begin(cfg, t, out); err != nil {
				return nil, err
			}
		case stateAwaitingEdge:
			i, err := m.src.WaitFirst(ctx, t.triggers...)
			if err != nil {
				return nil, err
			}
			if i < 0 || i >= len(t.arms) {
				return nil, fmt.Errorf("%s: edge source returned trigger %d of %d", cfg.Name, i, len(t.arms))
			}
			if err := m.step(cfg, t, t.arms[i]); err != nil {
				return nil, err
			}
		case stateDone, stateAborted:
			m.mu.Lock()
			m.stats.Words++
			if t.state == stateAborted {
				m.stats.Aborted++
			}
			m.mu.Unlock()
			if cfg.LSBFirst {
				return t.in.Reverse(), nil
			}
			return t.in, nil
		}
	}
}

// begin arms the edge race and pre-drives the first bit if the mode needs it.
func (m *Monitor) begin(cfg Config, t *transfer, out Bits) error {
	t.in = make(Bits, 0, cfg.Size)
	t.triggers = t.triggers[:0]
	t.arms = t.arms[:0]

	if m.wiring.CS != nil {
		t.triggers = append(t.triggers, Trigger{Signal: m.wiring.CS, Edge: BothEdges})
		t.arms = append(t.arms, armSelect)
	}
	t.triggers = append(t.triggers, Trigger{Signal: m.wiring.SCLK, Edge: cfg.Mode.SampleEdge()})
	t.arms = append(t.arms, armSample)

	if m.wiring.SDO == nil {
		return nil
	}
	t.triggers = append(t.triggers, Trigger{Signal: m.wiring.SCLK, Edge: cfg.Mode.DriveEdge()})
	t.arms = append(t.arms, armDrive)

	// data bits are always shifted left to right
	if cfg.LSBFirst {
		t.out = out.Reverse()
	} else {
		t.out = append(Bits(nil), out...)
	}
	if cfg.Mode.PreDrive() {
		return m.shiftOut(t)
	}
	return nil
}

func (m *Monitor) step(cfg Config, t *transfer, a arm) error {
	switch a {
	case armSelect:
		t.state = stateAborted
	case armSample:
		l := HiZ
		if m.wiring.SDI != nil {
			l = m.wiring.SDI.Read()
		}
		t.in = append(t.in, l)
		if len(t.in) >= cfg.Size {
			t.state = stateDone
		}
	case armDrive:
		return m.shiftOut(t)
	}
	return nil
}

func (m *Monitor) shiftOut(t *transfer) error {
	if len(t.out) == 0 {
		return nil
	}
	b := t.out[0]
	t.out = t.out[1:]
	if err := m.wiring.SDO.Out(b); err != nil {
		return fmt.Errorf("failed to drive %s: %w", m.wiring.SDO.Name(), err)
	}
	return nil
}
