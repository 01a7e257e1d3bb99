package spimon

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/physic"
)

// eventQueueSize bounds the transitions buffered between WaitFirst calls.
const eventQueueSize = 4096

// transition is a level seen on a tracked signal after it changed.
type transition struct {
	sig   Signal
	level Level
}

type polledSignal struct {
	sig   Signal
	level Level
}

// PinSource is an EdgeSource for physical pins.
//
// Signals implementing Watcher report their transitions through edge
// interrupts; the others are polled at the fallback rate. Every tracked
// signal is followed from the moment it is tracked, whether or not a
// caller is waiting on it, and transitions are queued in arrival order.
// Each WaitFirst call consumes queued transitions until one fires a
// trigger; the rest stay queued for the next call.
type PinSource struct {
	period   time.Duration
	events   chan transition
	done     chan struct{}
	overruns atomic.Uint32

	mu      sync.Mutex
	last    map[Signal]Level // level as consumed by WaitFirst
	polled  []*polledSignal
	watched []Watcher
	polling bool
	closed  bool
}

// NewPinSource returns a PinSource polling non-watchable signals at rate.
// Defaults to 1MHz if rate is zero.
// Callers must call Close to stop the watchers and the poller.
func NewPinSource(rate physic.Frequency) *PinSource {
	if rate <= 0 {
		rate = physic.MegaHertz
	}
	return &PinSource{
		period: rate.Period(),
		events: make(chan transition, eventQueueSize),
		done:   make(chan struct{}),
		last:   make(map[Signal]Level),
	}
}

// Track starts following sigs. Signals already tracked are ignored.
// A signal whose Watch fails falls back to polling.
// This method is concurrent safe.
func (s *PinSource) Track(sigs ...Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, sig := range sigs {
		if sig == nil {
			continue
		}
		if _, ok := s.last[sig]; ok {
			continue
		}
		l := sig.Read()
		s.last[sig] = l

		if w, ok := sig.(Watcher); ok {
			err := w.Watch(BothEdges, func() { s.push(sig, sig.Read()) })
			if err == nil {
				s.watched = append(s.watched, w)
				continue
			}
			globalLogger.Warn(fmt.Sprintf("edge detection unavailable on %s, polling: %v", sig.Name(), err))
		}
		s.polled = append(s.polled, &polledSignal{sig: sig, level: l})
		if !s.polling {
			s.polling = true
			go s.poll()
		}
	}
	return nil
}

// push queues a transition. It never blocks so it is safe to call from an
// interrupt handler; a full queue counts an overrun instead.
func (s *PinSource) push(sig Signal, l Level) {
	select {
	case s.events <- transition{sig: sig, level: l}:
	default:
		s.overruns.Add(1)
	}
}

func (s *PinSource) poll() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		for _, p := range s.polled {
			if l := p.sig.Read(); l != p.level {
				p.level = l
				s.push(p.sig, l)
			}
		}
		s.mu.Unlock()
	}
}

// WaitFirst returns the index of the first trigger fired by the queued
// transitions, in arrival order. Trigger signals not yet tracked are
// tracked from this call on.
func (s *PinSource) WaitFirst(ctx context.Context, triggers ...Trigger) (int, error) {
	if len(triggers) == 0 {
		return -1, fmt.Errorf("pin source: no triggers")
	}
	for _, t := range triggers {
		if err := s.Track(t.Signal); err != nil {
			return -1, err
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		if n := s.overruns.Swap(0); n > 0 {
			globalLogger.Warn(fmt.Sprintf("pin source: %d transitions dropped", n))
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-s.done:
			return -1, ErrClosed
		case ev := <-s.events:
			s.mu.Lock()
			old := s.last[ev.sig]
			s.last[ev.sig] = ev.level
			s.mu.Unlock()
			for i, t := range triggers {
				if t.Signal == ev.sig && t.Edge.Match(old, ev.level) {
					return i, nil
				}
			}
		}
	}
}

// Close stops the poller and unwatches every watched signal.
func (s *PinSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	var err error
	for _, w := range s.watched {
		if e := w.Unwatch(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
