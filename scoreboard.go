package spimon

import (
	"context"
	"fmt"
)

// Report summarizes a scoreboard run.
type Report struct {
	Passed int
	Failed int
	// Aborted counts words cut short by chip select. They also count as failed.
	Aborted int
}

// OK reports whether every checked word matched.
func (r Report) OK() bool {
	return r.Failed == 0
}

// Scoreboard decodes one word per expected value and compares them.
type Scoreboard struct {
	mon    *Monitor
	expect []uint64
}

// NewScoreboard creates a scoreboard checking mon against expect, in order.
func NewScoreboard(mon *Monitor, expect []uint64) *Scoreboard {
	return &Scoreboard{mon: mon, expect: expect}
}

// Run checks the expected values one transfer at a time, sending all zeros.
// It stops early when ctx is cancelled and returns the report so far.
func (s *Scoreboard) Run(ctx context.Context) (Report, error) {
	var r Report
	for _, expect := range s.expect {
		cfg := s.mon.Config()
		word, err := s.mon.DecodeWord(ctx, make(Bits, cfg.Size))
		if err != nil {
			return r, err
		}
		s.check(&r, cfg, word, expect)
	}
	return r, nil
}

func (s *Scoreboard) check(r *Report, cfg Config, word Bits, expect uint64) {
	if len(word) < cfg.Size {
		r.Failed++
		r.Aborted++
		globalLogger.Error(fmt.Sprintf("FAIL: actual = %s expect = %d - transfer aborted after %d of %d bits in %s", word, expect, len(word), cfg.Size, cfg.Name))
		return
	}
	actual, err := word.Uint()
	if err != nil {
		r.Failed++
		globalLogger.Error(fmt.Sprintf("FAIL: actual = %s expect = %d - X Detected in %s", word, expect, cfg.Name))
		return
	}
	if actual != expect {
		r.Failed++
		globalLogger.Error(fmt.Sprintf("FAIL: actual = %d expect = %d - %s", actual, expect, cfg.Name))
		return
	}
	r.Passed++
	globalLogger.Info(fmt.Sprintf("pass: actual = %d expect = %d - %s", actual, expect, cfg.Name))
}
