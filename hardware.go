package spimon

// Wiring maps the SPI roles to concrete signals.
// It is fixed for the lifetime of a Monitor.
type Wiring struct {
	// SCLK is the serial clock. Required.
	SCLK Signal
	// CS is the active-low chip select.
	// Optional. Point-to-point links may have no select line.
	CS Signal
	// SDI is the data line sampled by the monitor (bus master out).
	// Optional. If not provided, samples read as HiZ.
	SDI Signal
	// SDO is the data line driven by the monitor (bus master in).
	// Optional. If not provided, the monitor is receive only.
	SDO Signal
}

func (w Wiring) validate() error {
	if w.SCLK == nil {
		return &ConfigError{Field: "wiring", Reason: "SCLK not configured"}
	}
	return nil
}

// triggers returns the wired signals the monitor waits on.
func (w Wiring) triggers() []Signal {
	sigs := []Signal{w.SCLK}
	if w.CS != nil {
		sigs = append(sigs, w.CS)
	}
	return sigs
}

func (w Wiring) String() string {
	name := func(s Signal) string {
		if s == nil {
			return "-"
		}
		return s.Name()
	}
	return "sclk=" + name(w.SCLK) + " cs=" + name(w.CS) + " sdi=" + name(w.SDI) + " sdo=" + name(w.SDO)
}
