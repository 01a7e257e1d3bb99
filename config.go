package spimon

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/spi"
)

var (
	ErrConfig        = errors.New("invalid configuration")
	ErrIndeterminate = errors.New("indeterminate bit")
	ErrClosed        = errors.New("edge source closed")
)

// DefaultName is the monitor label used when Config.Name is empty.
const DefaultName = "SPI Monitor"

// DefaultSize is the word width used when Config.Size is zero.
const DefaultSize = 8

// ConfigError reports an invalid monitor configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfig, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Mode is the SPI clock mode (0 to 3).
//
//	mode  drive    sample   idle clock
//	 0    falling  rising   low
//	 1    rising   falling  low
//	 2    rising   falling  high
//	 3    falling  rising   high
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

func (m Mode) String() string {
	return fmt.Sprintf("mode %d", uint8(m))
}

// Valid reports whether m is one of the four SPI modes.
func (m Mode) Valid() bool {
	return m <= Mode3
}

// CPOL reports the idle clock polarity (true = idle high).
func (m Mode) CPOL() bool {
	return m == Mode2 || m == Mode3
}

// CPHA reports whether the first data bit is driven after the first clock
// transition rather than before it.
func (m Mode) CPHA() bool {
	return m == Mode1 || m == Mode3
}

// IdleLevel returns the clock level between transfers.
func (m Mode) IdleLevel() Level {
	if m.CPOL() {
		return High
	}
	return Low
}

// SampleEdge returns the clock edge on which data is read.
func (m Mode) SampleEdge() Edge {
	if m == Mode0 || m == Mode3 {
		return RisingEdge
	}
	return FallingEdge
}

// DriveEdge returns the clock edge on which data is shifted out.
func (m Mode) DriveEdge() Edge {
	if m.SampleEdge() == RisingEdge {
		return FallingEdge
	}
	return RisingEdge
}

// PreDrive reports whether the first bit must be on the line before the
// first clock transition, which is the case when that transition samples.
func (m Mode) PreDrive() bool {
	return !m.CPHA()
}

// Config holds the monitor configuration.
type Config struct {
	// Name labels the monitor in diagnostics.
	// Defaults to "SPI Monitor" if not provided.
	Name string
	// Size is the word width in bits.
	// Defaults to 8 if not provided.
	Size int
	// LSBFirst selects least significant bit first on the wire.
	// Defaults to false (MSB first).
	LSBFirst bool
	// Mode is the SPI clock mode.
	// Defaults to Mode0.
	Mode Mode
}

// withDefaults validates c and fills in zero values.
func (c Config) withDefaults() (Config, error) {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Size < 0 {
		return c, &ConfigError{Field: "size", Reason: fmt.Sprintf("%d bits, must be at least 1", c.Size)}
	}
	if c.Size == 0 {
		c.Size = DefaultSize
	}
	if !c.Mode.Valid() {
		return c, &ConfigError{Field: "mode", Reason: fmt.Sprintf("%d, must be between 0 and 3", uint8(c.Mode))}
	}
	return c, nil
}

func (c Config) String() string {
	order := "MSB first"
	if c.LSBFirst {
		order = "LSB first"
	}
	return fmt.Sprintf("%s(%s, %d bits, %s)", c.Name, c.Mode, c.Size, order)
}

// ConfigFromSPI builds a Config from a periph.io SPI mode and word width.
func ConfigFromSPI(name string, m spi.Mode, bits int) Config {
	c := Config{
		Name:     name,
		Size:     bits,
		LSBFirst: m&spi.LSBFirst != 0,
	}
	switch m & 0x3 {
	case spi.Mode0:
		c.Mode = Mode0
	case spi.Mode1:
		c.Mode = Mode1
	case spi.Mode2:
		c.Mode = Mode2
	case spi.Mode3:
		c.Mode = Mode3
	}
	return c
}
