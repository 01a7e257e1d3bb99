package spimon

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

var errScriptDone = errors.New("script exhausted")

type mockSignal struct {
	src   *mockSource
	name  string
	level Level
	outs  int
}

func (s *mockSignal) Name() string { return s.name }
func (s *mockSignal) Read() Level  { return s.level }
func (s *mockSignal) Out(l Level) error {
	s.level = l
	s.outs++
	s.src.trace = append(s.src.trace, s.name+"="+l.String())
	return nil
}

type mockStep struct {
	sig   *mockSignal
	level Level
}

// mockSource replays a fixed list of level changes. Each WaitFirst applies
// steps until one fires a trigger.
type mockSource struct {
	steps []mockStep
	pos   int
	trace []string // "name:old->new" for edges, "name=level" for monitor drives
}

func (m *mockSource) signal(name string, l Level) *mockSignal {
	return &mockSignal{src: m, name: name, level: l}
}

func (m *mockSource) at(sig *mockSignal, l Level) {
	m.steps = append(m.steps, mockStep{sig: sig, level: l})
}

// cycles appends n clock periods starting from the mode's idle level.
func (m *mockSource) cycles(sclk *mockSignal, mode Mode, n int) {
	idle, active := mode.IdleLevel(), High
	if idle == High {
		active = Low
	}
	for i := 0; i < n; i++ {
		m.at(sclk, active)
		m.at(sclk, idle)
	}
}

// master appends the steps of a bus master shifting word onto sdi.
func (m *mockSource) master(sclk, sdi *mockSignal, mode Mode, word Bits) {
	idle, active := mode.IdleLevel(), High
	if idle == High {
		active = Low
	}
	for _, b := range word {
		if mode.CPHA() {
			m.at(sclk, active)
			m.at(sdi, b)
			m.at(sclk, idle)
		} else {
			m.at(sdi, b)
			m.at(sclk, active)
			m.at(sclk, idle)
		}
	}
}

func (m *mockSource) WaitFirst(ctx context.Context, triggers ...Trigger) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	for m.pos < len(m.steps) {
		st := m.steps[m.pos]
		m.pos++
		old := st.sig.level
		st.sig.level = st.level
		if old != st.level {
			m.trace = append(m.trace, st.sig.name+":"+old.String()+"->"+st.level.String())
		}
		for i, t := range triggers {
			if t.Signal == Signal(st.sig) && t.Edge.Match(old, st.level) {
				return i, nil
			}
		}
	}
	return -1, errScriptDone
}

func (m *mockSource) firstIndex(prefix string) int {
	for i, e := range m.trace {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

func mustBits(t *testing.T, s string) Bits {
	t.Helper()
	b, err := ParseBits(s)
	require.NoError(t, err)
	return b
}

// loopback returns a monitor whose SDO is wired back to its SDI, with no
// chip select.
func loopback(t *testing.T, cfg Config) (*Monitor, *mockSource, *mockSignal) {
	t.Helper()
	src := &mockSource{}
	sclk := src.signal("sclk", cfg.Mode.IdleLevel())
	sdio := src.signal("sdio", Low)
	mon, err := New(cfg, Wiring{SCLK: sclk, SDI: sdio, SDO: sdio}, src)
	require.NoError(t, err)
	return mon, src, sclk
}

// --- Tests ---

func TestModeTable(t *testing.T) {
	tests := []struct {
		mode     Mode
		cpol     bool
		cpha     bool
		drive    Edge
		sample   Edge
		idle     Level
		preDrive bool
	}{
		{Mode0, false, false, FallingEdge, RisingEdge, Low, true},
		{Mode1, false, true, RisingEdge, FallingEdge, Low, false},
		{Mode2, true, false, RisingEdge, FallingEdge, High, true},
		{Mode3, true, true, FallingEdge, RisingEdge, High, false},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.cpol, tt.mode.CPOL())
			assert.Equal(t, tt.cpha, tt.mode.CPHA())
			assert.Equal(t, tt.drive, tt.mode.DriveEdge())
			assert.Equal(t, tt.sample, tt.mode.SampleEdge())
			assert.Equal(t, tt.idle, tt.mode.IdleLevel())
			assert.Equal(t, tt.preDrive, tt.mode.PreDrive())
		})
	}
}

func TestNewValidation(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)

	tests := []struct {
		name  string
		cfg   Config
		w     Wiring
		src   EdgeSource
		field string
	}{
		{"negative size", Config{Size: -1}, Wiring{SCLK: sclk}, src, "size"},
		{"bad mode", Config{Mode: 4}, Wiring{SCLK: sclk}, src, "mode"},
		{"no clock", Config{}, Wiring{}, src, "wiring"},
		{"no source", Config{}, Wiring{SCLK: sclk}, nil, "source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.w, tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			var cerr *ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	src := &mockSource{}
	mon, err := New(Config{}, Wiring{SCLK: src.signal("sclk", Low)}, src)
	require.NoError(t, err)

	cfg := mon.Config()
	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultSize, cfg.Size)
	assert.False(t, cfg.LSBFirst)
	assert.Equal(t, Mode0, cfg.Mode)

	err = mon.Configure(Config{Mode: 9})
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, cfg, mon.Config(), "a rejected configuration must not replace the current one")
}

func TestLoopbackAllModes(t *testing.T) {
	for _, mode := range []Mode{Mode0, Mode1, Mode2, Mode3} {
		for _, size := range []int{1, 8, 32} {
			for _, lsb := range []bool{false, true} {
				mon, src, sclk := loopback(t, Config{Size: size, Mode: mode, LSBFirst: lsb})
				src.cycles(sclk, mode, size)

				want := BitsFromUint(0xA5C3_9617, size)
				got, err := mon.DecodeWord(context.Background(), want)
				require.NoError(t, err, "mode %d size %d lsb %v", mode, size, lsb)
				assert.Equal(t, want, got, "mode %d size %d lsb %v", mode, size, lsb)
			}
		}
	}
}

func TestLoopbackLSBFirstWireOrder(t *testing.T) {
	mon, src, sclk := loopback(t, Config{Mode: Mode0, LSBFirst: true})
	src.cycles(sclk, Mode0, 8)

	got, err := mon.DecodeWord(context.Background(), mustBits(t, "10010111"))
	require.NoError(t, err)
	assert.Equal(t, "10010111", got.String())
	// the least significant bit is the first one on the wire
	require.NotEmpty(t, src.trace)
	assert.Equal(t, "sdio=1", src.trace[0])

	var drives []string
	for _, e := range src.trace {
		if strings.HasPrefix(e, "sdio=") {
			drives = append(drives, strings.TrimPrefix(e, "sdio="))
		}
	}
	assert.Equal(t, "11101001", strings.Join(drives, ""))
}

func TestDecodeWordConcreteScenarios(t *testing.T) {
	for _, mode := range []Mode{Mode0, Mode1} {
		t.Run(mode.String(), func(t *testing.T) {
			mon, src, sclk := loopback(t, Config{Size: 8, Mode: mode})
			src.cycles(sclk, mode, 8)

			got, err := mon.DecodeWord(context.Background(), mustBits(t, "10010111"))
			require.NoError(t, err)
			assert.Equal(t, mustBits(t, "10010111"), got)
			v, err := got.Uint()
			require.NoError(t, err)
			assert.Equal(t, uint64(0x97), v)
		})
	}
}

func TestPreDriveTiming(t *testing.T) {
	for _, mode := range []Mode{Mode0, Mode1, Mode2, Mode3} {
		t.Run(mode.String(), func(t *testing.T) {
			mon, src, sclk := loopback(t, Config{Mode: mode})
			src.cycles(sclk, mode, 8)

			_, err := mon.DecodeWord(context.Background(), mustBits(t, "11111111"))
			require.NoError(t, err)

			firstDrive := src.firstIndex("sdio=")
			firstEdge := src.firstIndex("sclk:")
			require.GreaterOrEqual(t, firstDrive, 0)
			require.GreaterOrEqual(t, firstEdge, 0)
			if mode.PreDrive() {
				assert.Less(t, firstDrive, firstEdge, "first bit must be on the line before the first clock edge")
			} else {
				assert.Greater(t, firstDrive, firstEdge, "first bit must follow the first clock edge")
			}
		})
	}
}

func TestDecodeWordFromMaster(t *testing.T) {
	for _, mode := range []Mode{Mode0, Mode1, Mode2, Mode3} {
		t.Run(mode.String(), func(t *testing.T) {
			src := &mockSource{}
			sclk := src.signal("sclk", mode.IdleLevel())
			cs := src.signal("cs", High)
			sdi := src.signal("sdi", HiZ)
			mon, err := New(Config{Mode: mode}, Wiring{SCLK: sclk, CS: cs, SDI: sdi}, src)
			require.NoError(t, err)

			word := mustBits(t, "01101001")
			src.at(cs, Low)
			src.master(sclk, sdi, mode, word)
			src.at(cs, High)

			got, err := mon.DecodeWord(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, word, got)
		})
	}
}

func TestWaitsForChipSelect(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	cs := src.signal("cs", High)
	sdi := src.signal("sdi", High)
	mon, err := New(Config{Size: 4}, Wiring{SCLK: sclk, CS: cs, SDI: sdi}, src)
	require.NoError(t, err)

	// clock activity while deselected is ignored
	src.cycles(sclk, Mode0, 3)
	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "0010"))

	got, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "0010", got.String())
}

func TestAbortAfterThreeSamples(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	cs := src.signal("cs", High)
	sdi := src.signal("sdi", Low)
	sdo := src.signal("sdo", HiZ)
	mon, err := New(Config{Size: 8}, Wiring{SCLK: sclk, CS: cs, SDI: sdi, SDO: sdo}, src)
	require.NoError(t, err)

	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "101"))
	src.at(cs, High)
	deselect := len(src.steps)
	src.master(sclk, sdi, Mode0, mustBits(t, "11111"))

	got, err := mon.DecodeWord(context.Background(), mustBits(t, "00000000"))
	require.NoError(t, err)
	assert.Equal(t, "101", got.String())
	assert.Equal(t, deselect, src.pos, "no edge may be consumed after chip select deasserts")

	stats := mon.Stats()
	assert.Equal(t, 1, stats.Words)
	assert.Equal(t, 1, stats.Aborted)
}

func TestAbortBeforeFirstSample(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	cs := src.signal("cs", High)
	mon, err := New(Config{}, Wiring{SCLK: sclk, CS: cs, SDI: src.signal("sdi", Low)}, src)
	require.NoError(t, err)

	src.at(cs, Low)
	src.at(cs, High)

	got, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReceiveOnly(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	sdi := src.signal("sdi", Low)
	mon, err := New(Config{Size: 3}, Wiring{SCLK: sclk, SDI: sdi}, src)
	require.NoError(t, err)

	src.master(sclk, sdi, Mode0, mustBits(t, "110"))

	got, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "110", got.String())
	assert.Zero(t, sdi.outs, "a receive-only monitor never drives")
}

func TestUnwiredSDIReadsHiZ(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	mon, err := New(Config{Size: 2}, Wiring{SCLK: sclk}, src)
	require.NoError(t, err)
	src.cycles(sclk, Mode0, 2)

	got, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "zz", got.String())
}

func TestIndeterminateBitsPassThrough(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	sdi := src.signal("sdi", Low)
	mon, err := New(Config{Size: 4}, Wiring{SCLK: sclk, SDI: sdi}, src)
	require.NoError(t, err)
	src.master(sclk, sdi, Mode0, Bits{High, Unknown, Low, HiZ})

	got, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "1x0z", got.String())
	_, err = got.Uint()
	assert.ErrorIs(t, err, ErrIndeterminate)
}

func TestOutgoingWordLength(t *testing.T) {
	mon, _, _ := loopback(t, Config{Size: 8})

	_, err := mon.DecodeWord(context.Background(), mustBits(t, "101"))
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "word", cerr.Field)
}

func TestConfigureIdempotent(t *testing.T) {
	run := func(configureTwice bool) (Bits, []string) {
		mon, src, sclk := loopback(t, Config{})
		cfg := Config{Name: "idem", Size: 6, Mode: Mode2, LSBFirst: true}
		require.NoError(t, mon.Configure(cfg))
		if configureTwice {
			require.NoError(t, mon.Configure(cfg))
		}
		sclk.level = Mode2.IdleLevel()
		src.cycles(sclk, Mode2, 6)
		got, err := mon.DecodeWord(context.Background(), mustBits(t, "110100"))
		require.NoError(t, err)
		return got, src.trace
	}
	once, onceTrace := run(false)
	twice, twiceTrace := run(true)
	assert.Equal(t, once, twice)
	assert.Equal(t, onceTrace, twiceTrace)
}

func TestConfigureBetweenWords(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	cs := src.signal("cs", High)
	sdi := src.signal("sdi", Low)
	mon, err := New(Config{Mode: Mode0}, Wiring{SCLK: sclk, CS: cs, SDI: sdi}, src)
	require.NoError(t, err)

	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "11000011"))
	src.at(cs, High)
	src.at(cs, Low)
	src.master(sclk, sdi, Mode1, mustBits(t, "00111100"))
	src.at(cs, High)

	first, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, mon.Configure(Config{Mode: Mode1}))
	second, err := mon.DecodeWord(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "11000011", first.String())
	assert.Equal(t, "00111100", second.String())
}

func TestRunContinuous(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	cs := src.signal("cs", High)
	sdi := src.signal("sdi", Low)
	mon, err := New(Config{Size: 4}, Wiring{SCLK: sclk, CS: cs, SDI: sdi}, src)
	require.NoError(t, err)

	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "1010"))
	src.at(cs, High)
	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "01"))
	src.at(cs, High) // aborted, not delivered
	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "0111"))
	src.at(cs, High)
	src.at(cs, Low)
	src.master(sclk, sdi, Mode0, mustBits(t, "1111"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var words []string
	err = mon.RunContinuous(ctx, func(b Bits) {
		words = append(words, b.String())
		if len(words) == 2 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"1010", "0111"}, words)
	assert.Equal(t, Stats{Words: 3, Aborted: 1}, mon.Stats())
}

func TestRunContinuousSourceError(t *testing.T) {
	src := &mockSource{}
	sclk := src.signal("sclk", Low)
	mon, err := New(Config{Size: 2}, Wiring{SCLK: sclk, SDI: src.signal("sdi", High)}, src)
	require.NoError(t, err)
	src.cycles(sclk, Mode0, 3)

	var n int
	err = mon.RunContinuous(context.Background(), func(Bits) { n++ })
	assert.ErrorIs(t, err, errScriptDone)
	assert.Equal(t, 1, n)
}

func TestMonitorString(t *testing.T) {
	src := &mockSource{}
	mon, err := New(Config{Name: "bus"}, Wiring{SCLK: src.signal("sclk", Low), CS: src.signal("cs", High)}, src)
	require.NoError(t, err)
	assert.Equal(t, "bus(mode 0, 8 bits, MSB first) [sclk=sclk cs=cs sdi=- sdo=-]", mon.String())
}
