package spimon

import (
	"fmt"
	"strings"
)

// Bits is a sequence of sampled or outgoing bits in natural order,
// most significant bit first.
type Bits []Level

// BitsFromUint returns the n least significant bits of v, MSB first.
func BitsFromUint(v uint64, n int) Bits {
	b := make(Bits, n)
	for i := 0; i < n; i++ {
		if shift := n - 1 - i; shift < 64 && v&(1<<uint(shift)) != 0 {
			b[i] = High
		}
	}
	return b
}

// ParseBits parses a binary string such as "1001x111". The characters
// 'x'/'X' and 'z'/'Z' denote Unknown and HiZ.
func ParseBits(s string) (Bits, error) {
	b := make(Bits, 0, len(s))
	for i, c := range s {
		switch c {
		case '0':
			b = append(b, Low)
		case '1':
			b = append(b, High)
		case 'z', 'Z':
			b = append(b, HiZ)
		case 'x', 'X':
			b = append(b, Unknown)
		default:
			return nil, fmt.Errorf("invalid bit %q at offset %d", c, i)
		}
	}
	return b, nil
}

func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, l := range b {
		sb.WriteString(l.String())
	}
	return sb.String()
}

// Known reports whether every bit is a valid 0 or 1.
func (b Bits) Known() bool {
	for _, l := range b {
		if !l.Known() {
			return false
		}
	}
	return true
}

// Uint returns the integer value of b.
// It fails with ErrIndeterminate if any bit is HiZ or Unknown.
func (b Bits) Uint() (uint64, error) {
	if len(b) > 64 {
		return 0, fmt.Errorf("%d bits do not fit in uint64", len(b))
	}
	var v uint64
	for i, l := range b {
		switch l {
		case Low:
			v <<= 1
		case High:
			v = v<<1 | 1
		default:
			return 0, fmt.Errorf("bit %d is %s: %w", i, l, ErrIndeterminate)
		}
	}
	return v, nil
}

// Reverse returns a reversed copy of b.
func (b Bits) Reverse() Bits {
	r := make(Bits, len(b))
	for i, l := range b {
		r[len(b)-1-i] = l
	}
	return r
}
