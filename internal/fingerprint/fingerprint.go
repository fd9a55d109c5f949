// Package fingerprint derives short deterministic digests from the subset of
// input fields that affect what ends up on the map.
package fingerprint

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a hex digest. The zero value never matches a computed one.
type Fingerprint string

const None Fingerprint = ""

// Builder accumulates fields into an xxhash digest. Every value is written
// with a type tag and, for strings, a length prefix so that adjacent fields
// cannot run into each other ("ab","c" vs "a","bc").
type Builder struct {
	d   *xxhash.Digest
	buf [9]byte
}

func New(scope string) *Builder {
	b := &Builder{d: xxhash.New()}
	return b.Str(scope)
}

func (b *Builder) Str(s string) *Builder {
	b.buf[0] = 's'
	binary.LittleEndian.PutUint64(b.buf[1:], uint64(len(s)))
	_, _ = b.d.Write(b.buf[:])
	_, _ = b.d.WriteString(s)
	return b
}

// Float writes the exact bit pattern; -0 and 0 are folded together.
func (b *Builder) Float(f float64) *Builder {
	if f == 0 {
		f = 0
	}
	b.buf[0] = 'f'
	binary.LittleEndian.PutUint64(b.buf[1:], math.Float64bits(f))
	_, _ = b.d.Write(b.buf[:])
	return b
}

// OptFloat distinguishes a missing value from any present one.
func (b *Builder) OptFloat(f *float64) *Builder {
	if f == nil {
		b.buf[0] = 'n'
		binary.LittleEndian.PutUint64(b.buf[1:], 0)
		_, _ = b.d.Write(b.buf[:])
		return b
	}
	return b.Float(*f)
}

func (b *Builder) Int(i int) *Builder {
	b.buf[0] = 'i'
	binary.LittleEndian.PutUint64(b.buf[1:], uint64(int64(i)))
	_, _ = b.d.Write(b.buf[:])
	return b
}

func (b *Builder) Bool(v bool) *Builder {
	b.buf[0] = 'b'
	var x uint64
	if v {
		x = 1
	}
	binary.LittleEndian.PutUint64(b.buf[1:], x)
	_, _ = b.d.Write(b.buf[:])
	return b
}

func (b *Builder) Sum() Fingerprint {
	return Fingerprint(strconv.FormatUint(b.d.Sum64(), 16))
}
