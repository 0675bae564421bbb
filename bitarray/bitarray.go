// Package bitarray provides utilities for operating on densely-packed arrays
// of booleans.
package bitarray

import (
	"fmt"
	"math/bits"
	"math/rand"
	"strings"
)

// A Dense is a bit array where every bit is explicitly represented.
type Dense struct {
	bits []byte
	len  int
}

const blockSize = 8

// NewDense returns a new Dense whose data is a copy of data, and whose length
// is bitLen. If bitLen is longer than data, then trailing zeros are added. If
// bitLen is negative, then it is inferred from data.
func NewDense(data []byte, bitLen int) Dense {
	if bitLen < 0 {
		bitLen = len(data) * blockSize
	}
	b := make([]byte, blocksFor(bitLen))
	copy(b, data)
	d := Dense{bits: b, len: bitLen}
	d.maskTail()
	return d
}

// Empty returns an empty, dense bit array.
func Empty() Dense {
	return Dense{}
}

// Random returns a Dense of bitLen uniformly random bits drawn from r.
func Random(r *rand.Rand, bitLen int) Dense {
	buf := make([]byte, blocksFor(bitLen))
	r.Read(buf)
	return NewDense(buf, bitLen)
}

// Size returns the number of bits in d.
func (d Dense) Size() int {
	return d.len
}

// ByteSize returns the number of bytes necessary to represent d.
func (d Dense) ByteSize() int {
	return blocksFor(d.len)
}

// Data returns a copy of the bytes underlying d.
func (d Dense) Data() []byte {
	data := make([]byte, len(d.bits))
	copy(data, d.bits)
	return data
}

// Get returns the bit at idx. Indices beyond the end of d read as zero.
func (d Dense) Get(idx int) bool {
	if idx < 0 || idx >= d.len {
		return false
	}
	return 0 < d.bits[idx/blockSize]&(1<<(idx%blockSize))
}

// Set assigns the bit at idx.
func (d *Dense) Set(idx int, bit bool) {
	if idx < 0 || idx >= d.len {
		return
	}
	if bit {
		d.bits[idx/blockSize] |= 1 << (idx % blockSize)
	} else {
		d.bits[idx/blockSize] &^= 1 << (idx % blockSize)
	}
}

// Flip inverts the bit at idx.
func (d *Dense) Flip(idx int) {
	if idx < 0 || idx >= d.len {
		return
	}
	d.bits[idx/blockSize] ^= 1 << (idx % blockSize)
}

// AppendBit adds a single bit to the end of d.
func (d *Dense) AppendBit(bit bool) {
	pos := d.len % blockSize
	d.len++
	if pos == 0 {
		d.bits = append(d.bits, 0)
	}
	if bit {
		d.bits[len(d.bits)-1] |= 1 << pos
	}
}

// Shuffle randomly permutes the contents of d, using r as a source of
// randomness.
func (d *Dense) Shuffle(r *rand.Rand) {
	r.Shuffle(d.len, func(i, j int) {
		a, b := d.Get(i), d.Get(j)
		if a == b {
			return
		}
		d.Flip(i)
		d.Flip(j)
	})
}

// Zero overwrites every bit of d with zeros. The length is preserved.
func (d *Dense) Zero() {
	for i := range d.bits {
		d.bits[i] = 0
	}
}

// CountOnes returns the total number of bits set in d.
func (d Dense) CountOnes() int {
	var sum int
	for _, b := range d.bits {
		sum += bits.OnesCount8(b)
	}
	return sum
}

// Parity returns the overall parity of d, with true corresponding to 1 and
// false to 0.
func (d Dense) Parity() bool {
	var sum byte
	for _, b := range d.bits {
		sum ^= b
	}
	return bits.OnesCount8(sum)%2 == 1
}

// And computes a bitwise AND between d and other. If one of the two is shorter
// than the other, trailing 0s are implicitly added to make the sizes match.
func (d Dense) And(other Dense) Dense {
	short := other
	if d.len < other.len {
		short = d
	}
	r := Dense{bits: make([]byte, 0, len(short.bits)), len: short.len}
	for i := range short.bits {
		r.bits = append(r.bits, d.byteAt(i)&other.byteAt(i))
	}
	r.maskTail()
	return r
}

// XOr computes a bitwise XOR between d and other. If one of the two is shorter
// than the other, trailing 0s are implicitly added to make the sizes match.
func (d Dense) XOr(other Dense) Dense {
	short, long := other, d
	if d.len < other.len {
		short, long = d, other
	}
	r := Dense{bits: make([]byte, 0, len(long.bits)), len: long.len}
	for i := range long.bits {
		r.bits = append(r.bits, short.byteAt(i)^long.byteAt(i))
	}
	r.maskTail()
	return r
}

// XNor computes a bitwise equality operation between d and other. If one of
// the two is shorter than the other, trailing 0s are implicitly added to make
// the sizes match.
func (d Dense) XNor(other Dense) Dense {
	short, long := other, d
	if d.len < other.len {
		short, long = d, other
	}
	r := Dense{bits: make([]byte, 0, len(long.bits)), len: long.len}
	for i := range long.bits {
		r.bits = append(r.bits, ^(short.byteAt(i) ^ long.byteAt(i)))
	}
	r.maskTail()
	return r
}

// Not returns a copy of d whose bits have all been flipped.
func (d Dense) Not() Dense {
	return d.XNor(Dense{bits: make([]byte, len(d.bits)), len: d.len})
}

// Select selects the subset of bits from d at positions where mask is set.
func (d Dense) Select(mask Dense) Dense {
	var r Dense
	for i := 0; i < d.len; i++ {
		if !mask.Get(i) {
			continue
		}
		r.AppendBit(d.Get(i))
	}
	return r
}

// Slice returns a copy of bits [start, end) of d.
func (d Dense) Slice(start, end int) (Dense, error) {
	if start < 0 {
		return Dense{}, fmt.Errorf("slicing bitarray with negative start: %d", start)
	}
	if end < start {
		return Dense{}, fmt.Errorf("slicing bitarray to negative length: %d", end-start)
	}
	if end > d.len {
		return Dense{}, fmt.Errorf("slicing bitarray of len %d up to %d", d.len, end)
	}
	var r Dense
	for i := start; i < end; i++ {
		r.AppendBit(d.Get(i))
	}
	return r, nil
}

// EveryNth returns the bits of d at positions 0, n, 2n, ....
func (d Dense) EveryNth(n int) Dense {
	var r Dense
	for i := 0; i < d.len; i += n {
		r.AppendBit(d.Get(i))
	}
	return r
}

// String renders d as a bitstring, least-significant position first.
func (d Dense) String() string {
	var sb strings.Builder
	for i := 0; i < d.len; i++ {
		if d.Get(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (d Dense) byteAt(i int) byte {
	if i >= len(d.bits) {
		return 0
	}
	return d.bits[i]
}

// maskTail clears the unused high bits of the final block so that whole-byte
// operations cannot disagree with bitwise ones.
func (d *Dense) maskTail() {
	if d.len%blockSize == 0 || len(d.bits) == 0 {
		return
	}
	d.bits[len(d.bits)-1] &= 0xFF >> (blockSize - d.len%blockSize)
}

func blocksFor(bits int) int {
	return (bits + blockSize - 1) / blockSize
}
