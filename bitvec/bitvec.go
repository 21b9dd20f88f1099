// Package bitvec is a fixed-capacity bit vector packed into 32-bit words.
//
// It backs both the block-occupancy bitmap, which is persisted, and the
// inode-occupancy bitmap, which is not. The on-disk form is the sequence of
// words in little-endian order.
package bitvec

import (
	"math/bits"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/util"
)

type Vec struct {
	words []uint32
	nbits uint64
}

func New(nbits uint64) *Vec {
	return &Vec{
		words: make([]uint32, util.RoundUp(nbits, common.NBITWORD)),
		nbits: nbits,
	}
}

// Len is the number of addressable bits.
func (v *Vec) Len() uint64 {
	return v.nbits
}

func (v *Vec) NumWords() uint64 {
	return uint64(len(v.words))
}

// NumBytes is the length of the encoded vector.
func (v *Vec) NumBytes() uint64 {
	return v.NumWords() * common.WORDSZ
}

func (v *Vec) Get(i uint64) bool {
	if i >= v.nbits {
		return false
	}
	return v.words[i/common.NBITWORD]&(1<<(i%common.NBITWORD)) != 0
}

// Set is a no-op for positions out of range.
func (v *Vec) Set(i uint64, value bool) {
	if i >= v.nbits {
		return
	}
	mask := uint32(1) << (i % common.NBITWORD)
	if value {
		v.words[i/common.NBITWORD] |= mask
	} else {
		v.words[i/common.NBITWORD] &= ^mask
	}
}

func (v *Vec) Flip(i uint64) {
	if i >= v.nbits {
		return
	}
	v.words[i/common.NBITWORD] ^= uint32(1) << (i % common.NBITWORD)
}

func (v *Vec) Clear() {
	for i := range v.words {
		v.words[i] = 0
	}
}

// Words returns a copy of the packed words.
func (v *Vec) Words() []uint32 {
	w := make([]uint32, len(v.words))
	copy(w, v.words)
	return w
}

// Count returns the number of set bits.
func (v *Vec) Count() uint64 {
	var n uint64
	for _, w := range v.words {
		n += uint64(bits.OnesCount32(w))
	}
	return n
}

// Encode returns exactly NumBytes() bytes.
func (v *Vec) Encode() []byte {
	enc := marshal.NewEnc(v.NumBytes())
	for _, w := range v.words {
		enc.PutInt32(w)
	}
	return enc.Finish()
}

// Decode replaces the contents of v with the words in b. Bits past Len() are
// dropped so they can never read as set.
func (v *Vec) Decode(b []byte) {
	if uint64(len(b)) < v.NumBytes() {
		padded := make([]byte, v.NumBytes())
		copy(padded, b)
		b = padded
	}
	dec := marshal.NewDec(b)
	for i := range v.words {
		v.words[i] = dec.GetInt32()
	}
	if tail := v.nbits % common.NBITWORD; tail != 0 {
		v.words[len(v.words)-1] &= (uint32(1) << tail) - 1
	}
}

// Equal reports whether both vectors have the same length and bits.
func (v *Vec) Equal(o *Vec) bool {
	if v.nbits != o.nbits {
		return false
	}
	for i, w := range v.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// Diff returns the positions whose bits differ between v and o, which must
// have the same length.
func (v *Vec) Diff(o *Vec) []uint64 {
	var d []uint64
	for i := uint64(0); i < v.nbits; i++ {
		if v.Get(i) != o.Get(i) {
			d = append(d, i)
		}
	}
	return d
}
