package alloc

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/mit-pdos/go-blockfs/bitvec"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/util"
)

var ErrNoSpace = errors.New("insufficient contiguous space")

// Alloc hands out block numbers from a bitmap with one bit per block; a set
// bit means the block is in use. Numbers below start (the metadata region)
// are never handed out.
type Alloc struct {
	lock  *sync.Mutex // protects bits
	bits  *bitvec.Vec
	start common.Bnum
	max   uint64
}

func MkAlloc(start common.Bnum, max uint64) *Alloc {
	a := &Alloc{
		lock:  new(sync.Mutex),
		bits:  bitvec.New(max),
		start: start,
		max:   max,
	}
	return a
}

// MkMaxAlloc creates an allocator over [0, max) with only 0 reserved.
func MkMaxAlloc(max uint64) *Alloc {
	a := MkAlloc(1, max)
	a.MarkUsed(0)
	return a
}

func popCnt(b uint32) uint64 {
	return uint64(bits.OnesCount32(b))
}

// AllocRun allocates n contiguous blocks and returns them in ascending order.
//
// Runs of free blocks are compared as a whole: the shortest run of at least n
// blocks wins, the first one on ties, and an exact fit ends the search early.
// Only the first n blocks of the chosen run are taken.
func (a *Alloc) AllocRun(n uint64) ([]common.Bnum, error) {
	if n == 0 {
		return nil, nil
	}
	a.lock.Lock()
	defer a.lock.Unlock()

	var bestStart common.Bnum
	var bestLen = a.max + 1
	var found bool

	var runStart common.Bnum
	var runLen uint64
	consider := func() bool {
		if runLen >= n && runLen < bestLen {
			bestStart = runStart
			bestLen = runLen
			found = true
			return runLen == n
		}
		return false
	}
	for bn := a.start; bn < a.max; bn++ {
		if !a.bits.Get(bn) {
			if runLen == 0 {
				runStart = bn
			}
			runLen++
			continue
		}
		exact := consider()
		runLen = 0
		if exact {
			break
		}
	}
	if runLen > 0 {
		consider()
	}
	if !found {
		util.DPrintf(1, "AllocRun: no run of %d blocks\n", n)
		return nil, fmt.Errorf("%d blocks: %w", n, ErrNoSpace)
	}

	bns := make([]common.Bnum, n)
	for i := uint64(0); i < n; i++ {
		a.bits.Set(bestStart+i, true)
		bns[i] = bestStart + i
	}
	util.DPrintf(10, "AllocRun: %d blocks at %d (run of %d)\n", n, bestStart, bestLen)
	return bns, nil
}

func (a *Alloc) AllocNum() (common.Bnum, error) {
	bns, err := a.AllocRun(1)
	if err != nil {
		return common.NULLBNUM, err
	}
	return bns[0], nil
}

// FreeNum clears the bit for bn without checking that it was allocated.
func (a *Alloc) FreeNum(bn common.Bnum) {
	a.lock.Lock()
	a.bits.Set(bn, false)
	a.lock.Unlock()
	util.DPrintf(10, "FreeNum: %d\n", bn)
}

func (a *Alloc) MarkUsed(bn common.Bnum) {
	a.lock.Lock()
	a.bits.Set(bn, true)
	a.lock.Unlock()
}

func (a *Alloc) IsUsed(bn common.Bnum) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.bits.Get(bn)
}

func (a *Alloc) NumFree() uint64 {
	a.lock.Lock()
	defer a.lock.Unlock()
	var used uint64
	for _, w := range a.bits.Words() {
		used += popCnt(w)
	}
	return a.max - used
}

// Start is the first block number AllocRun may return.
func (a *Alloc) Start() common.Bnum {
	return a.start
}

func (a *Alloc) Max() uint64 {
	return a.max
}

// Encode returns the bitmap bytes: ceil(max/32) little-endian words.
func (a *Alloc) Encode() []byte {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.bits.Encode()
}

func (a *Alloc) Decode(b []byte) {
	a.lock.Lock()
	a.bits.Decode(b)
	a.lock.Unlock()
}

// Reset marks every block free, including the reserved ones.
func (a *Alloc) Reset() {
	a.lock.Lock()
	a.bits.Clear()
	a.lock.Unlock()
}

// Snapshot returns a copy of the bitmap.
func (a *Alloc) Snapshot() *bitvec.Vec {
	v := bitvec.New(a.max)
	v.Decode(a.Encode())
	return v
}
