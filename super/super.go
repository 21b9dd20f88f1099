// Package super describes the volume layout and the superblock that records
// it.
//
// The layout is
//
//	[ superblock | inode table | block bitmap | data ... ]
//	  0            1             InodeBlocks+1  DataStart()
//
// and is a function of the block count alone, see Compute.
package super

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/util"
)

var (
	ErrBadMagic     = errors.New("bad magic number")
	ErrSizeMismatch = errors.New("block count does not match device")
	ErrLayout       = errors.New("inconsistent volume layout")
)

type SuperBlock struct {
	Magic        uint32 `yaml:"magic"`
	Blocks       uint32 `yaml:"blocks"`
	InodeBlocks  uint32 `yaml:"inodeBlocks"`
	Inodes       uint32 `yaml:"inodes"`
	BitmapBlocks uint32 `yaml:"bitmapBlocks"`
}

// Compute returns the layout for a volume of nblocks blocks: 10% of the blocks
// (rounded up) hold inodes, and the bitmap gets as many blocks as its words
// need, limited to what is left after the inode table.
func Compute(nblocks uint64) SuperBlock {
	inodeBlocks := util.RoundUp(nblocks, 10)
	bitmapBytes := util.RoundUp(nblocks, common.NBITWORD) * common.WORDSZ
	bitmapBlocks := util.RoundUp(bitmapBytes, disk.BlockSize)
	if 1+inodeBlocks >= nblocks {
		bitmapBlocks = 0
	} else {
		bitmapBlocks = util.Min(bitmapBlocks, nblocks-1-inodeBlocks)
	}
	return SuperBlock{
		Magic:        common.MAGIC,
		Blocks:       uint32(nblocks),
		InodeBlocks:  uint32(inodeBlocks),
		Inodes:       uint32(inodeBlocks * common.INODEBLK),
		BitmapBlocks: uint32(bitmapBlocks),
	}
}

// Fits reports whether the superblock and inode table fit on the volume.
func (sb SuperBlock) Fits() bool {
	return 1+uint64(sb.InodeBlocks) <= uint64(sb.Blocks)
}

func (sb SuperBlock) NumBlocks() uint64 {
	return uint64(sb.Blocks)
}

func (sb SuperBlock) NumInodes() uint64 {
	return uint64(sb.Inodes)
}

func (sb SuperBlock) InodeStart() common.Bnum {
	return 1
}

func (sb SuperBlock) BitmapStart() common.Bnum {
	return sb.InodeStart() + common.Bnum(sb.InodeBlocks)
}

func (sb SuperBlock) DataStart() common.Bnum {
	return sb.BitmapStart() + common.Bnum(sb.BitmapBlocks)
}

func (sb SuperBlock) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt32(sb.Magic)
	enc.PutInt32(sb.Blocks)
	enc.PutInt32(sb.InodeBlocks)
	enc.PutInt32(sb.Inodes)
	enc.PutInt32(sb.BitmapBlocks)
	return enc.Finish()
}

func Decode(blk disk.Block) SuperBlock {
	dec := marshal.NewDec(blk)
	var sb SuperBlock
	sb.Magic = dec.GetInt32()
	sb.Blocks = dec.GetInt32()
	sb.InodeBlocks = dec.GetInt32()
	sb.Inodes = dec.GetInt32()
	sb.BitmapBlocks = dec.GetInt32()
	return sb
}

// Validate checks a superblock read from a device of nblocks blocks.
func (sb SuperBlock) Validate(nblocks uint64) error {
	if sb.Magic != common.MAGIC {
		return fmt.Errorf("magic 0x%x, expected 0x%x: %w",
			sb.Magic, common.MAGIC, ErrBadMagic)
	}
	if uint64(sb.Blocks) != nblocks {
		return fmt.Errorf("superblock has %d blocks, device has %d: %w",
			sb.Blocks, nblocks, ErrSizeMismatch)
	}
	if sb != Compute(nblocks) {
		return fmt.Errorf("%+v: %w", sb, ErrLayout)
	}
	if uint64(sb.DataStart()) > nblocks {
		return fmt.Errorf("metadata ends at %d past %d: %w",
			sb.DataStart(), nblocks, ErrLayout)
	}
	return nil
}
