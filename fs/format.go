package fs

import (
	"fmt"

	"github.com/mit-pdos/go-blockfs/addr"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/super"
	"github.com/mit-pdos/go-blockfs/util"
)

// Format writes an empty volume to dev: the superblock, a zeroed inode table
// with inode 0 as the empty root directory, and a zeroed bitmap region. The
// bitmap itself is built by the first Mount.
func Format(dev *disk.Device) error {
	if !dev.Claim() {
		return fmt.Errorf("format: %w", ErrAlreadyMounted)
	}
	defer dev.Release()

	sb := super.Compute(dev.Size())
	if !sb.Fits() {
		return fmt.Errorf("format: %d metadata blocks on %d: %w",
			1+sb.InodeBlocks, sb.Blocks, ErrTooSmall)
	}
	util.DPrintf(1, "Format: %+v\n", sb)

	zero := make(disk.Block, disk.BlockSize)
	for bn := sb.InodeStart(); bn < sb.DataStart(); bn++ {
		if err := dev.Write(bn, zero); err != nil {
			return fmt.Errorf("format: clearing block %d: %w", bn, err)
		}
	}

	blk := make(disk.Block, disk.BlockSize)
	a := addr.Locate(common.ROOTINUM)
	inode.Put(blk, a, &inode.Inode{Kind: common.KindDir})
	if err := dev.Write(a.Blkno, blk); err != nil {
		return fmt.Errorf("format: writing root inode: %w", err)
	}

	if err := dev.Write(0, sb.Encode()); err != nil {
		return fmt.Errorf("format: writing superblock: %w", err)
	}
	return dev.Barrier()
}
