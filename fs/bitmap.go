package fs

import (
	"fmt"

	"github.com/mit-pdos/go-blockfs/bitvec"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/util"
)

// persistBitmap writes the block bitmap to the bitmap region, zero-padding
// the last block.
func (fsys *FileSystem) persistBitmap() error {
	enc := fsys.balloc.Encode()
	start := fsys.sb.BitmapStart()
	for i := uint64(0); i < uint64(fsys.sb.BitmapBlocks); i++ {
		blk := make(disk.Block, disk.BlockSize)
		if off := i * disk.BlockSize; off < uint64(len(enc)) {
			copy(blk, enc[off:])
		}
		if err := fsys.dev.Write(start+i, blk); err != nil {
			return fmt.Errorf("persisting bitmap: %w", err)
		}
	}
	return nil
}

// loadBitmap reads the persisted bitmap into the allocator. It reports false
// when the copy on disk cannot be trusted: block 0 is always in use, so a
// clear bit 0 means the bitmap was never written.
func (fsys *FileSystem) loadBitmap() (bool, error) {
	if fsys.sb.BitmapBlocks == 0 {
		return false, nil
	}
	var enc []byte
	start := fsys.sb.BitmapStart()
	for i := uint64(0); i < uint64(fsys.sb.BitmapBlocks); i++ {
		blk, err := fsys.dev.Read(start + i)
		if err != nil {
			return false, fmt.Errorf("loading bitmap: %w", err)
		}
		enc = append(enc, blk...)
	}
	fsys.balloc.Decode(enc)
	return fsys.balloc.IsUsed(0), nil
}

// scanBlocks returns the set of blocks the volume uses according to the inode
// table: the metadata region plus every in-range block reachable from a valid
// inode.
func (fsys *FileSystem) scanBlocks() (*bitvec.Vec, error) {
	nblocks := fsys.sb.NumBlocks()
	used := bitvec.New(nblocks)
	for bn := uint64(0); bn < fsys.sb.DataStart(); bn++ {
		used.Set(bn, true)
	}
	mark := func(bn common.Bnum) {
		if bn != common.NULLBNUM && bn < nblocks {
			used.Set(bn, true)
		}
	}
	err := fsys.forEachInode(func(inum common.Inum, ip *inode.Inode) error {
		if !ip.IsValid() {
			return nil
		}
		for _, bn := range ip.Direct {
			mark(bn)
		}
		if ip.Indirect == common.NULLBNUM || ip.Indirect >= nblocks {
			return nil
		}
		mark(ip.Indirect)
		blk, err := fsys.dev.Read(ip.Indirect)
		if err != nil {
			return fmt.Errorf("inode %d: reading indirect block: %w", inum, err)
		}
		for _, bn := range inode.DecodePointers(blk) {
			mark(bn)
		}
		return nil
	})
	return used, err
}

// rebuildBitmap replaces the allocator's bitmap with the result of a scan.
func (fsys *FileSystem) rebuildBitmap() error {
	used, err := fsys.scanBlocks()
	if err != nil {
		return fmt.Errorf("rebuilding bitmap: %w", err)
	}
	fsys.balloc.Decode(used.Encode())
	util.DPrintf(1, "rebuildBitmap: %d blocks in use\n", used.Count())
	return nil
}

// Inconsistency lists the blocks on which the block bitmap and the inode
// table disagree.
type Inconsistency struct {
	// Leaked blocks are marked in use but referenced by no inode.
	Leaked []common.Bnum `yaml:"leaked,omitempty"`
	// Unmarked blocks are referenced by an inode but marked free.
	Unmarked []common.Bnum `yaml:"unmarked,omitempty"`
}

func (inc *Inconsistency) OK() bool {
	return len(inc.Leaked) == 0 && len(inc.Unmarked) == 0
}

// Check compares the in-memory block bitmap against a scan of the inode table.
func (fsys *FileSystem) Check() (*Inconsistency, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return nil, err
	}
	used, err := fsys.scanBlocks()
	if err != nil {
		return nil, err
	}
	marked := fsys.balloc.Snapshot()
	inc := &Inconsistency{}
	for _, bn := range marked.Diff(used) {
		if marked.Get(bn) {
			inc.Leaked = append(inc.Leaked, bn)
		} else {
			inc.Unmarked = append(inc.Unmarked, bn)
		}
	}
	return inc, nil
}

// Rebuild discards the block bitmap, recomputes it from the inode table, and
// persists it.
func (fsys *FileSystem) Rebuild() error {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	if err := fsys.rebuildBitmap(); err != nil {
		return err
	}
	return fsys.persistBitmap()
}
