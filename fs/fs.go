// Package fs is the file system engine: a mounted volume with an inode table,
// a block allocator, and byte-addressed read/write on inodes.
//
// A *FileSystem is obtained from Mount and is the only way to operate on a
// volume. Exported methods hold a handle-wide lock, so each operation runs
// alone; sequences of operations are not atomic and nothing is atomic across
// crashes.
package fs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mit-pdos/go-blockfs/addr"
	"github.com/mit-pdos/go-blockfs/alloc"
	"github.com/mit-pdos/go-blockfs/bitvec"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/lockmap"
	"github.com/mit-pdos/go-blockfs/super"
	"github.com/mit-pdos/go-blockfs/util"
)

var (
	ErrAlreadyMounted = errors.New("device is already mounted")
	ErrNotMounted     = errors.New("file system is not mounted")
	ErrTooSmall       = errors.New("metadata exceeds device capacity")
	ErrInodeRange     = errors.New("inode number out of range")
	ErrInodeFree      = errors.New("inode is not in use")
	ErrTableFull      = errors.New("inode table full")
	ErrFileTooLarge   = errors.New("file too large")
)

type FileSystem struct {
	lock   *sync.Mutex // protects everything below and the on-disk state
	dev    *disk.Device
	sb     super.SuperBlock
	balloc *alloc.Alloc
	ibits  *bitvec.Vec // in-use inodes, rebuilt at every mount

	ilocks *lockmap.LockMap
}

// Mount loads the volume on dev. The device stays claimed until Unmount; a
// failed Mount leaves it unclaimed.
func Mount(dev *disk.Device) (*FileSystem, error) {
	if !dev.Claim() {
		return nil, fmt.Errorf("mount: %w", ErrAlreadyMounted)
	}
	fsys, err := mount(dev)
	if err != nil {
		dev.Release()
		return nil, fmt.Errorf("mount: %w", err)
	}
	util.DPrintf(1, "Mount: %d blocks, %d inodes, data at %d\n",
		fsys.sb.Blocks, fsys.sb.Inodes, fsys.sb.DataStart())
	return fsys, nil
}

func mount(dev *disk.Device) (*FileSystem, error) {
	blk, err := dev.Read(0)
	if err != nil {
		return nil, err
	}
	sb := super.Decode(blk)
	if err := sb.Validate(dev.Size()); err != nil {
		return nil, err
	}
	fsys := &FileSystem{
		lock:   new(sync.Mutex),
		dev:    dev,
		sb:     sb,
		balloc: alloc.MkAlloc(sb.DataStart(), sb.NumBlocks()),
		ilocks: lockmap.MkLockMap(),
	}

	ok, err := fsys.loadBitmap()
	if err != nil {
		return nil, err
	}
	if !ok {
		util.DPrintf(1, "Mount: block bitmap is not valid, rebuilding\n")
		if err := fsys.rebuildBitmap(); err != nil {
			return nil, err
		}
		if err := fsys.persistBitmap(); err != nil {
			return nil, err
		}
	}

	ibits, err := fsys.scanInodes()
	if err != nil {
		return nil, err
	}
	fsys.ibits = ibits
	return fsys, nil
}

// Unmount releases the volume and its device. It is a no-op on a nil handle
// and only logs when the handle is already unmounted.
func (fsys *FileSystem) Unmount() error {
	if fsys == nil {
		return nil
	}
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if fsys.dev == nil {
		util.DPrintf(0, "Unmount: already unmounted\n")
		return nil
	}
	err := fsys.dev.Barrier()
	if !fsys.dev.Release() {
		util.DPrintf(0, "Unmount: device was not marked mounted\n")
	}
	fsys.dev = nil
	fsys.balloc = nil
	fsys.ibits = nil
	fsys.sb = super.SuperBlock{}
	return err
}

// LockInode holds inum against other LockInode callers until UnlockInode.
// It does not block single operations such as Write; callers that update an
// inode in several steps use it to keep those steps together.
func (fsys *FileSystem) LockInode(inum common.Inum) {
	fsys.ilocks.Acquire(inum)
}

func (fsys *FileSystem) UnlockInode(inum common.Inum) {
	fsys.ilocks.Release(inum)
}

// Super returns a copy of the superblock.
func (fsys *FileSystem) Super() (super.SuperBlock, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return super.SuperBlock{}, err
	}
	return fsys.sb, nil
}

// Assumes caller holds lock
func (fsys *FileSystem) mounted() error {
	if fsys.dev == nil {
		return ErrNotMounted
	}
	return nil
}

func (fsys *FileSystem) checkInum(inum common.Inum) error {
	if uint64(inum) >= fsys.sb.NumInodes() {
		return fmt.Errorf("inode %d of %d: %w", inum, fsys.sb.Inodes, ErrInodeRange)
	}
	return nil
}

// readInode returns the table block holding inum and the decoded inode.
func (fsys *FileSystem) readInode(inum common.Inum) (disk.Block, *inode.Inode, error) {
	a := addr.Locate(inum)
	blk, err := fsys.dev.Read(a.Blkno)
	if err != nil {
		return nil, nil, err
	}
	return blk, inode.Get(blk, a), nil
}

func (fsys *FileSystem) writeInode(inum common.Inum, blk disk.Block, ip *inode.Inode) error {
	a := addr.Locate(inum)
	inode.Put(blk, a, ip)
	return fsys.dev.Write(a.Blkno, blk)
}

// scanInodes builds the in-use inode bitmap from the inode table.
func (fsys *FileSystem) scanInodes() (*bitvec.Vec, error) {
	ibits := bitvec.New(fsys.sb.NumInodes())
	err := fsys.forEachInode(func(inum common.Inum, ip *inode.Inode) error {
		if ip.IsValid() {
			ibits.Set(uint64(inum), true)
		}
		return nil
	})
	return ibits, err
}

func (fsys *FileSystem) forEachInode(f func(common.Inum, *inode.Inode) error) error {
	var inum common.Inum
	for i := uint64(0); i < uint64(fsys.sb.InodeBlocks); i++ {
		blk, err := fsys.dev.Read(fsys.sb.InodeStart() + i)
		if err != nil {
			return err
		}
		for _, ip := range inode.DecodeBlock(blk) {
			if uint64(inum) >= fsys.sb.NumInodes() {
				return nil
			}
			if err := f(inum, ip); err != nil {
				return err
			}
			inum++
		}
	}
	return nil
}
