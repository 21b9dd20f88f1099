package fs

import (
	"fmt"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/util"
)

// Attr describes a valid inode.
type Attr struct {
	Inum common.Inum
	Kind common.Kind
	Size uint64
}

// Create allocates a regular file and returns its inode number.
func (fsys *FileSystem) Create() (common.Inum, error) {
	return fsys.create(common.KindFile)
}

// CreateDir allocates an empty directory and returns its inode number.
func (fsys *FileSystem) CreateDir() (common.Inum, error) {
	return fsys.create(common.KindDir)
}

func (fsys *FileSystem) create(kind common.Kind) (common.Inum, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}

	inum, ok := fsys.freeInode()
	if !ok {
		return 0, fmt.Errorf("create: %d inodes: %w", fsys.sb.Inodes, ErrTableFull)
	}
	blk, _, err := fsys.readInode(inum)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	if err := fsys.writeInode(inum, blk, &inode.Inode{Kind: kind}); err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	fsys.ibits.Set(uint64(inum), true)
	util.DPrintf(5, "create: %s inode %d\n", kind, inum)
	return inum, nil
}

// freeInode finds the lowest-numbered unused inode.
func (fsys *FileSystem) freeInode() (common.Inum, bool) {
	for i := uint64(0); i < fsys.ibits.Len(); i++ {
		if !fsys.ibits.Get(i) {
			return common.Inum(i), true
		}
	}
	return 0, false
}

// validInode reads inum and fails if it is out of range or free.
func (fsys *FileSystem) validInode(inum common.Inum) (*inode.Inode, error) {
	if err := fsys.checkInum(inum); err != nil {
		return nil, err
	}
	_, ip, err := fsys.readInode(inum)
	if err != nil {
		return nil, err
	}
	if !ip.IsValid() {
		return nil, fmt.Errorf("inode %d: %w", inum, ErrInodeFree)
	}
	return ip, nil
}

// Stat returns the size of inum in bytes.
func (fsys *FileSystem) Stat(inum common.Inum) (uint64, error) {
	attr, err := fsys.Getattr(inum)
	if err != nil {
		return 0, err
	}
	return attr.Size, nil
}

func (fsys *FileSystem) Getattr(inum common.Inum) (Attr, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return Attr{}, err
	}
	ip, err := fsys.validInode(inum)
	if err != nil {
		return Attr{}, fmt.Errorf("stat: %w", err)
	}
	return Attr{Inum: inum, Kind: ip.Kind, Size: ip.Size}, nil
}

// Remove frees inum and every block it references.
func (fsys *FileSystem) Remove(inum common.Inum) error {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return err
	}
	if err := fsys.checkInum(inum); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	blk, ip, err := fsys.readInode(inum)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if !ip.IsValid() {
		return fmt.Errorf("remove: inode %d: %w", inum, ErrInodeFree)
	}

	bns := ip.DirectBlocks()
	if ip.Indirect != common.NULLBNUM {
		pblk, err := fsys.dev.Read(ip.Indirect)
		if err != nil {
			return fmt.Errorf("remove: reading indirect block: %w", err)
		}
		for _, bn := range inode.DecodePointers(pblk) {
			if bn != common.NULLBNUM {
				bns = append(bns, bn)
			}
		}
		bns = append(bns, ip.Indirect)
	}

	if err := fsys.writeInode(inum, blk, &inode.Inode{}); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	for _, bn := range bns {
		fsys.balloc.FreeNum(bn)
	}
	fsys.ibits.Set(uint64(inum), false)
	util.DPrintf(5, "remove: inode %d, %d blocks\n", inum, len(bns))
	return fsys.persistBitmap()
}
