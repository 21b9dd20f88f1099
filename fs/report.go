package fs

import (
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/super"
)

// Report summarizes a mounted volume.
type Report struct {
	Super      super.SuperBlock `yaml:"superblock"`
	MagicValid bool             `yaml:"magicValid"`
	DataStart  uint64           `yaml:"dataStart"`
	FreeBlocks uint64           `yaml:"freeBlocks"`
	Files      uint64           `yaml:"files"`
	Dirs       uint64           `yaml:"dirs"`
	FreeInodes uint64           `yaml:"freeInodes"`
	IO         disk.Stats       `yaml:"io"`
}

func (fsys *FileSystem) Report() (*Report, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return nil, err
	}
	r := &Report{
		Super:      fsys.sb,
		MagicValid: fsys.sb.Magic == common.MAGIC,
		DataStart:  fsys.sb.DataStart(),
		FreeBlocks: fsys.balloc.NumFree(),
		FreeInodes: fsys.sb.NumInodes() - fsys.ibits.Count(),
	}
	err := fsys.forEachInode(func(inum common.Inum, ip *inode.Inode) error {
		switch ip.Kind {
		case common.KindFile:
			r.Files++
		case common.KindDir:
			r.Dirs++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.IO = fsys.dev.Stats()
	return r, nil
}
