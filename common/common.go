package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	MAGIC uint32 = 0xf0f03410

	NBITWORD  uint64 = 32 // bits per bitmap word
	WORDSZ    uint64 = NBITWORD / 8
	NBITBLOCK uint64 = disk.BlockSize * 8

	INODESZ  uint64 = 32 // on-disk size
	INODEBLK uint64 = disk.BlockSize / INODESZ

	NDIRECT   uint64 = 5
	BNUMSZ    uint64 = 4 // on-disk size of a block number
	NINDIRECT uint64 = disk.BlockSize / BNUMSZ
	MAXBLOCKS uint64 = NDIRECT + NINDIRECT
	MAXFILESZ uint64 = MAXBLOCKS * disk.BlockSize

	DIRENTSZ uint64 = 32
	NAMESZ   uint64 = DIRENTSZ - 4 // name field, including the NUL
	MAXNAME  uint64 = NAMESZ - 1
)

type Inum uint64
type Bnum = uint64

const (
	ROOTINUM Inum = 0
	NULLINUM Inum = 0 // in a directory entry
	NULLBNUM Bnum = 0
)

// Kind is the valid field of an inode.
type Kind uint32

const (
	KindFree Kind = 0
	KindFile Kind = 1
	KindDir  Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}
