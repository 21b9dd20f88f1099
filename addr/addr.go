package addr

import (
	"github.com/mit-pdos/go-blockfs/common"
)

// Addr identifies the location of an inode record.
//
// Blkno is the block number of the inode table block containing the record,
// and Off is the slot of the record within that block. The byte offset of the
// record is Off*INODESZ.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // slot within the block
}

func (a Addr) ByteOff() uint64 {
	return a.Off * common.INODESZ
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// Locate returns the address of inode inum. The inode table starts at block 1;
// callers check inum against the inode count.
func Locate(inum common.Inum) Addr {
	return MkAddr(1+common.Bnum(uint64(inum)/common.INODEBLK),
		uint64(inum)%common.INODEBLK)
}
