// Package inode has the on-disk codecs for inode records and indirect
// pointer blocks.
//
// An inode record is eight little-endian uint32s:
//
//	valid | size | direct[0..4] | indirect
//
// A block number of 0 means "not allocated"; block 0 holds the superblock so
// it can never be a data block.
package inode

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-blockfs/addr"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
)

type Inode struct {
	Kind     common.Kind
	Size     uint64
	Direct   [common.NDIRECT]common.Bnum
	Indirect common.Bnum
}

func (ip *Inode) IsValid() bool {
	return ip.Kind != common.KindFree
}

func (ip *Inode) IsDir() bool {
	return ip.Kind == common.KindDir
}

// DirectBlocks returns the direct pointers that are in use, in order.
func (ip *Inode) DirectBlocks() []common.Bnum {
	var bns []common.Bnum
	for _, bn := range ip.Direct {
		if bn != common.NULLBNUM {
			bns = append(bns, bn)
		}
	}
	return bns
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(uint32(ip.Kind))
	enc.PutInt32(uint32(ip.Size))
	for _, bn := range ip.Direct {
		enc.PutInt32(uint32(bn))
	}
	enc.PutInt32(uint32(ip.Indirect))
	return enc.Finish()
}

func Decode(b []byte) *Inode {
	dec := marshal.NewDec(b)
	ip := new(Inode)
	ip.Kind = common.Kind(dec.GetInt32())
	ip.Size = uint64(dec.GetInt32())
	for i := range ip.Direct {
		ip.Direct[i] = common.Bnum(dec.GetInt32())
	}
	ip.Indirect = common.Bnum(dec.GetInt32())
	return ip
}

// Get decodes the inode at a from its table block.
func Get(blk disk.Block, a addr.Addr) *Inode {
	off := a.ByteOff()
	return Decode(blk[off : off+common.INODESZ])
}

// Put encodes ip into its slot of the table block.
func Put(blk disk.Block, a addr.Addr, ip *Inode) {
	off := a.ByteOff()
	copy(blk[off:off+common.INODESZ], ip.Encode())
}

// DecodeBlock decodes every record of an inode table block.
func DecodeBlock(blk disk.Block) []*Inode {
	inodes := make([]*Inode, common.INODEBLK)
	for i := range inodes {
		inodes[i] = Get(blk, addr.MkAddr(0, uint64(i)))
	}
	return inodes
}

// Pointers is the decoded content of an indirect block.
type Pointers [common.NINDIRECT]common.Bnum

func DecodePointers(blk disk.Block) *Pointers {
	dec := marshal.NewDec(blk)
	p := new(Pointers)
	for i := range p {
		p[i] = common.Bnum(dec.GetInt32())
	}
	return p
}

func (p *Pointers) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	for _, bn := range p {
		enc.PutInt32(uint32(bn))
	}
	return enc.Finish()
}
