package fs

import (
	"fmt"

	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/inode"
	"github.com/mit-pdos/go-blockfs/util"
)

// span is the part of one logical block covered by a byte range.
type span struct {
	lbn   uint64 // logical block number within the file
	start uint64 // first byte within the block
	end   uint64 // one past the last byte within the block
}

func (s span) len() uint64 {
	return s.end - s.start
}

// spans splits [off, off+n) into per-block pieces; n must be positive.
func spans(off uint64, n uint64) []span {
	first := off / disk.BlockSize
	last := (off + n - 1) / disk.BlockSize
	ss := make([]span, 0, last-first+1)
	for lbn := first; lbn <= last; lbn++ {
		s := span{lbn: lbn, start: 0, end: disk.BlockSize}
		if lbn == first {
			s.start = off % disk.BlockSize
		}
		if lbn == last {
			s.end = off + n - lbn*disk.BlockSize
		}
		ss = append(ss, s)
	}
	return ss
}

// blockMap translates logical block numbers of one inode, caching the
// decoded indirect block across calls.
type blockMap struct {
	fsys *FileSystem
	ip   *inode.Inode
	ptrs *inode.Pointers
}

func (m *blockMap) loadIndirect() error {
	if m.ptrs != nil || m.ip.Indirect == common.NULLBNUM {
		return nil
	}
	blk, err := m.fsys.dev.Read(m.ip.Indirect)
	if err != nil {
		return fmt.Errorf("reading indirect block %d: %w", m.ip.Indirect, err)
	}
	m.ptrs = inode.DecodePointers(blk)
	return nil
}

// lookup returns the block holding lbn, or NULLBNUM for a hole.
func (m *blockMap) lookup(lbn uint64) (common.Bnum, error) {
	if lbn < common.NDIRECT {
		return m.ip.Direct[lbn], nil
	}
	if lbn >= common.MAXBLOCKS {
		return common.NULLBNUM, ErrFileTooLarge
	}
	if err := m.loadIndirect(); err != nil {
		return common.NULLBNUM, err
	}
	if m.ptrs == nil {
		return common.NULLBNUM, nil
	}
	return m.ptrs[lbn-common.NDIRECT], nil
}

// allocate returns the block holding lbn, allocating it, and the indirect
// block on the way, if needed. fresh reports that the block was just
// allocated, and so holds no data yet. New indirect pointers go to disk
// immediately; new pointers in the inode are written by the caller.
func (m *blockMap) allocate(lbn uint64) (common.Bnum, bool, error) {
	balloc := m.fsys.balloc
	if lbn < common.NDIRECT {
		if m.ip.Direct[lbn] != common.NULLBNUM {
			return m.ip.Direct[lbn], false, nil
		}
		bn, err := balloc.AllocNum()
		if err != nil {
			return common.NULLBNUM, false, err
		}
		m.ip.Direct[lbn] = bn
		return bn, true, nil
	}
	if lbn >= common.MAXBLOCKS {
		return common.NULLBNUM, false, ErrFileTooLarge
	}

	if m.ip.Indirect == common.NULLBNUM {
		ind, err := balloc.AllocNum()
		if err != nil {
			return common.NULLBNUM, false, err
		}
		ptrs := new(inode.Pointers)
		if err := m.fsys.dev.Write(ind, ptrs.Encode()); err != nil {
			balloc.FreeNum(ind)
			return common.NULLBNUM, false, err
		}
		m.ip.Indirect = ind
		m.ptrs = ptrs
	}
	if err := m.loadIndirect(); err != nil {
		return common.NULLBNUM, false, err
	}

	i := lbn - common.NDIRECT
	if m.ptrs[i] != common.NULLBNUM {
		return m.ptrs[i], false, nil
	}
	bn, err := balloc.AllocNum()
	if err != nil {
		return common.NULLBNUM, false, err
	}
	m.ptrs[i] = bn
	if err := m.fsys.dev.Write(m.ip.Indirect, m.ptrs.Encode()); err != nil {
		m.ptrs[i] = common.NULLBNUM
		balloc.FreeNum(bn)
		return common.NULLBNUM, false, err
	}
	return bn, true, nil
}

// Write writes data at byte offset off of inum, allocating blocks as needed,
// and returns the number of bytes written.
//
// Writes past the end of the file extend it; skipped ranges become holes.
// The block bitmap is persisted after every write. If a block fails partway
// through, the blocks before it stay written and the inode records them.
func (fsys *FileSystem) Write(inum common.Inum, data []byte, off uint64) (uint64, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	if err := fsys.checkInum(inum); err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	blk, ip, err := fsys.readInode(inum)
	if err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	if !ip.IsValid() {
		return 0, fmt.Errorf("write: inode %d: %w", inum, ErrInodeFree)
	}
	n := uint64(len(data))
	if n == 0 {
		return 0, nil
	}
	if util.SumOverflows(off, n) || off+n > common.MAXFILESZ {
		return 0, fmt.Errorf("write: %d bytes at %d, max %d: %w",
			n, off, common.MAXFILESZ, ErrFileTooLarge)
	}

	written, werr := fsys.writeSpans(ip, data, off)
	if written > 0 && off+written > ip.Size {
		ip.Size = off + written
	}
	if err := fsys.writeInode(inum, blk, ip); err != nil && werr == nil {
		werr = err
	}
	if err := fsys.persistBitmap(); err != nil && werr == nil {
		werr = err
	}
	if werr != nil {
		return written, fmt.Errorf("write: inode %d: %w", inum, werr)
	}
	util.DPrintf(5, "write: inode %d, %d bytes at %d, size %d\n", inum, n, off, ip.Size)
	return written, nil
}

func (fsys *FileSystem) writeSpans(ip *inode.Inode, data []byte, off uint64) (uint64, error) {
	m := &blockMap{fsys: fsys, ip: ip}
	var written uint64
	for _, s := range spans(off, uint64(len(data))) {
		bn, fresh, err := m.allocate(s.lbn)
		if err != nil {
			return written, err
		}
		var buf disk.Block
		if fresh {
			buf = make(disk.Block, disk.BlockSize)
		} else {
			buf, err = fsys.dev.Read(bn)
			if err != nil {
				return written, err
			}
		}
		copy(buf[s.start:s.end], data[written:written+s.len()])
		if err := fsys.dev.Write(bn, buf); err != nil {
			return written, err
		}
		written += s.len()
	}
	return written, nil
}

// Read fills buf from byte offset off of inum and returns the number of bytes
// read, which is short only at the end of the file. Holes read as zeros.
func (fsys *FileSystem) Read(inum common.Inum, buf []byte, off uint64) (uint64, error) {
	fsys.lock.Lock()
	defer fsys.lock.Unlock()
	if err := fsys.mounted(); err != nil {
		return 0, err
	}
	ip, err := fsys.validInode(inum)
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	if off >= ip.Size {
		return 0, nil
	}
	n := util.Min(uint64(len(buf)), ip.Size-off)
	if n == 0 {
		return 0, nil
	}

	m := &blockMap{fsys: fsys, ip: ip}
	var nread uint64
	for _, s := range spans(off, n) {
		dst := buf[nread : nread+s.len()]
		bn, err := m.lookup(s.lbn)
		if err != nil {
			return nread, fmt.Errorf("read: inode %d: %w", inum, err)
		}
		if bn == common.NULLBNUM {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			blk, err := fsys.dev.Read(bn)
			if err != nil {
				return nread, fmt.Errorf("read: inode %d: %w", inum, err)
			}
			copy(dst, blk[s.start:s.end])
		}
		nread += s.len()
	}
	return nread, nil
}
