package fs

import (
	"bytes"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-blockfs/alloc"
	"github.com/mit-pdos/go-blockfs/common"
	"github.com/mit-pdos/go-blockfs/disk"
	"github.com/mit-pdos/go-blockfs/super"
)

func data(sz int) []byte {
	d := make([]byte, sz)
	rand.Read(d)
	return d
}

func mkfs(t *testing.T, nblocks uint64) (*disk.Device, *FileSystem) {
	t.Helper()
	dev := disk.OpenMem(nblocks)
	require.NoError(t, Format(dev))
	fsys, err := Mount(dev)
	require.NoError(t, err)
	return dev, fsys
}

func assertConsistent(t *testing.T, fsys *FileSystem) {
	t.Helper()
	inc, err := fsys.Check()
	require.NoError(t, err)
	assert.True(t, inc.OK(), "leaked %v unmarked %v", inc.Leaked, inc.Unmarked)
}

func TestFormatMountIffFits(t *testing.T) {
	for b := uint64(0); b < 64; b++ {
		dev := disk.OpenMem(b)
		err := Format(dev)
		fits := 1+(b+9)/10 <= b
		if !fits {
			assert.True(t, errors.Is(err, ErrTooSmall), "blocks=%d", b)
			continue
		}
		require.NoError(t, err, "blocks=%d", b)
		fsys, err := Mount(dev)
		require.NoError(t, err, "blocks=%d", b)
		sb, err := fsys.Super()
		require.NoError(t, err)
		assert.Equal(t, super.Compute(b), sb)
		assert.Equal(t, uint32((b+9)/10*128), sb.Inodes)

		attr, err := fsys.Getattr(common.ROOTINUM)
		require.NoError(t, err)
		assert.Equal(t, common.KindDir, attr.Kind)
		assert.Equal(t, uint64(0), attr.Size)
		assertConsistent(t, fsys)
		require.NoError(t, fsys.Unmount())
	}
}

func TestMountUnformatted(t *testing.T) {
	dev := disk.OpenMem(100)
	_, err := Mount(dev)
	assert.True(t, errors.Is(err, super.ErrBadMagic))
	assert.False(t, dev.Mounted(), "failed mount should release the device")
}

func TestMountTwice(t *testing.T) {
	dev, fsys := mkfs(t, 100)
	_, err := Mount(dev)
	assert.True(t, errors.Is(err, ErrAlreadyMounted))
	assert.True(t, errors.Is(Format(dev), ErrAlreadyMounted), "format while mounted")

	require.NoError(t, fsys.Unmount())
	fsys2, err := Mount(dev)
	require.NoError(t, err)
	require.NoError(t, fsys2.Unmount())
}

func TestMountSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := disk.Open(path, 100)
	require.NoError(t, err)
	require.NoError(t, Format(dev))
	require.NoError(t, dev.Close())

	dev, err = disk.Open(path, 120)
	require.NoError(t, err)
	defer dev.Close()
	_, err = Mount(dev)
	assert.True(t, errors.Is(err, super.ErrSizeMismatch))
	assert.False(t, dev.Mounted())
}

func TestUnmount(t *testing.T) {
	assert := assert.New(t)
	dev, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)

	require.NoError(t, fsys.Unmount())
	assert.False(dev.Mounted())
	assert.NoError(fsys.Unmount(), "second unmount only logs")

	var nilfs *FileSystem
	assert.NoError(nilfs.Unmount())

	_, err = fsys.Create()
	assert.True(errors.Is(err, ErrNotMounted))
	_, err = fsys.Stat(inum)
	assert.True(errors.Is(err, ErrNotMounted))
	_, err = fsys.Write(inum, []byte("x"), 0)
	assert.True(errors.Is(err, ErrNotMounted))
	_, err = fsys.Read(inum, make([]byte, 1), 0)
	assert.True(errors.Is(err, ErrNotMounted))
	assert.True(errors.Is(fsys.Remove(inum), ErrNotMounted))
	_, err = fsys.Check()
	assert.True(errors.Is(err, ErrNotMounted))
}

// The end-to-end scenario on a 100-block volume.
func TestScenario(t *testing.T) {
	assert := assert.New(t)
	dev, fsys := mkfs(t, 100)

	a, err := fsys.Create()
	require.NoError(t, err)
	n, err := fsys.Write(a, []byte("Hello world!"), 0)
	require.NoError(t, err)
	assert.Equal(uint64(12), n)
	n, err = fsys.Write(a, []byte(" Goodbye!"), 12)
	require.NoError(t, err)
	assert.Equal(uint64(9), n)
	buf := make([]byte, 21)
	n, err = fsys.Read(a, buf, 0)
	require.NoError(t, err)
	assert.Equal(uint64(21), n)
	assert.Equal("Hello world! Goodbye!", string(buf))

	b, err := fsys.Create()
	require.NoError(t, err)
	big := bytes.Repeat([]byte{0xAB}, 6*4096)
	n, err = fsys.Write(b, big, 0)
	require.NoError(t, err)
	assert.Equal(uint64(len(big)), n)
	sz, err := fsys.Stat(b)
	require.NoError(t, err)
	assert.Equal(uint64(24576), sz)

	buf = make([]byte, 32)
	n, err = fsys.Read(b, buf, 5*4096)
	require.NoError(t, err)
	assert.Equal(uint64(32), n)
	assert.Equal(bytes.Repeat([]byte{0xAB}, 32), buf, "read through the indirect block")

	require.NoError(t, fsys.Remove(b))
	_, err = fsys.Stat(b)
	assert.True(errors.Is(err, ErrInodeFree))

	c, err := fsys.Create()
	require.NoError(t, err)
	assert.Equal(b, c, "inode slot should be reused")
	assertConsistent(t, fsys)

	require.NoError(t, fsys.Unmount())
	fsys, err = Mount(dev)
	require.NoError(t, err)
	buf = make([]byte, 21)
	n, err = fsys.Read(a, buf, 0)
	require.NoError(t, err)
	assert.Equal(uint64(21), n)
	assert.Equal("Hello world! Goodbye!", string(buf))
	assertConsistent(t, fsys)
}

func TestRoundTrip(t *testing.T) {
	_, fsys := mkfs(t, 2000)
	for _, tc := range []struct {
		name string
		off  uint64
		len  uint64
	}{
		{"one byte", 0, 1},
		{"one block", 0, 4096},
		{"unaligned", 100, 5000},
		{"direct only", 0, common.NDIRECT * 4096},
		{"direct/indirect boundary", common.NDIRECT*4096 - 10, 20},
		{"first indirect block", 0, common.NDIRECT*4096 + 1},
		{"indirect only", common.NDIRECT * 4096, 3 * 4096},
		{"maximum", 0, common.MAXFILESZ},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inum, err := fsys.Create()
			require.NoError(t, err)
			d := data(int(tc.len))
			n, err := fsys.Write(inum, d, tc.off)
			require.NoError(t, err)
			assert.Equal(t, tc.len, n)

			sz, err := fsys.Stat(inum)
			require.NoError(t, err)
			assert.Equal(t, tc.off+tc.len, sz)

			buf := make([]byte, tc.len)
			n, err = fsys.Read(inum, buf, tc.off)
			require.NoError(t, err)
			assert.Equal(t, tc.len, n)
			assert.True(t, bytes.Equal(d, buf), "data mismatch")

			assertConsistent(t, fsys)
			require.NoError(t, fsys.Remove(inum))
			assertConsistent(t, fsys)
		})
	}
}

func TestOverwrite(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)
	_, err = fsys.Write(inum, bytes.Repeat([]byte{'a'}, 8192), 0)
	require.NoError(t, err)
	free := fsys.balloc.NumFree()

	_, err = fsys.Write(inum, []byte("XYZ"), 4095)
	require.NoError(t, err)
	assert.Equal(free, fsys.balloc.NumFree(), "overwrite allocates nothing")
	sz, _ := fsys.Stat(inum)
	assert.Equal(uint64(8192), sz, "overwrite does not shrink or grow")

	buf := make([]byte, 5)
	_, err = fsys.Read(inum, buf, 4094)
	require.NoError(t, err)
	assert.Equal("aXYZa", string(buf))
}

func TestReadClamps(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)
	_, err = fsys.Write(inum, []byte("0123456789"), 0)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := fsys.Read(inum, buf, 4)
	require.NoError(t, err)
	assert.Equal(uint64(6), n)
	assert.Equal("456789", string(buf[:n]))

	n, err = fsys.Read(inum, buf, 10)
	require.NoError(t, err)
	assert.Equal(uint64(0), n, "read at end of file")
	n, err = fsys.Read(inum, buf, 5000)
	require.NoError(t, err)
	assert.Equal(uint64(0), n, "read past end of file")
}

func TestSparse(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)
	free := fsys.balloc.NumFree()

	buf := make([]byte, 4096)
	n, err := fsys.Read(inum, buf, 0)
	require.NoError(t, err)
	assert.Equal(uint64(0), n, "fresh file is empty")
	assert.Equal(make([]byte, 4096), buf)
	assert.Equal(free, fsys.balloc.NumFree(), "reading allocates nothing")

	// one byte far into the indirect range leaves everything before it a hole
	off := uint64(8 * 4096)
	_, err = fsys.Write(inum, []byte{7}, off)
	require.NoError(t, err)
	assert.Equal(free-2, fsys.balloc.NumFree(), "one data block and the indirect block")

	for _, o := range []uint64{0, 4096 * 5, 4096 * 7} {
		for i := range buf {
			buf[i] = 0xFF
		}
		n, err = fsys.Read(inum, buf, o)
		require.NoError(t, err)
		assert.Equal(uint64(4096), n)
		assert.Equal(make([]byte, 4096), buf, "hole at %d reads as zeros", o)
	}
	b := make([]byte, 1)
	_, err = fsys.Read(inum, b, off)
	require.NoError(t, err)
	assert.Equal(byte(7), b[0])
	assertConsistent(t, fsys)
}

func TestFileTooLarge(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 2000)
	inum, err := fsys.Create()
	require.NoError(t, err)
	free := fsys.balloc.NumFree()

	n, err := fsys.Write(inum, []byte{1, 2}, common.MAXFILESZ-1)
	assert.True(errors.Is(err, ErrFileTooLarge))
	assert.Equal(uint64(0), n)
	assert.Equal(free, fsys.balloc.NumFree(), "nothing allocated")
	sz, _ := fsys.Stat(inum)
	assert.Equal(uint64(0), sz)

	_, err = fsys.Write(inum, []byte{1}, common.MAXFILESZ-1)
	assert.NoError(err, "last byte is addressable")
	_, err = fsys.Write(inum, []byte{1}, 1<<64-1)
	assert.True(errors.Is(err, ErrFileTooLarge))
}

func TestNoSpace(t *testing.T) {
	assert := assert.New(t)
	// 20 blocks: superblock, 2 inode blocks, 1 bitmap block, 16 data blocks
	_, fsys := mkfs(t, 20)
	inum, err := fsys.Create()
	require.NoError(t, err)

	n, err := fsys.Write(inum, data(17*4096), 0)
	assert.True(errors.Is(err, alloc.ErrNoSpace))
	assert.Equal(uint64(15*4096), n, "five direct blocks, indirect block, ten more")
	sz, err := fsys.Stat(inum)
	require.NoError(t, err)
	assert.Equal(n, sz, "size covers what was written")
	assert.Equal(uint64(0), fsys.balloc.NumFree())
	assertConsistent(t, fsys)

	require.NoError(t, fsys.Remove(inum))
	assert.Equal(uint64(16), fsys.balloc.NumFree())
}

func TestInodeErrors(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	sb, _ := fsys.Super()
	out := common.Inum(sb.Inodes)

	_, err := fsys.Stat(out)
	assert.True(errors.Is(err, ErrInodeRange))
	_, err = fsys.Write(out, []byte("x"), 0)
	assert.True(errors.Is(err, ErrInodeRange))
	_, err = fsys.Read(out, make([]byte, 1), 0)
	assert.True(errors.Is(err, ErrInodeRange))
	assert.True(errors.Is(fsys.Remove(out), ErrInodeRange))

	_, err = fsys.Stat(5)
	assert.True(errors.Is(err, ErrInodeFree))
	_, err = fsys.Read(5, make([]byte, 1), 0)
	assert.True(errors.Is(err, ErrInodeFree))
	_, err = fsys.Write(5, []byte("x"), 0)
	assert.True(errors.Is(err, ErrInodeFree))
	assert.True(errors.Is(fsys.Remove(5), ErrInodeFree))
}

func TestTableFull(t *testing.T) {
	_, fsys := mkfs(t, 10)
	// inode 0 is the root
	for i := 1; i < int(common.INODEBLK); i++ {
		inum, err := fsys.Create()
		require.NoError(t, err)
		assert.Equal(t, common.Inum(i), inum)
	}
	_, err := fsys.Create()
	assert.True(t, errors.Is(err, ErrTableFull))

	require.NoError(t, fsys.Remove(42))
	inum, err := fsys.Create()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(42), inum)
}

func TestRemoveClean(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	free := fsys.balloc.NumFree()
	inum, err := fsys.Create()
	require.NoError(t, err)
	_, err = fsys.Write(inum, data(7*4096), 0)
	require.NoError(t, err)
	assert.Equal(free-8, fsys.balloc.NumFree())

	require.NoError(t, fsys.Remove(inum))
	assert.Equal(free, fsys.balloc.NumFree())
	assert.True(errors.Is(fsys.Remove(inum), ErrInodeFree), "remove twice")

	again, err := fsys.Create()
	require.NoError(t, err)
	assert.Equal(inum, again)
	_, ip, err := fsys.readInode(again)
	require.NoError(t, err)
	assert.Equal(common.KindFile, ip.Kind)
	assert.Equal(uint64(0), ip.Size)
	assert.Empty(ip.DirectBlocks())
	assert.Equal(common.NULLBNUM, ip.Indirect)

	// blocks freed by remove held data; a new file must not see it
	_, err = fsys.Write(again, []byte{1}, 6*4096)
	require.NoError(t, err)
	buf := make([]byte, 6*4096)
	_, err = fsys.Read(again, buf, 0)
	require.NoError(t, err)
	assert.Equal(make([]byte, 6*4096), buf)
}

func TestAllocatorInvariant(t *testing.T) {
	dev, fsys := mkfs(t, 500)
	rnd := rand.New(rand.NewSource(1))
	var live []common.Inum
	for i := 0; i < 300; i++ {
		switch op := rnd.Intn(3); {
		case op == 0 || len(live) == 0:
			inum, err := fsys.Create()
			require.NoError(t, err)
			live = append(live, inum)
		case op == 1:
			inum := live[rnd.Intn(len(live))]
			off := uint64(rnd.Intn(12 * 4096))
			_, err := fsys.Write(inum, data(rnd.Intn(3*4096)+1), off)
			if err != nil {
				require.True(t, errors.Is(err, alloc.ErrNoSpace), "%v", err)
			}
		default:
			j := rnd.Intn(len(live))
			require.NoError(t, fsys.Remove(live[j]))
			live = append(live[:j], live[j+1:]...)
		}
	}
	assertConsistent(t, fsys)

	before := fsys.balloc.Snapshot()
	require.NoError(t, fsys.Unmount())
	fsys, err := Mount(dev)
	require.NoError(t, err)
	assert.True(t, before.Equal(fsys.balloc.Snapshot()), "bitmap should persist")
	assertConsistent(t, fsys)
}

func TestRebuildOnMount(t *testing.T) {
	assert := assert.New(t)
	dev, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)
	d := data(9 * 4096)
	_, err = fsys.Write(inum, d, 0)
	require.NoError(t, err)
	before := fsys.balloc.Snapshot()
	sb, _ := fsys.Super()
	require.NoError(t, fsys.Unmount())

	// wipe the persisted bitmap
	require.NoError(t, dev.Write(sb.BitmapStart(), make(disk.Block, disk.BlockSize)))

	fsys, err = Mount(dev)
	require.NoError(t, err)
	assert.True(before.Equal(fsys.balloc.Snapshot()), "rebuilt bitmap should match")
	assertConsistent(t, fsys)
	buf := make([]byte, len(d))
	_, err = fsys.Read(inum, buf, 0)
	require.NoError(t, err)
	assert.Equal(d, buf)

	blk, err := dev.Read(sb.BitmapStart())
	require.NoError(t, err)
	assert.NotEqual(byte(0), blk[0], "rebuilt bitmap is persisted")
}

func TestCheckAndRebuild(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	inum, err := fsys.Create()
	require.NoError(t, err)
	_, err = fsys.Write(inum, data(2*4096), 0)
	require.NoError(t, err)

	_, ip, err := fsys.readInode(inum)
	require.NoError(t, err)
	leaked := uint64(90)
	fsys.balloc.MarkUsed(leaked)
	fsys.balloc.FreeNum(ip.Direct[1])

	inc, err := fsys.Check()
	require.NoError(t, err)
	assert.False(inc.OK())
	assert.Equal([]common.Bnum{leaked}, inc.Leaked)
	assert.Equal([]common.Bnum{ip.Direct[1]}, inc.Unmarked)

	require.NoError(t, fsys.Rebuild())
	assertConsistent(t, fsys)
}

func TestReport(t *testing.T) {
	assert := assert.New(t)
	_, fsys := mkfs(t, 100)
	_, err := fsys.Create()
	require.NoError(t, err)
	f, err := fsys.Create()
	require.NoError(t, err)
	_, err = fsys.CreateDir()
	require.NoError(t, err)
	_, err = fsys.Write(f, []byte("abc"), 0)
	require.NoError(t, err)

	r, err := fsys.Report()
	require.NoError(t, err)
	assert.True(r.MagicValid)
	assert.Equal(uint32(100), r.Super.Blocks)
	assert.Equal(uint64(12), r.DataStart)
	assert.Equal(uint64(100-12-1), r.FreeBlocks)
	assert.Equal(uint64(2), r.Files)
	assert.Equal(uint64(2), r.Dirs, "root and the new directory")
	assert.Equal(uint64(1280-4), r.FreeInodes)
	assert.True(r.IO.Reads > 0)
	assert.True(r.IO.Writes > 0)
}

func TestFileDevicePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := disk.Open(path, 100)
	require.NoError(t, err)
	require.NoError(t, Format(dev))
	fsys, err := Mount(dev)
	require.NoError(t, err)
	inum, err := fsys.Create()
	require.NoError(t, err)
	d := data(3 * 4096)
	_, err = fsys.Write(inum, d, 10)
	require.NoError(t, err)
	require.NoError(t, fsys.Unmount())
	require.NoError(t, dev.Close())

	dev, err = disk.Open(path, 100)
	require.NoError(t, err)
	defer dev.Close()
	fsys, err = Mount(dev)
	require.NoError(t, err)
	buf := make([]byte, len(d))
	n, err := fsys.Read(inum, buf, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(d)), n)
	assert.Equal(t, d, buf)
	assertConsistent(t, fsys)
	require.NoError(t, fsys.Unmount())
}
