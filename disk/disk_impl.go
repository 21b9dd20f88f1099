package disk

import (
	"fmt"

	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-blockfs/util"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// NewFileDisk opens (creating if needed) the image at path and sizes it to
// numBlocks blocks.
func NewFileDisk(path string, numBlocks uint64) (*fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening disk image %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat disk image %s: %w", path, err)
	}
	if (stat.Mode&unix.S_IFREG) != 0 && uint64(stat.Size) != numBlocks*BlockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*BlockSize))
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("resizing disk image %s: %w", path, err)
		}
	}
	return &fileDisk{fd, numBlocks}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		return ErrBlockSize
	}
	if a >= d.numBlocks {
		return fmt.Errorf("read at %d: %w", a, ErrOutOfBounds)
	}
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read at %d: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("read at %d: %d bytes: %w", a, n, ErrShortIO)
	}
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		return ErrBlockSize
	}
	if a >= d.numBlocks {
		return fmt.Errorf("write at %d: %w", a, ErrOutOfBounds)
	}
	n, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write at %d: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("write at %d: %d bytes: %w", a, n, ErrShortIO)
	}
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	return unix.Fsync(d.fd)
}

func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}

/////////////////////////
/////////////////////////

var _ Disk = (*memDisk)(nil)

// memDisk adapts goose's in-memory disk, which panics on bad addresses, to
// the error-returning Disk interface.
type memDisk struct {
	d         disk.Disk
	numBlocks uint64
}

func NewMemDisk(numBlocks uint64) *memDisk {
	return &memDisk{d: disk.NewMemDisk(numBlocks), numBlocks: numBlocks}
}

func (d *memDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		return ErrBlockSize
	}
	if a >= d.numBlocks {
		return fmt.Errorf("read at %d: %w", a, ErrOutOfBounds)
	}
	copy(buf, d.d.Read(a))
	return nil
}

func (d *memDisk) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *memDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		return ErrBlockSize
	}
	if a >= d.numBlocks {
		return fmt.Errorf("write at %d: %w", a, ErrOutOfBounds)
	}
	d.d.Write(a, util.CloneByteSlice(v))
	return nil
}

func (d *memDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return d.numBlocks, nil
}

func (d *memDisk) Barrier() error {
	d.d.Barrier()
	return nil
}

func (d *memDisk) Close() error {
	d.d.Close()
	return nil
}
