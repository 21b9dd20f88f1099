package disk

import (
	"fmt"
	"sync"

	"github.com/mit-pdos/go-blockfs/util"
)

// Stats counts successful block transfers.
type Stats struct {
	Reads  uint64 `yaml:"reads"`
	Writes uint64 `yaml:"writes"`
}

// Device is a Disk with operation counters and mount ownership. At most one
// file system may hold a claim on a Device at a time.
type Device struct {
	d         Disk
	numBlocks uint64

	lock    *sync.Mutex // protects stats and mounted
	stats   Stats
	mounted bool
}

func MkDevice(d Disk) (*Device, error) {
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	return &Device{
		d:         d,
		numBlocks: sz,
		lock:      new(sync.Mutex),
	}, nil
}

// Open creates-or-opens a file-backed device of numBlocks blocks.
func Open(path string, numBlocks uint64) (*Device, error) {
	d, err := NewFileDisk(path, numBlocks)
	if err != nil {
		return nil, err
	}
	util.DPrintf(1, "Open: file disk %s with %d blocks\n", path, numBlocks)
	return MkDevice(d)
}

// OpenMem returns a zeroed in-memory device of numBlocks blocks.
func OpenMem(numBlocks uint64) *Device {
	dev, _ := MkDevice(NewMemDisk(numBlocks))
	return dev
}

func (dev *Device) Size() uint64 {
	return dev.numBlocks
}

func (dev *Device) ReadTo(a uint64, buf Block) error {
	if a >= dev.numBlocks {
		return fmt.Errorf("read at %d of %d: %w", a, dev.numBlocks, ErrOutOfBounds)
	}
	if err := dev.d.ReadTo(a, buf); err != nil {
		return err
	}
	dev.lock.Lock()
	dev.stats.Reads += 1
	dev.lock.Unlock()
	util.DPrintf(20, "read: %d\n", a)
	return nil
}

func (dev *Device) Read(a uint64) (Block, error) {
	buf := make(Block, BlockSize)
	err := dev.ReadTo(a, buf)
	return buf, err
}

func (dev *Device) Write(a uint64, v Block) error {
	if a >= dev.numBlocks {
		return fmt.Errorf("write at %d of %d: %w", a, dev.numBlocks, ErrOutOfBounds)
	}
	if err := dev.d.Write(a, v); err != nil {
		return err
	}
	dev.lock.Lock()
	dev.stats.Writes += 1
	dev.lock.Unlock()
	util.DPrintf(20, "write: %d\n", a)
	return nil
}

func (dev *Device) Barrier() error {
	return dev.d.Barrier()
}

func (dev *Device) Close() error {
	return dev.d.Close()
}

func (dev *Device) Stats() Stats {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	return dev.stats
}

// Claim marks the device mounted. It reports false if it already was.
func (dev *Device) Claim() bool {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	if dev.mounted {
		return false
	}
	dev.mounted = true
	return true
}

// Release marks the device unmounted. It reports false if it was not mounted.
func (dev *Device) Release() bool {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	was := dev.mounted
	dev.mounted = false
	return was
}

func (dev *Device) Mounted() bool {
	dev.lock.Lock()
	defer dev.lock.Unlock()
	return dev.mounted
}
