package ffs

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PageSize constants shared by the block and page layers. These are
// Sapphire's own layout choice (spec.md leaves exact sizes to the
// implementation); init below checks that the layout fits BlockSize.
const (
	BlockSize          = 4096
	MetaRecordSize     = 8
	PageDataSize       = 252
	PhysPageSize       = 2 + PageDataSize + 2 // length + data + crc16
	DataPagesPerBlock  = 12
	SparePagesPerBlock = 3
	PagesPerBlock      = DataPagesPerBlock + SparePagesPerBlock
	IndexEntrySize     = 1
	indexTableSize     = PagesPerBlock * IndexEntrySize
	dataRegionOffset   = 2*MetaRecordSize + 2*indexTableSize
	dataRegionSize     = PagesPerBlock * PhysPageSize

	unusedIndexSlot = 0xFF

	// IOAttempts bounds every retried flash operation (§7 "Flash layer
	// never loops unbounded").
	IOAttempts = 3

	// MinDelay is the suspend-instruction delay floor (ms); see §4.5
	// "Suspend / resume".
	MinDelay = 1
)

func init() {
	if dataRegionOffset+dataRegionSize > BlockSize {
		panic(fmt.Sprintf("ffs: block layout overflows BlockSize: %d > %d",
			dataRegionOffset+dataRegionSize, BlockSize))
	}
}

// Device is the narrow collaborator interface onto raw NOR flash described
// in spec.md §6.1. Sapphire never assumes atomicity beyond a single-byte
// write.
type Device interface {
	// ReadAt reads len(buf) bytes starting at addr.
	ReadAt(addr uint32, buf []byte) error
	// WriteAt writes buf at addr; the region must already be erased
	// (all bits one) — flash can only clear bits, never set them,
	// without an erase.
	WriteAt(addr uint32, buf []byte) error
	// Erase4K erases the 4 KiB region starting at addr (must be
	// block-aligned).
	Erase4K(addr uint32) error
	// Busy reports whether an asynchronous erase is still in flight.
	Busy() bool
	// Capacity returns the device size in bytes.
	Capacity() uint32
}

// FileDevice backs a simulated NOR flash device with a host file, using
// golang.org/x/sys/unix directly (pread/pwrite/flock) rather than the
// buffered os.File API, so the single-logical-writer rule of spec.md §5 is
// enforced the same way a real embedded target's exclusive bus access
// would be: an advisory exclusive lock over the whole image.
type FileDevice struct {
	mu   sync.Mutex
	fd   int
	size uint32
	busy bool
}

// OpenFileDevice opens (creating if necessary) a host file of the given
// size to stand in for raw flash.
func OpenFileDevice(path string, size uint32) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ffs: open device %s: %w", path, err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ffs: device %s already locked: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ffs: truncate device %s: %w", path, err)
	}
	st, err := unix.Fstat(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if st.Size < int64(size) {
		unix.Close(fd)
		return nil, fmt.Errorf("ffs: device %s smaller than requested", path)
	}
	return &FileDevice{fd: fd, size: size}, nil
}

// Close releases the underlying file descriptor and its lock.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}

func (d *FileDevice) ReadAt(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(addr)+uint64(len(buf)) > uint64(d.size) {
		return fmt.Errorf("ffs: read past device end")
	}
	n, err := unix.Pread(d.fd, buf, int64(addr))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("ffs: short read %d/%d", n, len(buf))
	}
	return nil
}

func (d *FileDevice) WriteAt(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(addr)+uint64(len(buf)) > uint64(d.size) {
		return fmt.Errorf("ffs: write past device end")
	}
	n, err := unix.Pwrite(d.fd, buf, int64(addr))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("ffs: short write %d/%d", n, len(buf))
	}
	return nil
}

func (d *FileDevice) Erase4K(addr uint32) error {
	d.mu.Lock()
	d.busy = true
	d.mu.Unlock()

	blank := make([]byte, BlockSize)
	for i := range blank {
		blank[i] = 0xFF
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := unix.Pwrite(d.fd, blank, int64(addr))
	d.busy = false
	return err
}

func (d *FileDevice) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func (d *FileDevice) Capacity() uint32 {
	return d.size
}

// MemDevice is an in-memory Device, used by unit tests that do not need a
// backing host file.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice allocates an all-0xFF (erased) in-memory device.
func NewMemDevice(size uint32) *MemDevice {
	d := make([]byte, size)
	for i := range d {
		d[i] = 0xFF
	}
	return &MemDevice{data: d}
}

func (d *MemDevice) ReadAt(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(addr)+uint64(len(buf)) > uint64(len(d.data)) {
		return fmt.Errorf("ffs: read past device end")
	}
	copy(buf, d.data[addr:])
	return nil
}

func (d *MemDevice) WriteAt(addr uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(addr)+uint64(len(buf)) > uint64(len(d.data)) {
		return fmt.Errorf("ffs: write past device end")
	}
	dst := d.data[addr : addr+uint32(len(buf))]
	for i, b := range buf {
		// NOR flash can only clear bits on a plain write.
		dst[i] &= b
	}
	return nil
}

func (d *MemDevice) Erase4K(addr uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint64(addr)+BlockSize > uint64(len(d.data)) {
		return fmt.Errorf("ffs: erase past device end")
	}
	region := d.data[addr : addr+BlockSize]
	for i := range region {
		region[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) Busy() bool { return false }

func (d *MemDevice) Capacity() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.data))
}

var _ Device = (*FileDevice)(nil)
var _ Device = (*MemDevice)(nil)
