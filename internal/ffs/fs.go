// Package ffs implements Sapphire's FlashFS: a log-structured,
// power-fail-safe file system for raw NOR flash, per spec.md §2-§4, §6.3,
// §7, §8.
package ffs

import (
	"sapphire/internal/defs"
)

// FFSVersion must match the byte stored at device block 0, offset 0.
// There is no cross-version compatibility, mirroring the ISA-version rule
// FX-VM applies to program images.
const FFSVersion = 1

// BoardTypeUnset is the sentinel written at block 0 offset 1 until a
// one-time board-type write occurs (§6.3).
const BoardTypeUnset = 0xFF

// DefaultMaxFiles bounds file ids (including the two firmware partitions).
const DefaultMaxFiles = 64

// Ffs_t is the assembled FlashFS: block layer, page layer, file layer,
// and the firmware-partition raw region, all riding on one Device.
type Ffs_t struct {
	dev  Device
	bl   *BlockLayer
	pl   *PageLayer
	fl   *FileLayer
	part *PartitionLayer

	firmwareBlocksEach uint32
	dataBaseBlock      uint32
	dataBlockCount     uint32
}

// partitionLayout picks how many device blocks go to each firmware
// partition. The remainder (minus the header block) is split among
// ordinary FlashFS blocks. Kept as its own function so format-time
// sizing decisions are visible and testable.
func partitionLayout(totalDeviceBlocks uint32) (firmwareBlocksEach, dataBase, dataCount uint32) {
	// Header occupies block 0. Reserve ~12% of the device for each of
	// the two firmware partitions, leaving the rest for FlashFS data,
	// with a floor of one block each on tiny test devices.
	firmwareBlocksEach = totalDeviceBlocks / 8
	if firmwareBlocksEach < 1 {
		firmwareBlocksEach = 1
	}
	dataBase = 1 + 2*firmwareBlocksEach
	if dataBase >= totalDeviceBlocks {
		dataBase = totalDeviceBlocks
	}
	dataCount = totalDeviceBlocks - dataBase
	return
}

// Format erases the whole device, writes the FlashFS header, and leaves
// every FlashFS-managed block erased (FREE), per spec.md §6.3.
func Format(dev Device) (*Ffs_t, defs.Err_t) {
	total := dev.Capacity() / BlockSize
	for b := uint32(0); b < total; b++ {
		if err := dev.Erase4K(b * BlockSize); err != nil {
			return nil, defs.EHARDIO
		}
	}
	header := []byte{FFSVersion, BoardTypeUnset}
	if err := dev.WriteAt(0, header); err != nil {
		return nil, defs.EHARDIO
	}

	fwEach, dataBase, dataCount := partitionLayout(total)
	f := &Ffs_t{
		dev:                dev,
		firmwareBlocksEach: fwEach,
		dataBaseBlock:      dataBase,
		dataBlockCount:     dataCount,
	}
	f.bl = NewBlockLayer(dev, dataBase, dataCount, DefaultMaxFiles)
	f.pl = NewPageLayer(f.bl)
	f.fl = NewFileLayer(f.pl, f.bl, DefaultMaxFiles)
	f.part = NewPartitionLayer(dev, 1, fwEach)

	if err := f.bl.Mount(false); err != defs.EOK {
		return nil, err
	}
	if err := f.fl.Rebuild(); err != defs.EOK {
		return nil, err
	}
	return f, defs.EOK
}

// Mount reopens an existing FlashFS image, verifying the header version
// and recovering block/file state per spec.md §4.1's crash-recovery
// algorithm. verifyFree controls whether the free list is byte-scanned
// immediately (true) or not at all (false); Background does not verify
// free blocks.
func Mount(dev Device, verifyFree bool) (*Ffs_t, defs.Err_t) {
	hdr := make([]byte, 2)
	if err := dev.ReadAt(0, hdr); err != nil {
		return nil, defs.EHARDIO
	}
	if hdr[0] != FFSVersion {
		return nil, defs.EBADISA
	}

	total := dev.Capacity() / BlockSize
	fwEach, dataBase, dataCount := partitionLayout(total)
	f := &Ffs_t{
		dev:                dev,
		firmwareBlocksEach: fwEach,
		dataBaseBlock:      dataBase,
		dataBlockCount:     dataCount,
	}
	f.bl = NewBlockLayer(dev, dataBase, dataCount, DefaultMaxFiles)
	f.pl = NewPageLayer(f.bl)
	f.fl = NewFileLayer(f.pl, f.bl, DefaultMaxFiles)
	f.part = NewPartitionLayer(dev, 1, fwEach)

	if err := f.bl.Mount(verifyFree); err != defs.EOK {
		return nil, err
	}
	if err := f.fl.Rebuild(); err != defs.EOK {
		return nil, err
	}
	return f, defs.EOK
}

// BoardType reads the one-time board-type identifier.
func (f *Ffs_t) BoardType() (uint8, defs.Err_t) {
	b := make([]byte, 1)
	if err := f.dev.ReadAt(1, b); err != nil {
		return 0, defs.EHARDIO
	}
	return b[0], defs.EOK
}

// SetBoardType performs the one-time board-type write. It refuses to
// overwrite an already-set value (flash can only clear bits without an
// erase, and this byte is never re-erased independently).
func (f *Ffs_t) SetBoardType(v uint8) defs.Err_t {
	cur, err := f.BoardType()
	if err != defs.EOK {
		return err
	}
	if cur != BoardTypeUnset {
		return defs.EINVAL
	}
	if werr := f.dev.WriteAt(1, []byte{v}); werr != nil {
		return defs.EHARDIO
	}
	return defs.EOK
}

// FreeSpace returns the number of free bytes, computed as the free block
// count times the usable per-block data capacity (§8 scenario 1).
func (f *Ffs_t) FreeSpace() uint32 {
	return uint32(f.bl.FreeCount()) * uint32(DataPagesPerBlock*PageDataSize)
}

// FileCount returns the number of files, including the two firmware
// partitions.
func (f *Ffs_t) FileCount() int { return f.fl.FileCount() }

// Stats reports the hard-error counter and warning flag (§7's
// FLASHFS_HARD_ERROR bit).
func (f *Ffs_t) Stats() (hardErrors uint32, warning bool) {
	return f.bl.HardErrors(), f.bl.Warning()
}

// Files, Blocks, and Partitions expose the component layers for callers
// (KVDB, VM loader, CLI) that need file-level or partition-level
// operations directly.
func (f *Ffs_t) Files() *FileLayer           { return f.fl }
func (f *Ffs_t) Blocks() *BlockLayer         { return f.bl }
func (f *Ffs_t) Pages() *PageLayer           { return f.pl }
func (f *Ffs_t) Partitions() *PartitionLayer { return f.part }

// Handle_t is an open-file cursor, the File Layer's user-facing object
// (§4.3: seek/read/write delegate to the page layer with bounds checks
// against the file's stored size).
type Handle_t struct {
	fl     *FileLayer
	fid    uint8
	offset int
}

// Create creates a new file and returns a write-positioned handle.
func (f *Ffs_t) Create(name string) (*Handle_t, defs.Err_t) {
	fid, err := f.fl.Create(name)
	if err != defs.EOK {
		return nil, err
	}
	return &Handle_t{fl: f.fl, fid: fid}, defs.EOK
}

// Open opens an existing file for read/write.
func (f *Ffs_t) Open(name string) (*Handle_t, defs.Err_t) {
	fid, err := f.fl.Lookup(name)
	if err != defs.EOK {
		return nil, err
	}
	return &Handle_t{fl: f.fl, fid: fid}, defs.EOK
}

// Unlink deletes the named file.
func (f *Ffs_t) Unlink(name string) defs.Err_t { return f.fl.Unlink(name) }

// Seek repositions the handle's cursor.
func (h *Handle_t) Seek(offset int) { h.offset = offset }

// Tell returns the handle's current cursor position.
func (h *Handle_t) Tell() int { return h.offset }

// Size returns the file's current stored size.
func (h *Handle_t) Size() int { return h.fl.Size(h.fid) }

// Read reads into buf starting at the cursor, advancing it by the number
// of bytes actually read.
func (h *Handle_t) Read(buf []byte) (int, defs.Err_t) {
	n, err := h.fl.ReadAt(h.fid, h.offset, buf)
	h.offset += n
	return n, err
}

// Write writes buf at the cursor, advancing it by the number of bytes
// written.
func (h *Handle_t) Write(buf []byte) (int, defs.Err_t) {
	n, err := h.fl.WriteAt(h.fid, h.offset, buf)
	h.offset += n
	return n, err
}

// Append writes buf at the file's current end, independent of the
// handle's cursor, and repositions the cursor to the new end.
func (h *Handle_t) Append(buf []byte) defs.Err_t {
	newEnd, err := h.fl.Append(h.fid, buf)
	if err != defs.EOK {
		return err
	}
	h.offset = newEnd
	return defs.EOK
}

// Close flushes any dirty cached pages belonging to the file.
func (h *Handle_t) Close() defs.Err_t { return h.fl.Sync(h.fid) }
