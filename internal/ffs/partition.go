package ffs

import (
	"sapphire/internal/defs"
)

// Partition_t describes a firmware partition's raw placement on the
// device. The two firmware partitions are files by identity (they
// occupy ids Firmware0/Firmware1) but bypass the page layer entirely:
// they are read/written directly as contiguous flash regions and erased
// as a whole, per spec.md §3/§4.3.
type Partition_t struct {
	ID          uint8
	StartBlock  uint32
	NumBlocks   uint32
	readOnly    bool
	eraseCursor uint32 // next block to erase in a background sweep
	erasing     bool
}

// PartitionLayer manages the two firmware partitions, which live outside
// the block/page/file layer's accounting entirely.
type PartitionLayer struct {
	dev  Device
	fw0  Partition_t
	fw1  Partition_t
}

// NewPartitionLayer lays out two equally sized firmware partitions
// starting at startBlock, each spanning blocks firmware partitions occupy
// by convention immediately following the FlashFS header block.
func NewPartitionLayer(dev Device, startBlock uint32, blocksEach uint32) *PartitionLayer {
	return &PartitionLayer{
		dev: dev,
		fw0: Partition_t{ID: Firmware0, StartBlock: startBlock, NumBlocks: blocksEach},
		fw1: Partition_t{ID: Firmware1, StartBlock: startBlock + blocksEach, NumBlocks: blocksEach, readOnly: true},
	}
}

func (pl *PartitionLayer) partition(id uint8) (*Partition_t, defs.Err_t) {
	switch id {
	case Firmware0:
		return &pl.fw0, defs.EOK
	case Firmware1:
		return &pl.fw1, defs.EOK
	default:
		return nil, defs.EINVAL
	}
}

func (pl *PartitionLayer) byteRange(p *Partition_t) (start, size uint32) {
	return p.StartBlock * BlockSize, p.NumBlocks * BlockSize
}

// Read reads len(buf) bytes at offset within the partition.
func (pl *PartitionLayer) Read(id uint8, offset int, buf []byte) defs.Err_t {
	p, err := pl.partition(id)
	if err != defs.EOK {
		return err
	}
	start, size := pl.byteRange(p)
	if uint32(offset)+uint32(len(buf)) > size {
		return defs.EBOUNDS
	}
	if ioerr := pl.dev.ReadAt(start+uint32(offset), buf); ioerr != nil {
		return defs.EHARDIO
	}
	return defs.EOK
}

// Write writes buf at offset within the partition. Firmware-1 is
// read-only per the Open Question in spec.md §9 (the original source
// defines it but returns early on erase/write; only the bootloader may
// reflash it).
func (pl *PartitionLayer) Write(id uint8, offset int, buf []byte) defs.Err_t {
	p, err := pl.partition(id)
	if err != defs.EOK {
		return err
	}
	if p.readOnly {
		return defs.EINVAL
	}
	start, size := pl.byteRange(p)
	if uint32(offset)+uint32(len(buf)) > size {
		return defs.EBOUNDS
	}
	if ioerr := pl.dev.WriteAt(start+uint32(offset), buf); ioerr != nil {
		return defs.EHARDIO
	}
	return defs.EOK
}

// Size returns the partition's byte capacity.
func (pl *PartitionLayer) Size(id uint8) (int, defs.Err_t) {
	p, err := pl.partition(id)
	if err != defs.EOK {
		return 0, err
	}
	_, size := pl.byteRange(p)
	return int(size), defs.EOK
}

// EraseAll erases the whole partition synchronously. No-op (EINVAL) on
// the read-only firmware-1 partition.
func (pl *PartitionLayer) EraseAll(id uint8) defs.Err_t {
	p, err := pl.partition(id)
	if err != defs.EOK {
		return err
	}
	if p.readOnly {
		return defs.EINVAL
	}
	for b := uint32(0); b < p.NumBlocks; b++ {
		if ioerr := pl.dev.Erase4K((p.StartBlock + b) * BlockSize); ioerr != nil {
			return defs.EHARDIO
		}
	}
	return defs.EOK
}

// BeginBackgroundErase arms a partition for incremental background
// erasure, a few blocks per tick (EraseTick), instead of one long
// synchronous erase. A no-op on firmware-1.
func (pl *PartitionLayer) BeginBackgroundErase(id uint8) defs.Err_t {
	p, err := pl.partition(id)
	if err != defs.EOK {
		return err
	}
	if p.readOnly {
		return defs.EINVAL
	}
	p.erasing = true
	p.eraseCursor = 0
	return defs.EOK
}

// EraseTick erases up to n blocks of any partition currently undergoing a
// background erase, returning the number of blocks erased.
func (pl *PartitionLayer) EraseTick(n int) int {
	erased := 0
	for _, p := range []*Partition_t{&pl.fw0, &pl.fw1} {
		for p.erasing && erased < n {
			if err := pl.dev.Erase4K((p.StartBlock + p.eraseCursor) * BlockSize); err == nil {
				erased++
			}
			p.eraseCursor++
			if p.eraseCursor >= p.NumBlocks {
				p.erasing = false
			}
		}
	}
	return erased
}
