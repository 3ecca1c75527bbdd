package ffs

import (
	"bytes"
	"sort"
	"sync"

	"sapphire/internal/defs"
	"sapphire/internal/util"
)

// blockFlags are monotonic one-way bits: FREE (all ones) -> VALID (0x40
// cleared) -> DIRTY (0x80 cleared). See spec.md §3 "Block (FlashFS)".
const (
	flagValidBit = 0x40
	flagDirtyBit = 0x80
	flagsFree    = 0xFF
)

// BlockState classifies a block's lifecycle position.
type BlockState int

const (
	StateFree BlockState = iota
	StateValid
	StateDirty
	StateInvalid // unreadable / fields out of range
)

func (s BlockState) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateValid:
		return "valid"
	case StateDirty:
		return "dirty"
	default:
		return "invalid"
	}
}

func classifyFlags(f uint8) BlockState {
	if f == flagsFree {
		return StateFree
	}
	if f&flagDirtyBit == 0 {
		return StateDirty
	}
	if f&flagValidBit == 0 {
		return StateValid
	}
	return StateInvalid
}

// Meta_t is the 8-byte redundant meta record held twice per block.
type Meta_t struct {
	FileID   uint8
	Flags    uint8
	BlockSeq uint16
	Sequence uint8
	Reserved [3]byte
}

func (m Meta_t) encode() []byte {
	b := make([]byte, MetaRecordSize)
	b[0] = m.FileID
	b[1] = m.Flags
	util.Writen(b, 2, 2, int(m.BlockSeq))
	b[4] = m.Sequence
	copy(b[5:8], m.Reserved[:])
	return b
}

func decodeMeta(b []byte) Meta_t {
	var m Meta_t
	m.FileID = b[0]
	m.Flags = b[1]
	m.BlockSeq = uint16(util.Readn(b, 2, 2))
	m.Sequence = b[4]
	copy(m.Reserved[:], b[5:8])
	return m
}

func (m Meta_t) State() BlockState { return classifyFlags(m.Flags) }

// BlockLayer partitions flash into fixed erase blocks and tracks
// free/dirty/valid lists, per spec.md §4.1.
type BlockLayer struct {
	mu sync.Mutex

	dev         Device
	baseBlock   uint32 // device block index of FlashFS-managed block 0
	totalBlocks uint32
	maxFiles    int

	free  []uint32 // ordered free list
	dirty []uint32 // ordered dirty list (erased lazily by GC)

	// metaCache holds the last-read meta for every VALID block; it is
	// the authority reads consult first and writes update in lockstep
	// with the on-flash copies.
	metaCache map[uint32]Meta_t
	// fileBlocks maps file id -> ordered block ids (ascending block_seq).
	fileBlocks map[uint8][]uint32
	// indexCache holds the decoded (single, reconciled) index table per
	// block; invalidated on erase or block replacement.
	indexCache map[uint32][]byte

	hardErrors uint32
	warnFlag   bool
}

// NewBlockLayer constructs a BlockLayer managing `count` FlashFS blocks
// starting at device block `base` (the header block and the firmware
// partitions occupy device blocks outside this range; see fs.go).
func NewBlockLayer(dev Device, base, count uint32, maxFiles int) *BlockLayer {
	return &BlockLayer{
		dev:         dev,
		baseBlock:   base,
		totalBlocks: count,
		maxFiles:    maxFiles,
		metaCache:   make(map[uint32]Meta_t),
		fileBlocks:  make(map[uint8][]uint32),
		indexCache:  make(map[uint32][]byte),
	}
}

// TotalBlocks returns the number of erase blocks backing the device.
func (bl *BlockLayer) TotalBlocks() uint32 { return bl.totalBlocks }

// HardErrors returns the monotonic hard-I/O-error counter (§7 "Flash hard").
func (bl *BlockLayer) HardErrors() uint32 {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.hardErrors
}

// Warning reports whether the FLASHFS_HARD_ERROR flag has been raised.
func (bl *BlockLayer) Warning() bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.warnFlag
}

func (bl *BlockLayer) blockAddr(block uint32) uint32 { return (bl.baseBlock + block) * BlockSize }

func (bl *BlockLayer) readRaw(block uint32, off, n int, buf []byte) error {
	return bl.dev.ReadAt(bl.blockAddr(block)+uint32(off), buf[:n])
}

func (bl *BlockLayer) writeRaw(block uint32, off int, buf []byte) error {
	return bl.dev.WriteAt(bl.blockAddr(block)+uint32(off), buf)
}

// readBothMeta reads both redundant meta copies for diagnostics.
func (bl *BlockLayer) readBothMeta(block uint32) (m0, m1 []byte, err error) {
	m0 = make([]byte, MetaRecordSize)
	m1 = make([]byte, MetaRecordSize)
	if err = bl.readRaw(block, 0, MetaRecordSize, m0); err != nil {
		return
	}
	err = bl.readRaw(block, MetaRecordSize, MetaRecordSize, m1)
	return
}

// noteHardError bumps the hard-error counter and raises the warning flag.
// Caller must hold bl.mu.
func (bl *BlockLayer) noteHardError() {
	bl.hardErrors++
	bl.warnFlag = true
}

// ReadMeta reads both meta copies with the dual-copy retry discipline of
// §4.1: match + range-check, else retry up to IOAttempts, else a hard error.
func (bl *BlockLayer) ReadMeta(block uint32) (Meta_t, defs.Err_t) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.readMetaLocked(block)
}

func (bl *BlockLayer) readMetaLocked(block uint32) (Meta_t, defs.Err_t) {
	for attempt := 0; attempt < IOAttempts; attempt++ {
		m0, m1, err := bl.readBothMeta(block)
		if err != nil {
			continue
		}
		if !bytes.Equal(m0, m1) {
			continue
		}
		m := decodeMeta(m0)
		if !bl.metaSane(m) {
			continue
		}
		return m, defs.EOK
	}
	bl.noteHardError()
	return Meta_t{}, defs.EHARDIO
}

func (bl *BlockLayer) metaSane(m Meta_t) bool {
	if m.State() == StateFree {
		return true
	}
	if int(m.FileID) >= bl.maxFiles {
		return false
	}
	if uint32(m.BlockSeq) >= bl.totalBlocks {
		return false
	}
	return true
}

// writeMeta writes both copies and reads each back; it succeeds if at
// least one copy reads back correctly (the acceptance criterion spelled
// out for mark_dirty in §4.1), otherwise it writes the all-zero invalid
// sentinel to both copies and gives up.
func (bl *BlockLayer) writeMeta(block uint32, m Meta_t) defs.Err_t {
	enc := m.encode()
	okCount := 0
	for copyIdx := 0; copyIdx < 2; copyIdx++ {
		off := copyIdx * MetaRecordSize
		for attempt := 0; attempt < IOAttempts; attempt++ {
			if err := bl.writeRaw(block, off, enc); err != nil {
				continue
			}
			back := make([]byte, MetaRecordSize)
			if err := bl.readRaw(block, off, MetaRecordSize, back); err != nil {
				continue
			}
			if bytes.Equal(back, enc) {
				okCount++
				break
			}
		}
	}
	if okCount == 0 {
		bl.noteHardError()
		sentinel := make([]byte, MetaRecordSize)
		bl.writeRaw(block, 0, sentinel)
		bl.writeRaw(block, MetaRecordSize, sentinel)
		return defs.EHARDIO
	}
	bl.metaCache[block] = m
	return defs.EOK
}

// ReadIndex reads both index copies, comparing them via CRC16, per §4.1.
func (bl *BlockLayer) ReadIndex(block uint32) ([]byte, defs.Err_t) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if cached, ok := bl.indexCache[block]; ok {
		out := make([]byte, len(cached))
		copy(out, cached)
		return out, defs.EOK
	}
	idx0off := 2 * MetaRecordSize
	idx1off := idx0off + indexTableSize
	for attempt := 0; attempt < IOAttempts; attempt++ {
		i0 := make([]byte, indexTableSize)
		i1 := make([]byte, indexTableSize)
		if err := bl.readRaw(block, idx0off, indexTableSize, i0); err != nil {
			continue
		}
		if err := bl.readRaw(block, idx1off, indexTableSize, i1); err != nil {
			continue
		}
		if util.CRC16CCITT(i0) == util.CRC16CCITT(i1) {
			bl.indexCache[block] = i0
			out := make([]byte, len(i0))
			copy(out, i0)
			return out, defs.EOK
		}
	}
	bl.noteHardError()
	return nil, defs.EHARDIO
}

// SetIndexEntry writes logical into physical's slot in both index copies,
// single bytes, reading each back; it fails only if both reads disagree
// with the intended value (§4.1).
func (bl *BlockLayer) SetIndexEntry(block uint32, physical int, logical uint8) defs.Err_t {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	idx0off := 2*MetaRecordSize + physical
	idx1off := 2*MetaRecordSize + indexTableSize + physical
	buf := []byte{logical}

	agree := 0
	for _, off := range []int{idx0off, idx1off} {
		for attempt := 0; attempt < IOAttempts; attempt++ {
			if err := bl.writeRaw(block, off, buf); err != nil {
				continue
			}
			back := make([]byte, 1)
			if err := bl.readRaw(block, off, 1, back); err != nil {
				continue
			}
			if back[0] == logical {
				agree++
				break
			}
		}
	}
	if agree == 0 {
		bl.noteHardError()
		return defs.EHARDIO
	}
	if cached, ok := bl.indexCache[block]; ok {
		cached[physical] = logical
	}
	return defs.EOK
}

// AllocBlock pops a block from the free list. It fails (ok=false) if the
// free list is empty.
func (bl *BlockLayer) AllocBlock() (block uint32, ok bool) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if len(bl.free) == 0 {
		return 0, false
	}
	block = bl.free[0]
	bl.free = bl.free[1:]
	return block, true
}

// FreeCount returns the number of blocks on the free list.
func (bl *BlockLayer) FreeCount() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.free)
}

// FinalizeBlock writes the meta for a freshly allocated block, marking it
// VALID and associating it with file/blockSeq. sequence starts at 0 unless
// replacing an existing block (see page.go's block-replacement path).
func (bl *BlockLayer) FinalizeBlock(block uint32, fileID uint8, blockSeq uint16, sequence uint8) defs.Err_t {
	m := Meta_t{FileID: fileID, Flags: flagsFree &^ flagValidBit, BlockSeq: blockSeq, Sequence: sequence}
	if err := bl.writeMeta(block, m); err != defs.EOK {
		return err
	}
	bl.mu.Lock()
	bl.insertFileBlockLocked(fileID, block, blockSeq)
	bl.mu.Unlock()
	// A freshly allocated block has an all-0xFF index table already
	// (it came from the free list); nothing further to initialize.
	return defs.EOK
}

func (bl *BlockLayer) insertFileBlockLocked(fileID uint8, block uint32, blockSeq uint16) {
	list := bl.fileBlocks[fileID]
	idx := sort.Search(len(list), func(i int) bool {
		m := bl.metaCache[list[i]]
		return m.BlockSeq >= blockSeq
	})
	list = append(list, 0)
	copy(list[idx+1:], list[idx:])
	list[idx] = block
	bl.fileBlocks[fileID] = list
}

// MarkDirty flips both meta copies to DIRTY and moves the block onto the
// dirty list. Per the acceptance criterion in §4.1, at least one copy must
// read back correctly; otherwise the block is forced to the invalid
// sentinel and the hard-error counter is bumped (the block is still moved
// to the dirty list — an unreadable block can never go back to FREE
// without being erased first).
func (bl *BlockLayer) MarkDirty(block uint32) defs.Err_t {
	bl.mu.Lock()
	m, ok := bl.metaCache[block]
	bl.mu.Unlock()
	if !ok {
		var e defs.Err_t
		m, e = bl.ReadMeta(block)
		if e != defs.EOK && e != defs.EHARDIO {
			return e
		}
	}
	m.Flags &^= flagDirtyBit
	err := bl.writeMeta(block, m)

	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.removeFileBlockLocked(m.FileID, block)
	delete(bl.metaCache, block)
	delete(bl.indexCache, block)
	bl.dirty = append(bl.dirty, block)
	return err
}

func (bl *BlockLayer) removeFileBlockLocked(fileID uint8, block uint32) {
	list := bl.fileBlocks[fileID]
	for i, b := range list {
		if b == block {
			bl.fileBlocks[fileID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Erase issues a 4 KiB erase, drops any cached index, and pushes the block
// onto the free list. The system never writes a block back to FREE
// without erasing it first.
func (bl *BlockLayer) Erase(block uint32) defs.Err_t {
	if err := bl.dev.Erase4K(bl.blockAddr(block)); err != nil {
		bl.mu.Lock()
		bl.noteHardError()
		bl.mu.Unlock()
		return defs.EHARDIO
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	delete(bl.indexCache, block)
	delete(bl.metaCache, block)
	bl.free = append(bl.free, block)
	return defs.EOK
}

// SweepDirty erases up to n dirty blocks, returning the on flash to free.
// Modeled as the background garbage collector of §4.1 — outside the core
// contract, driven cooperatively by internal/ffs/bg.go.
func (bl *BlockLayer) SweepDirty(n int) int {
	bl.mu.Lock()
	take := util.Min(n, len(bl.dirty))
	batch := append([]uint32(nil), bl.dirty[:take]...)
	bl.dirty = bl.dirty[take:]
	bl.mu.Unlock()

	erased := 0
	for _, b := range batch {
		if bl.Erase(b) == defs.EOK {
			erased++
		}
	}
	return erased
}

// FileBlocks returns the ordered (ascending block_seq) block list for a
// file id, as rebuilt at mount or maintained incrementally afterwards.
func (bl *BlockLayer) FileBlocks(fileID uint8) []uint32 {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	out := make([]uint32, len(bl.fileBlocks[fileID]))
	copy(out, bl.fileBlocks[fileID])
	return out
}

// Mount scans every block exactly once, classifying FREE/DIRTY/VALID/
// INVALID, rebuilding per-file ordered block lists, resolving duplicate
// (file_id, block_seq) pairs by signed-sequence-distance, and deleting
// files with a gap in block_seq — all per spec.md §3 and §4.1.
func (bl *BlockLayer) Mount(verifyFree bool) defs.Err_t {
	bl.mu.Lock()
	bl.free = bl.free[:0]
	bl.dirty = bl.dirty[:0]
	bl.metaCache = make(map[uint32]Meta_t)
	bl.fileBlocks = make(map[uint8][]uint32)
	bl.indexCache = make(map[uint32][]byte)
	bl.mu.Unlock()

	byFileSeq := make(map[uint8]map[uint16]uint32) // file -> block_seq -> block

	for b := uint32(0); b < bl.totalBlocks; b++ {
		raw := make([]byte, 1)
		if err := bl.readRaw(b, 1, 1, raw); err != nil {
			bl.mu.Lock()
			bl.dirty = append(bl.dirty, b)
			bl.mu.Unlock()
			continue
		}
		switch classifyFlags(raw[0]) {
		case StateFree:
			if verifyFree {
				if !bl.blockIsBlank(b) {
					bl.mu.Lock()
					bl.dirty = append(bl.dirty, b)
					bl.mu.Unlock()
					continue
				}
			}
			bl.mu.Lock()
			bl.free = append(bl.free, b)
			bl.mu.Unlock()
		case StateDirty:
			bl.mu.Lock()
			bl.dirty = append(bl.dirty, b)
			bl.mu.Unlock()
		case StateValid:
			m, e := bl.ReadMeta(b)
			if e != defs.EOK {
				bl.mu.Lock()
				bl.dirty = append(bl.dirty, b)
				bl.mu.Unlock()
				continue
			}
			bl.mu.Lock()
			bl.metaCache[b] = m
			bl.mu.Unlock()
			if byFileSeq[m.FileID] == nil {
				byFileSeq[m.FileID] = make(map[uint16]uint32)
			}
			if other, dup := byFileSeq[m.FileID][m.BlockSeq]; dup {
				om, _ := bl.readMetaLocked(other)
				if util.SignedDist8(m.Sequence, om.Sequence) > 0 {
					bl.MarkDirty(other)
					byFileSeq[m.FileID][m.BlockSeq] = b
				} else {
					bl.MarkDirty(b)
				}
			} else {
				byFileSeq[m.FileID][m.BlockSeq] = b
			}
		default:
			bl.mu.Lock()
			bl.dirty = append(bl.dirty, b)
			bl.mu.Unlock()
		}
	}

	for fileID, seqmap := range byFileSeq {
		seqs := make([]uint16, 0, len(seqmap))
		for s := range seqmap {
			seqs = append(seqs, s)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		gap := false
		for i, s := range seqs {
			if int(s) != i {
				gap = true
				break
			}
		}
		if gap {
			for _, s := range seqs {
				bl.MarkDirty(seqmap[s])
			}
			continue
		}
		bl.mu.Lock()
		list := make([]uint32, len(seqs))
		for i, s := range seqs {
			list[i] = seqmap[s]
		}
		bl.fileBlocks[fileID] = list
		bl.mu.Unlock()
	}

	return defs.EOK
}

func physSlotOffset(slot int) int {
	return dataRegionOffset + slot*PhysPageSize
}

// ReadPhysPage reads the physical page at the given slot within block,
// verifying its CRC16. Retries up to IOAttempts times before counting a
// hard error, per §4.2 "verify CRC".
func (bl *BlockLayer) ReadPhysPage(block uint32, slot int) (length int, data []byte, status defs.Err_t) {
	off := physSlotOffset(slot)
	for attempt := 0; attempt < IOAttempts; attempt++ {
		raw := make([]byte, PhysPageSize)
		if err := bl.readRaw(block, off, PhysPageSize, raw); err != nil {
			continue
		}
		l := util.Readn(raw, 2, 0)
		if l < 0 || l > PageDataSize {
			continue
		}
		d := raw[2 : 2+PageDataSize]
		wantCRC := uint16(util.Readn(raw, 2, 2+PageDataSize))
		if util.CRC16CCITT(d[:l]) != wantCRC {
			continue
		}
		out := make([]byte, l)
		copy(out, d[:l])
		return l, out, defs.EOK
	}
	bl.mu.Lock()
	bl.noteHardError()
	bl.mu.Unlock()
	return 0, nil, defs.EHARDIO
}

// WritePhysPage writes data (len(data) <= PageDataSize) with its CRC16 into
// the given physical slot, retrying up to IOAttempts times.
func (bl *BlockLayer) WritePhysPage(block uint32, slot int, data []byte) defs.Err_t {
	if len(data) > PageDataSize {
		panic("ffs: page data exceeds PageDataSize")
	}
	raw := make([]byte, PhysPageSize)
	util.Writen(raw, 2, 0, len(data))
	copy(raw[2:2+len(data)], data)
	crc := util.CRC16CCITT(data)
	util.Writen(raw, 2, 2+PageDataSize, int(crc))

	off := physSlotOffset(slot)
	for attempt := 0; attempt < IOAttempts; attempt++ {
		if err := bl.writeRaw(block, off, raw); err != nil {
			continue
		}
		back := make([]byte, PhysPageSize)
		if err := bl.readRaw(block, off, PhysPageSize, back); err != nil {
			continue
		}
		if bytes.Equal(back, raw) {
			return defs.EOK
		}
	}
	bl.mu.Lock()
	bl.noteHardError()
	bl.mu.Unlock()
	return defs.EHARDIO
}

// SetSequence rewrites the Sequence field of a VALID block's meta,
// incrementing modulo 256, without otherwise touching its identity. Used
// by block replacement (§4.2) after copying logical pages forward.
func (bl *BlockLayer) SetSequence(block uint32, sequence uint8) defs.Err_t {
	bl.mu.Lock()
	m, ok := bl.metaCache[block]
	bl.mu.Unlock()
	if !ok {
		return defs.EBOUNDS
	}
	m.Sequence = sequence
	return bl.writeMeta(block, m)
}

func (bl *BlockLayer) blockIsBlank(b uint32) bool {
	buf := make([]byte, BlockSize)
	if err := bl.readRaw(b, 0, BlockSize, buf); err != nil {
		return false
	}
	for _, v := range buf {
		if v != 0xFF {
			return false
		}
	}
	return true
}
