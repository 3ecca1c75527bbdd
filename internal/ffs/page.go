package ffs

import (
	"sort"
	"sync"

	"sapphire/internal/defs"
)

// cacheSlots is the fixed compile-time cache size named in §4.2.
const cacheSlots = 16

type cacheKey struct {
	fileID  uint8
	logical int
}

type cacheEntry struct {
	key    cacheKey
	valid  bool
	dirty  bool
	length int
	data   [PageDataSize]byte
}

// PageLayer maps logical file pages onto physical pages within blocks,
// through a small write-through cache with deferred flush, per spec.md
// §4.2.
type PageLayer struct {
	mu sync.Mutex

	bl *BlockLayer

	cache  [cacheSlots]cacheEntry
	clock  int // round-robin replacement pointer
	flushBusy bool
}

// NewPageLayer constructs a PageLayer over the given block layer.
func NewPageLayer(bl *BlockLayer) *PageLayer {
	return &PageLayer{bl: bl}
}

func logicalBlockIndex(logical int) int { return logical / DataPagesPerBlock }
func logicalInBlock(logical int) uint8  { return uint8(logical % DataPagesPerBlock) }

// physicalBlockFor resolves the block id backing logicalPage for fileID,
// allocating and finalizing a fresh block if the file's block list does
// not yet reach that far (the "creating if past EOF" case of Write).
func (pl *PageLayer) physicalBlockFor(fileID uint8, logical int, create bool) (uint32, defs.Err_t) {
	idx := logicalBlockIndex(logical)
	blocks := pl.bl.FileBlocks(fileID)
	if idx < len(blocks) {
		return blocks[idx], defs.EOK
	}
	if !create || idx != len(blocks) {
		return 0, defs.EBOUNDS
	}
	nb, ok := pl.bl.AllocBlock()
	if !ok {
		return 0, defs.ENOSPACE
	}
	if err := pl.bl.FinalizeBlock(nb, fileID, uint16(idx), 0); err != defs.EOK {
		return 0, err
	}
	return nb, defs.EOK
}

// findSlotFor scans a block's index table backward for the latest
// physical slot holding relLogical — later writers shadow earlier ones.
func findSlotFor(index []byte, relLogical uint8) (int, bool) {
	for slot := len(index) - 1; slot >= 0; slot-- {
		if index[slot] == relLogical {
			return slot, true
		}
	}
	return 0, false
}

func findFreeSlot(index []byte) (int, bool) {
	for slot, v := range index {
		if v == unusedIndexSlot {
			return slot, true
		}
	}
	return 0, false
}

// Read returns the content of logical page `logical` of file `fileID`,
// consulting the cache first.
func (pl *PageLayer) Read(fileID uint8, logical int) ([]byte, defs.Err_t) {
	pl.mu.Lock()
	for i := range pl.cache {
		e := &pl.cache[i]
		if e.valid && e.key == (cacheKey{fileID, logical}) {
			out := make([]byte, e.length)
			copy(out, e.data[:e.length])
			pl.mu.Unlock()
			return out, defs.EOK
		}
	}
	pl.mu.Unlock()

	block, err := pl.physicalBlockFor(fileID, logical, false)
	if err != defs.EOK {
		return nil, err
	}
	index, err := pl.bl.ReadIndex(block)
	if err != defs.EOK {
		return nil, err
	}
	slot, ok := findSlotFor(index, logicalInBlock(logical))
	if !ok {
		// Never-written logical page within an existing block: empty.
		pl.cacheInsert(fileID, logical, nil, false)
		return nil, defs.EOK
	}
	length, data, err := pl.bl.ReadPhysPage(block, slot)
	if err != defs.EOK {
		return nil, err
	}
	_ = length
	pl.cacheInsert(fileID, logical, data, false)
	return data, defs.EOK
}

// cacheInsert installs (fileID, logical) -> data into the cache via
// round-robin replacement, flushing a dirty victim first.
func (pl *PageLayer) cacheInsert(fileID uint8, logical int, data []byte, dirty bool) *cacheEntry {
	pl.mu.Lock()
	victim := &pl.cache[pl.clock]
	pl.clock = (pl.clock + 1) % cacheSlots
	pl.mu.Unlock()

	if victim.valid && victim.dirty {
		pl.flushEntry(victim)
	}

	victim.key = cacheKey{fileID, logical}
	victim.valid = true
	victim.dirty = dirty
	victim.length = len(data)
	copy(victim.data[:], data)
	return victim
}

func (pl *PageLayer) findOrLoad(fileID uint8, logical int) (*cacheEntry, defs.Err_t) {
	pl.mu.Lock()
	for i := range pl.cache {
		e := &pl.cache[i]
		if e.valid && e.key == (cacheKey{fileID, logical}) {
			pl.mu.Unlock()
			return e, defs.EOK
		}
	}
	pl.mu.Unlock()

	if _, err := pl.Read(fileID, logical); err != defs.EOK && err != defs.EBOUNDS {
		return nil, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for i := range pl.cache {
		e := &pl.cache[i]
		if e.valid && e.key == (cacheKey{fileID, logical}) {
			return e, defs.EOK
		}
	}
	return pl.cacheInsert(fileID, logical, nil, false), defs.EOK
}

// Write patches bytes into logical page `logical` of file `fileID` at the
// given in-page offset, bringing the page into cache (creating a new
// block if writing extends the file). If the write fills the page exactly
// (length == PageDataSize) during an append, the page is flushed
// immediately so appended pages commit in ascending order — the
// invariant the recovery scan depends on (§4.2).
func (pl *PageLayer) Write(fileID uint8, logical, offset int, data []byte) defs.Err_t {
	if offset+len(data) > PageDataSize {
		return defs.EBOUNDS
	}
	if _, err := pl.physicalBlockFor(fileID, logical, true); err != defs.EOK {
		return err
	}
	e, err := pl.findOrLoad(fileID, logical)
	if err != defs.EOK {
		return err
	}

	pl.mu.Lock()
	n := copy(e.data[offset:], data)
	if offset+n > e.length {
		e.length = offset + n
	}
	e.dirty = true
	full := e.length == PageDataSize
	pl.mu.Unlock()

	if full {
		return pl.flushEntry(e)
	}
	return defs.EOK
}

// flushEntry writes a dirty cache entry to flash: finds a free physical
// slot in the owning block (replacing the block if none remain), writes
// the page, and updates the index, per §4.2.
func (pl *PageLayer) flushEntry(e *cacheEntry) defs.Err_t {
	pl.mu.Lock()
	if !e.valid || !e.dirty {
		pl.mu.Unlock()
		return defs.EOK
	}
	fileID, logical, length := e.key.fileID, e.key.logical, e.length
	data := make([]byte, length)
	copy(data, e.data[:length])
	pl.mu.Unlock()

	block, err := pl.physicalBlockFor(fileID, logical, false)
	if err != defs.EOK {
		return err
	}

	var writeErr defs.Err_t
	for attempt := 0; attempt < IOAttempts; attempt++ {
		index, ierr := pl.bl.ReadIndex(block)
		if ierr != defs.EOK {
			writeErr = ierr
			continue
		}
		slot, ok := findFreeSlot(index)
		if !ok {
			nb, rerr := pl.replaceBlock(fileID, block)
			if rerr != defs.EOK {
				writeErr = rerr
				continue
			}
			block = nb
			continue
		}
		if werr := pl.bl.WritePhysPage(block, slot, data); werr != defs.EOK {
			writeErr = werr
			continue
		}
		if serr := pl.bl.SetIndexEntry(block, slot, logicalInBlock(logical)); serr != defs.EOK {
			writeErr = serr
			continue
		}
		pl.mu.Lock()
		e.dirty = false
		pl.mu.Unlock()
		return defs.EOK
	}
	return writeErr
}

// replaceBlock allocates a fresh block, copies old's logical pages into it
// in ascending order with an incremented sequence, marks old dirty, and
// returns the new block id.
func (pl *PageLayer) replaceBlock(fileID uint8, old uint32) (uint32, defs.Err_t) {
	oldMeta, merr := pl.bl.ReadMeta(old)
	if merr != defs.EOK {
		return 0, merr
	}
	index, ierr := pl.bl.ReadIndex(old)
	if ierr != defs.EOK {
		return 0, ierr
	}

	// Reconcile current logical->physical mapping (last writer wins).
	latest := make(map[uint8]int)
	for slot, rel := range index {
		if rel == unusedIndexSlot {
			continue
		}
		latest[rel] = slot
	}
	rels := make([]uint8, 0, len(latest))
	for r := range latest {
		rels = append(rels, r)
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i] < rels[j] })

	nb, ok := pl.bl.AllocBlock()
	if !ok {
		return 0, defs.ENOSPACE
	}
	seq := oldMeta.Sequence + 1
	if err := pl.bl.FinalizeBlock(nb, fileID, oldMeta.BlockSeq, seq); err != defs.EOK {
		return 0, err
	}

	for newSlot, rel := range rels {
		_, data, rerr := pl.bl.ReadPhysPage(old, latest[rel])
		if rerr != defs.EOK {
			return 0, rerr
		}
		if werr := pl.bl.WritePhysPage(nb, newSlot, data); werr != defs.EOK {
			return 0, werr
		}
		if serr := pl.bl.SetIndexEntry(nb, newSlot, rel); serr != defs.EOK {
			return 0, serr
		}
	}

	pl.bl.MarkDirty(old)
	return nb, defs.EOK
}

// FlushAll flushes every dirty cached page of fileID in ascending logical
// order, as required by §4.2's cache-flusher discipline. Only one flush
// runs at a time (flushBusy guard).
func (pl *PageLayer) FlushAll(fileID uint8) defs.Err_t {
	pl.mu.Lock()
	if pl.flushBusy {
		pl.mu.Unlock()
		return defs.EOK
	}
	pl.flushBusy = true
	pl.mu.Unlock()
	defer func() {
		pl.mu.Lock()
		pl.flushBusy = false
		pl.mu.Unlock()
	}()

	var entries []*cacheEntry
	pl.mu.Lock()
	for i := range pl.cache {
		e := &pl.cache[i]
		if e.valid && e.dirty && e.key.fileID == fileID {
			entries = append(entries, e)
		}
	}
	pl.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].key.logical < entries[j].key.logical })

	for _, e := range entries {
		if err := pl.flushEntry(e); err != defs.EOK {
			return err
		}
	}
	return defs.EOK
}

// FlushCache flushes every dirty page of every file, in per-file ascending
// order. Driven by the 1 Hz background thread (internal/ffs/bg.go).
func (pl *PageLayer) FlushCache() defs.Err_t {
	pl.mu.Lock()
	files := make(map[uint8]bool)
	for i := range pl.cache {
		if pl.cache[i].valid && pl.cache[i].dirty {
			files[pl.cache[i].key.fileID] = true
		}
	}
	pl.mu.Unlock()

	for fileID := range files {
		if err := pl.FlushAll(fileID); err != defs.EOK {
			return err
		}
	}
	return defs.EOK
}

// DeleteFile marks every block owned by fileID dirty and purges any cached
// pages belonging to it.
func (pl *PageLayer) DeleteFile(fileID uint8) defs.Err_t {
	pl.mu.Lock()
	for i := range pl.cache {
		if pl.cache[i].valid && pl.cache[i].key.fileID == fileID {
			pl.cache[i] = cacheEntry{}
		}
	}
	pl.mu.Unlock()

	for _, b := range pl.bl.FileBlocks(fileID) {
		if err := pl.bl.MarkDirty(b); err != defs.EOK {
			return err
		}
	}
	return defs.EOK
}
