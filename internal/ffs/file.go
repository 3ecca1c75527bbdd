package ffs

import (
	"sync"

	"sapphire/internal/defs"
)

// Reserved page layout within a normal (non-firmware) file, per spec.md
// §3 "File (FlashFS)": page 0 holds the filename, page 1 is reserved for
// future metadata, pages 2.. carry user data.
const (
	metaPage0    = 0
	metaPage1    = 1
	firstDataPg  = 2
	maxFilename  = 32
)

// Firmware partition file ids. They are files by identity — they occupy
// slots in the same id space — but bypass the page layer and map to raw
// contiguous flash regions (§3 "the two firmware partitions").
const (
	Firmware0 uint8 = 0
	Firmware1 uint8 = 1
	firstUser uint8 = 2
)

// FileLayer implements named files over a PageLayer, per spec.md §4.3.
type FileLayer struct {
	mu sync.Mutex

	pl       *PageLayer
	bl       *BlockLayer
	maxFiles int

	names map[string]uint8 // filename -> file id, rebuilt at mount
	used  map[uint8]bool
	size  map[uint8]int // cached file size in bytes
}

// NewFileLayer constructs a FileLayer.
func NewFileLayer(pl *PageLayer, bl *BlockLayer, maxFiles int) *FileLayer {
	return &FileLayer{
		pl: pl, bl: bl, maxFiles: maxFiles,
		names: make(map[string]uint8),
		used:  make(map[uint8]bool),
		size:  make(map[uint8]int),
	}
}

// Rebuild reconstructs the filename directory and cached sizes from the
// block layer's per-file block lists, after Mount. Firmware partitions
// are always considered present.
func (fl *FileLayer) Rebuild() defs.Err_t {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.names = make(map[string]uint8)
	fl.used = make(map[uint8]bool)
	fl.size = make(map[uint8]int)
	fl.used[Firmware0] = true
	fl.used[Firmware1] = true

	for fid := firstUser; int(fid) < fl.maxFiles; fid++ {
		blocks := fl.bl.FileBlocks(fid)
		if len(blocks) == 0 {
			continue
		}
		fl.used[fid] = true
		name, sz, err := fl.readMetaAndSize(fid, len(blocks))
		if err != defs.EOK {
			continue
		}
		fl.names[name] = fid
		fl.size[fid] = sz
	}
	return defs.EOK
}

func (fl *FileLayer) readMetaAndSize(fid uint8, blockCount int) (string, int, defs.Err_t) {
	fl.mu.Unlock()
	raw, err := fl.pl.Read(fid, metaPage0)
	fl.mu.Lock()
	if err != defs.EOK {
		return "", 0, err
	}
	name := decodeFilename(raw)

	dataPages := blockCount*DataPagesPerBlock - 2
	if dataPages < 0 {
		dataPages = 0
	}
	size := 0
	for pg := firstDataPg + dataPages - 1; pg >= firstDataPg; pg-- {
		fl.mu.Unlock()
		data, lerr := fl.pl.Read(fid, pg)
		fl.mu.Lock()
		if lerr != defs.EOK {
			break
		}
		if len(data) > 0 {
			size = (pg-firstDataPg)*PageDataSize + len(data)
			break
		}
	}
	return name, size, defs.EOK
}

func decodeFilename(raw []byte) string {
	n := 0
	for n < len(raw) && n < maxFilename && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

func encodeFilename(name string) []byte {
	if len(name) > maxFilename {
		name = name[:maxFilename]
	}
	buf := make([]byte, maxFilename)
	copy(buf, name)
	return buf
}

// Create allocates a fresh file id and writes its filename metadata page.
func (fl *FileLayer) Create(name string) (uint8, defs.Err_t) {
	fl.mu.Lock()
	if _, exists := fl.names[name]; exists {
		fl.mu.Unlock()
		return 0, defs.EEXIST
	}
	var fid uint8
	found := false
	for f := firstUser; int(f) < fl.maxFiles; f++ {
		if !fl.used[f] {
			fid = f
			found = true
			break
		}
	}
	if !found {
		fl.mu.Unlock()
		return 0, defs.ENOSPACE
	}
	fl.used[fid] = true
	fl.mu.Unlock()

	if err := fl.pl.Write(fid, metaPage0, 0, encodeFilename(name)); err != defs.EOK {
		return 0, err
	}
	if err := fl.pl.FlushAll(fid); err != defs.EOK {
		return 0, err
	}

	fl.mu.Lock()
	fl.names[name] = fid
	fl.size[fid] = 0
	fl.mu.Unlock()
	return fid, defs.EOK
}

// Lookup returns the file id for name.
func (fl *FileLayer) Lookup(name string) (uint8, defs.Err_t) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fid, ok := fl.names[name]
	if !ok {
		return 0, defs.ENOENT
	}
	return fid, defs.EOK
}

// Size returns the file's stored size in bytes.
func (fl *FileLayer) Size(fid uint8) int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.size[fid]
}

// Names returns every known filename (firmware partitions excluded; they
// have no names in the directory).
func (fl *FileLayer) Names() []string {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	out := make([]string, 0, len(fl.names))
	for n := range fl.names {
		out = append(out, n)
	}
	return out
}

// FileCount returns the number of files, including the two firmware
// partitions — matches ffs_u32_get_file_count's baseline of 2 on a fresh
// format (scenario 1 in spec.md §8).
func (fl *FileLayer) FileCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	n := 0
	for _, ok := range fl.used {
		if ok {
			n++
		}
	}
	return n
}

// Unlink deletes a file: walks its block list and marks every block dirty.
func (fl *FileLayer) Unlink(name string) defs.Err_t {
	fl.mu.Lock()
	fid, ok := fl.names[name]
	if !ok {
		fl.mu.Unlock()
		return defs.ENOENT
	}
	delete(fl.names, name)
	delete(fl.used, fid)
	delete(fl.size, fid)
	fl.mu.Unlock()

	return fl.pl.DeleteFile(fid)
}

func dataPageOf(offset int) (page int, inPage int) {
	return firstDataPg + offset/PageDataSize, offset % PageDataSize
}

// ReadAt reads up to len(buf) bytes starting at offset, bounded by the
// file's stored size, and returns the number of bytes actually read.
func (fl *FileLayer) ReadAt(fid uint8, offset int, buf []byte) (int, defs.Err_t) {
	size := fl.Size(fid)
	if offset >= size {
		return 0, defs.EOK
	}
	n := len(buf)
	if offset+n > size {
		n = size - offset
	}
	got := 0
	for got < n {
		page, inPage := dataPageOf(offset + got)
		data, err := fl.pl.Read(fid, page)
		if err != defs.EOK {
			return got, err
		}
		avail := len(data) - inPage
		if avail <= 0 {
			break
		}
		take := n - got
		if take > avail {
			take = avail
		}
		copy(buf[got:got+take], data[inPage:inPage+take])
		got += take
	}
	return got, defs.EOK
}

// WriteAt writes buf at offset, extending the file's stored size as
// needed. Pages go through the page layer, which flushes a page once it
// is full; a final partial page stays dirty in the cache until Sync or
// eviction (append-order invariant lives in the page layer; WriteAt only
// updates size bookkeeping here).
func (fl *FileLayer) WriteAt(fid uint8, offset int, buf []byte) (int, defs.Err_t) {
	written := 0
	for written < len(buf) {
		page, inPage := dataPageOf(offset + written)
		take := PageDataSize - inPage
		if take > len(buf)-written {
			take = len(buf) - written
		}
		if err := fl.pl.Write(fid, page, inPage, buf[written:written+take]); err != defs.EOK {
			return written, err
		}
		written += take
	}
	fl.mu.Lock()
	if end := offset + written; end > fl.size[fid] {
		fl.size[fid] = end
	}
	fl.mu.Unlock()
	return written, defs.EOK
}

// Append writes buf at the current end of file and returns the new size.
func (fl *FileLayer) Append(fid uint8, buf []byte) (int, defs.Err_t) {
	off := fl.Size(fid)
	n, err := fl.WriteAt(fid, off, buf)
	if err != defs.EOK {
		return n, err
	}
	return off + n, defs.EOK
}

// Sync flushes every dirty cached page of fid to flash.
func (fl *FileLayer) Sync(fid uint8) defs.Err_t {
	return fl.pl.FlushAll(fid)
}
