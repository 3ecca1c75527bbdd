package vm

import (
	"sapphire/internal/defs"
	"sapphire/internal/util"
)

// ISAVersion is the interpreter's compiled instruction-set version; a
// program image whose header claims any other value is rejected at
// load, per spec.md §3 "Invariants" and §6.2.
const ISAVersion = 13

// Magic values, bit-exact with spec.md §6.2 (ASCII read little-endian,
// matching the original firmware's FILE_MAGIC/PROGRAM_MAGIC/etc.).
const (
	fileMagic = 0x20205846 // 'FX  '
	progMagic = 0x474f5250 // 'PROG'
	codeMagic = 0x45444f43 // 'CODE'
	poolMagic = 0x4c4f4f50 // 'POOL'
	metaMagic = 0x4154454d // 'META'
)

// FuncInfo is one function-table entry: {pc, frame_size, context_size}.
type FuncInfo struct {
	PC           uint16
	FrameSize    uint16
	ContextSize  uint16
}

// PixelArrayDesc describes one pixel array installed at VM load, per
// spec.md §3 "Pixel arrays". Count is the number of pixels; Index is the
// master-array offset the array starts at.
type PixelArrayDesc struct {
	Count     uint16
	Index     uint16
	Mirror    bool
	Offset    uint16
	Palette   uint8
	Reverse   bool
	SizeX     uint16
	SizeY     uint16
}

// PublishEntry binds a KVDB hash to a VM global-data address, imported
// before and exported after every run, per spec.md §3 "Publish table".
type PublishEntry struct {
	Hash  uint32
	Addr  uint16
	Type  uint8
	Flags uint8
}

// LinkSpec is a narrow description of a Catbus link, carried through the
// image but never interpreted by the VM itself (spec.md's Non-goals
// exclude the link wire protocol; §6's catbus collaborator owns it).
type LinkSpec struct {
	Mode        uint8
	Aggregation uint8
	Rate        uint16
	SourceHash  uint32
	DestHash    uint32
	Tag         uint32
}

// DbEntry is a KVDB entry the VM owns and materializes on load, per
// spec.md §3 "DB table".
type DbEntry struct {
	Hash  uint32
	Type  uint8
	Count uint16
	Tag   uint8
}

// CronEntry is a scheduled-function entry, per spec.md §3 "Cron table".
type CronEntry struct {
	FuncAddr   uint16
	Seconds    int8
	Minutes    int8
	Hours      int8
	DayOfMonth int8
	DayOfWeek  int8
	Month      int8
	Run        bool
}

// ProgramType selects which opcode table a loaded image runs under.
type ProgramType uint8

const (
	// ProgramTypeStandard is the full FX-VM ISA.
	ProgramTypeStandard ProgramType = 0
	// ProgramTypeAutomaton is the automaton rule engine's narrower
	// condition/action ISA (lib_chromatron/automaton.c), folded into the
	// interpreter as a second program type per spec.md §9's Open Question:
	// same dispatch loop and storage pools as ProgramTypeStandard, but
	// restricted to the opcode subset a condition/action rule can express
	// (comparisons, booleans, branches, pixel-attribute stores, halt).
	ProgramTypeAutomaton ProgramType = 1
)

// Image is a fully parsed, validated VM program, ready to be loaded into
// a Vm_t. StringPool and Code are copies; the Image does not alias the
// original image buffer.
type Image struct {
	ProgramNameHash uint32
	ProgramType     ProgramType

	FuncTable   []FuncInfo
	PixelArrays []PixelArrayDesc
	Publish     []PublishEntry
	Links       []LinkSpec
	DB          []DbEntry
	Cron        []CronEntry

	ConstantPool []int32
	StringPool   []byte
	Code         []byte

	LocalDataLen   int
	GlobalDataLen  int
	MaxContextSize int

	InitPC uint16
	LoopPC uint16
}

func align4(n int) bool { return n%4 == 0 }

// ParseImage validates and decodes a program image per spec.md §6.2: a
// fixed header, six variable-length tables, a POOL-gated constant
// pool, a string-literal pool, a CODE-gated code stream, and a trailing
// CRC32 over everything that precedes it.
func ParseImage(buf []byte) (*Image, defs.Err_t) {
	// Structural floor: header + POOL magic + CODE magic + trailing CRC,
	// even for a program with every variable-length section empty.
	const minImageLen = 44 + 4 + 4 + 4
	if len(buf) < minImageLen {
		return nil, defs.EBADMAGIC
	}
	off := 0
	if uint32(util.Readn(buf, 4, off)) != fileMagic {
		return nil, defs.EBADMAGIC
	}
	off += 4
	if uint32(util.Readn(buf, 4, off)) != progMagic {
		return nil, defs.EBADMAGIC
	}
	off += 4
	isaVersion := uint16(util.Readn(buf, 2, off))
	off += 2
	if isaVersion != ISAVersion {
		return nil, defs.EBADISA
	}
	programNameHash := uint32(util.Readn(buf, 4, off))
	off += 4

	readU16 := func() uint16 {
		v := uint16(util.Readn(buf, 2, off))
		off += 2
		return v
	}
	funcInfoLen := readU16()
	pixObjLen := readU16()
	publishLen := readU16()
	linkLen := readU16()
	dbLen := readU16()
	cronLen := readU16()
	constantLen := readU16()
	stringLen := readU16()
	codeLen := readU16()
	localDataLen := readU16()
	globalDataLen := readU16()
	maxContextLen := readU16()
	initStart := readU16()
	loopStart := readU16()
	programType := ProgramType(buf[off])
	off += 2 // 1 byte program type + 1 byte reserved, bringing the header to a 4-byte boundary

	if !align4(off) {
		return nil, defs.EMISALIGN
	}
	if programType != ProgramTypeStandard && programType != ProgramTypeAutomaton {
		return nil, defs.EBADISA
	}

	img := &Image{
		ProgramNameHash: programNameHash,
		ProgramType:     programType,
		LocalDataLen:    int(localDataLen),
		GlobalDataLen:   int(globalDataLen),
		MaxContextSize:  int(maxContextLen),
		InitPC:          initStart,
		LoopPC:          loopStart,
	}

	funcInfoEnd := off + int(funcInfoLen)
	for p := off; p+6 <= funcInfoEnd; p += 6 {
		img.FuncTable = append(img.FuncTable, FuncInfo{
			PC:          uint16(util.Readn(buf, 2, p)),
			FrameSize:   uint16(util.Readn(buf, 2, p+2)),
			ContextSize: uint16(util.Readn(buf, 2, p+4)),
		})
	}
	off = funcInfoEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	pixEnd := off + int(pixObjLen)
	for p := off; p+12 <= pixEnd; p += 12 {
		flags := buf[p+4]
		img.PixelArrays = append(img.PixelArrays, PixelArrayDesc{
			Count:   uint16(util.Readn(buf, 2, p)),
			Index:   uint16(util.Readn(buf, 2, p+2)),
			Mirror:  flags&0x1 != 0,
			Reverse: flags&0x2 != 0,
			Offset:  uint16(util.Readn(buf, 2, p+6)),
			Palette: buf[p+5],
			SizeX:   uint16(util.Readn(buf, 2, p+8)),
			SizeY:   uint16(util.Readn(buf, 2, p+10)),
		})
	}
	off = pixEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	pubEnd := off + int(publishLen)
	for p := off; p+8 <= pubEnd; p += 8 {
		img.Publish = append(img.Publish, PublishEntry{
			Hash:  uint32(util.Readn(buf, 4, p)),
			Addr:  uint16(util.Readn(buf, 2, p+4)),
			Type:  buf[p+6],
			Flags: buf[p+7],
		})
	}
	off = pubEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	linkEnd := off + int(linkLen)
	for p := off; p+16 <= linkEnd; p += 16 {
		img.Links = append(img.Links, LinkSpec{
			Mode:        buf[p],
			Aggregation: buf[p+1],
			Rate:        uint16(util.Readn(buf, 2, p+2)),
			SourceHash:  uint32(util.Readn(buf, 4, p+4)),
			DestHash:    uint32(util.Readn(buf, 4, p+8)),
			Tag:         uint32(util.Readn(buf, 4, p+12)),
		})
	}
	off = linkEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	dbEnd := off + int(dbLen)
	for p := off; p+8 <= dbEnd; p += 8 {
		img.DB = append(img.DB, DbEntry{
			Hash:  uint32(util.Readn(buf, 4, p)),
			Type:  buf[p+4],
			Count: uint16(util.Readn(buf, 2, p+5)),
			Tag:   buf[p+7],
		})
	}
	off = dbEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	cronEnd := off + int(cronLen)
	for p := off; p+8 <= cronEnd; p += 8 {
		img.Cron = append(img.Cron, CronEntry{
			FuncAddr:   uint16(util.Readn(buf, 2, p)),
			Seconds:    int8(buf[p+2]),
			Minutes:    int8(buf[p+3]),
			Hours:      int8(buf[p+4]),
			DayOfMonth: int8(buf[p+5]),
			DayOfWeek:  int8(buf[p+6]),
			// Month has no byte in the compact 8-byte on-disk record -- every
			// cron entry this format can express already wildcards it, so
			// default it to the wildcard sentinel rather than the zero value,
			// which would otherwise read as "January only" and never fire.
			Month: -1,
			Run:   buf[p+7] != 0,
		})
	}
	off = cronEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	if uint32(util.Readn(buf, 4, off)) != poolMagic {
		return nil, defs.EBADMAGIC
	}
	off += 4
	poolEnd := off + int(constantLen)
	for p := off; p+4 <= poolEnd; p += 4 {
		img.ConstantPool = append(img.ConstantPool, int32(util.Readn(buf, 4, p)))
	}
	off = poolEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	strEnd := off + int(stringLen)
	img.StringPool = append([]byte(nil), buf[off:strEnd]...)
	off = strEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	if uint32(util.Readn(buf, 4, off)) != codeMagic {
		return nil, defs.EBADMAGIC
	}
	off += 4
	codeEnd := off + int(codeLen)
	img.Code = append([]byte(nil), buf[off:codeEnd]...)
	off = codeEnd
	if !align4(off) {
		return nil, defs.EMISALIGN
	}

	if off+4 > len(buf) {
		return nil, defs.EBADHASH
	}
	wantHash := uint32(util.Readn(buf, 4, len(buf)-4))
	crc := util.NewStreamCRC32()
	crc.Write(buf[:len(buf)-4])
	if crc.Sum32() != wantHash {
		return nil, defs.EBADHASH
	}

	return img, defs.EOK
}
