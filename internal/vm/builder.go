package vm

import "sapphire/internal/util"

// Builder assembles a program image byte-for-byte per spec.md §6.2. It
// exists so tests (and eventually a host-side compiler) can construct
// images without hand-rolling the header arithmetic; the VM itself only
// ever consumes images through ParseImage.
type Builder struct {
	funcTable   []FuncInfo
	pixelArrays []PixelArrayDesc
	publish     []PublishEntry
	links       []LinkSpec
	db          []DbEntry
	cron        []CronEntry

	constantPool []int32
	stringPool   []byte
	code         []byte

	localDataLen, globalDataLen, maxContextLen int
	initPC, loopPC                             uint16
	programNameHash                            uint32
	programType                                ProgramType
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) SetEntryPoints(initPC, loopPC uint16) *Builder {
	b.initPC, b.loopPC = initPC, loopPC
	return b
}

func (b *Builder) SetProgramName(hash uint32) *Builder {
	b.programNameHash = hash
	return b
}

// SetProgramType selects the opcode table this image's code runs under
// (ProgramTypeStandard by default). Used by automaton-origin programs.
func (b *Builder) SetProgramType(t ProgramType) *Builder {
	b.programType = t
	return b
}

func (b *Builder) SetDataLens(local, global, maxContext int) *Builder {
	b.localDataLen, b.globalDataLen, b.maxContextLen = local, global, maxContext
	return b
}

func (b *Builder) AddFunc(pc, frameSize, contextSize uint16) int {
	b.funcTable = append(b.funcTable, FuncInfo{PC: pc, FrameSize: frameSize, ContextSize: contextSize})
	return len(b.funcTable) - 1
}

func (b *Builder) AddPublish(hash uint32, addr uint16, typ uint8) {
	b.publish = append(b.publish, PublishEntry{Hash: hash, Addr: addr, Type: typ})
}

func (b *Builder) AddDB(hash uint32, typ uint8, count uint16, tag uint8) {
	b.db = append(b.db, DbEntry{Hash: hash, Type: typ, Count: count, Tag: tag})
}

func (b *Builder) SetCode(code []byte) { b.code = code }

func (b *Builder) AddConstant(v int32) int {
	b.constantPool = append(b.constantPool, v)
	return len(b.constantPool) - 1
}

func put16(buf []byte, off int, v uint16) { util.Writen(buf, 2, off, int(v)) }
func put32(buf []byte, off int, v uint32) { util.Writen(buf, 4, off, int(v)) }

func padTo4(buf []byte) []byte {
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// Build assembles the final byte stream, computing every length field
// and the trailing CRC32, per spec.md §6.2.
func (b *Builder) Build() []byte {
	funcBytes := make([]byte, 0, len(b.funcTable)*6)
	for _, f := range b.funcTable {
		rec := make([]byte, 6)
		put16(rec, 0, f.PC)
		put16(rec, 2, f.FrameSize)
		put16(rec, 4, f.ContextSize)
		funcBytes = append(funcBytes, rec...)
	}
	funcBytes = padTo4(funcBytes)

	pixBytes := make([]byte, 0, len(b.pixelArrays)*12)
	for _, p := range b.pixelArrays {
		rec := make([]byte, 12)
		put16(rec, 0, p.Count)
		put16(rec, 2, p.Index)
		flags := uint8(0)
		if p.Mirror {
			flags |= 0x1
		}
		if p.Reverse {
			flags |= 0x2
		}
		rec[4] = flags
		rec[5] = p.Palette
		put16(rec, 6, p.Offset)
		put16(rec, 8, p.SizeX)
		put16(rec, 10, p.SizeY)
		pixBytes = append(pixBytes, rec...)
	}
	pixBytes = padTo4(pixBytes)

	pubBytes := make([]byte, 0, len(b.publish)*8)
	for _, p := range b.publish {
		rec := make([]byte, 8)
		put32(rec, 0, p.Hash)
		put16(rec, 4, p.Addr)
		rec[6] = p.Type
		rec[7] = p.Flags
		pubBytes = append(pubBytes, rec...)
	}
	pubBytes = padTo4(pubBytes)

	linkBytes := make([]byte, 0, len(b.links)*16)
	for _, l := range b.links {
		rec := make([]byte, 16)
		rec[0] = l.Mode
		rec[1] = l.Aggregation
		put16(rec, 2, l.Rate)
		put32(rec, 4, l.SourceHash)
		put32(rec, 8, l.DestHash)
		put32(rec, 12, l.Tag)
		linkBytes = append(linkBytes, rec...)
	}
	linkBytes = padTo4(linkBytes)

	dbBytes := make([]byte, 0, len(b.db)*8)
	for _, d := range b.db {
		rec := make([]byte, 8)
		put32(rec, 0, d.Hash)
		rec[4] = d.Type
		put16(rec, 5, d.Count)
		rec[7] = d.Tag
		dbBytes = append(dbBytes, rec...)
	}
	dbBytes = padTo4(dbBytes)

	cronBytes := make([]byte, 0, len(b.cron)*8)
	for _, c := range b.cron {
		rec := make([]byte, 8)
		put16(rec, 0, c.FuncAddr)
		rec[2] = uint8(c.Seconds)
		rec[3] = uint8(c.Minutes)
		rec[4] = uint8(c.Hours)
		rec[5] = uint8(c.DayOfMonth)
		rec[6] = uint8(c.DayOfWeek)
		if c.Run {
			rec[7] = 1
		}
		cronBytes = append(cronBytes, rec...)
	}
	cronBytes = padTo4(cronBytes)

	constBytes := make([]byte, 0, len(b.constantPool)*4)
	for _, v := range b.constantPool {
		rec := make([]byte, 4)
		put32(rec, 0, uint32(v))
		constBytes = append(constBytes, rec...)
	}
	constBytes = padTo4(constBytes)

	strBytes := padTo4(append([]byte(nil), b.stringPool...))
	codeBytes := padTo4(append([]byte(nil), b.code...))

	header := make([]byte, 44) // 43 bytes of fields (program type at 42) + 1 byte reserved padding
	put32(header, 0, fileMagic)
	put32(header, 4, progMagic)
	put16(header, 8, ISAVersion)
	put32(header, 10, b.programNameHash)
	put16(header, 14, uint16(len(funcBytes)))
	put16(header, 16, uint16(len(pixBytes)))
	put16(header, 18, uint16(len(pubBytes)))
	put16(header, 20, uint16(len(linkBytes)))
	put16(header, 22, uint16(len(dbBytes)))
	put16(header, 24, uint16(len(cronBytes)))
	put16(header, 26, uint16(len(constBytes)))
	put16(header, 28, uint16(len(strBytes)))
	put16(header, 30, uint16(len(codeBytes)))
	put16(header, 32, uint16(b.localDataLen))
	put16(header, 34, uint16(b.globalDataLen))
	put16(header, 36, uint16(b.maxContextLen))
	put16(header, 38, b.initPC)
	put16(header, 40, b.loopPC)
	header[42] = byte(b.programType)
	// byte 43 reserved/padding to keep the header a multiple of 4.

	out := make([]byte, 0, 256)
	out = append(out, header...)
	out = append(out, funcBytes...)
	out = append(out, pixBytes...)
	out = append(out, pubBytes...)
	out = append(out, linkBytes...)
	out = append(out, dbBytes...)
	out = append(out, cronBytes...)
	out = append(out, put32Magic(poolMagic)...)
	out = append(out, constBytes...)
	out = append(out, strBytes...)
	out = append(out, put32Magic(codeMagic)...)
	out = append(out, codeBytes...)

	crc := util.NewStreamCRC32()
	crc.Write(out)
	tail := make([]byte, 4)
	put32(tail, 0, crc.Sum32())
	out = append(out, tail...)
	return out
}

func put32Magic(m uint32) []byte {
	b := make([]byte, 4)
	put32(b, 0, m)
	return b
}
