package vm

// Storage pool ids, per spec.md §4.5 "Storage pools". LOCAL pools are
// allocated dynamically, one per live call-frame, starting at PoolLocal.
const (
	PoolGlobal         = 0
	PoolPixelArray     = 1
	PoolStringLiterals = 2
	PoolFunctions      = 3
	PoolLocal          = 4
	nStaticPools       = 4
)

// Ref is a 32-bit packed storage reference: 8 bits of pool id, 16 bits of
// address, 8 bits of index (the index's meaning is pool-specific — the
// pixel pool uses it to select an attribute). Packed low-to-high as
// pool | addr<<8 | index<<24, matching the little-endian word layout the
// rest of the image uses.
type Ref uint32

// PackRef assembles a Ref from its three fields.
func PackRef(pool uint8, addr uint16, index uint8) Ref {
	return Ref(uint32(pool) | uint32(addr)<<8 | uint32(index)<<24)
}

func (r Ref) Pool() uint8   { return uint8(r) }
func (r Ref) Addr() uint16  { return uint16(r >> 8) }
func (r Ref) Index() uint8  { return uint8(r >> 24) }

// WithAddr returns a copy of r with its address field replaced, the
// operation lookup1/2/3 perform to fold an index*stride offset into a
// base reference.
func (r Ref) WithAddr(addr uint16) Ref {
	return PackRef(r.Pool(), addr, r.Index())
}

// PixelIndex is a 32-bit packed value addressing one pixel in the master
// array plus an attribute selector, per spec.md §3 "Pixel index": 16
// bits of pixel index, 8 bits of attribute tag, 8 bits reserved.
type PixelIndex uint32

func PackPixelIndex(index uint16, attr uint8) PixelIndex {
	return PixelIndex(uint32(index) | uint32(attr)<<16)
}

func (p PixelIndex) Index() uint16 { return uint16(p) }
func (p PixelIndex) Attr() uint8   { return uint8(p >> 16) }

// PixelAttr enumerates the per-pixel attribute tags a PixelIndex or
// gfx array opcode selects, per spec.md §4.7.
type PixelAttr uint8

const (
	AttrHue PixelAttr = iota
	AttrSat
	AttrVal
	AttrHSFade
	AttrVFade
)
