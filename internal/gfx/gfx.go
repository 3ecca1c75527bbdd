// Package gfx implements the Graphics Buffer contract FX-VM's pixel
// opcodes address, per spec.md §4.7: pixel array lifecycle, index
// calculation honoring per-array and process-wide layout flags, per-pixel
// attribute get/set with fade-reset-on-write, bulk array mutation, and
// the gfx_lib_call dispatch for named helpers. HSV→RGB conversion and the
// fader/driver tick themselves are out of scope — those belong to an
// external pixel driver invoked outside the VM (spec.md §4.7's closing
// note on gfx_process_faders/gfx_sync_array).
package gfx

import "sapphire/internal/defs"

// Attr enumerates the per-pixel attribute tags, matching vm.PixelAttr's
// tag space one-for-one without importing the vm package — gfx is a
// narrow collaborator the VM calls into, not the other way around.
type Attr uint8

const (
	AttrHue Attr = iota
	AttrSat
	AttrVal
	AttrHSFade
	AttrVFade
)

// pixel holds one master-array pixel's attribute words.
type pixel struct {
	hue, sat, val, hsFade, vFade uint16
}

// ArrayDesc describes one installed pixel array's placement and layout,
// per spec.md §3 "Pixel arrays" / §4.7.
type ArrayDesc struct {
	Count   uint16
	Index   uint16 // offset into the master array this array starts at
	Mirror  bool
	Offset  uint16
	Palette uint8
	Reverse bool
	SizeX   uint16
	SizeY   uint16
}

// Buffer is the process-wide pixel master array plus the process-wide
// layout flags gfx_calc_index honors across every installed array.
type Buffer struct {
	pixels []pixel
	arrays []ArrayDesc
	rng    xorshift32

	InterleaveX bool
	InvertX     bool
	Transpose   bool
}

// NewBuffer returns an empty Buffer; call Init to install arrays.
func NewBuffer() *Buffer { return &Buffer{} }

// Init installs descs as the program's pixel arrays, sizing the master
// array to their combined Count, per gfx_pixel_array_init. Any existing
// state is discarded, matching the original's "init" (not "merge")
// semantics.
func (b *Buffer) Init(descs []ArrayDesc) defs.Err_t {
	total := 0
	for _, d := range descs {
		total += int(d.Count)
	}
	b.arrays = append([]ArrayDesc(nil), descs...)
	b.pixels = make([]pixel, total)
	return defs.EOK
}

// Teardown clears the installed arrays and master pixel buffer, per
// gfx_pixel_array_teardown, called on VM exit.
func (b *Buffer) Teardown() {
	b.arrays = nil
	b.pixels = nil
}

// PixelCount returns the master array's total pixel count.
func (b *Buffer) PixelCount() int { return len(b.pixels) }

// CalcIndex maps (x, y) within array arrayID to a master-array index, per
// gfx_calc_index: honors the array's own reverse/size_x/size_y, then the
// process-wide interleave_x/invert_x/transpose flags. y == 0xFFFF selects
// pure 1-D indexing (x is already the final in-array offset).
func (b *Buffer) CalcIndex(arrayID int, x, y uint16) (uint16, defs.Err_t) {
	if arrayID < 0 || arrayID >= len(b.arrays) {
		return 0, defs.EBOUNDS
	}
	a := b.arrays[arrayID]

	var local uint16
	if y == 0xFFFF {
		local = x
	} else {
		xx, yy := x, y
		if b.Transpose {
			xx, yy = yy, xx
		}
		if b.InvertX && a.SizeX > 0 {
			xx = a.SizeX - 1 - xx
		}
		if b.InterleaveX && yy%2 == 1 && a.SizeX > 0 {
			xx = a.SizeX - 1 - xx
		}
		if a.SizeX > 0 {
			local = yy*a.SizeX + xx
		} else {
			local = xx
		}
	}
	if a.Reverse && a.Count > 0 {
		local = a.Count - 1 - local
	}
	idx := a.Index + local
	if int(idx) >= len(b.pixels) {
		return 0, defs.EBOUNDS
	}
	return idx, defs.EOK
}

func (b *Buffer) slot(index uint16, attr Attr) (*uint16, defs.Err_t) {
	if int(index) >= len(b.pixels) {
		return nil, defs.EBOUNDS
	}
	p := &b.pixels[index]
	switch attr {
	case AttrHue:
		return &p.hue, defs.EOK
	case AttrSat:
		return &p.sat, defs.EOK
	case AttrVal:
		return &p.val, defs.EOK
	case AttrHSFade:
		return &p.hsFade, defs.EOK
	case AttrVFade:
		return &p.vFade, defs.EOK
	default:
		return nil, defs.EBADPOOL
	}
}

// Get1D reads a single pixel attribute, per gfx_get_*_1d.
func (b *Buffer) Get1D(attr Attr, index uint16) (uint16, defs.Err_t) {
	s, err := b.slot(index, attr)
	if !err.Ok() {
		return 0, err
	}
	return *s, defs.EOK
}

// Set1D writes a single pixel attribute, per gfx_set_*_1d, and resets the
// matching fade step: writing hue/sat/val directly cancels any in-flight
// fade toward the old target exactly as the original does, so the fader
// recomputes a fresh slope next tick.
func (b *Buffer) Set1D(attr Attr, value uint16, index uint16) defs.Err_t {
	s, err := b.slot(index, attr)
	if !err.Ok() {
		return err
	}
	*s = value
	if attr == AttrHue || attr == AttrSat || attr == AttrVal {
		switch attr {
		case AttrHue, AttrSat, AttrVal:
			if hs, e := b.slot(index, AttrHSFade); e.Ok() {
				*hs = 0
			}
			if v, e := b.slot(index, AttrVFade); e.Ok() {
				*v = 0
			}
		}
	}
	return defs.EOK
}

// ArrayOp names the bulk mutation gfx_array_* applies across an array's
// index range.
type ArrayOp int

const (
	ArrayMove ArrayOp = iota
	ArrayAdd
	ArraySub
	ArrayMul
	ArrayDiv
	ArrayMod
)

// Array applies op to every pixel in arrayID's index range (modulo the
// master pixel count), per gfx_array_{move,add,sub,mul,div,mod}. Hue
// wraps mod 65536; saturation/value/fade clamp to [0,65535].
func (b *Buffer) Array(arrayID int, attr Attr, op ArrayOp, value int32) defs.Err_t {
	if arrayID < 0 || arrayID >= len(b.arrays) {
		return defs.EBOUNDS
	}
	a := b.arrays[arrayID]
	n := len(b.pixels)
	if n == 0 {
		return defs.EOK
	}
	for i := 0; i < int(a.Count); i++ {
		idx := (int(a.Index) + i) % n
		s, err := b.slot(uint16(idx), attr)
		if !err.Ok() {
			return err
		}
		cur := int32(*s)
		var out int32
		switch op {
		case ArrayMove:
			out = value
		case ArrayAdd:
			out = cur + value
		case ArraySub:
			out = cur - value
		case ArrayMul:
			out = cur * value
		case ArrayDiv:
			if value == 0 {
				out = 0
			} else {
				out = cur / value
			}
		case ArrayMod:
			if value == 0 {
				out = 0
			} else {
				out = cur % value
			}
		}
		*s = clampAttr(attr, out)
	}
	return defs.EOK
}

func clampAttr(attr Attr, v int32) uint16 {
	if attr == AttrHue {
		m := v % 65536
		if m < 0 {
			m += 65536
		}
		return uint16(m)
	}
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
