package gfx

import "sapphire/internal/defs"

// libFuncs names the gfx_lib_call switch's recognized helpers, per
// spec.md §4.7. internal/vm's callBuiltin forwards any name it doesn't
// itself recognize (library-call names outside the rand/min/max/sum/avg
// family its lib.go owns) to the installed vm.GfxLib, which Buffer.Call
// implements.
var libFuncs = map[string]bool{
	"urand": true, "noise": true, "sine": true, "cosine": true, "triangle": true,
}

// xorshift32 is a small, allocation-free PRNG good enough for urand/noise
// — Sapphire's gfx layer has no need for a cryptographic generator, only
// a deterministic-given-seed one a test can reproduce.
type xorshift32 struct{ state uint32 }

func (x *xorshift32) next() uint32 {
	if x.state == 0 {
		x.state = 0x9e3779b9
	}
	x.state ^= x.state << 13
	x.state ^= x.state >> 17
	x.state ^= x.state << 5
	return x.state
}

// Call implements gfx_lib_call: a switch dispatch for named helpers,
// taking up to 3 i32 params and returning one i32, per spec.md §4.7. It
// satisfies the vm.GfxLib interface structurally (no import needed).
func (b *Buffer) Call(name string, args []int32) (int32, defs.Err_t) {
	switch name {
	case "urand":
		lo, hi := int32(0), int32(65535)
		if len(args) > 0 {
			lo = args[0]
		}
		if len(args) > 1 {
			hi = args[1]
		}
		if hi <= lo {
			return lo, defs.EOK
		}
		return lo + int32(b.rng.next()%uint32(hi-lo)), defs.EOK
	case "noise":
		return int32(b.rng.next() % 65536), defs.EOK
	case "sine":
		return waveform(arg0(args), sineTable), defs.EOK
	case "cosine":
		return waveform(arg0(args)+16384, sineTable), defs.EOK
	case "triangle":
		return triangleWave(arg0(args)), defs.EOK
	default:
		return 0, defs.ETRAP
	}
}

func arg0(args []int32) int32 {
	if len(args) == 0 {
		return 0
	}
	return args[0]
}

// triangleWave computes a 16-bit-phase triangle wave in [0,65536] without
// a lookup table: phase wraps mod 65536, the wave rises for the first
// half and falls for the second.
func triangleWave(phase int32) int32 {
	p := uint32(phase) % 65536
	if p < 32768 {
		return int32(p * 2)
	}
	return int32((65536 - p) * 2)
}

// sineTable is a quarter-wave, Q16-scaled sine lookup used by waveform to
// approximate sine/cosine without pulling in math.Sin for a 16-bit-phase
// signal — consistent with the embedded original's table-driven approach
// rather than floating point.
var sineTable = buildSineTable()

func buildSineTable() [16385]int32 {
	var t [16385]int32
	for i := range t {
		// Bhaskara I's sine approximation over the first quadrant, scaled
		// to [0,65535]; exact sine isn't required for a pixel-animation
		// waveform and this avoids importing math for one table.
		x := float64(i) / 16384.0 * 90.0
		t[i] = int32(bhaskaraSin(x) * 65535.0)
	}
	return t
}

// bhaskaraSin approximates sin(x) for x in degrees, x in [0,90]:
// sin(x) ≈ 16x(π−x) / (5π²−4x(π−x)), x and π in radians.
func bhaskaraSin(deg float64) float64 {
	rad := deg * 3.14159265358979 / 180.0
	pi := 3.14159265358979
	num := 16 * rad * (pi - rad)
	den := 5*pi*pi - 4*rad*(pi-rad)
	if den == 0 {
		return 0
	}
	return num / den
}

// waveform maps a 16-bit phase to a full-cycle value using the quarter
// sine table and quadrant symmetry.
func waveform(phase int32, table [16385]int32) int32 {
	p := uint32(phase) % 65536
	quadrant := p / 16384
	offset := p % 16384
	switch quadrant {
	case 0:
		return table[offset]
	case 1:
		return table[16384-offset]
	case 2:
		return -table[offset]
	default:
		return -table[16384-offset]
	}
}
