package vm

import (
	"io"

	"sapphire/internal/defs"
	"sapphire/internal/kvdb"
)

// Per spec.md §3 "Invariants": a fixed thread table, a bounded call-depth
// stack, and a cycle budget that forces a cooperative yield back to the
// scheduler. The constants below are the Go runtime's chosen bounds for
// those invariants (the retrieved firmware source configures them at build time and the exact numbers
// were not present in the snippet this module was grounded on).
const (
	MaxThreads       = 8
	MaxCallDepth      = 8
	DefaultMaxCycles = 32000
	wordSize         = 4

	// DefaultFramePeriodMs is the pixel-frame period the loop thread
	// advances loop_tick by each time it fires (spec.md §4.6), matching
	// config.GfxConfig's default frame_period_ms until a host overrides
	// it with SetFramePeriod.
	DefaultFramePeriodMs = 20
)

// ThreadState is one cooperative thread's saved resumption point, mirroring
// vm_thread_t: a function to re-enter, a byte offset within it, and the
// tick it last ran at.
type ThreadState struct {
	Active   bool
	FuncAddr uint16
	PCOffset uint16
	Tick     uint64
}

// frame is one live call-stack entry: where this frame's local registers
// start, how many words they occupy, and where to resume the caller.
type frame struct {
	base       int
	returnPC   int
	frameWords int
	funcIdx    int
}

// pixelAttrs holds the five attribute words FX-VM exposes per pixel, per
// spec.md §4.7. This is FX-VM's own narrow view of a pixel — the richer
// rendering semantics (noise, easing, color space conversion) belong to
// the gfx collaborator, not the interpreter.
type pixelAttrs struct {
	hue    uint16
	sat    uint16
	val    uint16
	hsFade uint16
	vFade  uint16
}

// GfxLib is the narrow contract FX-VM uses to reach the graphics
// collaborator for library calls it does not implement itself (urand,
// noise, sine/cosine/triangle, draw_3d, map_3d...), per spec.md §4.7. With
// a nil GfxLib, every pixcall and every lcall callBuiltin does not handle
// itself fails with ETRAP rather than panic; dbcall does not use GfxLib.
type GfxLib interface {
	Call(name string, args []int32) (int32, defs.Err_t)
}

// Vm_t is one loaded program's full runtime state: storage pools, thread
// table, call stack, and cycle accounting. The zero value is not usable;
// construct with NewVm.
type Vm_t struct {
	img *Image

	global []byte
	pixels []pixelAttrs

	threads       [MaxThreads]ThreadState
	currentThread int

	locals    []byte
	callStack []frame
	pc        int
	jumped    bool

	tick          uint64
	loopTick      uint64
	framePeriodMs uint64
	rngSeed       uint64

	maxCycles uint32
	cycles    uint32

	returnVal int32
	db        *kvdb.Db

	Out io.Writer
	Lib GfxLib

	prof *Profiler
}

// AttachProfiler installs p so every dispatched instruction is recorded
// into its per-opcode cycle histogram. Pass nil to stop profiling.
func (v *Vm_t) AttachProfiler(p *Profiler) { v.prof = p }

// NewVm constructs a Vm_t ready to load img. pixelCount sizes the pixel
// attribute table (normally the sum of img.PixelArrays' Count fields, but
// callers may size it directly for tests). The VM Loader installs every
// DB and publish table entry into a fresh KVDB per spec.md §2, so dbcall
// and publish-in/out have somewhere real to read and write from the
// moment the image is loaded.
func NewVm(img *Image, pixelCount int) *Vm_t {
	v := &Vm_t{
		img:           img,
		global:        make([]byte, img.GlobalDataLen),
		pixels:        make([]pixelAttrs, pixelCount),
		locals:        make([]byte, 4096),
		db:            kvdb.New(),
		maxCycles:     DefaultMaxCycles,
		framePeriodMs: DefaultFramePeriodMs,
		rngSeed:       0x2545F4914F6CDD1D,
	}
	v.installDB()
	return v
}

// installDB materializes img.DB and img.Publish into v.db. Both tables
// carry only the declared variable's name hash (the build step that
// hashes a name never stores the string in the image), so entries are
// installed directly by hash via kvdb.Db.AddHash rather than through its
// name-based Add. A publish entry whose hash already has a DB-table
// entry shares it instead of getting a second, duplicate slot.
func (v *Vm_t) installDB() {
	for _, e := range v.img.DB {
		v.db.AddHash(e.Hash, kvdb.CatbusType(e.Type), e.Count, e.Tag)
	}
	for _, p := range v.img.Publish {
		if _, _, err := v.db.Type(p.Hash); err.Ok() {
			continue
		}
		v.db.AddHash(p.Hash, kvdb.CatbusType(p.Type), 1, 0)
	}
}

// SetMaxCycles overrides the cycle budget each entry run (init, loop, a
// thread or a cron entry) starts with, per spec.md's
// VM_MAX_CYCLES invariant.
func (v *Vm_t) SetMaxCycles(n uint32) { v.maxCycles = n }

// SetFramePeriod overrides the pixel-frame period loop_tick advances by
// each time the loop thread fires, per spec.md §4.6. Hosts source this
// from config.GfxConfig.FramePeriodMs.
func (v *Vm_t) SetFramePeriod(ms uint64) { v.framePeriodMs = ms }

// Db returns the VM's installed KVDB, letting a host read or write
// published variables directly — by name via Lookup/Get/Set, or by
// iterating Hashes() — alongside the program's own run_init/run_tick.
func (v *Vm_t) Db() *kvdb.Db { return v.db }

// ReturnVal exposes the VM's single return-value register, written by
// OpRet and read back by a caller via OpLoadRetVal or directly after a
// top-level Run.
func (v *Vm_t) ReturnVal() int32 { return v.returnVal }

// Global returns the raw global data pool, for publish import/export.
func (v *Vm_t) Global() []byte { return v.global }

// frameBase returns the word offset the innermost active frame's local
// storage starts at.
func (v *Vm_t) frameBase() int {
	if len(v.callStack) == 0 {
		return 0
	}
	return v.callStack[len(v.callStack)-1].base
}

func (v *Vm_t) ensureLocalCapacity(base, words int) {
	need := (base + words) * wordSize
	if need <= len(v.locals) {
		return
	}
	grown := make([]byte, need*2)
	copy(grown, v.locals)
	v.locals = grown
}

func (v *Vm_t) localSlot(word int) []byte {
	off := (v.frameBase() + word) * wordSize
	return v.locals[off : off+wordSize]
}
