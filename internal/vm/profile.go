package vm

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
)

// Profiler accumulates a per-opcode cycle histogram while attached to a
// Vm_t (see Vm_t.AttachProfiler), and serializes it as a pprof profile so
// `sapphirectl vm profile` can hand the result straight to `go tool pprof`
// instead of inventing a bespoke report format.
type Profiler struct {
	mu     sync.Mutex
	counts map[Opcode]int64
	total  int64
}

// NewProfiler returns an empty Profiler ready to attach to a Vm_t.
func NewProfiler() *Profiler {
	return &Profiler{counts: make(map[Opcode]int64)}
}

func (p *Profiler) record(op Opcode) {
	p.mu.Lock()
	p.counts[op]++
	p.total++
	p.mu.Unlock()
}

// Total returns the number of instructions recorded so far.
func (p *Profiler) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// opcodeNames gives every opcode this profiler might see a stable label;
// unlisted opcodes (the pixel and vector families, and unassigned ISA
// slots) fall back to their numeric form.
var opcodeNames = map[Opcode]string{
	OpTrap: "trap", OpMov: "mov", OpLdi: "ldi", OpLdc: "ldc", OpLdm: "ldm",
	OpRef: "ref", OpLdgi: "ldgi", OpStm: "stm", OpStgi: "stgi",
	OpLdstr: "ldstr", OpNop: "nop", OpRet: "ret", OpJmp: "jmp",
	OpJmpz: "jmpz", OpLoop: "loop", OpLoadRetVal: "load_ret_val",
	OpCompeq: "compeq", OpCompneq: "compneq", OpCompgt: "compgt",
	OpCompgte: "compgte", OpComplt: "complt", OpComplte: "complte",
	OpNot: "not", OpAnd: "and", OpOr: "or",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpMulF16: "mul_f16", OpDivF16: "div_f16",
	OpConvI32ToF16: "conv_i32_f16", OpConvF16ToI32: "conv_f16_i32",
	OpConvGfx16ToF16: "conv_gfx16_f16",
	OpLookup1:        "lookup1", OpLookup2: "lookup2", OpLookup3: "lookup3",
	OpPlookup1: "plookup1", OpPlookup2: "plookup2",
	OpPixcall: "pixcall", OpDbcall: "dbcall",
	OpCall0: "call0", OpCall1: "call1", OpCall2: "call2", OpCall3: "call3", OpCall4: "call4",
	OpIcall0: "icall0", OpIcall1: "icall1", OpIcall2: "icall2", OpIcall3: "icall3", OpIcall4: "icall4",
	OpLcall0: "lcall0", OpLcall1: "lcall1", OpLcall2: "lcall2", OpLcall3: "lcall3", OpLcall4: "lcall4",
	OpSuspend: "suspend", OpResume: "resume", OpHalt: "halt",
	OpAssert: "assert", OpPrint: "print", OpPrintref: "printref",
	OpPrintstr: "printstr", OpFmtstr: "fmtstr",
}

func opcodeName(op Opcode) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "opcode_" + strconv.Itoa(int(op))
}

// ToPprof renders the histogram as a *profile.Profile with a single
// "cycles" sample type, one synthetic Location/Function per opcode. It
// has no Mapping, matching how a pure-interpreter profile (no native
// addresses) is conventionally represented.
func (p *Profiler) ToPprof() *profile.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	prof := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "cycles", Unit: "count"}},
		TimeNanos:  time.Now().UnixNano(),
	}

	id := uint64(1)
	for op, n := range p.counts {
		fn := &profile.Function{ID: id, Name: opcodeName(op)}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		prof.Function = append(prof.Function, fn)
		prof.Location = append(prof.Location, loc)
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{n},
		})
		id++
	}
	return prof
}
