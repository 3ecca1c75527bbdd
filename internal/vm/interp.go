package vm

import (
	"encoding/binary"

	"sapphire/internal/defs"
)

// regRead/regWrite treat every general register as a 4-byte word in the
// current frame's local storage, per spec.md §4.5 "registers are local
// pool words" and vm_core.c's local_memory int32 pointer arithmetic
// (frame_stack[call_depth]/4 word advance).
func (v *Vm_t) regRead(reg uint8) int32 {
	return int32(binary.LittleEndian.Uint32(v.localSlot(int(reg))))
}

func (v *Vm_t) regWrite(reg uint8, val int32) {
	binary.LittleEndian.PutUint32(v.localSlot(int(reg)), uint32(val))
}

func (v *Vm_t) globalRead(word int) int32 {
	off := word * wordSize
	if off < 0 || off+wordSize > len(v.global) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(v.global[off:]))
}

func (v *Vm_t) globalWrite(word int, val int32) {
	off := word * wordSize
	if off < 0 || off+wordSize > len(v.global) {
		return
	}
	binary.LittleEndian.PutUint32(v.global[off:], uint32(val))
}

// loadRef reads a value out of the pool a Ref addresses. The LOCAL pool
// (4) is frame-relative; GLOBAL (0) is word-addressed; the remaining
// static pools are handled narrowly (constants/strings are read-only,
// pixel attrs go through the dedicated pixel ops instead of generic
// load/store).
func (v *Vm_t) loadRef(r Ref) int32 {
	switch r.Pool() {
	case PoolGlobal:
		return v.globalRead(int(r.Addr()))
	case PoolLocal:
		return v.regRead(uint8(r.Addr()))
	case PoolFunctions:
		if int(r.Addr()) < len(v.img.FuncTable) {
			return int32(r.Addr())
		}
		return 0
	default:
		return 0
	}
}

func (v *Vm_t) storeRef(r Ref, val int32) {
	switch r.Pool() {
	case PoolGlobal:
		v.globalWrite(int(r.Addr()), val)
	case PoolLocal:
		v.regWrite(uint8(r.Addr()), val)
	}
}

func refFromWord(w int32) Ref { return Ref(uint32(w)) }

// Run executes starting at funcIdx's entry PC until the function returns,
// the program halts, asserts, traps, or exhausts its cycle budget. This
// is a single-shot, function-table-indexed form; the scheduler's
// RunInit/RunLoop/RunThread go through runEntry instead, and Run neither
// publishes in/out nor knows about threads or suspension.
func (v *Vm_t) Run(funcIdx int) defs.VmStatus_t {
	if funcIdx < 0 || funcIdx >= len(v.img.FuncTable) {
		return defs.VmStatus_t(defs.EBADFUNCREF)
	}
	fn := v.img.FuncTable[funcIdx]
	frameWords := int(fn.FrameSize) / wordSize
	v.ensureLocalCapacity(0, frameWords)
	v.callStack = v.callStack[:0]
	v.callStack = append(v.callStack, frame{base: 0, returnPC: -1, frameWords: frameWords, funcIdx: funcIdx})
	v.pc = int(fn.PC)
	v.cycles = 0
	return v.dispatch()
}

// dispatch is the interpreter's main loop: fetch, decode, execute, advance
// pc. It mirrors vm_core.c's single `for(;;)` switch over the opcode byte.
func (v *Vm_t) dispatch() defs.VmStatus_t {
	code := v.img.Code
	for {
		if v.cycles >= v.maxCycles {
			return defs.VmStatus_t(defs.EMAXCYCLES)
		}
		v.cycles++

		if v.pc < 0 || v.pc >= len(code) {
			return defs.VmStatus_t(defs.EBOUNDS)
		}
		in := fetch(code, v.pc)
		next := v.pc + len(in.raw)
		if v.prof != nil {
			v.prof.record(in.op)
		}
		if v.img.ProgramType == ProgramTypeAutomaton && !automatonPermits(in.op) {
			return defs.VmStatus_t(defs.ETRAP)
		}

		v.jumped = false
		status, halt := v.exec(in)
		if halt {
			return status
		}
		if !v.jumped {
			v.pc = next
		}
		if status != defs.VM_STATUS_OK {
			return status
		}
	}
}
