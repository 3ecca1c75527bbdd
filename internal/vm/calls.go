package vm

import "sapphire/internal/defs"

// callArgCount maps a call-family opcode to how many argument registers
// it carries, per spec.md §4.5's call0..call4 operand templates.
func callArgCount(op Opcode) int {
	switch op {
	case OpCall0, OpIcall0, OpLcall0:
		return 0
	case OpCall1, OpIcall1, OpLcall1:
		return 1
	case OpCall2, OpIcall2, OpLcall2:
		return 2
	case OpCall3, OpIcall3, OpLcall3:
		return 3
	case OpCall4, OpIcall4, OpLcall4:
		return 4
	}
	return 0
}

// callSetup pushes a new frame for funcIdx, copying the caller's argument
// registers into the callee's first N locals, and switches pc to the
// callee's entry point. This mirrors vm_core.c's CALL_SETUP/
// CALL_SWITCH_CONTEXT macros: bump call_depth, stash (return pc, frame
// size), and advance the local-memory pointer by frame_size/4 words.
func (v *Vm_t) callSetup(funcIdx int, args []int32, returnPC int) (defs.VmStatus_t, bool) {
	if funcIdx < 0 || funcIdx >= len(v.img.FuncTable) {
		return defs.VmStatus_t(defs.EBADFUNCREF), true
	}
	if len(v.callStack) >= MaxCallDepth {
		return defs.VmStatus_t(defs.ECALLDEPTH), true
	}
	fn := v.img.FuncTable[funcIdx]
	frameWords := int(fn.FrameSize) / wordSize
	newBase := 0
	if len(v.callStack) > 0 {
		top := v.callStack[len(v.callStack)-1]
		newBase = top.base + top.frameWords
	}
	v.ensureLocalCapacity(newBase, frameWords)
	v.callStack = append(v.callStack, frame{base: newBase, returnPC: returnPC, frameWords: frameWords, funcIdx: funcIdx})

	for i, a := range args {
		v.regWrite(uint8(i), a)
	}
	v.pc = int(fn.PC)
	v.jumped = true
	return defs.VM_STATUS_OK, false
}

func (v *Vm_t) execCall(in insn) (defs.VmStatus_t, bool) {
	n := callArgCount(in.op)
	var funcIdx int
	var args []int32
	switch n {
	case 0:
		funcIdx = int(in.imm16(2))
	case 1:
		args = []int32{v.regRead(in.reg(1))}
		funcIdx = int(in.imm16(2))
	default:
		for i := 0; i < n; i++ {
			args = append(args, v.regRead(in.reg(1+i)))
		}
		funcIdx = int(in.imm16(1 + n))
	}
	return v.callSetup(funcIdx, args, v.pc+len(in.raw))
}

func (v *Vm_t) execIcall(in insn) (defs.VmStatus_t, bool) {
	n := callArgCount(in.op)
	var funcIdxReg uint8
	var args []int32
	switch n {
	case 0:
		funcIdxReg = in.reg(2)
	case 1:
		args = []int32{v.regRead(in.reg(1))}
		funcIdxReg = in.reg(2)
	default:
		for i := 0; i < n; i++ {
			args = append(args, v.regRead(in.reg(1+i)))
		}
		funcIdxReg = in.reg(1 + n)
	}
	funcIdx := int(v.regRead(funcIdxReg))
	return v.callSetup(funcIdx, args, v.pc+len(in.raw))
}

// execLcall dispatches a builtin library call through callBuiltin, whose
// name table (rand/min/max/sum/avg/yield/delay/thread control/io/adc/pwm...)
// lives in lib.go. Names callBuiltin does not implement itself go to the
// installed GfxLib; with none installed they report ETRAP rather than
// silently doing nothing.
func (v *Vm_t) execLcall(in insn) (defs.VmStatus_t, bool) {
	n := callArgCount(in.op)
	var libIdx int
	var args []int32
	switch n {
	case 0:
		libIdx = int(in.imm16(2))
	case 1:
		args = []int32{v.regRead(in.reg(1))}
		libIdx = int(in.imm16(2))
	default:
		for i := 0; i < n; i++ {
			args = append(args, v.regRead(in.reg(1+i)))
		}
		libIdx = int(in.imm16(1 + n))
	}
	result, err := v.callBuiltin(libIdx, args)
	if !err.Ok() {
		return defs.VmStatus_t(err), true
	}
	v.returnVal = result
	return defs.VM_STATUS_OK, false
}

func (v *Vm_t) execPixcall(in insn) (defs.VmStatus_t, bool) {
	if v.Lib == nil {
		return defs.VmStatus_t(defs.ETRAP), true
	}
	dst := in.reg(1)
	funcIdx := int(in.imm16(2))
	arg := v.regRead(in.reg(4))
	name := builtinName(funcIdx)
	result, err := v.Lib.Call(name, []int32{arg})
	if !err.Ok() {
		return defs.VmStatus_t(err), true
	}
	v.regWrite(dst, result)
	return defs.VM_STATUS_OK, false
}

// execDbcall reads or writes one word of a KVDB entry declared in the
// image's DB table, addressed by its index. Every DB/publish table entry
// is installed into v.db at load time (state.go's installDB), so this is
// a thin wrapper over Db.Get/Db.Set through the entry's declared type.
func (v *Vm_t) execDbcall(in insn) (defs.VmStatus_t, bool) {
	opType := in.imm8(1)
	dbIdx := int(in.imm16(2))
	valReg := in.reg(4)
	if dbIdx < 0 || dbIdx >= len(v.img.DB) {
		return defs.VmStatus_t(defs.EBOUNDS), true
	}
	hash := v.img.DB[dbIdx].Hash
	if opType == 0 {
		val, err := v.dbReadWord(hash)
		if !err.Ok() {
			return defs.VmStatus_t(err), true
		}
		v.regWrite(valReg, val)
	} else {
		if err := v.dbWriteWord(hash, v.regRead(valReg)); !err.Ok() {
			return defs.VmStatus_t(err), true
		}
	}
	return defs.VM_STATUS_OK, false
}

// execRet implements RET/CALL_FINISH: capture the return value, pop the
// current frame, and resume at the caller's saved pc. Returning from the
// outermost frame ends the run with VM_STATUS_OK.
func (v *Vm_t) execRet(in insn) (defs.VmStatus_t, bool) {
	v.returnVal = v.regRead(in.reg(1))
	if len(v.callStack) == 0 {
		return defs.VM_STATUS_OK, true
	}
	top := v.callStack[len(v.callStack)-1]
	v.callStack = v.callStack[:len(v.callStack)-1]
	if len(v.callStack) == 0 {
		return defs.VM_STATUS_OK, true
	}
	v.pc = top.returnPC
	v.jumped = true
	return defs.VM_STATUS_OK, false
}

// execSuspend implements the cooperative-yield opcode: record that the
// current thread wants to sleep for the tick count in a register, and
// stop this Run call, reporting VM_STATUS_YIELDED so the scheduler can
// reschedule it, per spec.md §5 "Suspend/resume".
func (v *Vm_t) execSuspend(in insn) (defs.VmStatus_t, bool) {
	delay := v.regRead(in.reg(1))
	if delay < 1 {
		delay = 1 // 1 ms floor, the same value as ffs.MinDelay
	}
	v.threads[v.currentThread].Tick = v.tick + uint64(delay)
	// Resume at the instruction after SUSPEND next time this thread runs.
	// Nested call frames active at suspend time are not preserved across
	// the yield (runEntry always restarts from a single top frame) —
	// programs that suspend only from their thread's top-level body, the
	// common case for this ISA, are unaffected.
	v.threads[v.currentThread].PCOffset = uint16(v.pc + len(in.raw))
	return defs.VM_STATUS_YIELDED, true
}
