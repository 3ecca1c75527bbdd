package vm

import (
	"fmt"

	"sapphire/internal/defs"
)

// exec decodes and performs one instruction's effect, reporting whether
// execution should stop (explicit halt, assert, trap, or a propagated
// error) and the status to report in that case. Control-flow opcodes set
// v.pc directly and v.jumped=true so dispatch does not also apply the
// default pc-advance.
func (v *Vm_t) exec(in insn) (defs.VmStatus_t, bool) {
	switch in.op {
	case OpNop:
		return defs.VM_STATUS_OK, false

	case OpHalt:
		return defs.VM_STATUS_HALT, true

	case OpTrap:
		return defs.VmStatus_t(defs.ETRAP), true

	case OpMov:
		v.regWrite(in.reg(1), v.regRead(in.reg(2)))
		return defs.VM_STATUS_OK, false

	case OpLdi:
		v.regWrite(in.reg(1), int32(int16(in.imm16(2))))
		return defs.VM_STATUS_OK, false

	case OpLdc:
		idx := int(in.imm16(2))
		var val int32
		if idx >= 0 && idx < len(v.img.ConstantPool) {
			val = v.img.ConstantPool[idx]
		}
		v.regWrite(in.reg(1), val)
		return defs.VM_STATUS_OK, false

	case OpLdgi:
		v.regWrite(in.reg(1), v.globalRead(int(in.imm16(2))))
		return defs.VM_STATUS_OK, false

	case OpStgi:
		v.globalWrite(int(in.imm16(2)), v.regRead(in.reg(1)))
		return defs.VM_STATUS_OK, false

	case OpLdm:
		v.regWrite(in.reg(1), v.loadRef(refFromWord(v.regRead(in.reg(2)))))
		return defs.VM_STATUS_OK, false

	case OpStm:
		v.storeRef(refFromWord(v.regRead(in.reg(1))), v.regRead(in.reg(2)))
		return defs.VM_STATUS_OK, false

	case OpRef:
		r := PackRef(in.imm8(2), in.imm16(3), in.imm8(5))
		v.regWrite(in.reg(1), int32(uint32(r)))
		return defs.VM_STATUS_OK, false

	case OpLdstr:
		r := PackRef(PoolStringLiterals, in.imm16(2), 0)
		v.regWrite(in.reg(1), int32(uint32(r)))
		return defs.VM_STATUS_OK, false

	case OpJmp:
		v.pc = int(in.imm16(2))
		v.jumped = true
		return defs.VM_STATUS_OK, false

	case OpJmpz:
		if v.regRead(in.reg(1)) == 0 {
			v.pc = int(in.imm16(2))
			v.jumped = true
		}
		return defs.VM_STATUS_OK, false

	case OpLoop:
		// increment+branch-if-less, per spec.md §4.5: reg1 is the current
		// value, reg3 the exclusive stop bound, reg2 where the incremented
		// value is written; the jump fires before the write-back, mirroring
		// opcode_loop's value/jump/store order.
		value := v.regRead(in.reg(1)) + 1
		if value < v.regRead(in.reg(3)) {
			v.pc = int(in.imm16(4))
			v.jumped = true
		}
		v.regWrite(in.reg(2), value)
		return defs.VM_STATUS_OK, false

	case OpLoadRetVal:
		v.regWrite(in.reg(1), v.returnVal)
		return defs.VM_STATUS_OK, false

	case OpCompeq:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) == v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false
	case OpCompneq:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) != v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false
	case OpCompgt:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) > v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false
	case OpCompgte:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) >= v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false
	case OpComplt:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) < v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false
	case OpComplte:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) <= v.regRead(in.reg(3))))
		return defs.VM_STATUS_OK, false

	case OpNot:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) == 0))
		return defs.VM_STATUS_OK, false
	case OpAnd:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) != 0 && v.regRead(in.reg(3)) != 0))
		return defs.VM_STATUS_OK, false
	case OpOr:
		v.regWrite(in.reg(1), boolI32(v.regRead(in.reg(2)) != 0 || v.regRead(in.reg(3)) != 0))
		return defs.VM_STATUS_OK, false

	case OpAdd:
		v.regWrite(in.reg(1), v.regRead(in.reg(2))+v.regRead(in.reg(3)))
		return defs.VM_STATUS_OK, false
	case OpSub:
		v.regWrite(in.reg(1), v.regRead(in.reg(2))-v.regRead(in.reg(3)))
		return defs.VM_STATUS_OK, false
	case OpMul:
		v.regWrite(in.reg(1), v.regRead(in.reg(2))*v.regRead(in.reg(3)))
		return defs.VM_STATUS_OK, false
	case OpDiv:
		b := v.regRead(in.reg(3))
		if b == 0 {
			v.regWrite(in.reg(1), 0)
		} else {
			v.regWrite(in.reg(1), v.regRead(in.reg(2))/b)
		}
		return defs.VM_STATUS_OK, false
	case OpMod:
		b := v.regRead(in.reg(3))
		if b == 0 {
			v.regWrite(in.reg(1), 0)
		} else {
			v.regWrite(in.reg(1), v.regRead(in.reg(2))%b)
		}
		return defs.VM_STATUS_OK, false
	case OpMulF16:
		v.regWrite(in.reg(1), int32(MulF16(Fixed16(v.regRead(in.reg(2))), Fixed16(v.regRead(in.reg(3))))))
		return defs.VM_STATUS_OK, false
	case OpDivF16:
		v.regWrite(in.reg(1), int32(DivF16(Fixed16(v.regRead(in.reg(2))), Fixed16(v.regRead(in.reg(3))))))
		return defs.VM_STATUS_OK, false

	case OpConvI32ToF16:
		v.regWrite(in.reg(1), int32(I32ToF16(v.regRead(in.reg(2)))))
		return defs.VM_STATUS_OK, false
	case OpConvF16ToI32:
		v.regWrite(in.reg(1), F16ToI32(Fixed16(v.regRead(in.reg(2)))))
		return defs.VM_STATUS_OK, false
	case OpConvGfx16ToF16:
		v.regWrite(in.reg(1), int32(F16FromGfx16(uint16(v.regRead(in.reg(2))))))
		return defs.VM_STATUS_OK, false

	case OpAssert:
		if v.regRead(in.reg(1)) == 0 {
			return defs.VmStatus_t(defs.EASSERT), true
		}
		return defs.VM_STATUS_OK, false

	case OpPrint:
		v.printf("%d\n", v.regRead(in.reg(1)))
		return defs.VM_STATUS_OK, false
	case OpPrintref:
		v.printf("ref(%#x)\n", uint32(v.regRead(in.reg(1))))
		return defs.VM_STATUS_OK, false
	case OpPrintstr:
		v.printf("%s\n", v.readString(refFromWord(v.regRead(in.reg(1)))))
		return defs.VM_STATUS_OK, false
	case OpFmtstr:
		v.execFmtstr(in)
		return defs.VM_STATUS_OK, false

	case OpLookup1:
		v.execLookup1(in, false)
		return defs.VM_STATUS_OK, false
	case OpLookup2:
		v.execLookup2(in, false)
		return defs.VM_STATUS_OK, false
	case OpLookup3:
		v.execLookup3(in, false)
		return defs.VM_STATUS_OK, false
	case OpPlookup1:
		v.execLookup1(in, true)
		return defs.VM_STATUS_OK, false
	case OpPlookup2:
		v.execLookup2(in, true)
		return defs.VM_STATUS_OK, false

	case OpPloadAttr, OpPstoreHue, OpPstoreSat, OpPstoreVal, OpPstoreHSFade, OpPstoreVFade, OpPstoreSelect,
		OpPloadHue, OpPloadSat, OpPloadVal, OpPloadHSFade, OpPloadVFade, OpPloadSelect, OpPopSelect:
		v.execPixelOp(in)
		return defs.VM_STATUS_OK, false

	case OpVstoreAttr, OpVloadAttr,
		OpVstoreHue, OpVstoreSat, OpVstoreVal, OpVstoreHSFade, OpVstoreVFade, OpVstoreSelect, OpVopSelect:
		v.execArrayPixelOp(in)
		return defs.VM_STATUS_OK, false

	case OpVmov, OpVadd, OpVsub, OpVmul, OpVdiv, OpVmod, OpVmin, OpVmax, OpVavg, OpVsum:
		v.execVectorOp(in)
		return defs.VM_STATUS_OK, false

	case OpCall0, OpCall1, OpCall2, OpCall3, OpCall4:
		return v.execCall(in)
	case OpIcall0, OpIcall1, OpIcall2, OpIcall3, OpIcall4:
		return v.execIcall(in)
	case OpLcall0, OpLcall1, OpLcall2, OpLcall3, OpLcall4:
		return v.execLcall(in)
	case OpPixcall:
		return v.execPixcall(in)
	case OpDbcall:
		return v.execDbcall(in)

	case OpRet:
		return v.execRet(in)

	case OpSuspend:
		return v.execSuspend(in)
	case OpResume:
		return defs.VM_STATUS_OK, false

	default:
		return defs.VmStatus_t(defs.ETRAP), true
	}
}

func boolI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (v *Vm_t) printf(format string, args ...interface{}) {
	if v.Out == nil {
		return
	}
	fmt.Fprintf(v.Out, format, args...)
}

func (v *Vm_t) readString(r Ref) string {
	if r.Pool() != PoolStringLiterals {
		return ""
	}
	start := int(r.Addr())
	if start < 0 || start >= len(v.img.StringPool) {
		return ""
	}
	end := start
	for end < len(v.img.StringPool) && v.img.StringPool[end] != 0 {
		end++
	}
	return string(v.img.StringPool[start:end])
}

