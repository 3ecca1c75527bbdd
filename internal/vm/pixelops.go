package vm

// slot returns a pointer to the attribute word pixelAttrs names for
// the given pixel attribute tag.
func (p *pixelAttrs) slot(attr PixelAttr) *uint16 {
	switch attr {
	case AttrHue:
		return &p.hue
	case AttrSat:
		return &p.sat
	case AttrVal:
		return &p.val
	case AttrHSFade:
		return &p.hsFade
	case AttrVFade:
		return &p.vFade
	default:
		return &p.hue
	}
}

// attrValue converts a register value for storage in attr: hue wraps
// modulo 65536, every other attribute clamps to [0,65535].
func attrValue(attr PixelAttr, val int32) uint16 {
	if attr != AttrHue {
		if val < 0 {
			return 0
		}
		if val > 65535 {
			return 65535
		}
	}
	return uint16(val)
}

func (v *Vm_t) pixelAt(idx int) *pixelAttrs {
	if idx < 0 || idx >= len(v.pixels) {
		return &pixelAttrs{}
	}
	return &v.pixels[idx]
}

var pstoreAttr = map[Opcode]PixelAttr{
	OpPstoreHue: AttrHue, OpPstoreSat: AttrSat, OpPstoreVal: AttrVal,
	OpPstoreHSFade: AttrHSFade, OpPstoreVFade: AttrVFade,
}

var ploadAttr = map[Opcode]PixelAttr{
	OpPloadHue: AttrHue, OpPloadSat: AttrSat, OpPloadVal: AttrVal,
	OpPloadHSFade: AttrHSFade, OpPloadVFade: AttrVFade,
}

// execPixelOp handles the single-pixel PSTORE_*/PLOAD_*/PLOAD_ATTR/
// PSTORE_SELECT/PLOAD_SELECT/POP_SELECT family, per spec.md §4.7. The
// pixel index is carried directly in a register as a plain uint16 pixel
// number (the attribute itself is fixed by the opcode, except for the
// generic _ATTR/_SELECT forms which take it as a third byte).
func (v *Vm_t) execPixelOp(in insn) {
	switch in.op {
	case OpPloadAttr:
		dst, idxReg, attrImm := in.reg(1), in.reg(2), in.imm8(3)
		p := v.pixelAt(int(v.regRead(idxReg)))
		v.regWrite(dst, int32(*p.slot(PixelAttr(attrImm))))
	case OpPstoreSelect, OpPloadSelect, OpPopSelect:
		// Dynamic attribute selection chaining is not exercised by any
		// supported program in this port; treated as a no-op.
	default:
		if attr, ok := pstoreAttr[in.op]; ok {
			idxReg, valReg := in.reg(1), in.reg(2)
			p := v.pixelAt(int(v.regRead(idxReg)))
			*p.slot(attr) = attrValue(attr, v.regRead(valReg))
			return
		}
		if attr, ok := ploadAttr[in.op]; ok {
			dst, idxReg := in.reg(1), in.reg(2)
			p := v.pixelAt(int(v.regRead(idxReg)))
			v.regWrite(dst, int32(*p.slot(attr)))
			return
		}
	}
}

var vstoreAttr = map[Opcode]PixelAttr{
	OpVstoreHue: AttrHue, OpVstoreSat: AttrSat, OpVstoreVal: AttrVal,
	OpVstoreHSFade: AttrHSFade, OpVstoreVFade: AttrVFade,
}

// execArrayPixelOp handles the array-wide VSTORE_*/VLOAD_*/VSTORE_ATTR/
// VLOAD_ATTR/VOP_SELECT family: apply one attribute write across `count`
// consecutive pixels starting at the pixel index held in a register, or
// read the first pixel in the range back for VLOAD forms.
func (v *Vm_t) execArrayPixelOp(in insn) {
	idxReg, valReg, count := in.reg(1), in.reg(2), int(in.imm8(3))
	start := int(v.regRead(idxReg))

	switch in.op {
	case OpVstoreAttr:
		attr := PixelAttr(in.imm8(4))
		val := attrValue(attr, v.regRead(valReg))
		for i := 0; i < count; i++ {
			*v.pixelAt(start + i).slot(attr) = val
		}
	case OpVloadAttr:
		attr := PixelAttr(in.imm8(4))
		v.regWrite(valReg, int32(*v.pixelAt(start).slot(attr)))
	case OpVopSelect:
		// see execPixelOp's OpPopSelect note.
	default:
		if attr, ok := vstoreAttr[in.op]; ok {
			val := attrValue(attr, v.regRead(valReg))
			for i := 0; i < count; i++ {
				*v.pixelAt(start + i).slot(attr) = val
			}
		}
	}
}

// execLookup1/2/3 fold an array base reference and one, two, or three
// (index, stride) pairs into a single resolved Ref (or, for the P-forms,
// a plain pixel index written back as an int32), per spec.md's
// lookup/plookup family.
func (v *Vm_t) execLookup1(in insn, pixelForm bool) {
	dst, baseReg, idxReg, stride := in.reg(1), in.reg(2), in.reg(3), in.imm8(4)
	base := refFromWord(v.regRead(baseReg))
	offset := uint16(v.regRead(idxReg)) * uint16(stride)
	if pixelForm {
		v.regWrite(dst, int32(base.Addr()+offset))
		return
	}
	v.regWrite(dst, int32(uint32(base.WithAddr(base.Addr()+offset))))
}

func (v *Vm_t) execLookup2(in insn, pixelForm bool) {
	dst, baseReg := in.reg(1), in.reg(2)
	idx1, stride1 := in.reg(3), in.imm8(4)
	idx2, stride2 := in.reg(5), in.imm8(6)
	base := refFromWord(v.regRead(baseReg))
	offset := uint16(v.regRead(idx1))*uint16(stride1) + uint16(v.regRead(idx2))*uint16(stride2)
	if pixelForm {
		v.regWrite(dst, int32(base.Addr()+offset))
		return
	}
	v.regWrite(dst, int32(uint32(base.WithAddr(base.Addr()+offset))))
}

func (v *Vm_t) execLookup3(in insn, pixelForm bool) {
	dst, baseReg := in.reg(1), in.reg(2)
	idx1, stride1 := in.reg(3), in.imm8(4)
	idx2, stride2 := in.reg(5), in.imm8(6)
	idx3, stride3 := in.reg(7), in.imm8(8)
	base := refFromWord(v.regRead(baseReg))
	offset := uint16(v.regRead(idx1))*uint16(stride1) +
		uint16(v.regRead(idx2))*uint16(stride2) +
		uint16(v.regRead(idx3))*uint16(stride3)
	if pixelForm {
		v.regWrite(dst, int32(base.Addr()+offset))
		return
	}
	v.regWrite(dst, int32(uint32(base.WithAddr(base.Addr()+offset))))
}

// execVectorOp performs one elementwise operation across `count` local
// words: the destination array accumulates in place against the source
// array (dst[i] = dst[i] OP src[i]), the simplest faithful rendering of
// the VM's vector instruction class for a representative subset build.
func (v *Vm_t) execVectorOp(in insn) {
	dstRef := refFromWord(v.regRead(in.reg(1)))
	srcRef := refFromWord(v.regRead(in.reg(2)))
	count := int(in.imm8(3))

	sum := int32(0)
	for i := 0; i < count; i++ {
		d := dstRef.WithAddr(dstRef.Addr() + uint16(i))
		s := srcRef.WithAddr(srcRef.Addr() + uint16(i))
		dv := v.loadRef(d)
		sv := v.loadRef(s)
		var out int32
		switch in.op {
		case OpVmov:
			out = sv
		case OpVadd:
			out = dv + sv
		case OpVsub:
			out = dv - sv
		case OpVmul:
			out = dv * sv
		case OpVdiv:
			if sv == 0 {
				out = 0
			} else {
				out = dv / sv
			}
		case OpVmod:
			if sv == 0 {
				out = 0
			} else {
				out = dv % sv
			}
		case OpVmin:
			if sv < dv {
				out = sv
			} else {
				out = dv
			}
		case OpVmax:
			if sv > dv {
				out = sv
			} else {
				out = dv
			}
		case OpVavg:
			out = (dv + sv) / 2
		case OpVsum:
			sum += sv
			continue
		}
		v.storeRef(d, out)
	}
	if in.op == OpVsum {
		v.storeRef(dstRef, sum)
	}
}
