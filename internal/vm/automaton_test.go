package vm

import (
	"testing"

	"sapphire/internal/defs"
)

// TestAutomatonRejectsStandardOnlyOpcode confirms a ProgramTypeAutomaton
// image traps on an opcode outside the condition/action subset (here,
// PRINT), rather than silently running the full VM ISA.
func TestAutomatonRejectsStandardOnlyOpcode(t *testing.T) {
	var a asm
	a.emit4(OpPrint, 0, 0, 0)
	a.emit4(OpHalt, 0, 0, 0)

	b := NewBuilder()
	b.SetEntryPoints(0, 0)
	b.SetDataLens(64, 0, 64)
	b.SetProgramType(ProgramTypeAutomaton)
	b.SetCode(padCode(a.buf))
	img, perr := ParseImage(b.Build())
	if !perr.Ok() {
		t.Fatalf("ParseImage: %v", perr)
	}

	m := NewVm(img, 0)
	if status := m.RunInit(); status != defs.VmStatus_t(defs.ETRAP) {
		t.Fatalf("RunInit = %v, want ETRAP", status)
	}
}

// TestAutomatonRunsConditionActionRule exercises the automaton ISA's
// intended shape: compare two globals, and on a match store a pixel's hue
// — the condition/action pattern lib_chromatron/automaton.c encodes.
func TestAutomatonRunsConditionActionRule(t *testing.T) {
	var a asm
	a.ldgi(0, 0) // sensor value
	a.ldi(1, 100)
	a.emit4(OpCompgt, 2, 0, 1) // reg2 = sensor > 100
	skip := a.pc()
	a.emit4(OpJmpz, 2, 0, 0) // patched below
	a.ldi(3, 0)              // pixel index 0
	a.ldi(4, 65535)          // hue = max
	a.emit4(OpPstoreHue, 3, 4, 0)
	endPC := a.pc()
	a.emit4(OpHalt, 0, 0, 0)
	lo, hi := le16(endPC)
	a.buf[skip+2], a.buf[skip+3] = lo, hi

	b := NewBuilder()
	b.SetEntryPoints(0, 0)
	b.SetDataLens(64, 4, 64)
	b.SetProgramType(ProgramTypeAutomaton)
	b.SetCode(padCode(a.buf))
	img, perr := ParseImage(b.Build())
	if !perr.Ok() {
		t.Fatalf("ParseImage: %v", perr)
	}

	m := NewVm(img, 1)
	m.globalWrite(0, 150)
	if status := m.RunInit(); status != defs.VM_STATUS_HALT {
		t.Fatalf("RunInit = %v, want HALT", status)
	}
	if got := m.pixels[0].hue; got != 65535 {
		t.Fatalf("pixel hue = %d, want 65535", got)
	}
}
