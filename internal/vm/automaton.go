package vm

// automatonAllowed is the opcode subset a ProgramTypeAutomaton image may
// use: comparisons, booleans, branches, pixel-attribute stores/loads, and
// halt/nop — everything a condition/action rule (lib_chromatron/
// automaton.c) can express, and nothing that needs the full VM's call
// stack, vector ops, or library calls. Anything outside this set traps,
// the same way an unassigned opcode slot does in the standard ISA.
var automatonAllowed = map[Opcode]bool{
	OpNop: true, OpHalt: true,
	OpMov: true, OpLdi: true, OpLdgi: true, OpStgi: true,
	OpJmp: true, OpJmpz: true, OpLoop: true,
	OpCompeq: true, OpCompneq: true, OpCompgt: true, OpCompgte: true,
	OpComplt: true, OpComplte: true,
	OpNot: true, OpAnd: true, OpOr: true,
	OpAdd: true, OpSub: true,
	OpPstoreHue: true, OpPstoreSat: true, OpPstoreVal: true,
	OpPstoreHSFade: true, OpPstoreVFade: true,
	OpPloadHue: true, OpPloadSat: true, OpPloadVal: true,
	OpPloadHSFade: true, OpPloadVFade: true, OpPloadAttr: true,
}

func automatonPermits(op Opcode) bool { return automatonAllowed[op] }
