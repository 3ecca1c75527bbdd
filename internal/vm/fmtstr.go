package vm

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// fmtPrinter renders FMTSTR templates. x/text's message.Printer accepts
// the same %d/%s-style verbs as fmt but additionally groups and localizes
// numbers, which is the behavior the host CLI's `vm run` wants when it
// echoes a program's FMTSTR output to a terminal. message.NewPrinter is
// safe for concurrent use, so one instance is shared by every Vm_t.
var fmtPrinter = message.NewPrinter(language.English)

// execFmtstr implements FMTSTR per spec.md §4.5: a format-string literal
// ref plus up to three argument registers, rendered into the VM's output
// stream like PRINTSTR of the result but without its trailing newline.
// Only as many trailing
// registers as the template has %d verbs are passed through — Sprintf
// flags any extra argument as "%!(EXTRA ...)", which FMTSTR programs
// never intend.
func (v *Vm_t) execFmtstr(in insn) {
	template := v.readString(PackRef(PoolStringLiterals, in.imm16(2), 0))
	allArgs := []interface{}{v.regRead(in.reg(4)), v.regRead(in.reg(5)), v.regRead(in.reg(6))}
	n := strings.Count(template, "%d")
	if n > len(allArgs) {
		n = len(allArgs)
	}
	v.printf("%s", fmtPrinter.Sprintf(template, allArgs[:n]...))
}
