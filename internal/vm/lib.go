package vm

import "sapphire/internal/defs"

// builtinTable is the fixed, index-addressed set of library functions an
// LCALL opcode can name, per spec.md §4.6 "Library calls". The index is
// baked into the program image at compile time (outside this module's
// scope), so the table's order is part of the ABI and must never be
// reordered — only appended to.
var builtinTable = []string{
	"rand", "min", "max", "sum", "avg",
	"yield", "delay",
	"start_thread", "stop_thread", "thread_running",
	"vm_start", "vm_stop", "vm_reset", "vm_halted",
	"io_read", "io_write", "io_digital_write", "io_digital_read",
	"pwm_write", "pwm_set_freq",
	"adc_read",
	"map_3d", "draw_3d", "clear",
}

func builtinName(idx int) string {
	if idx < 0 || idx >= len(builtinTable) {
		return ""
	}
	return builtinTable[idx]
}

// xorshift64 advances the VM's RNG seed and returns a pseudo-random
// 32-bit value, mirroring the firmware's cheap non-cryptographic PRNG.
func (v *Vm_t) xorshift64() uint32 {
	x := v.rngSeed
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	v.rngSeed = x
	return uint32(x)
}

// callBuiltin executes the handful of library functions FX-VM implements
// itself (RNG, reductions, thread and VM lifecycle control). Everything
// hardware- or rendering-shaped (io_*/pwm_*/adc_*/map_3d/draw_3d/clear,
// plus urand/noise/sine/cosine/triangle which never appear in this table
// because they're called via PIXCALL, not LCALL) is handed to the
// installed GfxLib collaborator; with none installed, those calls trap.
func (v *Vm_t) callBuiltin(idx int, args []int32) (int32, defs.Err_t) {
	name := builtinName(idx)
	switch name {
	case "rand":
		return int32(v.xorshift64()), defs.EOK
	case "min":
		return reduceArgs(args, func(a, b int32) int32 {
			if a < b {
				return a
			}
			return b
		}), defs.EOK
	case "max":
		return reduceArgs(args, func(a, b int32) int32 {
			if a > b {
				return a
			}
			return b
		}), defs.EOK
	case "sum":
		var s int32
		for _, a := range args {
			s += a
		}
		return s, defs.EOK
	case "avg":
		if len(args) == 0 {
			return 0, defs.EOK
		}
		var s int32
		for _, a := range args {
			s += a
		}
		return s / int32(len(args)), defs.EOK
	case "yield":
		return 0, defs.EOK
	case "delay":
		if len(args) > 0 {
			v.threads[v.currentThread].Tick = v.tick + uint64(args[0])
		}
		return 0, defs.EOK
	case "vm_halted":
		return boolI32(len(v.callStack) == 0), defs.EOK
	case "thread_running":
		if len(args) == 0 {
			return 0, defs.EOK
		}
		idx := int(args[0])
		if idx < 0 || idx >= MaxThreads {
			return 0, defs.EOK
		}
		return boolI32(v.threads[idx].Active), defs.EOK
	case "start_thread":
		if len(args) < 1 {
			return 0, defs.EINVAL
		}
		return v.startThread(uint16(args[0])), defs.EOK
	case "stop_thread":
		if len(args) < 1 {
			return 0, defs.EINVAL
		}
		v.stopThread(int(args[0]))
		return 0, defs.EOK
	default:
		if v.Lib == nil {
			return 0, defs.ETRAP
		}
		return v.Lib.Call(name, args)
	}
}

func reduceArgs(args []int32, op func(a, b int32) int32) int32 {
	if len(args) == 0 {
		return 0
	}
	acc := args[0]
	for _, a := range args[1:] {
		acc = op(acc, a)
	}
	return acc
}
