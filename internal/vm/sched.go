package vm

import (
	"time"

	"sapphire/internal/defs"
)

// runEntry executes starting at a raw program counter with a caller-given
// frame size, without requiring a function-table entry — the shape
// init/loop/thread entry points take, mirroring vm_i8_run's
// (func_addr, pc_offset) signature: the top-level entry is handed
// directly to the interpreter, only nested calls go through the
// function-table-indexed call machinery in calls.go.
func (v *Vm_t) runEntry(pc uint16, frameWords int) defs.VmStatus_t {
	v.ensureLocalCapacity(0, frameWords)
	v.callStack = v.callStack[:0]
	v.callStack = append(v.callStack, frame{base: 0, returnPC: -1, frameWords: frameWords, funcIdx: -1})
	v.pc = int(pc)
	v.cycles = 0
	v.PublishIn()
	status := v.dispatch()
	v.PublishOut()
	return status
}

// RunInit executes the program's init entry point once, per spec.md §5
// "run_init": global data starts zeroed from NewVm, and runEntry
// publishes in before the run and out after it.
func (v *Vm_t) RunInit() defs.VmStatus_t {
	return v.runEntry(v.img.InitPC, v.img.LocalDataLen/wordSize)
}

// RunLoop executes one pass of the program's loop entry point if it is
// due — loop_tick <= tick, per spec.md §4.6 — then advances loop_tick by
// the configured pixel-frame period. A loop that isn't due yet reports
// VM_STATUS_DID_NOT_RUN without touching cycle or call-stack state,
// mirroring RunThread's own not-due report.
func (v *Vm_t) RunLoop() defs.VmStatus_t {
	if v.loopTick > v.tick {
		return defs.VM_STATUS_DID_NOT_RUN
	}
	v.loopTick += v.framePeriodMs
	return v.runEntry(v.img.LoopPC, v.img.LocalDataLen/wordSize)
}

// startThread allocates a free thread slot running the function table
// entry funcIdx and returns the slot index, or -1 if every slot is
// occupied (MAX_THREADS exceeded).
func (v *Vm_t) startThread(funcIdx uint16) int32 {
	for i := range v.threads {
		if !v.threads[i].Active {
			v.threads[i] = ThreadState{Active: true, FuncAddr: funcIdx, PCOffset: 0, Tick: v.tick}
			return int32(i)
		}
	}
	return -1
}

func (v *Vm_t) stopThread(idx int) {
	if idx < 0 || idx >= MaxThreads {
		return
	}
	v.threads[idx] = ThreadState{}
}

// RunThread resumes (or starts) thread i if it is due — its saved Tick
// has been reached — running its function to completion, a yield, or an
// error, per spec.md §5's cooperative suspend/resume contract. A thread
// that returns from its top-level function is freed automatically.
func (v *Vm_t) RunThread(i int) defs.VmStatus_t {
	if i < 0 || i >= MaxThreads || !v.threads[i].Active {
		return defs.VmStatus_t(defs.ENOTRUNNING)
	}
	if v.threads[i].Tick > v.tick {
		return defs.VM_STATUS_DID_NOT_RUN
	}
	v.currentThread = i
	fn := v.threads[i].FuncAddr
	var pc uint16
	var frameWords int
	if int(fn) < len(v.img.FuncTable) {
		info := v.img.FuncTable[fn]
		pc = info.PC
		frameWords = int(info.FrameSize) / wordSize
	}
	if v.threads[i].PCOffset != 0 {
		pc = v.threads[i].PCOffset
	}
	status := v.runEntry(pc, frameWords)
	switch status {
	case defs.VM_STATUS_YIELDED:
		return status
	default:
		v.stopThread(i)
		return status
	}
}

// runCronEntries dispatches every cron table entry whose schedule matches
// wall, firing its function as a one-shot raw entry (not a thread slot —
// cron jobs don't suspend/resume, they run to completion or are killed by
// the cycle budget like any other entry point), per spec.md §3's cron
// table. Entries are matched against wall-clock fields on each Tick;
// NextDueTick does not take them into account.
func (v *Vm_t) runCronEntries(wall time.Time) []defs.VmStatus_t {
	var results []defs.VmStatus_t
	for _, c := range v.img.Cron {
		if !cronDue(c, wall) {
			continue
		}
		var pc uint16
		var frameWords int
		if int(c.FuncAddr) < len(v.img.FuncTable) {
			info := v.img.FuncTable[c.FuncAddr]
			pc, frameWords = info.PC, int(info.FrameSize)/wordSize
		}
		results = append(results, v.runEntry(pc, frameWords))
	}
	return results
}

// cronDue reports whether wall matches c's schedule fields. Each field is
// either -1 (wildcard, "every") or a specific value to match, mirroring
// the five-and-seconds cron table vm_core.c walks once per run_tick.
func cronDue(c CronEntry, wall time.Time) bool {
	match := func(field int8, got int) bool { return field < 0 || int(field) == got }
	return match(c.Seconds, wall.Second()) &&
		match(c.Minutes, wall.Minute()) &&
		match(c.Hours, wall.Hour()) &&
		match(c.DayOfMonth, wall.Day()) &&
		match(c.DayOfWeek, int(wall.Weekday())) &&
		match(c.Month, int(wall.Month()))
}

// Tick advances the VM's logical clock by deltaMs (1 when deltaMs is 0)
// and runs the LOOP thread,
// every due cron entry, and every due user thread, the same per-tick
// sweep run_tick performs in the original firmware (LOOP, then cron,
// then Thread-0..N, each budgeted independently). wall is the caller's
// wall-clock time for cron matching; the VM's own tick/delay accounting
// is independent of it.
func (v *Vm_t) Tick(deltaMs uint64, wall time.Time) []defs.VmStatus_t {
	if deltaMs == 0 {
		deltaMs = 1
	}
	v.tick += deltaMs
	results := []defs.VmStatus_t{v.RunLoop()}
	results = append(results, v.runCronEntries(wall)...)
	for i := range v.threads {
		if v.threads[i].Active {
			results = append(results, v.RunThread(i))
		}
	}
	return results
}

// NextDueTick returns the earliest tick at which the loop thread or any
// active user thread next needs to run, letting a host sleep instead of
// busy-polling between ticks. The loop is due at loop_tick, or at the
// very next tick if loop_tick is already due now (per spec.md §4.6).
func (v *Vm_t) NextDueTick() uint64 {
	next := v.loopTick
	if next <= v.tick {
		next = v.tick + 1
	}
	for i := range v.threads {
		if v.threads[i].Active && v.threads[i].Tick < next {
			next = v.threads[i].Tick
		}
	}
	return next
}
