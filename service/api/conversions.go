package api

import (
	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
)

// ConvertStackTrace converts a walk result to an API StackTrace.
func ConvertStackTrace(st *proc.StackTrace) *StackTrace {
	r := &StackTrace{
		WalkID:    st.WalkID,
		Pid:       st.Pid,
		Tid:       st.Tid,
		Arch:      st.Arch.Machine.String(),
		Emulated:  st.Arch.Emulated,
		Frames:    make([]Stackframe, 0, len(st.Calls)),
		Truncated: st.Truncated,
		Cyclic:    st.Cyclic,
	}
	for _, call := range st.Calls {
		r.Frames = append(r.Frames, ConvertStackCall(call))
	}
	return r
}

// ConvertStackCall converts a resolved frame to an API Stackframe.
func ConvertStackCall(call proc.StackCall) Stackframe {
	return Stackframe{
		PC:          call.PC,
		Return:      call.Return,
		FrameBase:   call.FrameBase,
		Stack:       call.Stack,
		Symbol:      call.Symbol.String(),
		Function:    call.Symbol.Name,
		Offset:      call.Symbol.Offset,
		Module:      call.Symbol.Module,
		ModuleBase:  call.Symbol.ModuleBase,
		File:        call.Symbol.File,
		Line:        call.Symbol.Line,
		Instruction: call.Instruction,
	}
}

// ConvertModules converts module records to API Modules.
func ConvertModules(mods []proc.ModuleRecord) []Module {
	r := make([]Module, 0, len(mods))
	for _, m := range mods {
		r = append(r, Module{Base: m.Base, Size: m.Size, Name: m.Name, Path: m.Path})
	}
	return r
}

// ConvertThreads converts thread ids of process pid to API Threads.
func ConvertThreads(pid int, tids []int) []Thread {
	r := make([]Thread, 0, len(tids))
	for _, tid := range tids {
		r = append(r, Thread{ID: tid, Pid: pid})
	}
	return r
}

// ConvertRegisters converts a captured register set.
func ConvertRegisters(regs []winutil.Register) []Register {
	r := make([]Register, 0, len(regs))
	for _, reg := range regs {
		r = append(r, Register{Name: reg.Name, Value: reg.Value})
	}
	return r
}
