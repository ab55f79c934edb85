package proc

import (
	"fmt"

	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
)

// RegisterContext is the register snapshot of a thread. Exactly one of
// X86, AMD64 and IA64 is set, the one selected by Machine.
type RegisterContext struct {
	Machine Machine
	X86     *winutil.X86CONTEXT
	AMD64   *winutil.AMD64CONTEXT
	IA64    *winutil.IA64CONTEXT
}

// NewRegisterContext allocates an empty context with the layout of arch
// and the flags requesting the full register set.
func NewRegisterContext(arch Arch) (*RegisterContext, error) {
	ctx := &RegisterContext{Machine: arch.Machine}
	switch arch.Machine {
	case MachineI386:
		ctx.X86 = winutil.NewX86CONTEXT()
		ctx.X86.ContextFlags = winutil.CONTEXT_i386_ALL
	case MachineAMD64:
		ctx.AMD64 = winutil.NewAMD64CONTEXT()
		ctx.AMD64.ContextFlags = winutil.CONTEXT_AMD64_ALL
	case MachineIA64:
		ctx.IA64 = winutil.NewIA64CONTEXT()
		ctx.IA64.ContextFlags = winutil.CONTEXT_IA64_ALL
	default:
		return nil, fmt.Errorf("no register context for %s", arch.Machine)
	}
	return ctx, nil
}

// Registers returns the registers of the context by name.
func (ctx *RegisterContext) Registers() []winutil.Register {
	switch ctx.Machine {
	case MachineI386:
		return ctx.X86.Registers()
	case MachineAMD64:
		return ctx.AMD64.Registers()
	case MachineIA64:
		return ctx.IA64.Registers()
	}
	return nil
}

// Frame is one call frame in architecture neutral form.
type Frame struct {
	// PC is the program counter of the frame.
	PC uint64
	// Return is the address this frame returns to, zero for the outermost
	// frame of the thread.
	Return uint64
	// FrameBase is the frame pointer, or the stack pointer on
	// architectures that do not keep one.
	FrameBase uint64
	// Stack is the stack pointer.
	Stack uint64
	// BStore is the register backing store pointer, IA64 only.
	BStore uint64

	Far     bool
	Virtual bool
}

func (f Frame) sameAs(g Frame) bool {
	return f.PC == g.PC && f.Stack == g.Stack && f.FrameBase == g.FrameBase && f.BStore == g.BStore
}

// SeedFrame returns the starting frame of an unwind from ctx. This is the
// only place where register names of the different architectures are
// mapped onto Frame.
func SeedFrame(ctx *RegisterContext) (Frame, error) {
	switch ctx.Machine {
	case MachineI386:
		c := ctx.X86
		return Frame{PC: uint64(c.Eip), FrameBase: uint64(c.Ebp), Stack: uint64(c.Esp)}, nil
	case MachineAMD64:
		c := ctx.AMD64
		return Frame{PC: c.Rip, FrameBase: c.Rsp, Stack: c.Rsp}, nil
	case MachineIA64:
		c := ctx.IA64
		return Frame{PC: c.StIIP, FrameBase: c.IntSp, Stack: c.IntSp, BStore: c.RsBSP}, nil
	}
	return Frame{}, fmt.Errorf("can not seed a frame for %s", ctx.Machine)
}

// captureContext suspends t, reads its register context and resumes it.
// The thread is resumed whenever the suspend succeeded, whatever happens
// to the read.
func captureContext(sys System, t *ThreadRef, arch Arch) (ctx *RegisterContext, err error) {
	log := logflags.WalkerLogger()

	ctx, err = NewRegisterContext(arch)
	if err != nil {
		return nil, newWalkError(UnsupportedArchitecture, t.pid, t.tid, "NewRegisterContext", err)
	}

	if err := sys.SuspendThread(t.h, arch.Emulated); err != nil {
		return nil, newWalkError(ContextUnavailable, t.pid, t.tid, "SuspendThread", err)
	}
	defer func() {
		rerr := sys.ResumeThread(t.h)
		if rerr == nil {
			return
		}
		if err == nil {
			ctx, err = nil, newWalkError(ContextUnavailable, t.pid, t.tid, "ResumeThread", rerr)
			return
		}
		log.Errorf("could not resume thread %d: %v", t.tid, rerr)
	}()

	if err := sys.GetThreadContext(t.h, ctx, arch.Emulated); err != nil {
		return nil, newWalkError(ContextUnavailable, t.pid, t.tid, "GetThreadContext", err)
	}
	return ctx, nil
}
