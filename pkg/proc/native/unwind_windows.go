package native

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
)

// stepper drives StackWalk64 over one captured context. The frame record
// and the context are owned by the stepper for the whole walk, dbghelp
// updates both in place.
type stepper struct {
	b       *Backend
	machine uint32
	process windows.Handle
	thread  windows.Handle
	frame   winutil.STACKFRAME64
	ctxp    unsafe.Pointer
	ctx     *proc.RegisterContext
}

func (b *Backend) BeginUnwind(process, thread proc.Handle, arch proc.Arch, seed proc.Frame, ctx *proc.RegisterContext) (proc.Stepper, error) {
	p, err := contextPointer(ctx)
	if err != nil {
		return nil, err
	}
	s := &stepper{
		b:       b,
		machine: uint32(arch.Machine),
		process: windows.Handle(process),
		thread:  windows.Handle(thread),
		ctxp:    p,
		ctx:     ctx,
	}
	s.frame.AddrPC = winutil.Flat(seed.PC)
	s.frame.AddrFrame = winutil.Flat(seed.FrameBase)
	s.frame.AddrStack = winutil.Flat(seed.Stack)
	if arch.Machine == proc.MachineIA64 {
		s.frame.AddrBStore = winutil.Flat(seed.BStore)
	}
	return s, nil
}

func (s *stepper) Step() (proc.Frame, error) {
	var err error
	if xerr := s.b.execSymbolFunc(func() {
		err = _StackWalk64(s.machine, s.process, s.thread, &s.frame, s.ctxp, 0, procSymFunctionTableAccess64.Addr(), procSymGetModuleBase64.Addr(), 0)
	}); xerr != nil {
		return proc.Frame{}, xerr
	}
	if err != nil {
		return proc.Frame{}, proc.NewKindError(proc.UnwindFailed, errors.Wrap(err, "StackWalk64"))
	}
	return proc.Frame{
		PC:        s.frame.AddrPC.Offset,
		Return:    s.frame.AddrReturn.Offset,
		FrameBase: s.frame.AddrFrame.Offset,
		Stack:     s.frame.AddrStack.Offset,
		BStore:    s.frame.AddrBStore.Offset,
		Far:       s.frame.Far != 0,
		Virtual:   s.frame.Virtual != 0,
	}, nil
}
