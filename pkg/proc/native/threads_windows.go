package native

import (
	"unsafe"

	"github.com/pkg/errors"
	sys "golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/proc"
)

func (b *Backend) SuspendThread(thread proc.Handle, emulated bool) error {
	var err error
	if b.useWow64(emulated) {
		_, err = _Wow64SuspendThread(sys.Handle(thread))
		return wrapErr(err, "Wow64SuspendThread")
	}
	_, err = _SuspendThread(sys.Handle(thread))
	return wrapErr(err, "SuspendThread")
}

// ResumeThread undoes one suspension of thread. The same call serves
// threads suspended with either accessor.
func (b *Backend) ResumeThread(thread proc.Handle) error {
	_, err := sys.ResumeThread(sys.Handle(thread))
	return wrapErr(err, "ResumeThread")
}

func (b *Backend) GetThreadContext(thread proc.Handle, ctx *proc.RegisterContext, emulated bool) error {
	p, err := contextPointer(ctx)
	if err != nil {
		return err
	}
	if b.useWow64(emulated) {
		return wrapErr(_Wow64GetThreadContext(sys.Handle(thread), p), "Wow64GetThreadContext")
	}
	return wrapErr(_GetThreadContext(sys.Handle(thread), p), "GetThreadContext")
}

// contextPointer returns the address of the machine specific context
// structure held by ctx.
func contextPointer(ctx *proc.RegisterContext) (unsafe.Pointer, error) {
	switch {
	case ctx.Machine == proc.MachineI386 && ctx.X86 != nil:
		return unsafe.Pointer(ctx.X86), nil
	case ctx.Machine == proc.MachineAMD64 && ctx.AMD64 != nil:
		return unsafe.Pointer(ctx.AMD64), nil
	case ctx.Machine == proc.MachineIA64 && ctx.IA64 != nil:
		return unsafe.Pointer(ctx.IA64), nil
	}
	return nil, proc.NewKindError(proc.UnsupportedArchitecture, errors.Errorf("no %s register context", ctx.Machine))
}

// ThreadIDs lists the threads of pid from a system wide thread snapshot.
func (b *Backend) ThreadIDs(pid int) ([]int, error) {
	snap, err := sys.CreateToolhelp32Snapshot(sys.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, wrapErr(err, "CreateToolhelp32Snapshot")
	}
	defer sys.CloseHandle(snap)

	var entry sys.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	err = sys.Thread32First(snap, &entry)
	var r []int
	for err == nil {
		if int(entry.OwnerProcessID) == pid {
			r = append(r, int(entry.ThreadID))
		}
		err = sys.Thread32Next(snap, &entry)
	}
	if !errors.Is(err, sys.ERROR_NO_MORE_FILES) {
		return nil, wrapErr(err, "Thread32Next")
	}
	return r, nil
}
