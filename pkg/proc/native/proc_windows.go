package native

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc"
)

// Backend is the Windows implementation of proc.Backend.
//
// dbghelp is single threaded: every call into it, including the unwind
// primitive, is sent to one goroutine locked to its OS thread, see
// handleSymbolFuncs.
type Backend struct {
	host proc.Machine

	mu          sync.Mutex
	closed      bool
	symChan     chan func()
	symDoneChan chan interface{}
}

var _ proc.Backend = (*Backend)(nil)

// New returns a backend and starts its dbghelp goroutine. Close must be
// called to stop it.
func New() (*Backend, error) {
	b := &Backend{
		host:        hostMachine(),
		symChan:     make(chan func()),
		symDoneChan: make(chan interface{}),
	}
	go b.handleSymbolFuncs()
	err := b.execSymbolFunc(func() {
		opts := uint32(_SYMOPT_DEFAULT_SETTINGS)
		if logflags.Symbols() {
			opts |= _SYMOPT_DEBUG
		}
		prev := _SymSetOptions(opts)
		logflags.NativeLogger().Debugf("symbol options %#x (were %#x)", opts, prev)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Close stops the dbghelp goroutine. Symbol sessions should be closed
// before.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.symChan)
	}
	return nil
}

func (b *Backend) handleSymbolFuncs() {
	// dbghelp keeps per thread state, calls for one process must come from
	// the same OS thread.
	runtime.LockOSThread()

	for fn := range b.symChan {
		b.symDoneChan <- catchPanic(fn)
	}
}

func catchPanic(fn func()) (r interface{}) {
	defer func() {
		r = recover()
	}()
	fn()
	return nil
}

// execSymbolFunc runs fn on the dbghelp goroutine. A panic in fn is
// raised again on the calling goroutine.
func (b *Backend) execSymbolFunc(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}
	b.symChan <- fn
	if r := <-b.symDoneChan; r != nil {
		panic(r)
	}
	return nil
}

func hostMachine() proc.Machine {
	switch runtime.GOARCH {
	case "386":
		return proc.MachineI386
	case "amd64":
		return proc.MachineAMD64
	case "arm64":
		return proc.MachineARM64
	}
	return proc.MachineUnknown
}

// wrapErr annotates err with op and tags the errors whose meaning is
// unambiguous with their walk error kind.
func wrapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrap(err, op)
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return proc.NewKindError(proc.AccessDenied, wrapped)
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER):
		return proc.NewKindError(proc.TargetNotFound, wrapped)
	}
	return wrapped
}

func (b *Backend) OpenProcess(pid int, access proc.ProcessAccess) (proc.Handle, error) {
	h, err := windows.OpenProcess(uint32(access), false, uint32(pid))
	if err != nil {
		return 0, wrapErr(err, "OpenProcess")
	}
	return proc.Handle(h), nil
}

func (b *Backend) OpenThread(tid int, access proc.ThreadAccess) (proc.Handle, error) {
	h, err := windows.OpenThread(uint32(access), false, uint32(tid))
	if err != nil {
		return 0, wrapErr(err, "OpenThread")
	}
	return proc.Handle(h), nil
}

func (b *Backend) ThreadProcessID(thread proc.Handle) (int, error) {
	pid, err := _GetProcessIdOfThread(windows.Handle(thread))
	if err != nil {
		return 0, wrapErr(err, "GetProcessIdOfThread")
	}
	return int(pid), nil
}

func (b *Backend) CloseHandle(h proc.Handle) error {
	return wrapErr(windows.CloseHandle(windows.Handle(h)), "CloseHandle")
}

func (b *Backend) NativeMachine() (proc.Machine, error) {
	var si _SYSTEM_INFO
	_GetNativeSystemInfo(&si)
	switch si.ProcessorArchitecture {
	case _PROCESSOR_ARCHITECTURE_INTEL:
		return proc.MachineI386, nil
	case _PROCESSOR_ARCHITECTURE_AMD64:
		return proc.MachineAMD64, nil
	case _PROCESSOR_ARCHITECTURE_IA64:
		return proc.MachineIA64, nil
	case _PROCESSOR_ARCHITECTURE_ARM64:
		return proc.MachineARM64, nil
	}
	return proc.MachineUnknown, errors.Errorf("unknown processor architecture %d", si.ProcessorArchitecture)
}

func (b *Backend) HostMachine() proc.Machine {
	return b.host
}

func (b *Backend) IsWow64Process(process proc.Handle) (bool, error) {
	var wow64 bool
	if err := windows.IsWow64Process(windows.Handle(process), &wow64); err != nil {
		return false, wrapErr(err, "IsWow64Process")
	}
	return wow64, nil
}

// useWow64 reports whether the WOW64 thread accessors must be used. A
// 32-bit build already sees emulated threads through the plain ones.
func (b *Backend) useWow64(emulated bool) bool {
	return emulated && b.host != proc.MachineI386
}

func (b *Backend) ReadMemory(process proc.Handle, addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if uint64(uintptr(addr)) != addr {
		return 0, errors.Errorf("address %#x out of range", addr)
	}
	var n uintptr
	err := windows.ReadProcessMemory(windows.Handle(process), uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), wrapErr(err, "ReadProcessMemory")
}

func (b *Backend) PEBAddress(process proc.Handle) (uint64, error) {
	var pbi windows.PROCESS_BASIC_INFORMATION
	var retLen uint32
	err := windows.NtQueryInformationProcess(windows.Handle(process), windows.ProcessBasicInformation, unsafe.Pointer(&pbi), uint32(unsafe.Sizeof(pbi)), &retLen)
	if err != nil {
		return 0, wrapErr(err, "NtQueryInformationProcess")
	}
	return uint64(uintptr(unsafe.Pointer(pbi.PebBaseAddress))), nil
}
