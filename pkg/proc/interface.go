package proc

import (
	"fmt"
	"sort"
	"strings"
)

// Handle is an operating system handle to a process or thread.
type Handle uintptr

// Backend is everything the walker needs from the operating system. The
// native package implements it for Windows.
type Backend interface {
	System
	SymbolHandler
	Unwinder
}

// System is the process, thread and memory access the walker needs.
type System interface {
	// OpenProcess opens the process pid. Errors must be tagged with
	// NewKindError(TargetNotFound, ...) or NewKindError(AccessDenied, ...)
	// when the reason is known.
	OpenProcess(pid int, access ProcessAccess) (Handle, error)
	// OpenThread opens thread tid, same conventions as OpenProcess.
	OpenThread(tid int, access ThreadAccess) (Handle, error)
	// ThreadProcessID returns the id of the process owning thread.
	ThreadProcessID(thread Handle) (int, error)
	CloseHandle(h Handle) error

	// NativeMachine returns the processor architecture of the host, as
	// opposed to the one the caller is emulated as.
	NativeMachine() (Machine, error)
	// HostMachine returns the architecture the walker itself was built for.
	HostMachine() Machine
	IsWow64Process(process Handle) (bool, error)

	// SuspendThread suspends thread, using the WOW64 accessor when
	// emulated is set.
	SuspendThread(thread Handle, emulated bool) error
	// ResumeThread resumes thread. It may be called even if the outcome of
	// the matching suspend is unknown.
	ResumeThread(thread Handle) error
	// GetThreadContext fills ctx, whose Machine selects the layout. The
	// WOW64 accessor is used when emulated is set.
	GetThreadContext(thread Handle, ctx *RegisterContext, emulated bool) error

	// EnumProcessModules lists the modules loaded in process.
	EnumProcessModules(process Handle, filter ModuleFilter) ([]ModuleRecord, error)
	// ReadMemory reads len(buf) bytes of process memory at addr.
	ReadMemory(process Handle, addr uint64, buf []byte) (int, error)
	// ThreadIDs lists the ids of the threads of process pid.
	ThreadIDs(pid int) ([]int, error)
	// PEBAddress returns the address of the process environment block.
	PEBAddress(process Handle) (uint64, error)
}

// SymbolHandler is the symbol subsystem. All calls for one process must be
// serialized by the caller; SymbolSession does that.
type SymbolHandler interface {
	SymInitialize(process Handle, searchPath string) error
	// SymLoadModule registers mod with the symbol subsystem.
	SymLoadModule(process Handle, mod ModuleRecord) error
	// SymFromAddr returns the name of the symbol containing addr and the
	// displacement of addr from its start.
	SymFromAddr(process Handle, addr uint64) (name string, displacement uint64, err error)
	// SymLineFromAddr returns the source position of addr.
	SymLineFromAddr(process Handle, addr uint64) (file string, line int, err error)
	SymCleanup(process Handle) error
}

// Unwinder wraps the platform unwinding primitive.
type Unwinder interface {
	// BeginUnwind prepares an unwind of thread starting at seed. ctx is the
	// captured register context, the primitive may modify it.
	BeginUnwind(process, thread Handle, arch Arch, seed Frame, ctx *RegisterContext) (Stepper, error)
}

// Stepper advances an unwind by one frame.
type Stepper interface {
	// Step returns the next frame. An error means the primitive could not
	// advance; after the first frame this is how the end of the stack is
	// reported.
	Step() (Frame, error)
}

// ModuleFilter selects modules by bitness.
type ModuleFilter uint32

// Values of the dwFilterFlag argument of EnumProcessModulesEx.
const (
	ModulesDefault ModuleFilter = 0
	Modules32Bit   ModuleFilter = 1
	Modules64Bit   ModuleFilter = 2
	ModulesAll     ModuleFilter = 3
)

func (f ModuleFilter) String() string {
	switch f {
	case ModulesDefault:
		return "default"
	case Modules32Bit:
		return "32"
	case Modules64Bit:
		return "64"
	case ModulesAll:
		return "all"
	}
	return fmt.Sprintf("ModuleFilter(%d)", uint32(f))
}

// ParseModuleFilter parses "32", "64", "all" or "default".
func ParseModuleFilter(s string) (ModuleFilter, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return ModulesDefault, nil
	case "32", "32bit":
		return Modules32Bit, nil
	case "64", "64bit":
		return Modules64Bit, nil
	case "all":
		return ModulesAll, nil
	}
	return 0, fmt.Errorf("unknown module filter %q, must be one of 32, 64, all", s)
}

// ProcessAccess is an access mask for OpenProcess.
type ProcessAccess uint32

// ThreadAccess is an access mask for OpenThread.
type ThreadAccess uint32

const (
	ProcessVMRead                  ProcessAccess = 0x0010
	ProcessQueryInformation        ProcessAccess = 0x0400
	ProcessQueryLimitedInformation ProcessAccess = 0x1000
	ProcessAllAccess               ProcessAccess = 0x1F0FFF

	ThreadSuspendResume    ThreadAccess = 0x0002
	ThreadGetContext       ThreadAccess = 0x0008
	ThreadQueryInformation ThreadAccess = 0x0040
	ThreadAllAccess        ThreadAccess = 0x1F03FF
)

// DefaultProcessAccess and DefaultThreadAccess are the rights a walk
// needs.
const (
	DefaultProcessAccess = ProcessQueryInformation | ProcessVMRead
	DefaultThreadAccess  = ThreadSuspendResume | ThreadGetContext | ThreadQueryInformation
)

var processAccessNames = map[string]ProcessAccess{
	"all":           ProcessAllAccess,
	"query":         ProcessQueryInformation,
	"query-limited": ProcessQueryLimitedInformation,
	"vm-read":       ProcessVMRead,
}

var threadAccessNames = map[string]ThreadAccess{
	"all":            ThreadAllAccess,
	"query":          ThreadQueryInformation,
	"suspend-resume": ThreadSuspendResume,
	"get-context":    ThreadGetContext,
}

// ParseProcessAccess combines the named process rights. No names means
// DefaultProcessAccess.
func ParseProcessAccess(names []string) (ProcessAccess, error) {
	if len(names) == 0 {
		return DefaultProcessAccess, nil
	}
	var access ProcessAccess
	for _, name := range names {
		v, ok := processAccessNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown process access right %q, must be one of %s", name, accessNames(processAccessNames))
		}
		access |= v
	}
	return access, nil
}

// ParseThreadAccess combines the named thread rights. No names means
// DefaultThreadAccess.
func ParseThreadAccess(names []string) (ThreadAccess, error) {
	if len(names) == 0 {
		return DefaultThreadAccess, nil
	}
	var access ThreadAccess
	for _, name := range names {
		v, ok := threadAccessNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown thread access right %q, must be one of %s", name, accessNames(threadAccessNames))
		}
		access |= v
	}
	return access, nil
}

func accessNames[T any](m map[string]T) string {
	r := make([]string, 0, len(m))
	for k := range m {
		r = append(r, k)
	}
	sort.Strings(r)
	return strings.Join(r, ", ")
}
