//go:generate go run golang.org/x/sys/windows/mkwinsyscall -output zsyscall_windows.go syscall_windows.go

package native

type _SYSTEM_INFO struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

// _SYMBOL_INFOW tracks the dbghelp struct of the same name with room for
// a name of _MAX_SYM_NAME characters after it.
type _SYMBOL_INFOW struct {
	SizeOfStruct uint32
	TypeIndex    uint32
	Reserved     [2]uint64
	Index        uint32
	Size         uint32
	ModBase      uint64
	Flags        uint32
	_            uint32
	Value        uint64
	Address      uint64
	Register     uint32
	Scope        uint32
	Tag          uint32
	NameLen      uint32
	MaxNameLen   uint32
	Name         [_MAX_SYM_NAME]uint16
}

type _IMAGEHLP_LINEW64 struct {
	SizeOfStruct uint32
	Key          uintptr
	LineNumber   uint32
	FileName     *uint16
	Address      uint64
}

const (
	_PROCESSOR_ARCHITECTURE_INTEL = 0
	_PROCESSOR_ARCHITECTURE_IA64  = 6
	_PROCESSOR_ARCHITECTURE_AMD64 = 9
	_PROCESSOR_ARCHITECTURE_ARM64 = 12

	_MAX_SYM_NAME = 2000

	// sizeof(SYMBOL_INFOW) without the name buffer, as dbghelp expects it
	// in SizeOfStruct.
	_SYMBOL_INFOW_SIZE = 88

	_SYMOPT_UNDNAME          = 0x00000002
	_SYMOPT_DEFERRED_LOADS   = 0x00000004
	_SYMOPT_LOAD_LINES       = 0x00000010
	_SYMOPT_FAIL_CRITICAL    = 0x00000200
	_SYMOPT_NO_PROMPTS       = 0x00080000
	_SYMOPT_DEBUG            = 0x80000000
	_SYMOPT_DEFAULT_SETTINGS = _SYMOPT_UNDNAME | _SYMOPT_DEFERRED_LOADS | _SYMOPT_LOAD_LINES | _SYMOPT_FAIL_CRITICAL | _SYMOPT_NO_PROMPTS

	_SuspendFailed = 0xffffffff
)

//sys	_GetNativeSystemInfo(info *_SYSTEM_INFO) = kernel32.GetNativeSystemInfo
//sys	_GetProcessIdOfThread(thread windows.Handle) (pid uint32, err error) = kernel32.GetProcessIdOfThread
//sys	_SuspendThread(thread windows.Handle) (prevsuspcount uint32, err error) [failretval==0xffffffff] = kernel32.SuspendThread
//sys	_Wow64SuspendThread(thread windows.Handle) (prevsuspcount uint32, err error) [failretval==0xffffffff] = kernel32.Wow64SuspendThread
//sys	_GetThreadContext(thread windows.Handle, context unsafe.Pointer) (err error) = kernel32.GetThreadContext
//sys	_Wow64GetThreadContext(thread windows.Handle, context unsafe.Pointer) (err error) = kernel32.Wow64GetThreadContext
//sys	_SymInitialize(process windows.Handle, searchPath *uint16, invadeProcess bool) (err error) = dbghelp.SymInitializeW
//sys	_SymCleanup(process windows.Handle) (err error) = dbghelp.SymCleanup
//sys	_SymSetOptions(options uint32) (prev uint32) = dbghelp.SymSetOptions
//sys	_StackWalk64(machine uint32, process windows.Handle, thread windows.Handle, frame *winutil.STACKFRAME64, context unsafe.Pointer, readMemory uintptr, functionTableAccess uintptr, getModuleBase uintptr, translateAddress uintptr) (err error) = dbghelp.StackWalk64
