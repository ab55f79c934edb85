package winutil

// AddrModeFlat is the flat addressing mode used for every ADDRESS64 of a
// stack frame.
const AddrModeFlat = 3

// ADDRESS64 tracks the _tagADDRESS64 dbghelp struct.
type ADDRESS64 struct {
	Offset  uint64
	Segment uint16
	Mode    int32
}

// Flat returns a flat mode address at offset.
func Flat(offset uint64) ADDRESS64 {
	return ADDRESS64{Offset: offset, Mode: AddrModeFlat}
}

// KDHELP64 tracks the _KDHELP64 dbghelp struct.
type KDHELP64 struct {
	Thread                    uint64
	ThCallbackStack           uint32
	ThCallbackBStore          uint32
	NextCallback              uint32
	FramePointer              uint32
	KiCallUserMode            uint64
	KeUserCallbackDispatcher  uint64
	SystemRangeStart          uint64
	KiUserExceptionDispatcher uint64
	StackBase                 uint64
	StackLimit                uint64
	Reserved                  [5]uint64
}

// STACKFRAME64 tracks the _tagSTACKFRAME64 dbghelp struct.
// FuncTableEntry is a pointer in C; it is kept as a uint64 so that the
// layout is the same for 32 and 64 bit builds.
type STACKFRAME64 struct {
	AddrPC         ADDRESS64
	AddrReturn     ADDRESS64
	AddrFrame      ADDRESS64
	AddrStack      ADDRESS64
	AddrBStore     ADDRESS64
	FuncTableEntry uint64
	Params         [4]uint64
	Far            int32
	Virtual        int32
	Reserved       [3]uint64
	KdHelp         KDHELP64
}
