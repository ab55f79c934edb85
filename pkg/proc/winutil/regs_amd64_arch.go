package winutil

import "unsafe"

// M128A tracks the _M128A windows struct.
type M128A struct {
	Low  uint64
	High int64
}

// XMM_SAVE_AREA32 tracks the _XMM_SAVE_AREA32 windows struct.
type XMM_SAVE_AREA32 struct {
	ControlWord    uint16
	StatusWord     uint16
	TagWord        byte
	Reserved1      byte
	ErrorOpcode    uint16
	ErrorOffset    uint32
	ErrorSelector  uint16
	Reserved2      uint16
	DataOffset     uint32
	DataSelector   uint16
	Reserved3      uint16
	MxCsr          uint32
	MxCsr_Mask     uint32
	FloatRegisters [8]M128A
	XmmRegisters   [256]byte
	Reserved4      [96]byte
}

// AMD64CONTEXT tracks the _CONTEXT of windows.
type AMD64CONTEXT struct {
	P1Home uint64
	P2Home uint64
	P3Home uint64
	P4Home uint64
	P5Home uint64
	P6Home uint64

	ContextFlags uint32
	MxCsr        uint32

	SegCs  uint16
	SegDs  uint16
	SegEs  uint16
	SegFs  uint16
	SegGs  uint16
	SegSs  uint16
	EFlags uint32

	Dr0 uint64
	Dr1 uint64
	Dr2 uint64
	Dr3 uint64
	Dr6 uint64
	Dr7 uint64

	Rax uint64
	Rcx uint64
	Rdx uint64
	Rbx uint64
	Rsp uint64
	Rbp uint64
	Rsi uint64
	Rdi uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	Rip uint64

	FltSave XMM_SAVE_AREA32

	VectorRegister [26]M128A
	VectorControl  uint64

	DebugControl         uint64
	LastBranchToRip      uint64
	LastBranchFromRip    uint64
	LastExceptionToRip   uint64
	LastExceptionFromRip uint64
}

// NewAMD64CONTEXT allocates Windows CONTEXT structure aligned to 16 bytes.
func NewAMD64CONTEXT() *AMD64CONTEXT {
	var c *AMD64CONTEXT
	return (*AMD64CONTEXT)(alignedAlloc(unsafe.Sizeof(*c), 16))
}

// Registers returns the integer and control registers of the context.
func (ctx *AMD64CONTEXT) Registers() []Register {
	return []Register{
		{"Rip", ctx.Rip},
		{"Rsp", ctx.Rsp},
		{"Rbp", ctx.Rbp},
		{"Rax", ctx.Rax},
		{"Rbx", ctx.Rbx},
		{"Rcx", ctx.Rcx},
		{"Rdx", ctx.Rdx},
		{"Rdi", ctx.Rdi},
		{"Rsi", ctx.Rsi},
		{"R8", ctx.R8},
		{"R9", ctx.R9},
		{"R10", ctx.R10},
		{"R11", ctx.R11},
		{"R12", ctx.R12},
		{"R13", ctx.R13},
		{"R14", ctx.R14},
		{"R15", ctx.R15},
		{"Rflags", uint64(ctx.EFlags)},
		{"Cs", uint64(ctx.SegCs)},
		{"Ss", uint64(ctx.SegSs)},
		{"Fs", uint64(ctx.SegFs)},
		{"Gs", uint64(ctx.SegGs)},
	}
}
