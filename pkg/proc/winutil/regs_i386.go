package winutil

import "unsafe"

// FLOATING_SAVE_AREA tracks the _FLOATING_SAVE_AREA windows struct.
type FLOATING_SAVE_AREA struct {
	ControlWord   uint32
	StatusWord    uint32
	TagWord       uint32
	ErrorOffset   uint32
	ErrorSelector uint32
	DataOffset    uint32
	DataSelector  uint32
	RegisterArea  [80]byte
	Cr0NpxState   uint32
}

// X86CONTEXT tracks the 32-bit x86 _CONTEXT of windows, also returned by
// Wow64GetThreadContext for threads of emulated processes.
type X86CONTEXT struct {
	ContextFlags uint32

	Dr0 uint32
	Dr1 uint32
	Dr2 uint32
	Dr3 uint32
	Dr6 uint32
	Dr7 uint32

	FloatSave FLOATING_SAVE_AREA

	SegGs uint32
	SegFs uint32
	SegEs uint32
	SegDs uint32

	Edi uint32
	Esi uint32
	Ebx uint32
	Edx uint32
	Ecx uint32
	Eax uint32

	Ebp    uint32
	Eip    uint32
	SegCs  uint32
	EFlags uint32
	Esp    uint32
	SegSs  uint32

	ExtendedRegisters [512]byte
}

// NewX86CONTEXT allocates an x86 CONTEXT structure aligned to 16 bytes.
func NewX86CONTEXT() *X86CONTEXT {
	var c *X86CONTEXT
	return (*X86CONTEXT)(alignedAlloc(unsafe.Sizeof(*c), 16))
}

// Registers returns the integer and control registers of the context.
func (ctx *X86CONTEXT) Registers() []Register {
	return []Register{
		{"Eip", uint64(ctx.Eip)},
		{"Esp", uint64(ctx.Esp)},
		{"Ebp", uint64(ctx.Ebp)},
		{"Eax", uint64(ctx.Eax)},
		{"Ebx", uint64(ctx.Ebx)},
		{"Ecx", uint64(ctx.Ecx)},
		{"Edx", uint64(ctx.Edx)},
		{"Edi", uint64(ctx.Edi)},
		{"Esi", uint64(ctx.Esi)},
		{"Eflags", uint64(ctx.EFlags)},
		{"Cs", uint64(ctx.SegCs)},
		{"Ss", uint64(ctx.SegSs)},
		{"Fs", uint64(ctx.SegFs)},
		{"Gs", uint64(ctx.SegGs)},
	}
}
