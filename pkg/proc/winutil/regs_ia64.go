package winutil

import "unsafe"

// FLOAT128 tracks the _FLOAT128 windows struct.
type FLOAT128 struct {
	LowPart  int64
	HighPart int64
}

// IA64CONTEXT tracks the Itanium _CONTEXT of windows.
type IA64CONTEXT struct {
	ContextFlags uint32
	Fill1        [3]uint32

	DbI [8]uint64
	DbD [8]uint64

	// FltS0-FltS3 and FltT0-FltT9.
	LowerFloat [14]FLOAT128
	// FltS4-FltS19 and FltF32-FltF127.
	HigherFloat [112]FLOAT128

	StFPSR uint64

	IntGp   uint64
	IntT0   uint64
	IntT1   uint64
	IntS0   uint64
	IntS1   uint64
	IntS2   uint64
	IntS3   uint64
	IntV0   uint64
	IntT2   uint64
	IntT3   uint64
	IntT4   uint64
	IntSp   uint64
	IntTeb  uint64
	IntT5   [18]uint64
	IntNats uint64

	Preds uint64

	BrRp uint64
	BrS0 uint64
	BrS1 uint64
	BrS2 uint64
	BrS3 uint64
	BrS4 uint64
	BrT0 uint64
	BrT1 uint64

	ApUNAT uint64
	ApLC   uint64
	ApEC   uint64
	ApCCV  uint64
	ApDCR  uint64

	RsPFS      uint64
	RsBSP      uint64
	RsBSPSTORE uint64
	RsRSC      uint64
	RsRNAT     uint64

	StIPSR uint64
	StIIP  uint64
	StIFS  uint64

	StFCR      uint64
	Eflag      uint64
	SegCSD     uint64
	SegSSD     uint64
	Cflag      uint64
	StFSR      uint64
	StFIR      uint64
	StFDR      uint64
	UNUSEDPACK uint64
}

// NewIA64CONTEXT allocates an Itanium CONTEXT structure aligned to 16 bytes.
func NewIA64CONTEXT() *IA64CONTEXT {
	var c *IA64CONTEXT
	return (*IA64CONTEXT)(alignedAlloc(unsafe.Sizeof(*c), 16))
}

// Registers returns the control registers and the preserved integer
// registers of the context.
func (ctx *IA64CONTEXT) Registers() []Register {
	return []Register{
		{"StIIP", ctx.StIIP},
		{"IntSp", ctx.IntSp},
		{"RsBSP", ctx.RsBSP},
		{"BrRp", ctx.BrRp},
		{"RsPFS", ctx.RsPFS},
		{"StIPSR", ctx.StIPSR},
		{"StIFS", ctx.StIFS},
		{"IntGp", ctx.IntGp},
		{"IntS0", ctx.IntS0},
		{"IntS1", ctx.IntS1},
		{"IntS2", ctx.IntS2},
		{"IntS3", ctx.IntS3},
		{"IntTeb", ctx.IntTeb},
		{"Preds", ctx.Preds},
	}
}
