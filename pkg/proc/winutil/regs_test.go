package winutil

import (
	"testing"
	"unsafe"
)

func TestContextLayout(t *testing.T) {
	var x86 X86CONTEXT
	var amd64 AMD64CONTEXT
	var ia64 IA64CONTEXT
	var frame STACKFRAME64

	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"sizeof(X86CONTEXT)", unsafe.Sizeof(x86), 0x2cc},
		{"X86CONTEXT.Ebp", unsafe.Offsetof(x86.Ebp), 0xb4},
		{"X86CONTEXT.Eip", unsafe.Offsetof(x86.Eip), 0xb8},
		{"X86CONTEXT.Esp", unsafe.Offsetof(x86.Esp), 0xc4},
		{"sizeof(AMD64CONTEXT)", unsafe.Sizeof(amd64), 1232},
		{"AMD64CONTEXT.Rsp", unsafe.Offsetof(amd64.Rsp), 0x98},
		{"AMD64CONTEXT.Rip", unsafe.Offsetof(amd64.Rip), 0xf8},
		{"AMD64CONTEXT.FltSave", unsafe.Offsetof(amd64.FltSave), 0x100},
		{"AMD64CONTEXT.VectorRegister", unsafe.Offsetof(amd64.VectorRegister), 0x300},
		{"sizeof(IA64CONTEXT)", unsafe.Sizeof(ia64), 2672},
		{"IA64CONTEXT.StFPSR", unsafe.Offsetof(ia64.StFPSR), 0x870},
		{"IA64CONTEXT.IntSp", unsafe.Offsetof(ia64.IntSp), 0x8d0},
		{"IA64CONTEXT.IntNats", unsafe.Offsetof(ia64.IntNats), 0x970},
		{"IA64CONTEXT.BrRp", unsafe.Offsetof(ia64.BrRp), 0x980},
		{"IA64CONTEXT.RsBSP", unsafe.Offsetof(ia64.RsBSP), 0x9f0},
		{"IA64CONTEXT.StIIP", unsafe.Offsetof(ia64.StIIP), 0xa18},
		{"sizeof(STACKFRAME64)", unsafe.Sizeof(frame), 0x108},
		{"STACKFRAME64.FuncTableEntry", unsafe.Offsetof(frame.FuncTableEntry), 0x50},
		{"STACKFRAME64.Far", unsafe.Offsetof(frame.Far), 0x78},
		{"STACKFRAME64.KdHelp", unsafe.Offsetof(frame.KdHelp), 0x98},
	}
	for _, tc := range tests {
		if tc.got != tc.want {
			t.Errorf("%s: got %#x want %#x", tc.name, tc.got, tc.want)
		}
	}
}

func TestContextAlignment(t *testing.T) {
	for i := 0; i < 8; i++ {
		if p := uintptr(unsafe.Pointer(NewAMD64CONTEXT())); p%16 != 0 {
			t.Fatalf("AMD64CONTEXT at %#x is not 16 byte aligned", p)
		}
		if p := uintptr(unsafe.Pointer(NewIA64CONTEXT())); p%16 != 0 {
			t.Fatalf("IA64CONTEXT at %#x is not 16 byte aligned", p)
		}
		if p := uintptr(unsafe.Pointer(NewX86CONTEXT())); p%16 != 0 {
			t.Fatalf("X86CONTEXT at %#x is not 16 byte aligned", p)
		}
	}
}

func TestRegistersLeadWithProgramCounter(t *testing.T) {
	x86 := NewX86CONTEXT()
	x86.Eip = 0x401000
	amd64 := NewAMD64CONTEXT()
	amd64.Rip = 0x7ff600001000
	ia64 := NewIA64CONTEXT()
	ia64.StIIP = 0x4000000000001000

	for _, regs := range [][]Register{x86.Registers(), amd64.Registers(), ia64.Registers()} {
		if len(regs) == 0 {
			t.Fatal("empty register list")
		}
	}
	if r := x86.Registers()[0]; r.Name != "Eip" || r.Value != 0x401000 {
		t.Errorf("unexpected first x86 register %v", r)
	}
	if r := amd64.Registers()[0]; r.Name != "Rip" || r.Value != 0x7ff600001000 {
		t.Errorf("unexpected first amd64 register %v", r)
	}
	if r := ia64.Registers()[0]; r.Name != "StIIP" || r.Value != 0x4000000000001000 {
		t.Errorf("unexpected first ia64 register %v", r)
	}
}
