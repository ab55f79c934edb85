// Package winutil describes the thread context and stack frame records
// exchanged with the Windows debugging APIs, for every machine type a
// stack walk can target.
package winutil

import (
	"fmt"
	"unsafe"
)

// Context flags selecting which parts of a thread context
// GetThreadContext fills in.
const (
	CONTEXT_i386              = 0x10000
	CONTEXT_i386_CONTROL      = CONTEXT_i386 | 0x1
	CONTEXT_i386_INTEGER      = CONTEXT_i386 | 0x2
	CONTEXT_i386_SEGMENTS     = CONTEXT_i386 | 0x4
	CONTEXT_i386_FLOATING     = CONTEXT_i386 | 0x8
	CONTEXT_i386_DEBUG        = CONTEXT_i386 | 0x10
	CONTEXT_i386_EXTENDED     = CONTEXT_i386 | 0x20
	CONTEXT_i386_FULL         = CONTEXT_i386_CONTROL | CONTEXT_i386_INTEGER | CONTEXT_i386_SEGMENTS
	CONTEXT_i386_ALL          = CONTEXT_i386_FULL | CONTEXT_i386_FLOATING | CONTEXT_i386_DEBUG | CONTEXT_i386_EXTENDED
	CONTEXT_AMD64             = 0x100000
	CONTEXT_AMD64_CONTROL     = CONTEXT_AMD64 | 0x1
	CONTEXT_AMD64_INTEGER     = CONTEXT_AMD64 | 0x2
	CONTEXT_AMD64_SEGMENTS    = CONTEXT_AMD64 | 0x4
	CONTEXT_AMD64_FLOATING    = CONTEXT_AMD64 | 0x8
	CONTEXT_AMD64_DEBUG       = CONTEXT_AMD64 | 0x10
	CONTEXT_AMD64_FULL        = CONTEXT_AMD64_CONTROL | CONTEXT_AMD64_INTEGER | CONTEXT_AMD64_FLOATING
	CONTEXT_AMD64_ALL         = CONTEXT_AMD64_FULL | CONTEXT_AMD64_SEGMENTS | CONTEXT_AMD64_DEBUG
	CONTEXT_IA64              = 0x80000
	CONTEXT_IA64_CONTROL      = CONTEXT_IA64 | 0x1
	CONTEXT_IA64_LOWER_FLOAT  = CONTEXT_IA64 | 0x2
	CONTEXT_IA64_HIGHER_FLOAT = CONTEXT_IA64 | 0x4
	CONTEXT_IA64_INTEGER      = CONTEXT_IA64 | 0x8
	CONTEXT_IA64_DEBUG        = CONTEXT_IA64 | 0x10
	CONTEXT_IA64_IA32_CONTROL = CONTEXT_IA64 | 0x20
	CONTEXT_IA64_FLOATING     = CONTEXT_IA64_LOWER_FLOAT | CONTEXT_IA64_HIGHER_FLOAT
	CONTEXT_IA64_FULL         = CONTEXT_IA64_CONTROL | CONTEXT_IA64_FLOATING | CONTEXT_IA64_INTEGER | CONTEXT_IA64_IA32_CONTROL
	CONTEXT_IA64_ALL          = CONTEXT_IA64_FULL | CONTEXT_IA64_DEBUG
)

// Register is a named register value, in the order a context lists them.
type Register struct {
	Name  string
	Value uint64
}

func (r Register) String() string {
	return fmt.Sprintf("%s = %#x", r.Name, r.Value)
}

// alignedAlloc returns a zeroed buffer of size bytes whose first byte is
// aligned to align, which must be a power of two.
func alignedAlloc(size, align uintptr) unsafe.Pointer {
	buf := make([]byte, size+align-1)
	return unsafe.Pointer((uintptr(unsafe.Pointer(&buf[align-1]))) &^ (align - 1))
}
