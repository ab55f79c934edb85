package native

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// 64-bit arguments take two stack slots, low half first. 64-bit results
// come back in edx:eax.

func _SymLoadModuleEx(process windows.Handle, imageName, moduleName *uint16, base uint64, size uint32) (loaded uint64, err error) {
	r0, r1, e1 := syscall.SyscallN(procSymLoadModuleExW.Addr(), uintptr(process), 0, uintptr(unsafe.Pointer(imageName)), uintptr(unsafe.Pointer(moduleName)), uintptr(uint32(base)), uintptr(base>>32), uintptr(size), 0, 0)
	loaded = uint64(r0) | uint64(r1)<<32
	if loaded == 0 && e1 != 0 {
		err = errnoErr(e1)
	}
	return
}

func _SymFromAddr(process windows.Handle, addr uint64, displacement *uint64, symbol *_SYMBOL_INFOW) (err error) {
	r1, _, e1 := syscall.SyscallN(procSymFromAddrW.Addr(), uintptr(process), uintptr(uint32(addr)), uintptr(addr>>32), uintptr(unsafe.Pointer(displacement)), uintptr(unsafe.Pointer(symbol)))
	if r1 == 0 {
		err = errnoErr(e1)
	}
	return
}

func _SymGetLineFromAddr64(process windows.Handle, addr uint64, displacement *uint32, line *_IMAGEHLP_LINEW64) (err error) {
	r1, _, e1 := syscall.SyscallN(procSymGetLineFromAddrW64.Addr(), uintptr(process), uintptr(uint32(addr)), uintptr(addr>>32), uintptr(unsafe.Pointer(displacement)), uintptr(unsafe.Pointer(line)))
	if r1 == 0 {
		err = errnoErr(e1)
	}
	return
}
