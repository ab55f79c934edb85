//go:build windows && !386

package native

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// The dbghelp entry points below take 64-bit integer arguments which are
// passed differently by 32-bit builds, see dbghelp_386_windows.go.

func _SymLoadModuleEx(process windows.Handle, imageName, moduleName *uint16, base uint64, size uint32) (loaded uint64, err error) {
	r0, _, e1 := syscall.SyscallN(procSymLoadModuleExW.Addr(), uintptr(process), 0, uintptr(unsafe.Pointer(imageName)), uintptr(unsafe.Pointer(moduleName)), uintptr(base), uintptr(size), 0, 0)
	loaded = uint64(r0)
	if loaded == 0 && e1 != 0 {
		err = errnoErr(e1)
	}
	return
}

func _SymFromAddr(process windows.Handle, addr uint64, displacement *uint64, symbol *_SYMBOL_INFOW) (err error) {
	r1, _, e1 := syscall.SyscallN(procSymFromAddrW.Addr(), uintptr(process), uintptr(addr), uintptr(unsafe.Pointer(displacement)), uintptr(unsafe.Pointer(symbol)))
	if uint32(r1) == 0 {
		err = errnoErr(e1)
	}
	return
}

func _SymGetLineFromAddr64(process windows.Handle, addr uint64, displacement *uint32, line *_IMAGEHLP_LINEW64) (err error) {
	r1, _, e1 := syscall.SyscallN(procSymGetLineFromAddrW64.Addr(), uintptr(process), uintptr(addr), uintptr(unsafe.Pointer(displacement)), uintptr(unsafe.Pointer(line)))
	if uint32(r1) == 0 {
		err = errnoErr(e1)
	}
	return
}
