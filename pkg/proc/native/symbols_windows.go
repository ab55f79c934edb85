package native

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/proc"
)

func (b *Backend) SymInitialize(process proc.Handle, searchPath string) error {
	var path *uint16
	if searchPath != "" {
		var err error
		path, err = windows.UTF16PtrFromString(searchPath)
		if err != nil {
			return errors.Wrap(err, "SymInitialize")
		}
	}
	var err error
	if xerr := b.execSymbolFunc(func() {
		// Modules are registered by the caller, invading the process would
		// load them all up front.
		err = _SymInitialize(windows.Handle(process), path, false)
	}); xerr != nil {
		return xerr
	}
	return wrapErr(err, "SymInitialize")
}

func (b *Backend) SymLoadModule(process proc.Handle, mod proc.ModuleRecord) error {
	image, err := windows.UTF16PtrFromString(mod.Path)
	if err != nil {
		return errors.Wrap(err, "SymLoadModuleEx")
	}
	name, err := windows.UTF16PtrFromString(mod.Name)
	if err != nil {
		return errors.Wrap(err, "SymLoadModuleEx")
	}
	if xerr := b.execSymbolFunc(func() {
		// A module that is already registered loads as zero with no error.
		_, err = _SymLoadModuleEx(windows.Handle(process), image, name, mod.Base, mod.Size)
	}); xerr != nil {
		return xerr
	}
	return wrapErr(err, "SymLoadModuleEx")
}

func (b *Backend) SymFromAddr(process proc.Handle, addr uint64) (name string, displacement uint64, err error) {
	si := new(_SYMBOL_INFOW)
	si.SizeOfStruct = _SYMBOL_INFOW_SIZE
	si.MaxNameLen = _MAX_SYM_NAME
	if xerr := b.execSymbolFunc(func() {
		err = _SymFromAddr(windows.Handle(process), addr, &displacement, si)
	}); xerr != nil {
		return "", 0, xerr
	}
	if err != nil {
		return "", 0, wrapErr(err, "SymFromAddr")
	}
	n := si.NameLen
	if n > si.MaxNameLen {
		n = si.MaxNameLen
	}
	return windows.UTF16ToString(si.Name[:n]), displacement, nil
}

func (b *Backend) SymLineFromAddr(process proc.Handle, addr uint64) (file string, line int, err error) {
	var li _IMAGEHLP_LINEW64
	li.SizeOfStruct = uint32(unsafe.Sizeof(li))
	var displacement uint32
	if xerr := b.execSymbolFunc(func() {
		err = _SymGetLineFromAddr64(windows.Handle(process), addr, &displacement, &li)
		if err == nil {
			// FileName points into dbghelp owned memory that is only valid
			// until the next call.
			file = windows.UTF16PtrToString(li.FileName)
		}
	}); xerr != nil {
		return "", 0, xerr
	}
	if err != nil {
		return "", 0, wrapErr(err, "SymGetLineFromAddr64")
	}
	return file, int(li.LineNumber), nil
}

func (b *Backend) SymCleanup(process proc.Handle) error {
	var err error
	if xerr := b.execSymbolFunc(func() {
		err = _SymCleanup(windows.Handle(process))
	}); xerr != nil {
		return xerr
	}
	return wrapErr(err, "SymCleanup")
}
