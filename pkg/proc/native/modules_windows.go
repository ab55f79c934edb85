package native

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc"
)

const initialModuleCount = 256

// EnumProcessModules lists the modules of process. Modules that unload
// while they are being described are skipped.
func (b *Backend) EnumProcessModules(process proc.Handle, filter proc.ModuleFilter) ([]proc.ModuleRecord, error) {
	h := windows.Handle(process)
	handles, err := enumModuleHandles(h, filter)
	if err != nil {
		return nil, err
	}

	log := logflags.NativeLogger()
	r := make([]proc.ModuleRecord, 0, len(handles))
	for _, mod := range handles {
		rec, err := describeModule(h, mod)
		if err != nil {
			log.Debugf("skipping module %#x: %v", uintptr(mod), err)
			continue
		}
		r = append(r, rec)
	}
	return r, nil
}

func enumModuleHandles(process windows.Handle, filter proc.ModuleFilter) ([]windows.Handle, error) {
	const size = uint32(unsafe.Sizeof(windows.Handle(0)))
	handles := make([]windows.Handle, initialModuleCount)
	for {
		var needed uint32
		err := windows.EnumProcessModulesEx(process, &handles[0], uint32(len(handles))*size, &needed, uint32(filter))
		if err != nil {
			return nil, wrapErr(err, "EnumProcessModulesEx")
		}
		n := int(needed / size)
		if n <= len(handles) {
			return handles[:n], nil
		}
		// More modules were loaded than fit, try again with room for all
		// of them.
		handles = make([]windows.Handle, n)
	}
}

func describeModule(process, mod windows.Handle) (proc.ModuleRecord, error) {
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(process, mod, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return proc.ModuleRecord{}, wrapErr(err, "GetModuleInformation")
	}
	buf := make([]uint16, windows.MAX_LONG_PATH)
	if err := windows.GetModuleFileNameEx(process, mod, &buf[0], uint32(len(buf))); err != nil {
		return proc.ModuleRecord{}, wrapErr(err, "GetModuleFileNameEx")
	}
	path := windows.UTF16ToString(buf)
	if err := windows.GetModuleBaseName(process, mod, &buf[0], uint32(len(buf))); err != nil {
		return proc.ModuleRecord{}, wrapErr(err, "GetModuleBaseName")
	}
	return proc.ModuleRecord{
		Base: uint64(mi.BaseOfDll),
		Size: mi.SizeOfImage,
		Path: path,
		Name: windows.UTF16ToString(buf),
	}, nil
}
