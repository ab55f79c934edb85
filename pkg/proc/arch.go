package proc

import (
	"errors"
	"fmt"
)

// Machine is the PE machine type of a processor architecture, as accepted
// by the unwinding primitive.
type Machine uint16

const (
	MachineUnknown Machine = 0
	MachineI386    Machine = 0x014c
	MachineIA64    Machine = 0x0200
	MachineAMD64   Machine = 0x8664
	MachineARM64   Machine = 0xaa64
)

func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "x86"
	case MachineAMD64:
		return "x64"
	case MachineIA64:
		return "ia64"
	case MachineARM64:
		return "arm64"
	}
	return fmt.Sprintf("machine(%#x)", uint16(m))
}

// PtrSize returns the size of a pointer on m, in bytes.
func (m Machine) PtrSize() int {
	if m == MachineI386 {
		return 4
	}
	return 8
}

// Arch is the architecture of a target process. It is computed once when
// a target is attached and never changes afterwards.
type Arch struct {
	Machine Machine
	// Emulated is set for 32-bit processes running under the WOW64 layer
	// of a 64-bit host. Machine is always MachineI386 when it is set.
	Emulated bool
}

func (a Arch) String() string {
	if a.Emulated {
		return a.Machine.String() + " (emulated)"
	}
	return a.Machine.String()
}

// ModuleFilter returns the bitness of the modules that must be registered
// with the symbol subsystem to resolve addresses of a.
func (a Arch) ModuleFilter() ModuleFilter {
	if a.Machine == MachineI386 {
		return Modules32Bit
	}
	return Modules64Bit
}

// ErrUnknownMachine is returned by classifyArch for hosts it has no
// register layout for.
var ErrUnknownMachine = errors.New("unknown host machine")

// classifyArch decides the architecture of a target from the native
// machine of the host, the machine pwalk itself runs as and whether the
// target runs under WOW64. wow64 is only consulted on 64-bit hosts.
// ARM64 hosts are recognized but have no register layout, they fail with
// ErrUnknownMachine.
func classifyArch(native, host Machine, wow64 bool) (Arch, error) {
	switch native {
	case MachineI386:
		return Arch{Machine: MachineI386}, nil
	case MachineAMD64, MachineIA64:
		if wow64 {
			return Arch{Machine: MachineI386, Emulated: true}, nil
		}
		if host == MachineI386 {
			// A 32-bit walker can not read the context of a 64-bit thread.
			return Arch{}, fmt.Errorf("%s target can not be walked by a 32-bit build", native)
		}
		return Arch{Machine: native}, nil
	}
	return Arch{}, fmt.Errorf("%w %s", ErrUnknownMachine, native)
}

// DetectArch classifies the architecture of the process p refers to.
func DetectArch(sys System, p *ProcessRef) (Arch, error) {
	native, err := sys.NativeMachine()
	if err != nil {
		return Arch{}, newWalkError(UnsupportedArchitecture, p.pid, 0, "GetNativeSystemInfo", err)
	}
	wow64 := false
	if native == MachineAMD64 || native == MachineIA64 {
		wow64, err = sys.IsWow64Process(p.h)
		if err != nil {
			return Arch{}, newWalkError(UnsupportedArchitecture, p.pid, 0, "IsWow64Process", err)
		}
	}
	arch, err := classifyArch(native, sys.HostMachine(), wow64)
	if err != nil {
		return Arch{}, newWalkError(UnsupportedArchitecture, p.pid, 0, "DetectArch", err)
	}
	return arch, nil
}
