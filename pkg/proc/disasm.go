package proc

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/powerwalker/pwalk/pkg/logflags"
)

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// IntelFlavour will display Intel assembly syntax.
	IntelFlavour = AssemblyFlavour(iota)
	// GNUFlavour will display GNU assembly syntax.
	GNUFlavour
	// GoFlavour will display Go assembly syntax.
	GoFlavour
)

// ParseAssemblyFlavour parses "intel", "gnu" or "go".
func ParseAssemblyFlavour(s string) (AssemblyFlavour, error) {
	switch strings.ToLower(s) {
	case "", "intel":
		return IntelFlavour, nil
	case "gnu", "att":
		return GNUFlavour, nil
	case "go":
		return GoFlavour, nil
	}
	return 0, fmt.Errorf("unknown assembly flavour %q", s)
}

// maxInstructionLength is the longest x86 instruction, in bytes.
const maxInstructionLength = 15

// instructionAt disassembles the instruction at pc. Unreadable memory,
// undecodable bytes and architectures without a decoder yield "".
func (t *Target) instructionAt(pc uint64) string {
	var mode int
	switch t.arch.Machine {
	case MachineI386:
		mode = 32
	case MachineAMD64:
		mode = 64
	default:
		return ""
	}
	mem := make([]byte, maxInstructionLength)
	n, err := t.backend.ReadMemory(t.proc.h, pc, mem)
	if n == 0 {
		if err != nil {
			logflags.WalkerLogger().Debugf("could not read instruction at %#x: %v", pc, err)
		}
		return ""
	}
	inst, err := x86asm.Decode(mem[:n], mode)
	if err != nil {
		return ""
	}
	return instructionText(inst, t.cfg.Flavour, pc, t.symLookup)
}

func instructionText(inst x86asm.Inst, flavour AssemblyFlavour, pc uint64, symLookup x86asm.SymLookup) string {
	switch flavour {
	case GNUFlavour:
		return x86asm.GNUSyntax(inst, pc, symLookup)
	case GoFlavour:
		return x86asm.GoSyntax(inst, pc, symLookup)
	case IntelFlavour:
		fallthrough
	default:
		return x86asm.IntelSyntax(inst, pc, symLookup)
	}
}

// symLookup maps branch targets to symbol names for the disassembler.
func (t *Target) symLookup(addr uint64) (string, uint64) {
	sym := t.syms.Resolve(addr)
	if sym.Name == "" {
		return "", 0
	}
	return sym.Module + "!" + sym.Name, addr - sym.Offset
}
