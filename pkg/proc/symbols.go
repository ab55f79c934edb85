package proc

import (
	"fmt"

	"github.com/powerwalker/pwalk/pkg/logflags"
)

// ResolvedSymbol is what is known about a code address. Every field may
// be empty: a miss is a normal result, not an error.
type ResolvedSymbol struct {
	// Name is the name of the function containing the address.
	Name string
	// Offset is the distance of the address from the start of the
	// function, or from the module base when Name is empty.
	Offset uint64
	// Module is the base name of the module containing the address.
	Module string
	// ModuleFile is the full path of the module containing the address.
	ModuleFile string
	ModuleBase uint64
	File       string
	Line       int
}

// Empty returns true if nothing is known about the address.
func (s ResolvedSymbol) Empty() bool {
	return s.Name == "" && s.Module == ""
}

func (s ResolvedSymbol) String() string {
	switch {
	case s.Module == "":
		return "?"
	case s.Name == "":
		return fmt.Sprintf("%s+%#x", s.Module, s.Offset)
	case s.Offset == 0:
		return fmt.Sprintf("%s!%s", s.Module, s.Name)
	}
	return fmt.Sprintf("%s!%s+%#x", s.Module, s.Name, s.Offset)
}

// Resolve returns the module and symbol containing addr. Addresses outside
// of every registered module resolve to an empty ResolvedSymbol.
func (s *SymbolSession) Resolve(addr uint64) ResolvedSymbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ResolvedSymbol{}
	}
	if v, ok := s.cache.Get(addr); ok {
		return v.(ResolvedSymbol)
	}

	r := s.resolve(addr)
	s.cache.Add(addr, r)
	return r
}

func (s *SymbolSession) resolve(addr uint64) ResolvedSymbol {
	m, ok := s.moduleAt(addr)
	if !ok {
		return ResolvedSymbol{}
	}
	r := ResolvedSymbol{
		Offset:     addr - m.Base,
		Module:     m.Name,
		ModuleFile: m.Path,
		ModuleBase: m.Base,
	}
	if !s.initialized {
		return r
	}

	log := logflags.SymbolsLogger()
	name, displacement, err := s.backend.SymFromAddr(s.process, addr)
	if err != nil {
		log.Debugf("no symbol for %#x in %s: %v", addr, m.Name, err)
		return r
	}
	r.Name, r.Offset = name, displacement

	file, line, err := s.backend.SymLineFromAddr(s.process, addr)
	if err == nil {
		r.File, r.Line = file, line
	}
	return r
}
