package proc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/powerwalker/pwalk/pkg/logflags"
)

// ModuleRecord describes an image loaded in the target process.
type ModuleRecord struct {
	Base uint64
	Size uint32
	// Path is the full path of the image file.
	Path string
	// Name is the base name of the image file.
	Name string
}

// Contains returns true if addr is inside the image.
func (m ModuleRecord) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < uint64(m.Size)
}

func (m ModuleRecord) String() string {
	return fmt.Sprintf("%#016x-%#016x %s", m.Base, m.Base+uint64(m.Size), m.Path)
}

var errSessionClosed = errors.New("symbol session closed")

// SymbolSession is the symbol subsystem state of one target process: the
// table of registered modules and a cache of resolved addresses. The
// symbol subsystem keeps one table per process, all access to it goes
// through the session lock.
type SymbolSession struct {
	mu          sync.Mutex
	backend     Backend
	pid         int
	process     Handle
	initialized bool
	closed      bool
	modules     []ModuleRecord
	cache       *lru.Cache
}

func newSymbolSession(b Backend, p *ProcessRef, searchPath string, cacheSize int) (*SymbolSession, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	s := &SymbolSession{backend: b, pid: p.pid, process: p.h, cache: cache}
	if err := b.SymInitialize(p.h, searchPath); err != nil {
		// Without a symbol handler every address resolves to its module
		// only, the walk itself can proceed.
		logflags.SymbolsLogger().Warnf("could not initialize symbols for process %d: %v", p.pid, err)
		return s, nil
	}
	s.initialized = true
	return s, nil
}

// LoadModules enumerates the modules of the process matching filter and
// registers the ones not yet known with the symbol subsystem. It returns
// the number of newly registered modules.
func (s *SymbolSession) LoadModules(filter ModuleFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSessionClosed
	}
	log := logflags.SymbolsLogger()

	mods, err := s.backend.EnumProcessModules(s.process, filter)
	if err != nil {
		return 0, newWalkError(AccessDenied, s.pid, 0, "EnumProcessModules", err)
	}

	n := 0
	for _, mod := range mods {
		if s.findModule(mod.Base) >= 0 {
			continue
		}
		if s.initialized {
			if err := s.backend.SymLoadModule(s.process, mod); err != nil {
				log.Debugf("could not register module %s: %v", mod.Path, err)
			}
		}
		s.modules = append(s.modules, mod)
		n++
	}
	sort.Slice(s.modules, func(i, j int) bool { return s.modules[i].Base < s.modules[j].Base })
	if n > 0 {
		s.cache.Purge()
	}
	log.Debugf("registered %d new modules (%s) for process %d, %d total", n, filter, s.pid, len(s.modules))
	return n, nil
}

// Modules returns a copy of the module table, sorted by base address.
func (s *SymbolSession) Modules() []ModuleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]ModuleRecord, len(s.modules))
	copy(r, s.modules)
	return r
}

// findModule returns the index of the module starting at base, or -1.
func (s *SymbolSession) findModule(base uint64) int {
	i := sort.Search(len(s.modules), func(i int) bool { return s.modules[i].Base >= base })
	if i < len(s.modules) && s.modules[i].Base == base {
		return i
	}
	return -1
}

// moduleAt returns the module containing addr.
func (s *SymbolSession) moduleAt(addr uint64) (ModuleRecord, bool) {
	i := sort.Search(len(s.modules), func(i int) bool { return s.modules[i].Base > addr })
	if i == 0 {
		return ModuleRecord{}, false
	}
	m := s.modules[i-1]
	if !m.Contains(addr) {
		return ModuleRecord{}, false
	}
	return m, true
}

// Close releases the symbol subsystem state of the process. It is safe to
// call more than once.
func (s *SymbolSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Purge()
	s.modules = nil
	if !s.initialized {
		return nil
	}
	return s.backend.SymCleanup(s.process)
}
