package proc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
)

// ProcessRef owns an open handle to a target process.
type ProcessRef struct {
	sys    System
	pid    int
	h      Handle
	mu     sync.Mutex
	closed bool
}

func openProcess(sys System, pid int, access ProcessAccess) (*ProcessRef, error) {
	if pid <= 0 {
		return nil, &WalkError{Kind: TargetNotFound, Pid: pid, Op: "OpenProcess", Err: fmt.Errorf("invalid process id %d", pid)}
	}
	h, err := sys.OpenProcess(pid, access)
	if err != nil {
		return nil, newWalkError(TargetNotFound, pid, 0, "OpenProcess", err)
	}
	return &ProcessRef{sys: sys, pid: pid, h: h}, nil
}

// Pid returns the id of the process.
func (p *ProcessRef) Pid() int { return p.pid }

// Handle returns the process handle.
func (p *ProcessRef) Handle() Handle { return p.h }

// Close releases the handle. Calling Close more than once is a no-op.
func (p *ProcessRef) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sys.CloseHandle(p.h)
}

func (p *ProcessRef) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ThreadRef owns an open handle to a thread of a ProcessRef's process.
type ThreadRef struct {
	sys    System
	pid    int
	tid    int
	h      Handle
	mu     sync.Mutex
	closed bool
}

func openThread(sys System, p *ProcessRef, tid int, access ThreadAccess) (*ThreadRef, error) {
	if tid <= 0 {
		return nil, &WalkError{Kind: TargetNotFound, Pid: p.pid, Tid: tid, Op: "OpenThread", Err: fmt.Errorf("invalid thread id %d", tid)}
	}
	h, err := sys.OpenThread(tid, access)
	if err != nil {
		return nil, newWalkError(TargetNotFound, p.pid, tid, "OpenThread", err)
	}
	t := &ThreadRef{sys: sys, pid: p.pid, tid: tid, h: h}
	ok := false
	defer func() {
		if !ok {
			closeLogged(t, "thread")
		}
	}()
	owner, err := sys.ThreadProcessID(h)
	if err == nil && owner != p.pid {
		err = fmt.Errorf("thread belongs to process %d", owner)
	}
	if err != nil {
		return nil, newWalkError(TargetNotFound, p.pid, tid, "GetProcessIdOfThread", err)
	}
	ok = true
	return t, nil
}

// Tid returns the id of the thread.
func (t *ThreadRef) Tid() int { return t.tid }

// Close releases the handle. Calling Close more than once is a no-op.
func (t *ThreadRef) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.sys.CloseHandle(t.h)
}

func closeLogged(c interface{ Close() error }, what string) {
	if err := c.Close(); err != nil {
		logflags.WalkerLogger().Errorf("could not close %s: %v", what, err)
	}
}

// Config controls how targets are opened and walked.
type Config struct {
	// MaxFrames bounds the number of frames of a walk, DefaultMaxFrames
	// when zero.
	MaxFrames int
	// ProcessAccess and ThreadAccess are the rights requested when opening
	// the target, the defaults when zero.
	ProcessAccess ProcessAccess
	ThreadAccess  ThreadAccess
	// SymbolSearchPath is passed to the symbol subsystem.
	SymbolSearchPath string
	// SymbolCacheSize is the number of resolved addresses cached per
	// process.
	SymbolCacheSize int
	// ShowInstruction annotates every frame with the instruction at its
	// program counter.
	ShowInstruction bool
	Flavour         AssemblyFlavour
}

func (c *Config) maxFrames() int {
	if c.MaxFrames <= 0 {
		return DefaultMaxFrames
	}
	return c.MaxFrames
}

func (c *Config) processAccess() ProcessAccess {
	if c.ProcessAccess == 0 {
		return DefaultProcessAccess
	}
	return c.ProcessAccess
}

func (c *Config) threadAccess() ThreadAccess {
	if c.ThreadAccess == 0 {
		return DefaultThreadAccess
	}
	return c.ThreadAccess
}

// Target is an attached process. It owns the process handle and the
// symbol session of the process. Walks and every other use of the process
// handle are serialized with Close by walkMu.
type Target struct {
	backend Backend
	cfg     Config
	proc    *ProcessRef
	arch    Arch
	syms    *SymbolSession

	walkMu sync.Mutex
}

// ErrTargetClosed is returned by operations on a closed Target.
var ErrTargetClosed = errors.New("target closed")

// Attach opens process pid, detects its architecture and initializes its
// symbol session. On failure every resource acquired so far is released.
func Attach(b Backend, pid int, cfg Config) (*Target, error) {
	p, err := openProcess(b, pid, cfg.processAccess())
	if err != nil {
		return nil, err
	}

	var syms *SymbolSession
	ok := false
	defer func() {
		if ok {
			return
		}
		defer closeLogged(p, "process")
		if syms != nil {
			closeLogged(syms, "symbol session")
		}
	}()

	arch, err := DetectArch(b, p)
	if err != nil {
		return nil, err
	}
	logflags.WalkerLogger().Debugf("process %d architecture %s", pid, arch)

	syms, err = newSymbolSession(b, p, cfg.SymbolSearchPath, cfg.SymbolCacheSize)
	if err != nil {
		return nil, newWalkError(AccessDenied, pid, 0, "SymInitialize", err)
	}

	ok = true
	return &Target{backend: b, cfg: cfg, proc: p, arch: arch, syms: syms}, nil
}

// Pid returns the id of the target process.
func (t *Target) Pid() int { return t.proc.pid }

// Arch returns the architecture of the target process.
func (t *Target) Arch() Arch { return t.arch }

// Symbols returns the symbol session of the target.
func (t *Target) Symbols() *SymbolSession { return t.syms }

func (t *Target) checkOpen() error {
	if t.proc.isClosed() {
		return &WalkError{Kind: TargetNotFound, Pid: t.proc.pid, Op: "Target", Err: ErrTargetClosed}
	}
	return nil
}

// Stacktrace walks the stack of thread tid of the target.
func (t *Target) Stacktrace(tid int) (*StackTrace, error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	walkID := uuid.New().String()
	log := logflags.WalkerLogger().WithFields(logflags.Fields{"walk": walkID, "pid": t.proc.pid, "tid": tid})
	log.Debugf("walk started, architecture %s", t.arch)

	th, err := openThread(t.backend, t.proc, tid, t.cfg.threadAccess())
	if err != nil {
		return nil, err
	}
	defer closeLogged(th, "thread")

	if _, err := t.syms.LoadModules(t.arch.ModuleFilter()); err != nil {
		log.Warnf("could not load modules: %v", err)
	}

	ctx, err := captureContext(t.backend, th, t.arch)
	if err != nil {
		return nil, err
	}

	seed, err := SeedFrame(ctx)
	if err != nil {
		return nil, newWalkError(UnsupportedArchitecture, t.proc.pid, tid, "SeedFrame", err)
	}
	log.Debugf("seed frame pc=%#x frame=%#x stack=%#x bstore=%#x", seed.PC, seed.FrameBase, seed.Stack, seed.BStore)

	stepper, err := t.backend.BeginUnwind(t.proc.h, th.h, t.arch, seed, ctx)
	if err != nil {
		return nil, newWalkError(UnwindFailed, t.proc.pid, tid, "BeginUnwind", err)
	}

	st := &StackTrace{WalkID: walkID, Pid: t.proc.pid, Tid: tid, Arch: t.arch}
	it := newStackIterator(stepper, t.cfg.maxFrames())
	for it.Next() {
		f := it.Frame()
		log.Debugf("frame %d pc=%#x ret=%#x stack=%#x", len(st.Calls), f.PC, f.Return, f.Stack)
		call := StackCall{
			PC:        f.PC,
			Return:    f.Return,
			FrameBase: f.FrameBase,
			Stack:     f.Stack,
			Symbol:    t.syms.Resolve(f.PC),
		}
		if t.cfg.ShowInstruction {
			call.Instruction = t.instructionAt(f.PC)
		}
		st.Calls = append(st.Calls, call)
	}
	if err := it.Err(); err != nil {
		return nil, newWalkError(UnwindFailed, t.proc.pid, tid, "StackWalk64", err)
	}
	st.Truncated = it.Truncated()
	st.Cyclic = it.Cyclic()
	if st.Truncated {
		log.Warnf("walk truncated after %d frames (cyclic=%v)", len(st.Calls), st.Cyclic)
	}
	log.Debugf("walk finished, %d frames", len(st.Calls))
	return st, nil
}

// Registers captures the register context of thread tid.
func (t *Target) Registers(tid int) ([]winutil.Register, error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	th, err := openThread(t.backend, t.proc, tid, t.cfg.threadAccess())
	if err != nil {
		return nil, err
	}
	defer closeLogged(th, "thread")
	ctx, err := captureContext(t.backend, th, t.arch)
	if err != nil {
		return nil, err
	}
	return ctx.Registers(), nil
}

// ReloadModules registers modules loaded since the last walk.
func (t *Target) ReloadModules() (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return t.syms.LoadModules(t.arch.ModuleFilter())
}

// Modules lists the modules of the target process matching filter,
// without registering them.
func (t *Target) Modules(filter ModuleFilter) ([]ModuleRecord, error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	mods, err := t.backend.EnumProcessModules(t.proc.h, filter)
	if err != nil {
		return nil, newWalkError(AccessDenied, t.proc.pid, 0, "EnumProcessModules", err)
	}
	return mods, nil
}

// Threads lists the ids of the threads of the target process.
func (t *Target) Threads() ([]int, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	tids, err := t.backend.ThreadIDs(t.proc.pid)
	if err != nil {
		return nil, newWalkError(TargetNotFound, t.proc.pid, 0, "ThreadIDs", err)
	}
	return tids, nil
}

// PEBAddress returns the address of the process environment block.
func (t *Target) PEBAddress() (uint64, error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	addr, err := t.backend.PEBAddress(t.proc.h)
	if err != nil {
		return 0, newWalkError(AccessDenied, t.proc.pid, 0, "NtQueryInformationProcess", err)
	}
	return addr, nil
}

// ReadMemory reads up to n bytes of target memory at addr. A short read
// returns the bytes read so far along with the error.
func (t *Target) ReadMemory(addr uint64, n int) ([]byte, error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := t.backend.ReadMemory(t.proc.h, addr, buf)
	if err != nil {
		return buf[:read], newWalkError(AccessDenied, t.proc.pid, 0, "ReadProcessMemory", err)
	}
	return buf[:read], nil
}

// Close releases the symbol session and the process handle. It waits for
// a walk in progress to finish and is safe to call more than once.
func (t *Target) Close() (err error) {
	t.walkMu.Lock()
	defer t.walkMu.Unlock()
	defer func() {
		if perr := t.proc.Close(); err == nil {
			err = perr
		}
	}()
	return t.syms.Close()
}

// GetStackTrace attaches to process pid, walks thread tid and releases
// every resource before returning.
func GetStackTrace(b Backend, pid, tid int, cfg Config) (*StackTrace, error) {
	t, err := Attach(b, pid, cfg)
	if err != nil {
		return nil, err
	}
	defer closeLogged(t, "target")
	return t.Stacktrace(tid)
}
