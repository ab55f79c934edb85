package proc

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errInjected = errors.New("injected failure")

type fakeSym struct {
	name       string
	start, end uint64
	file       string
	line       int
}

type fakeProcess struct {
	wow64   bool
	modules []ModuleRecord
	syms    []fakeSym
	mem     map[uint64][]byte
}

type fakeRegs struct {
	pc, sp, bp, bsp uint64
}

type fakeThread struct {
	pid     int
	suspend int
	regs    fakeRegs
	// frames are returned by the stepper in order, then stepping fails.
	frames []Frame
	// next, when set, generates frames instead of frames.
	next func(i int) Frame
	// wow64Suspended counts suspensions through the WOW64 accessor.
	wow64Suspended int
}

// fakeBackend is an in-memory Backend. Every method can be made to fail
// or panic through fail and panicOn.
type fakeBackend struct {
	mu sync.Mutex

	native Machine
	host   Machine

	procs   map[int]*fakeProcess
	threads map[int]*fakeThread

	handles    map[Handle]int // open handle -> pid or tid
	threadOf   map[Handle]int
	processOf  map[Handle]int
	nextHandle Handle
	opened     int

	symInit   map[Handle]bool
	symLoaded map[Handle][]ModuleRecord

	fail    map[string]error
	panicOn string

	calls map[string]int
	// suspendedDuringStep is set if a step ran while the walked thread was
	// suspended.
	suspendedDuringStep bool
}

func newFakeBackend(native Machine) *fakeBackend {
	return &fakeBackend{
		native:     native,
		host:       native,
		procs:      make(map[int]*fakeProcess),
		threads:    make(map[int]*fakeThread),
		handles:    make(map[Handle]int),
		threadOf:   make(map[Handle]int),
		processOf:  make(map[Handle]int),
		nextHandle: 0x100,
		symInit:    make(map[Handle]bool),
		symLoaded:  make(map[Handle][]ModuleRecord),
		fail:       make(map[string]error),
		calls:      make(map[string]int),
	}
}

func (b *fakeBackend) addProcess(pid int, p *fakeProcess) {
	b.procs[pid] = p
}

func (b *fakeBackend) addThread(tid int, t *fakeThread) {
	b.threads[tid] = t
}

// enter must be called with b.mu held.
func (b *fakeBackend) enter(op string) error {
	b.calls[op]++
	if b.panicOn == op {
		panic(fmt.Sprintf("%s panicked", op))
	}
	return b.fail[op]
}

func (b *fakeBackend) openHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func (b *fakeBackend) suspendCount(tid int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threads[tid].suspend
}

func (b *fakeBackend) newHandle() Handle {
	b.nextHandle += 4
	b.opened++
	return b.nextHandle
}

func (b *fakeBackend) OpenProcess(pid int, access ProcessAccess) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("OpenProcess"); err != nil {
		return 0, err
	}
	if _, ok := b.procs[pid]; !ok {
		return 0, NewKindError(TargetNotFound, fmt.Errorf("no process %d", pid))
	}
	h := b.newHandle()
	b.handles[h] = pid
	b.processOf[h] = pid
	return h, nil
}

func (b *fakeBackend) OpenThread(tid int, access ThreadAccess) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("OpenThread"); err != nil {
		return 0, err
	}
	if _, ok := b.threads[tid]; !ok {
		return 0, NewKindError(TargetNotFound, fmt.Errorf("no thread %d", tid))
	}
	h := b.newHandle()
	b.handles[h] = tid
	b.threadOf[h] = tid
	return h, nil
}

func (b *fakeBackend) ThreadProcessID(thread Handle) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ThreadProcessID"); err != nil {
		return 0, err
	}
	return b.threads[b.threadOf[thread]].pid, nil
}

func (b *fakeBackend) CloseHandle(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handles[h]; !ok {
		panic(fmt.Sprintf("close of handle %#x that is not open", h))
	}
	delete(b.handles, h)
	return b.enter("CloseHandle")
}

func (b *fakeBackend) NativeMachine() (Machine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("NativeMachine"); err != nil {
		return 0, err
	}
	return b.native, nil
}

func (b *fakeBackend) HostMachine() Machine {
	return b.host
}

func (b *fakeBackend) IsWow64Process(process Handle) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("IsWow64Process"); err != nil {
		return false, err
	}
	return b.procs[b.processOf[process]].wow64, nil
}

func (b *fakeBackend) SuspendThread(thread Handle, emulated bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SuspendThread"); err != nil {
		return err
	}
	t := b.threads[b.threadOf[thread]]
	t.suspend++
	if emulated {
		t.wow64Suspended++
	}
	return nil
}

func (b *fakeBackend) ResumeThread(thread Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.threads[b.threadOf[thread]]
	if t.suspend > 0 {
		t.suspend--
	}
	return b.enter("ResumeThread")
}

func (b *fakeBackend) GetThreadContext(thread Handle, ctx *RegisterContext, emulated bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("GetThreadContext"); err != nil {
		return err
	}
	t := b.threads[b.threadOf[thread]]
	if t.suspend == 0 {
		return errors.New("context read from a running thread")
	}
	r := t.regs
	switch ctx.Machine {
	case MachineI386:
		ctx.X86.Eip, ctx.X86.Esp, ctx.X86.Ebp = uint32(r.pc), uint32(r.sp), uint32(r.bp)
	case MachineAMD64:
		ctx.AMD64.Rip, ctx.AMD64.Rsp, ctx.AMD64.Rbp = r.pc, r.sp, r.bp
	case MachineIA64:
		ctx.IA64.StIIP, ctx.IA64.IntSp, ctx.IA64.RsBSP = r.pc, r.sp, r.bsp
	}
	return nil
}

func (b *fakeBackend) EnumProcessModules(process Handle, filter ModuleFilter) ([]ModuleRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[fmt.Sprintf("EnumProcessModules(%s)", filter)]++
	if err := b.enter("EnumProcessModules"); err != nil {
		return nil, err
	}
	mods := b.procs[b.processOf[process]].modules
	r := make([]ModuleRecord, len(mods))
	copy(r, mods)
	return r, nil
}

func (b *fakeBackend) ReadMemory(process Handle, addr uint64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ReadMemory"); err != nil {
		return 0, err
	}
	for base, data := range b.procs[b.processOf[process]].mem {
		if addr >= base && addr < base+uint64(len(data)) {
			return copy(buf, data[addr-base:]), nil
		}
	}
	return 0, errors.New("partial copy")
}

func (b *fakeBackend) ThreadIDs(pid int) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("ThreadIDs"); err != nil {
		return nil, err
	}
	var r []int
	for tid, t := range b.threads {
		if t.pid == pid {
			r = append(r, tid)
		}
	}
	sort.Ints(r)
	return r, nil
}

func (b *fakeBackend) PEBAddress(process Handle) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("PEBAddress"); err != nil {
		return 0, err
	}
	return 0x7ffde000, nil
}

func (b *fakeBackend) SymInitialize(process Handle, searchPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SymInitialize"); err != nil {
		return err
	}
	b.symInit[process] = true
	return nil
}

func (b *fakeBackend) SymLoadModule(process Handle, mod ModuleRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SymLoadModule"); err != nil {
		return err
	}
	b.symLoaded[process] = append(b.symLoaded[process], mod)
	return nil
}

func (b *fakeBackend) SymFromAddr(process Handle, addr uint64) (string, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SymFromAddr"); err != nil {
		return "", 0, err
	}
	sym, ok := b.lookup(process, addr)
	if !ok {
		return "", 0, errors.New("no symbol")
	}
	return sym.name, addr - sym.start, nil
}

func (b *fakeBackend) SymLineFromAddr(process Handle, addr uint64) (string, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("SymLineFromAddr"); err != nil {
		return "", 0, err
	}
	sym, ok := b.lookup(process, addr)
	if !ok || sym.file == "" {
		return "", 0, errors.New("no line information")
	}
	return sym.file, sym.line, nil
}

// lookup only finds symbols of registered modules.
func (b *fakeBackend) lookup(process Handle, addr uint64) (fakeSym, bool) {
	if !b.symInit[process] {
		return fakeSym{}, false
	}
	registered := false
	for _, m := range b.symLoaded[process] {
		if m.Contains(addr) {
			registered = true
		}
	}
	if !registered {
		return fakeSym{}, false
	}
	for _, sym := range b.procs[b.processOf[process]].syms {
		if addr >= sym.start && addr < sym.end {
			return sym, true
		}
	}
	return fakeSym{}, false
}

func (b *fakeBackend) SymCleanup(process Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.symInit, process)
	delete(b.symLoaded, process)
	return b.enter("SymCleanup")
}

func (b *fakeBackend) BeginUnwind(process, thread Handle, arch Arch, seed Frame, ctx *RegisterContext) (Stepper, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("BeginUnwind"); err != nil {
		return nil, err
	}
	return &fakeStepper{b: b, t: b.threads[b.threadOf[thread]], seed: seed}, nil
}

type fakeStepper struct {
	b    *fakeBackend
	t    *fakeThread
	seed Frame
	i    int
}

func (s *fakeStepper) Step() (Frame, error) {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.t.suspend > 0 {
		s.b.suspendedDuringStep = true
	}
	if err := s.b.enter("Step"); err != nil {
		return Frame{}, err
	}
	i := s.i
	s.i++
	if s.t.next != nil {
		return s.t.next(i), nil
	}
	if i >= len(s.t.frames) {
		return Frame{}, errors.New("end of stack")
	}
	return s.t.frames[i], nil
}

const (
	testPid  = 1200
	testTid  = 1204
	modBase  = 0x7ff600000000
	ntdllBas = 0x7ffa00000000
)

// newScenario returns a backend with a native 64-bit process whose thread
// is stopped inside main.work of app.exe.
func newScenario() *fakeBackend {
	b := newFakeBackend(MachineAMD64)
	b.addProcess(testPid, &fakeProcess{
		modules: []ModuleRecord{
			{Base: modBase, Size: 0x10000, Path: `C:\app\app.exe`, Name: "app.exe"},
			{Base: ntdllBas, Size: 0x20000, Path: `C:\Windows\System32\ntdll.dll`, Name: "ntdll.dll"},
		},
		syms: []fakeSym{
			{name: "work", start: modBase + 0x1000, end: modBase + 0x1100, file: `C:\app\work.c`, line: 42},
			{name: "main", start: modBase + 0x1100, end: modBase + 0x1200},
			{name: "RtlUserThreadStart", start: ntdllBas + 0x500, end: ntdllBas + 0x600},
		},
		mem: map[uint64][]byte{
			// nop; ret
			modBase + 0x1010: {0x90, 0xc3},
		},
	})
	b.addThread(testTid, &fakeThread{
		pid:  testPid,
		regs: fakeRegs{pc: modBase + 0x1010, sp: 0x5000, bp: 0x5040},
		frames: []Frame{
			{PC: modBase + 0x1010, Return: modBase + 0x1150, Stack: 0x5000, FrameBase: 0x5000},
			{PC: modBase + 0x1150, Return: ntdllBas + 0x520, Stack: 0x5040, FrameBase: 0x5040},
			{PC: ntdllBas + 0x520, Return: 0, Stack: 0x5080, FrameBase: 0x5080},
		},
	})
	return b
}
