package tracer

import (
	"errors"
	"sort"
	"sync"

	"github.com/powerwalker/pwalk/pkg/proc"
)

type fakeProcess struct {
	modules []proc.ModuleRecord
	threads map[int][]proc.Frame
}

// fakeBackend is a minimal in-memory proc.Backend of 64-bit processes.
type fakeBackend struct {
	mu sync.Mutex

	procs   map[int]*fakeProcess
	handles map[proc.Handle]int
	owner   map[proc.Handle]int
	next    proc.Handle
	suspend map[int]int

	opens map[int]int

	// block, when set, holds every step until it is closed.
	block     chan struct{}
	panicStep bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		procs:   make(map[int]*fakeProcess),
		handles: make(map[proc.Handle]int),
		owner:   make(map[proc.Handle]int),
		next:    0x100,
		suspend: make(map[int]int),
		opens:   make(map[int]int),
	}
}

func frames(base uint64, n int) []proc.Frame {
	r := make([]proc.Frame, n)
	for i := range r {
		r[i] = proc.Frame{PC: base + uint64(i)*0x100, Stack: 0x5000 + uint64(i)*0x40}
		r[i].FrameBase = r[i].Stack
		if i < n-1 {
			r[i].Return = base + uint64(i+1)*0x100
		}
	}
	return r
}

func (b *fakeBackend) addProcess(pid int, tids ...int) {
	p := &fakeProcess{
		modules: []proc.ModuleRecord{{Base: 0x140000000, Size: 0x100000, Path: `C:\app.exe`, Name: "app.exe"}},
		threads: make(map[int][]proc.Frame),
	}
	for _, tid := range tids {
		p.threads[tid] = frames(0x140001000, 3)
	}
	b.mu.Lock()
	b.procs[pid] = p
	b.mu.Unlock()
}

func (b *fakeBackend) removeProcess(pid int) {
	b.mu.Lock()
	delete(b.procs, pid)
	b.mu.Unlock()
}

func (b *fakeBackend) openHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func (b *fakeBackend) processOpens(pid int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens[pid]
}

func (b *fakeBackend) suspended() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.suspend {
		n += c
	}
	return n
}

func (b *fakeBackend) threadOwner(tid int) (int, bool) {
	for pid, p := range b.procs {
		if _, ok := p.threads[tid]; ok {
			return pid, true
		}
	}
	return 0, false
}

func (b *fakeBackend) newHandle(id int) proc.Handle {
	b.next += 4
	b.handles[b.next] = id
	return b.next
}

var errNotFound = proc.NewKindError(proc.TargetNotFound, errors.New("the parameter is incorrect"))

func (b *fakeBackend) OpenProcess(pid int, access proc.ProcessAccess) (proc.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.procs[pid]; !ok {
		return 0, errNotFound
	}
	b.opens[pid]++
	h := b.newHandle(pid)
	b.owner[h] = pid
	return h, nil
}

func (b *fakeBackend) OpenThread(tid int, access proc.ThreadAccess) (proc.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pid, ok := b.threadOwner(tid)
	if !ok {
		return 0, errNotFound
	}
	h := b.newHandle(tid)
	b.owner[h] = pid
	return h, nil
}

func (b *fakeBackend) ThreadProcessID(thread proc.Handle) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner[thread], nil
}

func (b *fakeBackend) CloseHandle(h proc.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handles[h]; !ok {
		return errors.New("invalid handle")
	}
	delete(b.handles, h)
	delete(b.owner, h)
	return nil
}

func (b *fakeBackend) NativeMachine() (proc.Machine, error) { return proc.MachineAMD64, nil }
func (b *fakeBackend) HostMachine() proc.Machine            { return proc.MachineAMD64 }

func (b *fakeBackend) IsWow64Process(process proc.Handle) (bool, error) { return false, nil }

func (b *fakeBackend) SuspendThread(thread proc.Handle, emulated bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suspend[b.handles[thread]]++
	return nil
}

func (b *fakeBackend) ResumeThread(thread proc.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.suspend[b.handles[thread]]--
	return nil
}

func (b *fakeBackend) GetThreadContext(thread proc.Handle, ctx *proc.RegisterContext, emulated bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tid := b.handles[thread]
	pid := b.owner[thread]
	p, ok := b.procs[pid]
	if !ok {
		return errors.New("thread exited")
	}
	f := p.threads[tid][0]
	ctx.AMD64.Rip = f.PC
	ctx.AMD64.Rsp = f.Stack
	return nil
}

func (b *fakeBackend) EnumProcessModules(process proc.Handle, filter proc.ModuleFilter) ([]proc.ModuleRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.procs[b.owner[process]]
	if !ok {
		return nil, errNotFound
	}
	return append([]proc.ModuleRecord(nil), p.modules...), nil
}

func (b *fakeBackend) ReadMemory(process proc.Handle, addr uint64, buf []byte) (int, error) {
	return 0, errors.New("partial copy")
}

func (b *fakeBackend) ThreadIDs(pid int) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.procs[pid]
	if !ok {
		return nil, errNotFound
	}
	var r []int
	for tid := range p.threads {
		r = append(r, tid)
	}
	sort.Ints(r)
	return r, nil
}

func (b *fakeBackend) PEBAddress(process proc.Handle) (uint64, error) { return 0x3f000, nil }

func (b *fakeBackend) SymInitialize(process proc.Handle, searchPath string) error     { return nil }
func (b *fakeBackend) SymLoadModule(process proc.Handle, mod proc.ModuleRecord) error { return nil }
func (b *fakeBackend) SymCleanup(process proc.Handle) error                           { return nil }

func (b *fakeBackend) SymFromAddr(process proc.Handle, addr uint64) (string, uint64, error) {
	return "", 0, errors.New("no symbol")
}

func (b *fakeBackend) SymLineFromAddr(process proc.Handle, addr uint64) (string, int, error) {
	return "", 0, errors.New("no line")
}

func (b *fakeBackend) BeginUnwind(process, thread proc.Handle, arch proc.Arch, seed proc.Frame, ctx *proc.RegisterContext) (proc.Stepper, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tid := b.handles[thread]
	fs := b.procs[b.owner[thread]].threads[tid]
	return &fakeStepper{b: b, frames: fs}, nil
}

type fakeStepper struct {
	b      *fakeBackend
	frames []proc.Frame
	i      int
}

func (s *fakeStepper) Step() (proc.Frame, error) {
	s.b.mu.Lock()
	block, panicStep := s.b.block, s.b.panicStep
	s.b.mu.Unlock()
	if block != nil {
		<-block
	}
	if panicStep {
		panic("unwinder crashed")
	}
	if s.i >= len(s.frames) {
		return proc.Frame{}, errors.New("end of stack")
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}
