// Package tracer provides a higher level of abstraction over proc: it
// keeps attached targets between requests, bounds walks in time and walks
// many threads and processes at once.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
	"github.com/powerwalker/pwalk/service/api"
)

// DefaultConcurrency is the number of processes TraceProcesses walks at
// the same time when Config.Concurrency is not set.
const DefaultConcurrency = 4

// ErrTracerClosed is returned by every operation after Close.
var ErrTracerClosed = errors.New("tracer closed")

// Config provides the configuration to start a Tracer.
type Config struct {
	// Walk is used to attach to every target.
	Walk proc.Config
	// SessionCacheSize is the number of targets kept attached between
	// requests. With zero every request attaches and detaches.
	SessionCacheSize int
	// Concurrency bounds the number of processes walked at the same time
	// by TraceProcesses.
	Concurrency int
}

// Tracer service.
//
// Tracer owns the backend and the targets attached through it. All
// methods are safe for concurrent use; walks of the same process are
// serialized by the target, walks of different processes run in
// parallel.
type Tracer struct {
	backend proc.Backend
	config  Config
	log     logflags.Logger

	mu      sync.Mutex
	closed  bool
	targets *lru.Cache
	opens   singleflight.Group
	// closing tracks evicted targets being closed in the background.
	closing sync.WaitGroup
}

// ThreadTrace is the outcome of the walk of one thread.
type ThreadTrace struct {
	Tid   int
	Trace *proc.StackTrace
	Err   error
}

// ProcessTrace is the outcome of the walk of every thread of a process.
type ProcessTrace struct {
	Pid     int
	Threads []ThreadTrace
	// Err is set when the threads of the process could not be listed.
	Err error
}

// New creates a new Tracer using backend b.
func New(b proc.Backend, config Config) (*Tracer, error) {
	t := &Tracer{
		backend: b,
		config:  config,
		log:     logflags.TracerLogger(),
	}
	if config.SessionCacheSize > 0 {
		cache, err := lru.NewWithEvict(config.SessionCacheSize, t.onEvict)
		if err != nil {
			return nil, err
		}
		t.targets = cache
	}
	return t, nil
}

func (t *Tracer) onEvict(key, value interface{}) {
	tgt := value.(*proc.Target)
	t.log.Debugf("detaching from process %d", tgt.Pid())
	// Close waits for a walk in progress, which must not hold up the
	// cache.
	t.closing.Add(1)
	go func() {
		defer t.closing.Done()
		if err := tgt.Close(); err != nil {
			t.log.Errorf("could not detach from process %d: %v", tgt.Pid(), err)
		}
	}()
}

// withTarget runs fn on the target attached to pid. A target evicted
// while fn was about to use it is attached again once.
func (t *Tracer) withTarget(pid int, fn func(*proc.Target) error) error {
	for attempt := 0; ; attempt++ {
		tgt, release, err := t.target(pid)
		if err != nil {
			return err
		}
		err = func() error {
			defer release()
			return fn(tgt)
		}()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, proc.ErrTargetClosed) && attempt == 0 && t.targets != nil:
			continue
		case processGone(err) && t.targets != nil:
			t.targets.Remove(pid)
		}
		return err
	}
}

// processGone returns true if err means that the process itself, not
// one of its threads, could not be found.
func processGone(err error) bool {
	var werr *proc.WalkError
	if !errors.As(err, &werr) {
		return false
	}
	return werr.Kind == proc.TargetNotFound && werr.Tid == 0
}

// target returns the target attached to pid and a function that must be
// called once the caller is done with it.
func (t *Tracer) target(pid int) (*proc.Target, func(), error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, nil, ErrTracerClosed
	}

	if t.targets == nil {
		tgt, err := proc.Attach(t.backend, pid, t.config.Walk)
		if err != nil {
			return nil, nil, err
		}
		return tgt, func() {
			if err := tgt.Close(); err != nil {
				t.log.Errorf("could not detach from process %d: %v", pid, err)
			}
		}, nil
	}

	if v, ok := t.targets.Get(pid); ok {
		return v.(*proc.Target), func() {}, nil
	}
	v, err, _ := t.opens.Do(strconv.Itoa(pid), func() (interface{}, error) {
		if v, ok := t.targets.Get(pid); ok {
			return v, nil
		}
		t.log.Debugf("attaching to process %d", pid)
		tgt, err := proc.Attach(t.backend, pid, t.config.Walk)
		if err != nil {
			return nil, err
		}
		t.targets.Add(pid, tgt)
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			// Close already purged the cache.
			t.targets.Remove(pid)
			return nil, ErrTracerClosed
		}
		return tgt, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return v.(*proc.Target), func() {}, nil
}

// Stacktrace walks thread tid of process pid.
func (t *Tracer) Stacktrace(pid, tid int) (*proc.StackTrace, error) {
	var st *proc.StackTrace
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		st, err = tgt.Stacktrace(tid)
		return err
	})
	return st, err
}

// GetStackTrace walks thread tid of process pid, giving up when ctx is
// done. A walk that is given up keeps running in the background until it
// has resumed the thread and released its handles; its result is
// discarded.
func (t *Tracer) GetStackTrace(ctx context.Context, pid, tid int) (*proc.StackTrace, error) {
	type result struct {
		st  *proc.StackTrace
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if ierr := recover(); ierr != nil {
				r.st, r.err = nil, fmt.Errorf("walk of thread %d of process %d panicked: %v", tid, pid, ierr)
				t.log.Errorf("%v", r.err)
			}
			ch <- r
		}()
		r.st, r.err = t.Stacktrace(pid, tid)
	}()

	select {
	case r := <-ch:
		return r.st, r.err
	case <-ctx.Done():
		t.log.Warnf("walk of thread %d of process %d abandoned: %v", tid, pid, ctx.Err())
		return nil, ctx.Err()
	}
}

// TraceProcess walks every thread of process pid, one at a time. Threads
// that fail are reported in their ThreadTrace, only a failure to list the
// threads or the end of ctx fail the whole call.
func (t *Tracer) TraceProcess(ctx context.Context, pid int) ([]ThreadTrace, error) {
	tids, err := t.Threads(pid)
	if err != nil {
		return nil, err
	}
	r := make([]ThreadTrace, 0, len(tids))
	for _, tid := range tids {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		st, err := t.GetStackTrace(ctx, pid, tid)
		if err != nil && ctx.Err() != nil {
			return r, ctx.Err()
		}
		r = append(r, ThreadTrace{Tid: tid, Trace: st, Err: err})
	}
	return r, nil
}

// TraceProcesses walks every thread of every process in pids, walking up
// to Config.Concurrency processes at the same time. The result is in the
// order of pids.
func (t *Tracer) TraceProcesses(ctx context.Context, pids []int) ([]ProcessTrace, error) {
	r := make([]ProcessTrace, len(pids))
	g, gctx := errgroup.WithContext(ctx)
	limit := t.config.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	for i, pid := range pids {
		i, pid := i, pid
		g.Go(func() error {
			threads, err := t.TraceProcess(gctx, pid)
			r[i] = ProcessTrace{Pid: pid, Threads: threads}
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				r[i].Err = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return r, err
	}
	return r, nil
}

// Threads lists the threads of process pid, sorted by id.
func (t *Tracer) Threads(pid int) ([]int, error) {
	var tids []int
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		tids, err = tgt.Threads()
		return err
	})
	sort.Ints(tids)
	return tids, err
}

// Modules lists the modules of process pid matching filter, sorted by
// base address.
func (t *Tracer) Modules(pid int, filter proc.ModuleFilter) ([]proc.ModuleRecord, error) {
	var mods []proc.ModuleRecord
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		mods, err = tgt.Modules(filter)
		return err
	})
	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return mods, err
}

// Registers captures the register context of thread tid of process pid.
func (t *Tracer) Registers(pid, tid int) ([]winutil.Register, error) {
	var regs []winutil.Register
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		regs, err = tgt.Registers(tid)
		return err
	})
	return regs, err
}

// Reload registers the modules process pid loaded since its last walk and
// returns how many there were.
func (t *Tracer) Reload(pid int) (int, error) {
	var n int
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		n, err = tgt.ReloadModules()
		return err
	})
	return n, err
}

// ReadMemory reads n bytes of the memory of process pid at addr.
func (t *Tracer) ReadMemory(pid int, addr uint64, n int) ([]byte, error) {
	var mem []byte
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		var err error
		mem, err = tgt.ReadMemory(addr, n)
		return err
	})
	return mem, err
}

// Info summarizes process pid. The address of the process environment
// block is left zero when it can not be read.
func (t *Tracer) Info(pid int) (*api.ProcessInfo, error) {
	var info *api.ProcessInfo
	err := t.withTarget(pid, func(tgt *proc.Target) error {
		arch := tgt.Arch()
		mods, err := tgt.Modules(arch.ModuleFilter())
		if err != nil {
			return err
		}
		tids, err := tgt.Threads()
		if err != nil {
			return err
		}
		peb, err := tgt.PEBAddress()
		if err != nil {
			t.log.Debugf("could not read PEB address of process %d: %v", pid, err)
		}
		info = &api.ProcessInfo{
			Pid:      pid,
			Arch:     arch.Machine.String(),
			Emulated: arch.Emulated,
			PEB:      peb,
			Modules:  len(mods),
			Threads:  len(tids),
		}
		return nil
	})
	return info, err
}

// Close detaches from every cached target. Walks abandoned by
// GetStackTrace may still be running, they finish on their own.
func (t *Tracer) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.targets != nil {
		t.targets.Purge()
	}
	t.closing.Wait()
	return nil
}
