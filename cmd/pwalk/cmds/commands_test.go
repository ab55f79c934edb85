package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/powerwalker/pwalk/pkg/config"
	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
	"github.com/powerwalker/pwalk/pkg/terminal"
	"github.com/powerwalker/pwalk/service/api"
	"github.com/powerwalker/pwalk/service/tracer"
)

const testBase = 0x7ff600000000

type fakeService struct {
	cfg    tracer.Config
	closed bool
	pids   []int
	ctx    context.Context
}

func gone(pid int) error {
	return &proc.WalkError{Kind: proc.TargetNotFound, Pid: pid, Op: "OpenProcess"}
}

func (s *fakeService) GetStackTrace(ctx context.Context, pid, tid int) (*proc.StackTrace, error) {
	s.ctx = ctx
	if pid != 10 {
		return nil, gone(pid)
	}
	if tid != 11 {
		return nil, &proc.WalkError{Kind: proc.TargetNotFound, Pid: pid, Tid: tid, Op: "OpenThread"}
	}
	return &proc.StackTrace{
		WalkID: "w1",
		Pid:    pid,
		Tid:    tid,
		Arch:   proc.Arch{Machine: proc.MachineI386, Emulated: true},
		Calls: []proc.StackCall{
			{PC: 0x401010, Return: 0, Symbol: proc.ResolvedSymbol{Name: "main", Offset: 0x10, Module: "app32.exe", ModuleBase: 0x400000}},
		},
	}, nil
}

func (s *fakeService) TraceProcess(ctx context.Context, pid int) ([]tracer.ThreadTrace, error) {
	if pid != 10 {
		return nil, gone(pid)
	}
	st, err := s.GetStackTrace(ctx, pid, 11)
	return []tracer.ThreadTrace{{Tid: 11, Trace: st, Err: err}}, nil
}

func (s *fakeService) TraceProcesses(ctx context.Context, pids []int) ([]tracer.ProcessTrace, error) {
	s.pids = pids
	var r []tracer.ProcessTrace
	for _, pid := range pids {
		tt, err := s.TraceProcess(ctx, pid)
		r = append(r, tracer.ProcessTrace{Pid: pid, Threads: tt, Err: err})
	}
	return r, nil
}

func (s *fakeService) Threads(pid int) ([]int, error) {
	if pid != 10 {
		return nil, gone(pid)
	}
	return []int{11}, nil
}

func (s *fakeService) Modules(pid int, filter proc.ModuleFilter) ([]proc.ModuleRecord, error) {
	if filter != proc.ModulesAll {
		return nil, errors.New("unexpected filter")
	}
	return []proc.ModuleRecord{{Base: 0x400000, Size: 0x1000, Name: "app32.exe", Path: `C:\app32.exe`}}, nil
}

func (s *fakeService) Registers(pid, tid int) ([]winutil.Register, error) {
	return []winutil.Register{{Name: "Eip", Value: 0x401010}}, nil
}

func (s *fakeService) Reload(pid int) (int, error) { return 0, nil }

func (s *fakeService) ReadMemory(pid int, addr uint64, n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (s *fakeService) Info(pid int) (*api.ProcessInfo, error) {
	return &api.ProcessInfo{Pid: pid, Arch: "x86", Emulated: true, PEB: 0x2000, Modules: 1, Threads: 1}, nil
}

func (s *fakeService) Close() error {
	s.closed = true
	return nil
}

// run executes the command line args against a fake service and returns
// what was printed.
func run(t *testing.T, args ...string) (string, *fakeService, error) {
	t.Helper()
	svc := &fakeService{}
	buf := new(bytes.Buffer)

	oldOpen, oldPrinter := openService, newPrinter
	t.Cleanup(func() {
		openService, newPrinter = oldOpen, oldPrinter
		format = formatFlag(terminal.FormatText)
	})
	openService = func(cfg tracer.Config) (service, error) {
		svc.cfg = cfg
		return svc, nil
	}
	newPrinter = func(conf *config.Config) *terminal.Printer {
		return terminal.NewPrinter(buf, terminal.Format(format), false)
	}

	root := New(false)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "config.yml")}, args...))
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	err := root.Execute()
	return buf.String(), svc, err
}

func TestTraceCommand(t *testing.T) {
	out, svc, err := run(t, "trace", "10", "11")
	require.NoError(t, err)
	require.Contains(t, out, "thread 11 of process 10 (x86, emulated)")
	require.Contains(t, out, "app32.exe!main+0x10")
	require.Contains(t, out, "0x00401010")
	require.True(t, svc.closed)
	require.Equal(t, config.DefaultMaxFrames, svc.cfg.Walk.MaxFrames)
	require.Equal(t, proc.DefaultProcessAccess, svc.cfg.Walk.ProcessAccess)
	_, ok := svc.ctx.Deadline()
	require.False(t, ok)

	_, _, err = run(t, "trace", "10", "12")
	require.ErrorIs(t, err, proc.TargetNotFound)

	out, _, err = run(t, "trace", "10", "11", "12")
	require.NoError(t, err)
	require.Contains(t, out, "thread 12 of process 10: process 10 thread 12: OpenThread: target not found")

	_, _, err = run(t, "trace", "ten")
	require.EqualError(t, err, `invalid process id "ten"`)
	_, _, err = run(t, "trace")
	require.Error(t, err)
}

func TestTraceCommandFlags(t *testing.T) {
	out, svc, err := run(t, "--max-frames", "7", "--timeout", "3s", "--process-access", "query-limited,vm-read",
		"--show-instruction", "--symbol-path", `D:\sym`, "-f", "json", "trace", "10")
	require.NoError(t, err)
	require.Equal(t, 7, svc.cfg.Walk.MaxFrames)
	require.Equal(t, proc.ProcessQueryLimitedInformation|proc.ProcessVMRead, svc.cfg.Walk.ProcessAccess)
	require.Equal(t, proc.DefaultThreadAccess, svc.cfg.Walk.ThreadAccess)
	require.True(t, svc.cfg.Walk.ShowInstruction)
	require.Equal(t, `D:\sym`, svc.cfg.Walk.SymbolSearchPath)
	_, ok := svc.ctx.Deadline()
	require.True(t, ok)

	var traces []api.StackTrace
	require.NoError(t, json.Unmarshal([]byte(out), &traces))
	require.Len(t, traces, 1)
	require.Equal(t, "main", traces[0].Frames[0].Function)

	_, _, err = run(t, "--thread-access", "everything", "trace", "10")
	require.Error(t, err)
	_, _, err = run(t, "--format", "xml", "trace", "10")
	require.Error(t, err)
}

func TestSweepCommand(t *testing.T) {
	out, svc, err := run(t, "sweep", "10", "20", "--concurrency", "2")
	require.NoError(t, err)
	require.Equal(t, []int{10, 20}, svc.pids)
	require.Equal(t, 2, svc.cfg.Concurrency)
	require.Contains(t, out, "=== process 10")
	require.Contains(t, out, "process 20: process 20: OpenProcess: target not found")
}

func TestProcessCommands(t *testing.T) {
	out, _, err := run(t, "modules", "10", "all")
	require.NoError(t, err)
	require.Contains(t, out, `C:\app32.exe`)

	out, _, err = run(t, "threads", "10")
	require.NoError(t, err)
	require.Equal(t, "Thread 11\n", out)

	out, _, err = run(t, "info", "10")
	require.NoError(t, err)
	require.Contains(t, out, "x86 (emulated)")

	out, _, err = run(t, "regs", "10", "11")
	require.NoError(t, err)
	require.Contains(t, out, "Eip")

	_, _, err = run(t, "threads", "30")
	require.ErrorIs(t, err, proc.TargetNotFound)
	_, _, err = run(t, "modules", "10", "128")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "pwalk\nVersion: ")
}

func TestTracerConfig(t *testing.T) {
	n := 12
	cfg, err := tracerConfig(&config.Config{MaxFrames: &n, DisassembleFlavor: "gnu", ThreadAccess: []string{"all"}})
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Walk.MaxFrames)
	require.Equal(t, proc.GNUFlavour, cfg.Walk.Flavour)
	require.Equal(t, proc.ThreadAllAccess, cfg.Walk.ThreadAccess)
	require.Equal(t, config.DefaultSessionCacheSize, cfg.SessionCacheSize)
	require.Equal(t, config.DefaultSymbolCacheSize, cfg.Walk.SymbolCacheSize)

	_, err = tracerConfig(&config.Config{DisassembleFlavor: "plan9"})
	require.Error(t, err)
}
