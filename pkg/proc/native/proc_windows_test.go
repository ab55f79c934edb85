package native

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"

	"github.com/powerwalker/pwalk/pkg/proc"
)

func TestWrapErr(t *testing.T) {
	require.NoError(t, wrapErr(nil, "OpenThread"))

	err := wrapErr(windows.ERROR_ACCESS_DENIED, "OpenThread")
	require.Equal(t, proc.AccessDenied, proc.KindOf(err))
	require.ErrorIs(t, err, windows.ERROR_ACCESS_DENIED)
	require.Contains(t, err.Error(), "OpenThread")

	err = wrapErr(windows.ERROR_INVALID_PARAMETER, "OpenProcess")
	require.Equal(t, proc.TargetNotFound, proc.KindOf(err))

	err = wrapErr(windows.ERROR_NOT_ENOUGH_MEMORY, "GetThreadContext")
	require.Equal(t, proc.ErrorKind(0), proc.KindOf(err))
}

func TestSymbolInfoLayout(t *testing.T) {
	var si _SYMBOL_INFOW
	require.Equal(t, uintptr(84), unsafe.Offsetof(si.Name))
	require.Equal(t, uintptr(48), unsafe.Offsetof(si.Value))
}

func TestContextPointer(t *testing.T) {
	ctx, err := proc.NewRegisterContext(proc.Arch{Machine: proc.MachineAMD64})
	require.NoError(t, err)
	p, err := contextPointer(ctx)
	require.NoError(t, err)
	require.Equal(t, unsafe.Pointer(ctx.AMD64), p)

	_, err = contextPointer(&proc.RegisterContext{Machine: proc.MachineI386})
	require.Equal(t, proc.UnsupportedArchitecture, proc.KindOf(err))
}

func TestCurrentProcess(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	defer b.Close()

	pid := int(windows.GetCurrentProcessId())
	h, err := b.OpenProcess(pid, proc.DefaultProcessAccess)
	require.NoError(t, err)
	defer b.CloseHandle(h)

	mods, err := b.EnumProcessModules(h, proc.ModulesAll)
	require.NoError(t, err)
	require.NotEmpty(t, mods)

	tids, err := b.ThreadIDs(pid)
	require.NoError(t, err)
	require.Contains(t, tids, int(windows.GetCurrentThreadId()))
}

func TestClosedBackend(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.ErrorIs(t, b.SymCleanup(0), ErrBackendClosed)
}
