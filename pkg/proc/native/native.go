// Package native implements the operating system side of a stack walk,
// proc.Backend, on top of the Windows process, thread and dbghelp APIs.
package native

import "errors"

// ErrNotSupported is returned by New on platforms without the Windows
// debugging APIs.
var ErrNotSupported = errors.New("stack walking is only supported on windows")

// ErrBackendClosed is returned by symbol operations after Close.
var ErrBackendClosed = errors.New("backend closed")
