// Package proc walks the call stack of a thread of a live process.
//
// proc implements the platform independent part of a walk:
// * opening the target process and thread, and releasing them on every path
// * deciding the architecture of the target and the shape of its register context
// * capturing the context of a briefly suspended thread and seeding the first frame
// * driving the unwinding primitive and resolving every frame to a module and symbol
//
// The operating system side is supplied by a Backend, see package native.
package proc
