//go:build !windows

package native

import "github.com/powerwalker/pwalk/pkg/proc"

// Backend is never constructed on this platform.
type Backend struct {
	proc.Backend
}

// New returns ErrNotSupported.
func New() (*Backend, error) {
	return nil, ErrNotSupported
}

// Close does nothing.
func (b *Backend) Close() error {
	return nil
}
