// Package memory manages guest physical memory: the host buffer that backs it
// and the regions it is registered as.
package memory

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrOutOfBounds = errors.New("memory: access out of bounds")
	ErrOverlap     = errors.New("memory: regions overlap")
	ErrSlotInUse   = errors.New("memory: slot in use")
	ErrRegion      = errors.New("memory: invalid region")
)

// Arena is a contiguous guest RAM buffer addressed by guest physical offset.
// All accessors are bounds-checked.
type Arena struct {
	buf []byte
}

var (
	_ io.ReaderAt = (*Arena)(nil)
	_ io.WriterAt = (*Arena)(nil)
)

// NewArena wraps buf, which must already be zeroed.
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Size is the size of the arena in bytes.
func (a *Arena) Size() int {
	return len(a.buf)
}

// Bytes returns the whole backing buffer.
func (a *Arena) Bytes() []byte {
	return a.buf
}

func (a *Arena) check(addr uint64, n int) error {
	if n < 0 || addr > uint64(len(a.buf)) || uint64(n) > uint64(len(a.buf))-addr {
		return fmt.Errorf("%w: [%#x, +%#x) exceeds %#x", ErrOutOfBounds, addr, n, len(a.buf))
	}

	return nil
}

// Slice returns the n bytes at addr. Writes to the slice are visible to the guest.
func (a *Arena) Slice(addr uint64, n int) ([]byte, error) {
	if err := a.check(addr, n); err != nil {
		return nil, err
	}

	return a.buf[addr : addr+uint64(n)], nil
}

// Zero clears the n bytes at addr.
func (a *Arena) Zero(addr uint64, n int) error {
	b, err := a.Slice(addr, n)
	if err != nil {
		return err
	}

	clear(b)
	return nil
}

// ReadAt implements io.ReaderAt. Unlike most readers it never returns a short
// read; the whole range must be in bounds.
func (a *Arena) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}

	b, err := a.Slice(uint64(off), len(p))
	if err != nil {
		return 0, err
	}

	return copy(p, b), nil
}

// WriteAt implements io.WriterAt. The whole range must be in bounds.
func (a *Arena) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, off)
	}

	b, err := a.Slice(uint64(off), len(p))
	if err != nil {
		return 0, err
	}

	return copy(b, p), nil
}
