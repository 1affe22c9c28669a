//go:build linux

// Package linux loads Linux kernel images for a flat 32-bit protected-mode boot.
package linux

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/c35s/flatvm/vmm"
	"github.com/c35s/flatvm/vmm/memory"
)

// Loader prepares the VM to boot a Linux kernel at its 32-bit entry point.
// There is no initrd.
type Loader struct {

	// Kernel is the whole kernel image: the real-mode setup code followed by
	// the protected-mode kernel.
	Kernel []byte
}

var _ vmm.Loader = (*Loader)(nil)

const (
	ZeropageAddr = 0x000010000
	CmdlineAddr  = 0x000020000
	KernelAddr   = 0x000100000
)

// SetupPrefixSize is the size of the part of the image that isn't copied to
// KernelAddr. It is always one sector: setup_sects is never consulted, so
// images with more than one setup sector load their setup code's tail at
// KernelAddr.
const SetupPrefixSize = 512

// Cmdline is the kernel command line every guest gets, with its terminating NUL.
const Cmdline = "console=tty0\x00"

// loadflags

const (
	loadedHigh   = 1 << 0 // protected-mode code is loaded at 0x100000
	keepSegments = 1 << 6 // do not reload the segment registers
	canUseHeap   = 1 << 7 // heap_end_ptr is valid
)

// heapEndPtr is the offset of the end of the setup heap from the start of the
// real-mode code.
const heapEndPtr = 0xfe00

var (
	ErrEmptyImage    = errors.New("linux: kernel image is empty")
	ErrImageTooLarge = errors.New("linux: kernel image doesn't fit in guest memory")
)

func (l *Loader) LoadMemory(info vmm.VMInfo, mem *memory.Arena) error {
	img := l.Kernel
	if len(img) == 0 {
		return ErrEmptyImage
	}

	payload := img[min(len(img), SetupPrefixSize):]

	if need := KernelAddr + len(payload); mem.Size() < need {
		return fmt.Errorf("%w: need %#x bytes, have %#x", ErrImageTooLarge, need, mem.Size())
	}

	// start from a clean zeropage holding the image's first 4K
	zp, err := mem.Slice(ZeropageAddr, ZeropageSize)
	if err != nil {
		return err
	}

	clear(zp)
	copy(zp, img[:min(len(img), ZeropageSize)])

	bp, err := ParseBootParams(zp)
	switch {
	case errors.Is(err, ErrSetupHeaderMagic):
		slog.Warn("kernel image has no setup header", "err", err)

	case err != nil:
		return err
	}

	hdr := &bp.Hdr

	slog.Debug("loading kernel",
		"size", len(img),
		"setup_sects", hdr.SetupSects,
		"version", fmt.Sprintf("%#x", hdr.Version),
		"cmdline_size", hdr.CmdlineSize)

	hdr.VidMode = 0xffff
	hdr.TypeOfLoader = 0xff
	hdr.RamdiskImage = 0
	hdr.RamSize = 0
	hdr.Loadflags |= loadedHigh | keepSegments | canUseHeap
	hdr.HeapEndPtr = heapEndPtr
	hdr.ExtLoaderVer = 0
	hdr.CmdLinePtr = CmdlineAddr

	b, err := bp.MarshalBinary()
	if err != nil {
		return err
	}

	copy(zp, b)

	// clear as much of the cmdline as the kernel says it reads, but don't
	// run into the kernel
	if err := mem.Zero(CmdlineAddr, min(int(hdr.CmdlineSize), KernelAddr-CmdlineAddr)); err != nil {
		return err
	}

	if _, err := mem.WriteAt([]byte(Cmdline), CmdlineAddr); err != nil {
		return err
	}

	if _, err := mem.WriteAt(payload, KernelAddr); err != nil {
		return fmt.Errorf("%w: %w", ErrImageTooLarge, err)
	}

	return nil
}

// Entry returns the protected-mode kernel's address and the zeropage address.
func (l *Loader) Entry() (ip, params uint64) {
	return KernelAddr, ZeropageAddr
}
