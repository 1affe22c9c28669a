package kvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RunData is a VCPU's mmaped struct kvm_run. It decodes and encodes the fields
// vmm needs at their fixed offsets instead of aliasing the C struct.
//
//	0x00 u8  request_interrupt_window
//	0x01 u8  immediate_exit
//	0x08 u32 exit_reason
//	0x20     exit data union (256 bytes)
//
// The io member of the union:
//
//	0x20 u8  direction
//	0x21 u8  size
//	0x22 u16 port
//	0x24 u32 count
//	0x28 u64 data_offset
//
// The mmio member of the union:
//
//	0x20 u64 phys_addr
//	0x28 u8  data[8]
//	0x30 u32 len
//	0x34 u8  is_write
type RunData struct {
	b []byte
}

const (
	runImmediateExit = 0x01
	runExitReason    = 0x08
	runExitData      = 0x20

	ioDirection  = runExitData + 0x00
	ioSize       = runExitData + 0x01
	ioPort       = runExitData + 0x02
	ioCount      = runExitData + 0x04
	ioDataOffset = runExitData + 0x08

	mmioPhysAddr = runExitData + 0x00
	mmioData     = runExitData + 0x08
	mmioLen      = runExitData + 0x10
	mmioIsWrite  = runExitData + 0x14
)

// RunDataSize is the size of struct kvm_run. The mmaped region returned by
// GetVCPUMmapSize is at least this large; the rest holds PIO data pages.
const RunDataSize = 2352

// I/O exit directions
const (
	IODirIn  = 0
	IODirOut = 1
)

var ErrRunDataSize = errors.New("kvm: run data is too small")

var le = binary.LittleEndian

// NewRunData wraps a mmaped kvm_run region.
func NewRunData(b []byte) (*RunData, error) {
	if len(b) < RunDataSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrRunDataSize, len(b), RunDataSize)
	}

	return &RunData{b: b}, nil
}

// IOExitData describes a KVM_EXIT_IO vmexit.
type IOExitData struct {
	IsOut  bool
	Size   uint8
	Port   uint16
	Count  uint32
	Offset uint64
}

// Len is the number of data bytes moved by the exit.
func (d IOExitData) Len() int {
	return int(d.Size) * int(d.Count)
}

// MMIOExitData describes a KVM_EXIT_MMIO vmexit.
type MMIOExitData struct {
	PhysAddr uint64
	Data     [8]uint8
	Len      uint32
	IsWrite  bool
}

// Bytes returns the whole mmaped region.
func (r *RunData) Bytes() []byte {
	return r.b
}

func (r *RunData) ExitReason() Exit {
	return Exit(le.Uint32(r.b[runExitReason:]))
}

func (r *RunData) SetExitReason(e Exit) {
	le.PutUint32(r.b[runExitReason:], uint32(e))
}

func (r *RunData) ImmediateExit() bool {
	return r.b[runImmediateExit] != 0
}

// SetImmediateExit makes the next Run return EINTR without entering the guest.
func (r *RunData) SetImmediateExit(v bool) {
	var b uint8
	if v {
		b = 1
	}

	r.b[runImmediateExit] = b
}

// IOExitData decodes the io member of the exit data union. The result is
// meaningless unless ExitReason is ExitIO.
func (r *RunData) IOExitData() IOExitData {
	return IOExitData{
		IsOut:  r.b[ioDirection] == IODirOut,
		Size:   r.b[ioSize],
		Port:   le.Uint16(r.b[ioPort:]),
		Count:  le.Uint32(r.b[ioCount:]),
		Offset: le.Uint64(r.b[ioDataOffset:]),
	}
}

// SetIOExitData encodes d into the io member of the exit data union.
func (r *RunData) SetIOExitData(d IOExitData) {
	dir := uint8(IODirIn)
	if d.IsOut {
		dir = IODirOut
	}

	r.b[ioDirection] = dir
	r.b[ioSize] = d.Size
	le.PutUint16(r.b[ioPort:], d.Port)
	le.PutUint32(r.b[ioCount:], d.Count)
	le.PutUint64(r.b[ioDataOffset:], d.Offset)
}

// MMIOExitData decodes the mmio member of the exit data union. The result is
// meaningless unless ExitReason is ExitMMIO.
func (r *RunData) MMIOExitData() MMIOExitData {
	d := MMIOExitData{
		PhysAddr: le.Uint64(r.b[mmioPhysAddr:]),
		Len:      le.Uint32(r.b[mmioLen:]),
		IsWrite:  r.b[mmioIsWrite] != 0,
	}

	copy(d.Data[:], r.b[mmioData:])
	return d
}

// SetMMIOExitData encodes d into the mmio member of the exit data union.
func (r *RunData) SetMMIOExitData(d MMIOExitData) {
	le.PutUint64(r.b[mmioPhysAddr:], d.PhysAddr)
	copy(r.b[mmioData:mmioData+8], d.Data[:])
	le.PutUint32(r.b[mmioLen:], d.Len)

	var w uint8
	if d.IsWrite {
		w = 1
	}

	r.b[mmioIsWrite] = w
}

// Data returns the n bytes at off in the mmaped region. PIO exits put their data
// there. It returns ErrRunDataSize if the range is out of bounds.
func (r *RunData) Data(off uint64, n int) ([]byte, error) {
	if n < 0 || off > uint64(len(r.b)) || uint64(n) > uint64(len(r.b))-off {
		return nil, fmt.Errorf("%w: data [%#x, +%d) exceeds %#x", ErrRunDataSize, off, n, len(r.b))
	}

	return r.b[off : off+uint64(n)], nil
}
