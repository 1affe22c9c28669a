package kvm

import (
	"errors"
	"fmt"
)

// CPUIDEntry2 corresponds to the C struct kvm_cpuid_entry2.
type CPUIDEntry2 struct {
	Function uint32
	Index    uint32
	Flags    uint32
	EAX      uint32
	EBX      uint32
	ECX      uint32
	EDX      uint32
}

// MaxCPUIDEntries bounds the entries exchanged with KVM in one call.
const MaxCPUIDEntries = 256

const (
	cpuid2HeaderSize = 8  // __u32 nent; __u32 padding;
	cpuidEntrySize   = 40 // 10 x __u32, last 3 are padding
)

var ErrCPUIDEntries = errors.New("kvm: bad cpuid entry count")

// marshalCPUID2 encodes entries as a struct kvm_cpuid2 with room for max entries.
// The nent field is set to len(entries).
func marshalCPUID2(entries []CPUIDEntry2, max int) ([]byte, error) {
	if len(entries) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrCPUIDEntries, len(entries), max)
	}

	b := make([]byte, cpuid2HeaderSize+max*cpuidEntrySize)
	le.PutUint32(b[0:], uint32(len(entries)))

	for i, e := range entries {
		o := b[cpuid2HeaderSize+i*cpuidEntrySize:]
		le.PutUint32(o[0:], e.Function)
		le.PutUint32(o[4:], e.Index)
		le.PutUint32(o[8:], e.Flags)
		le.PutUint32(o[12:], e.EAX)
		le.PutUint32(o[16:], e.EBX)
		le.PutUint32(o[20:], e.ECX)
		le.PutUint32(o[24:], e.EDX)
	}

	return b, nil
}

// unmarshalCPUID2 decodes a struct kvm_cpuid2.
func unmarshalCPUID2(b []byte) ([]CPUIDEntry2, error) {
	if len(b) < cpuid2HeaderSize {
		return nil, fmt.Errorf("%w: short header", ErrCPUIDEntries)
	}

	n := int(le.Uint32(b))
	if cpuid2HeaderSize+n*cpuidEntrySize > len(b) {
		return nil, fmt.Errorf("%w: %d entries don't fit in %d bytes", ErrCPUIDEntries, n, len(b))
	}

	entries := make([]CPUIDEntry2, n)
	for i := range entries {
		o := b[cpuid2HeaderSize+i*cpuidEntrySize:]
		entries[i] = CPUIDEntry2{
			Function: le.Uint32(o[0:]),
			Index:    le.Uint32(o[4:]),
			Flags:    le.Uint32(o[8:]),
			EAX:      le.Uint32(o[12:]),
			EBX:      le.Uint32(o[16:]),
			ECX:      le.Uint32(o[20:]),
			EDX:      le.Uint32(o[24:]),
		}
	}

	return entries, nil
}
