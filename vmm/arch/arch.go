//go:build linux

// Package arch holds the architecture-specific parts of VM setup: required
// extensions, reserved platform windows, memory partitioning, and the register
// and cpuid state a vcpu starts with.
package arch

import (
	"errors"
	"unsafe"

	"github.com/c35s/flatvm/vmm/memory"
)

// ErrUnsupported is returned by every register setup function on architectures
// other than amd64. Only flat 32-bit protected-mode entry is implemented.
var ErrUnsupported = errors.New("arch: unsupported architecture")

const (
	MMIOHoleAddr      = 0x0d0000000
	AfterMMIOHoleAddr = 0x100000000
)

// Reserved guest physical windows used internally by VMX. Neither is RAM and
// neither may overlap a memory region.
const (
	TSSAddr         = 0xffffd000
	TSSSize         = 0x3000
	IdentityMapAddr = 0xffffc000
	IdentityMapSize = 0x1000
)

var (
	TSSWindow         = memory.Window{Name: "tss", Addr: TSSAddr, Size: TSSSize}
	IdentityMapWindow = memory.Window{Name: "identity map", Addr: IdentityMapAddr, Size: IdentityMapSize}
)

// Windows returns the reserved platform windows.
func Windows() []memory.Window {
	return []memory.Window{TSSWindow, IdentityMapWindow}
}

// SetupMemory partitions mem into regions. If mem is larger than 3G, it is
// split into two regions with a 1G hole for mmio devies at MMIOHoleAddr.
func SetupMemory(mem []byte) []memory.Region {
	if len(mem) <= MMIOHoleAddr {
		return []memory.Region{
			{
				Slot:          0,
				GuestPhysAddr: 0,
				Host:          mem,
				Size:          uint64(len(mem)),
			},
		}
	}

	return []memory.Region{
		{
			Slot:          0,
			GuestPhysAddr: 0,
			Host:          mem[:MMIOHoleAddr],
			Size:          MMIOHoleAddr,
		},
		{
			Slot:          1,
			GuestPhysAddr: AfterMMIOHoleAddr,
			Host:          mem[MMIOHoleAddr:],
			Size:          uint64(len(mem) - MMIOHoleAddr),
		},
	}
}

// HostAddr returns the host virtual address of a region's buffer.
func HostAddr(r memory.Region) uint64 {
	return uint64(uintptr(unsafe.Pointer(&r.Host[0])))
}
