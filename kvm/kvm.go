//go:build linux

// Package kvm is a thin binding to the Linux KVM API. It covers the subset of
// the API needed to boot a single-vCPU guest in flat protected mode.
package kvm

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// StableAPIVersion is the only KVM API version ever released.
const StableAPIVersion = 12

// DevicePath is the KVM control device.
const DevicePath = "/dev/kvm"

// System is an open handle to /dev/kvm.
type System struct{ *os.File }

// VM is a KVM virtual machine fd.
type VM struct{ *os.File }

// VCPU is a KVM virtual CPU fd.
type VCPU struct{ *os.File }

// UserspaceMemoryRegion has the same layout as the C struct
// kvm_userspace_memory_region.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// memory region flags
const (
	MemLogDirtyPages = 1 << 0
	MemReadonly      = 1 << 1
)

type fder interface {
	Fd() uintptr
}

func ioctl(f fder, req, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, arg)
	if errno != 0 {
		return 0, errno
	}

	return r, nil
}

// Open opens /dev/kvm.
func Open() (*System, error) {
	f, err := os.OpenFile(DevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &System{f}, nil
}

// GetAPIVersion returns the KVM API version. It should always be StableAPIVersion.
func GetAPIVersion(sys *System) (int, error) {
	v, err := ioctl(sys, kGetAPIVersion, 0)
	return int(v), err
}

// CheckExtension returns a value describing the availability of cap. Zero means
// the extension is unavailable; other values are extension-specific. It can be
// called on the system fd, or on a VM fd if CapCheckExtensionVM is available.
func CheckExtension(f interface{ Fd() uintptr }, cap Cap) (int, error) {
	v, err := ioctl(f, kCheckExtension, uintptr(cap))
	return int(v), err
}

// GetVCPUMmapSize returns the size of the shared kvm_run region of each VCPU.
func GetVCPUMmapSize(sys *System) (int, error) {
	v, err := ioctl(sys, kGetVCPUMmapSize, 0)
	return int(v), err
}

// CreateVM creates a new VM with no memory and no VCPUs.
func CreateVM(sys *System) (*VM, error) {
	fd, err := ioctl(sys, kCreateVM, 0)
	if err != nil {
		return nil, err
	}

	return &VM{os.NewFile(fd, "kvm-vm")}, nil
}

// CreateVCPU adds a VCPU to the VM. The slot must be less than the value of
// CheckExtension(CapMaxVCPUs).
func CreateVCPU(vm *VM, slot int) (*VCPU, error) {
	fd, err := ioctl(vm, kCreateVCPU, uintptr(slot))
	if err != nil {
		return nil, err
	}

	return &VCPU{os.NewFile(fd, "kvm-vcpu")}, nil
}

// SetUserMemoryRegion creates, modifies, or deletes a guest physical memory slot.
func SetUserMemoryRegion(vm *VM, region *UserspaceMemoryRegion) error {
	_, err := ioctl(vm, kSetUserMemoryRegion, uintptr(unsafe.Pointer(region)))
	return err
}

// CreateIRQChip creates an in-kernel interrupt controller model. On x86 that is
// a virtual ioapic, a pair of virtual PICs, and a local APIC per VCPU.
func CreateIRQChip(vm *VM) error {
	_, err := ioctl(vm, kCreateIRQChip, 0)
	return err
}

// Run resumes the VCPU until the next vmexit. The exit is described by the VCPU's
// mmaped RunData.
func Run(vcpu *VCPU) error {
	_, err := ioctl(vcpu, kRun, 0)
	return err
}
