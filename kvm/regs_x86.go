//go:build linux

// The x86 register ABI is declared on every Linux build so callers compile
// everywhere; the ioctls only succeed on amd64 hosts.

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const nrInterrupts = 256

// Regs holds a VCPU's general-purpose registers.
// It has the same layout as the C struct kvm_regs.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFlags        uint64
}

// Sregs holds a VCPU's special registers.
// It has the same layout as the C struct kvm_sregs.
type Sregs struct {
	CS, DS, ES, FS, GS, SS  Segment
	TR, LDT                 Segment
	GDT, IDT                Dtable
	CR0, CR2, CR3, CR4, CR8 uint64
	EFER                    uint64
	APICBase                uint64
	InterruptBitmap         [((nrInterrupts + 63) / 64)]uint64
}

// Segment has the same layout as the C struct kvm_segment.
type Segment struct {
	Base                           uint64
	Limit                          uint32
	Selector                       uint16
	Type                           uint8
	Present, DPL, DB, S, L, G, Avl uint8
	Unusable                       uint8
	_                              byte
}

// Dtable has the same layout as the C struct kvm_dtable.
type Dtable struct {
	Base  uint64
	Limit uint16
	_     [6]byte
}

// PITConfig has the same layout as the C struct kvm_pit_config.
type PITConfig struct {
	Flags uint32
	_     [15]uint32
}

// GetSupportedCPUID "returns x86 cpuid features which are supported by both the hardware
// and kvm in its default configuration."
//
// This ioctl is available if CheckExtension(CapExtCPUID) returns 1.
func GetSupportedCPUID(sys *System) ([]CPUIDEntry2, error) {
	b, err := marshalCPUID2(nil, MaxCPUIDEntries)
	if err != nil {
		return nil, err
	}

	// nent is the capacity going in and the count coming out
	le.PutUint32(b, MaxCPUIDEntries)

	if _, err := ioctl(sys, kGetSupportedCPUID, uintptr(unsafe.Pointer(&b[0]))); err != nil {
		return nil, err
	}

	return unmarshalCPUID2(b)
}

// SetCPUID2 "defines the vcpu responses to the cpuid instruction."
// This ioctl is available if CheckExtension(CapExtCPUID) returns 1.
func SetCPUID2(vcpu *VCPU, entries []CPUIDEntry2) error {
	if len(entries) == 0 {
		return unix.EINVAL
	}

	b, err := marshalCPUID2(entries, len(entries))
	if err != nil {
		return err
	}

	_, err = ioctl(vcpu, kSetCPUID2, uintptr(unsafe.Pointer(&b[0])))
	return err
}

// GetRegs reads the vcpu's general-purpose registers.
func GetRegs(vcpu *VCPU, regs *Regs) error {
	_, err := ioctl(vcpu, kGetRegs, uintptr(unsafe.Pointer(regs)))
	return err
}

// SetRegs writes the vcpu's general-purpose registers.
func SetRegs(vcpu *VCPU, regs *Regs) error {
	_, err := ioctl(vcpu, kSetRegs, uintptr(unsafe.Pointer(regs)))
	return err
}

// GetSregs reads the vcpu's special registers.
func GetSregs(vcpu *VCPU, sregs *Sregs) error {
	_, err := ioctl(vcpu, kGetSregs, uintptr(unsafe.Pointer(sregs)))
	return err
}

// SetSregs writes the vcpu's special registers.
func SetSregs(vcpu *VCPU, sregs *Sregs) error {
	_, err := ioctl(vcpu, kSetSregs, uintptr(unsafe.Pointer(sregs)))
	return err
}

// SetTSSAddr "defines the physical address of a three-page region in the guest physical
// address space. The region must be within the first 4GB of the guest physical address
// space and must not conflict with any memory slot or any mmio address. The guest may
// malfunction if it accesses this memory region."
//
// "This ioctl is required on Intel-based hosts. This is needed on Intel hardware because
// of a quirk in the virtualization implementation (see the internals documentation when
// it pops into existence)."
//
// This ioctl is available if CheckExtension(CapSetTSSAddr) returns 1.
func SetTSSAddr(vm *VM, addr uint64) error {
	_, err := ioctl(vm, kSetTSSAddr, uintptr(addr))
	return err
}

// SetIdentityMapAddr "defines the physical address of a one-page region in the guest
// physical address space. The region must be within the first 4GB of the guest physical
// address space and must not conflict with any memory slot or any mmio address. The guest
// may malfunction if it accesses this memory region."
//
// SetIdentityMapAddr fails if it is called after CreateVCPU.
func SetIdentityMapAddr(vm *VM, addr uint64) error {
	_, err := ioctl(vm, kSetIdentityMapAddr, uintptr(unsafe.Pointer(&addr)))
	return err
}

// CreatePIT2 "Creates an in-kernel device model for the i8254 PIT. This call is only valid
// after enabling in-kernel irqchip support via KVM_CREATE_IRQCHIP."
//
// This ioctl is available if CheckExtension(CapPIT2) returns 1.
func CreatePIT2(vm *VM, cfg *PITConfig) error {
	_, err := ioctl(vm, kCreatePIT2, uintptr(unsafe.Pointer(cfg)))
	return err
}
