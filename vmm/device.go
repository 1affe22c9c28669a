//go:build linux

package vmm

import (
	"fmt"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/arch"
	"golang.org/x/sys/unix"
)

// Hypervisor is the open KVM control device. *KVM is the real implementation;
// tests substitute fakes.
type Hypervisor interface {
	APIVersion() (int, error)
	CheckExtension(cap kvm.Cap) (int, error)

	// VCPUMmapSize is the size of each vcpu's shared run structure.
	VCPUMmapSize() (int, error)

	// SupportedCPUID is the cpuid set KVM supports in its default configuration.
	SupportedCPUID() ([]kvm.CPUIDEntry2, error)

	CreateVM() (VMDevice, error)
	Close() error
}

// VMDevice is a VM created by a Hypervisor.
type VMDevice interface {
	SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error
	SetTSSAddr(addr uint64) error
	SetIdentityMapAddr(addr uint64) error
	CreateIRQChip() error
	CreatePIT2() error
	CreateVCPU(slot int) (VCPUDevice, error)
	Close() error
}

// VCPUDevice is a vcpu created by a VMDevice.
type VCPUDevice interface {
	GetRegs(regs *kvm.Regs) error
	SetRegs(regs *kvm.Regs) error
	GetSregs(sregs *kvm.Sregs) error
	SetSregs(sregs *kvm.Sregs) error
	SetCPUID2(entries []kvm.CPUIDEntry2) error

	// Mmap maps the vcpu's shared run structure.
	Mmap(size int) ([]byte, error)

	// Run resumes the vcpu until the next vmexit.
	Run() error

	Close() error
}

// KVM is a Hypervisor backed by /dev/kvm.
type KVM struct {
	sys *kvm.System
}

var (
	_ Hypervisor  = (*KVM)(nil)
	_ VMDevice    = (*kvmVM)(nil)
	_ VCPUDevice  = (*kvmVCPU)(nil)
	_ arch.Prober = (*KVM)(nil)
)

// Open opens /dev/kvm. It doesn't check the API version or extensions; see Probe.
func Open() (*KVM, error) {
	sys, err := kvm.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	return &KVM{sys: sys}, nil
}

func (h *KVM) APIVersion() (int, error) {
	return kvm.GetAPIVersion(h.sys)
}

func (h *KVM) CheckExtension(cap kvm.Cap) (int, error) {
	return kvm.CheckExtension(h.sys, cap)
}

func (h *KVM) VCPUMmapSize() (int, error) {
	return kvm.GetVCPUMmapSize(h.sys)
}

func (h *KVM) SupportedCPUID() ([]kvm.CPUIDEntry2, error) {
	return kvm.GetSupportedCPUID(h.sys)
}

func (h *KVM) CreateVM() (VMDevice, error) {
	vm, err := kvm.CreateVM(h.sys)
	if err != nil {
		return nil, err
	}

	return &kvmVM{fd: vm}, nil
}

func (h *KVM) Close() error {
	return h.sys.Close()
}

type kvmVM struct {
	fd *kvm.VM
}

func (v *kvmVM) SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error {
	return kvm.SetUserMemoryRegion(v.fd, region)
}

func (v *kvmVM) SetTSSAddr(addr uint64) error {
	return kvm.SetTSSAddr(v.fd, addr)
}

func (v *kvmVM) SetIdentityMapAddr(addr uint64) error {
	return kvm.SetIdentityMapAddr(v.fd, addr)
}

func (v *kvmVM) CreateIRQChip() error {
	return kvm.CreateIRQChip(v.fd)
}

func (v *kvmVM) CreatePIT2() error {
	return kvm.CreatePIT2(v.fd, &kvm.PITConfig{})
}

func (v *kvmVM) CreateVCPU(slot int) (VCPUDevice, error) {
	fd, err := kvm.CreateVCPU(v.fd, slot)
	if err != nil {
		return nil, err
	}

	return &kvmVCPU{fd: fd}, nil
}

func (v *kvmVM) Close() error {
	return v.fd.Close()
}

// kvmVCPU collects a VCPU fd and its mmaped state.
type kvmVCPU struct {
	fd *kvm.VCPU
	mm []byte
}

func (c *kvmVCPU) GetRegs(regs *kvm.Regs) error {
	return kvm.GetRegs(c.fd, regs)
}

func (c *kvmVCPU) SetRegs(regs *kvm.Regs) error {
	return kvm.SetRegs(c.fd, regs)
}

func (c *kvmVCPU) GetSregs(sregs *kvm.Sregs) error {
	return kvm.GetSregs(c.fd, sregs)
}

func (c *kvmVCPU) SetSregs(sregs *kvm.Sregs) error {
	return kvm.SetSregs(c.fd, sregs)
}

func (c *kvmVCPU) SetCPUID2(entries []kvm.CPUIDEntry2) error {
	return kvm.SetCPUID2(c.fd, entries)
}

func (c *kvmVCPU) Mmap(size int) ([]byte, error) {
	mm, err := unix.Mmap(int(c.fd.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	c.mm = mm
	return mm, nil
}

func (c *kvmVCPU) Run() error {
	return kvm.Run(c.fd)
}

func (c *kvmVCPU) Close() error {
	if c.mm != nil {
		unix.Munmap(c.mm)
		c.mm = nil
	}

	return c.fd.Close()
}
