//go:build linux

package vmm

import (
	"fmt"
	"sync/atomic"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/arch"
	"golang.org/x/sys/unix"
)

// VCPU is a vcpu and its shared run structure.
type VCPU struct {
	slot int
	dev  VCPUDevice
	run  *kvm.RunData

	// tid is the OS thread running the vcpu, or 0
	tid atomic.Int64
}

func (c *VCPU) Slot() int {
	return c.slot
}

// ConfigureSegments puts the vcpu in flat 32-bit protected mode.
func (c *VCPU) ConfigureSegments() error {
	var sregs kvm.Sregs
	if err := c.dev.GetSregs(&sregs); err != nil {
		return fmt.Errorf("%w: get sregs: %w", ErrRegisterSetup, err)
	}

	if err := arch.FlatSegments(&sregs); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterSetup, err)
	}

	if err := c.dev.SetSregs(&sregs); err != nil {
		return fmt.Errorf("%w: set sregs: %w", ErrRegisterSetup, err)
	}

	return nil
}

// ConfigureRegisters points the vcpu at ip with params in RSI.
func (c *VCPU) ConfigureRegisters(ip, params uint64) error {
	var regs kvm.Regs
	if err := c.dev.GetRegs(&regs); err != nil {
		return fmt.Errorf("%w: get regs: %w", ErrRegisterSetup, err)
	}

	if err := arch.EntryRegisters(&regs, ip, params); err != nil {
		return fmt.Errorf("%w: %w", ErrRegisterSetup, err)
	}

	if err := c.dev.SetRegs(&regs); err != nil {
		return fmt.Errorf("%w: set regs: %w", ErrRegisterSetup, err)
	}

	return nil
}

// ConfigureCPUID sets the vcpu's cpuid to supported with the KVM signature
// leaf filled in.
func (c *VCPU) ConfigureCPUID(supported []kvm.CPUIDEntry2) error {
	if err := c.dev.SetCPUID2(arch.SignatureCPUID(supported)); err != nil {
		return fmt.Errorf("%w: set cpuid: %w", ErrRegisterSetup, err)
	}

	return nil
}

// Start maps the vcpu's run structure. It can only be called once.
func (c *VCPU) Start(mmapSize int) error {
	if c.run != nil {
		return fmt.Errorf("%w: vcpu %d is already started", ErrConfiguration, c.slot)
	}

	mm, err := c.dev.Mmap(mmapSize)
	if err != nil {
		return fmt.Errorf("%w: mmap vcpu %d: %w", ErrResourceExhausted, c.slot, err)
	}

	run, err := kvm.NewRunData(mm)
	if err != nil {
		return fmt.Errorf("%w: vcpu %d: %w", ErrResourceExhausted, c.slot, err)
	}

	c.run = run
	return nil
}

// RunData returns the vcpu's run structure, or nil if it isn't started.
func (c *VCPU) RunData() *kvm.RunData {
	return c.run
}

// kick makes the vcpu exit to userspace as soon as possible: immediately if
// it's in the guest, or at its next resume if it isn't.
func (c *VCPU) kick() {
	c.run.SetImmediateExit(true)

	if tid := c.tid.Load(); tid != 0 {
		unix.Tgkill(unix.Getpid(), int(tid), unix.SIGUSR1)
	}
}

func (c *VCPU) Close() error {
	return c.dev.Close()
}
