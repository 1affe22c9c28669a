//go:build linux && amd64

package kvm_test

import (
	"errors"
	"testing"

	"github.com/c35s/flatvm/kvm"
	"golang.org/x/sys/unix"
)

func TestRegs(t *testing.T) {
	sys := openKVM(t)

	vm, err := kvm.CreateVM(sys)
	if err != nil {
		t.Fatal(err)
	}

	defer vm.Close()

	vcpu, err := kvm.CreateVCPU(vm, 0)
	if err != nil {
		t.Fatal(err)
	}

	defer vcpu.Close()

	var regs kvm.Regs
	if err := kvm.GetRegs(vcpu, &regs); err != nil {
		t.Fatal(err)
	}

	if regs.RFlags != 0x2 {
		t.Fatalf("RFlags %#x != 0x2", regs.RFlags)
	}

	regs.RSI = 0x10000
	if err := kvm.SetRegs(vcpu, &regs); err != nil {
		t.Fatal(err)
	}

	if err := kvm.GetRegs(vcpu, &regs); err != nil {
		t.Fatal(err)
	}

	if regs.RSI != 0x10000 {
		t.Fatalf("RSI %#x != 0x10000 after SetRegs", regs.RSI)
	}
}

func TestSregs(t *testing.T) {
	sys := openKVM(t)

	vm, err := kvm.CreateVM(sys)
	if err != nil {
		t.Fatal(err)
	}

	defer vm.Close()

	vcpu, err := kvm.CreateVCPU(vm, 0)
	if err != nil {
		t.Fatal(err)
	}

	defer vcpu.Close()

	var sregs kvm.Sregs
	if err := kvm.GetSregs(vcpu, &sregs); err != nil {
		t.Fatal(err)
	}

	if sregs.CS.Base != 0xffff0000 {
		t.Fatalf("CS.Base %#x != 0xffff0000", sregs.CS.Base)
	}

	sregs.CS.Base = 0x1000
	if err := kvm.SetSregs(vcpu, &sregs); err != nil {
		t.Fatal(err)
	}

	if err := kvm.GetSregs(vcpu, &sregs); err != nil {
		t.Fatal(err)
	}

	if sregs.CS.Base != 0x1000 {
		t.Fatalf("CS.Base %#x != 0x1000 after SetSregs", sregs.CS.Base)
	}
}

func TestCPUID(t *testing.T) {
	sys := openKVM(t)

	entries, err := kvm.GetSupportedCPUID(sys)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) == 0 {
		t.Fatal("no cpuid entries")
	}

	vm, err := kvm.CreateVM(sys)
	if err != nil {
		t.Fatal(err)
	}

	defer vm.Close()

	vcpu, err := kvm.CreateVCPU(vm, 0)
	if err != nil {
		t.Fatal(err)
	}

	defer vcpu.Close()

	if err := kvm.SetCPUID2(vcpu, entries); err != nil {
		t.Fatal(err)
	}

	if err := kvm.SetCPUID2(vcpu, nil); !errors.Is(err, unix.EINVAL) {
		t.Fatalf("empty cpuid: %v != EINVAL", err)
	}
}

func TestPlatformOrder(t *testing.T) {
	sys := openKVM(t)

	vm, err := kvm.CreateVM(sys)
	if err != nil {
		t.Fatal(err)
	}

	defer vm.Close()

	if err := kvm.SetTSSAddr(vm, 0xffffd000); err != nil {
		t.Fatal(err)
	}

	if err := kvm.SetIdentityMapAddr(vm, 0xffffc000); err != nil {
		t.Fatal(err)
	}

	if err := kvm.CreatePIT2(vm, &kvm.PITConfig{}); err == nil {
		t.Fatal("created a PIT without an irqchip")
	}

	if err := kvm.CreateIRQChip(vm); err != nil {
		t.Fatal(err)
	}

	if err := kvm.CreatePIT2(vm, &kvm.PITConfig{}); err != nil {
		t.Fatal(err)
	}

	vcpu, err := kvm.CreateVCPU(vm, 0)
	if err != nil {
		t.Fatal(err)
	}

	defer vcpu.Close()

	if err := kvm.SetIdentityMapAddr(vm, 0xffffc000); err == nil {
		t.Fatal("set the identity map address after creating a vcpu")
	}
}
