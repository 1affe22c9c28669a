//go:build linux && amd64

package arch_test

import (
	"testing"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/arch"
	"github.com/google/go-cmp/cmp"
)

func TestFlatSegments(t *testing.T) {
	// real-mode reset state
	sregs := kvm.Sregs{
		CS:  kvm.Segment{Base: 0xffff0000, Limit: 0xffff, Selector: 0xf000, Present: 1, S: 1, Type: 0xb},
		DS:  kvm.Segment{Limit: 0xffff, Present: 1, S: 1, Type: 3},
		CR0: 0x60000010,
	}

	if err := arch.FlatSegments(&sregs); err != nil {
		t.Fatal(err)
	}

	if sregs.CR0&1 == 0 {
		t.Error("CR0.PE is clear")
	}

	if sregs.CR0&^1 != 0x60000010 {
		t.Errorf("other CR0 bits changed: %#x", sregs.CR0)
	}

	for name, s := range map[string]kvm.Segment{
		"cs": sregs.CS,
		"ds": sregs.DS,
		"es": sregs.ES,
		"fs": sregs.FS,
		"gs": sregs.GS,
		"ss": sregs.SS,
	} {
		if s.Base != 0 || s.Limit != 0xffffffff || s.G != 1 || s.DB != 1 {
			t.Errorf("%s isn't flat: %+v", name, s)
		}
	}

	// selectors and types are left alone
	if sregs.CS.Selector != 0xf000 || sregs.CS.Type != 0xb {
		t.Errorf("cs attributes changed: %+v", sregs.CS)
	}
}

func TestEntryRegisters(t *testing.T) {
	regs := kvm.Regs{RAX: 1, RFlags: 0x246}
	if err := arch.EntryRegisters(&regs, 0x100000, 0x10000); err != nil {
		t.Fatal(err)
	}

	want := kvm.Regs{RAX: 1, RFlags: 2, RIP: 0x100000, RSI: 0x10000}
	if diff := cmp.Diff(want, regs); diff != "" {
		t.Errorf("regs mismatch (-want +got):\n%s", diff)
	}
}

func TestSignatureCPUID(t *testing.T) {
	in := []kvm.CPUIDEntry2{
		{Function: 0, EAX: 0xd, EBX: 0x756e6547},
		{Function: 1, EAX: 0x906ea, ECX: 0xfffa3203},
		{Function: arch.CPUIDSignature, EAX: 0x40000001},
		{Function: arch.CPUIDFeatures, EAX: 0x1007afb},
	}

	orig := append([]kvm.CPUIDEntry2(nil), in...)
	out := arch.SignatureCPUID(in)

	if diff := cmp.Diff(orig, in); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}

	want := append([]kvm.CPUIDEntry2(nil), orig...)
	want[2] = kvm.CPUIDEntry2{
		Function: arch.CPUIDSignature,
		EAX:      0x40000001,
		EBX:      0x4b4d564b,
		ECX:      0x564b4d56,
		EDX:      0x4d,
	}

	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("cpuid mismatch (-want +got):\n%s", diff)
	}

	// applying it again changes nothing
	if diff := cmp.Diff(out, arch.SignatureCPUID(out)); diff != "" {
		t.Errorf("not idempotent (-want +got):\n%s", diff)
	}
}

func TestSignatureCPUIDMissingLeaf(t *testing.T) {
	in := []kvm.CPUIDEntry2{{Function: 0}, {Function: 1}}
	if diff := cmp.Diff(in, arch.SignatureCPUID(in)); diff != "" {
		t.Errorf("cpuid mismatch (-want +got):\n%s", diff)
	}
}
