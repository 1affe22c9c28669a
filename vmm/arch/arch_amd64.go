//go:build linux

package arch

import (
	"encoding/binary"

	"github.com/c35s/flatvm/kvm"
)

// archCaps are the extensions required on amd64.
var archCaps = []kvm.Cap{
	kvm.CapSetTSSAddr,
	kvm.CapPIT2,
	kvm.CapExtCPUID,
}

const (
	cr0PE = 1 << 0

	// rflags bit 1 is reserved and always set
	rflagsReserved = 0x2
)

// FlatSegments rewrites the code, data, stack, and extra segments to span the
// whole 4G address space with 32-bit default operand size, and enables
// protected mode.
func FlatSegments(sregs *kvm.Sregs) error {
	for _, s := range []*kvm.Segment{
		&sregs.CS,
		&sregs.DS,
		&sregs.ES,
		&sregs.FS,
		&sregs.GS,
		&sregs.SS,
	} {
		s.Base = 0
		s.Limit = 0xffffffff
		s.G = 1
		s.DB = 1
	}

	sregs.CR0 |= cr0PE
	return nil
}

// EntryRegisters points the vcpu at ip with the boot params address in RSI,
// which is where a 32-bit Linux kernel expects it.
func EntryRegisters(regs *kvm.Regs, ip, params uint64) error {
	regs.RFlags = rflagsReserved
	regs.RIP = ip
	regs.RSI = params
	return nil
}

// KVM paravirt cpuid leaves
const (
	CPUIDSignature = 0x40000000
	CPUIDFeatures  = 0x40000001
)

// Signature is the hypervisor vendor string reported by the signature leaf.
const Signature = "KVMKVMKVM\x00\x00\x00"

// SignatureCPUID returns a copy of entries with the hypervisor signature leaf
// rewritten to report Signature. All other leaves are copied unchanged. If
// entries has no signature leaf, the copy is identical.
func SignatureCPUID(entries []kvm.CPUIDEntry2) []kvm.CPUIDEntry2 {
	out := make([]kvm.CPUIDEntry2, len(entries))
	copy(out, entries)

	var (
		sig = []byte(Signature)
		le  = binary.LittleEndian
	)

	for i := range out {
		if out[i].Function != CPUIDSignature {
			continue
		}

		out[i].EAX = CPUIDFeatures
		out[i].EBX = le.Uint32(sig[0:])
		out[i].ECX = le.Uint32(sig[4:])
		out[i].EDX = le.Uint32(sig[8:])
	}

	return out
}
