//go:build linux && !amd64

package arch

import "github.com/c35s/flatvm/kvm"

var archCaps []kvm.Cap

func FlatSegments(*kvm.Sregs) error {
	return ErrUnsupported
}

func EntryRegisters(*kvm.Regs, uint64, uint64) error {
	return ErrUnsupported
}

func SignatureCPUID(entries []kvm.CPUIDEntry2) []kvm.CPUIDEntry2 {
	return append([]kvm.CPUIDEntry2(nil), entries...)
}
