//go:build linux

package vmm

import (
	"fmt"
	"strings"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/memory"
	"golang.org/x/arch/x86/x86asm"
)

// maxInstLen is the longest legal x86 instruction.
const maxInstLen = 15

// gprs maps each legacy general-purpose register, at every width, to its value.
var gprs = []struct {
	b, w, l, q x86asm.Reg
	get        func(*kvm.Regs) uint64
}{
	{x86asm.AL, x86asm.AX, x86asm.EAX, x86asm.RAX, func(r *kvm.Regs) uint64 { return r.RAX }},
	{x86asm.CL, x86asm.CX, x86asm.ECX, x86asm.RCX, func(r *kvm.Regs) uint64 { return r.RCX }},
	{x86asm.DL, x86asm.DX, x86asm.EDX, x86asm.RDX, func(r *kvm.Regs) uint64 { return r.RDX }},
	{x86asm.BL, x86asm.BX, x86asm.EBX, x86asm.RBX, func(r *kvm.Regs) uint64 { return r.RBX }},
	{x86asm.SPB, x86asm.SP, x86asm.ESP, x86asm.RSP, func(r *kvm.Regs) uint64 { return r.RSP }},
	{x86asm.BPB, x86asm.BP, x86asm.EBP, x86asm.RBP, func(r *kvm.Regs) uint64 { return r.RBP }},
	{x86asm.SIB, x86asm.SI, x86asm.ESI, x86asm.RSI, func(r *kvm.Regs) uint64 { return r.RSI }},
	{x86asm.DIB, x86asm.DI, x86asm.EDI, x86asm.RDI, func(r *kvm.Regs) uint64 { return r.RDI }},
}

// regValue returns the value of reg, truncated to its width.
func regValue(regs *kvm.Regs, reg x86asm.Reg) (uint64, bool) {
	for _, g := range gprs {
		switch reg {
		case g.b:
			return g.get(regs) & 0xff, true
		case g.w:
			return g.get(regs) & 0xffff, true
		case g.l:
			return g.get(regs) & 0xffffffff, true
		case g.q:
			return g.get(regs), true
		}
	}

	return 0, false
}

// describeInst disassembles the instruction at RIP and appends the values of
// its register operands. RIP is treated as a guest physical address, which
// holds until the guest turns on paging. It returns "" if the instruction
// isn't in RAM or can't be decoded.
func describeInst(mm *memory.Map, regs *kvm.Regs) string {
	b, ok := mm.Lookup(regs.RIP)
	if !ok {
		return ""
	}

	b = b[:min(maxInstLen, len(b))]

	inst, err := x86asm.Decode(b, 32)
	if err != nil {
		return ""
	}

	var vals []string
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}

		reg, ok := arg.(x86asm.Reg)
		if !ok {
			continue
		}

		if v, ok := regValue(regs, reg); ok {
			vals = append(vals, fmt.Sprintf("%s=%#x", strings.ToLower(reg.String()), v))
		}
	}

	s := x86asm.IntelSyntax(inst, regs.RIP, nil)
	if len(vals) > 0 {
		s += " [" + strings.Join(vals, " ") + "]"
	}

	return s
}
