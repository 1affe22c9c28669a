//go:build linux

package vmm_test

import (
	"errors"
	"slices"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm"
	"github.com/c35s/flatvm/vmm/memory"
	"golang.org/x/sys/unix"
)

// fakeKVM is an in-process Hypervisor. The zero value is unusable; see newFakeKVM.
type fakeKVM struct {
	version int
	caps    map[kvm.Cap]int
	cpuid   []kvm.CPUIDEntry2

	createVMError error

	vm     *fakeVM
	closed bool
}

func newFakeKVM() *fakeKVM {
	caps := make(map[kvm.Cap]int)
	for _, cap := range kvm.AllCaps() {
		caps[cap] = 1
	}

	caps[kvm.CapMaxVCPUs] = 1024

	return &fakeKVM{
		version: kvm.StableAPIVersion,
		caps:    caps,
		cpuid: []kvm.CPUIDEntry2{
			{Function: 0, EAX: 0xd, EBX: 0x756e6547, ECX: 0x6c65746e, EDX: 0x49656e69},
			{Function: 1, EAX: 0x906ea, ECX: 0xf6fa3203},
			{Function: 7, Index: 0, Flags: 1, EBX: 0x29c6fbf},
			{Function: 0x40000000, EAX: 0x40000001},
			{Function: 0x40000001, EAX: 0x1007afb},
		},
		vm: &fakeVM{
			errs: make(map[string]error),
			cpu: &fakeVCPU{
				errs: make(map[string]error),
			},
		},
	}
}

func (h *fakeKVM) APIVersion() (int, error) {
	return h.version, nil
}

func (h *fakeKVM) CheckExtension(cap kvm.Cap) (int, error) {
	return h.caps[cap], nil
}

func (h *fakeKVM) VCPUMmapSize() (int, error) {
	return 3 * 4096, nil
}

func (h *fakeKVM) SupportedCPUID() ([]kvm.CPUIDEntry2, error) {
	return slices.Clone(h.cpuid), nil
}

func (h *fakeKVM) CreateVM() (vmm.VMDevice, error) {
	if h.createVMError != nil {
		return nil, h.createVMError
	}

	return h.vm, nil
}

func (h *fakeKVM) Close() error {
	h.closed = true
	return nil
}

// fakeVM records the control calls made on it. An entry in errs makes the
// call with that name fail.
type fakeVM struct {
	calls   []string
	errs    map[string]error
	regions []kvm.UserspaceMemoryRegion
	cpu     *fakeVCPU
	vcpus   int
}

func (v *fakeVM) call(name string) error {
	v.calls = append(v.calls, name)
	return v.errs[name]
}

func (v *fakeVM) SetUserMemoryRegion(region *kvm.UserspaceMemoryRegion) error {
	if err := v.call("SetUserMemoryRegion"); err != nil {
		return err
	}

	v.regions = append(v.regions, *region)
	return nil
}

func (v *fakeVM) SetTSSAddr(addr uint64) error {
	return v.call("SetTSSAddr")
}

func (v *fakeVM) SetIdentityMapAddr(addr uint64) error {
	return v.call("SetIdentityMapAddr")
}

func (v *fakeVM) CreateIRQChip() error {
	return v.call("CreateIRQChip")
}

func (v *fakeVM) CreatePIT2() error {
	return v.call("CreatePIT2")
}

func (v *fakeVM) CreateVCPU(slot int) (vmm.VCPUDevice, error) {
	if err := v.call("CreateVCPU"); err != nil {
		return nil, err
	}

	v.vcpus++
	return v.cpu, nil
}

func (v *fakeVM) Close() error {
	return nil
}

// step is one scripted KVM_RUN. Run calls before, if set, first. If err is
// set, Run fails with it. Otherwise exit, if set, writes the vmexit into the
// run structure.
type step struct {
	before func()
	err    error
	exit   func(run *kvm.RunData)
}

var errScriptDone = errors.New("fake: run script is done")

type fakeVCPU struct {
	errs  map[string]error
	regs  kvm.Regs
	sregs kvm.Sregs
	cpuid []kvm.CPUIDEntry2

	mm     []byte
	script []step
	runs   int
}

func (c *fakeVCPU) GetRegs(regs *kvm.Regs) error {
	if err := c.errs["GetRegs"]; err != nil {
		return err
	}

	*regs = c.regs
	return nil
}

func (c *fakeVCPU) SetRegs(regs *kvm.Regs) error {
	if err := c.errs["SetRegs"]; err != nil {
		return err
	}

	c.regs = *regs
	return nil
}

func (c *fakeVCPU) GetSregs(sregs *kvm.Sregs) error {
	if err := c.errs["GetSregs"]; err != nil {
		return err
	}

	*sregs = c.sregs
	return nil
}

func (c *fakeVCPU) SetSregs(sregs *kvm.Sregs) error {
	if err := c.errs["SetSregs"]; err != nil {
		return err
	}

	c.sregs = *sregs
	return nil
}

func (c *fakeVCPU) SetCPUID2(entries []kvm.CPUIDEntry2) error {
	if err := c.errs["SetCPUID2"]; err != nil {
		return err
	}

	c.cpuid = slices.Clone(entries)
	return nil
}

func (c *fakeVCPU) Mmap(size int) ([]byte, error) {
	if err := c.errs["Mmap"]; err != nil {
		return nil, err
	}

	c.mm = make([]byte, size)
	return c.mm, nil
}

func (c *fakeVCPU) Run() error {
	run, err := kvm.NewRunData(c.mm)
	if err != nil {
		return err
	}

	if run.ImmediateExit() {
		return unix.EINTR
	}

	if c.runs >= len(c.script) {
		return errScriptDone
	}

	s := c.script[c.runs]
	c.runs++

	if s.before != nil {
		s.before()
	}

	if s.err != nil {
		return s.err
	}

	if s.exit != nil {
		s.exit(run)
	}

	return nil
}

func (c *fakeVCPU) Close() error {
	return nil
}

// exits

func ioExit(port uint16, out bool, data []byte, off uint64) step {
	return step{exit: func(run *kvm.RunData) {
		run.SetExitReason(kvm.ExitIO)
		run.SetIOExitData(kvm.IOExitData{
			IsOut:  out,
			Size:   1,
			Port:   port,
			Count:  uint32(len(data)),
			Offset: off,
		})

		copy(run.Bytes()[off:], data)
	}}
}

func exit(reason kvm.Exit) step {
	return step{exit: func(run *kvm.RunData) {
		run.SetExitReason(reason)
	}}
}

// nopLoader loads nothing except Code, which it writes at the entry point.
type nopLoader struct {
	Code            []byte
	LoadMemoryError error
}

const (
	nopEntry  = 0x100000
	nopParams = 0x10000
)

func (l nopLoader) LoadMemory(info vmm.VMInfo, mem *memory.Arena) error {
	if l.LoadMemoryError != nil {
		return l.LoadMemoryError
	}

	_, err := mem.WriteAt(l.Code, nopEntry)
	return err
}

func (l nopLoader) Entry() (ip, params uint64) {
	return nopEntry, nopParams
}
