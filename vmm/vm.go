//go:build linux

// Package vmm configures and runs a single-vcpu KVM virtual machine that enters
// its guest in flat 32-bit protected mode.
package vmm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/arch"
	"github.com/c35s/flatvm/vmm/memory"
	"golang.org/x/sys/unix"
)

// Config describes a new VM.
type Config struct {

	// MemSize is the size of the VM's memory in bytes.
	// It must be a multiple of the host's page size.
	// If MemSize is 0, the VM will have 256M of memory.
	MemSize int

	// LockMemory locks the VM's memory into RAM.
	LockMemory bool

	// Loader configures the VM's memory and names the guest entry point.
	Loader Loader

	// Serial receives whatever the guest writes to the serial data port.
	// If Serial is nil, os.Stdout is used.
	Serial io.Writer

	// Hypervisor, if set, is used instead of opening /dev/kvm. The VM closes it.
	// Setting Hypervisor is probably only useful for testing.
	Hypervisor Hypervisor
}

// VMInfo describes a configured VM in a form useful to the Loader.
type VMInfo struct {

	// MemSize is the size of the VM's memory in bytes.
	MemSize int

	// NumCPU is the number of VCPUs attached to the VM.
	// Right now it's always 1.
	NumCPU int
}

type Loader interface {

	// LoadMemory writes the guest image into mem before the VM boots.
	LoadMemory(info VMInfo, mem *memory.Arena) error

	// Entry returns the guest physical address the vcpu starts at and the
	// address of the boot parameters passed to the guest in RSI.
	Entry() (ip, params uint64)
}

const (
	MemSizeMin     = 1 << 20   // 1M
	MemSizeDefault = 256 << 20 // 256M
	MemSizeMax     = 1 << 40   // 1T
)

// platform setup stages, in the only order KVM accepts them
type stage int

const (
	stageNone stage = iota
	stageTSS
	stageIdentityMap
	stageIRQChip
	stageTimer
)

var stageNames = [...]string{
	stageNone:        "none",
	stageTSS:         "tss",
	stageIdentityMap: "identity map",
	stageIRQChip:     "irqchip",
	stageTimer:       "timer",
}

func (s stage) String() string {
	return stageNames[s]
}

type VM struct {
	hv      Hypervisor
	fd      VMDevice
	mm      []byte
	mem     *memory.Arena
	regions memory.Map
	stage   stage
	cpu     *VCPU
	serial  *Serial
	started atomic.Bool
	state   atomic.Int32
}

// New creates a VM, gives it memory, platform devices, and a configured vcpu,
// and loads the guest. The VM is ready to Run.
func New(cfg Config) (*VM, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	h := cfg.Hypervisor
	if h == nil {
		k, err := Open()
		if err != nil {
			return nil, err
		}

		h = k
	}

	m, err := Create(h)
	if err != nil {
		h.Close()
		return nil, err
	}

	m.serial.Out = cfg.Serial

	if err := m.setup(cfg); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

// Create probes h and creates an empty VM with no memory, no platform devices,
// and no vcpu. On success the VM owns h and closes it.
func Create(h Hypervisor) (*VM, error) {
	if err := Probe(h); err != nil {
		return nil, err
	}

	fd, err := h.CreateVM()
	if err != nil {
		return nil, fmt.Errorf("%w: create VM: %w", ErrResourceExhausted, err)
	}

	m := &VM{
		hv:     h,
		fd:     fd,
		serial: &Serial{Out: os.Stdout},
	}

	return m, nil
}

func (m *VM) setup(cfg Config) error {
	supported, err := m.hv.SupportedCPUID()
	if err != nil {
		return fmt.Errorf("%w: get supported cpuid: %w", ErrRegisterSetup, err)
	}

	mmsz, err := m.hv.VCPUMmapSize()
	if err != nil {
		return fmt.Errorf("%w: get vcpu mmap size: %w", ErrResourceExhausted, err)
	}

	if err := m.AllocMemory(cfg.MemSize, cfg.LockMemory); err != nil {
		return err
	}

	if err := m.SetupPlatform(); err != nil {
		return err
	}

	c, err := m.CreateVCPU(0)
	if err != nil {
		return err
	}

	if err := c.ConfigureSegments(); err != nil {
		return err
	}

	if err := c.ConfigureRegisters(cfg.Loader.Entry()); err != nil {
		return err
	}

	if err := c.ConfigureCPUID(supported); err != nil {
		return err
	}

	info := VMInfo{
		MemSize: m.mem.Size(),
		NumCPU:  NumCPU,
	}

	if err := cfg.Loader.LoadMemory(info, m.mem); err != nil {
		return fmt.Errorf("%w: %w", ErrImageLoad, err)
	}

	return c.Start(mmsz)
}

// AllocMemory maps size bytes of zeroed anonymous memory, optionally locks
// it, and registers it as guest RAM starting at guest physical address 0.
func (m *VM) AllocMemory(size int, lock bool) error {
	if m.mem != nil {
		return fmt.Errorf("%w: memory is already allocated", ErrConfiguration)
	}

	mm, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)

	if err != nil {
		return fmt.Errorf("%w: allocate %d bytes: %w", ErrResourceExhausted, size, err)
	}

	m.mm = mm
	m.mem = memory.NewArena(mm)

	if lock {
		if err := unix.Mlock(mm); err != nil {
			return fmt.Errorf("%w: lock memory: %w", ErrResourceExhausted, err)
		}
	}

	for _, r := range arch.SetupMemory(mm) {
		if err := m.MapMemory(r); err != nil {
			return err
		}
	}

	slog.Debug("allocated guest memory", "size", size, "locked", lock)
	return nil
}

// MapMemory registers r as guest RAM. It fails if the VM has started running,
// if r is invalid, or if r reuses a slot or overlaps a registered region or
// reserved window.
func (m *VM) MapMemory(r memory.Region) error {
	if m.started.Load() {
		return fmt.Errorf("%w: map %v: vm is running", ErrConfiguration, r)
	}

	if err := m.regions.Check(r); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	ur := kvm.UserspaceMemoryRegion{
		Slot:          r.Slot,
		Flags:         r.Flags,
		GuestPhysAddr: r.GuestPhysAddr,
		MemorySize:    r.Size,
		UserspaceAddr: arch.HostAddr(r),
	}

	if err := m.fd.SetUserMemoryRegion(&ur); err != nil {
		return fmt.Errorf("%w: set user memory region %v: %w", ErrConfiguration, r, err)
	}

	if err := m.regions.Add(r); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	slog.Debug("mapped memory", "region", r)
	return nil
}

// Regions returns the registered memory regions.
func (m *VM) Regions() []memory.Region {
	return m.regions.Regions()
}

// Memory returns the VM's memory, or nil if it hasn't been allocated.
func (m *VM) Memory() *memory.Arena {
	return m.mem
}

// next checks that the platform is ready for s.
func (m *VM) next(s stage) error {
	if m.stage != s-1 {
		return fmt.Errorf("%w: %v setup out of order: platform is at %v, want %v", ErrConfiguration, s, m.stage, s-1)
	}

	return nil
}

func (m *VM) reserve(s stage, w memory.Window, set func(uint64) error) error {
	if err := m.next(s); err != nil {
		return err
	}

	if err := m.regions.Reserve(w); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	if err := set(w.Addr); err != nil {
		return fmt.Errorf("%w: set %s addr: %w", ErrConfiguration, w.Name, err)
	}

	m.stage = s
	return nil
}

// SetTSSAddr reserves the three-page TSS window at arch.TSSAddr.
func (m *VM) SetTSSAddr() error {
	return m.reserve(stageTSS, arch.TSSWindow, m.fd.SetTSSAddr)
}

// SetIdentityMapAddr reserves the one-page identity map window at
// arch.IdentityMapAddr. It must follow SetTSSAddr.
func (m *VM) SetIdentityMapAddr() error {
	return m.reserve(stageIdentityMap, arch.IdentityMapWindow, m.fd.SetIdentityMapAddr)
}

// CreateIRQChip creates the in-kernel interrupt controllers. It must follow
// SetIdentityMapAddr.
func (m *VM) CreateIRQChip() error {
	if err := m.next(stageIRQChip); err != nil {
		return err
	}

	if err := m.fd.CreateIRQChip(); err != nil {
		return fmt.Errorf("%w: create irqchip: %w", ErrConfiguration, err)
	}

	m.stage = stageIRQChip
	return nil
}

// CreateTimer creates the in-kernel PIT. It must follow CreateIRQChip.
func (m *VM) CreateTimer() error {
	if err := m.next(stageTimer); err != nil {
		return err
	}

	if err := m.fd.CreatePIT2(); err != nil {
		return fmt.Errorf("%w: create pit: %w", ErrConfiguration, err)
	}

	m.stage = stageTimer
	return nil
}

// SetupPlatform does every platform setup step in order.
func (m *VM) SetupPlatform() error {
	for _, step := range []func() error{
		m.SetTSSAddr,
		m.SetIdentityMapAddr,
		m.CreateIRQChip,
		m.CreateTimer,
	} {
		if err := step(); err != nil {
			return err
		}
	}

	slog.Debug("platform is ready")
	return nil
}

// CreateVCPU creates the VM's vcpu. The platform must be set up first.
func (m *VM) CreateVCPU(slot int) (*VCPU, error) {
	if m.stage != stageTimer {
		return nil, fmt.Errorf("%w: create vcpu %d: platform is at %v, want %v", ErrConfiguration, slot, m.stage, stageTimer)
	}

	if m.cpu != nil {
		return nil, fmt.Errorf("%w: create vcpu %d: vm already has %d", ErrConfiguration, slot, NumCPU)
	}

	fd, err := m.fd.CreateVCPU(slot)
	if err != nil {
		return nil, fmt.Errorf("%w: create vcpu %d: %w", ErrResourceExhausted, slot, err)
	}

	m.cpu = &VCPU{
		slot: slot,
		dev:  fd,
	}

	return m.cpu, nil
}

// VCPU returns the VM's vcpu, or nil if it hasn't been created.
func (m *VM) VCPU() *VCPU {
	return m.cpu
}

// State returns the run state.
func (m *VM) State() State {
	return State(m.state.Load())
}

// Close releases the vcpu, the VM, its memory, and the hypervisor.
func (m *VM) Close() error {
	var errs []error
	if m.cpu != nil {
		errs = append(errs, m.cpu.Close())
	}

	errs = append(errs, m.fd.Close())

	if m.mm != nil {
		errs = append(errs, unix.Munmap(m.mm))
		m.mm = nil
		m.mem = nil
	}

	errs = append(errs, m.hv.Close())
	return errors.Join(errs...)
}

func (cfg Config) validate() error {
	if pgsz := os.Getpagesize(); cfg.MemSize%pgsz != 0 {
		return fmt.Errorf("memory size must be a multiple of the host page size (%d)", pgsz)
	}

	if cfg.MemSize < MemSizeMin {
		return fmt.Errorf("memory is too small: %d < %d", cfg.MemSize, MemSizeMin)
	}

	if cfg.MemSize > MemSizeMax {
		return fmt.Errorf("memory is too large: %d > %d", cfg.MemSize, MemSizeMax)
	}

	if cfg.Loader == nil {
		return errors.New("loader is not set")
	}

	return nil
}

func (cfg Config) withDefaults() Config {
	if cfg.MemSize == 0 {
		cfg.MemSize = MemSizeDefault
	}

	if cfg.Serial == nil {
		cfg.Serial = os.Stdout
	}

	return cfg
}
