package kvm

import "fmt"

// Cap identifies a KVM extension for CheckExtension.
type Cap int

const (
	CapIRQChip            = Cap(0)
	CapHLT                = Cap(1)
	CapUserMemory         = Cap(3)
	CapSetTSSAddr         = Cap(4)
	CapExtCPUID           = Cap(7)
	CapNrVCPUs            = Cap(9)
	CapNrMemslots         = Cap(10)
	CapPIT                = Cap(11)
	CapSyncMMU            = Cap(16)
	CapIRQFD              = Cap(32)
	CapPIT2               = Cap(33)
	CapSetIdentityMapAddr = Cap(37)
	CapAdjustClock        = Cap(39)
	CapMaxVCPUs           = Cap(66)
	CapCheckExtensionVM   = Cap(105)
	CapImmediateExit      = Cap(136)
)

var capNames = map[Cap]string{
	CapIRQChip:            "KVM_CAP_IRQCHIP",
	CapHLT:                "KVM_CAP_HLT",
	CapUserMemory:         "KVM_CAP_USER_MEMORY",
	CapSetTSSAddr:         "KVM_CAP_SET_TSS_ADDR",
	CapExtCPUID:           "KVM_CAP_EXT_CPUID",
	CapNrVCPUs:            "KVM_CAP_NR_VCPUS",
	CapNrMemslots:         "KVM_CAP_NR_MEMSLOTS",
	CapPIT:                "KVM_CAP_PIT",
	CapSyncMMU:            "KVM_CAP_SYNC_MMU",
	CapIRQFD:              "KVM_CAP_IRQFD",
	CapPIT2:               "KVM_CAP_PIT2",
	CapSetIdentityMapAddr: "KVM_CAP_SET_IDENTITY_MAP_ADDR",
	CapAdjustClock:        "KVM_CAP_ADJUST_CLOCK",
	CapMaxVCPUs:           "KVM_CAP_MAX_VCPUS",
	CapCheckExtensionVM:   "KVM_CAP_CHECK_EXTENSION_VM",
	CapImmediateExit:      "KVM_CAP_IMMEDIATE_EXIT",
}

// AllCaps returns every Cap this package knows by name, in ascending order.
func AllCaps() []Cap {
	return []Cap{
		CapIRQChip,
		CapHLT,
		CapUserMemory,
		CapSetTSSAddr,
		CapExtCPUID,
		CapNrVCPUs,
		CapNrMemslots,
		CapPIT,
		CapSyncMMU,
		CapIRQFD,
		CapPIT2,
		CapSetIdentityMapAddr,
		CapAdjustClock,
		CapMaxVCPUs,
		CapCheckExtensionVM,
		CapImmediateExit,
	}
}

func (c Cap) String() string {
	if s, ok := capNames[c]; ok {
		return s
	}

	return fmt.Sprintf("Cap(%d)", int(c))
}
