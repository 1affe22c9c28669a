package kvm

// ioctl request numbers
const (
	kGetAPIVersion       = 0xae00
	kCreateVM            = 0xae01
	kCheckExtension      = 0xae03
	kGetVCPUMmapSize     = 0xae04
	kGetSupportedCPUID   = 0xc008ae05
	kCreateVCPU          = 0xae41
	kSetUserMemoryRegion = 0x4020ae46
	kSetTSSAddr          = 0xae47
	kSetIdentityMapAddr  = 0x4008ae48
	kCreateIRQChip       = 0xae60
	kCreatePIT2          = 0x4040ae77
	kRun                 = 0xae80
	kGetRegs             = 0x8090ae81
	kSetRegs             = 0x4090ae82
	kGetSregs            = 0x8138ae83
	kSetSregs            = 0x4138ae84
	kSetCPUID2           = 0x4008ae90
)
