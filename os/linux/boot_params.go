package linux

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BootParams is the zeropage, struct boot_params. Every byte of the C struct
// has a field here, so an unmarshal/marshal round trip reproduces its input
// exactly. The loader only changes Hdr.
type BootParams struct {
	ScreenInfo          [64]byte           // 0x000
	APMBIOSInfo         [20]byte           // 0x040
	Pad2                [4]byte            // 0x054
	TbootAddr           uint64             // 0x058
	ISTInfo             [16]byte           // 0x060
	ACPIRSDPAddr        uint64             // 0x070
	Pad3                [8]byte            // 0x078
	HD0Info             [16]byte           // 0x080 obsolete
	HD1Info             [16]byte           // 0x090 obsolete
	SysDescTable        [16]byte           // 0x0a0 obsolete
	OLPCOFWHeader       [16]byte           // 0x0b0
	ExtRamdiskImage     uint32             // 0x0c0
	ExtRamdiskSize      uint32             // 0x0c4
	ExtCmdLinePtr       uint32             // 0x0c8
	Pad4                [112]byte          // 0x0cc
	CCBlobAddress       uint32             // 0x13c
	EDIDInfo            [128]byte          // 0x140
	EFIInfo             [32]byte           // 0x1c0
	AltMemK             uint32             // 0x1e0
	Scratch             uint32             // 0x1e4
	E820Entries         uint8              // 0x1e8
	EDDBufEntries       uint8              // 0x1e9
	EDDMBRSigBufEntries uint8              // 0x1ea
	KbdStatus           uint8              // 0x1eb
	SecureBoot          uint8              // 0x1ec
	Pad5                [2]byte            // 0x1ed
	Sentinel            uint8              // 0x1ef
	Pad6                uint8              // 0x1f0
	Hdr                 SetupHeader        // 0x1f1
	Pad7                [36]byte           // 0x26c
	EDDMBRSigBuffer     [16]uint32         // 0x290
	E820Table           [128]BootE820Entry // 0x2d0
	Pad8                [48]byte           // 0xcd0
	EDDBuf              [492]byte          // 0xd00
	Pad9                [276]byte          // 0xeec
}

// BootE820Entry is struct boot_e820_entry, one E820 memory map entry.
type BootE820Entry struct {
	Addr uint64 // __u64 addr
	Size uint64 // __u64 size
	Type uint32 // __u32 type
}

// SetupHeader is the part of the zeropage that explains how to boot the kernel. A boot
// loader usually copies the SetupHeader from of the kernel image's BootParams, customizes
// it, and copies it to the zeropage in memory. SetupHeader corresponds to struct
// setup_header, but they don't have exactly the same layout because the C struct is
// packed.
type SetupHeader struct {
	SetupSects          uint8  // __u8 setup_sects
	RootFlags           uint16 // __u16 root_flags
	Syssize             uint32 // __u32 syssize
	RamSize             uint16 // __u16 ram_size
	VidMode             uint16 // __u16 vid_mode
	RootDev             uint16 // __u16 root_dev
	BootFlag            uint16 // __u16 boot_flag
	Jump                uint16 // __u16 jump
	Header              uint32 // __u32 header
	Version             uint16 // __u16 version
	RealmodeSwtch       uint32 // __u32 realmode_swtch
	StartSysSeg         uint16 // __u16 start_sys_seg
	KernelVersion       uint16 // __u16 kernel_version
	TypeOfLoader        uint8  // __u8 type_of_loader
	Loadflags           uint8  // __u8 loadflags
	SetupMoveSize       uint16 // __u16 setup_move_size
	Code32Start         uint32 // __u32 code32_start
	RamdiskImage        uint32 // __u32 ramdisk_image
	RamdiskSize         uint32 // __u32 ramdisk_size
	BootsectKludge      uint32 // __u32 bootsect_kludge
	HeapEndPtr          uint16 // __u16 heap_end_ptr
	ExtLoaderVer        uint8  // __u8 ext_loader_ver
	ExtLoaderType       uint8  // __u8 ext_loader_type
	CmdLinePtr          uint32 // __u32 cmd_line_ptr
	InitrdAddrMax       uint32 // __u32 initrd_addr_max
	KernelAlignment     uint32 // __u32 kernel_alignment
	RelocatableKernel   uint8  // __u8 relocatable_kernel
	MinAlignment        uint8  // __u8 min_alignment
	Xloadflags          uint16 // __u16 xloadflags
	CmdlineSize         uint32 // __u32 cmdline_size
	HardwareSubarch     uint32 // __u32 hardware_subarch
	HardwareSubarchData uint64 // __u64 hardware_subarch_data
	PayloadOffset       uint32 // __u32 payload_offset
	PayloadLength       uint32 // __u32 payload_length
	SetupData           uint64 // __u64 setup_data
	PrefAddress         uint64 // __u64 pref_address
	InitSize            uint32 // __u32 init_size
	HandoverOffset      uint32 // __u32 handover_offset
	KernelInfoOffset    uint32 // __u32 kernel_info_offset
}

// SetupHeaderMagic is the required value of the SetupHeader.Header field.
const SetupHeaderMagic = 0x53726448 // "HdrS"

const (
	// ZeropageSize is the size of the zeropage in bytes (4K).
	ZeropageSize = 0x1000

	// SetupHeaderOffset is the offset of the SetupHeader in the zeropage and
	// in the kernel image.
	SetupHeaderOffset = 0x1f1
)

// SetupHeaderSize is the packed size of struct setup_header.
var SetupHeaderSize = binary.Size(SetupHeader{})

var ErrSetupHeaderMagic = errors.New("linux: setup header: bad magic")

// ParseBootParams parses the zeropage at the start of a kernel image. Bytes
// past the end of image read as zero. If the setup header doesn't carry
// SetupHeaderMagic, ParseBootParams returns the parsed params along with
// ErrSetupHeaderMagic.
func ParseBootParams(image []byte) (*BootParams, error) {
	b := make([]byte, ZeropageSize)
	copy(b, image)

	bp := new(BootParams)
	if err := bp.UnmarshalBinary(b); err != nil {
		return nil, err
	}

	if bp.Hdr.Header != SetupHeaderMagic {
		return bp, fmt.Errorf("%w: %#x != %#x", ErrSetupHeaderMagic, bp.Hdr.Header, SetupHeaderMagic)
	}

	return bp, nil
}

// MarshalBinary marshals the params into the layout of struct boot_params.
// The result is always ZeropageSize bytes.
func (bp *BootParams) MarshalBinary() (data []byte, err error) {
	b := new(bytes.Buffer)
	if err := binary.Write(b, binary.LittleEndian, bp); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalBinary unmarshals a packed struct boot_params into the params.
// It returns io.ErrUnexpectedEOF if the given data is too short.
func (bp *BootParams) UnmarshalBinary(data []byte) error {
	if len(data) < ZeropageSize {
		return io.ErrUnexpectedEOF
	}

	return binary.Read(bytes.NewReader(data[:ZeropageSize]), binary.LittleEndian, bp)
}
