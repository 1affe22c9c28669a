package linux_test

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/c35s/flatvm/os/linux"
	"github.com/google/go-cmp/cmp"
)

func TestMarshalBootParams(t *testing.T) {
	params := linux.BootParams{
		Hdr: linux.SetupHeader{
			Header: linux.SetupHeaderMagic,
		},
	}

	data, err := params.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	if len(data) != linux.ZeropageSize {
		t.Fatalf("boot params byte size %d != %d", len(data), linux.ZeropageSize)
	}

	var zpg linux.BootParams
	if err := zpg.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(&params, &zpg); diff != "" {
		t.Fatalf("boot params differ: %s", diff)
	}
}

func TestUnmarshalBootParamsShort(t *testing.T) {
	data := make([]byte, linux.ZeropageSize-1)
	params := new(linux.BootParams)
	if err := params.UnmarshalBinary(data); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("%+v isn't ErrUnexpectedEOF", err)
	}
}

func TestSetupHeaderSize(t *testing.T) {
	// struct setup_header runs from 0x1f1 to 0x26c
	if linux.SetupHeaderSize != 0x26c-0x1f1 {
		t.Errorf("setup header size %#x != %#x", linux.SetupHeaderSize, 0x26c-0x1f1)
	}
}

func TestBootParamsRoundTrip(t *testing.T) {
	data := make([]byte, linux.ZeropageSize)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}

	var bp linux.BootParams
	if err := bp.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}

	out, err := bp.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(data, out); diff != "" {
		t.Errorf("round trip changed the zeropage (-want +got):\n%s", diff)
	}
}

func TestBootParamsLayout(t *testing.T) {
	data := make([]byte, linux.ZeropageSize)
	data[0x1e8] = 3                                                    // e820_entries
	data[0x1ef] = 0xff                                                 // sentinel
	data[linux.SetupHeaderOffset] = 27                                 // setup_sects
	binary.LittleEndian.PutUint64(data[0x2d0+20:], 0x100000)           // e820_table[1].addr
	binary.LittleEndian.PutUint32(data[0x2d0+20+16:], 1)               // e820_table[1].type
	binary.LittleEndian.PutUint32(data[0xeec-4:], 0xdeadbeef)          // end of eddbuf
	binary.LittleEndian.PutUint32(data[linux.ZeropageSize-4:], 0x1234) // end of _pad9

	var bp linux.BootParams
	if err := bp.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}

	if bp.E820Entries != 3 || bp.Sentinel != 0xff || bp.Hdr.SetupSects != 27 {
		t.Errorf("e820_entries %d, sentinel %#x, setup_sects %d", bp.E820Entries, bp.Sentinel, bp.Hdr.SetupSects)
	}

	if want := (linux.BootE820Entry{Addr: 0x100000, Type: 1}); bp.E820Table[1] != want {
		t.Errorf("e820_table[1] %+v != %+v", bp.E820Table[1], want)
	}

	if got := binary.LittleEndian.Uint32(bp.EDDBuf[len(bp.EDDBuf)-4:]); got != 0xdeadbeef {
		t.Errorf("eddbuf tail %#x != 0xdeadbeef", got)
	}

	if got := binary.LittleEndian.Uint32(bp.Pad9[len(bp.Pad9)-4:]); got != 0x1234 {
		t.Errorf("pad9 tail %#x != 0x1234", got)
	}
}

func TestParseBootParams(t *testing.T) {
	image := make([]byte, 0x400)
	image[linux.SetupHeaderOffset] = 27                                  // setup_sects
	binary.LittleEndian.PutUint32(image[0x202:], linux.SetupHeaderMagic) // header
	binary.LittleEndian.PutUint16(image[0x206:], 0x20f)                  // version
	binary.LittleEndian.PutUint32(image[0x238:], 2048)                   // cmdline_size

	bp, err := linux.ParseBootParams(image)
	if err != nil {
		t.Fatal(err)
	}

	want := linux.SetupHeader{
		SetupSects:  27,
		Header:      linux.SetupHeaderMagic,
		Version:     0x20f,
		CmdlineSize: 2048,
	}

	if diff := cmp.Diff(want, bp.Hdr); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBootParamsNoMagic(t *testing.T) {
	bp, err := linux.ParseBootParams([]byte{1, 2, 3})
	if !errors.Is(err, linux.ErrSetupHeaderMagic) {
		t.Fatalf("error isn't ErrSetupHeaderMagic: %v", err)
	}

	if bp == nil || bp.ScreenInfo[0] != 1 || bp.ScreenInfo[2] != 3 || bp.Hdr != (linux.SetupHeader{}) {
		t.Errorf("short image should parse with zero padding: %+v", bp)
	}
}
