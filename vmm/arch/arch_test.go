//go:build linux

package arch_test

import (
	"os"
	"testing"

	"github.com/c35s/flatvm/vmm/arch"
	"github.com/c35s/flatvm/vmm/memory"
)

func TestSetupMemory(t *testing.T) {
	mem := make([]byte, 1<<20)

	rr := arch.SetupMemory(mem)
	if len(rr) != 1 {
		t.Fatalf("len(rr) %d != 1", len(rr))
	}

	if r := rr[0]; r.Slot != 0 || r.GuestPhysAddr != 0 || r.Size != 1<<20 {
		t.Errorf("bad region: %v", r)
	}
}

func TestMMIOHole(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates more than 3G of address space")
	}

	// too big for a single region
	mem := make([]byte, arch.MMIOHoleAddr+os.Getpagesize())

	rr := arch.SetupMemory(mem)
	if len(rr) != 2 {
		t.Fatalf("len(rr) %d != 2", len(rr))
	}

	if rr[1].GuestPhysAddr != arch.AfterMMIOHoleAddr {
		t.Errorf("second region starts at %#x", rr[1].GuestPhysAddr)
	}

	var m memory.Map
	for _, r := range rr {
		if err := m.Add(r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWindowsDontOverlapMemory(t *testing.T) {
	var m memory.Map
	for _, r := range arch.SetupMemory(make([]byte, 1<<20)) {
		if err := m.Add(r); err != nil {
			t.Fatal(err)
		}
	}

	for _, w := range arch.Windows() {
		if err := m.Reserve(w); err != nil {
			t.Errorf("%s: %v", w.Name, err)
		}
	}
}
