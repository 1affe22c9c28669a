package memory

import (
	"fmt"
	"slices"
)

// Region is a host buffer registered as guest RAM at GuestPhysAddr.
type Region struct {
	Slot          uint32
	GuestPhysAddr uint64
	Host          []byte
	Size          uint64
	Flags         uint32
}

// End is the first guest physical address after the region.
func (r Region) End() uint64 {
	return r.GuestPhysAddr + r.Size
}

func (r Region) String() string {
	return fmt.Sprintf("slot %d [%#x, %#x)", r.Slot, r.GuestPhysAddr, r.End())
}

// Validate checks the region on its own.
func (r Region) Validate() error {
	switch {
	case r.Size == 0:
		return fmt.Errorf("%w: %v: size is 0", ErrRegion, r)

	case uint64(len(r.Host)) < r.Size:
		return fmt.Errorf("%w: %v: host buffer is %#x bytes", ErrRegion, r, len(r.Host))

	case r.End() < r.GuestPhysAddr:
		return fmt.Errorf("%w: %v: wraps the address space", ErrRegion, r)
	}

	return nil
}

// Window is a reserved range of guest physical addresses that isn't RAM.
type Window struct {
	Name string
	Addr uint64
	Size uint64
}

func overlaps(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}

// Map tracks the regions and reserved windows of one VM. The zero value is an
// empty map.
type Map struct {
	regions  []Region
	reserved []Window
}

// Add records r. It fails if r is invalid, reuses a slot, or overlaps a
// registered region or reserved window.
func (m *Map) Add(r Region) error {
	if err := m.Check(r); err != nil {
		return err
	}

	m.regions = append(m.regions, r)
	return nil
}

// Check returns the error Add would return for r without recording it.
func (m *Map) Check(r Region) error {
	if err := r.Validate(); err != nil {
		return err
	}

	for _, o := range m.regions {
		if o.Slot == r.Slot {
			return fmt.Errorf("%w: %v", ErrSlotInUse, r)
		}

		if overlaps(r.GuestPhysAddr, r.End(), o.GuestPhysAddr, o.End()) {
			return fmt.Errorf("%w: %v and %v", ErrOverlap, r, o)
		}
	}

	for _, w := range m.reserved {
		if overlaps(r.GuestPhysAddr, r.End(), w.Addr, w.Addr+w.Size) {
			return fmt.Errorf("%w: %v and %s window", ErrOverlap, r, w.Name)
		}
	}

	return nil
}

// Reserve records w. It fails if w overlaps a registered region or another window.
func (m *Map) Reserve(w Window) error {
	for _, r := range m.regions {
		if overlaps(w.Addr, w.Addr+w.Size, r.GuestPhysAddr, r.End()) {
			return fmt.Errorf("%w: %s window [%#x, %#x) and %v", ErrOverlap, w.Name, w.Addr, w.Addr+w.Size, r)
		}
	}

	for _, o := range m.reserved {
		if overlaps(w.Addr, w.Addr+w.Size, o.Addr, o.Addr+o.Size) {
			return fmt.Errorf("%w: %s and %s windows", ErrOverlap, w.Name, o.Name)
		}
	}

	m.reserved = append(m.reserved, w)
	return nil
}

// Regions returns the registered regions ordered by guest physical address.
func (m *Map) Regions() []Region {
	rr := slices.Clone(m.regions)
	slices.SortFunc(rr, func(a, b Region) int {
		switch {
		case a.GuestPhysAddr < b.GuestPhysAddr:
			return -1
		case a.GuestPhysAddr > b.GuestPhysAddr:
			return 1
		}
		return 0
	})

	return rr
}

// Lookup returns the host bytes backing gpa through the end of its region.
// It returns false if no region contains gpa.
func (m *Map) Lookup(gpa uint64) ([]byte, bool) {
	for _, r := range m.regions {
		if gpa >= r.GuestPhysAddr && gpa < r.End() {
			return r.Host[gpa-r.GuestPhysAddr : r.Size], true
		}
	}

	return nil, false
}
