package vmm

import "github.com/c35s/flatvm/kvm"

// ExitEvent is a decoded vmexit: PortIO, Shutdown, or OtherExit.
type ExitEvent interface {
	isExitEvent()
}

// Direction is the direction of a port io access, from the guest's side.
type Direction uint8

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}

	return "in"
}

// PortIO is an in or out instruction. The data moved lives in the vcpu's run
// structure at DataOffset.
type PortIO struct {
	Port       uint16
	Direction  Direction
	Size       uint8
	Count      uint32
	DataOffset uint64
}

// Len is the number of data bytes moved.
func (p PortIO) Len() int {
	return int(p.Size) * int(p.Count)
}

// Shutdown means the guest triple faulted or reset. Linux does this to reboot
// when it has nothing else to do, so it's treated as a clean exit.
type Shutdown struct{}

// OtherExit is any exit the run loop doesn't model.
type OtherExit struct {
	Reason kvm.Exit
}

func (PortIO) isExitEvent()    {}
func (Shutdown) isExitEvent()  {}
func (OtherExit) isExitEvent() {}

// DecodeExit decodes the exit described by run.
func DecodeExit(run *kvm.RunData) ExitEvent {
	switch reason := run.ExitReason(); reason {
	case kvm.ExitIO:
		d := run.IOExitData()
		dir := In
		if d.IsOut {
			dir = Out
		}

		return PortIO{
			Port:       d.Port,
			Direction:  dir,
			Size:       d.Size,
			Count:      d.Count,
			DataOffset: d.Offset,
		}

	case kvm.ExitShutdown:
		return Shutdown{}

	default:
		return OtherExit{Reason: reason}
	}
}
