package vmm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/c35s/flatvm/kvm"
)

var (
	ErrDeviceUnavailable  = errors.New("vmm: KVM is not available")
	ErrUnsupportedVersion = errors.New("vmm: unsupported KVM API version")
	ErrMissingCapability  = errors.New("vmm: missing KVM extension")
	ErrResourceExhausted  = errors.New("vmm: resource exhausted")
	ErrConfiguration      = errors.New("vmm: invalid configuration")
	ErrRegisterSetup      = errors.New("vmm: register setup failed")
	ErrImageLoad          = errors.New("vmm: image load failed")
	ErrRun                = errors.New("vmm: run failed")
	ErrUnhandledExit      = errors.New("vmm: unhandled exit")
)

// ExitError describes a vmexit the run loop can't handle. It unwraps to
// ErrUnhandledExit.
type ExitError struct {
	Reason kvm.Exit

	// IO is set if the exit was port io to an unemulated port.
	IO *PortIO

	// RIP and Inst locate the guest when it exited. Inst is empty if the
	// instruction couldn't be read or decoded.
	RIP  uint64
	Inst string
}

func (e *ExitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %v (%d)", ErrUnhandledExit, e.Reason, uint32(e.Reason))

	if e.IO != nil {
		fmt.Fprintf(&b, " port %#x %v size %d count %d", e.IO.Port, e.IO.Direction, e.IO.Size, e.IO.Count)
	}

	fmt.Fprintf(&b, " at rip %#x", e.RIP)
	if e.Inst != "" {
		fmt.Fprintf(&b, " (%s)", e.Inst)
	}

	return b.String()
}

func (e *ExitError) Unwrap() error {
	return ErrUnhandledExit
}
