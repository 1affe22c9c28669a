//go:build linux

package vmm

import (
	"errors"
	"fmt"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm/arch"
)

// NumCPU is the number of vcpus every VM gets.
const NumCPU = 1

// Probe returns an error if h doesn't speak the stable API, lacks a required
// extension, or can't run NumCPU vcpus.
func Probe(h Hypervisor) error {
	if err := arch.ValidateKVM(h); err != nil {
		switch {
		case errors.Is(err, arch.ErrUnstableAPI):
			return fmt.Errorf("%w: %w", ErrUnsupportedVersion, err)

		case errors.Is(err, arch.ErrMissingCaps):
			return fmt.Errorf("%w: %w", ErrMissingCapability, err)

		default:
			return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}

	// KVM_CAP_MAX_VCPUS is 0 on kernels that predate it
	max, err := h.CheckExtension(kvm.CapMaxVCPUs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if max == 0 {
		if max, err = h.CheckExtension(kvm.CapNrVCPUs); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
	}

	if NumCPU > max {
		return fmt.Errorf("%w: %d vcpus > max %d", ErrResourceExhausted, NumCPU, max)
	}

	return nil
}
