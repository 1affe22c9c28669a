//go:build linux

package arch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c35s/flatvm/kvm"
)

// Prober answers capability questions about the hypervisor.
type Prober interface {
	APIVersion() (int, error)
	CheckExtension(cap kvm.Cap) (int, error)
}

var (
	ErrUnstableAPI = errors.New("arch: unstable KVM API")
	ErrMissingCaps = errors.New("arch: missing KVM extensions")
)

// requiredCaps are the KVM extensions required for all architectures.
// See archCaps for required arch-specific extensions.
var requiredCaps = []kvm.Cap{
	kvm.CapUserMemory,
	kvm.CapIRQChip,
	kvm.CapImmediateExit,
}

// infoCaps are reported by Preflight but not required.
var infoCaps = []kvm.Cap{
	kvm.CapHLT,
	kvm.CapSetIdentityMapAddr,
	kvm.CapSyncMMU,
	kvm.CapNrVCPUs,
	kvm.CapMaxVCPUs,
	kvm.CapNrMemslots,
	kvm.CapCheckExtensionVM,
}

// ValidateKVM returns an error if KVM doesn't speak the stable API or doesn't
// support the required extensions. The error names every missing extension.
func ValidateKVM(p Prober) error {
	version, err := p.APIVersion()
	if err != nil {
		return err
	}

	if version != kvm.StableAPIVersion {
		return fmt.Errorf("%w: %d != %d", ErrUnstableAPI, version, kvm.StableAPIVersion)
	}

	caps := append([]kvm.Cap(nil), requiredCaps...)
	caps = append(caps, archCaps...)

	var missing []kvm.Cap
	for _, cap := range caps {
		val, err := p.CheckExtension(cap)
		if err != nil {
			return err
		}

		if val < 1 {
			missing = append(missing, cap)
		}
	}

	if len(missing) > 0 {
		var names []string
		for _, cap := range missing {
			names = append(names, cap.String())
		}

		return fmt.Errorf("%w: %s", ErrMissingCaps, strings.Join(names, ","))
	}

	return nil
}

// Notice is one line of a preflight report.
type Notice struct {
	Severity slog.Level
	Name     string // extension name or "api_version"
	Value    int
	Desc     string
}

func (n Notice) String() string {
	return fmt.Sprintf("%s %s=%d: %s", n.Severity, n.Name, n.Value, n.Desc)
}

// Preflight checks every required and informational extension and reports each
// as a Notice. Missing required extensions are errors; everything else is info.
// Only a failing control call returns an error.
func Preflight(p Prober) ([]Notice, error) {
	version, err := p.APIVersion()
	if err != nil {
		return nil, fmt.Errorf("get API version: %w", err)
	}

	v := Notice{Severity: slog.LevelInfo, Name: "api_version", Value: version, Desc: "stable"}
	if version != kvm.StableAPIVersion {
		v.Severity = slog.LevelError
		v.Desc = fmt.Sprintf("unstable, want %d", kvm.StableAPIVersion)
	}

	nn := []Notice{v}
	required := append(append([]kvm.Cap(nil), requiredCaps...), archCaps...)

	for _, cap := range required {
		val, err := p.CheckExtension(cap)
		if err != nil {
			return nil, fmt.Errorf("check %v: %w", cap, err)
		}

		n := Notice{Severity: slog.LevelInfo, Name: cap.String(), Value: val, Desc: "required, available"}
		if val < 1 {
			n.Severity = slog.LevelError
			n.Desc = "required, missing"
		}

		nn = append(nn, n)
	}

	for _, cap := range infoCaps {
		val, err := p.CheckExtension(cap)
		if err != nil {
			return nil, fmt.Errorf("check %v: %w", cap, err)
		}

		nn = append(nn, Notice{Severity: slog.LevelInfo, Name: cap.String(), Value: val, Desc: "optional"})
	}

	return nn, nil
}
