package main

import (
	"fmt"
	"log/slog"

	"github.com/c35s/flatvm/kvm"
	"github.com/c35s/flatvm/vmm"
	"github.com/c35s/flatvm/vmm/arch"
	"github.com/spf13/cobra"
)

func newPreflightCmd(opts *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check that KVM can run flatvm guests",
		Long: `preflight opens /dev/kvm and reports its API version and every extension
flatvm requires or would use. It fails if anything required is missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := vmm.Open()
			if err != nil {
				return err
			}

			defer h.Close()

			if all {
				return printCaps(cmd, h)
			}

			nn, err := arch.Preflight(h)
			if err != nil {
				return err
			}

			var failed int
			for _, n := range nn {
				fmt.Fprintln(cmd.OutOrStdout(), n)
				if n.Severity >= slog.LevelError {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("preflight: %d checks failed", failed)
			}

			return vmm.Probe(h)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "print the value of every known extension instead")
	return cmd
}

// printCaps prints the API version and the value of every extension kvm knows.
func printCaps(cmd *cobra.Command, p arch.Prober) error {
	version, err := p.APIVersion()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "KVM API version: %d\n", version)

	fmt.Fprintln(w, "\n# extensions")
	for _, c := range kvm.AllCaps() {
		v, err := p.CheckExtension(c)
		if err != nil {
			return fmt.Errorf("check %v: %w", c, err)
		}

		fmt.Fprintf(w, "%v: %v\n", c, v)
	}

	return nil
}
