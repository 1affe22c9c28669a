package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/c35s/flatvm/config"
	"github.com/c35s/flatvm/os/linux"
	"github.com/c35s/flatvm/vmm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

type runFlags struct {
	kernel     string
	memSizeMiB int
	lockMemory bool
	serialOut  string
}

func newRunCmd(opts *options) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot a kernel and run it until it shuts down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.apply(cmd, opts.cfg)
			if err != nil {
				return err
			}

			return runVM(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.kernel, "kernel", "", "load the kernel image from `path` or URL")
	flags.IntVar(&f.memSizeMiB, "mem", config.DefaultMemSizeMiB, "set the VM's memory size in MiB")
	flags.BoolVar(&f.lockMemory, "lock-memory", false, "lock the VM's memory into RAM")
	flags.StringVar(&f.serialOut, "serial-out", config.DefaultSerialOut, "write serial output to stdout, stderr, or `file`")

	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (f *runFlags) apply(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()

	if flags.Changed("kernel") {
		cfg.Kernel = f.kernel
	}

	if flags.Changed("mem") {
		cfg.MemSizeMiB = f.memSizeMiB
	}

	if flags.Changed("lock-memory") {
		cfg.LockMemory = f.lockMemory
	}

	if flags.Changed("serial-out") {
		cfg.SerialOut = f.serialOut
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if cfg.Kernel == "" {
		return cfg, errors.New("no kernel: use --kernel or set kernel in the config file")
	}

	return cfg, nil
}

func runVM(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	var progress io.Writer
	if term.IsTerminal(int(os.Stderr.Fd())) {
		progress = stderr
	}

	kernel, err := readURL(ctx, cfg.Kernel, progress)
	if err != nil {
		return err
	}

	serial, err := openSerial(cfg.SerialOut)
	if err != nil {
		return err
	}

	defer serial.Close()

	// the vcpu writes serial output through a pipe so a failing output
	// stops the guest
	pr, pw := io.Pipe()

	m, err := vmm.New(vmm.Config{
		MemSize:    cfg.MemSize(),
		LockMemory: cfg.LockMemory,
		Loader:     &linux.Loader{Kernel: kernel},
		Serial:     pw,
	})

	if err != nil {
		return err
	}

	defer m.Close()

	// the guest can leave the terminal in any state
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		old, err := term.GetState(fd)
		if err != nil {
			return err
		}

		defer term.Restore(fd, old)
	}

	sigctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	err = runGuest(sigctx, m.Run, pr, pw, serial)
	if sigctx.Err() != nil && ctx.Err() == nil {
		slog.Info("interrupted, guest stopped")
	}

	slog.Debug("guest stopped", "state", m.State())
	return err
}

// runGuest runs the guest and copies its serial output from pr to out until
// both are done. If copying fails, the guest's next serial write fails too.
func runGuest(ctx context.Context, run func(context.Context) error, pr *io.PipeReader, pw *io.PipeWriter, out io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer pw.Close()
		return run(gctx)
	})

	g.Go(func() error {
		if _, err := io.Copy(out, pr); err != nil {
			pr.CloseWithError(err)
			return fmt.Errorf("serial output: %w", err)
		}

		return nil
	})

	return g.Wait()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// openSerial opens the serial output named by s.
func openSerial(s string) (io.WriteCloser, error) {
	switch s {
	case "stdout":
		return nopCloser{os.Stdout}, nil

	case "stderr":
		return nopCloser{os.Stderr}, nil
	}

	f, err := os.OpenFile(s, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open serial output: %w", err)
	}

	return f, nil
}
